package memory

import (
	"encoding/binary"
	"fmt"
)

// PointerMakerForX86_64 returns a PointerMaker for x86-64.
func PointerMakerForX86_64() PointerMaker {
	return PointerMaker{
		byteOrder: binary.LittleEndian,
		ptrSize:   8,
	}
}

// PointerMaker encodes and decodes raw pointers for a platform.
type PointerMaker struct {
	byteOrder binary.ByteOrder
	ptrSize   int
}

// FromUint encodes address as a Pointer.
func (o PointerMaker) FromUint(address uint64) Pointer {
	out := make([]byte, o.ptrSize)

	o.byteOrder.PutUint64(out, address)

	return out
}

// Decode reads a pointer from the start of b.
func (o PointerMaker) Decode(b []byte) (uint64, error) {
	if len(b) < o.ptrSize {
		return 0, fmt.Errorf("need %d bytes to decode pointer - got %d", o.ptrSize, len(b))
	}

	return o.byteOrder.Uint64(b), nil
}

// Pointer is a raw, encoded memory address.
type Pointer []byte

// Bytes returns the Pointer as a []byte.
func (o Pointer) Bytes() []byte {
	return o
}
