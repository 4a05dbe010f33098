package bstruct

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type nested struct {
	Flink uint64
	Blink uint64
}

type outer struct {
	Links   nested
	DllBase uint64
	Size    uint32
	Pad     [4]byte
}

func TestToBytes_Nested(t *testing.T) {
	b, err := ToBytes(&outer{
		Links:   nested{Flink: 1, Blink: 2},
		DllBase: 3,
		Size:    4,
	}, binary.LittleEndian, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(b) != 0x20 {
		t.Fatalf("expected 0x20 bytes - got 0x%x", len(b))
	}

	if binary.LittleEndian.Uint64(b[8:]) != 2 {
		t.Fatalf("unexpected blink: 0x%x", b[8:16])
	}

	if binary.LittleEndian.Uint32(b[0x18:]) != 4 {
		t.Fatalf("unexpected size: 0x%x", b[0x18:0x1c])
	}
}

func TestToBytes_Unsupported(t *testing.T) {
	_, err := ToBytes(struct{ S string }{S: "nope"}, binary.LittleEndian, nil)
	if err == nil {
		t.Fatal("expected an error for a string field")
	}

	_, err = ToBytes(struct{ hidden uint32 }{}, binary.LittleEndian, nil)
	if err == nil {
		t.Fatal("expected an error for an unexported field")
	}

	_, err = ToBytes(42, binary.LittleEndian, nil)
	if err == nil {
		t.Fatal("expected an error for a non-struct value")
	}

	_, err = ToBytes(nil, binary.LittleEndian, nil)
	if err == nil {
		t.Fatal("expected an error for nil")
	}
}

type customByter uint16

func (o customByter) ToBytes(bo binary.ByteOrder) []byte {
	return []byte{0xff, byte(o)}
}

func TestToBytes_Byter(t *testing.T) {
	b, err := ToBytes(struct {
		A customByter
		B uint8
	}{A: 7, B: 9}, binary.LittleEndian, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(b, []byte{0xff, 7, 9}) {
		t.Fatalf("unexpected bytes: 0x%x", b)
	}
}

func TestToBytes_FieldOffsets(t *testing.T) {
	var offsets []int

	_, err := ToBytes(outer{}, binary.LittleEndian, func(info FieldInfo) error {
		offsets = append(offsets, info.Offset)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	exp := []int{0, 0x10, 0x18, 0x1c}
	if len(offsets) != len(exp) {
		t.Fatalf("expected %v - got %v", exp, offsets)
	}

	for i := range exp {
		if offsets[i] != exp[i] {
			t.Fatalf("expected %v - got %v", exp, offsets)
		}
	}
}
