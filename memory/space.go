// Package memory provides simulated address spaces and pointer encoding
// for modeling how a payload reads process memory.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"unicode/utf16"
)

// ErrUnmapped is returned when a read touches an address that no
// region of a Space covers.
var ErrUnmapped = errors.New("address is not mapped")

// Reader abstracts an address space that can be read at
// arbitrary virtual addresses.
type Reader interface {
	// ReadAt fills p with the bytes starting at addr. Either all
	// of p is filled or an error is returned.
	ReadAt(p []byte, addr uint64) error
}

// Space is a sparse, simulated address space made of non-overlapping
// regions. The zero value is an empty Space.
type Space struct {
	regions []region
}

type region struct {
	addr uint64
	data []byte
}

func (o region) end() uint64 {
	return o.addr + uint64(len(o.data))
}

// Map copies data into a new region starting at addr.
func (o *Space) Map(addr uint64, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot map zero-length region at 0x%x", addr)
	}

	end := addr + uint64(len(data))
	if end < addr {
		return fmt.Errorf("region at 0x%x of %d bytes wraps around the address space",
			addr, len(data))
	}

	for _, r := range o.regions {
		if addr < r.end() && r.addr < end {
			return fmt.Errorf("region 0x%x-0x%x overlaps existing region 0x%x-0x%x",
				addr, end, r.addr, r.end())
		}
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	o.regions = append(o.regions, region{addr: addr, data: cp})

	sort.Slice(o.regions, func(i, j int) bool {
		return o.regions[i].addr < o.regions[j].addr
	})

	return nil
}

// ReadAt implements Reader. A read may not span two regions.
func (o *Space) ReadAt(p []byte, addr uint64) error {
	r, off, err := o.find(addr, len(p))
	if err != nil {
		return err
	}

	copy(p, r.data[off:])

	return nil
}

// WriteAt overwrites mapped memory starting at addr.
func (o *Space) WriteAt(p []byte, addr uint64) error {
	r, off, err := o.find(addr, len(p))
	if err != nil {
		return err
	}

	copy(r.data[off:], p)

	return nil
}

func (o *Space) find(addr uint64, n int) (region, int, error) {
	i := sort.Search(len(o.regions), func(i int) bool {
		return o.regions[i].end() > addr
	})

	if i == len(o.regions) || o.regions[i].addr > addr {
		return region{}, 0, fmt.Errorf("0x%x - %w", addr, ErrUnmapped)
	}

	r := o.regions[i]
	off := int(addr - r.addr)

	if off+n > len(r.data) {
		return region{}, 0, fmt.Errorf("%d bytes at 0x%x run past the end of region 0x%x-0x%x - %w",
			n, addr, r.addr, r.end(), ErrUnmapped)
	}

	return r, off, nil
}

// Accessor provides typed little-endian reads on top of a Reader.
type Accessor struct {
	R Reader
}

func (o Accessor) Uint16(addr uint64) (uint16, error) {
	var b [2]byte

	err := o.R.ReadAt(b[:], addr)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b[:]), nil
}

func (o Accessor) Uint32(addr uint64) (uint32, error) {
	var b [4]byte

	err := o.R.ReadAt(b[:], addr)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b[:]), nil
}

// Pointer reads an x86-64 pointer at addr.
func (o Accessor) Pointer(addr uint64) (uint64, error) {
	pm := PointerMakerForX86_64()

	b := make([]byte, pm.ptrSize)

	err := o.R.ReadAt(b, addr)
	if err != nil {
		return 0, err
	}

	return pm.Decode(b)
}

// Bytes reads n bytes starting at addr.
func (o Accessor) Bytes(addr uint64, n int) ([]byte, error) {
	b := make([]byte, n)

	err := o.R.ReadAt(b, addr)
	if err != nil {
		return nil, err
	}

	return b, nil
}

// CString reads a NUL-terminated byte string one byte at a time.
// The terminator is not included. An error is returned if no
// terminator is found within max bytes.
func (o Accessor) CString(addr uint64, max int) ([]byte, error) {
	var out []byte
	var b [1]byte

	for i := 0; i < max; i++ {
		err := o.R.ReadAt(b[:], addr+uint64(i))
		if err != nil {
			return nil, err
		}

		if b[0] == 0 {
			return out, nil
		}

		out = append(out, b[0])
	}

	return nil, fmt.Errorf("no string terminator found within %d bytes of 0x%x", max, addr)
}

// Wide reads numBytes/2 UTF-16 code units starting at addr.
func (o Accessor) Wide(addr uint64, numBytes int) ([]uint16, error) {
	b, err := o.Bytes(addr, numBytes)
	if err != nil {
		return nil, err
	}

	units := make([]uint16, numBytes/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}

	return units, nil
}

// WideString reads numBytes of UTF-16 and decodes it.
func (o Accessor) WideString(addr uint64, numBytes int) (string, error) {
	units, err := o.Wide(addr, numBytes)
	if err != nil {
		return "", err
	}

	return string(utf16.Decode(units)), nil
}
