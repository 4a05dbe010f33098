package memory

import (
	"errors"
	"testing"
)

func TestSpace_ReadAt(t *testing.T) {
	var space Space

	err := space.Map(0x2000, []byte("world\x00"))
	if err != nil {
		t.Fatal(err)
	}

	err = space.Map(0x1000, []byte("hello\x00"))
	if err != nil {
		t.Fatal(err)
	}

	b := make([]byte, 5)
	err = space.ReadAt(b, 0x2000)
	if err != nil {
		t.Fatal(err)
	}

	if string(b) != "world" {
		t.Fatalf("expected 'world' - got %q", b)
	}

	err = space.ReadAt(b, 0x1003)
	if !errors.Is(err, ErrUnmapped) {
		t.Fatalf("expected ErrUnmapped for read past end of region - got %v", err)
	}

	err = space.ReadAt(b, 0x500)
	if !errors.Is(err, ErrUnmapped) {
		t.Fatalf("expected ErrUnmapped for read before first region - got %v", err)
	}

	err = space.ReadAt(b, 0x9000)
	if !errors.Is(err, ErrUnmapped) {
		t.Fatalf("expected ErrUnmapped for read after last region - got %v", err)
	}
}

func TestSpace_MapRejectsOverlap(t *testing.T) {
	var space Space

	err := space.Map(0x1000, make([]byte, 0x100))
	if err != nil {
		t.Fatal(err)
	}

	err = space.Map(0x10ff, []byte{1})
	if err == nil {
		t.Fatal("expected an overlap error")
	}

	err = space.Map(0x1100, []byte{1})
	if err != nil {
		t.Fatalf("adjacent region should be allowed - %v", err)
	}

	err = space.Map(0x3000, nil)
	if err == nil {
		t.Fatal("expected an error for an empty region")
	}
}

func TestSpace_MapCopiesData(t *testing.T) {
	var space Space

	data := []byte{1, 2, 3}

	err := space.Map(0x10, data)
	if err != nil {
		t.Fatal(err)
	}

	data[0] = 0xff

	a := Accessor{R: &space}

	b, err := a.Bytes(0x10, 1)
	if err != nil {
		t.Fatal(err)
	}

	if b[0] != 1 {
		t.Fatalf("space should not alias the caller's slice - got 0x%x", b[0])
	}
}

func TestAccessor(t *testing.T) {
	var space Space

	pm := PointerMakerForX86_64()

	data := append([]byte{0x34, 0x12, 0x78, 0x56, 0x34, 0x12}, pm.FromUint(0x1122334455667788)...)
	data = append(data, 'W', 'i', 'n', 0, 'k', 0, '3', 0, '2', 0)

	err := space.Map(0x4000, data)
	if err != nil {
		t.Fatal(err)
	}

	a := Accessor{R: &space}

	u16, err := a.Uint16(0x4000)
	if err != nil || u16 != 0x1234 {
		t.Fatalf("expected 0x1234 - got 0x%x (%v)", u16, err)
	}

	u32, err := a.Uint32(0x4002)
	if err != nil || u32 != 0x12345678 {
		t.Fatalf("expected 0x12345678 - got 0x%x (%v)", u32, err)
	}

	ptr, err := a.Pointer(0x4006)
	if err != nil || ptr != 0x1122334455667788 {
		t.Fatalf("expected 0x1122334455667788 - got 0x%x (%v)", ptr, err)
	}

	_, err = a.Pointer(0x4014)
	if !errors.Is(err, ErrUnmapped) {
		t.Fatalf("expected ErrUnmapped for a pointer past the region - got %v", err)
	}

	str, err := a.CString(0x400e, 16)
	if err != nil || string(str) != "Win" {
		t.Fatalf("expected 'Win' - got %q (%v)", str, err)
	}

	wide, err := a.WideString(0x4012, 6)
	if err != nil || wide != "k32" {
		t.Fatalf("expected 'k32' - got %q (%v)", wide, err)
	}

	_, err = a.CString(0x400e, 2)
	if err == nil {
		t.Fatal("expected an error when terminator is beyond max")
	}
}

func TestSpace_WriteAt(t *testing.T) {
	var space Space

	err := space.Map(0x100, make([]byte, 8))
	if err != nil {
		t.Fatal(err)
	}

	err = space.WriteAt([]byte{0xaa, 0xbb}, 0x106)
	if err != nil {
		t.Fatal(err)
	}

	v, err := Accessor{R: &space}.Uint16(0x106)
	if err != nil || v != 0xbbaa {
		t.Fatalf("expected 0xbbaa - got 0x%x (%v)", v, err)
	}

	err = space.WriteAt([]byte{1, 2, 3}, 0x107)
	if !errors.Is(err, ErrUnmapped) {
		t.Fatalf("expected ErrUnmapped - got %v", err)
	}
}
