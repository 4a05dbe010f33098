// Package iokit provides helpers for building binary sequences.
package iokit

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// NewPayloadBuilder instantiates a new PayloadBuilder.
func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{}
}

// PayloadBuilder helps build payloads and other binary sequences
// by implementing the "builder pattern".
//
// The first error encountered is remembered and all subsequent
// method calls become no-ops. The error is reported by Build.
//
// Integers are written in little endian byte order.
type PayloadBuilder struct {
	buf []byte
	err error
}

// Len returns the number of bytes written so far.
func (o *PayloadBuilder) Len() int {
	return len(o.buf)
}

// Uint16 writes an unsigned 16-bit integer to the payload.
func (o *PayloadBuilder) Uint16(u uint16) *PayloadBuilder {
	b := make([]byte, 2)

	binary.LittleEndian.PutUint16(b, u)

	return o.Bytes(b)
}

// Uint32 writes an unsigned 32-bit integer to the payload.
func (o *PayloadBuilder) Uint32(u uint32) *PayloadBuilder {
	b := make([]byte, 4)

	binary.LittleEndian.PutUint32(b, u)

	return o.Bytes(b)
}

// Byter abstracts types that can be represented as a []byte.
type Byter interface {
	// Bytes returns the object as a []byte.
	Bytes() []byte
}

// Pointer writes a raw pointer as a []byte to the payload.
func (o *PayloadBuilder) Pointer(pointer Byter) *PayloadBuilder {
	return o.Bytes(pointer.Bytes())
}

// Bytes writes the specified []byte to the payload.
func (o *PayloadBuilder) Bytes(b []byte) *PayloadBuilder {
	if o.err != nil {
		return o
	}

	o.buf = append(o.buf, b...)

	return o
}

// Byte writes the specified byte to the payload.
func (o *PayloadBuilder) Byte(b byte) *PayloadBuilder {
	return o.Bytes([]byte{b})
}

// String writes the specified string to the payload.
func (o *PayloadBuilder) String(str string) *PayloadBuilder {
	return o.Bytes([]byte(str))
}

// CString writes str followed by a NUL byte.
func (o *PayloadBuilder) CString(str string) *PayloadBuilder {
	return o.String(str).Byte(0)
}

// WideString writes str as UTF-16LE code units. No terminator is
// appended.
func (o *PayloadBuilder) WideString(str string) *PayloadBuilder {
	for _, u := range utf16.Encode([]rune(str)) {
		o.Uint16(u)
	}

	return o
}

// Zeros writes n zero bytes.
func (o *PayloadBuilder) Zeros(n int) *PayloadBuilder {
	if n < 0 {
		return o.fail(fmt.Errorf("cannot write a negative number of zeros (%d)", n))
	}

	return o.Bytes(make([]byte, n))
}

// PadTo writes zeros until the payload is offset bytes long.
// It fails if the payload is already longer than offset.
func (o *PayloadBuilder) PadTo(offset int) *PayloadBuilder {
	if o.err != nil {
		return o
	}

	if len(o.buf) > offset {
		return o.fail(fmt.Errorf("cannot pad to offset 0x%x - payload is already 0x%x bytes",
			offset, len(o.buf)))
	}

	return o.Zeros(offset - len(o.buf))
}

// Align writes zeros until the payload length is a multiple of n.
func (o *PayloadBuilder) Align(n int) *PayloadBuilder {
	if n <= 0 {
		return o.fail(fmt.Errorf("alignment must be positive - got %d", n))
	}

	if rem := len(o.buf) % n; rem != 0 {
		o.Zeros(n - rem)
	}

	return o
}

// RepeatBytes repeatedly writes the specified []byte to the payload.
func (o *PayloadBuilder) RepeatBytes(b []byte, count int) *PayloadBuilder {
	for i := 0; i < count; i++ {
		o.Bytes(b)
	}

	return o
}

func (o *PayloadBuilder) fail(err error) *PayloadBuilder {
	if o.err == nil {
		o.err = err
	}

	return o
}

// Build returns the payload as a []byte, or the first error
// encountered while building it.
func (o *PayloadBuilder) Build() ([]byte, error) {
	if o.err != nil {
		return nil, o.err
	}

	return o.buf, nil
}
