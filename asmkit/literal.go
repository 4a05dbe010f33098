package asmkit

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
)

// Encoding is the in-memory representation of a Literal.
type Encoding int

const (
	// ASCII is single-byte text followed by a NUL byte.
	ASCII Encoding = iota

	// UTF16 is little endian UTF-16 followed by a NUL code unit.
	UTF16
)

func (o Encoding) String() string {
	switch o {
	case ASCII:
		return "ascii"
	case UTF16:
		return "utf16"
	default:
		return fmt.Sprintf("unknown (%d)", int(o))
	}
}

// Literal is a string argument that a payload builds on its stack.
type Literal struct {
	text string
	enc  Encoding
	b    []byte
}

// ASCIIZ creates a NUL-terminated single-byte Literal. text must be
// 7-bit ASCII without NUL bytes.
func ASCIIZ(text string) (Literal, error) {
	for i := 0; i < len(text); i++ {
		switch c := text[i]; {
		case c == 0:
			return Literal{}, fmt.Errorf("literal %q contains a NUL byte at index %d", text, i)
		case c >= 0x80:
			return Literal{}, fmt.Errorf("literal %q contains non-ascii byte 0x%02x at index %d", text, c, i)
		}
	}

	return Literal{
		text: text,
		enc:  ASCII,
		b:    append([]byte(text), 0),
	}, nil
}

// UTF16Z creates a NUL-terminated UTF-16LE Literal.
func UTF16Z(text string) (Literal, error) {
	if strings.ContainsRune(text, 0) {
		return Literal{}, fmt.Errorf("literal %q contains a NUL character", text)
	}

	units := utf16.Encode([]rune(text))

	b := make([]byte, (len(units)+1)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[i*2:], u)
	}

	return Literal{
		text: text,
		enc:  UTF16,
		b:    b,
	}, nil
}

// NewLiteral creates a Literal of the specified encoding.
func NewLiteral(text string, enc Encoding) (Literal, error) {
	switch enc {
	case ASCII:
		return ASCIIZ(text)
	case UTF16:
		return UTF16Z(text)
	default:
		return Literal{}, fmt.Errorf("unsupported literal encoding: %s", enc)
	}
}

func (o Literal) Text() string {
	return o.text
}

func (o Literal) Encoding() Encoding {
	return o.enc
}

// Bytes returns the encoded literal, terminator included.
func (o Literal) Bytes() []byte {
	cp := make([]byte, len(o.b))
	copy(cp, o.b)

	return cp
}

// Len returns the encoded length, terminator included.
func (o Literal) Len() int {
	return len(o.b)
}

// IsZero reports whether the Literal was never initialized.
func (o Literal) IsZero() bool {
	return o.b == nil
}

func (o Literal) String() string {
	return fmt.Sprintf("%s %q", o.enc, o.text)
}

// stackStores returns the instructions that write b to [rsp+offset].
// Stores are as wide as possible: dwords, then a word, then a byte.
func stackStores(b []byte, offset int) []string {
	var lines []string

	for i := 0; i < len(b); {
		disp := offset + i

		switch remaining := len(b) - i; {
		case remaining >= 4:
			lines = append(lines, fmt.Sprintf("mov dword [rsp+0x%02X], 0x%08X",
				disp, binary.LittleEndian.Uint32(b[i:])))
			i += 4
		case remaining >= 2:
			lines = append(lines, fmt.Sprintf("mov word [rsp+0x%02X], 0x%04X",
				disp, binary.LittleEndian.Uint16(b[i:])))
			i += 2
		default:
			lines = append(lines, fmt.Sprintf("mov byte [rsp+0x%02X], 0x%02X",
				disp, b[i]))
			i++
		}
	}

	return lines
}
