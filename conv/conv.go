// Package conv converts binary data to and from the textual forms that
// payloads are usually passed around in.
package conv

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// HexArrayToBytes converts hex-encoded text into a []byte. It accepts
// "\x41", "0x41", "41" and C or Go array syntax, and ignores C comments,
// quotes, commas, braces and whitespace. This allows it to parse blobs
// of data mixed with comments, as well as hex strings from the command
// line.
func HexArrayToBytes(source io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read hex data - %w", err)
	}

	text, err := stripComments(raw)
	if err != nil {
		return nil, err
	}

	out := bytes.NewBuffer(nil)
	var pending []byte

	for i := 0; i < len(text); i++ {
		c := text[i]

		if (c == '\\' || c == '0') && len(pending) == 0 && i+1 < len(text) &&
			(text[i+1] == 'x' || text[i+1] == 'X') {
			i++
			continue
		}

		if !isHexChar(c) {
			if len(pending) != 0 {
				return nil, fmt.Errorf("odd number of hex characters before %q at offset %d", c, i)
			}

			continue
		}

		pending = append(pending, c)

		if len(pending) == 2 {
			var decoded [1]byte

			_, err := hex.Decode(decoded[:], pending)
			if err != nil {
				return nil, fmt.Errorf("failed to hex-decode byte - %w", err)
			}

			out.WriteByte(decoded[0])
			pending = pending[:0]
		}
	}

	if len(pending) != 0 {
		return nil, errors.New("input ends with a dangling hex character")
	}

	return out.Bytes(), nil
}

// stripComments removes C line and block comments.
func stripComments(b []byte) ([]byte, error) {
	out := make([]byte, 0, len(b))

	for i := 0; i < len(b); i++ {
		if b[i] != '/' {
			out = append(out, b[i])
			continue
		}

		if i+1 == len(b) {
			return nil, errors.New("input ends with a lone '/'")
		}

		switch b[i+1] {
		case '/':
			end := bytes.IndexByte(b[i:], '\n')
			if end < 0 {
				return out, nil
			}

			i += end
			out = append(out, '\n')
		case '*':
			end := bytes.Index(b[i+2:], []byte("*/"))
			if end < 0 {
				return nil, errors.New("failed to find corresponding '*/' end of comment")
			}

			i += 2 + end + 1
			out = append(out, ' ')
		default:
			return nil, fmt.Errorf("unknown second start of comment char '%c'", b[i+1])
		}
	}

	return out, nil
}

func isHexChar(b byte) bool {
	return (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') || (b >= '0' && b <= '9')
}

// BytesToGoSlice writes b as a Go []byte declaration.
func BytesToGoSlice(b []byte, w io.Writer) error {
	return writeArray(w, "[]byte{", "}", b)
}

// BytesToCArray writes b as a C unsigned char array named name.
func BytesToCArray(name string, b []byte, w io.Writer) error {
	return writeArray(w,
		fmt.Sprintf("unsigned char %s[%d] = {", name, len(b)),
		"};",
		b)
}

const bytesPerLine = 12

func writeArray(w io.Writer, start string, end string, b []byte) error {
	bw := bufio.NewWriter(w)

	bw.WriteString(start)
	bw.WriteByte('\n')

	for i := 0; i < len(b); i += bytesPerLine {
		stop := i + bytesPerLine
		if stop > len(b) {
			stop = len(b)
		}

		strs := make([]string, 0, stop-i)
		for _, c := range b[i:stop] {
			strs = append(strs, fmt.Sprintf("0x%02x", c))
		}

		bw.WriteByte('\t')
		bw.WriteString(strings.Join(strs, ", "))
		bw.WriteString(",\n")
	}

	bw.WriteString(end)
	bw.WriteByte('\n')

	return bw.Flush()
}
