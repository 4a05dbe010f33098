// Package asmtest provides an in-process stand-in for an assembler
// toolchain so that code depending on asmkit.Toolchain can be tested
// on machines without NASM.
//
// Toolchain only encodes the instruction forms that carry substitution
// sites (32-bit register immediate loads and immediate stores relative
// to rsp) plus ret. Every other instruction becomes a single nop, so
// the output has the same site-bearing instructions as real NASM
// output but is not a working payload.
package asmtest

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gitlab.com/hashcall/hashcall/asmkit"
)

var (
	immRegLoad = regexp.MustCompile(`^mov\s+(e[a-d]x|e[sd]i|r(?:8|9|1[0-5])d)\s*,\s*(\S+)$`)
	immStore   = regexp.MustCompile(`^mov\s+(dword|word|byte)\s*\[\s*rsp\s*(?:\+\s*(\S+?)\s*)?\]\s*,\s*(\S+)$`)
	label      = regexp.MustCompile(`^\.?[A-Za-z_][A-Za-z0-9_.]*:$`)
)

var regNumbers = map[string]byte{
	"eax": 0, "ecx": 1, "edx": 2, "ebx": 3, "esi": 6, "edi": 7,
	"r8d": 8, "r9d": 9, "r10d": 10, "r11d": 11,
	"r12d": 12, "r13d": 13, "r14d": 14, "r15d": 15,
}

// Toolchain is a fake asmkit.Toolchain.
type Toolchain struct {
	// Unavailable makes AssembleFile fail with
	// asmkit.ErrToolchainUnavailable.
	Unavailable bool

	// SourcePaths records the path of every assembled file.
	SourcePaths []string

	// Sources records the contents of every assembled file.
	Sources []string
}

// AssembleFile implements asmkit.Toolchain. A "%error" directive in
// the source produces an *asmkit.AssemblyError, like it does in NASM.
func (o *Toolchain) AssembleFile(ctx context.Context, sourcePath string) ([]byte, error) {
	o.SourcePaths = append(o.SourcePaths, sourcePath)

	if o.Unavailable {
		return nil, fmt.Errorf("fake toolchain is disabled - %w", asmkit.ErrToolchainUnavailable)
	}

	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("fake toolchain did not run - %w", err)
	}

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, err
	}

	o.Sources = append(o.Sources, string(source))

	raw, err := Assemble(string(source))
	if err != nil {
		return nil, &asmkit.AssemblyError{
			Diagnostics: fmt.Sprintf("%s:%s", filepath.Base(sourcePath), err),
			ExitCode:    1,
		}
	}

	return raw, nil
}

// Assemble encodes source the way Toolchain does.
func Assemble(source string) ([]byte, error) {
	var out []byte

	for i, line := range strings.Split(source, "\n") {
		lineNum := i + 1

		if semi := strings.IndexByte(line, ';'); semi >= 0 {
			line = line[:semi]
		}

		line = strings.ToLower(strings.TrimSpace(line))

		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "%error"):
			return nil, fmt.Errorf("%d: error: %s", lineNum,
				strings.TrimSpace(strings.TrimPrefix(line, "%error")))
		case strings.HasPrefix(line, "bits "),
			strings.HasPrefix(line, "global "),
			strings.HasPrefix(line, "default "),
			strings.HasPrefix(line, "section "),
			label.MatchString(line):
			continue
		case line == "ret":
			out = append(out, 0xc3)
			continue
		}

		if m := immRegLoad.FindStringSubmatch(line); m != nil {
			imm, err := parseImm(m[2], 32)
			if err != nil {
				// Not an immediate (e.g., "mov eax, [rbx]").
				out = append(out, 0x90)
				continue
			}

			reg := regNumbers[m[1]]
			if reg >= 8 {
				out = append(out, 0x41)
			}

			out = append(out, 0xb8+reg&7)
			out = binary.LittleEndian.AppendUint32(out, uint32(imm))

			continue
		}

		if m := immStore.FindStringSubmatch(line); m != nil {
			disp := uint64(0)

			if m[2] != "" {
				var err error
				disp, err = parseImm(m[2], 31)
				if err != nil {
					return nil, fmt.Errorf("%d: error: invalid displacement %q", lineNum, m[2])
				}
			}

			var opcode []byte
			var immBits int

			switch m[1] {
			case "dword":
				opcode, immBits = []byte{0xc7}, 32
			case "word":
				opcode, immBits = []byte{0x66, 0xc7}, 16
			default:
				opcode, immBits = []byte{0xc6}, 8
			}

			imm, err := parseImm(m[3], immBits)
			if err != nil {
				return nil, fmt.Errorf("%d: error: invalid immediate %q", lineNum, m[3])
			}

			out = append(out, opcode...)

			switch {
			case disp == 0:
				out = append(out, 0x04, 0x24)
			case disp <= 0x7f:
				out = append(out, 0x44, 0x24, byte(disp))
			default:
				out = append(out, 0x84, 0x24)
				out = binary.LittleEndian.AppendUint32(out, uint32(disp))
			}

			switch immBits {
			case 32:
				out = binary.LittleEndian.AppendUint32(out, uint32(imm))
			case 16:
				out = binary.LittleEndian.AppendUint16(out, uint16(imm))
			default:
				out = append(out, byte(imm))
			}

			continue
		}

		out = append(out, 0x90)
	}

	return out, nil
}

func parseImm(s string, bits int) (uint64, error) {
	return strconv.ParseUint(s, 0, bits)
}
