package asmkit

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// ErrSiteMissing means a substituted value is not present in the
// assembled machine code.
var ErrSiteMissing = errors.New("substituted value is missing from machine code")

// Verify disassembles raw as x86-64 and checks that:
//
//   - Every hash site is loaded into a 32-bit register as an immediate,
//     in the order the sites were used.
//   - Every literal site's bytes are present at its offset in the stack
//     image produced by the immediate stores to [rsp+disp].
func Verify(raw []byte, sites []Site) error {
	disass, err := NewDisassembler(DisassemblerConfig{
		ArchConfig: X86Config{Bits: 64},
	})
	if err != nil {
		return err
	}

	var immLoads []uint32
	stack := make(map[int64]byte)

	err = disass.All(raw, func(inst Inst) error {
		x86Inst := inst.Inst.(x86asm.Inst)
		if x86Inst.Op != x86asm.MOV {
			return nil
		}

		imm, ok := x86Inst.Args[1].(x86asm.Imm)
		if !ok {
			return nil
		}

		switch dst := x86Inst.Args[0].(type) {
		case x86asm.Reg:
			if dst >= x86asm.EAX && dst <= x86asm.R15L {
				immLoads = append(immLoads, uint32(imm))
			}
		case x86asm.Mem:
			if dst.Base != x86asm.RSP || dst.Index != 0 || dst.Segment != 0 {
				return nil
			}

			v := uint64(imm)
			for i := 0; i < x86Inst.MemBytes; i++ {
				stack[dst.Disp+int64(i)] = byte(v >> (8 * i))
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to disassemble payload - %w", err)
	}

	next := 0

	for _, site := range sites {
		switch site.Kind {
		case HashSite:
			found := false

			for next < len(immLoads) {
				v := immLoads[next]
				next++

				if v == site.Target.Hash() {
					found = true
					break
				}
			}

			if !found {
				return fmt.Errorf("%s: no load of 0x%08x in order - %w",
					site, site.Target.Hash(), ErrSiteMissing)
			}
		case LiteralSite:
			exp := site.Literal.Bytes()
			got := make([]byte, len(exp))

			for i := range exp {
				b, ok := stack[int64(site.Offset+i)]
				if !ok {
					return fmt.Errorf("%s: stack byte rsp+0x%x is never written - %w",
						site, site.Offset+i, ErrSiteMissing)
				}

				got[i] = b
			}

			if !bytes.Equal(got, exp) {
				return fmt.Errorf("%s: stack holds 0x%x - expected 0x%x - %w",
					site, got, exp, ErrSiteMissing)
			}
		default:
			return fmt.Errorf("unsupported site kind: %s", site.Kind)
		}
	}

	return nil
}
