package asmkit

import (
	"fmt"
	"io"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/x86/x86asm"
)

const (
	SkipSyntax  DisassemblySyntax = ""
	ATTSyntax   DisassemblySyntax = "att"
	GoSyntax    DisassemblySyntax = "go"
	IntelSyntax DisassemblySyntax = "intel"
)

type DisassemblySyntax string

// DisassemblerConfig configures a Disassembler.
type DisassemblerConfig struct {
	// Src is optional. When set, it is read in full by NewDisassembler
	// and its instructions are iterated using Next.
	Src io.Reader

	// Syntax is the assembly syntax of Inst.Assembly. SkipSyntax
	// leaves Inst.Assembly empty.
	Syntax DisassemblySyntax

	// ArchConfig is either an X86Config or an ARMConfig.
	ArchConfig interface{}
}

type X86Config struct {
	Bits int
}

type ARMConfig struct {
	Mode armasm.Mode
}

// NewDisassembler creates a Disassembler for the configured architecture.
func NewDisassembler(config DisassemblerConfig) (*Disassembler, error) {
	var d *Disassembler

	switch assertedConfig := config.ArchConfig.(type) {
	case ARMConfig:
		var disassemblyFn func(inst armasm.Inst) string
		switch config.Syntax {
		case SkipSyntax:
			// Do nothing.
		case ATTSyntax:
			disassemblyFn = armasm.GNUSyntax
		default:
			return nil, fmt.Errorf("unsupported syntax type for arm: %q", config.Syntax)
		}

		d = &Disassembler{
			decodeFn: func(remaining []byte) (Inst, error) {
				armInst, err := armasm.Decode(remaining, assertedConfig.Mode)
				if err != nil {
					return Inst{}, err
				}

				var disassembly string
				if disassemblyFn != nil {
					disassembly = disassemblyFn(armInst)
				}

				return Inst{
					Bin:      copySlice(remaining, armInst.Len),
					Len:      armInst.Len,
					Assembly: disassembly,
					Inst:     armInst,
				}, nil
			},
		}
	case X86Config:
		switch assertedConfig.Bits {
		case 16, 32, 64:
		default:
			return nil, fmt.Errorf("unsupported x86 mode: %d bits", assertedConfig.Bits)
		}

		var disassemblyFn func(inst x86asm.Inst) string
		switch config.Syntax {
		case SkipSyntax:
			// Do nothing.
		case ATTSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.GNUSyntax(inst, 0, nil)
			}
		case GoSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.GoSyntax(inst, 0, nil)
			}
		case IntelSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.IntelSyntax(inst, 0, nil)
			}
		default:
			return nil, fmt.Errorf("unsupported syntax type for x86: %q", config.Syntax)
		}

		d = &Disassembler{
			decodeFn: func(remaining []byte) (Inst, error) {
				x86Inst, err := x86asm.Decode(remaining, assertedConfig.Bits)
				if err != nil {
					return Inst{}, err
				}

				var disassembly string
				if disassemblyFn != nil {
					disassembly = disassemblyFn(x86Inst)
				}

				return Inst{
					Bin:      copySlice(remaining, x86Inst.Len),
					Len:      x86Inst.Len,
					Assembly: disassembly,
					Inst:     x86Inst,
				}, nil
			},
		}
	default:
		return nil, fmt.Errorf("unsupported config type: %T", assertedConfig)
	}

	if config.Src != nil {
		src, err := io.ReadAll(config.Src)
		if err != nil {
			return nil, fmt.Errorf("failed to read instructions from source - %w", err)
		}

		d.src = src
	}

	return d, nil
}

func copySlice(src []byte, numBytes int) []byte {
	cp := make([]byte, numBytes)

	copy(cp, src[0:numBytes])

	return cp
}

// Disassembler decodes machine code one instruction at a time.
type Disassembler struct {
	decodeFn func(remaining []byte) (Inst, error)
	src      []byte
	index    int
	inst     Inst
	err      error
}

// Next decodes the next instruction from DisassemblerConfig.Src.
// It returns false when the source is exhausted or an error occurs,
// in which case Err reports the error.
func (o *Disassembler) Next() bool {
	if o.err != nil || isDone(o.src, o.index) {
		return false
	}

	inst, err := o.decodeFn(o.src[o.index:])
	if err != nil {
		o.err = fmt.Errorf("failed to decode instruction at offset %d - %w - remaining data: 0x%x",
			o.index, err, o.src[o.index:])
		return false
	}

	inst.Index = o.index
	o.inst = inst
	o.index += inst.Len

	return true
}

// Inst returns the instruction decoded by the last call to Next.
func (o *Disassembler) Inst() Inst {
	return o.inst
}

// Err returns the error that stopped Next, if any.
func (o *Disassembler) Err() error {
	return o.err
}

// All decodes every instruction in rawInstructions, calling onDecodeFn
// for each one.
func (o *Disassembler) All(rawInstructions []byte, onDecodeFn func(Inst) error) error {
	index := 0

	for {
		if isDone(rawInstructions, index) {
			return nil
		}

		inst, err := o.decodeFn(rawInstructions[index:])
		if err != nil {
			return fmt.Errorf("failed to decode instruction at offset %d - %w - remaining data: 0x%x",
				index, err, rawInstructions[index:])
		}

		inst.Index = index

		err = onDecodeFn(inst)
		if err != nil {
			return fmt.Errorf("on decode function failed for instruction at offset %d (%q) - %w",
				index, inst.Assembly, err)
		}

		index += inst.Len
	}
}

// Decode decodes the first instruction of rawInstructions.
func (o *Disassembler) Decode(rawInstructions []byte) (Inst, error) {
	return o.decodeFn(rawInstructions)
}

// Inst is a decoded instruction.
type Inst struct {
	// Bin is the instruction's machine code.
	Bin []byte `json:"bin"`

	// Len is the length of Bin.
	Len int `json:"len"`

	// Index is the instruction's offset from the start of the code.
	Index int `json:"index"`

	// Assembly is the instruction's text in the configured syntax.
	Assembly string `json:"assembly"`

	// Inst is the architecture-specific instruction
	// (x86asm.Inst or armasm.Inst).
	Inst interface{} `json:"inst"`
}

func isDone(rawInstructions []byte, index int) bool {
	return index >= len(rawInstructions)
}
