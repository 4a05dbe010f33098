package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gitlab.com/hashcall/hashcall/asmkit"
	"gitlab.com/hashcall/hashcall/packager"
	"golang.org/x/arch/arm/armasm"
)

const (
	x86_32Platform = "x86_32"
	x86_64Platform = "x86_64"
	armPlatform    = "arm"

	prettyFormat      = "pretty"
	jsonVerboseFormat = "jsonv"
)

const dasmUsage = `
  Disassembles machine code read from a file or stdin. If -key is
  specified, the input is an artifact and is unpackaged first.

USAGE
  ` + appName + ` dasm [options] ` + armPlatform + `|` + x86_32Platform + `|` + x86_64Platform + ` [file]

EXAMPLES
  $ printf '\x31\xc0\x40\x89\xc3\xcd\x80' | ` + appName + ` dasm -i raw x86_32
  0000  31c0      xor eax, eax
  0002  40        inc eax
  0003  89c3      mov ebx, eax
  0005  cd80      int 0x80

  $ ` + appName + ` dasm -i raw -key 0721 x86_64 calc.bin
`

func dasmCmd(args []string) error {
	flags, help := newFlagSet("dasm", dasmUsage)

	syntax := flags.String(
		"s",
		string(asmkit.IntelSyntax),
		"The assembly syntax ('intel', 'att' or 'go')")

	inputFormat := flags.String(
		"i",
		hexFormat,
		fmt.Sprintf("The input format ('%s', '%s' or '%s')", rawFormat, hexFormat, b64Format))

	outputFormat := flags.String(
		"o",
		prettyFormat,
		fmt.Sprintf("The output format ('%s', '%s', '%s' or '%s')",
			prettyFormat, jsonFormat, jsonVerboseFormat, goFormat))

	key := flags.String(
		"key",
		"",
		"Remove this XOR obfuscation key from the input first")

	parseFlags(flags, help, args)

	if flags.NArg() < 1 || flags.NArg() > 2 {
		return fmt.Errorf("please specify a platform to decode for ('%s', '%s', '%s')",
			armPlatform, x86_32Platform, x86_64Platform)
	}

	config := asmkit.DisassemblerConfig{
		Syntax: asmkit.DisassemblySyntax(*syntax),
	}

	platform := flags.Arg(0)

	switch platform {
	case armPlatform:
		config.ArchConfig = asmkit.ARMConfig{Mode: armasm.ModeARM}
	case x86_32Platform, x86_64Platform:
		bits := 32
		if platform == x86_64Platform {
			bits = 64
		}

		config.ArchConfig = asmkit.X86Config{Bits: bits}
	default:
		return fmt.Errorf("unsupported platform: %q", platform)
	}

	disassembler, err := asmkit.NewDisassembler(config)
	if err != nil {
		return fmt.Errorf("failed to create disassembler - %w", err)
	}

	inputPath := stdioPath
	if flags.NArg() == 2 {
		inputPath = flags.Arg(1)
	}

	raw, err := readInputFile(*inputFormat, inputPath)
	if err != nil {
		return fmt.Errorf("failed to read %q instructions - %w", *inputFormat, err)
	}

	if *key != "" {
		raw = packager.Transform(raw, []byte(*key))
	}

	output := bytes.NewBuffer(nil)

	writer, err := newInstWriter(*outputFormat, output)
	if err != nil {
		return err
	}

	err = disassembler.All(raw, writer.Write)
	if err != nil {
		return fmt.Errorf("failed to decode instructions for %q - %w", platform, err)
	}

	err = writer.Flush()
	if err != nil {
		return fmt.Errorf("failed to write remaining data to output - %w", err)
	}

	_, err = io.Copy(os.Stdout, output)

	return err
}

type instWriter interface {
	Write(asmkit.Inst) error
	Flush() error
}

func newInstWriter(format string, w io.Writer) (instWriter, error) {
	switch format {
	case prettyFormat:
		return &prettyWriter{w: w}, nil
	case jsonFormat:
		return &jsonAssemblyWriter{indent: "  ", w: w}, nil
	case jsonVerboseFormat:
		return &jsonVerboseWriter{indent: "  ", w: w}, nil
	case goFormat:
		return &goByteSliceWriter{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %q", format)
	}
}

var _ instWriter = (*prettyWriter)(nil)

// prettyWriter writes each instruction's offset, machine code and
// assembly on its own line.
type prettyWriter struct {
	w io.Writer
}

func (o *prettyWriter) Write(inst asmkit.Inst) error {
	_, err := fmt.Fprintf(o.w, "%04x  %-*s  %s\n",
		inst.Index, 2*maxInstHexLen, hex.EncodeToString(inst.Bin), inst.Assembly)

	return err
}

func (o *prettyWriter) Flush() error {
	return nil
}

// maxInstHexLen is the instruction length that pads the machine code
// column. Longer instructions push their assembly to the right.
const maxInstHexLen = 4

var _ instWriter = (*jsonAssemblyWriter)(nil)

type jsonAssemblyWriter struct {
	indent string
	w      io.Writer
	buf    []string
}

func (o *jsonAssemblyWriter) Write(inst asmkit.Inst) error {
	o.buf = append(o.buf, inst.Assembly)

	return nil
}

func (o *jsonAssemblyWriter) Flush() error {
	enc := json.NewEncoder(o.w)

	enc.SetIndent("", o.indent)

	return enc.Encode(o.buf)
}

var _ instWriter = (*jsonVerboseWriter)(nil)

type jsonVerboseWriter struct {
	indent string
	w      io.Writer
	buf    []json.RawMessage
}

func (o *jsonVerboseWriter) Write(inst asmkit.Inst) error {
	item, err := json.Marshal(&inst)
	if err != nil {
		return err
	}

	o.buf = append(o.buf, item)

	return nil
}

func (o *jsonVerboseWriter) Flush() error {
	enc := json.NewEncoder(o.w)

	enc.SetIndent("", o.indent)

	return enc.Encode(o.buf)
}

var _ instWriter = (*goByteSliceWriter)(nil)

type goByteSliceWriter struct {
	isInit bool
	w      io.Writer
}

func (o *goByteSliceWriter) Write(inst asmkit.Inst) error {
	if !o.isInit {
		o.isInit = true

		_, err := io.WriteString(o.w, "[]byte{\n")
		if err != nil {
			return err
		}
	}

	_, err := io.WriteString(o.w, "\t")
	if err != nil {
		return err
	}

	for _, b := range inst.Bin {
		_, err = fmt.Fprintf(o.w, "0x%02x, ", b)
		if err != nil {
			return err
		}
	}

	_, err = io.WriteString(o.w, "// "+inst.Assembly+"\n")

	return err
}

func (o *goByteSliceWriter) Flush() error {
	if !o.isInit {
		_, err := io.WriteString(o.w, "[]byte{\n")
		if err != nil {
			return err
		}
	}

	_, err := io.WriteString(o.w, "}\n")

	return err
}
