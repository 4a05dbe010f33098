package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitlab.com/hashcall/hashcall/asmkit"
	"gitlab.com/hashcall/hashcall/hashkit"
)

func TestParseTarget(t *testing.T) {
	target, err := parseTarget("module:KERNEL32.DLL")
	if err != nil {
		t.Fatal(err)
	}

	if target.Kind() != hashkit.Module || target.Hash() != 0x8fecd63f {
		t.Fatalf("unexpected target: %s", target)
	}

	for _, s := range []string{"kernel32.dll", "symbol:WinExec", "export:"} {
		_, err = parseTarget(s)
		if err == nil {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}

func TestParseWant(t *testing.T) {
	want, err := parseWant("kernel32.dll!WinExec")
	if err != nil {
		t.Fatal(err)
	}

	if want.Module.Hash() != 0x8fecd63f || want.Export.Hash() != 0x0e8afe98 {
		t.Fatalf("unexpected want: %s", want)
	}

	_, err = parseWant("kernel32.dll:WinExec")
	if err == nil {
		t.Fatal("expected a want without '!' to be rejected")
	}
}

func TestParseSites(t *testing.T) {
	site, target, err := parseHashSite("fn=export:WinExec")
	if err != nil {
		t.Fatal(err)
	}

	if site != "fn" || target.Hash() != 0x0e8afe98 {
		t.Fatalf("unexpected hash site: %s %s", site, target)
	}

	site, lit, err := parseLiteralSite("text=utf16:hi")
	if err != nil {
		t.Fatal(err)
	}

	if site != "text" || lit.Encoding() != asmkit.UTF16 || !bytes.Equal(lit.Bytes(), []byte{'h', 0, 'i', 0, 0, 0}) {
		t.Fatalf("unexpected literal site: %s %s", site, lit)
	}

	site, v, err := parseValueSite("show=0x5")
	if err != nil {
		t.Fatal(err)
	}

	if site != "show" || v != 5 {
		t.Fatalf("unexpected value site: %s %d", site, v)
	}

	_, _, err = parseValueSite("show=0x100000000")
	if err == nil {
		t.Fatal("expected a value wider than 32 bits to be rejected")
	}

	_, _, err = parseHashSite("=export:WinExec")
	if err == nil {
		t.Fatal("expected a hash site without a name to be rejected")
	}

	_, _, err = parseLiteralSite("text=ebcdic:hi")
	if err == nil {
		t.Fatal("expected an unknown encoding to be rejected")
	}
}

func TestVerifySites(t *testing.T) {
	sites, err := verifySites(
		[]string{"module:kernel32.dll", "export:WinExec"},
		[]string{"0x20=ascii:calc"})
	if err != nil {
		t.Fatal(err)
	}

	if len(sites) != 3 {
		t.Fatalf("expected 3 sites - got %d", len(sites))
	}

	if sites[2].Kind != asmkit.LiteralSite || sites[2].Offset != 0x20 || sites[2].Literal.Text() != "calc" {
		t.Fatalf("unexpected literal site: %s", sites[2])
	}

	_, err = verifySites(nil, []string{"rsp=ascii:calc"})
	if err == nil {
		t.Fatal("expected a non-numeric offset to be rejected")
	}
}

func TestReadWriteFormats(t *testing.T) {
	b := []byte{0x31, 0xc0, 0xc3}

	for _, format := range []string{rawFormat, hexFormat, b64Format} {
		buf := bytes.NewBuffer(nil)

		err := writeOutput(format, b, buf)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}

		got, err := readInput(format, buf)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}

		if !bytes.Equal(got, b) {
			t.Fatalf("%s: expected 0x%x - got 0x%x", format, b, got)
		}
	}

	buf := bytes.NewBuffer(nil)

	err := writeOutput(noneFormat, b, buf)
	if err != nil {
		t.Fatal(err)
	}

	if buf.Len() != 0 {
		t.Fatal("expected no output")
	}

	err = writeOutput("bmp", b, buf)
	if err == nil {
		t.Fatal("expected an unknown format to be rejected")
	}
}

func TestInstWriters(t *testing.T) {
	disassembler, err := asmkit.NewDisassembler(asmkit.DisassemblerConfig{
		Syntax:     asmkit.IntelSyntax,
		ArchConfig: asmkit.X86Config{Bits: 32},
	})
	if err != nil {
		t.Fatal(err)
	}

	raw := []byte{0x31, 0xc0, 0x40, 0x89, 0xc3, 0xcd, 0x80}

	for _, format := range []string{prettyFormat, jsonFormat, goFormat} {
		buf := bytes.NewBuffer(nil)

		writer, err := newInstWriter(format, buf)
		if err != nil {
			t.Fatal(err)
		}

		err = disassembler.All(raw, writer.Write)
		if err != nil {
			t.Fatal(err)
		}

		err = writer.Flush()
		if err != nil {
			t.Fatal(err)
		}

		if !strings.Contains(buf.String(), "int 0x80") {
			t.Fatalf("%s: expected the output to contain the last instruction - got:\n%s",
				format, buf.String())
		}
	}

	buf := bytes.NewBuffer(nil)

	writer, err := newInstWriter(prettyFormat, buf)
	if err != nil {
		t.Fatal(err)
	}

	err = disassembler.All(raw[:2], writer.Write)
	if err != nil {
		t.Fatal(err)
	}

	if buf.String() != "0000  31c0      xor eax, eax\n" {
		t.Fatalf("unexpected pretty output: %q", buf.String())
	}
}

func TestGenCmd_RejectsFormatsBeforeWriting(t *testing.T) {
	for _, formatArgs := range [][]string{
		{"-f", "yaml"},
		{"-p", "bmp"},
	} {
		outputPath := filepath.Join(t.TempDir(), "payload.bin")

		args := append(formatArgs, "-o", outputPath, "-skip-selftest", winExecRecipe)

		err := genCmd(args)
		if err == nil {
			t.Fatalf("%v: expected an error", formatArgs)
		}

		_, statErr := os.Stat(outputPath)
		if !os.IsNotExist(statErr) {
			t.Fatalf("%v: expected no artifact to be written - stat returned: %v", formatArgs, statErr)
		}
	}
}

func TestUint32Flag(t *testing.T) {
	v, err := uint32Flag("show", 5)
	if err != nil || v != 5 {
		t.Fatalf("expected 5 - got %d (%v)", v, err)
	}

	if math.MaxUint == math.MaxUint32 {
		t.Skip("uint is 32 bits wide")
	}

	wide := uint64(math.MaxUint32) + 1

	_, err = uint32Flag("show", uint(wide))
	if err == nil {
		t.Fatal("expected a value wider than 32 bits to be rejected")
	}

	err = checkFormat("json", textFormat, jsonFormat)
	if err != nil {
		t.Fatal(err)
	}
}
