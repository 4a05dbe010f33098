package asmkit_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"gitlab.com/hashcall/hashcall/asmkit"
	"gitlab.com/hashcall/hashcall/asmkit/asmtest"
	"gitlab.com/hashcall/hashcall/hashkit"
)

func requireRemoved(t *testing.T, paths []string) {
	t.Helper()

	if len(paths) == 0 {
		t.Fatal("toolchain was never called")
	}

	for _, p := range paths {
		_, err := os.Stat(filepath.Dir(p))
		if !os.IsNotExist(err) {
			t.Fatalf("expected %s to be removed - stat returned: %v", filepath.Dir(p), err)
		}
	}
}

func TestAssembler_Assemble(t *testing.T) {
	toolchain := &asmtest.Toolchain{}

	assembled, err := asmkit.Assembler{
		Toolchain:  toolchain,
		OptTempDir: t.TempDir(),
	}.Assemble(context.Background(), asmkit.Template{
		Name:   "example",
		Source: exampleSource,
	}, exampleParams(t))
	if err != nil {
		t.Fatal(err)
	}

	requireRemoved(t, toolchain.SourcePaths)

	if filepath.Base(toolchain.SourcePaths[0]) != "payload.asm" {
		t.Fatalf("unexpected source file name: %s", toolchain.SourcePaths[0])
	}

	if toolchain.Sources[0] != assembled.Rendered.Source {
		t.Fatal("toolchain did not receive the rendered source")
	}

	err = asmkit.Verify(assembled.Raw, assembled.Rendered.Sites)
	if err != nil {
		t.Fatal(err)
	}

	if assembled.Raw[len(assembled.Raw)-1] != 0xc3 {
		t.Fatalf("expected payload to end with ret - got 0x%x", assembled.Raw)
	}
}

func TestAssembler_IsDeterministic(t *testing.T) {
	tmpl := asmkit.Template{Name: "example", Source: exampleSource}

	var raws [][]byte

	for i := 0; i < 2; i++ {
		toolchain := &asmtest.Toolchain{}

		assembled, err := asmkit.Assembler{
			Toolchain:  toolchain,
			OptTempDir: t.TempDir(),
		}.Assemble(context.Background(), tmpl, exampleParams(t))
		if err != nil {
			t.Fatal(err)
		}

		raws = append(raws, assembled.Raw)
	}

	if len(raws[0]) == 0 || !bytes.Equal(raws[0], raws[1]) {
		t.Fatalf("expected identical output for identical inputs - got 0x%x and 0x%x",
			raws[0], raws[1])
	}
}

func TestAssembler_ToolchainUnavailable(t *testing.T) {
	toolchain := &asmtest.Toolchain{Unavailable: true}

	_, err := asmkit.Assembler{
		Toolchain:  toolchain,
		OptTempDir: t.TempDir(),
	}.Assemble(context.Background(), asmkit.Template{
		Name:   "example",
		Source: exampleSource,
	}, exampleParams(t))
	if !errors.Is(err, asmkit.ErrToolchainUnavailable) {
		t.Fatalf("expected ErrToolchainUnavailable - got %v", err)
	}

	var failure *asmkit.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected a *Failure - got %T", err)
	}

	if failure.Source() == "" {
		t.Fatal("expected failure to carry the rendered source")
	}

	requireRemoved(t, toolchain.SourcePaths)
}

func TestAssembler_AssemblyError(t *testing.T) {
	toolchain := &asmtest.Toolchain{}

	_, err := asmkit.Assembler{
		Toolchain:  toolchain,
		OptTempDir: t.TempDir(),
	}.Assemble(context.Background(), asmkit.Template{
		Name:   "broken",
		Source: "mov r15d, {{hash \"kernel32\"}}\n%error bad things\n{{literal \"command\" 0x20 0x10}}\n",
	}, exampleParams(t))

	var asmErr *asmkit.AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("expected an *AssemblyError - got %v", err)
	}

	if asmErr.Diagnostics != "payload.asm:2: error: bad things" {
		t.Fatalf("unexpected diagnostics: %q", asmErr.Diagnostics)
	}

	requireRemoved(t, toolchain.SourcePaths)
}

func TestAssembler_RenderErrorSkipsToolchain(t *testing.T) {
	toolchain := &asmtest.Toolchain{}

	_, err := asmkit.Assembler{Toolchain: toolchain}.Assemble(context.Background(),
		asmkit.Template{Name: "bad", Source: `{{hash "nope"}}`},
		exampleParams(t))
	if err == nil {
		t.Fatal("expected a render error")
	}

	var failure *asmkit.Failure
	if errors.As(err, &failure) {
		t.Fatal("render errors should not be reported as toolchain failures")
	}

	if len(toolchain.SourcePaths) != 0 {
		t.Fatal("toolchain should not run when rendering fails")
	}
}

func TestNASM_Unavailable(t *testing.T) {
	_, err := asmkit.NASM{Path: filepath.Join(t.TempDir(), "nasm")}.
		AssembleFile(context.Background(), filepath.Join(t.TempDir(), "payload.asm"))
	if !errors.Is(err, asmkit.ErrToolchainUnavailable) {
		t.Fatalf("expected ErrToolchainUnavailable - got %v", err)
	}
}

func TestAssembler_ContextDone(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	cancelFn()

	toolchain := &asmtest.Toolchain{}

	_, err := asmkit.Assembler{
		Toolchain:  toolchain,
		OptTempDir: t.TempDir(),
	}.Assemble(ctx, asmkit.Template{
		Name:   "example",
		Source: exampleSource,
	}, exampleParams(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled - got %v", err)
	}

	var failure *asmkit.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected a *Failure - got %T", err)
	}

	requireRemoved(t, toolchain.SourcePaths)
}

func TestNASM_NoOutputFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a shell script standing in for nasm")
	}

	dir := t.TempDir()

	fakeNASM := filepath.Join(dir, "nasm")

	err := os.WriteFile(fakeNASM, []byte("#!/bin/sh\nexit 0\n"), 0700)
	if err != nil {
		t.Fatal(err)
	}

	sourcePath := filepath.Join(dir, "payload.asm")

	err = os.WriteFile(sourcePath, []byte("ret\n"), 0600)
	if err != nil {
		t.Fatal(err)
	}

	_, err = asmkit.NASM{Path: fakeNASM}.AssembleFile(context.Background(), sourcePath)

	var asmErr *asmkit.AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("expected an *AssemblyError - got %v", err)
	}
}

func TestNASM_Assemble(t *testing.T) {
	_, err := exec.LookPath("nasm")
	if err != nil {
		t.Skipf("nasm is not installed - %v", err)
	}

	assembled, err := asmkit.Assembler{
		Toolchain:  asmkit.NASM{},
		OptTempDir: t.TempDir(),
	}.Assemble(context.Background(), asmkit.Template{
		Name:   "example",
		Source: exampleSource,
	}, exampleParams(t))
	if err != nil {
		t.Fatal(err)
	}

	err = asmkit.Verify(assembled.Raw, assembled.Rendered.Sites)
	if err != nil {
		t.Fatal(err)
	}
}

func TestNASM_AssemblyError(t *testing.T) {
	_, err := exec.LookPath("nasm")
	if err != nil {
		t.Skipf("nasm is not installed - %v", err)
	}

	_, err = asmkit.Assembler{
		Toolchain:  asmkit.NASM{},
		OptTempDir: t.TempDir(),
	}.Assemble(context.Background(), asmkit.Template{
		Name:   "broken",
		Source: "mov r15d, {{hash \"kernel32\"}}\nthis is not an instruction\n{{literal \"command\" 0x20 0x10}}\n",
	}, exampleParams(t))

	var asmErr *asmkit.AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("expected an *AssemblyError - got %v", err)
	}

	if asmErr.Diagnostics == "" {
		t.Fatal("expected diagnostics")
	}
}

func TestVerify_DetectsMissingSites(t *testing.T) {
	params := exampleParams(t)

	rendered, err := asmkit.Render(asmkit.Template{Name: "example", Source: exampleSource}, params)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := asmtest.Assemble(rendered.Source)
	if err != nil {
		t.Fatal(err)
	}

	wrongHash := append([]asmkit.Site(nil), rendered.Sites...)
	wrongHash[0].Target = hashkit.ModuleTarget("user32.dll")

	err = asmkit.Verify(raw, wrongHash)
	if !errors.Is(err, asmkit.ErrSiteMissing) {
		t.Fatalf("expected ErrSiteMissing for the wrong hash - got %v", err)
	}

	wrongLiteral := append([]asmkit.Site(nil), rendered.Sites...)
	wrongLiteral[1].Literal = mustLiteral(t, "cmd", asmkit.ASCII)

	err = asmkit.Verify(raw, wrongLiteral)
	if !errors.Is(err, asmkit.ErrSiteMissing) {
		t.Fatalf("expected ErrSiteMissing for the wrong literal - got %v", err)
	}

	movedLiteral := append([]asmkit.Site(nil), rendered.Sites...)
	movedLiteral[1].Offset = 0x60

	err = asmkit.Verify(raw, movedLiteral)
	if !errors.Is(err, asmkit.ErrSiteMissing) {
		t.Fatalf("expected ErrSiteMissing for a moved literal - got %v", err)
	}
}

func TestVerify_HashOrder(t *testing.T) {
	raw, err := asmtest.Assemble("mov r15d, 0x0E8AFE98\nmov r15d, 0x8FECD63F\nret\n")
	if err != nil {
		t.Fatal(err)
	}

	sites := []asmkit.Site{
		{Kind: asmkit.HashSite, Name: "kernel32", Target: hashkit.ModuleTarget("kernel32.dll")},
		{Kind: asmkit.HashSite, Name: "winexec", Target: hashkit.ExportTarget("WinExec")},
	}

	err = asmkit.Verify(raw, sites)
	if !errors.Is(err, asmkit.ErrSiteMissing) {
		t.Fatalf("expected out-of-order hashes to fail - got %v", err)
	}

	err = asmkit.Verify(raw, []asmkit.Site{sites[1], sites[0]})
	if err != nil {
		t.Fatal(err)
	}
}
