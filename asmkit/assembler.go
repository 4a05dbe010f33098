package asmkit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

const sourceFileName = "payload.asm"

// Failure is returned by Assembler.Assemble when the toolchain fails.
// It carries the rendered source so that it can be assembled by hand.
type Failure struct {
	Rendered Rendered
	Err      error
}

func (o *Failure) Error() string {
	return fmt.Sprintf("failed to assemble %q - %s", o.Rendered.Name, o.Err)
}

func (o *Failure) Unwrap() error {
	return o.Err
}

// Source returns the rendered template source.
func (o *Failure) Source() string {
	return o.Rendered.Source
}

// Assembled is the output of a successful Assembler.Assemble.
type Assembled struct {
	Rendered Rendered
	Raw      []byte
}

// Assembler renders templates and assembles them using a Toolchain.
type Assembler struct {
	Toolchain Toolchain

	// OptTempDir is the parent of the per-run temporary directory.
	// It defaults to os.TempDir.
	OptTempDir string

	// OptLogger, when non-nil, receives progress messages.
	OptLogger *log.Logger
}

func (o Assembler) logf(format string, v ...interface{}) {
	if o.OptLogger != nil {
		o.OptLogger.Printf(format, v...)
	}
}

// Assemble renders tmpl with params and assembles the result. The
// temporary directory holding the source and toolchain output is
// removed before Assemble returns, whether it succeeds or not.
//
// Render errors are returned as-is. Toolchain errors are returned
// as a *Failure.
func (o Assembler) Assemble(ctx context.Context, tmpl Template, params Params) (Assembled, error) {
	if o.Toolchain == nil {
		return Assembled{}, errors.New("no toolchain was specified")
	}

	rendered, err := Render(tmpl, params)
	if err != nil {
		return Assembled{}, err
	}

	raw, err := o.assembleSource(ctx, rendered.Source)
	if err != nil {
		return Assembled{}, &Failure{
			Rendered: rendered,
			Err:      err,
		}
	}

	if len(raw) == 0 {
		return Assembled{}, &Failure{
			Rendered: rendered,
			Err:      &AssemblyError{Diagnostics: "toolchain produced no output", ExitCode: -1},
		}
	}

	o.logf("asmkit: assembled %q into %d bytes", rendered.Name, len(raw))

	return Assembled{
		Rendered: rendered,
		Raw:      raw,
	}, nil
}

func (o Assembler) assembleSource(ctx context.Context, source string) ([]byte, error) {
	tempDir, err := os.MkdirTemp(o.OptTempDir, "hashcall-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary directory - %w", err)
	}
	defer func() {
		err := os.RemoveAll(tempDir)
		if err != nil {
			o.logf("asmkit: failed to remove %s - %v", tempDir, err)
		}
	}()

	sourcePath := filepath.Join(tempDir, sourceFileName)

	err = os.WriteFile(sourcePath, []byte(source), 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to write source file - %w", err)
	}

	o.logf("asmkit: assembling %s", sourcePath)

	return o.Toolchain.AssembleFile(ctx, sourcePath)
}
