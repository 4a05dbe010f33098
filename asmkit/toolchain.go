package asmkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrToolchainUnavailable means the external assembler could not be
// found or started.
var ErrToolchainUnavailable = errors.New("assembler toolchain is unavailable")

// Toolchain assembles a source file into a flat binary.
type Toolchain interface {
	// AssembleFile assembles the file at sourcePath and returns the
	// raw machine code. Errors wrap ErrToolchainUnavailable when the
	// toolchain cannot run, wrap ctx.Err() when ctx is done first, and
	// are an *AssemblyError in every other case.
	AssembleFile(ctx context.Context, sourcePath string) ([]byte, error)
}

// AssemblyError is returned when the toolchain ran and rejected the
// source.
type AssemblyError struct {
	// Diagnostics is the toolchain's error output, verbatim.
	Diagnostics string

	// ExitCode is the toolchain's exit status, or -1 if unknown.
	ExitCode int
}

func (o *AssemblyError) Error() string {
	return fmt.Sprintf("assembler exited with status %d: %s",
		o.ExitCode, strings.TrimSpace(o.Diagnostics))
}

const defaultNASMPath = "nasm"

// NASM runs the Netwide Assembler in flat binary mode (-f bin).
type NASM struct {
	// Path is the nasm executable. It defaults to "nasm" found
	// in PATH.
	Path string

	// OptLogger, when non-nil, receives the command line.
	OptLogger *log.Logger
}

func (o NASM) AssembleFile(ctx context.Context, sourcePath string) ([]byte, error) {
	exePath := o.Path
	if exePath == "" {
		exePath = defaultNASMPath
	}

	exePath, err := exec.LookPath(exePath)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", err, ErrToolchainUnavailable)
	}

	outputPath := strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + ".bin"
	defer os.Remove(outputPath)

	stderr := bytes.NewBuffer(nil)

	nasm := exec.CommandContext(ctx, exePath, "-f", "bin", sourcePath, "-o", outputPath)
	nasm.Stdout = stderr
	nasm.Stderr = stderr

	if o.OptLogger != nil {
		o.OptLogger.Printf("asmkit: running %s", nasm.String())
	}

	err = nasm.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("nasm did not finish - %w", ctx.Err())
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &AssemblyError{
				Diagnostics: stderr.String(),
				ExitCode:    exitErr.ExitCode(),
			}
		}

		return nil, fmt.Errorf("failed to start %s - %s - %w", exePath, err, ErrToolchainUnavailable)
	}

	raw, err := os.ReadFile(outputPath)
	if err != nil {
		stderr.WriteString(fmt.Sprintf("nasm reported success but wrote no output - %s", err))

		return nil, &AssemblyError{
			Diagnostics: stderr.String(),
			ExitCode:    0,
		}
	}

	return raw, nil
}
