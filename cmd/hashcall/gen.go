package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"

	"gitlab.com/hashcall/hashcall/asmkit"
	"gitlab.com/hashcall/hashcall/hashkit"
	"gitlab.com/hashcall/hashcall/packager"
	"gitlab.com/hashcall/hashcall/payload"
)

const (
	winExecRecipe    = "winexec"
	messageBoxRecipe = "messagebox"
	customRecipe     = "custom"
)

const genUsage = `
  Generates a payload, writes its obfuscated bytes to a file, and prints
  the metadata needed to load it (entry offset and key).

  Recipes:
    ` + winExecRecipe + `     WinExec(-cmd, -show)
    ` + messageBoxRecipe + `  MessageBoxW(NULL, -text, -caption, MB_OK)
    ` + customRecipe + `      a template file (-template) with sites specified by
                -hash, -literal and -value, and symbols to self-test by -want

  If nasm is not available, or rejects the source, the rendered source
  is saved next to the output file so that it can be assembled by hand.

USAGE
  ` + appName + ` gen [options] ` + winExecRecipe + `|` + messageBoxRecipe + `|` + customRecipe + `

EXAMPLES
  ` + appName + ` gen -cmd "notepad.exe" -o notepad.bin winexec
  ` + appName + ` gen -text hello -caption world -key secret messagebox
  ` + appName + ` gen -template my.asm.tmpl -hash module=module:kernel32.dll \
    -hash fn=export:Sleep -value ms=1000 -want kernel32.dll!Sleep custom
`

func genCmd(args []string) error {
	flags, help := newFlagSet("gen", genUsage)

	outputPath := flags.String(
		"o",
		"payload.bin",
		"The artifact file path")

	key := flags.String(
		"key",
		packager.DefaultKey,
		"The XOR obfuscation key")

	nasmPath := flags.String(
		"nasm",
		"nasm",
		"The nasm executable")

	sourcePath := flags.String(
		"source-out",
		"",
		"Where to save the rendered source if assembly fails\n(defaults to the output path with a .asm extension)")

	command := flags.String(
		"cmd",
		"calc",
		"The command line for the '"+winExecRecipe+"' recipe")

	show := flags.Uint(
		"show",
		payload.ShowNormal,
		"The show window flag for the '"+winExecRecipe+"' recipe")

	text := flags.String(
		"text",
		"nihao",
		"The message text for the '"+messageBoxRecipe+"' recipe")

	caption := flags.String(
		"caption",
		"m0n1t0r",
		"The message caption for the '"+messageBoxRecipe+"' recipe")

	templatePath := flags.String(
		"template",
		"",
		"The template file for the '"+customRecipe+"' recipe")

	var hashSites, literalSites, valueSites, wantStrs stringList

	flags.Var(&hashSites, "hash", "A hash site as 'site=kind:name' (may be repeated)")
	flags.Var(&literalSites, "literal", "A literal site as 'site=ascii|utf16:text' (may be repeated)")
	flags.Var(&valueSites, "value", "A value site as 'site=number' (may be repeated)")
	flags.Var(&wantStrs, "want", "A symbol to self-test as 'module!export' (may be repeated)")

	skipSelfTest := flags.Bool(
		"skip-selftest",
		false,
		"Do not resolve the symbols in a simulated process first")

	metadataFormat := flags.String(
		"f",
		textFormat,
		fmt.Sprintf("The metadata format ('%s' or '%s')", textFormat, jsonFormat))

	printFormat := flags.String(
		"p",
		noneFormat,
		fmt.Sprintf("Also print the raw payload to stdout ('%s', '%s', '%s', '%s' or '%s')",
			noneFormat, hexFormat, b64Format, goFormat, cFormat))

	verbose := flags.Bool(
		verboseArg,
		false,
		"Enable verbose logging")

	parseFlags(flags, help, args)

	err := checkFormat(*metadataFormat, textFormat, jsonFormat)
	if err != nil {
		return fmt.Errorf("invalid metadata format - %w", err)
	}

	err = checkFormat(*printFormat, noneFormat, hexFormat, b64Format, goFormat, cFormat)
	if err != nil {
		return fmt.Errorf("invalid print format - %w", err)
	}

	if flags.NArg() != 1 {
		return fmt.Errorf("please specify a recipe ('%s', '%s' or '%s')",
			winExecRecipe, messageBoxRecipe, customRecipe)
	}

	var recipe payload.Recipe

	switch flags.Arg(0) {
	case winExecRecipe:
		var showValue uint32

		showValue, err = uint32Flag("show", *show)
		if err != nil {
			return err
		}

		recipe, err = payload.WinExec(*command, showValue)
	case messageBoxRecipe:
		recipe, err = payload.MessageBox(*text, *caption)
	case customRecipe:
		recipe, err = customRecipeFromFlags(*templatePath, hashSites, literalSites, valueSites, wantStrs)
	default:
		return fmt.Errorf("unknown recipe: %q", flags.Arg(0))
	}
	if err != nil {
		return fmt.Errorf("failed to create %q recipe - %w", flags.Arg(0), err)
	}

	printHashes(recipe)

	ctx, cancelFn := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancelFn()

	result, err := payload.Generate(ctx, payload.Config{
		Recipe:       recipe,
		Toolchain:    asmkit.NASM{Path: *nasmPath, OptLogger: logger(*verbose)},
		Key:          []byte(*key),
		SkipSelfTest: *skipSelfTest,
		OptLogger:    logger(*verbose),
	})
	if err != nil {
		var failure *asmkit.Failure
		if errors.As(err, &failure) {
			return saveSource(failure, *outputPath, *sourcePath, *key)
		}

		return err
	}

	err = packager.WriteFile(*outputPath, result.Artifact)
	if err != nil {
		return fmt.Errorf("failed to write artifact - %w", err)
	}

	err = printMetadata(*metadataFormat, *outputPath, result.Artifact.Metadata())
	if err != nil {
		return err
	}

	return writeOutput(*printFormat, result.Raw, os.Stdout)
}

func customRecipeFromFlags(templatePath string, hashSites []string, literalSites []string, valueSites []string, wantStrs []string) (payload.Recipe, error) {
	if templatePath == "" {
		return payload.Recipe{}, errors.New("please specify a template file using '-template'")
	}

	tmpl, err := payload.TemplateFile(templatePath)
	if err != nil {
		return payload.Recipe{}, err
	}

	recipe := payload.Recipe{
		Template: tmpl,
		Params: asmkit.Params{
			Hashes:   make(map[string]hashkit.Target),
			Literals: make(map[string]asmkit.Literal),
			Values:   make(map[string]uint32),
		},
	}

	for _, s := range hashSites {
		site, target, err := parseHashSite(s)
		if err != nil {
			return payload.Recipe{}, err
		}

		recipe.Params.Hashes[site] = target
	}

	for _, s := range literalSites {
		site, lit, err := parseLiteralSite(s)
		if err != nil {
			return payload.Recipe{}, err
		}

		recipe.Params.Literals[site] = lit
	}

	for _, s := range valueSites {
		site, v, err := parseValueSite(s)
		if err != nil {
			return payload.Recipe{}, err
		}

		recipe.Params.Values[site] = v
	}

	recipe.Wants, err = parseWants(wantStrs)
	if err != nil {
		return payload.Recipe{}, err
	}

	return recipe, nil
}

func printHashes(recipe payload.Recipe) {
	var targets []hashkit.Target
	for _, target := range recipe.Params.Hashes {
		targets = append(targets, target)
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Kind() != targets[j].Kind() {
			return targets[i].Kind() < targets[j].Kind()
		}

		return targets[i].Name() < targets[j].Name()
	})

	width := 0
	for _, target := range targets {
		if len(target.Name()) > width {
			width = len(target.Name())
		}
	}

	for _, target := range targets {
		fmt.Fprintf(os.Stderr, "%-*s hash : 0x%08X\n", width, target.Name(), target.Hash())
	}
}

func saveSource(failure *asmkit.Failure, outputPath string, sourcePath string, key string) error {
	if sourcePath == "" {
		sourcePath = strings.TrimSuffix(outputPath, ".bin") + ".asm"
	}

	err := os.WriteFile(sourcePath, []byte(failure.Source()), 0644)
	if err != nil {
		return fmt.Errorf("%w (additionally, failed to save source - %s)", failure, err)
	}

	fmt.Fprintf(os.Stderr, "\nassembly source saved to: %s\n", sourcePath)

	if errors.Is(failure, asmkit.ErrToolchainUnavailable) {
		fmt.Fprintf(os.Stderr, "install nasm, then run:\n"+
			"  nasm -f bin %s -o %s.raw\n"+
			"  %s unpack -key '%s' -o %s %s.raw\n",
			sourcePath, outputPath, appName, key, outputPath, outputPath)
	}

	return failure
}

func printMetadata(format string, outputPath string, metadata packager.Metadata) error {
	switch format {
	case textFormat:
		fmt.Fprintf(os.Stderr, "\npayload written to: %s (%d bytes, obfuscated with key '%s')\n",
			outputPath, metadata.Length, metadata.Key)
		fmt.Printf("ep_offset : %d\n", metadata.EntryOffset)
		fmt.Printf("key       : %s\n", metadata.Key)
		fmt.Printf("key_hex   : %s\n", metadata.KeyHex)
		fmt.Printf("length    : %d\n", metadata.Length)
		fmt.Printf("blake2b   : %s\n", metadata.Digest)
	case jsonFormat:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(metadata)
	default:
		return fmt.Errorf("unsupported metadata format: %q", format)
	}

	return nil
}
