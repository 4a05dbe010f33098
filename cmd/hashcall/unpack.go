package main

import (
	"fmt"
	"os"

	"gitlab.com/hashcall/hashcall/packager"
)

const unpackUsage = `
  Removes the XOR obfuscation from an artifact and writes the raw machine
  code. Because the obfuscation is its own inverse, this also obfuscates
  raw machine code (e.g., the output of assembling a saved source by hand).

USAGE
  ` + appName + ` unpack [options] <artifact-file>

EXAMPLES
  $ ` + appName + ` unpack -key 0721 -o calc.raw calc.bin
  $ ` + appName + ` unpack -key 0721 -o - -p hex calc.bin
`

func unpackCmd(args []string) error {
	flags, help := newFlagSet("unpack", unpackUsage)

	key := flags.String(
		"key",
		packager.DefaultKey,
		"The XOR obfuscation key")

	outputPath := flags.String(
		"o",
		"",
		"The output file path ('"+stdioPath+"' for stdout)")

	outputFormat := flags.String(
		"p",
		rawFormat,
		fmt.Sprintf("The output format ('%s', '%s', '%s', '%s' or '%s')",
			rawFormat, hexFormat, b64Format, goFormat, cFormat))

	parseFlags(flags, help, args)

	if flags.NArg() != 1 {
		return fmt.Errorf("please specify an artifact file")
	}

	if *outputPath == "" {
		return fmt.Errorf("please specify an output file using '-o'")
	}

	err := checkFormat(*outputFormat, rawFormat, hexFormat, b64Format, goFormat, cFormat)
	if err != nil {
		return fmt.Errorf("invalid output format - %w", err)
	}

	artifact, err := packager.ReadFile(flags.Arg(0), []byte(*key))
	if err != nil {
		return fmt.Errorf("failed to read artifact - %w", err)
	}

	raw, err := packager.Unpackage(artifact)
	if err != nil {
		return err
	}

	if *outputPath == stdioPath {
		return writeOutput(*outputFormat, raw, os.Stdout)
	}

	f, err := os.OpenFile(*outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	err = writeOutput(*outputFormat, raw, f)
	if err != nil {
		return err
	}

	return f.Close()
}
