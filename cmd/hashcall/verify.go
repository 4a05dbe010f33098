package main

import (
	"fmt"
	"strconv"
	"strings"

	"gitlab.com/hashcall/hashcall/asmkit"
	"gitlab.com/hashcall/hashcall/packager"
)

const verifyUsage = `
  Disassembles an x86-64 payload and checks that it loads each hash as an
  immediate (in the order specified) and stores each literal on the stack
  at its offset from rsp.

USAGE
  ` + appName + ` verify [options] <file>

EXAMPLES
  $ ` + appName + ` verify -key 0721 -hash module:kernel32.dll -hash export:WinExec \
    -literal 0x20=ascii:calc calc.bin
`

func verifyCmd(args []string) error {
	flags, help := newFlagSet("verify", verifyUsage)

	key := flags.String(
		"key",
		"",
		"Remove this XOR obfuscation key from the input first")

	inputFormat := flags.String(
		"i",
		rawFormat,
		fmt.Sprintf("The input format ('%s', '%s' or '%s')", rawFormat, hexFormat, b64Format))

	var hashStrs, literalStrs stringList

	flags.Var(&hashStrs, "hash", "A hash as 'kind:name' (may be repeated, in order of use)")
	flags.Var(&literalStrs, "literal", "A literal as 'offset=ascii|utf16:text' (may be repeated)")

	parseFlags(flags, help, args)

	if flags.NArg() != 1 {
		return fmt.Errorf("please specify a payload file ('%s' for stdin)", stdioPath)
	}

	sites, err := verifySites(hashStrs, literalStrs)
	if err != nil {
		return err
	}

	if len(sites) == 0 {
		return fmt.Errorf("please specify at least one '-hash' or '-literal'")
	}

	raw, err := readInputFile(*inputFormat, flags.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to read payload - %w", err)
	}

	if *key != "" {
		raw = packager.Transform(raw, []byte(*key))
	}

	err = asmkit.Verify(raw, sites)
	if err != nil {
		return err
	}

	for _, site := range sites {
		fmt.Printf("ok  %s\n", site)
	}

	return nil
}

func verifySites(hashStrs []string, literalStrs []string) ([]asmkit.Site, error) {
	var sites []asmkit.Site

	for i, s := range hashStrs {
		target, err := parseTarget(s)
		if err != nil {
			return nil, err
		}

		sites = append(sites, asmkit.Site{
			Kind:   asmkit.HashSite,
			Name:   strconv.Itoa(i),
			Target: target,
		})
	}

	for _, s := range literalStrs {
		offsetStr, litStr, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("literal %q is not in the format 'offset=encoding:text'", s)
		}

		offset, err := strconv.ParseInt(offsetStr, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid literal offset %q - %w", offsetStr, err)
		}

		lit, err := parseLiteral(litStr)
		if err != nil {
			return nil, err
		}

		sites = append(sites, asmkit.Site{
			Kind:     asmkit.LiteralSite,
			Name:     offsetStr,
			Literal:  lit,
			Offset:   int(offset),
			Capacity: lit.Len(),
		})
	}

	return sites, nil
}
