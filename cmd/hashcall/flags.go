package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"gitlab.com/hashcall/hashcall/asmkit"
	"gitlab.com/hashcall/hashcall/conv"
	"gitlab.com/hashcall/hashcall/hashkit"
	"gitlab.com/hashcall/hashcall/resolve"
)

const (
	helpArg    = "h"
	verboseArg = "v"

	rawFormat  = "raw"
	hexFormat  = "hex"
	b64Format  = "b64"
	goFormat   = "go"
	cFormat    = "c"
	noneFormat = "none"

	textFormat = "text"
	jsonFormat = "json"

	stdioPath = "-"
)

// newFlagSet returns a FlagSet for a command that prints the command's
// usage followed by its options when -h is specified.
func newFlagSet(name string, usage string) (*flag.FlagSet, *bool) {
	flags := flag.NewFlagSet(name, flag.ExitOnError)

	help := flags.Bool(helpArg, false, "Display this information")

	flags.Usage = func() {
		os.Stderr.WriteString(appName + " " + name + "\n" + usage + "\nOPTIONS\n")
		flags.PrintDefaults()
	}

	return flags, help
}

func parseFlags(flags *flag.FlagSet, help *bool, args []string) {
	flags.Parse(args)

	if *help {
		flags.Usage()
		os.Exit(1)
	}
}

func logger(verbose bool) *log.Logger {
	if !verbose {
		return nil
	}

	return log.New(os.Stderr, "", 0)
}

// stringList is a flag that may be specified more than once.
type stringList []string

func (o *stringList) String() string {
	return strings.Join(*o, ", ")
}

func (o *stringList) Set(s string) error {
	*o = append(*o, s)
	return nil
}

// parseTarget parses "kind:name", e.g., "module:kernel32.dll".
func parseTarget(s string) (hashkit.Target, error) {
	kindStr, name, ok := strings.Cut(s, ":")
	if !ok {
		return hashkit.Target{}, fmt.Errorf("target %q is not in the format 'kind:name'", s)
	}

	kind, err := hashkit.ParseKind(kindStr)
	if err != nil {
		return hashkit.Target{}, err
	}

	return hashkit.NewTarget(kind, name)
}

// parseWant parses "module!export", e.g., "kernel32.dll!WinExec".
func parseWant(s string) (resolve.Want, error) {
	moduleName, exportName, ok := strings.Cut(s, "!")
	if !ok {
		return resolve.Want{}, fmt.Errorf("symbol %q is not in the format 'module!export'", s)
	}

	module, err := hashkit.NewTarget(hashkit.Module, moduleName)
	if err != nil {
		return resolve.Want{}, err
	}

	export, err := hashkit.NewTarget(hashkit.Export, exportName)
	if err != nil {
		return resolve.Want{}, err
	}

	return resolve.Want{Module: module, Export: export}, nil
}

func parseWants(strs []string) ([]resolve.Want, error) {
	var wants []resolve.Want

	for _, s := range strs {
		want, err := parseWant(s)
		if err != nil {
			return nil, err
		}

		wants = append(wants, want)
	}

	return wants, nil
}

// parseHashSite parses "site=kind:name".
func parseHashSite(s string) (string, hashkit.Target, error) {
	site, targetStr, ok := strings.Cut(s, "=")
	if !ok || site == "" {
		return "", hashkit.Target{}, fmt.Errorf("hash site %q is not in the format 'site=kind:name'", s)
	}

	target, err := parseTarget(targetStr)
	if err != nil {
		return "", hashkit.Target{}, fmt.Errorf("invalid hash site %q - %w", site, err)
	}

	return site, target, nil
}

// parseLiteral parses "encoding:text", e.g., "ascii:calc".
func parseLiteral(s string) (asmkit.Literal, error) {
	encStr, text, ok := strings.Cut(s, ":")
	if !ok {
		return asmkit.Literal{}, fmt.Errorf("literal %q is not in the format 'encoding:text'", s)
	}

	switch strings.ToLower(encStr) {
	case "ascii", "a":
		return asmkit.ASCIIZ(text)
	case "utf16", "wide", "w":
		return asmkit.UTF16Z(text)
	default:
		return asmkit.Literal{}, fmt.Errorf("unsupported literal encoding: %q", encStr)
	}
}

// parseLiteralSite parses "site=encoding:text".
func parseLiteralSite(s string) (string, asmkit.Literal, error) {
	site, litStr, ok := strings.Cut(s, "=")
	if !ok || site == "" {
		return "", asmkit.Literal{}, fmt.Errorf("literal site %q is not in the format 'site=encoding:text'", s)
	}

	lit, err := parseLiteral(litStr)
	if err != nil {
		return "", asmkit.Literal{}, fmt.Errorf("invalid literal site %q - %w", site, err)
	}

	return site, lit, nil
}

// parseValueSite parses "site=number".
func parseValueSite(s string) (string, uint32, error) {
	site, numStr, ok := strings.Cut(s, "=")
	if !ok || site == "" {
		return "", 0, fmt.Errorf("value site %q is not in the format 'site=number'", s)
	}

	v, err := strconv.ParseUint(numStr, 0, 32)
	if err != nil {
		return "", 0, fmt.Errorf("invalid value site %q - %w", site, err)
	}

	return site, uint32(v), nil
}

// checkFormat returns an error if format is not one of allowed.
func checkFormat(format string, allowed ...string) error {
	for _, a := range allowed {
		if format == a {
			return nil
		}
	}

	return fmt.Errorf("unsupported format %q (expected one of: %s)",
		format, strings.Join(allowed, ", "))
}

func uint32Flag(name string, v uint) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("-%s value %d does not fit in 32 bits", name, v)
	}

	return uint32(v), nil
}

func readInput(format string, r io.Reader) ([]byte, error) {
	switch format {
	case rawFormat:
		return io.ReadAll(r)
	case hexFormat:
		return conv.HexArrayToBytes(r)
	case b64Format:
		b64, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}

		return base64.StdEncoding.DecodeString(strings.TrimSpace(string(b64)))
	default:
		return nil, fmt.Errorf("unsupported input format: %q", format)
	}
}

func readInputFile(format string, filePath string) ([]byte, error) {
	if filePath == stdioPath {
		return readInput(format, os.Stdin)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readInput(format, f)
}

func writeOutput(format string, b []byte, w io.Writer) error {
	buf := bytes.NewBuffer(nil)

	var err error

	switch format {
	case noneFormat:
		return nil
	case rawFormat:
		buf.Write(b)
	case hexFormat:
		buf.WriteString(hex.EncodeToString(b) + "\n")
	case b64Format:
		buf.WriteString(base64.StdEncoding.EncodeToString(b) + "\n")
	case goFormat:
		err = conv.BytesToGoSlice(b, buf)
	case cFormat:
		err = conv.BytesToCArray("payload", b, buf)
	default:
		return fmt.Errorf("unsupported output format: %q", format)
	}
	if err != nil {
		return err
	}

	_, err = io.Copy(w, buf)

	return err
}
