package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

const (
	appName = "hashcall"
	usage   = appName + `
DESCRIPTION
  Generates position-independent x86-64 Windows payloads that find the
  routines they call at runtime by hashing module and export names
  (ROR13), rather than through an import table.

  Payloads are assembled from NASM templates using the nasm executable,
  verified by disassembling them, and XOR obfuscated with a key.

USAGE
  ` + appName + ` <command> [options]

COMMANDS
%s
EXAMPLES
  Generate a payload that runs calc.exe:
    $ ` + appName + ` gen -o calc.bin winexec
    kernel32.dll hash : 0x8FECD63F
    WinExec      hash : 0x0E8AFE98
    ...

  Hash some names:
    $ ` + appName + ` hash -k module kernel32.dll
    module kernel32.dll 0x8fecd63f

  Restore and disassemble a payload:
    $ ` + appName + ` unpack -key 0721 -o - calc.bin | ` + appName + ` dasm -i raw x86_64

Run '` + appName + ` <command> -h' for a command's options.
`
)

type command struct {
	summary string
	run     func(args []string) error
}

var commands = map[string]command{
	"hash": {
		summary: "Hash module or export names",
		run:     hashCmd,
	},
	"gen": {
		summary: "Generate a payload from a recipe or template",
		run:     genCmd,
	},
	"unpack": {
		summary: "Remove the obfuscation from a payload file",
		run:     unpackCmd,
	},
	"verify": {
		summary: "Check that a payload loads the specified hashes and literals",
		run:     verifyCmd,
	},
	"dasm": {
		summary: "Disassemble machine code",
		run:     dasmCmd,
	},
	"exports": {
		summary: "List a DLL's named exports and their hashes",
		run:     exportsCmd,
	},
	"selftest": {
		summary: "Resolve symbols using the payload's resolution model",
		run:     selfTestCmd,
	},
}

func main() {
	log.SetFlags(0)

	err := mainWithError()
	if err != nil {
		log.Fatalln("fatal:", err)
	}
}

func mainWithError() error {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "help" {
		os.Stderr.WriteString(fmt.Sprintf(usage, commandsHelp()))
		os.Exit(1)
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		return fmt.Errorf("unknown command: %q", os.Args[1])
	}

	return cmd.run(os.Args[2:])
}

func commandsHelp() string {
	var names []string
	for name := range commands {
		names = append(names, name)
	}

	sort.Strings(names)

	b := strings.Builder{}
	for _, name := range names {
		b.WriteString(fmt.Sprintf("  %-10s %s\n", name, commands[name].summary))
	}

	return b.String()
}
