package main

import (
	"fmt"

	"gitlab.com/hashcall/hashcall/resolve"
)

const selfTestUsage = `
  Resolves each symbol the way a payload would: by walking the loader's
  module list and the module's export name table, comparing hashes.

  By default, symbols are resolved in a simulated process that also
  contains decoy modules and exports. On Windows, -live resolves them in
  this process instead and compares the results with GetProcAddress.

USAGE
  ` + appName + ` selftest [options] <module!export>...

EXAMPLES
  $ ` + appName + ` selftest kernel32.dll!WinExec user32.dll!MessageBoxW
`

func selfTestCmd(args []string) error {
	flags, help := newFlagSet("selftest", selfTestUsage)

	live := flags.Bool(
		"live",
		false,
		"Resolve symbols in this process (Windows only)")

	verbose := flags.Bool(
		verboseArg,
		false,
		"Enable verbose logging")

	parseFlags(flags, help, args)

	if flags.NArg() == 0 {
		return fmt.Errorf("please specify at least one symbol as 'module!export'")
	}

	wants, err := parseWants(flags.Args())
	if err != nil {
		return err
	}

	var symbols []resolve.Symbol

	if *live {
		symbols, err = liveSelfTest(wants)
	} else {
		symbols, err = resolve.SelfTest(resolve.SelfTestConfig{
			Wants:     wants,
			OptLogger: logger(*verbose),
		})
	}
	if err != nil {
		return err
	}

	for i, sym := range symbols {
		forwarded := ""
		if sym.Export.Forwarded {
			forwarded = " (forwarded)"
		}

		fmt.Printf("%-32s module 0x%08x entry %d, export 0x%08x ordinal %d rva 0x%x%s\n",
			wants[i], wants[i].Module.Hash(), sym.Module.Index,
			wants[i].Export.Hash(), sym.Export.Ordinal, sym.Export.RVA, forwarded)
	}

	return nil
}
