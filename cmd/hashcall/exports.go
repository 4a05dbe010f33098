package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"gitlab.com/hashcall/hashcall/hashkit"
	"gitlab.com/hashcall/hashcall/resolve"
)

const exportsUsage = `
  Lists the named exports of a DLL along with their export hashes, and
  reports names whose hashes collide (a payload would resolve whichever
  name comes first in the export name table).

USAGE
  ` + appName + ` exports [options] <dll-file>
`

func exportsCmd(args []string) error {
	flags, help := newFlagSet("exports", exportsUsage)

	format := flags.String(
		"f",
		textFormat,
		fmt.Sprintf("The output format ('%s' or '%s')", textFormat, jsonFormat))

	parseFlags(flags, help, args)

	if flags.NArg() != 1 {
		return fmt.Errorf("please specify a dll file")
	}

	exports, err := resolve.ExportsFromFile(flags.Arg(0))
	if err != nil {
		return err
	}

	names := make([]string, len(exports))
	for i, exp := range exports {
		names[i] = exp.Name
	}

	collisions := hashkit.FindCollisions(names, hashkit.Export.Mode())

	switch *format {
	case textFormat:
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

		fmt.Fprintln(w, "ORDINAL\tRVA\tHASH\tNAME")
		for _, exp := range exports {
			fmt.Fprintf(w, "%d\t0x%08x\t0x%08x\t%s\n", exp.Ordinal, exp.RVA, exp.Hash, exp.Name)
		}

		err = w.Flush()
		if err != nil {
			return err
		}

		for _, collision := range collisions {
			fmt.Fprintf(os.Stderr, "collision: 0x%08x %v\n", collision.Hash, collision.Names)
		}
	case jsonFormat:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		err = enc.Encode(struct {
			Exports    []resolve.ExportInfo `json:"exports"`
			Collisions []hashkit.Collision  `json:"collisions"`
		}{
			Exports:    exports,
			Collisions: collisions,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported output format: %q", *format)
	}

	return nil
}
