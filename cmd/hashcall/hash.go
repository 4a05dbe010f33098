package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gitlab.com/hashcall/hashcall/hashkit"
)

const hashUsage = `
  Prints the hash of each name. Names are read from the command line or,
  if none are specified, from stdin (one per line).

  Module names are hashed as UTF-16 with A-Z folded to lower case.
  Export names are hashed as bytes, case-sensitively.

USAGE
  ` + appName + ` hash [options] [name...]
`

func hashCmd(args []string) error {
	flags, help := newFlagSet("hash", hashUsage)

	kindStr := flags.String(
		"k",
		"export",
		"The kind of name to hash ('module' or 'export')")

	collisions := flags.Bool(
		"c",
		false,
		"Report names that share a hash instead of printing hashes")

	parseFlags(flags, help, args)

	kind, err := hashkit.ParseKind(*kindStr)
	if err != nil {
		return err
	}

	names := flags.Args()
	if len(names) == 0 {
		scanner := bufio.NewScanner(os.Stdin)

		for scanner.Scan() {
			name := strings.TrimSpace(scanner.Text())
			if name != "" {
				names = append(names, name)
			}
		}

		err := scanner.Err()
		if err != nil {
			return fmt.Errorf("failed to read names from stdin - %w", err)
		}
	}

	if *collisions {
		found := hashkit.FindCollisions(names, kind.Mode())
		for _, collision := range found {
			fmt.Printf("0x%08x %s\n", collision.Hash, strings.Join(collision.Names, " "))
		}

		if len(found) > 0 {
			return fmt.Errorf("found %d hash collision(s)", len(found))
		}

		return nil
	}

	for _, name := range names {
		target, err := hashkit.NewTarget(kind, name)
		if err != nil {
			return err
		}

		fmt.Println(target)
	}

	return nil
}
