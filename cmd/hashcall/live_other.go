//go:build !windows

package main

import (
	"errors"

	"gitlab.com/hashcall/hashcall/resolve"
)

func liveSelfTest([]resolve.Want) ([]resolve.Symbol, error) {
	return nil, errors.New("-live is only supported on windows")
}
