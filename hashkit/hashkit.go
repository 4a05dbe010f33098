// Package hashkit implements the rotate-right-13 name hash shared by the
// generator and the payloads it emits.
//
// The same accumulator is used for both hash flavors. Module names are
// hashed as lowercased UTF-16 code units (which is how the loader stores
// them), export names are hashed as raw bytes up to the first NUL.
package hashkit

import (
	"fmt"
	"log"
	"unicode/utf16"
)

const (
	// RotateBits is the rotate-right distance applied to the accumulator
	// before each character is added.
	RotateBits = 13
)

var (
	// DefaultExitFn is invoked by functions ending in the "OrExit"
	// suffix when an error occurs.
	DefaultExitFn = func(err error) {
		log.Fatalln(err)
	}
)

// Mode selects the input normalization applied before hashing.
type Mode int

const (
	// ModuleName hashes a loaded module's display name: ASCII letters
	// are lowercased and each character is a 16-bit code unit.
	ModuleName Mode = iota

	// ExportName hashes an exported symbol name as-is: each character
	// is an 8-bit code unit and hashing stops at the first zero byte.
	ExportName
)

func (o Mode) String() string {
	switch o {
	case ModuleName:
		return "module"
	case ExportName:
		return "export"
	default:
		return fmt.Sprintf("unknown-mode-%d", int(o))
	}
}

// Ror32 rotates v right by n bits.
func Ror32(v uint32, n uint) uint32 {
	n %= 32

	return v>>n | v<<(32-n)
}

// Hash returns the hash of name in the specified mode.
func Hash(name string, mode Mode) uint32 {
	switch mode {
	case ModuleName:
		return ModuleHash(name)
	case ExportName:
		return ExportHash(name)
	default:
		panic(fmt.Sprintf("unsupported hash mode: %d", mode))
	}
}

// ModuleHash hashes a module display name such as "kernel32.dll".
func ModuleHash(name string) uint32 {
	return HashWide(utf16.Encode([]rune(name)))
}

// ExportHash hashes an export name such as "WinExec".
func ExportHash(name string) uint32 {
	return HashBytes([]byte(name))
}

// HashWide hashes a buffer of UTF-16 code units the way the payload
// reads the loader's wide-character name buffers: two bytes at a time,
// folding only 'A' through 'Z'.
func HashWide(units []uint16) uint32 {
	var acc uint32

	for _, u := range units {
		if u >= 'A' && u <= 'Z' {
			u |= 0x20
		}

		acc = Ror32(acc, RotateBits) + uint32(u)
	}

	return acc
}

// HashBytes hashes b up to (not including) the first zero byte.
func HashBytes(b []byte) uint32 {
	var acc uint32

	for _, c := range b {
		if c == 0 {
			break
		}

		acc = Ror32(acc, RotateBits) + uint32(c)
	}

	return acc
}

// Collision describes two or more distinct names sharing one hash.
type Collision struct {
	Hash  uint32   `json:"hash"`
	Names []string `json:"names"`
}

// FindCollisions hashes every name in the specified mode and returns
// the groups of distinct names that share a hash value. Duplicate names
// are not collisions.
func FindCollisions(names []string, mode Mode) []Collision {
	byHash := make(map[uint32][]string)
	var order []uint32

	for _, name := range names {
		h := Hash(name, mode)

		existing, seen := byHash[h]
		if !seen {
			order = append(order, h)
		}

		dup := false
		for _, e := range existing {
			if e == name {
				dup = true
				break
			}
		}

		if !dup {
			byHash[h] = append(existing, name)
		}
	}

	var collisions []Collision
	for _, h := range order {
		if len(byHash[h]) > 1 {
			collisions = append(collisions, Collision{
				Hash:  h,
				Names: byHash[h],
			})
		}
	}

	return collisions
}
