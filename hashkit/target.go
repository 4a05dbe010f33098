package hashkit

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies what a Target resolves to.
type Kind int

const (
	Module Kind = iota
	Export
)

func (o Kind) String() string {
	switch o {
	case Module:
		return "module"
	case Export:
		return "export"
	default:
		return fmt.Sprintf("unknown-kind-%d", int(o))
	}
}

// Mode returns the hash mode used for names of this kind.
func (o Kind) Mode() Mode {
	if o == Module {
		return ModuleName
	}

	return ExportName
}

// ParseKind parses "module" or "export" (case-insensitive).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "module", "mod", "m":
		return Module, nil
	case "export", "exp", "e":
		return Export, nil
	default:
		return 0, fmt.Errorf("unknown target kind: %q", s)
	}
}

// Target is a symbol the payload must locate at runtime.
//
// Targets are values. The hash is computed once by NewTarget and is
// never recomputed elsewhere.
type Target struct {
	kind Kind
	name string
	hash uint32
}

// NewTargetOrExit calls NewTarget. It calls DefaultExitFn if an error occurs.
func NewTargetOrExit(kind Kind, name string) Target {
	t, err := NewTarget(kind, name)
	if err != nil {
		DefaultExitFn(fmt.Errorf("hashkit: failed to create target - %w", err))
	}

	return t
}

// NewTarget creates a Target, hashing name according to kind.
func NewTarget(kind Kind, name string) (Target, error) {
	if name == "" {
		return Target{}, errors.New("target name is empty")
	}

	switch kind {
	case Module, Export:
		if strings.IndexByte(name, 0) >= 0 {
			return Target{}, fmt.Errorf("%s name %q contains a NUL byte", kind, name)
		}
	default:
		return Target{}, fmt.Errorf("unsupported target kind: %d", kind)
	}

	return Target{
		kind: kind,
		name: name,
		hash: Hash(name, kind.Mode()),
	}, nil
}

// ModuleTarget is shorthand for NewTargetOrExit(Module, name).
func ModuleTarget(name string) Target {
	return NewTargetOrExit(Module, name)
}

// ExportTarget is shorthand for NewTargetOrExit(Export, name).
func ExportTarget(name string) Target {
	return NewTargetOrExit(Export, name)
}

func (o Target) Kind() Kind {
	return o.kind
}

func (o Target) Name() string {
	return o.name
}

func (o Target) Hash() uint32 {
	return o.hash
}

// IsZero reports whether the Target was never initialized.
func (o Target) IsZero() bool {
	return o.name == ""
}

func (o Target) String() string {
	return fmt.Sprintf("%s %s 0x%08x", o.kind, o.name, o.hash)
}
