package resolve

import (
	"errors"
	"fmt"
	"log"

	"gitlab.com/hashcall/hashcall/hashkit"
	"gitlab.com/hashcall/hashcall/memory"
)

var (
	// ErrResolutionFailure is wrapped by every error that means
	// "the payload would not find this symbol".
	ErrResolutionFailure = errors.New("symbol resolution failed")

	ErrModuleNotFound = fmt.Errorf("module not found in loader list - %w", ErrResolutionFailure)
	ErrNoExports      = fmt.Errorf("module has no named exports - %w", ErrResolutionFailure)
	ErrExportNotFound = fmt.Errorf("export not found in name table - %w", ErrResolutionFailure)

	// ErrLoaderListCorrupt is returned when the loader list does
	// not lead back to its head within Resolver.MaxModules steps.
	ErrLoaderListCorrupt = errors.New("loader list does not return to its head")
)

const (
	// DefaultMaxModules bounds loader list walks.
	DefaultMaxModules = 4096

	maxExportNameLen = 4096
)

// Resolver performs the payload's resolution walks over an address space.
type Resolver struct {
	// Mem is the address space being walked.
	Mem memory.Reader

	// PEB is the address of the process environment block.
	PEB uint64

	// Layout defaults to X64 when zero.
	Layout Layout

	// MaxModules defaults to DefaultMaxModules when zero.
	MaxModules int

	// OptLogger, when non-nil, receives a line per visited entry.
	OptLogger *log.Logger
}

func (o *Resolver) layout() Layout {
	if o.Layout == (Layout{}) {
		return X64
	}

	return o.Layout
}

func (o *Resolver) logf(format string, v ...interface{}) {
	if o.OptLogger != nil {
		o.OptLogger.Printf(format, v...)
	}
}

// Module is a loader list entry that matched a target hash.
type Module struct {
	// Name is the entry's display name as stored by the loader.
	Name string

	// Base is the module's DllBase.
	Base uint64

	// Index is the entry's position in the in-memory-order list.
	Index int
}

// Module walks the in-memory-order module list and returns the first
// entry whose lowercased display name hashes to hash.
func (o *Resolver) Module(hash uint32) (Module, error) {
	l := o.layout()
	mem := memory.Accessor{R: o.Mem}

	ldr, err := mem.Pointer(o.PEB + l.PEBLdr)
	if err != nil {
		return Module{}, fmt.Errorf("failed to read PEB.Ldr - %w", err)
	}

	head := ldr + l.LdrInMemoryOrderList

	entry, err := mem.Pointer(head)
	if err != nil {
		return Module{}, fmt.Errorf("failed to read first loader entry - %w", err)
	}

	limit := o.MaxModules
	if limit <= 0 {
		limit = DefaultMaxModules
	}

	for i := 0; entry != head; i++ {
		if i >= limit {
			return Module{}, fmt.Errorf("gave up after %d entries - %w", limit, ErrLoaderListCorrupt)
		}

		nameLen, err := mem.Uint16(entry + l.EntryBaseNameLength)
		if err != nil {
			return Module{}, fmt.Errorf("failed to read name length of entry %d at 0x%x - %w",
				i, entry, err)
		}

		// Names shorter than one wide character are skipped, as the
		// payload does after halving the length.
		if nameLen >= 2 {
			bufAddr, err := mem.Pointer(entry + l.EntryBaseNameBuffer)
			if err != nil {
				return Module{}, fmt.Errorf("failed to read name buffer pointer of entry %d - %w",
					i, err)
			}

			// The payload consumes whole wide characters, so an
			// odd trailing byte is ignored.
			units, err := mem.Wide(bufAddr, int(nameLen&^1))
			if err != nil {
				return Module{}, fmt.Errorf("failed to read name of entry %d - %w", i, err)
			}

			h := hashkit.HashWide(units)

			o.logf("resolve: loader entry %d at 0x%x hashes to 0x%08x", i, entry, h)

			if h == hash {
				base, err := mem.Pointer(entry + l.EntryDllBase)
				if err != nil {
					return Module{}, fmt.Errorf("failed to read DllBase of entry %d - %w", i, err)
				}

				name, _ := mem.WideString(bufAddr, int(nameLen&^1))

				return Module{
					Name:  name,
					Base:  base,
					Index: i,
				}, nil
			}
		}

		entry, err = mem.Pointer(entry)
		if err != nil {
			return Module{}, fmt.Errorf("failed to read forward link of entry %d - %w", i, err)
		}
	}

	return Module{}, fmt.Errorf("0x%08x - %w", hash, ErrModuleNotFound)
}

// Export is an export that matched a target hash.
type Export struct {
	Name string

	// NameIndex is the position of the name in AddressOfNames.
	NameIndex uint32

	// Ordinal is the unbiased index into AddressOfFunctions.
	Ordinal uint16

	// RVA is the function's relative virtual address.
	RVA uint32

	// Address is the module base plus RVA.
	Address uint64

	// Forwarded is true when RVA points inside the export directory,
	// meaning it is a forwarder string rather than code. The payload
	// does not handle forwarders and would call the string.
	Forwarded bool
}

// Export scans the export name table of the module mapped at base and
// returns the first export whose name hashes to hash.
func (o *Resolver) Export(base uint64, hash uint32) (Export, error) {
	l := o.layout()
	mem := memory.Accessor{R: o.Mem}

	lfanew, err := mem.Uint32(base + l.DOSNewHeader)
	if err != nil {
		return Export{}, fmt.Errorf("failed to read e_lfanew - %w", err)
	}

	nt := base + uint64(lfanew)

	dirRVA, err := mem.Uint32(nt + l.NTExportDirectory)
	if err != nil {
		return Export{}, fmt.Errorf("failed to read export directory rva - %w", err)
	}

	if dirRVA == 0 {
		return Export{}, fmt.Errorf("no export directory - %w", ErrNoExports)
	}

	dirSize, err := mem.Uint32(nt + l.NTExportDirectory + 4)
	if err != nil {
		return Export{}, fmt.Errorf("failed to read export directory size - %w", err)
	}

	dir := base + uint64(dirRVA)

	numNames, err := mem.Uint32(dir + l.ExportNumberOfNames)
	if err != nil {
		return Export{}, fmt.Errorf("failed to read NumberOfNames - %w", err)
	}

	if numNames == 0 {
		return Export{}, fmt.Errorf("NumberOfNames is zero - %w", ErrNoExports)
	}

	namesRVA, err := mem.Uint32(dir + l.ExportAddressOfNames)
	if err != nil {
		return Export{}, fmt.Errorf("failed to read AddressOfNames - %w", err)
	}

	for i := uint32(0); i < numNames; i++ {
		nameRVA, err := mem.Uint32(base + uint64(namesRVA) + uint64(i)*4)
		if err != nil {
			return Export{}, fmt.Errorf("failed to read name pointer %d - %w", i, err)
		}

		name, err := mem.CString(base+uint64(nameRVA), maxExportNameLen)
		if err != nil {
			return Export{}, fmt.Errorf("failed to read export name %d - %w", i, err)
		}

		if hashkit.HashBytes(name) != hash {
			continue
		}

		o.logf("resolve: export name %d (%q) matches 0x%08x", i, name, hash)

		return o.exportAt(base, dir, dirRVA, dirSize, i, string(name))
	}

	return Export{}, fmt.Errorf("0x%08x - %w", hash, ErrExportNotFound)
}

func (o *Resolver) exportAt(base uint64, dir uint64, dirRVA uint32, dirSize uint32, index uint32, name string) (Export, error) {
	l := o.layout()
	mem := memory.Accessor{R: o.Mem}

	ordinalsRVA, err := mem.Uint32(dir + l.ExportAddressOfNameOrdinals)
	if err != nil {
		return Export{}, fmt.Errorf("failed to read AddressOfNameOrdinals - %w", err)
	}

	ordinal, err := mem.Uint16(base + uint64(ordinalsRVA) + uint64(index)*2)
	if err != nil {
		return Export{}, fmt.Errorf("failed to read name ordinal %d - %w", index, err)
	}

	functionsRVA, err := mem.Uint32(dir + l.ExportAddressOfFunctions)
	if err != nil {
		return Export{}, fmt.Errorf("failed to read AddressOfFunctions - %w", err)
	}

	rva, err := mem.Uint32(base + uint64(functionsRVA) + uint64(ordinal)*4)
	if err != nil {
		return Export{}, fmt.Errorf("failed to read function rva for ordinal %d - %w", ordinal, err)
	}

	return Export{
		Name:      name,
		NameIndex: index,
		Ordinal:   ordinal,
		RVA:       rva,
		Address:   base + uint64(rva),
		Forwarded: rva >= dirRVA && rva < dirRVA+dirSize,
	}, nil
}

// Symbol is a fully resolved module/export pair.
type Symbol struct {
	Module Module
	Export Export
}

// Symbol resolves module and then export within it.
func (o *Resolver) Symbol(module hashkit.Target, export hashkit.Target) (Symbol, error) {
	if module.Kind() != hashkit.Module {
		return Symbol{}, fmt.Errorf("%s is not a module target", module)
	}

	if export.Kind() != hashkit.Export {
		return Symbol{}, fmt.Errorf("%s is not an export target", export)
	}

	mod, err := o.Module(module.Hash())
	if err != nil {
		return Symbol{}, fmt.Errorf("failed to resolve %s - %w", module, err)
	}

	exp, err := o.Export(mod.Base, export.Hash())
	if err != nil {
		return Symbol{}, fmt.Errorf("failed to resolve %s in %s - %w", export, mod.Name, err)
	}

	return Symbol{Module: mod, Export: exp}, nil
}
