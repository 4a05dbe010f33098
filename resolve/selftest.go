package resolve

import (
	"errors"
	"fmt"
	"log"

	"gitlab.com/hashcall/hashcall/hashkit"
)

// Want is a module/export pair a payload resolves at runtime.
type Want struct {
	Module hashkit.Target
	Export hashkit.Target
}

func (o Want) String() string {
	return fmt.Sprintf("%s!%s", o.Module.Name(), o.Export.Name())
}

// SelfTestConfig configures SelfTest.
type SelfTestConfig struct {
	// Wants lists the symbols to resolve. At least one is required.
	Wants []Want

	// OptLogger, when non-nil, receives progress messages.
	OptLogger *log.Logger
}

var (
	decoyModules = []SimModule{
		{
			Name: "hashcall.exe",
		},
		{
			Name: "ntdll.dll",
			Exports: []SimExport{
				{Name: "NtClose"},
				{Name: "RtlAllocateHeap"},
				{Name: "LdrLoadDll"},
				{Name: "RtlGetVersion"},
			},
		},
		{
			Name:              "apphelp.dll",
			NoExportDirectory: true,
		},
		{
			Name: "KERNELBASE.dll",
			Exports: []SimExport{
				{Name: "HeapAlloc", Forward: "NTDLL.RtlAllocateHeap"},
				{Name: "CreateFileW"},
				{},
				{Name: "GetLastError"},
			},
		},
	}

	decoyExports = []SimExport{
		{Name: "HeapAlloc", Forward: "NTDLL.RtlAllocateHeap"},
		{Name: "AcquireSRWLockExclusive"},
		{Name: "CloseHandle"},
		{},
		{Name: "ExitProcess"},
		{Name: "GetProcAddress"},
		{Name: "VirtualProtect"},
		{Name: "ZwQueryInformationProcess"},
	}
)

// SelfTest resolves every wanted symbol through a simulated process
// that mixes the wanted modules and exports with decoys. Each result
// is checked against the simulated images and against an independent
// PE parser. The returned symbols are in the same order as the wants.
func SelfTest(config SelfTestConfig) ([]Symbol, error) {
	if len(config.Wants) == 0 {
		return nil, errors.New("no symbols to resolve")
	}

	logf := func(format string, v ...interface{}) {
		if config.OptLogger != nil {
			config.OptLogger.Printf(format, v...)
		}
	}

	modules, err := selfTestModules(config.Wants)
	if err != nil {
		return nil, err
	}

	proc, err := BuildSimProcess(modules)
	if err != nil {
		return nil, fmt.Errorf("failed to build simulated process - %w", err)
	}

	resolver := proc.Resolver()
	resolver.OptLogger = config.OptLogger

	symbols := make([]Symbol, len(config.Wants))

	for i, want := range config.Wants {
		sym, err := resolver.Symbol(want.Module, want.Export)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s - %w", want, err)
		}

		err = checkSymbol(proc, want, sym)
		if err != nil {
			return nil, fmt.Errorf("%s resolved incorrectly - %w", want, err)
		}

		logf("resolve: self-test %s -> module %q (entry %d) export %q (name %d, ordinal %d, rva 0x%x)",
			want, sym.Module.Name, sym.Module.Index, sym.Export.Name,
			sym.Export.NameIndex, sym.Export.Ordinal, sym.Export.RVA)

		symbols[i] = sym
	}

	return symbols, nil
}

func selfTestModules(wants []Want) ([]SimModule, error) {
	type wantedModule struct {
		name    string
		exports []SimExport
		hashes  map[uint32]struct{}
	}

	var order []uint32
	byHash := make(map[uint32]*wantedModule)

	for _, want := range wants {
		if want.Module.Kind() != hashkit.Module || want.Export.Kind() != hashkit.Export {
			return nil, fmt.Errorf("%s is not a module/export pair", want)
		}

		mh := want.Module.Hash()

		mod, ok := byHash[mh]
		if !ok {
			mod = &wantedModule{
				// Loaders commonly keep upper-case names, which
				// exercises the payload's case folding.
				name:   asciiUpper(want.Module.Name()),
				hashes: make(map[uint32]struct{}),
			}

			byHash[mh] = mod
			order = append(order, mh)
		}

		eh := want.Export.Hash()
		if _, dup := mod.hashes[eh]; dup {
			continue
		}

		mod.hashes[eh] = struct{}{}
		mod.exports = append(mod.exports, SimExport{Name: want.Export.Name()})
	}

	var modules []SimModule

	for _, decoy := range decoyModules {
		if _, wanted := byHash[hashkit.ModuleHash(decoy.Name)]; wanted {
			continue
		}

		modules = append(modules, decoy)
	}

	for _, mh := range order {
		mod := byHash[mh]

		var exports []SimExport

		// Decoys come first so wanted exports never sit at ordinal 0.
		for _, decoy := range decoyExports {
			if decoy.Name != "" {
				if _, wanted := mod.hashes[hashkit.ExportHash(decoy.Name)]; wanted {
					continue
				}
			}

			exports = append(exports, decoy)
		}

		modules = append(modules, SimModule{
			Name:    mod.name,
			Exports: append(exports, mod.exports...),
		})
	}

	return modules, nil
}

func checkSymbol(proc *SimProcess, want Want, sym Symbol) error {
	base := sym.Module.Base

	rvas, ok := proc.ExportRVAs[base]
	if !ok {
		return fmt.Errorf("module base 0x%x is not a simulated image", base)
	}

	if sym.Module.Name != asciiUpper(want.Module.Name()) {
		return fmt.Errorf("matched module %q", sym.Module.Name)
	}

	if sym.Export.Name != want.Export.Name() {
		return fmt.Errorf("matched export %q", sym.Export.Name)
	}

	if sym.Export.Forwarded {
		return fmt.Errorf("export %q is a forwarder", sym.Export.Name)
	}

	expRVA, ok := rvas[want.Export.Name()]
	if !ok || expRVA != sym.Export.RVA {
		return fmt.Errorf("export rva 0x%x does not match the image's 0x%x", sym.Export.RVA, expRVA)
	}

	parsed, err := ExportsFromImage(proc.Images[base])
	if err != nil {
		return err
	}

	for _, info := range parsed {
		if info.Name != want.Export.Name() {
			continue
		}

		if info.RVA != sym.Export.RVA {
			return fmt.Errorf("pe parser reports rva 0x%x - model resolved 0x%x",
				info.RVA, sym.Export.RVA)
		}

		if info.Ordinal != uint32(sym.Export.Ordinal)+1 {
			return fmt.Errorf("pe parser reports ordinal %d - model resolved index %d",
				info.Ordinal, sym.Export.Ordinal)
		}

		return nil
	}

	return fmt.Errorf("pe parser did not find export %q", want.Export.Name())
}

func asciiUpper(s string) string {
	b := []byte(s)

	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 0x20
		}
	}

	return string(b)
}
