package resolve

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ProcessMemory is a memory.Reader over a live process.
type ProcessMemory struct {
	Process windows.Handle
}

func (o ProcessMemory) ReadAt(p []byte, addr uint64) error {
	if len(p) == 0 {
		return nil
	}

	var n uintptr

	err := windows.ReadProcessMemory(o.Process, uintptr(addr), &p[0], uintptr(len(p)), &n)
	if err != nil {
		return fmt.Errorf("failed to read %d bytes at 0x%x - %w", len(p), addr, err)
	}

	if int(n) != len(p) {
		return fmt.Errorf("short read at 0x%x - got %d of %d bytes", addr, n, len(p))
	}

	return nil
}

// Live returns a Resolver that walks the current process's loader
// list, exactly as a payload running in this process would.
func Live() *Resolver {
	peb := windows.RtlGetCurrentPeb()

	return &Resolver{
		Mem: ProcessMemory{Process: windows.CurrentProcess()},
		PEB: uint64(uintptr(unsafe.Pointer(peb))),
	}
}

// LiveSelfTest resolves each want in the current process and compares
// the result with the system's own GetProcAddress. Each module is
// loaded first, the way a payload would have to load it.
func LiveSelfTest(wants []Want) ([]Symbol, error) {
	resolver := Live()

	symbols := make([]Symbol, len(wants))

	for i, want := range wants {
		handle, err := windows.LoadLibrary(want.Module.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to load %s - %w", want.Module.Name(), err)
		}

		sym, err := resolver.Symbol(want.Module, want.Export)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s - %w", want, err)
		}

		if sym.Module.Base != uint64(handle) {
			return nil, fmt.Errorf("%s: model found base 0x%x - loader reports 0x%x",
				want, sym.Module.Base, uintptr(handle))
		}

		proc, err := windows.GetProcAddress(handle, want.Export.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to get address of %s - %w", want, err)
		}

		// GetProcAddress follows forwarders and the payload does not.
		if !sym.Export.Forwarded && sym.Export.Address != uint64(proc) {
			return nil, fmt.Errorf("%s: model found 0x%x - GetProcAddress reports 0x%x",
				want, sym.Export.Address, proc)
		}

		symbols[i] = sym
	}

	return symbols, nil
}
