// Package resolve models the symbol resolution a generated payload performs
// at runtime, and provides a harness for testing it.
//
// The payload finds a module by walking the process loader's in-memory-order
// module list and hashing each entry's display name, then finds an export by
// scanning the module's export name table and hashing each name. A Resolver
// performs exactly the same walks over a memory.Reader, using the same
// structure offsets (Layout) that are substituted into the payload's
// instruction template. If the Resolver and the template ever disagree,
// it is because one of them was edited without the other.
//
// Resolution failure is a runtime property of the target machine. The
// generator can not detect it ahead of time; these models exist to prove
// that the hashes and offsets it embeds are correct.
package resolve

// Layout holds the x86-64 structure offsets the resolution walks use.
//
// Loader entry offsets are relative to an entry's InMemoryOrderLinks
// field (LDR_DATA_TABLE_ENTRY + 0x10), because that is what the list's
// forward links point at.
type Layout struct {
	// TEBPEB is the offset of the PEB pointer in the TEB (gs:[0x60]).
	TEBPEB uint64

	// PEBLdr is the offset of PEB.Ldr.
	PEBLdr uint64

	// LdrInMemoryOrderList is the offset of
	// PEB_LDR_DATA.InMemoryOrderModuleList (the list head).
	LdrInMemoryOrderList uint64

	// EntryLinks is the offset of InMemoryOrderLinks in
	// LDR_DATA_TABLE_ENTRY.
	EntryLinks uint64

	// EntryDllBase is the offset of DllBase from InMemoryOrderLinks.
	EntryDllBase uint64

	// EntryBaseNameLength is the offset of BaseDllName.Length (in
	// bytes) from InMemoryOrderLinks.
	EntryBaseNameLength uint64

	// EntryBaseNameBuffer is the offset of BaseDllName.Buffer from
	// InMemoryOrderLinks.
	EntryBaseNameBuffer uint64

	// DOSNewHeader is the offset of IMAGE_DOS_HEADER.e_lfanew.
	DOSNewHeader uint64

	// NTExportDirectory is the offset of the export data directory's
	// RVA from the start of IMAGE_NT_HEADERS64.
	NTExportDirectory uint64

	// IMAGE_EXPORT_DIRECTORY field offsets.
	ExportNumberOfNames         uint64
	ExportAddressOfFunctions    uint64
	ExportAddressOfNames        uint64
	ExportAddressOfNameOrdinals uint64
}

// X64 is the layout of 64-bit Windows processes.
var X64 = Layout{
	TEBPEB:                      0x60,
	PEBLdr:                      0x18,
	LdrInMemoryOrderList:        0x20,
	EntryLinks:                  0x10,
	EntryDllBase:                0x20,
	EntryBaseNameLength:         0x48,
	EntryBaseNameBuffer:         0x50,
	DOSNewHeader:                0x3c,
	NTExportDirectory:           0x88,
	ExportNumberOfNames:         0x18,
	ExportAddressOfFunctions:    0x1c,
	ExportAddressOfNames:        0x20,
	ExportAddressOfNameOrdinals: 0x24,
}
