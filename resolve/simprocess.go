package resolve

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"unicode/utf16"

	"gitlab.com/hashcall/hashcall/bstruct"
	"gitlab.com/hashcall/hashcall/iokit"
	"gitlab.com/hashcall/hashcall/memory"
)

const (
	simPEBAddr     = 0x000000d0_00000000
	simLdrAddr     = 0x000000d0_00001000
	simEntriesAddr = 0x000000d0_00100000
	simEntryStride = 0x200
	simEntryName   = 0x80
	simMaxNameLen  = simEntryStride - simEntryName - 2

	simFirstImageBase = 0x00007ff8_00000000
	simImageStride    = 0x01000000

	simTextRVA      = 0x1000
	simStubSize     = 0x10
	simSectionAlign = 0x1000
	simFileAlign    = 0x200
	simHeadersSize  = 0x400
	simNTOffset     = 0x80
)

// SimExport describes an export of a simulated module.
type SimExport struct {
	// Name is the export's name. Empty means ordinal-only.
	Name string

	// Forward, when non-empty, makes the export a forwarder
	// (e.g., "NTDLL.RtlAllocateHeap").
	Forward string
}

// SimModule describes a module loaded into a simulated process.
type SimModule struct {
	// Name is the loader's display name (BaseDllName).
	Name string

	// Base is the image base. Zero picks one automatically.
	Base uint64

	// Exports are laid out in AddressOfFunctions in this order. The
	// name table is sorted, like a linker would emit it.
	Exports []SimExport

	// NoExportDirectory omits the export data directory entirely.
	NoExportDirectory bool
}

// SimProcess is a simulated process address space containing a PEB,
// a loader module list and mapped module images.
type SimProcess struct {
	Memory *memory.Space
	PEB    uint64

	// Modules are the modules in loader order with their bases filled in.
	Modules []SimModule

	// Images maps a module's base address to its mapped image bytes.
	Images map[uint64][]byte

	// ExportRVAs maps a module's base address to its export
	// name -> function RVA table.
	ExportRVAs map[uint64]map[string]uint32
}

// Resolver returns a Resolver that walks the simulated process.
func (o *SimProcess) Resolver() *Resolver {
	return &Resolver{
		Mem: o.Memory,
		PEB: o.PEB,
	}
}

// Windows structure layouts. Only what the walks and the Binject
// parser read is meaningful; the rest stays zero.

type listEntry struct {
	Flink uint64
	Blink uint64
}

type unicodeString struct {
	Length        uint16
	MaximumLength uint16
	Padding       uint32
	Buffer        uint64
}

type pebLdrData struct {
	Length                          uint32
	Initialized                     uint8
	Padding                         [3]byte
	SsHandle                        uint64
	InLoadOrderModuleList           listEntry
	InMemoryOrderModuleList         listEntry
	InInitializationOrderModuleList listEntry
	EntryInProgress                 uint64
}

type ldrDataTableEntry struct {
	InLoadOrderLinks           listEntry
	InMemoryOrderLinks         listEntry
	InInitializationOrderLinks listEntry
	DllBase                    uint64
	EntryPoint                 uint64
	SizeOfImage                uint32
	Padding                    uint32
	FullDllName                unicodeString
	BaseDllName                unicodeString
}

type imageFileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

type imageDataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

type imageOptionalHeader64 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [16]imageDataDirectory
}

type imageSectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

type imageExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// BuildSimProcess lays out a simulated process whose loader list
// contains modules in the specified order.
func BuildSimProcess(modules []SimModule) (*SimProcess, error) {
	if len(modules) == 0 {
		return nil, errors.New("at least one module is required")
	}

	proc := &SimProcess{
		Memory:     &memory.Space{},
		PEB:        simPEBAddr,
		Images:     make(map[uint64][]byte),
		ExportRVAs: make(map[uint64]map[string]uint32),
	}

	pm := memory.PointerMakerForX86_64()

	peb, err := iokit.NewPayloadBuilder().
		PadTo(int(X64.PEBLdr)).
		Pointer(pm.FromUint(simLdrAddr)).
		PadTo(0x400).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build peb - %w", err)
	}

	err = proc.Memory.Map(simPEBAddr, peb)
	if err != nil {
		return nil, err
	}

	entryAddr := func(i int) uint64 {
		return simEntriesAddr + uint64(i)*simEntryStride
	}

	// Every list threads through the same field offset of each
	// entry, so links are computed relative to the field.
	linkAt := func(i int, field uint64, head uint64) listEntry {
		prev, next := head, head

		if i > 0 {
			prev = entryAddr(i-1) + field
		}

		if i < len(modules)-1 {
			next = entryAddr(i+1) + field
		}

		return listEntry{Flink: next, Blink: prev}
	}

	loadHead := uint64(simLdrAddr + 0x10)
	memHead := uint64(simLdrAddr) + X64.LdrInMemoryOrderList
	initHead := uint64(simLdrAddr + 0x30)

	for i := range modules {
		mod := modules[i]

		if mod.Name == "" {
			return nil, fmt.Errorf("module %d has no name", i)
		}

		if mod.Base == 0 {
			mod.Base = simFirstImageBase + uint64(i)*simImageStride
		}

		image, rvas, err := BuildModuleImage(mod)
		if err != nil {
			return nil, fmt.Errorf("failed to build image for %q - %w", mod.Name, err)
		}

		err = proc.Memory.Map(mod.Base, image)
		if err != nil {
			return nil, fmt.Errorf("failed to map image for %q - %w", mod.Name, err)
		}

		proc.Images[mod.Base] = image
		proc.ExportRVAs[mod.Base] = rvas
		proc.Modules = append(proc.Modules, mod)

		nameUnits := utf16.Encode([]rune(mod.Name))
		nameBytes := len(nameUnits) * 2
		if nameBytes > simMaxNameLen {
			return nil, fmt.Errorf("module name %q is too long for the simulated loader", mod.Name)
		}

		addr := entryAddr(i)
		nameAddr := addr + simEntryName

		entry, err := bstruct.ToBytesX86(ldrDataTableEntry{
			InLoadOrderLinks:           linkAt(i, 0x00, loadHead),
			InMemoryOrderLinks:         linkAt(i, X64.EntryLinks, memHead),
			InInitializationOrderLinks: linkAt(i, 0x20, initHead),
			DllBase:                    mod.Base,
			SizeOfImage:                uint32(len(image)),
			FullDllName: unicodeString{
				Length:        uint16(nameBytes),
				MaximumLength: uint16(nameBytes + 2),
				Buffer:        nameAddr,
			},
			BaseDllName: unicodeString{
				Length:        uint16(nameBytes),
				MaximumLength: uint16(nameBytes + 2),
				Buffer:        nameAddr,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build loader entry %d - %w", i, err)
		}

		region, err := iokit.NewPayloadBuilder().
			Bytes(entry).
			PadTo(simEntryName).
			WideString(mod.Name).
			Uint16(0).
			PadTo(simEntryStride).
			Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build loader entry %d region - %w", i, err)
		}

		err = proc.Memory.Map(addr, region)
		if err != nil {
			return nil, err
		}
	}

	last := len(modules) - 1

	ldr, err := bstruct.ToBytesX86(pebLdrData{
		Length:      0x58,
		Initialized: 1,
		InLoadOrderModuleList: listEntry{
			Flink: entryAddr(0),
			Blink: entryAddr(last),
		},
		InMemoryOrderModuleList: listEntry{
			Flink: entryAddr(0) + X64.EntryLinks,
			Blink: entryAddr(last) + X64.EntryLinks,
		},
		InInitializationOrderModuleList: listEntry{
			Flink: entryAddr(0) + 0x20,
			Blink: entryAddr(last) + 0x20,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build loader data - %w", err)
	}

	err = proc.Memory.Map(simLdrAddr, ldr)
	if err != nil {
		return nil, err
	}

	return proc, nil
}

// BuildModuleImage builds a mapped (memory layout) PE32+ DLL image
// for mod. It returns the image and the export name -> RVA table.
//
// The image has a .text section with one return stub per export and,
// unless NoExportDirectory is set, an .edata section holding the export
// directory. File offsets equal RVAs so the image is also a valid file.
func BuildModuleImage(mod SimModule) ([]byte, map[string]uint32, error) {
	numFuncs := len(mod.Exports)

	textSize := numFuncs * simStubSize
	if textSize == 0 {
		textSize = simStubSize
	}

	edataRVA := alignUp(simTextRVA+textSize, simSectionAlign)

	edata, rvas, err := buildExportSection(mod, uint32(edataRVA))
	if err != nil {
		return nil, nil, err
	}

	sizeOfImage := alignUp(edataRVA+len(edata), simSectionAlign)

	var exportDir imageDataDirectory
	if !mod.NoExportDirectory {
		exportDir = imageDataDirectory{
			VirtualAddress: uint32(edataRVA),
			Size:           uint32(len(edata)),
		}
	}

	optHeader := imageOptionalHeader64{
		Magic:                       0x20b,
		MajorLinkerVersion:          14,
		SizeOfCode:                  uint32(alignUp(textSize, simFileAlign)),
		SizeOfInitializedData:       uint32(alignUp(len(edata), simFileAlign)),
		BaseOfCode:                  simTextRVA,
		ImageBase:                   mod.Base,
		SectionAlignment:            simSectionAlign,
		FileAlignment:               simFileAlign,
		MajorOperatingSystemVersion: 10,
		MajorSubsystemVersion:       10,
		SizeOfImage:                 uint32(sizeOfImage),
		SizeOfHeaders:               simHeadersSize,
		Subsystem:                   2,
		DllCharacteristics:          0x4160,
		SizeOfStackReserve:          0x40000,
		SizeOfStackCommit:           0x1000,
		SizeOfHeapReserve:           0x100000,
		SizeOfHeapCommit:            0x1000,
		NumberOfRvaAndSizes:         16,
	}
	optHeader.DataDirectory[0] = exportDir

	optHeaderBytes, err := bstruct.ToBytesX86(optHeader)
	if err != nil {
		return nil, nil, err
	}

	fileHeader, err := bstruct.ToBytesX86(imageFileHeader{
		Machine:              0x8664,
		NumberOfSections:     2,
		SizeOfOptionalHeader: uint16(len(optHeaderBytes)),
		Characteristics:      0x2022,
	})
	if err != nil {
		return nil, nil, err
	}

	text, err := bstruct.ToBytesX86(imageSectionHeader{
		Name:             [8]byte{'.', 't', 'e', 'x', 't'},
		VirtualSize:      uint32(textSize),
		VirtualAddress:   simTextRVA,
		SizeOfRawData:    uint32(alignUp(textSize, simFileAlign)),
		PointerToRawData: simTextRVA,
		Characteristics:  0x60000020,
	})
	if err != nil {
		return nil, nil, err
	}

	edataHeader, err := bstruct.ToBytesX86(imageSectionHeader{
		Name:             [8]byte{'.', 'e', 'd', 'a', 't', 'a'},
		VirtualSize:      uint32(len(edata)),
		VirtualAddress:   uint32(edataRVA),
		SizeOfRawData:    uint32(alignUp(len(edata), simFileAlign)),
		PointerToRawData: uint32(edataRVA),
		Characteristics:  0x40000040,
	})
	if err != nil {
		return nil, nil, err
	}

	stub := append([]byte{0xc3}, bytes.Repeat([]byte{0xcc}, simStubSize-1)...)

	image, err := iokit.NewPayloadBuilder().
		String("MZ").
		PadTo(int(X64.DOSNewHeader)).
		Uint32(simNTOffset).
		PadTo(simNTOffset).
		String("PE\x00\x00").
		Bytes(fileHeader).
		Bytes(optHeaderBytes).
		Bytes(text).
		Bytes(edataHeader).
		PadTo(simTextRVA).
		RepeatBytes(stub, numFuncs).
		PadTo(edataRVA).
		Bytes(edata).
		PadTo(sizeOfImage).
		Build()
	if err != nil {
		return nil, nil, err
	}

	return image, rvas, nil
}

func buildExportSection(mod SimModule, sectionRVA uint32) ([]byte, map[string]uint32, error) {
	type namedFunc struct {
		name  string
		index uint16
	}

	var named []namedFunc
	seen := make(map[string]struct{})

	for i, exp := range mod.Exports {
		if exp.Name == "" {
			continue
		}

		if _, dup := seen[exp.Name]; dup {
			return nil, nil, fmt.Errorf("duplicate export name %q", exp.Name)
		}

		seen[exp.Name] = struct{}{}
		named = append(named, namedFunc{name: exp.Name, index: uint16(i)})
	}

	sort.Slice(named, func(i, j int) bool {
		return named[i].name < named[j].name
	})

	numFuncs := len(mod.Exports)
	numNames := len(named)

	const dirSize = 40

	functionsRVA := sectionRVA + dirSize
	namesRVA := functionsRVA + uint32(numFuncs)*4
	ordinalsRVA := namesRVA + uint32(numNames)*4
	stringsRVA := ordinalsRVA + uint32(numNames)*2

	// String pool: DLL name, export names, forwarder strings.
	pool := iokit.NewPayloadBuilder()
	poolRVA := func() uint32 {
		return stringsRVA + uint32(pool.Len())
	}

	dllNameRVA := poolRVA()
	pool.CString(mod.Name)

	nameRVAs := make([]uint32, numNames)
	for i, n := range named {
		nameRVAs[i] = poolRVA()
		pool.CString(n.name)
	}

	rvas := make(map[string]uint32, numNames)
	funcRVAs := make([]uint32, numFuncs)

	for i, exp := range mod.Exports {
		if exp.Forward != "" {
			funcRVAs[i] = poolRVA()
			pool.CString(exp.Forward)
		} else {
			funcRVAs[i] = simTextRVA + uint32(i)*simStubSize
		}

		if exp.Name != "" {
			rvas[exp.Name] = funcRVAs[i]
		}
	}

	strs, err := pool.Build()
	if err != nil {
		return nil, nil, err
	}

	dir, err := bstruct.ToBytesX86(imageExportDirectory{
		Name:                  dllNameRVA,
		Base:                  1,
		NumberOfFunctions:     uint32(numFuncs),
		NumberOfNames:         uint32(numNames),
		AddressOfFunctions:    functionsRVA,
		AddressOfNames:        namesRVA,
		AddressOfNameOrdinals: ordinalsRVA,
	})
	if err != nil {
		return nil, nil, err
	}

	section := iokit.NewPayloadBuilder().Bytes(dir)

	for _, rva := range funcRVAs {
		section.Uint32(rva)
	}

	for _, rva := range nameRVAs {
		section.Uint32(rva)
	}

	for _, n := range named {
		section.Uint16(n.index)
	}

	section.Bytes(strs).Align(8)

	b, err := section.Build()
	if err != nil {
		return nil, nil, err
	}

	return b, rvas, nil
}

func alignUp(n int, align int) int {
	return (n + align - 1) &^ (align - 1)
}
