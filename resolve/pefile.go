package resolve

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/Binject/debug/pe"
	"gitlab.com/hashcall/hashcall/hashkit"
)

// ExportInfo is a named export of a PE image and its export hash.
type ExportInfo struct {
	Name    string `json:"name"`
	Ordinal uint32 `json:"ordinal"`
	RVA     uint32 `json:"rva"`
	Hash    uint32 `json:"hash"`
}

// ExportsFromFile lists the named exports of the PE file at path.
func ExportsFromFile(path string) ([]ExportInfo, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pe file - %w", err)
	}
	defer f.Close()

	return exportsFrom(f)
}

// ExportsFromImage lists the named exports of a PE image that is
// already mapped (memory layout), such as one built by BuildModuleImage.
func ExportsFromImage(image []byte) ([]ExportInfo, error) {
	f, err := pe.NewFileFromMemory(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("failed to parse mapped pe image - %w", err)
	}
	defer f.Close()

	return exportsFrom(f)
}

func exportsFrom(f *pe.File) ([]ExportInfo, error) {
	exports, err := f.Exports()
	if err != nil {
		return nil, fmt.Errorf("failed to read export directory - %w", err)
	}

	var infos []ExportInfo

	for _, exp := range exports {
		if exp.Name == "" {
			continue
		}

		infos = append(infos, ExportInfo{
			Name:    exp.Name,
			Ordinal: exp.Ordinal,
			RVA:     exp.VirtualAddress,
			Hash:    hashkit.ExportHash(exp.Name),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	return infos, nil
}
