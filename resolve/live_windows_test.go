package resolve

import (
	"testing"

	"gitlab.com/hashcall/hashcall/hashkit"
)

func TestLiveSelfTest(t *testing.T) {
	symbols, err := LiveSelfTest([]Want{
		{Module: hashkit.ModuleTarget("kernel32.dll"), Export: hashkit.ExportTarget("WinExec")},
		{Module: hashkit.ModuleTarget("kernel32.dll"), Export: hashkit.ExportTarget("LoadLibraryA")},
		{Module: hashkit.ModuleTarget("user32.dll"), Export: hashkit.ExportTarget("MessageBoxW")},
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, sym := range symbols {
		t.Logf("%s!%s at 0x%x", sym.Module.Name, sym.Export.Name, sym.Export.Address)
	}
}
