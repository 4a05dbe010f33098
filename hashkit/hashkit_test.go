package hashkit

import (
	"testing"
)

const (
	kernel32Hash = 0x8fecd63f
	winExecHash  = 0x0e8afe98
)

func TestRegressionValues(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		exp  uint32
	}{
		{name: "kernel32.dll", mode: ModuleName, exp: kernel32Hash},
		{name: "KERNEL32.DLL", mode: ModuleName, exp: kernel32Hash},
		{name: "WinExec", mode: ExportName, exp: winExecHash},
		{name: "LoadLibraryA", mode: ExportName, exp: 0xec0e4e8e},
		{name: "MessageBoxW", mode: ExportName, exp: 0xbc4da2be},
		{name: "ntdll.dll", mode: ModuleName, exp: 0xcef6e822},
		{name: "user32.dll", mode: ModuleName, exp: 0x542eee26},
		{name: "a", mode: ExportName, exp: 0x61},
		{name: "ab", mode: ExportName, exp: 0x03080062},
	}

	for _, test := range tests {
		got := Hash(test.name, test.mode)
		if got != test.exp {
			t.Errorf("%s hash of %q: expected 0x%08x - got 0x%08x",
				test.mode, test.name, test.exp, got)
		}
	}
}

func TestHashEmpty(t *testing.T) {
	for _, mode := range []Mode{ModuleName, ExportName} {
		if h := Hash("", mode); h != 0 {
			t.Fatalf("%s hash of empty string should be 0 - got 0x%08x", mode, h)
		}
	}
}

func TestHashIsStable(t *testing.T) {
	first := ExportHash("GetProcAddress")

	for i := 0; i < 100; i++ {
		if h := ExportHash("GetProcAddress"); h != first {
			t.Fatalf("iteration %d: expected 0x%08x - got 0x%08x", i, first, h)
		}
	}

	if first != 0x7c0dfcaa {
		t.Fatalf("expected 0x7c0dfcaa - got 0x%08x", first)
	}
}

func TestHashIsOrderDependent(t *testing.T) {
	if ExportHash("ab") == ExportHash("ba") {
		t.Fatal("hash should depend on character order")
	}
}

func TestExportHashIsCaseSensitive(t *testing.T) {
	if ExportHash("WinExec") == ExportHash("winexec") {
		t.Fatal("export hash should be case-sensitive")
	}
}

func TestModuleHashFoldsOnlyASCII(t *testing.T) {
	if ModuleHash("Straße") != ModuleHash("straße") {
		t.Fatal("ASCII 'S' should fold to 's'")
	}

	if ModuleHash("Straße") != 0x6aff58df {
		t.Fatalf("expected 0x6aff58df - got 0x%08x", ModuleHash("Straße"))
	}

	// U+1E9E (capital sharp s) must not be folded to U+00DF.
	if ModuleHash("STRAẞE") == ModuleHash("straße") {
		t.Fatal("non-ASCII characters must not be case folded")
	}

	// U+00C4 must not be folded to U+00E4.
	if ModuleHash("Ä.dll") == ModuleHash("ä.dll") {
		t.Fatal("non-ASCII characters must not be case folded")
	}
}

func TestModuleHashUsesUTF16CodeUnits(t *testing.T) {
	// U+1F600 is encoded as the surrogate pair 0xd83d 0xde00.
	exp := HashWide([]uint16{'x', 0xd83d, 0xde00})

	if got := ModuleHash("x\U0001F600"); got != exp {
		t.Fatalf("expected 0x%08x - got 0x%08x", exp, got)
	}
}

func TestHashBytesStopsAtNUL(t *testing.T) {
	if HashBytes([]byte("WinExec\x00garbage")) != winExecHash {
		t.Fatal("hashing should stop at the first zero byte")
	}
}

func TestHashWideMatchesModuleHash(t *testing.T) {
	wide := []uint16{'K', 'e', 'R', 'n', 'E', 'l', '3', '2', '.', 'D', 'l', 'L'}

	if HashWide(wide) != kernel32Hash {
		t.Fatalf("expected 0x%08x - got 0x%08x", kernel32Hash, HashWide(wide))
	}
}

func TestRor32(t *testing.T) {
	if Ror32(1, 13) != 0x00080000 {
		t.Fatalf("got 0x%08x", Ror32(1, 13))
	}

	if Ror32(0x80000000, 32) != 0x80000000 {
		t.Fatalf("rotating by 32 should be a no-op - got 0x%08x", Ror32(0x80000000, 32))
	}
}

func TestFindCollisions(t *testing.T) {
	collisions := FindCollisions([]string{"WinExec", "WinExec", "LoadLibraryA"}, ExportName)
	if len(collisions) != 0 {
		t.Fatalf("expected no collisions - got %v", collisions)
	}

	// "KERNEL32.DLL" and "kernel32.dll" are distinct strings that hash
	// identically in module mode.
	collisions = FindCollisions([]string{"KERNEL32.DLL", "kernel32.dll", "ntdll.dll"}, ModuleName)
	if len(collisions) != 1 {
		t.Fatalf("expected one collision - got %v", collisions)
	}

	if collisions[0].Hash != kernel32Hash || len(collisions[0].Names) != 2 {
		t.Fatalf("unexpected collision: %+v", collisions[0])
	}
}

func TestNewTarget(t *testing.T) {
	target, err := NewTarget(Module, "KERNEL32.DLL")
	if err != nil {
		t.Fatal(err)
	}

	if target.Hash() != kernel32Hash {
		t.Fatalf("expected 0x%08x - got 0x%08x", kernel32Hash, target.Hash())
	}

	if target.Name() != "KERNEL32.DLL" || target.Kind() != Module {
		t.Fatalf("unexpected target: %s", target)
	}

	_, err = NewTarget(Export, "")
	if err == nil {
		t.Fatal("expected an error for an empty name")
	}

	_, err = NewTarget(Export, "Win\x00Exec")
	if err == nil {
		t.Fatal("expected an error for an export name containing NUL")
	}

	_, err = NewTarget(Module, "\x00")
	if err == nil {
		t.Fatal("expected an error for a module name containing NUL")
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Export")
	if err != nil || k != Export {
		t.Fatalf("expected export - got %s, %v", k, err)
	}

	_, err = ParseKind("section")
	if err == nil {
		t.Fatal("expected an error")
	}
}
