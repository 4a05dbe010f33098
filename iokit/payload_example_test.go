package iokit

import (
	"encoding/hex"
	"fmt"
	"log"
	"testing"

	"gitlab.com/hashcall/hashcall/memory"
)

func ExampleNewPayloadBuilder() {
	pm := memory.PointerMakerForX86_64()

	payload, err := NewPayloadBuilder().
		String("MZ").
		PadTo(0x08).
		Uint32(0xc0ded00d).
		Uint16(0x8664).
		Align(8).
		Pointer(pm.FromUint(0x7ffac0ded00d)).
		CString("WinExec").
		WideString("k32").
		Build()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Print(hex.Dump(payload))

	// Output:
	// 00000000  4d 5a 00 00 00 00 00 00  0d d0 de c0 64 86 00 00  |MZ..........d...|
	// 00000010  0d d0 de c0 fa 7f 00 00  57 69 6e 45 78 65 63 00  |........WinExec.|
	// 00000020  6b 00 33 00 32 00                                 |k.3.2.|
}

func TestPayloadBuilder_PadToError(t *testing.T) {
	_, err := NewPayloadBuilder().
		Zeros(0x10).
		PadTo(0x08).
		Uint32(1).
		Build()
	if err == nil {
		t.Fatal("expected an error when padding backwards")
	}
}

func TestPayloadBuilder_FirstErrorWins(t *testing.T) {
	_, err := NewPayloadBuilder().
		Align(0).
		Zeros(-1).
		Build()
	if err == nil || err.Error() != "alignment must be positive - got 0" {
		t.Fatalf("expected the first error to be kept - got %v", err)
	}
}
