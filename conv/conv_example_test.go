package conv

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
)

func ExampleHexArrayToBytes() {
	// exit(1) syscall shellcode by Charles Stevenson:
	// http://shell-storm.org/shellcode/files/shellcode-55.php
	cArrayContents := []byte(
		`/*  _exit(1); linux/x86 by core */
// 7 bytes _exit(1) ... 'cause we're nice >:) by core
"\x31\xc0"              // xor  %eax,%eax
"\x40"                  // inc  %eax
"\x89\xc3"              // mov  %eax,%ebx
"\xcd\x80"              // int  $0x80
`)

	exit1Bytes, err := HexArrayToBytes(bytes.NewReader(cArrayContents))
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Printf("0x%x\n", exit1Bytes)

	// Output: 0x31c04089c3cd80
}

func ExampleBytesToGoSlice() {
	err := BytesToGoSlice([]byte("WinExec\x00calc\x00\xc3"), os.Stdout)
	if err != nil {
		log.Fatalln(err)
	}

	// Output:
	// []byte{
	// 	0x57, 0x69, 0x6e, 0x45, 0x78, 0x65, 0x63, 0x00, 0x63, 0x61, 0x6c, 0x63,
	// 	0x00, 0xc3,
	// }
}

func ExampleBytesToCArray() {
	err := BytesToCArray("payload", []byte{0xfc, 0x56, 0x57}, os.Stdout)
	if err != nil {
		log.Fatalln(err)
	}

	// Output:
	// unsigned char payload[3] = {
	// 	0xfc, 0x56, 0x57,
	// };
}

func TestHexArrayToBytes_Formats(t *testing.T) {
	tests := []struct {
		in  string
		exp []byte
	}{
		{in: "31c040", exp: []byte{0x31, 0xc0, 0x40}},
		{in: "0x31, 0xC0, 0x40", exp: []byte{0x31, 0xc0, 0x40}},
		{in: "{0x00, 0x0a}", exp: []byte{0x00, 0x0a}},
		{in: `"\x00\x30"`, exp: []byte{0x00, 0x30}},
		{in: "0x31c0 /* xor */ 0x40", exp: []byte{0x31, 0xc0, 0x40}},
		{in: "", exp: nil},
	}

	for _, test := range tests {
		got, err := HexArrayToBytes(strings.NewReader(test.in))
		if err != nil {
			t.Fatalf("%q: %v", test.in, err)
		}

		if !bytes.Equal(got, test.exp) {
			t.Fatalf("%q: expected 0x%x - got 0x%x", test.in, test.exp, got)
		}
	}
}

func TestHexArrayToBytes_Errors(t *testing.T) {
	for _, in := range []string{"0x1, 0x2", "abc", "41 /* unterminated", "41 /x"} {
		_, err := HexArrayToBytes(strings.NewReader(in))
		if err == nil {
			t.Fatalf("%q: expected an error", in)
		}
	}
}
