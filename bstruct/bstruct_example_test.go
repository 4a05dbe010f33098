package bstruct_test

import (
	"encoding/binary"
	"fmt"
	"log"

	"gitlab.com/hashcall/hashcall/bstruct"
)

func ExampleToBytesX86() {
	type unicodeString struct {
		Length        uint16
		MaximumLength uint16
		Padding       uint32
		Buffer        uint64
	}

	b, err := bstruct.ToBytesX86(unicodeString{
		Length:        24,
		MaximumLength: 26,
		Buffer:        0x7ffac0ded00d,
	})
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Printf("0x%x", b)

	// Output:
	// 0x18001a00000000000dd0dec0fa7f0000
}

func ExampleToBytes() {
	type example struct {
		Magic [2]byte
		Count uint16
		Value uint32
	}

	b, err := bstruct.ToBytes(example{
		Magic: [2]byte{'M', 'Z'},
		Count: 666,
		Value: 0xc0ded00d,
	}, binary.BigEndian, nil)
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Printf("0x%x", b)

	// Output:
	// 0x4d5a029ac0ded00d
}
