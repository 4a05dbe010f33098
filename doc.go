// Package hashcall generates position-independent x86-64 Windows payloads
// that find their imports at runtime by hashing module and export names.
//
// APIs are separated into subpackages, and documented accordingly:
//	- hashkit computes the rotate-right-13 name hashes
//	- resolve models (and self-tests) the runtime loader and export walks
//	- asmkit renders instruction templates, drives the assembler and
//	  verifies the resulting bytes
//	- packager obfuscates the assembled bytes into an artifact
//	- payload ties the stages together into a generation run
//
// For scripting convenience, "OrExit" functions are provided. Any errors
// encountered by these functions are treated as fatal. In such cases,
// an exit handler function is invoked.
package hashcall
