// Package packager obfuscates raw payloads with a repeating XOR key and
// writes them to disk.
//
// The artifact file holds only the obfuscated bytes. The key and entry
// offset travel out of band, as Metadata.
package packager

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
)

const (
	// EntryOffset is the offset of a payload's first instruction.
	// Payloads always start executing at their first byte.
	EntryOffset = 0

	// DefaultKey is the key used when none is specified.
	DefaultKey = "0721"
)

// ErrEmptyKey is returned when packaging is requested with an empty key.
var ErrEmptyKey = errors.New("obfuscation key is empty")

// Transform XORs data with key repeated to data's length. Applying it
// twice with the same key returns the original data. The key must not
// be empty.
func Transform(data []byte, key []byte) []byte {
	out := make([]byte, len(data))

	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}

	return out
}

// Artifact is an obfuscated payload.
type Artifact struct {
	// Data is the obfuscated payload.
	Data []byte

	// EntryOffset is where execution begins once Data is restored.
	EntryOffset int

	// Key is the XOR key.
	Key []byte
}

// Package obfuscates raw with key.
func Package(raw []byte, key []byte) (Artifact, error) {
	if len(key) == 0 {
		return Artifact{}, ErrEmptyKey
	}

	return Artifact{
		Data:        Transform(raw, key),
		EntryOffset: EntryOffset,
		Key:         append([]byte(nil), key...),
	}, nil
}

// Unpackage restores the raw payload.
func Unpackage(artifact Artifact) ([]byte, error) {
	if len(artifact.Key) == 0 {
		return nil, ErrEmptyKey
	}

	return Transform(artifact.Data, artifact.Key), nil
}

// Metadata describes an Artifact for whoever loads it.
type Metadata struct {
	EntryOffset int    `json:"entry_offset"`
	Key         string `json:"key"`
	KeyHex      string `json:"key_hex"`
	Length      int    `json:"length"`

	// Digest is the BLAKE2b-256 digest of the obfuscated data,
	// hex encoded.
	Digest string `json:"blake2b_256"`
}

func (o Artifact) Metadata() Metadata {
	digest := blake2b.Sum256(o.Data)

	return Metadata{
		EntryOffset: o.EntryOffset,
		Key:         string(o.Key),
		KeyHex:      hex.EncodeToString(o.Key),
		Length:      len(o.Data),
		Digest:      hex.EncodeToString(digest[:]),
	}
}

// WriteFile writes the artifact's data to path. The data is written
// to a temporary file in the same directory which is renamed to path,
// so path either holds the complete artifact or is left untouched.
func WriteFile(path string, artifact Artifact) error {
	if len(artifact.Key) == 0 {
		return ErrEmptyKey
	}

	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file - %w", err)
	}

	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	_, err = tmp.Write(artifact.Data)
	if err != nil {
		return fmt.Errorf("failed to write artifact - %w", err)
	}

	err = tmp.Chmod(0644)
	if err != nil {
		return fmt.Errorf("failed to set artifact permissions - %w", err)
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("failed to close artifact - %w", err)
	}

	err = os.Rename(tmpName, path)
	if err != nil {
		return fmt.Errorf("failed to move artifact into place - %w", err)
	}

	return nil
}

// ReadFile reads an artifact written by WriteFile.
func ReadFile(path string, key []byte) (Artifact, error) {
	if len(key) == 0 {
		return Artifact{}, ErrEmptyKey
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, err
	}

	return Artifact{
		Data:        data,
		EntryOffset: EntryOffset,
		Key:         append([]byte(nil), key...),
	}, nil
}
