// Package bstruct serializes fixed-layout Go structs into raw bytes,
// which is useful for laying out operating system structures in
// simulated memory.
//
// Fields are written in declaration order with no implicit padding.
// Any padding a structure needs must be declared as an explicit field.
package bstruct

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
)

// Byter is implemented by field types that serialize themselves.
type Byter interface {
	ToBytes(binary.ByteOrder) []byte
}

// FieldInfo describes a field that was just serialized.
type FieldInfo struct {
	Index  int
	Offset int
	Name   string
	Type   string
	Value  []byte
}

// ToBytesX86 calls ToBytes using little endian byte order.
func ToBytesX86(s interface{}) ([]byte, error) {
	return ToBytes(s, binary.LittleEndian, nil)
}

// ToBytes serializes struct s. Supported field types are uint8,
// uint16, uint32, uint64, arrays of those, nested structs and Byter.
// All fields must be exported.
//
// optFn, if non-nil, is called for each top-level field.
func ToBytes(s interface{}, bo binary.ByteOrder, optFn func(FieldInfo) error) ([]byte, error) {
	if s == nil {
		return nil, errors.New("struct is nil")
	}

	structValue := reflect.ValueOf(s)
	if structValue.Kind() == reflect.Ptr {
		structValue = structValue.Elem()
	}

	if structValue.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected a struct - got %s", structValue.Kind())
	}

	return appendStruct(nil, structValue, bo, optFn)
}

func appendStruct(b []byte, structValue reflect.Value, bo binary.ByteOrder, optFn func(FieldInfo) error) ([]byte, error) {
	structType := structValue.Type()

	for i := 0; i < structValue.NumField(); i++ {
		field := structType.Field(i)
		if field.PkgPath != "" {
			return nil, fmt.Errorf("field %q (index %d) is unexported", field.Name, i)
		}

		at := len(b)

		var err error
		b, err = appendValue(b, structValue.Field(i), bo)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize field %q (index %d) - %w",
				field.Name, i, err)
		}

		if optFn != nil {
			err := optFn(FieldInfo{
				Index:  i,
				Offset: at,
				Name:   field.Name,
				Type:   field.Type.String(),
				Value:  b[at:],
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return b, nil
}

func appendValue(b []byte, v reflect.Value, bo binary.ByteOrder) ([]byte, error) {
	if byter, ok := v.Interface().(Byter); ok {
		return append(b, byter.ToBytes(bo)...), nil
	}

	switch v.Kind() {
	case reflect.Uint8:
		return append(b, uint8(v.Uint())), nil
	case reflect.Uint16:
		b = append(b, make([]byte, 2)...)
		bo.PutUint16(b[len(b)-2:], uint16(v.Uint()))
		return b, nil
	case reflect.Uint32:
		b = append(b, make([]byte, 4)...)
		bo.PutUint32(b[len(b)-4:], uint32(v.Uint()))
		return b, nil
	case reflect.Uint64:
		b = append(b, make([]byte, 8)...)
		bo.PutUint64(b[len(b)-8:], v.Uint())
		return b, nil
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			var err error
			b, err = appendValue(b, v.Index(i), bo)
			if err != nil {
				return nil, fmt.Errorf("array index %d - %w", i, err)
			}
		}

		return b, nil
	case reflect.Struct:
		return appendStruct(b, v, bo, nil)
	default:
		return nil, fmt.Errorf("unsupported data type %s", v.Type())
	}
}
