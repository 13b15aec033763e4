// Package record defines the fixed-size serialization contract for values
// kept in a wear-leveled store.
package record

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrSizeMismatch is returned when encoded data does not match a record's size
var ErrSizeMismatch = errors.New("record size mismatch")

// Record is a value with a fixed, byte-order-stable encoding. MarshalBinary
// must always return exactly Size() bytes and UnmarshalBinary accepts exactly
// Size() bytes.
type Record interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler

	// Size returns the encoded length in bytes.
	Size() int
}

// Bytes is an opaque fixed-length blob.
type Bytes struct {
	data []byte
}

// NewBytes returns a zeroed blob of n bytes
func NewBytes(n int) *Bytes {
	return &Bytes{data: make([]byte, n)}
}

// BytesOf returns a blob holding a copy of b; its size is len(b)
func BytesOf(b []byte) *Bytes {
	data := make([]byte, len(b))
	copy(data, b)
	return &Bytes{data: data}
}

// Size returns the blob length
func (b *Bytes) Size() int {
	return len(b.data)
}

// Bytes returns the blob contents. The slice aliases the record.
func (b *Bytes) Bytes() []byte {
	return b.data
}

// MarshalBinary returns a copy of the blob
func (b *Bytes) MarshalBinary() ([]byte, error) {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}

// UnmarshalBinary replaces the blob contents
func (b *Bytes) UnmarshalBinary(data []byte) error {
	if len(data) != len(b.data) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(data), len(b.data))
	}
	copy(b.data, data)
	return nil
}

// Fixed wraps any value with a fixed encoding/binary layout (fixed-size
// integers, floats, bools, arrays and structs of those) and encodes it in
// little-endian order.
type Fixed[T any] struct {
	Value T
}

// NewFixed wraps v
func NewFixed[T any](v T) *Fixed[T] {
	return &Fixed[T]{Value: v}
}

// Size returns the encoded length of T, or -1 if T has no fixed layout
func (f *Fixed[T]) Size() int {
	return binary.Size(f.Value)
}

// MarshalBinary encodes the value
func (f *Fixed[T]) MarshalBinary() ([]byte, error) {
	if f.Size() < 0 {
		return nil, fmt.Errorf("type %T has no fixed size", f.Value)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, f.Value); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes data into the value
func (f *Fixed[T]) UnmarshalBinary(data []byte) error {
	size := f.Size()
	if size < 0 {
		return fmt.Errorf("type %T has no fixed size", f.Value)
	}
	if len(data) != size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(data), size)
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &f.Value); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}
