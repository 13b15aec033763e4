// Package medium provides byte-addressable persistent storage with limited
// per-cell write endurance, modelled after EEPROM.
package medium

import (
	"errors"
	"fmt"
)

// Addr is a byte offset into a medium.
type Addr uint32

// ErasedByte is the value of a cell after erase (all bits set).
const ErasedByte byte = 0xFF

var (
	// ErrOutOfRange is returned when an address lies outside the medium
	ErrOutOfRange = errors.New("address out of range")
	// ErrClosed is returned when operating on a closed medium
	ErrClosed = errors.New("medium is closed")
)

// Medium is a raw persistent-memory access capability.
type Medium interface {
	// Load returns the byte stored at addr.
	Load(addr Addr) (byte, error)

	// Store programs the cell at addr unconditionally. Every call counts as
	// one physical write against the cell's endurance.
	Store(addr Addr, value byte) error

	// Size returns the number of addressable bytes.
	Size() int
}

// Update writes value to addr only if the cell currently holds a different
// value. It reports whether a physical write took place.
func Update(m Medium, addr Addr, value byte) (bool, error) {
	current, err := m.Load(addr)
	if err != nil {
		return false, err
	}
	if current == value {
		return false, nil
	}
	if err := m.Store(addr, value); err != nil {
		return false, err
	}
	return true, nil
}

func checkAddr(addr Addr, size int) error {
	if int64(addr) >= int64(size) {
		return fmt.Errorf("%w: %d (size %d)", ErrOutOfRange, addr, size)
	}
	return nil
}
