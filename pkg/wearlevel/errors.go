package wearlevel

import "errors"

var (
	// ErrInvalidRecordSize is returned when the configured record size is not positive
	ErrInvalidRecordSize = errors.New("record size must be positive")
	// ErrRangeExceedsMedium is returned when the reserved range does not fit the medium
	ErrRangeExceedsMedium = errors.New("reserved range exceeds medium")
	// ErrRecordSize is returned when a record's encoded size differs from the store's
	ErrRecordSize = errors.New("record size does not match store")
	// ErrInvalidRange is returned by FormatRange when stop precedes start
	ErrInvalidRange = errors.New("invalid address range")
)
