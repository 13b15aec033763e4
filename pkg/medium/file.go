package medium

import (
	"bytes"
	"fmt"
	"os"
	"sync"
)

// File is a medium backed by an image file on disk. Each byte of the file is
// one cell.
type File struct {
	mu     sync.Mutex
	file   *os.File
	size   int
	sync   bool
	closed bool
	buf    [1]byte
}

// OpenFile opens or creates the image at path. A missing or short image is
// extended to size bytes of ErasedByte. An existing image larger than size
// keeps its length. With syncWrites set every Store is followed by fsync.
func OpenFile(path string, size int, syncWrites bool) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}

	current := int(fi.Size())
	if current < size {
		fill := bytes.Repeat([]byte{ErasedByte}, size-current)
		if _, err := f.WriteAt(fill, int64(current)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to extend image: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to sync image: %w", err)
		}
		current = size
	}

	return &File{
		file: f,
		size: current,
		sync: syncWrites,
	}, nil
}

// Load returns the byte stored at addr
func (f *File) Load(addr Addr) (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	if err := checkAddr(addr, f.size); err != nil {
		return 0, err
	}
	if _, err := f.file.ReadAt(f.buf[:], int64(addr)); err != nil {
		return 0, fmt.Errorf("failed to read cell %d: %w", addr, err)
	}
	return f.buf[0], nil
}

// Store programs the cell at addr
func (f *File) Store(addr Addr, value byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := checkAddr(addr, f.size); err != nil {
		return err
	}
	f.buf[0] = value
	if _, err := f.file.WriteAt(f.buf[:], int64(addr)); err != nil {
		return fmt.Errorf("failed to write cell %d: %w", addr, err)
	}
	if f.sync {
		if err := f.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync image: %w", err)
		}
	}
	return nil
}

// Size returns the image length in bytes
func (f *File) Size() int {
	return f.size
}

// Close syncs and closes the image file
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	if err := f.file.Sync(); err != nil {
		f.file.Close()
		return fmt.Errorf("failed to sync image: %w", err)
	}
	return f.file.Close()
}
