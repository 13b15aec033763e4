package medium

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

var cellPrefix = []byte("cell/")

// Pebble is a medium whose cells live in a pebble database. Erased cells are
// not stored: a missing key reads as ErasedByte and programming ErasedByte
// deletes the key.
type Pebble struct {
	mu        sync.RWMutex
	db        *pebble.DB
	size      int
	writeOpts *pebble.WriteOptions
	closed    bool
}

// OpenPebble opens or creates a pebble-backed medium of size cells in dir
func OpenPebble(dir string, size int, syncWrites bool) (*Pebble, error) {
	if dir == "" {
		return nil, errors.New("pebble: directory is required")
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble medium: %w", err)
	}

	writeOpts := pebble.NoSync
	if syncWrites {
		writeOpts = pebble.Sync
	}

	return &Pebble{
		db:        db,
		size:      size,
		writeOpts: writeOpts,
	}, nil
}

func cellKey(addr Addr) []byte {
	key := make([]byte, len(cellPrefix)+4)
	copy(key, cellPrefix)
	binary.BigEndian.PutUint32(key[len(cellPrefix):], uint32(addr))
	return key
}

// Load returns the byte stored at addr
func (p *Pebble) Load(addr Addr) (byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrClosed
	}
	if err := checkAddr(addr, p.size); err != nil {
		return 0, err
	}

	val, closer, err := p.db.Get(cellKey(addr))
	if errors.Is(err, pebble.ErrNotFound) {
		return ErasedByte, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cell %d: %w", addr, err)
	}
	defer closer.Close()

	if len(val) != 1 {
		return 0, fmt.Errorf("cell %d holds %d bytes", addr, len(val))
	}
	return val[0], nil
}

// Store programs the cell at addr
func (p *Pebble) Store(addr Addr, value byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if err := checkAddr(addr, p.size); err != nil {
		return err
	}

	if value == ErasedByte {
		err := p.db.Delete(cellKey(addr), p.writeOpts)
		if err != nil {
			return fmt.Errorf("failed to erase cell %d: %w", addr, err)
		}
		return nil
	}

	if err := p.db.Set(cellKey(addr), []byte{value}, p.writeOpts); err != nil {
		return fmt.Errorf("failed to write cell %d: %w", addr, err)
	}
	return nil
}

// Size returns the number of cells
func (p *Pebble) Size() int {
	return p.size
}

// Close closes the underlying database
func (p *Pebble) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}
