// Package snapshot dumps a range of a medium to a compressed, checksummed
// image and restores it again.
//
// An image is a fixed HeaderSize header followed by the compressed bytes of
// [Start, Stop). The header carries an xxhash64 of the raw range and a
// checksum of its own fields.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/KevoDB/wearlevel/pkg/medium"
)

const (
	// HeaderSize is the fixed size of the image header in bytes
	HeaderSize = 44
	// CurrentVersion is the current image format version
	CurrentVersion = uint16(1)
)

// Magic opens every image
var Magic = [4]byte{'W', 'L', 'S', 'N'}

var (
	ErrBadMagic           = errors.New("not a snapshot image")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	ErrChecksumMismatch   = errors.New("snapshot checksum mismatch")
	ErrUnknownCodec       = errors.New("unknown compression codec")
	ErrInvalidRange       = errors.New("invalid snapshot range")
)

// Codec selects the payload compression
type Codec uint8

const (
	CodecNone Codec = iota
	CodecZstd
	CodecSnappy
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec converts a codec name to a Codec
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "zstd", "":
		return CodecZstd, nil
	case "snappy":
		return CodecSnappy, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Header describes an image
type Header struct {
	Version     uint16
	Codec       Codec
	Start       medium.Addr
	Stop        medium.Addr
	Timestamp   int64
	Checksum    uint64 // xxhash64 of the raw range
	PayloadSize uint32
}

// Len returns the number of bytes the image covers
func (h Header) Len() int {
	return int(h.Stop - h.Start)
}

// Encode serializes the header
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)

	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = byte(h.Codec)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Start))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Stop))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.Timestamp))
	binary.LittleEndian.PutUint64(buf[24:32], h.Checksum)
	binary.LittleEndian.PutUint32(buf[32:36], h.PayloadSize)

	binary.LittleEndian.PutUint64(buf[36:], xxhash.Sum64(buf[:36]))
	return buf
}

// DecodeHeader parses and verifies a header
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too small: %d bytes, expected %d", len(data), HeaderSize)
	}

	if [4]byte(data[0:4]) != Magic {
		return Header{}, fmt.Errorf("%w: magic %x", ErrBadMagic, data[0:4])
	}

	if want, got := xxhash.Sum64(data[:36]), binary.LittleEndian.Uint64(data[36:44]); want != got {
		return Header{}, fmt.Errorf("%w: header has %d, calculated %d", ErrChecksumMismatch, got, want)
	}

	h := Header{
		Version:     binary.LittleEndian.Uint16(data[4:6]),
		Codec:       Codec(data[6]),
		Start:       medium.Addr(binary.LittleEndian.Uint32(data[8:12])),
		Stop:        medium.Addr(binary.LittleEndian.Uint32(data[12:16])),
		Timestamp:   int64(binary.LittleEndian.Uint64(data[16:24])),
		Checksum:    binary.LittleEndian.Uint64(data[24:32]),
		PayloadSize: binary.LittleEndian.Uint32(data[32:36]),
	}

	if h.Version != CurrentVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Stop < h.Start {
		return Header{}, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, h.Start, h.Stop)
	}

	return h, nil
}

type options struct {
	codec Codec
	level zstd.EncoderLevel
}

// Option configures Write
type Option func(*options)

// WithCodec selects the payload compression; the default is zstd
func WithCodec(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// WithZstdLevel sets the zstd encoder level
func WithZstdLevel(level zstd.EncoderLevel) Option {
	return func(o *options) {
		o.level = level
	}
}

// ParseLevel converts a zstd level name (fastest, default, better, best) to
// an encoder level. An empty name selects the default level.
func ParseLevel(name string) (zstd.EncoderLevel, error) {
	if name == "" {
		return zstd.SpeedDefault, nil
	}
	ok, level := zstd.EncoderLevelFromString(name)
	if !ok {
		return 0, fmt.Errorf("unknown zstd level %q", name)
	}
	return level, nil
}

// Write dumps [start, stop) of m to w
func Write(w io.Writer, m medium.Medium, start, stop medium.Addr, opts ...Option) (Header, error) {
	o := options{codec: CodecZstd, level: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := readRange(m, start, stop)
	if err != nil {
		return Header{}, err
	}

	payload, err := compress(raw, o)
	if err != nil {
		return Header{}, err
	}

	h := Header{
		Version:     CurrentVersion,
		Codec:       o.codec,
		Start:       start,
		Stop:        stop,
		Timestamp:   time.Now().UnixNano(),
		Checksum:    xxhash.Sum64(raw),
		PayloadSize: uint32(len(payload)),
	}

	if _, err := w.Write(h.Encode()); err != nil {
		return Header{}, fmt.Errorf("failed to write snapshot header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return Header{}, fmt.Errorf("failed to write snapshot payload: %w", err)
	}

	return h, nil
}

// Read parses an image from r and returns its header and raw bytes
func Read(r io.Reader) (Header, []byte, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Header{}, nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}

	h, err := DecodeHeader(hdr)
	if err != nil {
		return Header{}, nil, err
	}

	payload := make([]byte, h.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, fmt.Errorf("failed to read snapshot payload: %w", err)
	}

	raw, err := decompress(payload, h.Codec, h.Len())
	if err != nil {
		return Header{}, nil, err
	}

	if len(raw) != h.Len() {
		return Header{}, nil, fmt.Errorf("%w: payload holds %d bytes, header covers %d",
			ErrChecksumMismatch, len(raw), h.Len())
	}
	if sum := xxhash.Sum64(raw); sum != h.Checksum {
		return Header{}, nil, fmt.Errorf("%w: image has %d, calculated %d", ErrChecksumMismatch, h.Checksum, sum)
	}

	return h, raw, nil
}

// Restore writes an image from r back to m at the addresses it was taken
// from. Cells that already hold the image's value are not reprogrammed. The
// whole image is verified before anything is written.
func Restore(r io.Reader, m medium.Medium) (Header, error) {
	h, raw, err := Read(r)
	if err != nil {
		return Header{}, err
	}

	if int64(h.Stop) > int64(m.Size()) {
		return Header{}, fmt.Errorf("%w: image ends at %d, medium holds %d bytes",
			medium.ErrOutOfRange, h.Stop, m.Size())
	}

	for i, b := range raw {
		addr := h.Start + medium.Addr(i)
		if _, err := medium.Update(m, addr, b); err != nil {
			return Header{}, fmt.Errorf("failed to restore address %d: %w", addr, err)
		}
	}

	return h, nil
}

// Fingerprint returns the xxhash64 of [start, stop) of m
func Fingerprint(m medium.Medium, start, stop medium.Addr) (uint64, error) {
	if stop < start {
		return 0, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, stop)
	}

	d := xxhash.New()
	var b [1]byte
	for addr := start; addr < stop; addr++ {
		v, err := m.Load(addr)
		if err != nil {
			return 0, fmt.Errorf("failed to read address %d: %w", addr, err)
		}
		b[0] = v
		d.Write(b[:])
	}
	return d.Sum64(), nil
}

func readRange(m medium.Medium, start, stop medium.Addr) ([]byte, error) {
	if stop < start {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, stop)
	}

	raw := make([]byte, 0, stop-start)
	for addr := start; addr < stop; addr++ {
		v, err := m.Load(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to read address %d: %w", addr, err)
		}
		raw = append(raw, v)
	}
	return raw, nil
}

func compress(raw []byte, o options) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	switch o.codec {
	case CodecNone:
		return raw, nil

	case CodecZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(o.level))
		if err != nil {
			return nil, fmt.Errorf("failed to create ZSTD encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil

	case CodecSnappy:
		return snappy.Encode(nil, raw), nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, o.codec)
	}
}

func decompress(payload []byte, codec Codec, size int) ([]byte, error) {
	if len(payload) == 0 {
		return payload, nil
	}

	switch codec {
	case CodecNone:
		return payload, nil

	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
		}
		defer dec.Close()

		raw, err := dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChecksumMismatch, err)
		}
		return raw, nil

	case CodecSnappy:
		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChecksumMismatch, err)
		}
		return raw, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}
