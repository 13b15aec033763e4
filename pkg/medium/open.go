package medium

import (
	"fmt"
	"io"

	"github.com/KevoDB/wearlevel/pkg/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the medium described by cfg. The returned closer releases the
// medium's resources and is safe to call for in-memory media.
func Open(cfg config.MediumConfig) (Medium, io.Closer, error) {
	switch cfg.Kind {
	case config.MediumMemory:
		if cfg.Size <= 0 {
			return nil, nil, fmt.Errorf("%w: memory medium size must be positive, got %d", config.ErrInvalidConfig, cfg.Size)
		}
		return NewMemory(cfg.Size), nopCloser{}, nil
	case config.MediumFile:
		f, err := OpenFile(cfg.Path, cfg.Size, cfg.Sync)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	case config.MediumPebble:
		if cfg.Size <= 0 {
			return nil, nil, fmt.Errorf("%w: pebble medium size must be positive, got %d", config.ErrInvalidConfig, cfg.Size)
		}
		p, err := OpenPebble(cfg.Path, cfg.Size, cfg.Sync)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown medium kind %q", config.ErrInvalidConfig, cfg.Kind)
	}
}
