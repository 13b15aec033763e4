// ABOUTME: Snapshot telemetry metrics for dumps and restores of a medium range
// ABOUTME: Records durations, image sizes and failure reasons through the shared telemetry helpers

package snapshot

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/wearlevel/pkg/medium"
	"github.com/KevoDB/wearlevel/pkg/telemetry"
)

const (
	OpTypeDump    = "dump"
	OpTypeRestore = "restore"
)

// Metrics defines the telemetry operations of snapshot dumps and restores.
// Implementations may be no-op.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordDump records a dump that began at start. h is ignored when err is set.
	RecordDump(ctx context.Context, start time.Time, h Header, err error)

	// RecordRestore records a restore that began at start. h is ignored when err is set.
	RecordRestore(ctx context.Context, start time.Time, h Header, err error)
}

type snapshotMetrics struct {
	tel        telemetry.Telemetry
	mediumName string
}

// NewMetrics creates snapshot metrics backed by tel, labelled with the
// medium the images are taken from. If tel is nil, returns a no-op
// implementation.
func NewMetrics(tel telemetry.Telemetry, mediumName string) Metrics {
	if tel == nil {
		return &noopMetrics{}
	}
	return &snapshotMetrics{tel: tel, mediumName: mediumName}
}

func (m *snapshotMetrics) attrs(opType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentSnapshot),
		attribute.String(telemetry.AttrMedium, m.mediumName),
		attribute.String(telemetry.AttrOperationType, opType),
	}
}

func (m *snapshotMetrics) record(ctx context.Context, opType string, start time.Time, h Header, err error) {
	attrs := m.attrs(opType)
	telemetry.RecordDuration(ctx, m.tel, "wearlevel.snapshot.duration", start, attrs...)

	if err != nil {
		m.tel.RecordCounter(ctx, "wearlevel.snapshot.operations.total", 1, append(attrs,
			attribute.String(telemetry.AttrStatus, telemetry.StatusError),
			attribute.String(telemetry.AttrReason, failureReason(err)),
		)...)
		return
	}

	telemetry.RecordBytes(ctx, m.tel, "wearlevel.snapshot.range.bytes", int64(h.Len()), attrs...)
	telemetry.RecordBytes(ctx, m.tel, "wearlevel.snapshot.image.bytes", int64(HeaderSize)+int64(h.PayloadSize),
		append(attrs, attribute.String("codec", h.Codec.String()))...)
	m.tel.RecordCounter(ctx, "wearlevel.snapshot.operations.total", 1, append(attrs,
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)...)
}

func (m *snapshotMetrics) RecordDump(ctx context.Context, start time.Time, h Header, err error) {
	m.record(ctx, OpTypeDump, start, h, err)
}

func (m *snapshotMetrics) RecordRestore(ctx context.Context, start time.Time, h Header, err error) {
	m.record(ctx, OpTypeRestore, start, h, err)
}

func (m *snapshotMetrics) Close() error {
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, ErrUnknownCodec):
		return "unknown_codec"
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, medium.ErrOutOfRange):
		return "out_of_range"
	default:
		return "io"
	}
}

type noopMetrics struct{}

func (n *noopMetrics) RecordDump(ctx context.Context, start time.Time, h Header, err error)    {}
func (n *noopMetrics) RecordRestore(ctx context.Context, start time.Time, h Header, err error) {}
func (n *noopMetrics) Close() error                                                            { return nil }
