// ABOUTME: Store telemetry metrics interface and implementation for tracking wear-leveled store operations
// ABOUTME: Provides instrumentation for recovery, reads, writes, rotations, formats and medium errors

package wearlevel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/wearlevel/pkg/medium"
	"github.com/KevoDB/wearlevel/pkg/telemetry"
)

// StoreMetrics defines the telemetry operations of a Store.
// Implementations may be no-op.
type StoreMetrics interface {
	telemetry.ComponentMetrics

	// RecordRecover records a recovery scan and whether an active block was found.
	RecordRecover(ctx context.Context, duration time.Duration, blocksScanned int, found bool)

	// RecordRead records a read and whether previous data existed.
	RecordRead(ctx context.Context, duration time.Duration, found bool)

	// RecordWrite records a write with the cells it programmed and skipped.
	RecordWrite(ctx context.Context, duration time.Duration, programmed, skipped int, rotated bool)

	// RecordRotation records the active block moving from one address to another.
	RecordRotation(ctx context.Context, from, to medium.Addr)

	// RecordFormat records an erase of cells bytes, of which programmed needed a physical write.
	RecordFormat(ctx context.Context, duration time.Duration, cells, programmed int)

	// RecordError records a failed operation.
	RecordError(ctx context.Context, opType string, err error)
}

type storeMetrics struct {
	tel telemetry.Telemetry
}

// NewStoreMetrics creates store metrics backed by tel.
// If tel is nil, returns a no-op implementation.
func NewStoreMetrics(tel telemetry.Telemetry) StoreMetrics {
	if tel == nil {
		return &noopStoreMetrics{}
	}
	return &storeMetrics{tel: tel}
}

// NewNoopStoreMetrics creates a no-op implementation.
func NewNoopStoreMetrics() StoreMetrics {
	return &noopStoreMetrics{}
}

func componentAttr() attribute.KeyValue {
	return attribute.String(telemetry.AttrComponent, telemetry.ComponentStore)
}

func (m *storeMetrics) RecordRecover(ctx context.Context, duration time.Duration, blocksScanned int, found bool) {
	m.tel.RecordHistogram(ctx, "wearlevel.store.recover.duration", duration.Seconds(),
		componentAttr(),
		attribute.Bool("found", found),
	)

	m.tel.RecordHistogram(ctx, "wearlevel.store.recover.blocks_scanned", float64(blocksScanned),
		componentAttr(),
	)

	m.tel.RecordCounter(ctx, "wearlevel.store.operations.total", 1,
		componentAttr(),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeRecover),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)
}

func (m *storeMetrics) RecordRead(ctx context.Context, duration time.Duration, found bool) {
	m.tel.RecordHistogram(ctx, "wearlevel.store.read.duration", duration.Seconds(),
		componentAttr(),
		attribute.Bool("found", found),
	)

	m.tel.RecordCounter(ctx, "wearlevel.store.operations.total", 1,
		componentAttr(),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeRead),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)
}

func (m *storeMetrics) RecordWrite(ctx context.Context, duration time.Duration, programmed, skipped int, rotated bool) {
	m.tel.RecordHistogram(ctx, "wearlevel.store.write.duration", duration.Seconds(),
		componentAttr(),
		attribute.Bool("rotated", rotated),
	)

	m.tel.RecordCounter(ctx, "wearlevel.store.cells.programmed", int64(programmed), componentAttr())
	m.tel.RecordCounter(ctx, "wearlevel.store.cells.skipped", int64(skipped), componentAttr())

	m.tel.RecordCounter(ctx, "wearlevel.store.operations.total", 1,
		componentAttr(),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeWrite),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)
}

func (m *storeMetrics) RecordRotation(ctx context.Context, from, to medium.Addr) {
	m.tel.RecordCounter(ctx, "wearlevel.store.rotations", 1,
		componentAttr(),
		attribute.Int64("from", int64(from)),
		attribute.Int64(telemetry.AttrBlockAddr, int64(to)),
		attribute.Bool("wrapped", to < from),
	)
}

func (m *storeMetrics) RecordFormat(ctx context.Context, duration time.Duration, cells, programmed int) {
	m.tel.RecordHistogram(ctx, "wearlevel.store.format.duration", duration.Seconds(), componentAttr())
	m.tel.RecordCounter(ctx, "wearlevel.store.format.cells", int64(cells), componentAttr())
	m.tel.RecordCounter(ctx, "wearlevel.store.cells.programmed", int64(programmed), componentAttr())

	m.tel.RecordCounter(ctx, "wearlevel.store.operations.total", 1,
		componentAttr(),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeFormat),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)
}

func (m *storeMetrics) RecordError(ctx context.Context, opType string, err error) {
	m.tel.RecordCounter(ctx, "wearlevel.store.operations.total", 1,
		componentAttr(),
		attribute.String(telemetry.AttrOperationType, opType),
		attribute.String(telemetry.AttrStatus, telemetry.StatusError),
		attribute.String(telemetry.AttrErrorType, errorType(err)),
	)
}

func (m *storeMetrics) Close() error {
	return nil
}

type noopStoreMetrics struct{}

func (n *noopStoreMetrics) RecordRecover(ctx context.Context, duration time.Duration, blocksScanned int, found bool) {
}
func (n *noopStoreMetrics) RecordRead(ctx context.Context, duration time.Duration, found bool) {}
func (n *noopStoreMetrics) RecordWrite(ctx context.Context, duration time.Duration, programmed, skipped int, rotated bool) {
}
func (n *noopStoreMetrics) RecordRotation(ctx context.Context, from, to medium.Addr) {}
func (n *noopStoreMetrics) RecordFormat(ctx context.Context, duration time.Duration, cells, programmed int) {
}
func (n *noopStoreMetrics) RecordError(ctx context.Context, opType string, err error) {}
func (n *noopStoreMetrics) Close() error                                              { return nil }
