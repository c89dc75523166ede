package repository

import (
	"context"
	"time"

	"PCRPull/internal/domain/models"
)

// SnapshotStore owns the durable snapshot history.
// Append and Clear must not be interleaved against the same store;
// implementations serialize them internally.
type SnapshotStore interface {
	Append(ctx context.Context, in models.SnapshotInput) (models.Snapshot, error)
	Latest(ctx context.Context, symbol string) (models.Snapshot, bool, error)
	AllForWindow(ctx context.Context, symbol string, since time.Time) ([]models.Snapshot, error)
	All(ctx context.Context, symbol string) ([]models.Snapshot, error)
	Stats(ctx context.Context) (models.SnapshotStats, error)
	// Clear removes every snapshot, or only those of symbol when it is non-empty.
	Clear(ctx context.Context, symbol string) error
}

// MarketClock reports whether the exchange is in a trading session at t.
type MarketClock interface {
	IsOpen(t time.Time) bool
}

type Metrics interface {
	RecordAppend(symbol string, pcr float64)
	RecordError(kind string)
	RecordRecovery(source string)
	RecordLatency(op string, seconds float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordAppend(string, float64) {}
func (NopMetrics) RecordError(string) {}
func (NopMetrics) RecordRecovery(string) {}
func (NopMetrics) RecordLatency(string, float64) {}
