package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"PCRPull/internal/domain/models"
	domrepo "PCRPull/internal/domain/repository"
	domsvc "PCRPull/internal/domain/service"
	"PCRPull/internal/repository"
	"PCRPull/pkg/cache"
	applogger "PCRPull/pkg/logger"
)

// trendThreshold is the absolute change a window must exceed to count as Rising or Falling.
const trendThreshold = 0.01

// DefaultWindows are the look-back windows, in minutes, used when a query names none.
// Aggregators copy it at construction, so changing it later has no effect on them.
var DefaultWindows = []int{5, 15, 30, 60}

// AggregatorOption configures PCRAggregator.
type AggregatorOption func(*PCRAggregator)

// WithAggregatorNow injects the wall clock.
func WithAggregatorNow(now func() time.Time) AggregatorOption {
	return func(a *PCRAggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithDefaultWindows sets the windows used when a query names none.
func WithDefaultWindows(windows []int) AggregatorOption {
	return func(a *PCRAggregator) {
		if len(windows) > 0 {
			a.defaultWindows = append([]int(nil), windows...)
		}
	}
}

// WithReportCache caches reports for ttl. Only reports built while the market is
// closed are cached; their reference instant is the newest snapshot, which only
// moves on append, and appends drop the symbol's entries through Invalidate.
func WithReportCache(c cache.Service, ttl time.Duration) AggregatorOption {
	return func(a *PCRAggregator) {
		if c != nil && ttl > 0 {
			a.cache = c
			a.cacheTTL = ttl
		}
	}
}

// WithAggregatorLogger injects a structured logger.
func WithAggregatorLogger(l *applogger.Logger) AggregatorOption {
	return func(a *PCRAggregator) {
		if l != nil {
			a.l = l
		}
	}
}

// WithAggregatorMetrics injects a metrics recorder.
func WithAggregatorMetrics(m domrepo.Metrics) AggregatorOption {
	return func(a *PCRAggregator) {
		if m != nil {
			a.metrics = m
		}
	}
}

// PCRAggregator answers windowed PCR queries against the snapshot history.
//
// Windows are measured back from a reference instant: the wall clock while the
// market is open, and the newest stored snapshot while it is closed, so after-hours
// queries still describe the last session instead of an empty stretch of dead clock.
type PCRAggregator struct {
	store          domrepo.SnapshotStore
	clock          domrepo.MarketClock
	now            func() time.Time
	defaultWindows []int
	cache          cache.Service
	cacheTTL       time.Duration
	l              *applogger.Logger
	metrics        domrepo.Metrics
}

func NewPCRAggregator(store domrepo.SnapshotStore, clock domrepo.MarketClock, opts ...AggregatorOption) *PCRAggregator {
	a := &PCRAggregator{
		store:          store,
		clock:          clock,
		now:            time.Now,
		defaultWindows: append([]int(nil), DefaultWindows...),
		l:              applogger.Nop(),
		metrics:        domrepo.NopMetrics{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HistoricalPCR computes per-window statistics for symbol.
// It returns models.ErrNoData when nothing was ever collected for the symbol.
func (a *PCRAggregator) HistoricalPCR(ctx context.Context, symbol string, windows []int) (*models.PCRReport, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, models.NewValidationError("symbol", "must not be empty")
	}
	windows, err := a.normalizeWindows(windows)
	if err != nil {
		return nil, err
	}

	// session state and the reference instant are decided per query, never cached
	now := a.now()
	open := a.clock.IsOpen(now)
	cacheable := a.cache != nil && !open

	key := reportKey(symbol, windows)
	if cacheable {
		var cached models.PCRReport
		if err := a.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			a.l.Warn("report cache read failed", applogger.String("key", key), applogger.Error(err))
		}
	}

	start := time.Now()
	snaps, err := a.store.All(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, models.ErrNoData
	}
	repository.SortByTime(snaps)

	ref, mode := now, models.ModeLive
	if !open {
		ref, mode = snaps[len(snaps)-1].RecordedAt, models.ModeHistorical
	}

	report := &models.PCRReport{
		Symbol:         symbol,
		Intervals:      make([]models.WindowResult, 0, len(windows)),
		TotalSnapshots: len(snaps),
		MarketOpen:     open,
		Mode:           mode,
		ReferenceTime:  ref.UTC(),
		DataRange: models.DataRange{
			Oldest: snaps[0].RecordedAt,
			Newest: snaps[len(snaps)-1].RecordedAt,
		},
	}
	for _, w := range windows {
		report.Intervals = append(report.Intervals, ComputeWindow(snaps, ref, w))
	}
	a.metrics.RecordLatency("historical_pcr", time.Since(start).Seconds())

	if cacheable {
		if err := a.cache.Set(ctx, key, report, a.cacheTTL); err != nil {
			a.l.Warn("report cache write failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	return report, nil
}

// Invalidate drops cached reports of symbol.
func (a *PCRAggregator) Invalidate(ctx context.Context, symbol string) {
	if a.cache == nil {
		return
	}
	prefix := "report:"
	if symbol = strings.TrimSpace(symbol); symbol != "" {
		prefix = cache.GenerateKeyWithParams("report", symbol) + ":"
	}
	pattern := cache.BuildPattern(prefix)
	if err := a.cache.DeleteByPattern(ctx, pattern); err != nil {
		a.l.Warn("report cache invalidation failed", applogger.String("pattern", pattern), applogger.Error(err))
	}
}

// ComputeWindow aggregates the snapshots recorded in [ref-minutes, ref].
// snaps must be sorted by RecordedAt ascending.
func ComputeWindow(snaps []models.Snapshot, ref time.Time, minutes int) models.WindowResult {
	refMs := ref.UnixMilli()
	cutoffMs := refMs - int64(minutes)*time.Minute.Milliseconds()

	var (
		sum         float64
		first, last float64
		n           int
	)
	for _, sn := range snaps {
		ts := sn.TimestampMs()
		if ts < cutoffMs || ts > refMs {
			continue
		}
		if n == 0 {
			first = sn.PCR
		}
		last = sn.PCR
		sum += sn.PCR
		n++
	}

	if n == 0 {
		return models.WindowResult{
			Minutes:   minutes,
			Trend:     models.TrendNoData,
			Sentiment: models.SentimentNoData,
		}
	}

	avg := sum / float64(n)
	change := last - first
	changePct := 0.0
	if first != 0 {
		changePct = change / first * 100
	}

	return models.WindowResult{
		Minutes:       minutes,
		PCR:           &avg,
		Trend:         trendOf(change),
		Change:        change,
		ChangePercent: changePct,
		DataPoints:    n,
		Sentiment:     domsvc.Classify(avg),
	}
}

func trendOf(change float64) models.Trend {
	switch {
	case change > trendThreshold:
		return models.TrendRising
	case change < -trendThreshold:
		return models.TrendFalling
	default:
		return models.TrendStable
	}
}

// normalizeWindows falls back to the defaults, rejects non-positive sizes and
// drops repeats while keeping request order.
func (a *PCRAggregator) normalizeWindows(windows []int) ([]int, error) {
	if len(windows) == 0 {
		return append([]int(nil), a.defaultWindows...), nil
	}
	seen := make(map[int]struct{}, len(windows))
	out := make([]int, 0, len(windows))
	for _, w := range windows {
		if w <= 0 {
			return nil, models.NewValidationError("windows", "window must be a positive number of minutes, got %d", w)
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out, nil
}

func reportKey(symbol string, windows []int) string {
	parts := make([]string, len(windows))
	for i, w := range windows {
		parts[i] = strconv.Itoa(w)
	}
	return cache.GenerateKeyWithParams("report", symbol, strings.Join(parts, ","))
}
