package usecase

import (
	"context"
	"errors"
	"time"

	"PCRPull/internal/domain/models"
	domrepo "PCRPull/internal/domain/repository"
	applogger "PCRPull/pkg/logger"
)

// SnapshotPublisher fans recorded snapshots out to downstream consumers.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snap models.Snapshot) error
}

// SnapshotService is the write/read entry point shared by the HTTP and Kafka adapters.
// Appends go to the store first; cache invalidation and event publishing follow and
// never fail a write that is already durable.
type SnapshotService struct {
	store      domrepo.SnapshotStore
	aggregator *PCRAggregator
	publisher  SnapshotPublisher
	l          *applogger.Logger
	metrics    domrepo.Metrics
}

func NewSnapshotService(store domrepo.SnapshotStore, aggregator *PCRAggregator, publisher SnapshotPublisher, l *applogger.Logger, metrics domrepo.Metrics) *SnapshotService {
	if l == nil {
		l = applogger.Nop()
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return &SnapshotService{store: store, aggregator: aggregator, publisher: publisher, l: l, metrics: metrics}
}

// Record appends one observation.
func (s *SnapshotService) Record(ctx context.Context, in models.SnapshotInput) (models.Snapshot, error) {
	snap, err := s.store.Append(ctx, in)
	if err != nil {
		return models.Snapshot{}, err
	}
	if s.aggregator != nil {
		s.aggregator.Invalidate(ctx, snap.Symbol)
	}
	if s.publisher != nil {
		if perr := s.publisher.PublishSnapshot(ctx, snap); perr != nil {
			s.metrics.RecordError("publish")
			s.l.Warn("snapshot event publish failed", applogger.String("symbol", snap.Symbol), applogger.Error(perr))
		}
	}
	return snap, nil
}

// Latest returns models.ErrNoData when the symbol has no snapshot.
func (s *SnapshotService) Latest(ctx context.Context, symbol string) (models.Snapshot, error) {
	snap, ok, err := s.store.Latest(ctx, symbol)
	if err != nil {
		return models.Snapshot{}, err
	}
	if !ok {
		return models.Snapshot{}, models.ErrNoData
	}
	return snap, nil
}

func (s *SnapshotService) Stats(ctx context.Context) (models.SnapshotStats, error) {
	return s.store.Stats(ctx)
}

// Clear drops the history of symbol, or everything when symbol is empty.
func (s *SnapshotService) Clear(ctx context.Context, symbol string) error {
	if err := s.store.Clear(ctx, symbol); err != nil {
		return err
	}
	if s.aggregator != nil {
		s.aggregator.Invalidate(ctx, symbol)
	}
	s.l.Info("snapshot history cleared", applogger.String("symbol", symbol))
	return nil
}

// Historical delegates to the aggregator.
func (s *SnapshotService) Historical(ctx context.Context, symbol string, windows []int) (*models.PCRReport, error) {
	if s.aggregator == nil {
		return nil, errors.New("aggregator not configured")
	}
	return s.aggregator.HistoricalPCR(ctx, symbol, windows)
}

// Publisher is the kafka-facing half of SnapshotPublisher.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaSnapshotPublisher publishes snapshots keyed by symbol.
type KafkaSnapshotPublisher struct {
	producer Publisher
	topic    string
	timeout  time.Duration
}

func NewKafkaSnapshotPublisher(producer Publisher, topic string) *KafkaSnapshotPublisher {
	return &KafkaSnapshotPublisher{producer: producer, topic: topic, timeout: 5 * time.Second}
}

func (p *KafkaSnapshotPublisher) PublishSnapshot(ctx context.Context, snap models.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.producer.Publish(ctx, p.topic, []byte(snap.Symbol), snap)
}

var _ SnapshotPublisher = (*KafkaSnapshotPublisher)(nil)
