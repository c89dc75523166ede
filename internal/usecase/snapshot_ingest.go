package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"PCRPull/internal/domain/models"
	domrepo "PCRPull/internal/domain/repository"
	pkgkafka "PCRPull/pkg/kafka"
	applogger "PCRPull/pkg/logger"
)

// SnapshotIngestHandler consumes {"symbol","pcr"} messages and records them.
// Undecodable or invalid messages are logged and acknowledged so they do not
// block the partition; persistence failures are returned for retry.
type SnapshotIngestHandler struct {
	topic   string
	svc     *SnapshotService
	l       *applogger.Logger
	metrics domrepo.Metrics
}

func NewSnapshotIngestHandler(topic string, svc *SnapshotService, l *applogger.Logger, metrics domrepo.Metrics) *SnapshotIngestHandler {
	if l == nil {
		l = applogger.Nop()
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return &SnapshotIngestHandler{topic: topic, svc: svc, l: l, metrics: metrics}
}

func (h *SnapshotIngestHandler) Topic() string { return h.topic }

func (h *SnapshotIngestHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string   `json:"symbol"`
		PCR    *float64 `json:"pcr"`
	}
	fields := []applogger.Field{applogger.String("topic", h.topic)}
	if id := pkgkafka.TraceIDFromContext(ctx); id != "" {
		fields = append(fields, applogger.String("trace_id", id))
	}

	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		h.l.Warn("dropping undecodable snapshot message", append(fields, applogger.Error(err))...)
		return nil
	}

	snap, err := h.svc.Record(ctx, models.SnapshotInput{Symbol: m.Symbol, PCR: m.PCR})
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			h.l.Warn("dropping invalid snapshot message", append(fields, applogger.Error(err))...)
			return nil
		}
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.l.Debug("snapshot ingested", append(fields,
		applogger.String("symbol", snap.Symbol),
		applogger.Float64("pcr", snap.PCR),
	)...)
	return nil
}

var _ pkgkafka.MessageHandler = (*SnapshotIngestHandler)(nil)
