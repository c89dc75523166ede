package models

import (
	"encoding/json"
	"time"

	xutil "PCRPull/pkg/util"
)

// Snapshot is one timestamped put-call-ratio reading for one symbol.
// RecordedAt is stamped by the store at append time, never by the caller.
type Snapshot struct {
	Symbol     string
	PCR        float64
	RecordedAt time.Time
}

// TimestampMs returns RecordedAt as epoch milliseconds, the unit used for comparisons.
func (s Snapshot) TimestampMs() int64 { return s.RecordedAt.UnixMilli() }

type snapshotJSON struct {
	Symbol      string  `json:"symbol"`
	PCR         float64 `json:"pcr"`
	Timestamp   string  `json:"timestamp"`
	TimestampMs int64   `json:"timestampMs"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Symbol:      s.Symbol,
		PCR:         s.PCR,
		Timestamp:   s.RecordedAt.UTC().Format(time.RFC3339Nano),
		TimestampMs: s.TimestampMs(),
	})
}

// UnmarshalJSON prefers timestampMs and falls back to the ISO timestamp.
// A record with neither decodes with a zero RecordedAt.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Symbol = raw.Symbol
	s.PCR = raw.PCR
	switch {
	case raw.TimestampMs > 0:
		s.RecordedAt = time.UnixMilli(raw.TimestampMs).UTC()
	default:
		if t, ok := xutil.ParseTime(raw.Timestamp); ok {
			s.RecordedAt = t.UTC()
		} else {
			s.RecordedAt = time.Time{}
		}
	}
	return nil
}

// SnapshotInput is what a producer hands to the store.
// PCR is a pointer so a missing value can be told apart from zero.
type SnapshotInput struct {
	Symbol string   `json:"symbol"`
	PCR    *float64 `json:"pcr"`
}

// SnapshotStats summarizes the persisted history.
type SnapshotStats struct {
	TotalSnapshots int            `json:"totalSnapshots"`
	Symbols        []string       `json:"symbols"`
	PerSymbol      map[string]int `json:"perSymbol"`
	Oldest         *time.Time     `json:"oldest,omitempty"`
	Newest         *time.Time     `json:"newest,omitempty"`
	MarketOpen     bool           `json:"marketOpen"`
	RetentionHours int            `json:"retentionHours"`
}
