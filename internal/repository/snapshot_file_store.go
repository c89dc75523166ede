package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"PCRPull/internal/domain/models"
	domrepo "PCRPull/internal/domain/repository"
	applogger "PCRPull/pkg/logger"
)

// DefaultRetention is how long a snapshot survives before pruning.
const DefaultRetention = 24 * time.Hour

// document is the on-disk layout: {"snapshots": [...]}.
type document struct {
	Snapshots []models.Snapshot `json:"snapshots"`
}

// FileStoreOption configures FileSnapshotStore.
type FileStoreOption func(*FileSnapshotStore)

// WithBackupPath overrides the backup location (default "<path>.backup").
func WithBackupPath(path string) FileStoreOption {
	return func(s *FileSnapshotStore) {
		if path != "" {
			s.backupPath = path
		}
	}
}

// WithRetention sets the retention horizon applied on every append.
func WithRetention(d time.Duration) FileStoreOption {
	return func(s *FileSnapshotStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithNow injects the clock used to stamp snapshots.
func WithNow(now func() time.Time) FileStoreOption {
	return func(s *FileSnapshotStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStoreLogger injects a structured logger.
func WithStoreLogger(l *applogger.Logger) FileStoreOption {
	return func(s *FileSnapshotStore) {
		if l != nil {
			s.l = l
		}
	}
}

// WithStoreMetrics injects a metrics recorder.
func WithStoreMetrics(m domrepo.Metrics) FileStoreOption {
	return func(s *FileSnapshotStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

// FileSnapshotStore keeps the whole snapshot history in one JSON document.
//
// Writes go to a temp sibling that is renamed over the primary, so readers see
// either the old or the new document. The previous primary is copied to a backup
// first, and load falls back to it when the primary does not parse.
// Mutations are serialized by mu; reads take no lock.
type FileSnapshotStore struct {
	path       string
	backupPath string
	retention  time.Duration
	clock      domrepo.MarketClock
	now        func() time.Time
	l          *applogger.Logger
	metrics    domrepo.Metrics

	mu sync.Mutex

	// rename is os.Rename; tests swap it to fail between temp write and replace.
	rename func(oldpath, newpath string) error
}

// NewFileSnapshotStore creates a store rooted at path. The file is created on first write.
func NewFileSnapshotStore(path string, clock domrepo.MarketClock, opts ...FileStoreOption) (*FileSnapshotStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("snapshot store: path is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("snapshot store: market clock is required")
	}
	s := &FileSnapshotStore{
		path:       path,
		backupPath: path + ".backup",
		retention:  DefaultRetention,
		clock:      clock,
		now:        time.Now,
		l:          applogger.Nop(),
		metrics:    domrepo.NopMetrics{},
		rename:     os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the primary document path.
func (s *FileSnapshotStore) Path() string { return s.path }

// BackupPath returns the backup document path.
func (s *FileSnapshotStore) BackupPath() string { return s.backupPath }

// Append validates in, stamps it with the current instant, prunes expired
// snapshots of every symbol and persists the result atomically.
func (s *FileSnapshotStore) Append(ctx context.Context, in models.SnapshotInput) (models.Snapshot, error) {
	snap, err := validateInput(in)
	if err != nil {
		s.metrics.RecordError("validation")
		return models.Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Snapshot{}, err
	}

	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Truncate(time.Millisecond)
	snap.RecordedAt = now

	doc := s.load()
	doc.Snapshots = append(doc.Snapshots, snap)
	pruned := prune(&doc, now.Add(-s.retention))

	if err := s.save(doc); err != nil {
		s.metrics.RecordError("persist")
		s.l.Error("snapshot append failed",
			applogger.String("symbol", snap.Symbol),
			applogger.String("path", s.path),
			applogger.Error(err),
		)
		return models.Snapshot{}, err
	}

	s.metrics.RecordAppend(snap.Symbol, snap.PCR)
	s.metrics.RecordLatency("store_append", time.Since(start).Seconds())
	if pruned > 0 {
		s.l.Debug("pruned expired snapshots",
			applogger.Int("removed", pruned),
			applogger.Int("remaining", len(doc.Snapshots)),
		)
	}
	return snap, nil
}

// Latest returns the most recent snapshot for symbol; ok is false when there is none.
func (s *FileSnapshotStore) Latest(ctx context.Context, symbol string) (models.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Snapshot{}, false, err
	}
	symbol = strings.TrimSpace(symbol)

	var (
		latest models.Snapshot
		found  bool
	)
	for _, sn := range s.load().Snapshots {
		if sn.Symbol != symbol {
			continue
		}
		// later entries win ties
		if !found || !sn.RecordedAt.Before(latest.RecordedAt) {
			latest = sn
			found = true
		}
	}
	return latest, found, nil
}

// AllForWindow returns the snapshots of symbol recorded at or after since, oldest first.
func (s *FileSnapshotStore) AllForWindow(ctx context.Context, symbol string, since time.Time) ([]models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = strings.TrimSpace(symbol)

	out := make([]models.Snapshot, 0)
	for _, sn := range s.load().Snapshots {
		if sn.Symbol == symbol && !sn.RecordedAt.Before(since) {
			out = append(out, sn)
		}
	}
	SortByTime(out)
	return out, nil
}

// All returns the full history of symbol, oldest first.
func (s *FileSnapshotStore) All(ctx context.Context, symbol string) ([]models.Snapshot, error) {
	return s.AllForWindow(ctx, symbol, time.Time{})
}

// Stats summarizes the persisted history. It is advisory: a document lost to
// double corruption reports as empty.
func (s *FileSnapshotStore) Stats(ctx context.Context) (models.SnapshotStats, error) {
	if err := ctx.Err(); err != nil {
		return models.SnapshotStats{}, err
	}
	doc := s.load()

	st := models.SnapshotStats{
		TotalSnapshots: len(doc.Snapshots),
		Symbols:        make([]string, 0),
		PerSymbol:      make(map[string]int),
		MarketOpen:     s.clock.IsOpen(s.now()),
		RetentionHours: int(s.retention / time.Hour),
	}
	for _, sn := range doc.Snapshots {
		if _, seen := st.PerSymbol[sn.Symbol]; !seen {
			st.Symbols = append(st.Symbols, sn.Symbol)
		}
		st.PerSymbol[sn.Symbol]++

		t := sn.RecordedAt
		if st.Oldest == nil || t.Before(*st.Oldest) {
			st.Oldest = &t
		}
		if st.Newest == nil || t.After(*st.Newest) {
			st.Newest = &t
		}
	}
	sort.Strings(st.Symbols)
	return st, nil
}

// Clear removes every snapshot, or only those of symbol when it is non-empty.
func (s *FileSnapshotStore) Clear(ctx context.Context, symbol string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	symbol = strings.TrimSpace(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{}
	removed := 0
	if symbol != "" {
		doc = s.load()
		kept := doc.Snapshots[:0]
		for _, sn := range doc.Snapshots {
			if sn.Symbol == symbol {
				removed++
				continue
			}
			kept = append(kept, sn)
		}
		doc.Snapshots = kept
	}

	if err := s.save(doc); err != nil {
		s.metrics.RecordError("persist")
		s.l.Error("snapshot clear failed", applogger.String("symbol", symbol), applogger.Error(err))
		return err
	}
	s.l.Info("snapshots cleared", applogger.String("symbol", symbol), applogger.Int("removed", removed))
	return nil
}

// SortByTime orders snapshots by RecordedAt ascending, keeping append order for ties.
func SortByTime(snaps []models.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].RecordedAt.Before(snaps[j].RecordedAt)
	})
}

func validateInput(in models.SnapshotInput) (models.Snapshot, error) {
	symbol := strings.TrimSpace(in.Symbol)
	if symbol == "" {
		return models.Snapshot{}, models.NewValidationError("symbol", "must not be empty")
	}
	if in.PCR == nil {
		return models.Snapshot{}, models.NewValidationError("pcr", "is required")
	}
	if math.IsNaN(*in.PCR) || math.IsInf(*in.PCR, 0) {
		return models.Snapshot{}, models.NewValidationError("pcr", "must be a finite number, got %v", *in.PCR)
	}
	return models.Snapshot{Symbol: symbol, PCR: *in.PCR}, nil
}

// prune drops snapshots recorded before horizon and returns how many were removed.
func prune(doc *document, horizon time.Time) int {
	kept := doc.Snapshots[:0]
	for _, sn := range doc.Snapshots {
		if sn.RecordedAt.Before(horizon) {
			continue
		}
		kept = append(kept, sn)
	}
	removed := len(doc.Snapshots) - len(kept)
	doc.Snapshots = kept
	return removed
}

// load never fails: primary, then backup, then an empty document.
func (s *FileSnapshotStore) load() document {
	doc, perr := readDocument(s.path)
	if perr == nil {
		return doc
	}
	primaryMissing := errors.Is(perr, fs.ErrNotExist)

	bdoc, berr := readDocument(s.backupPath)
	if berr == nil {
		s.metrics.RecordRecovery("backup")
		s.l.Warn("snapshot document unreadable, recovered from backup",
			applogger.String("path", s.path),
			applogger.String("backup", s.backupPath),
			applogger.Int("snapshots", len(bdoc.Snapshots)),
			applogger.Error(perr),
		)
		return bdoc
	}

	if primaryMissing && errors.Is(berr, fs.ErrNotExist) {
		return document{}
	}

	s.metrics.RecordRecovery("empty")
	s.l.Error("snapshot document and backup unreadable, starting from empty history",
		applogger.String("path", s.path),
		applogger.String("backup", s.backupPath),
		applogger.Any("primary_error", perr.Error()),
		applogger.Any("backup_error", berr.Error()),
	)
	return document{}
}

func readDocument(path string) (document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return document{}, err
	}
	doc, err := decodeDocument(b)
	if err != nil {
		return document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// decodeDocument parses a stored document, dropping entries without a symbol or timestamp.
func decodeDocument(b []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return document{}, err
	}
	valid := doc.Snapshots[:0]
	for _, sn := range doc.Snapshots {
		if strings.TrimSpace(sn.Symbol) == "" || sn.RecordedAt.IsZero() {
			continue
		}
		valid = append(valid, sn)
	}
	doc.Snapshots = valid
	return doc, nil
}

// save runs the replace protocol: backup, temp write, fsync, rename.
// On failure the temp file is removed and the primary is left untouched.
func (s *FileSnapshotStore) save(doc document) error {
	if doc.Snapshots == nil {
		doc.Snapshots = []models.Snapshot{}
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &models.PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}

	s.backup()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &models.PersistenceError{Op: "encode", Path: s.path, Err: err}
	}

	return writeAtomic(s.path, data, s.rename)
}

// writeAtomic writes data to a temp sibling of path, syncs it and renames it over path.
// On failure the temp file is removed and path is left untouched.
func writeAtomic(path string, data []byte, rename func(oldpath, newpath string) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return &models.PersistenceError{Op: "create temp", Path: dir, Err: err}
	}
	tmpPath := tmp.Name()
	fail := func(op string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &models.PersistenceError{Op: op, Path: tmpPath, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync temp", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close temp", err)
	}
	if err := rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &models.PersistenceError{Op: "replace", Path: path, Err: err}
	}
	return nil
}

// backup copies the current primary over the backup with the same temp+rename
// steps as the primary. Best effort: a missing primary is skipped silently, and a
// primary that does not decode is never allowed to overwrite a good backup.
func (s *FileSnapshotStore) backup() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.l.Warn("snapshot backup skipped", applogger.String("path", s.path), applogger.Error(err))
		}
		return
	}
	if _, err := decodeDocument(b); err != nil {
		s.l.Warn("snapshot backup skipped, primary is corrupt", applogger.String("path", s.path), applogger.Error(err))
		return
	}
	if err := writeAtomic(s.backupPath, b, s.rename); err != nil {
		s.l.Warn("snapshot backup failed", applogger.String("backup", s.backupPath), applogger.Error(err))
	}
}

var _ domrepo.SnapshotStore = (*FileSnapshotStore)(nil)
