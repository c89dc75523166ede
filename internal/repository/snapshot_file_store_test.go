package repository

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PCRPull/internal/domain/models"
)

type fixedClock bool

func (f fixedClock) IsOpen(time.Time) bool { return bool(f) }

// manualNow is a settable clock for stamping.
type manualNow struct {
	mu sync.Mutex
	t  time.Time
}

func (m *manualNow) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *manualNow) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}

func pcr(v float64) *float64 { return &v }

func newTestStore(t *testing.T, opts ...FileStoreOption) (*FileSnapshotStore, *manualNow) {
	t.Helper()
	clk := &manualNow{t: time.Date(2024, 10, 7, 4, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "data", "pcr_history.json")
	s, err := NewFileSnapshotStore(path, fixedClock(true), append([]FileStoreOption{WithNow(clk.Now)}, opts...)...)
	require.NoError(t, err)
	return s, clk
}

func appendPCR(t *testing.T, s *FileSnapshotStore, symbol string, v float64) models.Snapshot {
	t.Helper()
	snap, err := s.Append(context.Background(), models.SnapshotInput{Symbol: symbol, PCR: pcr(v)})
	require.NoError(t, err)
	return snap
}

func TestAppendThenLatestRoundTrip(t *testing.T) {
	s, err := NewFileSnapshotStore(filepath.Join(t.TempDir(), "pcr.json"), fixedClock(false))
	require.NoError(t, err)

	before := time.Now()
	stored := appendPCR(t, s, "NIFTY", 0.93)

	got, ok, err := s.Latest(context.Background(), "NIFTY")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "NIFTY", got.Symbol)
	assert.Equal(t, 0.93, got.PCR)
	assert.GreaterOrEqual(t, got.TimestampMs(), before.UnixMilli())
	assert.Equal(t, stored.TimestampMs(), got.TimestampMs())
}

func TestAppendTrimsSymbol(t *testing.T) {
	s, _ := newTestStore(t)
	snap := appendPCR(t, s, "  BANKNIFTY ", 1.1)
	assert.Equal(t, "BANKNIFTY", snap.Symbol)
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	cases := []models.SnapshotInput{
		{Symbol: "", PCR: pcr(1)},
		{Symbol: "   ", PCR: pcr(1)},
		{Symbol: "NIFTY"},
		{Symbol: "NIFTY", PCR: pcr(math.NaN())},
		{Symbol: "NIFTY", PCR: pcr(math.Inf(1))},
	}
	for _, in := range cases {
		_, err := s.Append(ctx, in)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrValidation), "input %+v", in)

		var verr *models.ValidationError
		assert.True(t, errors.As(err, &verr))
	}

	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "validation must happen before any I/O")
}

func TestAppendAllowsDuplicateInstants(t *testing.T) {
	s, _ := newTestStore(t)
	appendPCR(t, s, "NIFTY", 0.9)
	appendPCR(t, s, "NIFTY", 1.0)

	all, err := s.All(context.Background(), "NIFTY")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].RecordedAt.Equal(all[1].RecordedAt))

	latest, ok, err := s.Latest(context.Background(), "NIFTY")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, latest.PCR)
}

func TestLatestNone(t *testing.T) {
	s, _ := newTestStore(t)
	appendPCR(t, s, "NIFTY", 0.9)

	_, ok, err := s.Latest(context.Background(), "BANKNIFTY")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetentionPrunesAllSymbols(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	appendPCR(t, s, "NIFTY", 0.9)
	clk.Advance(time.Hour)
	appendPCR(t, s, "BANKNIFTY", 1.0)

	// NIFTY is now 25h old, BANKNIFTY exactly 24h old
	clk.Advance(24 * time.Hour)
	appendPCR(t, s, "FINNIFTY", 1.1)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalSnapshots)
	assert.Equal(t, []string{"BANKNIFTY", "FINNIFTY"}, st.Symbols)
	assert.Zero(t, st.PerSymbol["NIFTY"])

	old, err := s.AllForWindow(ctx, "NIFTY", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestCustomRetention(t *testing.T) {
	s, clk := newTestStore(t, WithRetention(time.Hour))
	appendPCR(t, s, "NIFTY", 0.9)
	clk.Advance(61 * time.Minute)
	appendPCR(t, s, "NIFTY", 1.0)

	all, err := s.All(context.Background(), "NIFTY")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1.0, all[0].PCR)
}

func TestAllForWindowSortsAndFilters(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))

	// physical order is deliberately unsorted
	raw := `{"snapshots":[
		{"symbol":"NIFTY","pcr":1.3,"timestamp":"2024-10-07T04:10:00Z","timestampMs":1728274200000},
		{"symbol":"NIFTY","pcr":1.1,"timestamp":"2024-10-07T04:00:00Z","timestampMs":1728273600000},
		{"symbol":"BANKNIFTY","pcr":0.7,"timestamp":"2024-10-07T04:05:00Z","timestampMs":1728273900000},
		{"symbol":"NIFTY","pcr":1.2,"timestamp":"2024-10-07T04:05:00Z"}
	]}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(raw), 0o644))

	ctx := context.Background()
	all, err := s.All(ctx, "NIFTY")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []float64{1.1, 1.2, 1.3}, []float64{all[0].PCR, all[1].PCR, all[2].PCR})

	since := time.Date(2024, 10, 7, 4, 5, 0, 0, time.UTC)
	win, err := s.AllForWindow(ctx, "NIFTY", since)
	require.NoError(t, err)
	require.Len(t, win, 2)
	assert.Equal(t, 1.2, win[0].PCR)

	empty, err := s.AllForWindow(ctx, "NIFTY", since.Add(time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestPersistedDocumentSchema(t *testing.T) {
	s, _ := newTestStore(t)
	appendPCR(t, s, "NIFTY", 0.95)

	b, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"snapshots":[{"symbol":"NIFTY","pcr":0.95,"timestamp":"2024-10-07T04:00:00Z","timestampMs":1728273600000}]}`, string(b))
}

func TestFailedReplaceLeavesPrimaryUntouched(t *testing.T) {
	s, _ := newTestStore(t)
	appendPCR(t, s, "NIFTY", 0.9)

	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	s.rename = func(oldpath, newpath string) error { return errors.New("disk gone") }
	_, err = s.Append(context.Background(), models.SnapshotInput{Symbol: "NIFTY", PCR: pcr(1.4)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPersistence))

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp file must not survive a failed write")

	err = s.Clear(context.Background(), "")
	assert.True(t, errors.Is(err, models.ErrPersistence))
	after, err = os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSuccessfulWriteLeavesNoTempFile(t *testing.T) {
	s, _ := newTestStore(t)
	appendPCR(t, s, "NIFTY", 0.9)
	appendPCR(t, s, "NIFTY", 1.0)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRecoversFromBackupWhenPrimaryCorrupt(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	appendPCR(t, s, "NIFTY", 0.9)
	appendPCR(t, s, "NIFTY", 1.0) // backup now holds the first document

	b, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), b[:len(b)/2], 0o644))

	all, err := s.All(ctx, "NIFTY")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 0.9, all[0].PCR)
}

func TestCorruptPrimaryNeverOverwritesBackup(t *testing.T) {
	corrupt := map[string]string{
		"truncated":  `{"snapshots":[{"sym`,
		"wrong type": `{"snapshots":"x"}`,
	}
	for name, body := range corrupt {
		t.Run(name, func(t *testing.T) {
			s, _ := newTestStore(t)
			appendPCR(t, s, "NIFTY", 0.9)
			appendPCR(t, s, "NIFTY", 1.0)

			goodBackup, err := os.ReadFile(s.BackupPath())
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(s.Path(), []byte(body), 0o644))

			appendPCR(t, s, "NIFTY", 1.1)

			backup, err := os.ReadFile(s.BackupPath())
			require.NoError(t, err)
			assert.Equal(t, goodBackup, backup)

			all, err := s.All(context.Background(), "NIFTY")
			require.NoError(t, err)
			require.Len(t, all, 2, "recovered backup plus the new snapshot")
		})
	}
}

func TestBackupIsReplacedByRename(t *testing.T) {
	s, _ := newTestStore(t)
	appendPCR(t, s, "NIFTY", 0.9)
	appendPCR(t, s, "NIFTY", 1.0)

	goodBackup, err := os.ReadFile(s.BackupPath())
	require.NoError(t, err)

	var renamed []string
	s.rename = func(oldpath, newpath string) error {
		renamed = append(renamed, newpath)
		if newpath == s.BackupPath() {
			return errors.New("backup volume full")
		}
		return os.Rename(oldpath, newpath)
	}

	// a failed backup does not block the write and leaves the old backup whole
	appendPCR(t, s, "NIFTY", 1.1)
	assert.Equal(t, []string{s.BackupPath(), s.Path()}, renamed)

	backup, err := os.ReadFile(s.BackupPath())
	require.NoError(t, err)
	assert.Equal(t, goodBackup, backup)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(s.BackupPath()), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	all, err := s.All(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDoubleCorruptionYieldsUsableEmptyStore(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	appendPCR(t, s, "NIFTY", 0.9)
	appendPCR(t, s, "NIFTY", 1.0)

	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(s.BackupPath(), []byte(""), 0o644))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalSnapshots)

	_, ok, err := s.Latest(ctx, "NIFTY")
	require.NoError(t, err)
	assert.False(t, ok)

	appendPCR(t, s, "NIFTY", 1.2)
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalSnapshots)
}

func TestMissingPrimaryFallsBackToBackup(t *testing.T) {
	s, _ := newTestStore(t)
	appendPCR(t, s, "NIFTY", 0.9)
	appendPCR(t, s, "NIFTY", 1.0)
	require.NoError(t, os.Remove(s.Path()))

	all, err := s.All(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	appendPCR(t, s, "NIFTY", 0.9)
	appendPCR(t, s, "BANKNIFTY", 1.0)
	appendPCR(t, s, "NIFTY", 1.1)

	require.NoError(t, s.Clear(ctx, "NIFTY"))
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalSnapshots)
	assert.Equal(t, []string{"BANKNIFTY"}, st.Symbols)

	require.NoError(t, s.Clear(ctx, ""))
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalSnapshots)

	b, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"snapshots":[]}`, string(b))
}

func TestStats(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalSnapshots)
	assert.Nil(t, st.Oldest)
	assert.True(t, st.MarketOpen)
	assert.Equal(t, 24, st.RetentionHours)

	first := appendPCR(t, s, "NIFTY", 0.9)
	clk.Advance(time.Minute)
	appendPCR(t, s, "BANKNIFTY", 1.0)
	clk.Advance(time.Minute)
	last := appendPCR(t, s, "NIFTY", 1.1)

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalSnapshots)
	assert.Equal(t, map[string]int{"NIFTY": 2, "BANKNIFTY": 1}, st.PerSymbol)
	require.NotNil(t, st.Oldest)
	require.NotNil(t, st.Newest)
	assert.True(t, first.RecordedAt.Equal(*st.Oldest))
	assert.True(t, last.RecordedAt.Equal(*st.Newest))
}

func TestConcurrentAppendsAreSerialized(t *testing.T) {
	s, _ := newTestStore(t)
	const n = 25

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(context.Background(), models.SnapshotInput{Symbol: "NIFTY", PCR: pcr(float64(i) / 10)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := s.All(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestCancelledContext(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, models.SnapshotInput{Symbol: "NIFTY", PCR: pcr(1)})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Stats(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFileSnapshotStoreValidation(t *testing.T) {
	_, err := NewFileSnapshotStore("", fixedClock(true))
	assert.Error(t, err)
	_, err = NewFileSnapshotStore("x.json", nil)
	assert.Error(t, err)
}
