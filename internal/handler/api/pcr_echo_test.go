package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PCRPull/internal/repository"
	"PCRPull/internal/usecase"
	xhttp "PCRPull/pkg/http"
	"PCRPull/pkg/http/middleware"
)

type openClock struct{}

func (openClock) IsOpen(time.Time) bool { return true }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestService(t *testing.T) *usecase.SnapshotService {
	t.Helper()
	now := func() time.Time { return time.Date(2024, 10, 7, 4, 30, 0, 0, time.UTC) }
	store, err := repository.NewFileSnapshotStore(
		filepath.Join(t.TempDir(), "pcr_history.json"),
		openClock{},
		repository.WithNow(now),
	)
	require.NoError(t, err)
	agg := usecase.NewPCRAggregator(store, openClock{}, usecase.WithAggregatorNow(now))
	return usecase.NewSnapshotService(store, agg, nil, nil, nil)
}

func newTestServer(t *testing.T) *xhttp.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	return xhttp.NewServer(NewPCREchoHandler(nil, newTestService(t)), xhttp.WithRegistry(reg, reg))
}

func do(t *testing.T, s *xhttp.Server, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestAppendAndLatest(t *testing.T) {
	s := newTestServer(t)

	rec, env := do(t, s, http.MethodPost, "/api/pcr/snapshots", `{"symbol":"NIFTY","pcr":0.93}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.StatusCreated, env.Status)
	assert.JSONEq(t, `{"symbol":"NIFTY","pcr":0.93,"timestamp":"2024-10-07T04:30:00Z","timestampMs":1728275400000}`, string(env.Data))

	rec, env = do(t, s, http.MethodGet, "/api/pcr/latest?symbol=NIFTY", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap struct {
		Symbol string  `json:"symbol"`
		PCR    float64 `json:"pcr"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, "NIFTY", snap.Symbol)
	assert.Equal(t, 0.93, snap.PCR)
}

func TestAppendRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	rec, env := do(t, s, http.MethodPost, "/api/pcr/snapshots", `{"symbol":"NIFTY"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_REQUIRED")

	rec, env = do(t, s, http.MethodPost, "/api/pcr/snapshots", `{"symbol":"   ","pcr":1.0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_VALIDATION")

	rec, _ = do(t, s, http.MethodPost, "/api/pcr/snapshots", `{"symbol":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestNotFound(t *testing.T) {
	s := newTestServer(t)
	rec, env := do(t, s, http.MethodGet, "/api/pcr/latest?symbol=FINNIFTY", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_NOT_FOUND")

	rec, _ = do(t, s, http.MethodGet, "/api/pcr/latest", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistorical(t *testing.T) {
	s := newTestServer(t)
	rec, _ := do(t, s, http.MethodGet, "/api/pcr/historical?symbol=NIFTY", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, s, http.MethodPost, "/api/pcr/snapshots", `{"symbol":"NIFTY","pcr":1.3}`)

	rec, env := do(t, s, http.MethodGet, "/api/pcr/historical?symbol=NIFTY&windows=5,15", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		Symbol    string `json:"symbol"`
		Mode      string `json:"mode"`
		Intervals []struct {
			Minutes    int      `json:"minutes"`
			PCR        *float64 `json:"pcr"`
			Sentiment  string   `json:"sentiment"`
			DataPoints int      `json:"dataPoints"`
		} `json:"intervals"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "live", report.Mode)
	require.Len(t, report.Intervals, 2)
	assert.Equal(t, 5, report.Intervals[0].Minutes)
	assert.Equal(t, "Selling", report.Intervals[0].Sentiment)
	assert.Equal(t, 1, report.Intervals[0].DataPoints)

	for _, q := range []string{"windows=abc", "windows=0", "windows=5,-15"} {
		rec, _ = do(t, s, http.MethodGet, "/api/pcr/historical?symbol=NIFTY&"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestStatsAndClear(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/api/pcr/snapshots", `{"symbol":"NIFTY","pcr":0.9}`)
	do(t, s, http.MethodPost, "/api/pcr/snapshots", `{"symbol":"BANKNIFTY","pcr":1.1}`)

	rec, env := do(t, s, http.MethodGet, "/api/pcr/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st struct {
		TotalSnapshots int      `json:"totalSnapshots"`
		Symbols        []string `json:"symbols"`
		MarketOpen     bool     `json:"marketOpen"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 2, st.TotalSnapshots)
	assert.Equal(t, []string{"BANKNIFTY", "NIFTY"}, st.Symbols)
	assert.True(t, st.MarketOpen)

	rec, _ = do(t, s, http.MethodDelete, "/api/pcr/snapshots?symbol=NIFTY", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, env = do(t, s, http.MethodGet, "/api/pcr/stats", "")
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, []string{"BANKNIFTY"}, st.Symbols)

	rec, _ = do(t, s, http.MethodDelete, "/api/pcr/snapshots", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, env = do(t, s, http.MethodGet, "/api/pcr/stats", "")
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 0, st.TotalSnapshots)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	rec, _ := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	do(t, s, http.MethodGet, "/api/pcr/stats", "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	s.Echo().ServeHTTP(mrec, req)
	require.Equal(t, http.StatusOK, mrec.Code)
	assert.Contains(t, mrec.Body.String(), `pcrpull_http_requests_total{method="GET",route="/api/pcr/stats",status="200"}`)
}

func TestWriteRoutesAreRateLimited(t *testing.T) {
	svc := newTestService(t)
	reg := prometheus.NewRegistry()
	h := NewPCREchoHandler(nil, svc, WithWriteLimiter(middleware.NewLimiter(1, 0)))
	e := xhttp.NewServer(h, xhttp.WithRegistry(reg, reg)).Echo()

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/pcr/snapshots", strings.NewReader(`{"symbol":"NIFTY","pcr":1.1}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.RemoteAddr = "10.1.1.1:5000"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusCreated, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	req := httptest.NewRequest(http.MethodGet, "/api/pcr/latest?symbol=NIFTY", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
}
