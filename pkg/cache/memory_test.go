package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Symbol string  `json:"symbol"`
	PCR    float64 `json:"pcr"`
}

func TestMemoryCacheSetGet(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "report:NIFTY:5", payload{"NIFTY", 0.9}, time.Minute))

	var got payload
	require.NoError(t, mc.Get(ctx, "report:NIFTY:5", &got))
	assert.Equal(t, payload{"NIFTY", 0.9}, got)

	assert.ErrorIs(t, mc.Get(ctx, "missing", &got), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", payload{}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var got payload
	assert.ErrorIs(t, mc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	for _, k := range []string{"report:NIFTY:5", "report:NIFTY:5,15", "report:BANKNIFTY:5"} {
		require.NoError(t, mc.Set(ctx, k, payload{}, time.Minute))
	}
	require.NoError(t, mc.DeleteByPattern(ctx, BuildPattern("report:NIFTY:")))

	var got payload
	assert.ErrorIs(t, mc.Get(ctx, "report:NIFTY:5", &got), ErrCacheMiss)
	assert.ErrorIs(t, mc.Get(ctx, "report:NIFTY:5,15", &got), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "report:BANKNIFTY:5", &got))
}

func TestMemoryCacheEvictsLRU(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, time.Minute))
	time.Sleep(time.Millisecond)

	var v int
	require.NoError(t, mc.Get(ctx, "a", &v)) // a is now most recent
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", 3, time.Minute))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &v))
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "report:NIFTY:5,15", GenerateKeyWithParams("report", "NIFTY", "5,15"))
}
