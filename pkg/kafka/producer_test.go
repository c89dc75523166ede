package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p, err := NewProducer(WithWriter(w), WithProducerRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	err = p.Publish(context.Background(), "pcr.events", []byte("NIFTY"), map[string]interface{}{"symbol": "NIFTY", "pcr": 0.93})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "pcr.events", w.msgs[0].Topic)
	assert.Equal(t, []byte("NIFTY"), w.msgs[0].Key)
	assert.JSONEq(t, `{"symbol":"NIFTY","pcr":0.93}`, string(w.msgs[0].Value))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.msgs.WithLabelValues("pcr.events", "ok")))
}

func TestProducerCountsFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p, err := NewProducer(WithWriter(w), WithProducerRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	err = p.Publish(context.Background(), "pcr.events", nil, []byte("raw"))
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.msgs.WithLabelValues("pcr.events", "error")))
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(WithProducerRegisterer(prometheus.NewRegistry()))
	assert.Error(t, err)
}
