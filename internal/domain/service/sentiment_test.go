package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"PCRPull/internal/domain/models"
)

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		pcr  float64
		want models.Sentiment
	}{
		{0.8, models.SentimentNeutral},
		{0.79999, models.SentimentBuying},
		{1.2, models.SentimentNeutral},
		{1.20001, models.SentimentSelling},
		{1.0, models.SentimentNeutral},
		{0, models.SentimentBuying},
		{3.5, models.SentimentSelling},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.pcr), "pcr=%v", tc.pcr)
	}
}

func TestClassifyNonFinite(t *testing.T) {
	assert.Equal(t, models.SentimentNeutral, Classify(math.NaN()))
	assert.Equal(t, models.SentimentNeutral, Classify(math.Inf(1)))
	assert.Equal(t, models.SentimentNeutral, Classify(math.Inf(-1)))
}
