package service

import (
	"math"

	"PCRPull/internal/domain/models"
)

const (
	// SellingAbove is the ratio above which put interest dominates.
	SellingAbove = 1.2
	// BuyingBelow is the ratio below which call interest dominates.
	BuyingBelow = 0.8
)

// Classify maps a put-call ratio to a sentiment label.
// Both thresholds are exclusive, so 0.8 and 1.2 are Neutral.
// Non-finite input is Neutral; this is a label, not a validation gate.
func Classify(pcr float64) models.Sentiment {
	if math.IsNaN(pcr) || math.IsInf(pcr, 0) {
		return models.SentimentNeutral
	}
	switch {
	case pcr > SellingAbove:
		return models.SentimentSelling
	case pcr < BuyingBelow:
		return models.SentimentBuying
	default:
		return models.SentimentNeutral
	}
}
