package models

import "time"

type Trend string

const (
	TrendRising  Trend = "Rising"
	TrendFalling Trend = "Falling"
	TrendStable  Trend = "Stable"
	TrendNoData  Trend = "No Data"
)

type Sentiment string

const (
	SentimentBuying  Sentiment = "Buying"
	SentimentNeutral Sentiment = "Neutral"
	SentimentSelling Sentiment = "Selling"
	SentimentNoData  Sentiment = "No Data"
)

// ReferenceMode tells which instant the windows were measured against.
type ReferenceMode string

const (
	// ModeLive measures windows back from the wall clock (market open).
	ModeLive ReferenceMode = "live"
	// ModeHistorical measures windows back from the newest stored snapshot (market closed).
	ModeHistorical ReferenceMode = "historical"
)

// WindowResult holds the statistics of one look-back window.
// PCR is nil when the window holds no samples.
type WindowResult struct {
	Minutes       int       `json:"minutes"`
	PCR           *float64  `json:"pcr"`
	Trend         Trend     `json:"trend"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	DataPoints    int       `json:"dataPoints"`
	Sentiment     Sentiment `json:"sentiment"`
}

type DataRange struct {
	Oldest time.Time `json:"oldest"`
	Newest time.Time `json:"newest"`
}

// PCRReport is the per-symbol answer to a historical query.
type PCRReport struct {
	Symbol         string         `json:"symbol"`
	Intervals      []WindowResult `json:"intervals"`
	TotalSnapshots int            `json:"totalSnapshots"`
	MarketOpen     bool           `json:"marketOpen"`
	Mode           ReferenceMode  `json:"mode"`
	ReferenceTime  time.Time      `json:"referenceTime"`
	DataRange      DataRange      `json:"dataRange"`
}
