package models

// Requests for PCR HTTP endpoints.

type HistoricalRequest struct {
	Symbol  string `query:"symbol" json:"symbol" validate:"required"`
	Windows string `query:"windows" json:"windows"`
}

type LatestRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type AppendRequest struct {
	Symbol string   `json:"symbol" validate:"required"`
	PCR    *float64 `json:"pcr" validate:"required"`
}

type ClearRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
}
