package models

import "time"

// PriceBar is one daily observation for a symbol.
type PriceBar struct {
	Symbol   string    `json:"symbol"`
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   float64   `json:"volume"`
}

// FundamentalKind selects which fundamental series a snapshot belongs to.
type FundamentalKind string

const (
	KindEquity FundamentalKind = "equity"
	KindShares FundamentalKind = "shares"
)

// FundamentalSnapshot is a single filed value for a reporting period.
// EffectiveDate is the period end (ddate); FiledDate is the disclosure date.
type FundamentalSnapshot struct {
	Symbol        string          `json:"symbol"`
	Kind          FundamentalKind `json:"kind"`
	EffectiveDate time.Time       `json:"ddate"`
	FiledDate     time.Time       `json:"filed"`
	Value         float64         `json:"value"`
}

// FactorRecord holds the raw factor exposures of a symbol on a date.
// Every field is defined; partial rows are never built.
type FactorRecord struct {
	Symbol      string    `json:"symbol"`
	Date        time.Time `json:"date"`
	Return      float64   `json:"ret"`
	MarketCap   float64   `json:"mcap"`
	PriceToBook float64   `json:"pb"`
	Momentum    float64   `json:"mom"`
}

// ScaledFactorRecord is the cross-sectionally standardized counterpart of a FactorRecord.
type ScaledFactorRecord struct {
	Date        time.Time `json:"date"`
	Symbol      string    `json:"symbol"`
	Weight      int       `json:"weight"`
	MarketCap   float64   `json:"mcap"`
	PriceToBook float64   `json:"pb"`
	Momentum    float64   `json:"mom"`
}

// FactorColumn names a scalable column of a FactorRecord.
type FactorColumn string

const (
	ColMarketCap   FactorColumn = "mcap"
	ColPriceToBook FactorColumn = "pb"
	ColMomentum    FactorColumn = "mom"
)

// ScaledColumns is the fixed set of columns standardized per trading date.
var ScaledColumns = []FactorColumn{ColMarketCap, ColPriceToBook, ColMomentum}

// Value returns the raw value of column c.
func (r FactorRecord) Value(c FactorColumn) float64 {
	switch c {
	case ColMarketCap:
		return r.MarketCap
	case ColPriceToBook:
		return r.PriceToBook
	case ColMomentum:
		return r.Momentum
	}
	return 0
}
