package models

// Requests for factor query endpoints. Dates accept YYYY-MM-DD, RFC3339 or
// unix seconds unless tagged with a datetime layout.

type RawFactorsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,max=16"`
	From   string `query:"from" json:"from" default:"1970-01-01"`
	To     string `query:"to" json:"to" default:"2999-12-31"`
	Limit  int    `query:"limit" json:"limit" default:"5000" validate:"gte=1,lte=50000"`
}

type ScaledFactorsRequest struct {
	Date   string `query:"date" json:"date" validate:"required,datetime=2006-01-02"`
	Weight string `query:"weight" json:"weight" validate:"omitempty,oneof=0 1"`
}

type CrossSectionRequest struct {
	Date string `query:"date" json:"date" validate:"required,datetime=2006-01-02"`
}

// FenceResponse describes the outlier fence of a date's return cross-section.
type FenceResponse struct {
	Date      string  `json:"date"`
	Rows      int     `json:"rows"`
	Outliers  int     `json:"outliers"`
	Q1        float64 `json:"q1"`
	Q3        float64 `json:"q3"`
	Medcouple float64 `json:"medcouple"`
	Lower     float64 `json:"lower"`
	Upper     float64 `json:"upper"`
	// Degenerate is set when the cross-section is too small or flat for a fence.
	Degenerate bool `json:"degenerate"`
}
