package service

import (
	"FinFactor/internal/domain/models"
)

// FactorComputer derives raw factor rows for one symbol from its price bars
// and its equity and shares snapshots.
type FactorComputer interface {
	Compute(symbol string, bars []models.PriceBar, equity, shares []models.FundamentalSnapshot) ([]models.FactorRecord, error)
}

// OutlierDetector assigns a 0/1 inclusion weight to each return of a cross-section.
type OutlierDetector interface {
	Weights(returns []float64) ([]int, error)
}

// Scaler standardizes factor columns of a cross-section with the given weights.
type Scaler interface {
	Scale(columns [][]float64, weights []int) ([][]float64, error)
}
