package usecase

import (
	"context"
	"fmt"

	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
)

// FundamentalBook holds every symbol's equity and shares snapshots. It is
// loaded once per run and only read afterwards, so units share it freely.
type FundamentalBook struct {
	equity map[string][]models.FundamentalSnapshot
	shares map[string][]models.FundamentalSnapshot
}

func LoadFundamentalBook(ctx context.Context, r domrepo.FundamentalReader) (*FundamentalBook, error) {
	equity, err := r.AllSnapshots(ctx, models.KindEquity)
	if err != nil {
		return nil, fmt.Errorf("load equity snapshots: %w", err)
	}
	shares, err := r.AllSnapshots(ctx, models.KindShares)
	if err != nil {
		return nil, fmt.Errorf("load shares snapshots: %w", err)
	}
	return &FundamentalBook{equity: bySymbol(equity), shares: bySymbol(shares)}, nil
}

func bySymbol(snaps []models.FundamentalSnapshot) map[string][]models.FundamentalSnapshot {
	m := make(map[string][]models.FundamentalSnapshot)
	for _, s := range snaps {
		m[s.Symbol] = append(m[s.Symbol], s)
	}
	return m
}

// Equity returns symbol's equity snapshots in source order.
func (b *FundamentalBook) Equity(symbol string) []models.FundamentalSnapshot { return b.equity[symbol] }

// Shares returns symbol's shares outstanding snapshots in source order.
func (b *FundamentalBook) Shares(symbol string) []models.FundamentalSnapshot { return b.shares[symbol] }

// Symbols is the number of symbols with any snapshot.
func (b *FundamentalBook) Symbols() int {
	seen := make(map[string]struct{}, len(b.equity))
	for s := range b.equity {
		seen[s] = struct{}{}
	}
	for s := range b.shares {
		seen[s] = struct{}{}
	}
	return len(seen)
}
