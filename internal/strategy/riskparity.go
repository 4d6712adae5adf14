package strategy

import (
	"context"
	"fmt"

	"autotrader/internal/domain"
)

// Compile-time interface check.
var _ Proposer = (*RiskParityProposer)(nil)

// RiskParityProposer wraps another proposer and scales its confidence by a
// fixed risk ratio in (0, 1], dampening conviction so positions stay closer
// to equal risk weight across the watchlist.
type RiskParityProposer struct {
	inner Proposer
	ratio float64
}

// NewRiskParityProposer wraps inner with the given risk ratio. Ratios outside
// (0, 1] are rejected.
func NewRiskParityProposer(inner Proposer, ratio float64) (*RiskParityProposer, error) {
	if ratio <= 0 || ratio > 1 {
		return nil, fmt.Errorf("risk ratio %v outside (0, 1]", ratio)
	}
	return &RiskParityProposer{inner: inner, ratio: ratio}, nil
}

// Name returns "risk_parity".
func (p *RiskParityProposer) Name() string {
	return "risk_parity"
}

// Confidence returns the inner proposer's confidence scaled by the risk
// ratio.
func (p *RiskParityProposer) Confidence(ctx context.Context, asset *domain.Asset) (float64, error) {
	conf, err := p.inner.Confidence(ctx, asset)
	if err != nil {
		return 0, err
	}
	return conf * p.ratio, nil
}
