package strategy

import (
	"context"

	"autotrader/internal/domain"
)

// Indicator distinguishes the type of technical analysis applied to an asset.
type Indicator string

const (
	IndicatorUnknown   Indicator = "UNKNOWN"
	IndicatorRSI       Indicator = "RSI"
	IndicatorEMA       Indicator = "EMA"
	IndicatorBollinger Indicator = "BOLLINGER"
	IndicatorMACD      Indicator = "MACD"
	IndicatorVolume    Indicator = "VOLUME"
	IndicatorSMA       Indicator = "SMA"
)

// DefaultIndicators is the analysis set applied when no explicit list is
// configured.
var DefaultIndicators = []Indicator{
	IndicatorRSI,
	IndicatorEMA,
	IndicatorBollinger,
	IndicatorMACD,
	IndicatorVolume,
	IndicatorSMA,
}

// Analyse scores a single indicator for the asset over the given timeframe in
// minutes. The result is in [-1, 1]; unknown indicators score 0.
//
// TODO: replace the fixed per-indicator scores with bar-driven computations
// once historical bar retrieval is wired into the data client.
func Analyse(_ context.Context, indicator Indicator, _ *domain.Asset, _ int) float64 {
	switch indicator {
	case IndicatorRSI, IndicatorEMA, IndicatorBollinger,
		IndicatorMACD, IndicatorVolume, IndicatorSMA:
		return 1.0
	default:
		return 0
	}
}

// Compile-time interface check.
var _ Proposer = (*IndicatorProposer)(nil)

// IndicatorProposer averages the scores of a set of technical indicators.
type IndicatorProposer struct {
	indicators []Indicator
	timeframe  int // bar interval in minutes
}

// NewIndicatorProposer creates an IndicatorProposer over the given indicator
// set. An empty set falls back to DefaultIndicators.
func NewIndicatorProposer(indicators []Indicator, timeframe int) *IndicatorProposer {
	if len(indicators) == 0 {
		indicators = DefaultIndicators
	}
	if timeframe <= 0 {
		timeframe = 5
	}
	return &IndicatorProposer{indicators: indicators, timeframe: timeframe}
}

// Name returns "indicator".
func (p *IndicatorProposer) Name() string {
	return "indicator"
}

// Confidence returns the mean of the configured indicator scores.
func (p *IndicatorProposer) Confidence(ctx context.Context, asset *domain.Asset) (float64, error) {
	total := 0.0
	for _, ind := range p.indicators {
		total += Analyse(ctx, ind, asset, p.timeframe)
	}
	return total / float64(len(p.indicators)), nil
}
