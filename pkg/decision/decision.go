package decision

import (
	"fmt"

	"github.com/zen-systems/quorum/pkg/council"
	"github.com/zen-systems/quorum/pkg/ensemble"
	"github.com/zen-systems/quorum/pkg/introspect"
)

// Action is the final trade call.
type Action string

const (
	StrongBuy  Action = "STRONG_BUY"
	Buy        Action = "BUY"
	Hold       Action = "HOLD"
	Sell       Action = "SELL"
	StrongSell Action = "STRONG_SELL"
	Skip       Action = "SKIP"
)

// Weights is the canonical blend of the three confidence signals.
type Weights struct {
	Ensemble      float64
	Council       float64
	Introspection float64
}

// DefaultWeights returns the documented 0.35/0.35/0.30 split.
func DefaultWeights() Weights {
	return Weights{Ensemble: 0.35, Council: 0.35, Introspection: 0.30}
}

// Inputs carries the three signals for one decision cycle. Sentiment is
// the ensemble's mean score on [-1,1].
type Inputs struct {
	Symbol        string
	Sentiment     float64
	Ensemble      *ensemble.Result
	Council       *council.Response
	Introspection *introspect.Result
}

// TradeRecommendation is the synthesized output of one decision cycle.
// It is created once and never mutated; outcomes are tracked on the
// linked calibration snapshot instead.
type TradeRecommendation struct {
	Symbol             string   `json:"symbol"`
	Decision           Action   `json:"decision"`
	CombinedConfidence float64  `json:"combined_confidence"`
	PositionMultiplier float64  `json:"position_multiplier"`
	RiskAdjustments    []string `json:"risk_adjustments,omitempty"`
}

// Synthesize merges the three confidence signals into one trade call
// with a position-size multiplier.
func Synthesize(in Inputs, w Weights) *TradeRecommendation {
	combined := w.Ensemble*in.Ensemble.Confidence +
		w.Council*in.Council.Confidence +
		w.Introspection*in.Introspection.AggregateConfidence

	action, adjustments := mapDecision(in, combined)

	multiplier := 0.0
	if action != Skip {
		multiplier, adjustments = positionMultiplier(combined, in.Introspection.Uncertainty, adjustments)
	}

	return &TradeRecommendation{
		Symbol:             in.Symbol,
		Decision:           action,
		CombinedConfidence: combined,
		PositionMultiplier: multiplier,
		RiskAdjustments:    adjustments,
	}
}

// mapDecision applies the decision table top-down; the council's
// explicit rejection overrides everything.
func mapDecision(in Inputs, combined float64) (Action, []string) {
	var adjustments []string

	if in.Council.Rejected() {
		return Skip, append(adjustments, "council rejected the trade")
	}

	switch {
	case combined < 0.40:
		return Skip, append(adjustments, fmt.Sprintf("combined confidence %.2f below 0.40", combined))
	case in.Introspection.State == introspect.StateUncertain:
		return Skip, append(adjustments, "introspection flagged reducible uncertainty")
	case in.Introspection.State == introspect.StateMultipleValid:
		return Hold, append(adjustments, "multiple valid readings, holding")
	}

	sentiment := in.Sentiment
	switch {
	case sentiment > 0.6 && combined > 0.7:
		return StrongBuy, adjustments
	case sentiment > 0.3 && combined > 0.5:
		return Buy, adjustments
	case sentiment < -0.6 && combined > 0.7:
		return StrongSell, adjustments
	case sentiment < -0.3 && combined > 0.5:
		return Sell, adjustments
	default:
		return Hold, adjustments
	}
}

// positionMultiplier starts from the confidence-tier lookup and scales
// down multiplicatively for dominant uncertainty components.
func positionMultiplier(combined float64, unc introspect.Uncertainty, adjustments []string) (float64, []string) {
	multiplier := confidenceTier(combined)

	if unc.EpistemicScore > 50 {
		multiplier *= 0.75
		adjustments = append(adjustments, "position cut 25% for epistemic uncertainty")
	}
	if unc.AleatoricScore > 60 {
		multiplier *= 0.80
		adjustments = append(adjustments, "position cut 20% for aleatoric uncertainty")
	}
	return multiplier, adjustments
}

// confidenceTier maps combined confidence to a base position multiplier.
func confidenceTier(confidence float64) float64 {
	switch {
	case confidence >= 0.80:
		return 1.0
	case confidence >= 0.65:
		return 0.75
	case confidence >= 0.50:
		return 0.5
	case confidence >= 0.40:
		return 0.25
	default:
		return 0.0
	}
}
