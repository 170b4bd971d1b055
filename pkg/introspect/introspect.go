package introspect

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/gateway"
	"github.com/zen-systems/quorum/pkg/schema"
	"github.com/zen-systems/quorum/pkg/structured"
)

// decisionTokens are the answers a consistency sample may cast, scanned
// longest-first so STRONG_BUY is not read as BUY.
var decisionTokens = []string{"STRONG_BUY", "STRONG_SELL", "BUY", "SELL", "HOLD"}

// Config tunes one introspection engine.
type Config struct {
	Model             string
	Samples           int     // k independent consistency samples
	SampleTemperature float64 // elevated, to surface disagreement
	AssessTemperature float64 // low, for scoring calls
	StaggerDelay      time.Duration
	MaxTokens         int
	Timeout           time.Duration
	ValidationRetries int
}

// Engine computes the self-consistency, uncertainty and self-critique
// signals for one decision cycle.
type Engine struct {
	gw        *gateway.Gateway
	validator *structured.Validator
	cfg       Config
	weights   Weights
	log       zerolog.Logger
}

// New creates an Engine.
func New(gw *gateway.Gateway, validator *structured.Validator, cfg Config, weights Weights, log zerolog.Logger) *Engine {
	if cfg.Samples <= 0 {
		cfg.Samples = 5
	}
	if cfg.SampleTemperature <= 0 {
		cfg.SampleTemperature = 0.9
	}
	return &Engine{gw: gw, validator: validator, cfg: cfg, weights: weights, log: log}
}

// Evaluate runs all three signals and classifies the confidence state.
func (e *Engine) Evaluate(ctx context.Context, question string) *Result {
	samples := e.sampleDecisions(ctx, question)
	sc := MajorityVote(samples)

	unc := e.assessUncertainty(ctx, question)
	crit := e.critique(ctx, question, sc.Decision)

	aggregate := AggregateConfidence(e.weights, sc, unc, crit)
	state := classifyState(aggregate, sc, unc)

	e.log.Info().
		Str("decision", sc.Decision).
		Str("state", string(state)).
		Float64("aggregate_confidence", aggregate).
		Float64("epistemic", unc.EpistemicScore).
		Float64("aleatoric", unc.AleatoricScore).
		Msg("introspection complete")

	return &Result{
		Decision:            sc.Decision,
		State:               state,
		SelfConsistency:     sc,
		Uncertainty:         unc,
		Critique:            crit,
		AggregateConfidence: aggregate,
	}
}

// sampleDecisions draws k independent decision samples at elevated
// temperature with staggered starts. Failed samples are dropped.
func (e *Engine) sampleDecisions(ctx context.Context, question string) []string {
	prompt := fmt.Sprintf(`Decide on this trading question. Answer with exactly one of: STRONG_BUY, BUY, HOLD, SELL, STRONG_SELL. One word only.

Question:
%s`, question)

	responses := make([]gateway.ModelResponse, e.cfg.Samples)
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Samples; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if delay := time.Duration(idx) * e.cfg.StaggerDelay; delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
			responses[idx] = e.gw.Complete(ctx, gateway.Call{
				ModelID:     e.cfg.Model,
				Messages:    adapter.UserMessage(prompt),
				Temperature: e.cfg.SampleTemperature,
				MaxTokens:   e.cfg.MaxTokens,
				Timeout:     e.cfg.Timeout,
			})
		}(i)
	}
	wg.Wait()

	var samples []string
	for _, resp := range responses {
		if !resp.Success {
			continue
		}
		if token, ok := ExtractDecision(resp.Content); ok {
			samples = append(samples, token)
		}
	}
	if len(samples) < e.cfg.Samples {
		e.log.Warn().Int("requested", e.cfg.Samples).Int("usable", len(samples)).Msg("consistency samples lost")
	}
	return samples
}

// ExtractDecision finds the first known decision token in model text.
func ExtractDecision(content string) (string, bool) {
	upper := strings.ToUpper(content)
	best := -1
	var found string
	for _, token := range decisionTokens {
		idx := strings.Index(upper, token)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best {
			best = idx
			found = token
		}
	}
	return found, best >= 0
}

// MajorityVote tallies decision samples. Ties break by first-seen sample
// order, which keeps the outcome deterministic. The vote breakdown
// always sums to the sample count.
func MajorityVote(samples []string) SelfConsistency {
	if len(samples) == 0 {
		return SelfConsistency{Decision: "HOLD", VoteBreakdown: map[string]int{}}
	}

	votes := make(map[string]int)
	var order []string
	for _, s := range samples {
		if votes[s] == 0 {
			order = append(order, s)
		}
		votes[s]++
	}

	winner := order[0]
	for _, d := range order {
		if votes[d] > votes[winner] {
			winner = d
		}
	}

	k := float64(len(samples))
	return SelfConsistency{
		Decision:      winner,
		Confidence:    float64(votes[winner]) / k,
		VoteBreakdown: votes,
		Diversity:     float64(len(votes)) / k,
	}
}

var uncertaintySchema = schema.Schema{
	Name: "uncertainty_assessment",
	Fields: []schema.Field{
		{Name: "epistemic_score", Type: schema.TypeNumber, Required: true,
			Min: ptr(0), Max: ptr(100), Description: "how much would more information reduce your uncertainty"},
		{Name: "aleatoric_score", Type: schema.TypeNumber, Required: true,
			Min: ptr(0), Max: ptr(100), Description: "how much uncertainty is inherent market randomness"},
		{Name: "reasoning", Type: schema.TypeString},
	},
}

func (e *Engine) assessUncertainty(ctx context.Context, question string) Uncertainty {
	prompt := fmt.Sprintf(`Assess the uncertainty in answering this trading question. Score two components on 0-100: epistemic (reducible by more data or research) and aleatoric (inherent randomness no data can remove).

Question:
%s`, question)

	res, err := e.validator.Query(ctx, e.cfg.Model, prompt, uncertaintySchema, structured.Options{
		Temperature:          e.cfg.AssessTemperature,
		MaxTokens:            e.cfg.MaxTokens,
		Timeout:              e.cfg.Timeout,
		MaxValidationRetries: e.cfg.ValidationRetries,
	})
	if err != nil {
		// No assessment reads as maximal knowledge-gap uncertainty.
		e.log.Warn().Err(err).Msg("uncertainty assessment failed, assuming high epistemic")
		return Uncertainty{EpistemicScore: 100, AleatoricScore: 50, DominantType: DominantEpistemic}
	}

	epistemic, _ := schema.Number(res.Payload, "epistemic_score")
	aleatoric, _ := schema.Number(res.Payload, "aleatoric_score")
	return Uncertainty{
		EpistemicScore: epistemic,
		AleatoricScore: aleatoric,
		DominantType:   ClassifyDominant(epistemic, aleatoric),
	}
}

// ClassifyDominant picks the dominant uncertainty type; a margin over 20
// points is required to call either side dominant.
func ClassifyDominant(epistemic, aleatoric float64) DominantType {
	switch {
	case epistemic-aleatoric > 20:
		return DominantEpistemic
	case aleatoric-epistemic > 20:
		return DominantAleatoric
	default:
		return DominantMixed
	}
}

var critiqueSchema = schema.Schema{
	Name: "self_critique",
	Fields: []schema.Field{
		{Name: "confidence_after_critique", Type: schema.TypeNumber, Required: true,
			Min: ptr(0), Max: ptr(100)},
		{Name: "should_trust", Type: schema.TypeBoolean, Required: true},
		{Name: "key_risks", Type: schema.TypeArray},
	},
}

func (e *Engine) critique(ctx context.Context, question, decision string) Critique {
	prompt := fmt.Sprintf(`The consensus decision for the question below is %s. Critique it: surface the assumptions it rests on and the most likely errors. Then state your confidence in the decision after the critique (0-100) and whether it should be trusted.

Question:
%s`, decision, question)

	res, err := e.validator.Query(ctx, e.cfg.Model, prompt, critiqueSchema, structured.Options{
		Temperature:          e.cfg.AssessTemperature,
		MaxTokens:            e.cfg.MaxTokens,
		Timeout:              e.cfg.Timeout,
		MaxValidationRetries: e.cfg.ValidationRetries,
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("self-critique failed, assuming untrusted")
		return Critique{ConfidenceAfterCritique: 0, ShouldTrust: false}
	}

	confidence, _ := schema.Number(res.Payload, "confidence_after_critique")
	trust, _ := schema.Flag(res.Payload, "should_trust")
	crit := Critique{ConfidenceAfterCritique: confidence, ShouldTrust: trust}
	if raw, ok := res.Payload["key_risks"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				crit.KeyRisks = append(crit.KeyRisks, s)
			}
		}
	}
	return crit
}

// AggregateConfidence blends the three signals under the canonical
// weights and clamps to [0,1].
func AggregateConfidence(w Weights, sc SelfConsistency, unc Uncertainty, crit Critique) float64 {
	agg := w.Consistency*sc.Confidence +
		w.Epistemic*(1-unc.EpistemicScore/100) +
		w.Critique*(crit.ConfidenceAfterCritique/100)
	if agg < 0 {
		return 0
	}
	if agg > 1 {
		return 1
	}
	return agg
}

// classifyState evaluates the confidence states in order; first match
// wins. Note that under DefaultWeights the aggregate tops out at 0.70,
// so CERTAIN is reachable only with a reweighted scheme.
func classifyState(aggregate float64, sc SelfConsistency, unc Uncertainty) State {
	switch {
	case aggregate > 0.80 && sc.Confidence > 0.80:
		return StateCertain
	case unc.EpistemicScore > 70:
		return StateUncertain
	case sc.Diversity > 0.5 && topTwoWithinOne(sc.VoteBreakdown):
		return StateMultipleValid
	default:
		return StateInformedGuess
	}
}

// topTwoWithinOne reports whether the two most common vote counts differ
// by at most one.
func topTwoWithinOne(votes map[string]int) bool {
	if len(votes) < 2 {
		return false
	}
	first, second := 0, 0
	for _, n := range votes {
		if n > first {
			first, second = n, first
		} else if n > second {
			second = n
		}
	}
	return first-second <= 1
}

func ptr(v float64) *float64 { return &v }
