package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zen-systems/quorum/pkg/calibration"
	"github.com/zen-systems/quorum/pkg/council"
	"github.com/zen-systems/quorum/pkg/decision"
	"github.com/zen-systems/quorum/pkg/ensemble"
	"github.com/zen-systems/quorum/pkg/introspect"
	"github.com/zen-systems/quorum/pkg/metrics"
	"github.com/zen-systems/quorum/pkg/schema"
)

// CycleInput names one decision cycle.
type CycleInput struct {
	Symbol   string
	Question string
}

// CycleResult carries the recommendation plus the per-signal provenance.
type CycleResult struct {
	Recommendation *decision.TradeRecommendation
	Ensemble       *ensemble.Result
	Council        *council.Response
	Introspection  *introspect.Result
	SnapshotID     string
	Duration       time.Duration
}

// Engine wires the three confidence signals into one trade
// recommendation and records the uncertainty snapshot. Signal failures
// degrade the recommendation; they never surface as errors.
type Engine struct {
	aggregator *ensemble.Aggregator
	council    *council.Council
	introspect *introspect.Engine
	tracker    *calibration.Tracker
	weights    decision.Weights
	log        zerolog.Logger
	rec        *metrics.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(e *Engine) { e.rec = rec }
}

// WithWeights overrides the signal blend.
func WithWeights(w decision.Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// New creates an Engine over the three signal components.
func New(agg *ensemble.Aggregator, c *council.Council, intro *introspect.Engine, tracker *calibration.Tracker, opts ...Option) *Engine {
	e := &Engine{
		aggregator: agg,
		council:    c,
		introspect: intro,
		tracker:    tracker,
		weights:    decision.DefaultWeights(),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// sentimentSchema scores directional sentiment on [-1,1].
var sentimentSchema = schema.Schema{
	Name: "sentiment_score",
	Fields: []schema.Field{
		{Name: "score", Type: schema.TypeNumber, Required: true,
			Min: ptr(-1), Max: ptr(1), Description: "directional sentiment, -1 strongly bearish to +1 strongly bullish"},
		{Name: "reasoning", Type: schema.TypeString},
	},
}

// RunCycle executes one full decision cycle. The three signals run
// independently and every one of them degrades rather than fails, so a
// cycle always produces a recommendation; it only errors on caller
// mistakes.
func (e *Engine) RunCycle(ctx context.Context, in CycleInput) (*CycleResult, error) {
	if in.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if in.Question == "" {
		return nil, fmt.Errorf("question is required")
	}

	start := time.Now()
	e.log.Info().Str("symbol", in.Symbol).Msg("decision cycle started")

	sentimentPrompt := fmt.Sprintf("Score the directional sentiment for %s given this context.\n\n%s", in.Symbol, in.Question)

	var (
		wg          sync.WaitGroup
		ensembleRes *ensemble.Result
		councilRes  *council.Response
		introRes    *introspect.Result
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		ensembleRes = e.aggregator.Aggregate(ctx, sentimentPrompt, sentimentSchema)
	}()
	go func() {
		defer wg.Done()
		councilRes = e.council.Run(ctx, in.Question)
	}()
	go func() {
		defer wg.Done()
		introRes = e.introspect.Evaluate(ctx, in.Question)
	}()
	wg.Wait()

	rec := decision.Synthesize(decision.Inputs{
		Symbol:        in.Symbol,
		Sentiment:     ensembleRes.Score,
		Ensemble:      ensembleRes,
		Council:       councilRes,
		Introspection: introRes,
	}, e.weights)

	snapshotID := ""
	if e.tracker != nil {
		snapshotID = e.tracker.Record(calibration.Snapshot{
			Timestamp:           start.UTC(),
			Symbol:              in.Symbol,
			Decision:            string(rec.Decision),
			EpistemicScore:      introRes.Uncertainty.EpistemicScore,
			AleatoricScore:      introRes.Uncertainty.AleatoricScore,
			AggregateConfidence: rec.CombinedConfidence,
			Outcome:             calibration.OutcomePending,
		})
	}

	e.rec.RecordDecision(string(rec.Decision))
	duration := time.Since(start)
	e.log.Info().
		Str("symbol", in.Symbol).
		Str("decision", string(rec.Decision)).
		Float64("combined_confidence", rec.CombinedConfidence).
		Float64("position_multiplier", rec.PositionMultiplier).
		Dur("duration", duration).
		Msg("decision cycle complete")

	return &CycleResult{
		Recommendation: rec,
		Ensemble:       ensembleRes,
		Council:        councilRes,
		Introspection:  introRes,
		SnapshotID:     snapshotID,
		Duration:       duration,
	}, nil
}

func ptr(v float64) *float64 { return &v }
