package ensemble

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zen-systems/quorum/pkg/schema"
	"github.com/zen-systems/quorum/pkg/structured"
)

// Range names the scale ensemble scores live on. It determines how
// sample variance is normalized into a confidence.
type Range int

const (
	// RangeUnit is scores on [-1, 1] (sentiment style).
	RangeUnit Range = iota
	// RangeCenturial is scores on [0, 100]; 2500 is the maximum
	// possible variance on that interval.
	RangeCenturial
)

// Result combines N scored model outputs into one score with a
// variance-derived confidence.
type Result struct {
	Score          float64
	Confidence     float64
	PerModelScores map[string]float64
}

// Config tunes one aggregator.
type Config struct {
	Backends     []string
	ScoreField   string
	ScoreRange   Range
	StaggerDelay time.Duration
	Validation   structured.Options
}

// Aggregator fans one query out to every configured backend and combines
// the validated scores.
type Aggregator struct {
	validator *structured.Validator
	cfg       Config
	log       zerolog.Logger
}

// New creates an Aggregator.
func New(validator *structured.Validator, cfg Config, log zerolog.Logger) *Aggregator {
	if cfg.ScoreField == "" {
		cfg.ScoreField = "score"
	}
	return &Aggregator{validator: validator, cfg: cfg, log: log}
}

// Aggregate issues one validated query per backend, staggering start
// times by index to respect provider rate limits, and waits for every
// outcome; an individual failure never cancels siblings. With zero valid
// scores it returns the neutral default rather than failing the caller.
func (a *Aggregator) Aggregate(ctx context.Context, prompt string, s schema.Schema) *Result {
	type outcome struct {
		modelID string
		score   float64
		ok      bool
	}

	outcomes := make([]outcome, len(a.cfg.Backends))
	var wg sync.WaitGroup

	for i, backend := range a.cfg.Backends {
		wg.Add(1)
		go func(idx int, modelID string) {
			defer wg.Done()

			if delay := time.Duration(idx) * a.cfg.StaggerDelay; delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}

			res, err := a.validator.Query(ctx, modelID, prompt, s, a.cfg.Validation)
			if err != nil {
				a.log.Warn().Str("model", modelID).Err(err).Msg("ensemble backend contributed no score")
				return
			}
			score, ok := schema.Number(res.Payload, a.cfg.ScoreField)
			if !ok {
				a.log.Warn().Str("model", modelID).Str("field", a.cfg.ScoreField).Msg("validated payload missing score field")
				return
			}
			outcomes[idx] = outcome{modelID: modelID, score: score, ok: true}
		}(i, backend)
	}
	wg.Wait()

	scores := make(map[string]float64)
	for _, o := range outcomes {
		if o.ok {
			scores[o.modelID] = o.score
		}
	}

	if len(scores) == 0 {
		a.log.Warn().Int("backends", len(a.cfg.Backends)).Msg("no valid ensemble scores, returning neutral default")
		return &Result{Score: 0, Confidence: 0, PerModelScores: map[string]float64{}}
	}

	return Combine(scores, a.cfg.ScoreRange)
}

// Combine is the pure aggregation step: mean score plus a confidence
// derived from sample variance. It is deterministic, so re-combining an
// identical score set is bit-identical.
func Combine(scores map[string]float64, r Range) *Result {
	perModel := make(map[string]float64, len(scores))
	var sum float64
	for id, s := range scores {
		perModel[id] = s
		sum += s
	}
	mean := sum / float64(len(scores))

	if len(scores) == 1 {
		// One sample carries no evidence of agreement.
		return &Result{Score: mean, Confidence: 0.5, PerModelScores: perModel}
	}

	var sumSq float64
	for _, s := range scores {
		d := s - mean
		sumSq += d * d
	}
	variance := sumSq / float64(len(scores))

	var confidence float64
	switch r {
	case RangeCenturial:
		confidence = clamp01(1 - variance/2500)
	default:
		confidence = clamp01(1 - variance)
	}

	return &Result{Score: mean, Confidence: confidence, PerModelScores: perModel}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
