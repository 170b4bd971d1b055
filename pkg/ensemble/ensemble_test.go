package ensemble

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/gateway"
	"github.com/zen-systems/quorum/pkg/schema"
	"github.com/zen-systems/quorum/pkg/structured"
)

func scoreSchema() schema.Schema {
	min, max := schema.Bounds(-1, 1)
	return schema.Schema{
		Name:   "sentiment",
		Fields: []schema.Field{{Name: "score", Type: schema.TypeNumber, Required: true, Min: min, Max: max}},
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCombineSingleScore(t *testing.T) {
	res := Combine(map[string]float64{"solo": 0.8}, RangeUnit)
	if !almostEqual(res.Score, 0.8) {
		t.Errorf("score = %v, want 0.8", res.Score)
	}
	if !almostEqual(res.Confidence, 0.5) {
		t.Errorf("confidence = %v, want 0.5 for a single sample", res.Confidence)
	}
}

func TestCombineUnanimousScores(t *testing.T) {
	res := Combine(map[string]float64{"a": 0.6, "b": 0.6, "c": 0.6}, RangeUnit)
	if !almostEqual(res.Score, 0.6) {
		t.Errorf("score = %v, want 0.6", res.Score)
	}
	if !almostEqual(res.Confidence, 1.0) {
		t.Errorf("confidence = %v, want 1.0 for zero variance", res.Confidence)
	}
}

func TestCombineDisagreementLowersConfidence(t *testing.T) {
	tight := Combine(map[string]float64{"a": 0.5, "b": 0.6}, RangeUnit)
	wide := Combine(map[string]float64{"a": -1, "b": 1}, RangeUnit)

	if tight.Confidence <= wide.Confidence {
		t.Errorf("tight agreement %v should beat wide disagreement %v", tight.Confidence, wide.Confidence)
	}
	if !almostEqual(wide.Confidence, 0) {
		t.Errorf("maximal disagreement confidence = %v, want 0", wide.Confidence)
	}
}

func TestCombineCenturialRange(t *testing.T) {
	// Variance 625 on a 0-100 scale normalizes against 2500.
	res := Combine(map[string]float64{"a": 25, "b": 75}, RangeCenturial)
	if !almostEqual(res.Score, 50) {
		t.Errorf("score = %v, want 50", res.Score)
	}
	if !almostEqual(res.Confidence, 1-625.0/2500) {
		t.Errorf("confidence = %v, want %v", res.Confidence, 1-625.0/2500)
	}
}

func TestCombineIsDeterministic(t *testing.T) {
	scores := map[string]float64{"a": 0.1, "b": 0.4, "c": -0.2}
	first := Combine(scores, RangeUnit)
	second := Combine(scores, RangeUnit)
	if first.Score != second.Score || first.Confidence != second.Confidence {
		t.Errorf("identical inputs diverged: %+v vs %+v", first, second)
	}
}

func newAggregator(routes map[string]gateway.Route, backends []string) *Aggregator {
	gw := gateway.New(routes)
	v := structured.NewValidator(gw)
	return New(v, Config{
		Backends:   backends,
		ScoreField: "score",
		ScoreRange: RangeUnit,
		Validation: structured.Options{MaxValidationRetries: 0},
	}, zerolog.Nop())
}

func TestAggregateCombinesBackends(t *testing.T) {
	routes := map[string]gateway.Route{
		"m1": {Adapter: adapter.NewMockAdapter().Script(adapter.MockReply{Content: `{"score": 0.4}`}), Model: "mock-1"},
		"m2": {Adapter: adapter.NewMockAdapter().Script(adapter.MockReply{Content: `{"score": 0.4}`}), Model: "mock-1"},
		"m3": {Adapter: adapter.NewMockAdapter().Script(adapter.MockReply{Content: `{"score": 0.4}`}), Model: "mock-1"},
	}
	agg := newAggregator(routes, []string{"m1", "m2", "m3"})

	res := agg.Aggregate(context.Background(), "score it", scoreSchema())
	if !almostEqual(res.Score, 0.4) {
		t.Errorf("score = %v, want 0.4", res.Score)
	}
	if !almostEqual(res.Confidence, 1.0) {
		t.Errorf("confidence = %v, want 1.0", res.Confidence)
	}
	if len(res.PerModelScores) != 3 {
		t.Errorf("per-model scores = %v, want 3 entries", res.PerModelScores)
	}
}

func TestAggregateSurvivesFailedBackend(t *testing.T) {
	routes := map[string]gateway.Route{
		"good": {Adapter: adapter.NewMockAdapter().Script(adapter.MockReply{Content: `{"score": 0.2}`}), Model: "mock-1"},
		"bad":  {Adapter: adapter.NewMockAdapter().Script(adapter.MockReply{Content: "not json at all"}), Model: "mock-1"},
	}
	agg := newAggregator(routes, []string{"good", "bad"})

	res := agg.Aggregate(context.Background(), "score it", scoreSchema())
	if !almostEqual(res.Score, 0.2) {
		t.Errorf("score = %v, want the surviving backend's 0.2", res.Score)
	}
	if !almostEqual(res.Confidence, 0.5) {
		t.Errorf("confidence = %v, want single-sample 0.5", res.Confidence)
	}
	if _, ok := res.PerModelScores["bad"]; ok {
		t.Error("failed backend should contribute no score")
	}
}

func TestAggregateAllBackendsFail(t *testing.T) {
	routes := map[string]gateway.Route{
		"b1": {Adapter: adapter.NewMockAdapter().Script(adapter.MockReply{Content: "prose"}), Model: "mock-1"},
		"b2": {Adapter: adapter.NewMockAdapter().Script(adapter.MockReply{Content: "more prose"}), Model: "mock-1"},
	}
	agg := newAggregator(routes, []string{"b1", "b2"})

	res := agg.Aggregate(context.Background(), "score it", scoreSchema())
	if res.Score != 0 || res.Confidence != 0 {
		t.Errorf("neutral default = %+v, want zero score and confidence", res)
	}
	if len(res.PerModelScores) != 0 {
		t.Errorf("per-model scores = %v, want empty", res.PerModelScores)
	}
}
