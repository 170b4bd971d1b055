package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/calibration"
	"github.com/zen-systems/quorum/pkg/council"
	"github.com/zen-systems/quorum/pkg/decision"
	"github.com/zen-systems/quorum/pkg/ensemble"
	"github.com/zen-systems/quorum/pkg/gateway"
	"github.com/zen-systems/quorum/pkg/introspect"
	"github.com/zen-systems/quorum/pkg/structured"
)

func testEngine(t *testing.T) (*Engine, *calibration.Tracker) {
	t.Helper()

	mock := adapter.NewMockAdapterWithResponses(map[string]string{
		"directional sentiment":      `{"score": 0.5, "reasoning": "constructive"}`,
		"Rank their answers":         `{"ranking": ["A"], "rationale": "only one voice"}`,
		"Assess the uncertainty":     `{"epistemic_score": 30, "aleatoric_score": 40}`,
		"consensus decision":         `{"confidence_after_critique": 70, "should_trust": true}`,
		"Answer with exactly one of": "BUY",
	}, "Proceed with the buy.")

	gw := gateway.New(map[string]gateway.Route{
		"judge": {Adapter: mock, Model: "mock-1"},
	})
	validator := structured.NewValidator(gw)

	agg := ensemble.New(validator, ensemble.Config{
		Backends:   []string{"judge"},
		ScoreField: "score",
		ScoreRange: ensemble.RangeUnit,
	}, zerolog.Nop())

	cnc := council.New(gw, council.Config{Members: []string{"judge"}}, zerolog.Nop())

	intro := introspect.New(gw, validator, introspect.Config{
		Model:   "judge",
		Samples: 3,
	}, introspect.DefaultWeights(), zerolog.Nop())

	tracker := calibration.NewTracker(10)
	return New(agg, cnc, intro, tracker, WithWeights(decision.DefaultWeights())), tracker
}

func TestRunCycle(t *testing.T) {
	eng, tracker := testEngine(t)

	result, err := eng.RunCycle(context.Background(), CycleInput{
		Symbol:   "AAPL",
		Question: "Is the post-earnings dip worth buying?",
	})
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	rec := result.Recommendation
	if rec == nil {
		t.Fatal("expected a recommendation")
	}
	if rec.Symbol != "AAPL" {
		t.Errorf("symbol = %q", rec.Symbol)
	}
	if rec.Decision != decision.Buy {
		t.Errorf("decision = %v, want BUY (combined %v)", rec.Decision, rec.CombinedConfidence)
	}
	if rec.CombinedConfidence <= 0 || rec.CombinedConfidence > 1 {
		t.Errorf("combined confidence = %v out of range", rec.CombinedConfidence)
	}
	if rec.PositionMultiplier <= 0 {
		t.Errorf("multiplier = %v, want positive for an actionable call", rec.PositionMultiplier)
	}

	if result.Ensemble == nil || result.Council == nil || result.Introspection == nil {
		t.Fatal("expected all three signal results to be carried through")
	}
	if result.Ensemble.Score != 0.5 {
		t.Errorf("ensemble score = %v", result.Ensemble.Score)
	}
	if result.Introspection.Decision != "BUY" {
		t.Errorf("introspection decision = %q", result.Introspection.Decision)
	}

	if result.SnapshotID == "" {
		t.Error("expected a calibration snapshot id")
	}
	if tracker.Len() != 1 {
		t.Errorf("tracker holds %d snapshots, want 1", tracker.Len())
	}
	snap := tracker.History()[0]
	if snap.Symbol != "AAPL" || snap.Outcome != calibration.OutcomePending {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.AggregateConfidence != rec.CombinedConfidence {
		t.Error("snapshot should freeze the recommendation's combined confidence")
	}
}

func TestRunCycleValidatesInput(t *testing.T) {
	eng, _ := testEngine(t)

	if _, err := eng.RunCycle(context.Background(), CycleInput{Question: "q"}); err == nil {
		t.Error("expected an error without a symbol")
	}
	if _, err := eng.RunCycle(context.Background(), CycleInput{Symbol: "AAPL"}); err == nil {
		t.Error("expected an error without a question")
	}
}

func TestRunCycleSurvivesDeadBackends(t *testing.T) {
	gw := gateway.New(map[string]gateway.Route{})
	validator := structured.NewValidator(gw)

	agg := ensemble.New(validator, ensemble.Config{Backends: []string{"ghost"}}, zerolog.Nop())
	cnc := council.New(gw, council.Config{Members: []string{"ghost"}}, zerolog.Nop())
	intro := introspect.New(gw, validator, introspect.Config{Model: "ghost", Samples: 2},
		introspect.DefaultWeights(), zerolog.Nop())

	eng := New(agg, cnc, intro, calibration.NewTracker(10))

	result, err := eng.RunCycle(context.Background(), CycleInput{Symbol: "AAPL", Question: "q"})
	if err != nil {
		t.Fatalf("a cycle with dead backends should still produce a recommendation: %v", err)
	}
	if result.Recommendation.Decision != decision.Skip {
		t.Errorf("decision = %v, want SKIP with no usable signals", result.Recommendation.Decision)
	}
}
