package calibration

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAssignsDefaults(t *testing.T) {
	tracker := NewTracker(10)

	id := tracker.Record(Snapshot{Symbol: "AAPL", Decision: "BUY", AggregateConfidence: 0.8})
	if id == "" {
		t.Fatal("expected a generated snapshot id")
	}

	history := tracker.History()
	if len(history) != 1 {
		t.Fatalf("history = %d, want 1", len(history))
	}
	snap := history[0]
	if snap.ID != id {
		t.Errorf("id = %q, want %q", snap.ID, id)
	}
	if snap.Outcome != OutcomePending {
		t.Errorf("outcome = %q, want PENDING", snap.Outcome)
	}
	if snap.Timestamp.IsZero() {
		t.Error("expected a timestamp to be assigned")
	}
}

func TestRecordEvictsOldestPastCapacity(t *testing.T) {
	tracker := NewTracker(3)

	for i := 0; i < 5; i++ {
		tracker.Record(Snapshot{ID: fmt.Sprintf("snap-%d", i), Symbol: "AAPL", Decision: "HOLD"})
	}

	if tracker.Len() != 3 {
		t.Fatalf("len = %d, want capacity 3", tracker.Len())
	}
	history := tracker.History()
	if history[0].ID != "snap-2" || history[2].ID != "snap-4" {
		t.Errorf("retained ids = %q..%q, want the newest three", history[0].ID, history[2].ID)
	}
}

func TestRecordOutcome(t *testing.T) {
	tracker := NewTracker(10)
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tracker.Record(Snapshot{Symbol: "AAPL", Timestamp: ts, Decision: "BUY", AggregateConfidence: 0.8})

	if !tracker.RecordOutcome("AAPL", ts, OutcomeWin, 120.5) {
		t.Fatal("expected the pending snapshot to settle")
	}

	snap := tracker.History()[0]
	if snap.Outcome != OutcomeWin {
		t.Errorf("outcome = %q, want WIN", snap.Outcome)
	}
	if snap.PnL == nil || *snap.PnL != 120.5 {
		t.Errorf("pnl = %v, want 120.5", snap.PnL)
	}

	// Terminal outcomes are final.
	if tracker.RecordOutcome("AAPL", ts, OutcomeLoss, -50) {
		t.Error("settled snapshot transitioned a second time")
	}
	if tracker.History()[0].Outcome != OutcomeWin {
		t.Error("settled outcome was overwritten")
	}
}

func TestRecordOutcomeRejectsNonTerminal(t *testing.T) {
	tracker := NewTracker(10)
	ts := time.Now().UTC()
	tracker.Record(Snapshot{Symbol: "AAPL", Timestamp: ts})

	if tracker.RecordOutcome("AAPL", ts, OutcomePending, 0) {
		t.Error("PENDING should not be accepted as a terminal outcome")
	}
}

func TestRecordOutcomeZeroTimestampMatchesLatestForSymbol(t *testing.T) {
	tracker := NewTracker(10)
	tracker.Record(Snapshot{Symbol: "AAPL", Timestamp: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)})
	latest := tracker.Record(Snapshot{Symbol: "AAPL", Timestamp: time.Date(2026, 8, 1, 15, 0, 0, 0, time.UTC)})
	tracker.Record(Snapshot{Symbol: "TSLA", Timestamp: time.Date(2026, 8, 1, 16, 0, 0, 0, time.UTC)})

	if !tracker.RecordOutcome("AAPL", time.Time{}, OutcomeLoss, -5) {
		t.Fatal("expected a symbol-only match")
	}
	for _, snap := range tracker.History() {
		settled := snap.Outcome == OutcomeLoss
		if (snap.ID == latest) != settled {
			t.Errorf("snapshot %s outcome = %s", snap.ID, snap.Outcome)
		}
	}
}

func TestRecordOutcomeNoMatch(t *testing.T) {
	tracker := NewTracker(10)
	if tracker.RecordOutcome("GHOST", time.Now(), OutcomeWin, 0) {
		t.Error("expected a miss for an unknown symbol")
	}
}

func TestRecordOutcomeMatchesLatestPending(t *testing.T) {
	tracker := NewTracker(10)
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := tracker.Record(Snapshot{Symbol: "AAPL", Timestamp: ts, Decision: "BUY"})
	second := tracker.Record(Snapshot{Symbol: "AAPL", Timestamp: ts, Decision: "SELL"})

	tracker.RecordOutcome("AAPL", ts, OutcomeWin, 10)

	for _, snap := range tracker.History() {
		switch snap.ID {
		case first:
			if snap.Outcome != OutcomePending {
				t.Error("older duplicate should stay pending")
			}
		case second:
			if snap.Outcome != OutcomeWin {
				t.Error("latest pending snapshot should settle first")
			}
		}
	}
}

func TestMetrics(t *testing.T) {
	tracker := NewTracker(10)
	tracker.Record(Snapshot{Symbol: "A", EpistemicScore: 20, AleatoricScore: 40, AggregateConfidence: 0.6})
	tracker.Record(Snapshot{Symbol: "B", EpistemicScore: 40, AleatoricScore: 60, AggregateConfidence: 0.8})

	m := tracker.Metrics()
	if m.Count != 2 {
		t.Fatalf("count = %d, want 2", m.Count)
	}
	if m.MeanEpistemic != 30 || m.MeanAleatoric != 50 || m.MeanConfidence != 0.7 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestReportCalibrationGap(t *testing.T) {
	tracker := NewTracker(100)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	record := func(i int, confidence float64, outcome Outcome) {
		ts := base.Add(time.Duration(i) * time.Minute)
		tracker.Record(Snapshot{Symbol: "AAPL", Timestamp: ts, AggregateConfidence: confidence})
		tracker.RecordOutcome("AAPL", ts, outcome, 0)
	}

	// High confidence: 4 wins of 5. Low confidence: 1 win of 5.
	n := 0
	for i := 0; i < 5; i++ {
		outcome := OutcomeWin
		if i == 4 {
			outcome = OutcomeLoss
		}
		record(n, 0.85, outcome)
		n++
	}
	for i := 0; i < 5; i++ {
		outcome := OutcomeLoss
		if i == 4 {
			outcome = OutcomeWin
		}
		record(n, 0.3, outcome)
		n++
	}

	report := tracker.Report()
	if report.SettledCount != 10 {
		t.Fatalf("settled = %d, want 10", report.SettledCount)
	}
	if report.HighConfidenceWinRate != 0.8 || report.LowConfidenceWinRate != 0.2 {
		t.Errorf("win rates = %v / %v, want 0.8 / 0.2", report.HighConfidenceWinRate, report.LowConfidenceWinRate)
	}
	if report.CalibrationGap != 0.6 {
		t.Errorf("gap = %v, want 0.6", report.CalibrationGap)
	}
	if !report.WellCalibrated {
		t.Error("a 0.6 gap should read as well calibrated")
	}
}

func TestReportIgnoresPendingAndMidBand(t *testing.T) {
	tracker := NewTracker(100)
	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Pending snapshots never count.
	tracker.Record(Snapshot{Symbol: "A", Timestamp: ts, AggregateConfidence: 0.9})

	// Mid-band confidence settles but lands in neither partition.
	tracker.Record(Snapshot{Symbol: "B", Timestamp: ts, AggregateConfidence: 0.6})
	tracker.RecordOutcome("B", ts, OutcomeWin, 0)

	report := tracker.Report()
	if report.SettledCount != 1 {
		t.Errorf("settled = %d, want 1", report.SettledCount)
	}
	if report.HighCount != 0 || report.LowCount != 0 {
		t.Errorf("partitions = %d / %d, want both empty", report.HighCount, report.LowCount)
	}
	if report.WellCalibrated {
		t.Error("no evidence should not read as well calibrated")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "calibration.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	tracker := NewTracker(10, WithStore(store))
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	id := tracker.Record(Snapshot{Symbol: "AAPL", Timestamp: ts, Decision: "BUY", AggregateConfidence: 0.75})
	tracker.RecordOutcome("AAPL", ts, OutcomeWin, 42)

	reloaded := NewTracker(10, WithStore(store))
	if reloaded.Len() != 1 {
		t.Fatalf("reloaded len = %d, want 1", reloaded.Len())
	}
	snap := reloaded.History()[0]
	if snap.ID != id || snap.Outcome != OutcomeWin || snap.PnL == nil || *snap.PnL != 42 {
		t.Errorf("reloaded snapshot = %+v", snap)
	}
	if reloaded.Metrics().Count != 1 {
		t.Errorf("reloaded metrics = %+v", reloaded.Metrics())
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	doc, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc != nil {
		t.Errorf("doc = %+v, want nil for a missing file", doc)
	}
}

func TestTrackerReloadTrimsToCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	big := NewTracker(10, WithStore(store))
	for i := 0; i < 6; i++ {
		big.Record(Snapshot{ID: fmt.Sprintf("snap-%d", i), Symbol: "AAPL"})
	}

	small := NewTracker(2, WithStore(store))
	if small.Len() != 2 {
		t.Fatalf("len = %d, want trimmed to 2", small.Len())
	}
	if small.History()[0].ID != "snap-4" {
		t.Errorf("oldest retained = %q, want snap-4", small.History()[0].ID)
	}
}
