package calibration

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outcome is the settled result of one recorded decision.
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeWin     Outcome = "WIN"
	OutcomeLoss    Outcome = "LOSS"
)

// Snapshot freezes the uncertainty picture at decision time. The only
// mutation it ever sees is the single PENDING to terminal transition
// applied by the outcome feed.
type Snapshot struct {
	ID                  string    `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	Symbol              string    `json:"symbol"`
	Decision            string    `json:"decision"`
	EpistemicScore      float64   `json:"epistemic_score"`
	AleatoricScore      float64   `json:"aleatoric_score"`
	AggregateConfidence float64   `json:"aggregate_confidence"`
	Outcome             Outcome   `json:"outcome"`
	PnL                 *float64  `json:"pnl,omitempty"`
}

// Metrics holds rolling averages over the retained history.
type Metrics struct {
	MeanEpistemic  float64 `json:"mean_epistemic"`
	MeanAleatoric  float64 `json:"mean_aleatoric"`
	MeanConfidence float64 `json:"mean_confidence"`
	Count          int     `json:"count"`
}

// Report partitions settled snapshots by stated confidence and compares
// win rates. Confidence is well calibrated when the high-confidence set
// wins meaningfully more often than the low-confidence set.
type Report struct {
	HighConfidenceWinRate float64 `json:"high_confidence_win_rate"`
	LowConfidenceWinRate  float64 `json:"low_confidence_win_rate"`
	CalibrationGap        float64 `json:"calibration_gap"`
	HighCount             int     `json:"high_count"`
	LowCount              int     `json:"low_count"`
	SettledCount          int     `json:"settled_count"`
	WellCalibrated        bool    `json:"is_well_calibrated"`
}

const (
	highConfidenceCutoff = 0.7
	lowConfidenceCutoff  = 0.5
	calibratedGap        = 0.10
)

// Tracker keeps uncertainty snapshots in a bounded ring buffer and
// persists the whole document on every mutation. It assumes a single
// writer; callers needing concurrent writes must serialize their own
// access.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	history  []Snapshot
	metrics  Metrics
	store    *Store
	log      zerolog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore attaches document persistence.
func WithStore(store *Store) Option {
	return func(t *Tracker) { t.store = store }
}

// WithLogger sets the tracker logger.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// NewTracker creates a tracker holding at most capacity snapshots.
// When a store is attached, previously persisted history is reloaded;
// a load failure starts empty rather than blocking the process.
func NewTracker(capacity int, opts ...Option) *Tracker {
	if capacity <= 0 {
		capacity = 1000
	}
	t := &Tracker{capacity: capacity, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(t)
	}

	if t.store != nil {
		doc, err := t.store.Load()
		if err != nil {
			t.log.Warn().Err(err).Msg("could not load calibration history, starting empty")
		} else if doc != nil {
			t.history = doc.History
			if len(t.history) > t.capacity {
				t.history = t.history[len(t.history)-t.capacity:]
			}
			t.recomputeMetrics()
		}
	}
	return t
}

// Record appends a snapshot, evicting the oldest entry past capacity,
// recomputes the rolling averages and persists. Returns the snapshot id.
func (t *Tracker) Record(snap Snapshot) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	if snap.Outcome == "" {
		snap.Outcome = OutcomePending
	}

	t.history = append(t.history, snap)
	if len(t.history) > t.capacity {
		t.history = t.history[len(t.history)-t.capacity:]
	}
	t.recomputeMetrics()
	t.persist()
	return snap.ID
}

// RecordOutcome transitions the most recent PENDING snapshot for the
// symbol to a terminal outcome. A non-zero timestamp narrows the match
// to that exact decision. It no-ops with a warning when no match
// exists: the outcome feed may race ahead of snapshot retention.
func (t *Tracker) RecordOutcome(symbol string, timestamp time.Time, outcome Outcome, pnl float64) bool {
	if outcome != OutcomeWin && outcome != OutcomeLoss {
		t.log.Warn().Str("outcome", string(outcome)).Msg("ignoring non-terminal outcome")
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.history) - 1; i >= 0; i-- {
		snap := &t.history[i]
		if snap.Symbol != symbol || snap.Outcome != OutcomePending {
			continue
		}
		if !timestamp.IsZero() && !snap.Timestamp.Equal(timestamp) {
			continue
		}
		snap.Outcome = outcome
		snap.PnL = &pnl
		t.persist()
		return true
	}

	t.log.Warn().
		Str("symbol", symbol).
		Time("timestamp", timestamp).
		Msg("no pending snapshot for outcome, dropping")
	return false
}

// Metrics returns the current rolling averages.
func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

// Len returns the number of retained snapshots.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}

// History returns a copy of the retained snapshots, oldest first.
func (t *Tracker) History() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, len(t.history))
	copy(out, t.history)
	return out
}

// Report computes the calibration report over settled snapshots.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	var highWins, highTotal, lowWins, lowTotal, settled int
	for _, snap := range t.history {
		if snap.Outcome != OutcomeWin && snap.Outcome != OutcomeLoss {
			continue
		}
		settled++
		switch {
		case snap.AggregateConfidence > highConfidenceCutoff:
			highTotal++
			if snap.Outcome == OutcomeWin {
				highWins++
			}
		case snap.AggregateConfidence < lowConfidenceCutoff:
			lowTotal++
			if snap.Outcome == OutcomeWin {
				lowWins++
			}
		}
	}

	report := Report{
		HighCount:    highTotal,
		LowCount:     lowTotal,
		SettledCount: settled,
	}
	if highTotal > 0 {
		report.HighConfidenceWinRate = float64(highWins) / float64(highTotal)
	}
	if lowTotal > 0 {
		report.LowConfidenceWinRate = float64(lowWins) / float64(lowTotal)
	}
	report.CalibrationGap = report.HighConfidenceWinRate - report.LowConfidenceWinRate
	report.WellCalibrated = report.CalibrationGap > calibratedGap
	return report
}

func (t *Tracker) recomputeMetrics() {
	m := Metrics{Count: len(t.history)}
	if m.Count == 0 {
		t.metrics = m
		return
	}
	for _, snap := range t.history {
		m.MeanEpistemic += snap.EpistemicScore
		m.MeanAleatoric += snap.AleatoricScore
		m.MeanConfidence += snap.AggregateConfidence
	}
	n := float64(m.Count)
	m.MeanEpistemic /= n
	m.MeanAleatoric /= n
	m.MeanConfidence /= n
	t.metrics = m
}

// persist rewrites the whole document. Failures are logged and
// swallowed: in-memory state stays authoritative and a decision cycle
// is never blocked by a disk fault.
func (t *Tracker) persist() {
	if t.store == nil {
		return
	}
	if err := t.store.Save(Document{History: t.history, Metrics: t.metrics}); err != nil {
		t.log.Warn().Err(err).Msg("calibration persist failed, memory remains authoritative")
	}
}
