package introspect

// State tags how much the engine trusts its own decision.
type State string

const (
	// StateCertain: strong agreement and high aggregate confidence.
	StateCertain State = "CERTAIN"
	// StateUncertain: knowledge-gap uncertainty dominates; more data
	// would change the answer.
	StateUncertain State = "UNCERTAIN"
	// StateMultipleValid: samples split between answers that are close
	// to equally supported.
	StateMultipleValid State = "MULTIPLE_VALID"
	// StateInformedGuess: none of the above; the decision is a lean,
	// not a conviction.
	StateInformedGuess State = "INFORMED_GUESS"
)

// DominantType names which uncertainty component dominates.
type DominantType string

const (
	DominantEpistemic DominantType = "EPISTEMIC"
	DominantAleatoric DominantType = "ALEATORIC"
	DominantMixed     DominantType = "MIXED"
)

// SelfConsistency is the majority-vote signal over k independent samples.
type SelfConsistency struct {
	Decision      string         `json:"decision"`
	Confidence    float64        `json:"confidence"` // majority count / sample count
	VoteBreakdown map[string]int `json:"vote_breakdown"`
	Diversity     float64        `json:"diversity"` // unique decisions / sample count
}

// Uncertainty splits uncertainty into a reducible and an irreducible part.
type Uncertainty struct {
	EpistemicScore float64      `json:"epistemic_score"` // [0,100], knowledge gaps
	AleatoricScore float64      `json:"aleatoric_score"` // [0,100], inherent noise
	DominantType   DominantType `json:"dominant_type"`
}

// Critique is the self-critique signal.
type Critique struct {
	ConfidenceAfterCritique float64  `json:"confidence_after_critique"` // [0,100]
	ShouldTrust             bool     `json:"should_trust"`
	KeyRisks                []string `json:"key_risks,omitempty"`
}

// Result is the full introspection outcome for one decision cycle.
type Result struct {
	Decision            string          `json:"decision"`
	State               State           `json:"state"`
	SelfConsistency     SelfConsistency `json:"self_consistency"`
	Uncertainty         Uncertainty     `json:"uncertainty"`
	Critique            Critique        `json:"critique"`
	AggregateConfidence float64         `json:"aggregate_confidence"`
}

// Weights is the canonical confidence weighting. The three introspection
// terms sum to 0.70; the remaining budget is reserved for signals the
// decision synthesizer supplies.
type Weights struct {
	Consistency float64
	Epistemic   float64
	Critique    float64
}

// DefaultWeights returns the documented weighting scheme.
func DefaultWeights() Weights {
	return Weights{Consistency: 0.35, Epistemic: 0.20, Critique: 0.15}
}
