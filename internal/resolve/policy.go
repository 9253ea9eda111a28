package resolve

// Decision thresholds.
const (
	// MergeThreshold is the minimum score to merge into an existing
	// identity.
	MergeThreshold = 70

	// CandidateThreshold is the minimum score to hold an uncertain
	// association as a candidate instead of creating a new identity.
	CandidateThreshold = 50
)

// Decision is the outcome of scoring an observation cluster.
type Decision string

const (
	// DecisionMerge folds the observation into the matched identity.
	DecisionMerge Decision = "merge"

	// DecisionCandidate holds the association as provisional.
	DecisionCandidate Decision = "candidate"

	// DecisionNew establishes a new identity.
	DecisionNew Decision = "new"
)

// Decide maps a score onto the decision bands.
func Decide(score int) Decision {
	switch {
	case score >= MergeThreshold:
		return DecisionMerge
	case score >= CandidateThreshold:
		return DecisionCandidate
	default:
		return DecisionNew
	}
}

// DecideMatch applies the decision bands to a concrete match.
//
// An exact stable-fingerprint match never produces a new identity, even
// when contradicting evidence drags the total score below the candidate
// band: a second device with the same stable fingerprint would violate
// the one-device-per-fingerprint invariant. Such matches are held as
// candidates instead.
func DecideMatch(m Match) Decision {
	d := Decide(m.Score)
	if d == DecisionNew && m.StableExact {
		return DecisionCandidate
	}
	return d
}
