package resolve

import "testing"

func TestDecide(t *testing.T) {
	tests := []struct {
		score int
		want  Decision
	}{
		{120, DecisionMerge},
		{70, DecisionMerge},
		{69, DecisionCandidate},
		{50, DecisionCandidate},
		{49, DecisionNew},
		{0, DecisionNew},
		{-40, DecisionNew},
	}

	for _, tt := range tests {
		if got := Decide(tt.score); got != tt.want {
			t.Errorf("Decide(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestDecideMatch(t *testing.T) {
	t.Run("stable match never creates new identity", func(t *testing.T) {
		// Stable match dragged below the candidate band by penalties.
		m := Match{Score: ScoreStableMatch + PenaltyDisjointServices, StableExact: true}
		if got := DecideMatch(m); got != DecisionCandidate {
			t.Errorf("DecideMatch() = %q, want %q", got, DecisionCandidate)
		}
	})

	t.Run("low score without stable match is new", func(t *testing.T) {
		m := Match{Score: 20, StableExact: false}
		if got := DecideMatch(m); got != DecisionNew {
			t.Errorf("DecideMatch() = %q, want %q", got, DecisionNew)
		}
	})

	t.Run("merge band unaffected", func(t *testing.T) {
		m := Match{Score: 85, StableExact: true}
		if got := DecideMatch(m); got != DecisionMerge {
			t.Errorf("DecideMatch() = %q, want %q", got, DecisionMerge)
		}
	})
}
