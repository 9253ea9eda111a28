package resolve

import (
	"encoding/hex"
	"time"

	"github.com/strangelab/sods-identity-core/internal/fingerprint"
	"github.com/strangelab/sods-identity-core/internal/registry"
)

// Scoring weights. Positive rules reward corroborating evidence,
// negative rules punish contradictions.
const (
	// ScoreStableMatch applies when the observation's stable fingerprint
	// is already bound to the device.
	ScoreStableMatch = 60

	// ScoreServiceOverlap applies when both sides advertise services and
	// their Jaccard similarity is at least serviceOverlapMin.
	ScoreServiceOverlap = 25

	// ScoreMfgMatch applies when company identifier and masked
	// manufacturer data both match.
	ScoreMfgMatch = 20

	// ScoreNameMatch applies when normalised name patterns match.
	ScoreNameMatch = 10

	// ScorePublicAddr applies when the observation's address fingerprint
	// is bound to the device and the address type is public. Public
	// addresses do not rotate, so the match carries real weight.
	ScorePublicAddr = 10

	// PenaltyCompanyMismatch applies when both sides carry a company
	// identifier and they differ.
	PenaltyCompanyMismatch = -30

	// PenaltyDisjointServices applies when both sides advertise services
	// with no overlap at all.
	PenaltyDisjointServices = -40
)

// serviceOverlapMin is the minimum Jaccard similarity for the service
// overlap reward.
const serviceOverlapMin = 0.5

// Match is one scored pairing of an observation against a known identity.
type Match struct {
	// Kind distinguishes registered devices from in-memory candidates.
	Kind MatchKind

	// ID is the device or candidate identifier.
	ID string

	// Score is the summed rule score.
	Score int

	// LastSeen breaks score ties in favour of recency.
	LastSeen time.Time

	// StableExact records whether the observation's stable fingerprint
	// is already bound to this identity. Policy treats an exact stable
	// match specially even when the total score is low.
	StableExact bool
}

// MatchKind identifies what a match points at.
type MatchKind string

const (
	// MatchDevice is a registered device.
	MatchDevice MatchKind = "device"

	// MatchCandidate is a provisional in-memory identity.
	MatchCandidate MatchKind = "candidate"
)

// Score evaluates an observation's fingerprints against one identity's
// fingerprint bindings and accumulated evidence.
func Score(obs fingerprint.Fingerprints, owned []registry.Fingerprint, ev registry.Evidence) (score int, stableExact bool) {
	ownedSet := make(map[string]bool, len(owned))
	for _, fp := range owned {
		ownedSet[fp.Value] = true
	}

	if obs.Stable != "" && ownedSet[obs.Stable] {
		score += ScoreStableMatch
		stableExact = true
	}

	if len(obs.Services) > 0 && len(ev.Services) > 0 {
		overlap := jaccard(obs.Services, ev.Services)
		switch {
		case overlap >= serviceOverlapMin:
			score += ScoreServiceOverlap
		case overlap == 0:
			score += PenaltyDisjointServices
		}
	}

	if obs.CompanyID >= 0 && ev.CompanyID >= 0 {
		if obs.CompanyID == ev.CompanyID {
			masked := hex.EncodeToString(obs.MaskedMfg)
			if masked != "" && masked == ev.MaskedMfg {
				score += ScoreMfgMatch
			}
		} else {
			score += PenaltyCompanyMismatch
		}
	}

	if obs.NamePattern != "" && obs.NamePattern == ev.NamePattern {
		score += ScoreNameMatch
	}

	if obs.Addr != "" && obs.PublicAddr && ownedSet[obs.Addr] {
		score += ScorePublicAddr
	}

	return score, stableExact
}

// jaccard computes set similarity between two sorted string slices.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}

	intersection := 0
	for _, s := range b {
		if set[s] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// better reports whether m should be preferred over current. Higher
// score wins; ties fall to the more recently seen identity, then to the
// lexicographically smaller ID so outcomes stay deterministic.
func better(m, current Match) bool {
	if m.Score != current.Score {
		return m.Score > current.Score
	}
	if !m.LastSeen.Equal(current.LastSeen) {
		return m.LastSeen.After(current.LastSeen)
	}
	return m.ID < current.ID
}
