package registry

import (
	"sync"
	"time"
)

// Candidate is a provisional identity that scored in the uncertain band.
// Candidates live in memory only: they either gather enough corroborating
// evidence to be promoted into the registry, or they age out.
type Candidate struct {
	// ID is the identifier the candidate would receive on promotion.
	ID string

	// PrimaryFingerprint is the fingerprint the ID derives from.
	PrimaryFingerprint string

	// Fingerprints are the bindings the candidate would carry.
	Fingerprints []Fingerprint

	// Evidence is the accumulated evidence so far.
	Evidence Evidence

	// FirstSeen and LastSeen bound the candidate's observation history.
	FirstSeen time.Time
	LastSeen  time.Time

	// Sightings counts observations folded into this candidate.
	Sightings int64
}

// CandidateSet is a bounded, TTL-governed set of provisional identities.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type CandidateSet struct {
	mu   sync.Mutex
	byID map[string]*Candidate
	byFP map[string]string
	ttl  time.Duration
	max  int
}

// NewCandidateSet creates a candidate set with the given retention window
// and size cap.
func NewCandidateSet(ttl time.Duration, max int) *CandidateSet {
	if max < 1 {
		max = 1
	}
	return &CandidateSet{
		byID: make(map[string]*Candidate),
		byFP: make(map[string]string),
		ttl:  ttl,
		max:  max,
	}
}

// Upsert folds an observation into an existing candidate or creates a
// new one. It returns the resulting candidate state.
//
// When the set is full, the stalest candidate is evicted to make room.
func (cs *CandidateSet) Upsert(in Candidate) Candidate {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	existing, ok := cs.byID[in.ID]
	if !ok {
		if len(cs.byID) >= cs.max {
			cs.evictStalestLocked()
		}
		c := in
		c.Sightings = 1
		cs.byID[c.ID] = &c
		cs.indexLocked(&c)
		return c
	}

	existing.Evidence.Merge(in.Evidence)
	existing.Sightings++
	if in.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = in.LastSeen
	}
	existing.Fingerprints = mergeFingerprints(existing.Fingerprints, in.Fingerprints)
	cs.indexLocked(existing)
	return *existing
}

// Get returns the candidate with the given ID.
func (cs *CandidateSet) Get(id string) (Candidate, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c, ok := cs.byID[id]
	if !ok {
		return Candidate{}, false
	}
	return *c, true
}

// FindByFingerprint returns the candidate owning a fingerprint.
func (cs *CandidateSet) FindByFingerprint(fp string) (Candidate, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	id, ok := cs.byFP[fp]
	if !ok {
		return Candidate{}, false
	}
	c, ok := cs.byID[id]
	if !ok {
		return Candidate{}, false
	}
	return *c, true
}

// Promote removes a candidate from the set and returns it for
// registration. The caller persists it as a device.
func (cs *CandidateSet) Promote(id string) (Candidate, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c, ok := cs.byID[id]
	if !ok {
		return Candidate{}, false
	}
	cs.removeLocked(c)
	return *c, true
}

// Drop discards a candidate without promotion.
func (cs *CandidateSet) Drop(id string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if c, ok := cs.byID[id]; ok {
		cs.removeLocked(c)
	}
}

// Sweep removes candidates whose last sighting is older than the TTL
// relative to now, and returns how many were removed.
func (cs *CandidateSet) Sweep(now time.Time) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cutoff := now.Add(-cs.ttl)
	removed := 0
	for _, c := range cs.byID {
		if c.LastSeen.Before(cutoff) {
			cs.removeLocked(c)
			removed++
		}
	}
	return removed
}

// Len returns the number of candidates in the set.
func (cs *CandidateSet) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.byID)
}

// indexLocked refreshes the fingerprint index for a candidate.
func (cs *CandidateSet) indexLocked(c *Candidate) {
	for _, fp := range c.Fingerprints {
		cs.byFP[fp.Value] = c.ID
	}
}

// removeLocked deletes a candidate and its fingerprint index entries.
func (cs *CandidateSet) removeLocked(c *Candidate) {
	for _, fp := range c.Fingerprints {
		if cs.byFP[fp.Value] == c.ID {
			delete(cs.byFP, fp.Value)
		}
	}
	delete(cs.byID, c.ID)
}

// evictStalestLocked removes the candidate with the oldest last sighting.
func (cs *CandidateSet) evictStalestLocked() {
	var stalest *Candidate
	for _, c := range cs.byID {
		if stalest == nil || c.LastSeen.Before(stalest.LastSeen) ||
			(c.LastSeen.Equal(stalest.LastSeen) && c.ID < stalest.ID) {
			stalest = c
		}
	}
	if stalest != nil {
		cs.removeLocked(stalest)
	}
}

// mergeFingerprints unions two fingerprint lists by value, keeping the
// earlier binding time for duplicates.
func mergeFingerprints(a, b []Fingerprint) []Fingerprint {
	seen := make(map[string]bool, len(a))
	out := make([]Fingerprint, 0, len(a)+len(b))
	for _, fp := range a {
		if !seen[fp.Value] {
			seen[fp.Value] = true
			out = append(out, fp)
		}
	}
	for _, fp := range b {
		if !seen[fp.Value] {
			seen[fp.Value] = true
			out = append(out, fp)
		}
	}
	return out
}
