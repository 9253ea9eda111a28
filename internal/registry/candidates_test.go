package registry

import (
	"fmt"
	"testing"
	"time"
)

func candidateAt(id string, seen time.Time) Candidate {
	return Candidate{
		ID:                 id,
		PrimaryFingerprint: "fp-" + id,
		Fingerprints:       []Fingerprint{{Value: "fp-" + id, Kind: "stable", CreatedAt: seen}},
		Evidence:           Evidence{CompanyID: -1},
		FirstSeen:          seen,
		LastSeen:           seen,
	}
}

func TestCandidateSetUpsert(t *testing.T) {
	cs := NewCandidateSet(15*time.Minute, 10)
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	c := cs.Upsert(candidateAt("cand-1", now))
	if c.Sightings != 1 {
		t.Errorf("Sightings = %d, want 1", c.Sightings)
	}

	later := now.Add(time.Second)
	update := candidateAt("cand-1", later)
	update.Evidence.Scanners = []string{"scanner-hall"}
	c = cs.Upsert(update)
	if c.Sightings != 2 {
		t.Errorf("Sightings = %d, want 2", c.Sightings)
	}
	if !c.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", c.LastSeen, later)
	}
	if len(c.Evidence.Scanners) != 1 {
		t.Errorf("Evidence.Scanners = %v", c.Evidence.Scanners)
	}
	if cs.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cs.Len())
	}
}

func TestCandidateSetFindByFingerprint(t *testing.T) {
	cs := NewCandidateSet(15*time.Minute, 10)
	now := time.Now()

	cs.Upsert(candidateAt("cand-2", now))

	c, ok := cs.FindByFingerprint("fp-cand-2")
	if !ok || c.ID != "cand-2" {
		t.Errorf("FindByFingerprint() = %+v, %v", c, ok)
	}

	if _, ok := cs.FindByFingerprint("fp-unknown"); ok {
		t.Error("unexpected match for unknown fingerprint")
	}
}

func TestCandidateSetPromote(t *testing.T) {
	cs := NewCandidateSet(15*time.Minute, 10)
	cs.Upsert(candidateAt("cand-3", time.Now()))

	c, ok := cs.Promote("cand-3")
	if !ok || c.ID != "cand-3" {
		t.Fatalf("Promote() = %+v, %v", c, ok)
	}
	if cs.Len() != 0 {
		t.Errorf("Len() = %d after promote", cs.Len())
	}
	if _, ok := cs.FindByFingerprint("fp-cand-3"); ok {
		t.Error("fingerprint index survived promotion")
	}

	if _, ok := cs.Promote("cand-3"); ok {
		t.Error("second Promote() should miss")
	}
}

func TestCandidateSetSweep(t *testing.T) {
	cs := NewCandidateSet(15*time.Minute, 10)
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	cs.Upsert(candidateAt("stale", now.Add(-20*time.Minute)))
	cs.Upsert(candidateAt("fresh", now.Add(-time.Minute)))

	removed := cs.Sweep(now)
	if removed != 1 {
		t.Errorf("Sweep() = %d, want 1", removed)
	}
	if _, ok := cs.Get("stale"); ok {
		t.Error("stale candidate survived sweep")
	}
	if _, ok := cs.Get("fresh"); !ok {
		t.Error("fresh candidate removed by sweep")
	}
}

func TestCandidateSetEviction(t *testing.T) {
	cs := NewCandidateSet(15*time.Minute, 3)
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		cs.Upsert(candidateAt(fmt.Sprintf("cand-%d", i), now.Add(time.Duration(i)*time.Second)))
	}
	cs.Upsert(candidateAt("cand-new", now.Add(time.Minute)))

	if cs.Len() != 3 {
		t.Errorf("Len() = %d, want 3", cs.Len())
	}
	if _, ok := cs.Get("cand-0"); ok {
		t.Error("stalest candidate not evicted")
	}
	if _, ok := cs.Get("cand-new"); !ok {
		t.Error("new candidate missing after eviction")
	}
}
