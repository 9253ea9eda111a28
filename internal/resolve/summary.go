package resolve

import "sync/atomic"

// Counters tracks resolution activity. All fields are updated atomically
// and safe for concurrent use.
type Counters struct {
	// Observations counts accepted observations.
	Observations atomic.Int64

	// Processed counts resolved clusters.
	Processed atomic.Int64

	// Created counts new identities (including promotions).
	Created atomic.Int64

	// Merged counts clusters merged into existing identities.
	Merged atomic.Int64

	// Candidates counts clusters held as provisional.
	Candidates atomic.Int64

	// Promoted counts candidates lifted into the registry.
	Promoted atomic.Int64

	// Ambiguous counts clusters claimed by two or more registered
	// devices at merge strength.
	Ambiguous atomic.Int64

	// DroppedMalformed counts payloads rejected at decode.
	DroppedMalformed atomic.Int64

	// DroppedNoFingerprint counts observations with no identity material.
	DroppedNoFingerprint atomic.Int64

	// StoreFailures counts registry writes or reads that did not complete.
	StoreFailures atomic.Int64
}

// Summary is a point-in-time snapshot of the counters.
type Summary struct {
	Observations         int64 `json:"observations"`
	Processed            int64 `json:"processed"`
	Created              int64 `json:"created"`
	Merged               int64 `json:"merged"`
	Candidates           int64 `json:"candidates"`
	Promoted             int64 `json:"promoted"`
	Ambiguous            int64 `json:"ambiguous"`
	DroppedMalformed     int64 `json:"dropped_malformed"`
	DroppedNoFingerprint int64 `json:"dropped_no_fingerprint"`
	StoreFailures        int64 `json:"store_failures"`
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Summary {
	return Summary{
		Observations:         c.Observations.Load(),
		Processed:            c.Processed.Load(),
		Created:              c.Created.Load(),
		Merged:               c.Merged.Load(),
		Candidates:           c.Candidates.Load(),
		Promoted:             c.Promoted.Load(),
		Ambiguous:            c.Ambiguous.Load(),
		DroppedMalformed:     c.DroppedMalformed.Load(),
		DroppedNoFingerprint: c.DroppedNoFingerprint.Load(),
		StoreFailures:        c.StoreFailures.Load(),
	}
}
