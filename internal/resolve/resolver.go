package resolve

import (
	"context"
	"time"

	"github.com/strangelab/sods-identity-core/internal/fingerprint"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/logging"
	"github.com/strangelab/sods-identity-core/internal/registry"
)

// Event types published after resolution.
const (
	// EventDeviceSeen announces a newly established identity.
	EventDeviceSeen = "device.seen"

	// EventDeviceMerged announces an observation merged into an
	// existing identity.
	EventDeviceMerged = "device.merged"
)

// Event is the payload published to sods/ble/event/{type}.
type Event struct {
	Type       string   `json:"type"`
	DeviceID   string   `json:"device_id"`
	TsMS       int64    `json:"ts_ms"`
	ScannerIDs []string `json:"scanner_ids"`
	Decision   string   `json:"decision"`
	Score      int      `json:"score"`
}

// Emitter publishes resolution events. The MQTT adapter in cmd wires
// this to the broker; replay runs without one.
type Emitter interface {
	Emit(evt Event) error
}

// MetricsSink records per-sighting telemetry. The InfluxDB adapter in
// cmd wires this to the ble_sighting measurement.
type MetricsSink interface {
	RecordSighting(deviceID, scannerID, decision string, rssi, score int, ts time.Time)
}

// companyScanLimit bounds how many same-vendor devices are scored when
// no fingerprint matches directly.
const companyScanLimit = 50

// resolver holds the shared resolution logic used by both the live
// engine and deterministic replay.
type resolver struct {
	store      registry.Store
	candidates *registry.CandidateSet
	emitter    Emitter
	metrics    MetricsSink
	logger     *logging.Logger
	counters   *Counters
}

// resolveCluster scores a flushed cluster against known identities and
// applies the resulting decision.
func (r *resolver) resolveCluster(ctx context.Context, c *Cluster) {
	r.counters.Processed.Add(1)

	best, owner, deviceMerges, found := r.findBestMatch(ctx, c)

	var decision Decision
	switch {
	case !found:
		decision = DecisionNew
	case deviceMerges >= 2:
		// Two registered devices both claim this cluster. Merging
		// either way risks corrupting an identity, so hold back.
		r.counters.Ambiguous.Add(1)
		r.logger.Warn("ambiguous match, holding as candidate",
			"fingerprint", c.Key,
			"score", best.Score,
		)
		decision = DecisionCandidate
	default:
		decision = DecideMatch(best)
	}

	switch decision {
	case DecisionMerge:
		r.applyMerge(ctx, c, best)
	case DecisionCandidate:
		r.applyCandidate(c, best)
	case DecisionNew:
		switch {
		case owner.ID == "":
			r.applyNew(ctx, c)
		case owner.Kind == MatchDevice && !owner.StableExact:
			// The cluster's primary fingerprint is an address already
			// bound to a device. Same address, same device, whatever
			// the evidence score says.
			r.applyMerge(ctx, c, owner)
		default:
			r.applyCandidate(c, owner)
		}
	}
}

// findBestMatch gathers and scores every plausible identity for the
// cluster. deviceMerges counts registered devices at or above the merge
// threshold, which drives ambiguity detection. owner, when its ID is
// non-empty, is the identity that already holds the cluster's primary
// fingerprint; a new identity with the same fingerprint cannot coexist
// with it.
func (r *resolver) findBestMatch(ctx context.Context, c *Cluster) (best, owner Match, deviceMerges int, found bool) {
	fps := c.Fingerprints

	var lookups []string
	if fps.Stable != "" {
		lookups = append(lookups, fps.Stable)
	}
	if fps.Addr != "" {
		lookups = append(lookups, fps.Addr)
	}

	devices, err := r.store.FindByFingerprints(ctx, lookups)
	if err != nil {
		r.counters.StoreFailures.Add(1)
		r.logger.Error("fingerprint lookup failed", "error", err)
	}

	// With no direct fingerprint hit, widen to same-vendor devices so
	// content similarity can still match across an address rotation.
	if len(devices) == 0 && fps.CompanyID >= 0 {
		devices, err = r.store.FindByCompany(ctx, fps.CompanyID, companyScanLimit)
		if err != nil {
			r.counters.StoreFailures.Add(1)
			r.logger.Error("company lookup failed", "error", err)
		}
	}

	for i := range devices {
		dev := &devices[i]
		score, stableExact := Score(fps, dev.Fingerprints, dev.Evidence)
		m := Match{
			Kind:        MatchDevice,
			ID:          dev.ID,
			Score:       score,
			LastSeen:    dev.LastSeenAt,
			StableExact: stableExact,
		}
		if score >= MergeThreshold {
			deviceMerges++
		}
		if ownsFingerprint(dev.Fingerprints, c.Key) && owner.ID == "" {
			owner = m
		}
		if !found || better(m, best) {
			best = m
			found = true
		}
	}

	for _, lookup := range lookups {
		cand, ok := r.candidates.FindByFingerprint(lookup)
		if !ok {
			continue
		}
		score, stableExact := Score(fps, cand.Fingerprints, cand.Evidence)
		m := Match{
			Kind:        MatchCandidate,
			ID:          cand.ID,
			Score:       score,
			LastSeen:    cand.LastSeen,
			StableExact: stableExact,
		}
		if cand.PrimaryFingerprint == c.Key && owner.ID == "" {
			owner = m
		}
		if !found || better(m, best) {
			best = m
			found = true
		}
	}

	return best, owner, deviceMerges, found
}

// ownsFingerprint reports whether a binding list contains the value.
func ownsFingerprint(bindings []registry.Fingerprint, value string) bool {
	for _, fp := range bindings {
		if fp.Value == value {
			return true
		}
	}
	return false
}

// applyMerge folds the cluster into the matched identity. Merging into a
// candidate promotes it into the registry first.
func (r *resolver) applyMerge(ctx context.Context, c *Cluster, best Match) {
	if best.Kind == MatchCandidate {
		r.promote(ctx, c, best)
		return
	}

	seenAt := time.UnixMilli(c.LastTsMS)
	if err := r.store.MergeObservation(ctx, best.ID, seenAt, c.bindings(seenAt), c.Evidence); err != nil {
		r.counters.StoreFailures.Add(1)
		r.logger.Error("merge failed", "device_id", best.ID, "error", err)
		return
	}
	r.counters.Merged.Add(1)

	r.emit(Event{
		Type:       EventDeviceMerged,
		DeviceID:   best.ID,
		TsMS:       c.LastTsMS,
		ScannerIDs: c.Scanners(),
		Decision:   string(DecisionMerge),
		Score:      best.Score,
	})
	r.record(best.ID, c, DecisionMerge, best.Score)
}

// promote lifts a candidate into the registry with the cluster folded in.
func (r *resolver) promote(ctx context.Context, c *Cluster, best Match) {
	cand, ok := r.candidates.Promote(best.ID)
	if !ok {
		// Raced away (swept or promoted elsewhere); treat as new.
		r.applyNew(ctx, c)
		return
	}

	cand.Evidence.Merge(c.Evidence)
	seenAt := time.UnixMilli(c.LastTsMS)

	dev := &registry.Device{
		ID:                 cand.ID,
		CreatedAt:          cand.FirstSeen,
		LastSeenAt:         seenAt,
		PrimaryFingerprint: cand.PrimaryFingerprint,
		CompanyID:          cand.Evidence.CompanyID,
		Evidence:           cand.Evidence,
		Sightings:          cand.Sightings + 1,
		Fingerprints:       mergeBindings(cand.Fingerprints, c.bindings(seenAt)),
	}

	if err := r.store.CreateDevice(ctx, dev); err != nil {
		r.counters.StoreFailures.Add(1)
		r.logger.Error("candidate promotion failed", "device_id", cand.ID, "error", err)
		return
	}
	r.counters.Promoted.Add(1)
	r.counters.Created.Add(1)

	r.emit(Event{
		Type:       EventDeviceSeen,
		DeviceID:   dev.ID,
		TsMS:       c.LastTsMS,
		ScannerIDs: c.Scanners(),
		Decision:   string(DecisionMerge),
		Score:      best.Score,
	})
	r.record(dev.ID, c, DecisionMerge, best.Score)
}

// applyCandidate holds the cluster as a provisional identity.
func (r *resolver) applyCandidate(c *Cluster, best Match) {
	seenAt := time.UnixMilli(c.LastTsMS)
	id := fingerprint.DeviceID(c.Key)

	r.candidates.Upsert(registry.Candidate{
		ID:                 id,
		PrimaryFingerprint: c.Key,
		Fingerprints:       c.bindings(seenAt),
		Evidence:           c.Evidence,
		FirstSeen:          time.UnixMilli(c.FirstTsMS),
		LastSeen:           seenAt,
	})
	r.counters.Candidates.Add(1)
	r.record(id, c, DecisionCandidate, best.Score)
}

// applyNew establishes a fresh identity from the cluster.
func (r *resolver) applyNew(ctx context.Context, c *Cluster) {
	seenAt := time.UnixMilli(c.LastTsMS)
	id := fingerprint.DeviceID(c.Key)

	dev := &registry.Device{
		ID:                 id,
		CreatedAt:          time.UnixMilli(c.FirstTsMS),
		LastSeenAt:         seenAt,
		PrimaryFingerprint: c.Key,
		CompanyID:          c.Evidence.CompanyID,
		Evidence:           c.Evidence,
		Sightings:          1,
		Fingerprints:       c.bindings(seenAt),
	}

	if err := r.store.CreateDevice(ctx, dev); err != nil {
		r.counters.StoreFailures.Add(1)
		r.logger.Error("device creation failed", "device_id", id, "error", err)
		return
	}
	r.counters.Created.Add(1)

	r.emit(Event{
		Type:       EventDeviceSeen,
		DeviceID:   id,
		TsMS:       c.LastTsMS,
		ScannerIDs: c.Scanners(),
		Decision:   string(DecisionNew),
		Score:      0,
	})
	r.record(id, c, DecisionNew, 0)
}

// emit publishes an event if an emitter is wired.
func (r *resolver) emit(evt Event) {
	if r.emitter == nil {
		return
	}
	if err := r.emitter.Emit(evt); err != nil {
		r.logger.Warn("event emission failed", "type", evt.Type, "error", err)
	}
}

// record writes sighting telemetry if a sink is wired.
func (r *resolver) record(deviceID string, c *Cluster, decision Decision, score int) {
	if r.metrics == nil {
		return
	}
	scanners := c.Scanners()
	scanner := ""
	if len(scanners) > 0 {
		scanner = scanners[0]
	}
	r.metrics.RecordSighting(deviceID, scanner, string(decision), c.BestRSSI, score, time.UnixMilli(c.LastTsMS))
}

// bindings returns the registry fingerprint bindings carried by the
// cluster.
func (c *Cluster) bindings(at time.Time) []registry.Fingerprint {
	var out []registry.Fingerprint
	if c.Fingerprints.Stable != "" {
		out = append(out, registry.Fingerprint{Value: c.Fingerprints.Stable, Kind: fingerprint.KindStable, CreatedAt: at})
	}
	if c.Fingerprints.Addr != "" {
		out = append(out, registry.Fingerprint{Value: c.Fingerprints.Addr, Kind: fingerprint.KindAddr, CreatedAt: at})
	}
	return out
}

// mergeBindings unions two binding lists by fingerprint value.
func mergeBindings(a, b []registry.Fingerprint) []registry.Fingerprint {
	seen := make(map[string]bool, len(a))
	out := make([]registry.Fingerprint, 0, len(a)+len(b))
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
