package resolve

import (
	"encoding/hex"
	"sort"

	"github.com/strangelab/sods-identity-core/internal/fingerprint"
	"github.com/strangelab/sods-identity-core/internal/observation"
	"github.com/strangelab/sods-identity-core/internal/registry"
)

// Cluster is a group of observations of the same fingerprint key within
// the merge window. Multiple scanners sighting one broadcast produce one
// cluster and therefore one resolution decision.
type Cluster struct {
	// Key is the primary fingerprint the cluster is grouped by.
	Key string

	// FirstTsMS and LastTsMS bound the clustered observations.
	FirstTsMS int64
	LastTsMS  int64

	// Fingerprints is the extraction from the first observation,
	// enriched with any address fingerprint a later observation added.
	Fingerprints fingerprint.Fingerprints

	// Evidence is the union of evidence across the cluster.
	Evidence registry.Evidence

	// BestRSSI is the strongest signal seen, or 0 when no observation
	// carried one.
	BestRSSI int

	// Count is the number of clustered observations.
	Count int

	scanners map[string]bool
}

// Scanners returns the sorted set of scanners that contributed.
func (c *Cluster) Scanners() []string {
	out := make([]string, 0, len(c.scanners))
	for s := range c.scanners {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// absorb folds one observation into the cluster.
func (c *Cluster) absorb(obs *observation.Observation, fps fingerprint.Fingerprints) {
	if obs.TsMS > c.LastTsMS {
		c.LastTsMS = obs.TsMS
	}
	c.Count++
	c.scanners[obs.ScannerID] = true

	// A later observation may carry the address an earlier one lacked.
	if c.Fingerprints.Addr == "" && fps.Addr != "" {
		c.Fingerprints.Addr = fps.Addr
		c.Fingerprints.AddrValue = fps.AddrValue
		c.Fingerprints.AddrType = fps.AddrType
		c.Fingerprints.PublicAddr = fps.PublicAddr
	}

	c.Evidence.Merge(evidenceFrom(fps, obs.ScannerID))

	if obs.RSSI != nil && (c.BestRSSI == 0 || *obs.RSSI > c.BestRSSI) {
		c.BestRSSI = *obs.RSSI
	}
}

// evidenceFrom builds evidence for one observation's fingerprints.
func evidenceFrom(fps fingerprint.Fingerprints, scannerID string) registry.Evidence {
	ev := registry.Evidence{
		Services:    fps.Services,
		CompanyID:   fps.CompanyID,
		NamePattern: fps.NamePattern,
		Addr:        fps.AddrValue,
		AddrType:    fps.AddrType,
		Scanners:    []string{scannerID},
	}
	if len(fps.MaskedMfg) > 0 {
		ev.MaskedMfg = hex.EncodeToString(fps.MaskedMfg)
	}
	return ev
}

// Window groups observations by primary fingerprint over a fixed span.
//
// Time is event time (observation timestamps), not wall clock, so the
// same input sequence clusters identically live and in replay. The live
// engine additionally sweeps on wall clock to flush clusters when the
// input stream goes quiet.
//
// Window is not safe for concurrent use; each engine worker owns one.
type Window struct {
	spanMS      int64
	maxClusters int
	clusters    map[string]*Cluster
}

// NewWindow creates a merge window with the given span in milliseconds
// and cluster cap.
func NewWindow(spanMS int64, maxClusters int) *Window {
	if maxClusters < 1 {
		maxClusters = 1
	}
	return &Window{
		spanMS:      spanMS,
		maxClusters: maxClusters,
		clusters:    make(map[string]*Cluster),
	}
}

// Add folds an observation into the window and returns any clusters whose
// span expired at this observation's event time. Expired clusters are
// returned oldest first, ready for resolution.
func (w *Window) Add(obs *observation.Observation, fps fingerprint.Fingerprints) []*Cluster {
	expired := w.expireBefore(obs.TsMS - w.spanMS + 1)

	key := fps.Primary()
	c, ok := w.clusters[key]
	if !ok {
		if len(w.clusters) >= w.maxClusters {
			expired = append(expired, w.flushOldest())
		}
		c = &Cluster{
			Key:          key,
			FirstTsMS:    obs.TsMS,
			LastTsMS:     obs.TsMS,
			Fingerprints: fps,
			Evidence:     registry.Evidence{CompanyID: fingerprint.CompanyNone},
			scanners:     make(map[string]bool),
		}
		w.clusters[key] = c
	}

	c.absorb(obs, fps)
	return expired
}

// SweepBefore flushes clusters opened before the given event time.
// The live engine calls this from a wall-clock ticker.
func (w *Window) SweepBefore(tsMS int64) []*Cluster {
	return w.expireBefore(tsMS - w.spanMS + 1)
}

// FlushAll drains every open cluster, oldest first. Called at the end of
// a replay.
func (w *Window) FlushAll() []*Cluster {
	out := make([]*Cluster, 0, len(w.clusters))
	for _, c := range w.clusters {
		out = append(out, c)
	}
	w.clusters = make(map[string]*Cluster)
	sortClusters(out)
	return out
}

// Len returns the number of open clusters.
func (w *Window) Len() int {
	return len(w.clusters)
}

// expireBefore removes and returns clusters opened before cutoff.
func (w *Window) expireBefore(cutoff int64) []*Cluster {
	var out []*Cluster
	for key, c := range w.clusters {
		if c.FirstTsMS < cutoff {
			out = append(out, c)
			delete(w.clusters, key)
		}
	}
	sortClusters(out)
	return out
}

// flushOldest removes and returns the oldest open cluster.
func (w *Window) flushOldest() *Cluster {
	var oldest *Cluster
	for _, c := range w.clusters {
		if oldest == nil || c.FirstTsMS < oldest.FirstTsMS ||
			(c.FirstTsMS == oldest.FirstTsMS && c.Key < oldest.Key) {
			oldest = c
		}
	}
	delete(w.clusters, oldest.Key)
	return oldest
}

// sortClusters orders clusters by first sighting, then key, so flush
// order is deterministic.
func sortClusters(cs []*Cluster) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].FirstTsMS != cs[j].FirstTsMS {
			return cs[i].FirstTsMS < cs[j].FirstTsMS
		}
		return cs[i].Key < cs[j].Key
	})
}
