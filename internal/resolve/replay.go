package resolve

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/strangelab/sods-identity-core/internal/fingerprint"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/logging"
	"github.com/strangelab/sods-identity-core/internal/observation"
	"github.com/strangelab/sods-identity-core/internal/registry"
)

// maxLineBytes bounds a single replay input line.
const maxLineBytes = 1 << 20 // 1MB

// weakSourceLimit is how many address-only sources the report ranks.
const weakSourceLimit = 10

// replayCandidateTTL and replayCandidateCap govern the throwaway
// candidate set a replay runs with.
const (
	replayCandidateTTL = 15 * time.Minute
	replayCandidateCap = 4096
)

// ReplayOptions selects and bounds the replay input.
type ReplayOptions struct {
	// InputPath is a single event log file. Mutually exclusive with
	// EventsRoot; InputPath wins when both are set.
	InputPath string

	// EventsRoot is a directory tree of event logs (.jsonl, .ndjson,
	// .log files).
	EventsRoot string

	// Hours, when positive, restricts the replay to observations within
	// that many hours of the newest observation in the input.
	Hours int

	// MergeWindowMS is the correlation span; 0 means the default 5000.
	MergeWindowMS int64

	// Verbose enables per-decision logging.
	Verbose bool
}

// WeakSource is an address-only identity source: observations that never
// carried content usable for a stable fingerprint. These identities
// fragment when the address rotates, so the report surfaces the worst
// offenders.
type WeakSource struct {
	Addr  string `json:"addr"`
	Count int64  `json:"count"`
}

// ReplayResult is the outcome of a deterministic rebuild.
type ReplayResult struct {
	Summary Summary `json:"summary"`

	// Lines is the number of input lines read.
	Lines int64 `json:"lines"`

	// Devices is the registry device count after the replay.
	Devices int64 `json:"devices"`

	// WeakSources ranks address-only sources by observation count.
	WeakSources []WeakSource `json:"weak_sources,omitempty"`
}

// Replay rebuilds identity state from recorded observation logs.
//
// The replay is single-threaded and event-time ordered: observations are
// loaded, sorted by timestamp, and driven through one merge window, so
// the same input always yields the same registry state. The caller is
// expected to Reset the store first for a from-scratch rebuild.
//
// Returns ErrReplayInput when the input file or directory cannot be read.
func Replay(ctx context.Context, store registry.Store, masker fingerprint.Masker, opts ReplayOptions, logger *logging.Logger) (*ReplayResult, error) {
	logger = logger.With("component", "replay")

	lines, err := loadLines(opts)
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{Lines: int64(len(lines))}
	counters := &Counters{}

	r := resolver{
		store:      store,
		candidates: registry.NewCandidateSet(replayCandidateTTL, replayCandidateCap),
		logger:     logger,
		counters:   counters,
	}

	type entry struct {
		obs *observation.Observation
		fps fingerprint.Fingerprints
	}

	var entries []entry
	weak := make(map[string]int64)

	for _, line := range lines {
		obs, err := observation.DecodeLine(line)
		if err != nil {
			counters.DroppedMalformed.Add(1)
			if opts.Verbose {
				logger.Debug("skipped malformed line", "error", err)
			}
			continue
		}

		fps, err := fingerprint.Extract(obs, masker)
		if err != nil {
			counters.DroppedNoFingerprint.Add(1)
			continue
		}

		entries = append(entries, entry{obs: obs, fps: fps})
	}

	// Event-time order, with deterministic tie-breaks.
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.obs.TsMS != b.obs.TsMS {
			return a.obs.TsMS < b.obs.TsMS
		}
		if a.obs.ScannerID != b.obs.ScannerID {
			return a.obs.ScannerID < b.obs.ScannerID
		}
		return a.fps.Primary() < b.fps.Primary()
	})

	if opts.Hours > 0 && len(entries) > 0 {
		cutoff := entries[len(entries)-1].obs.TsMS - int64(opts.Hours)*time.Hour.Milliseconds()
		trimmed := entries[:0]
		for _, e := range entries {
			if e.obs.TsMS >= cutoff {
				trimmed = append(trimmed, e)
			}
		}
		entries = trimmed
	}

	// Count only what actually replays; the hours trim above must not
	// leave filtered observations in the summary or weak-source report.
	for _, e := range entries {
		counters.Observations.Add(1)
		if e.fps.Stable == "" {
			weak[e.fps.AddrValue]++
		}
	}

	windowSpan := opts.MergeWindowMS
	if windowSpan < 1 {
		windowSpan = 5000
	}
	window := NewWindow(windowSpan, replayCandidateCap)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, c := range window.Add(e.obs, e.fps) {
			r.resolveCluster(ctx, c)
		}
	}
	for _, c := range window.FlushAll() {
		r.resolveCluster(ctx, c)
	}

	result.Summary = counters.Snapshot()
	result.WeakSources = rankWeakSources(weak)

	if devices, err := store.CountDevices(ctx); err == nil {
		result.Devices = devices
	}

	logger.Info("replay complete",
		"lines", result.Lines,
		"observations", result.Summary.Observations,
		"devices", result.Devices,
	)
	return result, nil
}

// loadLines reads all input lines per the replay options.
func loadLines(opts ReplayOptions) ([][]byte, error) {
	switch {
	case opts.InputPath != "":
		return readLogFile(opts.InputPath)
	case opts.EventsRoot != "":
		return readLogTree(opts.EventsRoot)
	default:
		return nil, fmt.Errorf("%w: no input file or events root given", ErrReplayInput)
	}
}

// readLogFile reads one newline-delimited event log.
func readLogFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReplayInput, err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrReplayInput, path, err)
	}
	return lines, nil
}

// readLogTree reads every event log under a directory tree, in
// deterministic path order.
func readLogTree(root string) ([][]byte, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if isLogFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking %s: %v", ErrReplayInput, root, err)
	}

	sort.Strings(paths)

	var lines [][]byte
	for _, path := range paths {
		fileLines, err := readLogFile(path)
		if err != nil {
			return nil, err
		}
		lines = append(lines, fileLines...)
	}
	return lines, nil
}

// isLogFile reports whether a path looks like an event log.
func isLogFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".log":
		return true
	}
	return false
}

// rankWeakSources orders address-only sources by count, descending, with
// a deterministic address tie-break.
func rankWeakSources(weak map[string]int64) []WeakSource {
	if len(weak) == 0 {
		return nil
	}

	out := make([]WeakSource, 0, len(weak))
	for addr, count := range weak {
		if addr == "" {
			continue
		}
		out = append(out, WeakSource{Addr: addr, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Addr < out[j].Addr
	})

	if len(out) > weakSourceLimit {
		out = out[:weakSourceLimit]
	}
	return out
}
