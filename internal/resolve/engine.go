package resolve

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strangelab/sods-identity-core/internal/fingerprint"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/logging"
	"github.com/strangelab/sods-identity-core/internal/observation"
	"github.com/strangelab/sods-identity-core/internal/registry"
)

// Worker queue depth per shard.
const workerQueueDepth = 256

// sweepInterval is how often idle clusters are flushed on wall clock.
const sweepInterval = time.Second

// EngineConfig contains the live resolution engine tunables.
type EngineConfig struct {
	// Workers is the number of resolution shards.
	Workers int

	// MergeWindowMS is the multi-scanner correlation span.
	MergeWindowMS int64

	// MaxClusters bounds open clusters per shard.
	MaxClusters int
}

// job is one unit of worker input: an observation or a sweep tick.
type job struct {
	obs   *observation.Observation
	fps   fingerprint.Fingerprints
	sweep bool
	tsMS  int64
}

// Engine is the live resolution pipeline.
//
// Observations are routed to a worker shard by primary fingerprint, so
// every observation of one fingerprint is serialised through the same
// shard and its merge window. A wall-clock sweeper flushes clusters when
// the input stream goes quiet and ages out stale candidates.
type Engine struct {
	cfg        EngineConfig
	resolver   resolver
	masker     fingerprint.Masker
	candidates *registry.CandidateSet
	logger     *logging.Logger

	workers     []chan job
	wg          sync.WaitGroup
	sweeperDone chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc

	// submitMu serialises Submit's stopped check and channel send
	// against Stop, so a late Submit can never hit a closed channel.
	submitMu sync.RWMutex
	stopped  atomic.Bool
	started  atomic.Bool
}

// NewEngine creates a resolution engine. Call Start before Submit.
func NewEngine(cfg EngineConfig, store registry.Store, candidates *registry.CandidateSet, masker fingerprint.Masker, logger *logging.Logger) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MergeWindowMS < 1 {
		cfg.MergeWindowMS = 5000
	}

	return &Engine{
		cfg: cfg,
		resolver: resolver{
			store:      store,
			candidates: candidates,
			logger:     logger.With("component", "resolve"),
			counters:   &Counters{},
		},
		masker:     masker,
		candidates: candidates,
		logger:     logger.With("component", "resolve"),
	}
}

// SetEmitter wires an event emitter. Must be called before Start.
func (e *Engine) SetEmitter(emitter Emitter) {
	e.resolver.emitter = emitter
}

// SetMetrics wires a telemetry sink. Must be called before Start.
func (e *Engine) SetMetrics(sink MetricsSink) {
	e.resolver.metrics = sink
}

// Counters exposes the engine's resolution counters.
func (e *Engine) Counters() *Counters {
	return e.resolver.counters
}

// Summary returns a snapshot of resolution activity.
func (e *Engine) Summary() Summary {
	return e.resolver.counters.Snapshot()
}

// Start launches the worker shards and the wall-clock sweeper.
func (e *Engine) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	e.workers = make([]chan job, e.cfg.Workers)
	for i := range e.workers {
		ch := make(chan job, workerQueueDepth)
		e.workers[i] = ch

		e.wg.Add(1)
		go e.runWorker(ch)
	}

	e.sweeperDone = make(chan struct{})
	go e.runSweeper()

	e.logger.Info("resolution engine started",
		"workers", e.cfg.Workers,
		"merge_window_ms", e.cfg.MergeWindowMS,
	)
}

// Submit decodes one observation payload and routes it for resolution.
//
// Malformed payloads and observations with no fingerprint material are
// counted and dropped; neither is an error for the caller.
func (e *Engine) Submit(payload []byte) error {
	e.submitMu.RLock()
	defer e.submitMu.RUnlock()

	if e.stopped.Load() {
		return ErrEngineStopped
	}

	obs, err := observation.DecodeLine(payload)
	if err != nil {
		if errors.Is(err, observation.ErrMalformed) {
			e.resolver.counters.DroppedMalformed.Add(1)
			e.logger.Debug("dropped malformed observation", "error", err)
			return nil
		}
		return err
	}

	fps, err := fingerprint.Extract(obs, e.masker)
	if err != nil {
		if errors.Is(err, fingerprint.ErrUnavailable) {
			e.resolver.counters.DroppedNoFingerprint.Add(1)
			e.logger.Debug("dropped unfingerprintable observation", "scanner_id", obs.ScannerID)
			return nil
		}
		return err
	}

	e.resolver.counters.Observations.Add(1)
	e.workers[e.shard(fps.Primary())] <- job{obs: obs, fps: fps}
	return nil
}

// Stop drains the workers, flushing every open cluster, and shuts the
// engine down. Submit returns ErrEngineStopped afterwards.
func (e *Engine) Stop() {
	// Taking the write lock waits out in-flight Submits; once stopped
	// is set under it, no Submit can reach a worker channel again.
	e.submitMu.Lock()
	ok := e.stopped.CompareAndSwap(false, true)
	e.submitMu.Unlock()
	if !ok {
		return
	}
	if !e.started.Load() {
		return
	}

	// The sweeper must be down before worker channels close, or a tick
	// could land on a closed channel.
	e.cancel()
	<-e.sweeperDone

	for _, ch := range e.workers {
		close(ch)
	}
	e.wg.Wait()

	e.logger.Info("resolution engine stopped")
}

// shard maps a fingerprint key onto a worker index.
func (e *Engine) shard(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck // fnv never errors
	return int(h.Sum32() % uint32(len(e.workers)))
}

// runWorker owns one merge window and resolves its flushed clusters.
func (e *Engine) runWorker(ch <-chan job) {
	defer e.wg.Done()

	window := NewWindow(e.cfg.MergeWindowMS, e.cfg.MaxClusters)

	// Resolution must complete even for jobs drained during shutdown,
	// so it never runs under the engine's cancellable context. That
	// context only stops the sweeper.
	ctx := context.Background()

	for j := range ch {
		if j.sweep {
			for _, c := range window.SweepBefore(j.tsMS) {
				e.resolver.resolveCluster(ctx, c)
			}
			continue
		}

		for _, c := range window.Add(j.obs, j.fps) {
			e.resolver.resolveCluster(ctx, c)
		}
	}

	// Channel closed: drain remaining clusters before exit.
	for _, c := range window.FlushAll() {
		e.resolver.resolveCluster(ctx, c)
	}
}

// runSweeper periodically flushes quiet clusters and expires stale
// candidates.
func (e *Engine) runSweeper() {
	defer close(e.sweeperDone)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			tick := job{sweep: true, tsMS: now.UnixMilli()}
			for _, ch := range e.workers {
				select {
				case ch <- tick:
				default:
					// Shard is busy; it will flush on its next add.
				}
			}
			if removed := e.candidates.Sweep(now); removed > 0 {
				e.logger.Debug("expired candidates", "count", removed)
			}
		}
	}
}
