package resolve

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/strangelab/sods-identity-core/internal/fingerprint"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/logging"
	"github.com/strangelab/sods-identity-core/internal/registry"
)

func newTestEngine(t *testing.T) (*Engine, *registry.SQLStore) {
	t.Helper()
	store := setupStore(t)
	candidates := registry.NewCandidateSet(15*time.Minute, 64)
	engine := NewEngine(EngineConfig{Workers: 2, MergeWindowMS: 5000, MaxClusters: 64},
		store, candidates, fingerprint.NewTable(), logging.Default())
	return engine, store
}

func TestEngineResolvesSubmittedObservations(t *testing.T) {
	engine, store := newTestEngine(t)
	engine.Start(context.Background())

	payloads := []string{
		`{"ts_ms":1000,"scanner_id":"scanner-a","services":["180f"],"name":"Tag-9"}`,
		`{"ts_ms":2000,"scanner_id":"scanner-b","services":["180f"],"name":"Tag-9"}`,
	}
	for _, p := range payloads {
		if err := engine.Submit([]byte(p)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	// Stop drains the workers and flushes every open cluster.
	engine.Stop()

	summary := engine.Summary()
	if summary.Observations != 2 {
		t.Errorf("Observations = %d, want 2", summary.Observations)
	}
	if summary.Created != 1 {
		t.Errorf("Created = %d, want 1", summary.Created)
	}

	count, err := store.CountDevices(context.Background())
	if err != nil {
		t.Fatalf("CountDevices() error = %v", err)
	}
	if count != 1 {
		t.Errorf("device count = %d, want 1", count)
	}
}

func TestEngineDropsBadInputWithoutError(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.Start(context.Background())
	defer engine.Stop()

	if err := engine.Submit([]byte(`{"broken`)); err != nil {
		t.Errorf("Submit(malformed) error = %v, want nil", err)
	}
	if err := engine.Submit([]byte(`{"ts_ms":1000,"scanner_id":"s","rssi":-50}`)); err != nil {
		t.Errorf("Submit(fingerprintless) error = %v, want nil", err)
	}

	summary := engine.Summary()
	if summary.DroppedMalformed != 1 {
		t.Errorf("DroppedMalformed = %d, want 1", summary.DroppedMalformed)
	}
	if summary.DroppedNoFingerprint != 1 {
		t.Errorf("DroppedNoFingerprint = %d, want 1", summary.DroppedNoFingerprint)
	}
}

func TestEngineSubmitDuringStop(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.Start(context.Background())

	// Hammer Submit from several goroutines while Stop runs. Every call
	// must either enqueue or return ErrEngineStopped; none may panic on
	// a closed worker channel.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := []byte(`{"ts_ms":1000,"scanner_id":"s","services":["180f"],"name":"Tag-7"}`)
			for {
				select {
				case <-done:
					return
				default:
				}
				if err := engine.Submit(payload); err != nil {
					if !errors.Is(err, ErrEngineStopped) {
						t.Errorf("Submit() error = %v, want nil or ErrEngineStopped", err)
					}
					return
				}
			}
		}()
	}

	engine.Stop()
	close(done)
	wg.Wait()
}

func TestEngineRejectsSubmitAfterStop(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.Start(context.Background())
	engine.Stop()

	err := engine.Submit([]byte(`{"ts_ms":1000,"scanner_id":"s","services":["180f"]}`))
	if !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Submit() after Stop error = %v, want ErrEngineStopped", err)
	}
}
