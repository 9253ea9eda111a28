package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/strangelab/sods-identity-core/internal/infrastructure/config"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/database"
	"github.com/strangelab/sods-identity-core/internal/infrastructure/logging"
	"github.com/strangelab/sods-identity-core/internal/registry"
	"github.com/strangelab/sods-identity-core/internal/resolve"
	_ "github.com/strangelab/sods-identity-core/migrations"
)

// stubSummary satisfies SummarySource with fixed counters.
type stubSummary struct{}

func (stubSummary) Summary() resolve.Summary {
	return resolve.Summary{Observations: 42, Created: 7}
}

func setupServer(t *testing.T) (*Server, *registry.SQLStore) {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	store := registry.NewStore(db)
	server, err := New(Deps{
		Config: config.APIConfig{
			Enabled:  true,
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 10},
		},
		Logger:     logging.Default(),
		Store:      store,
		Candidates: registry.NewCandidateSet(time.Minute, 16),
		Summary:    stubSummary{},
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return server, store
}

func seedDevice(t *testing.T, store *registry.SQLStore, id, fp string) {
	t.Helper()
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	err := store.CreateDevice(context.Background(), &registry.Device{
		ID:                 id,
		CreatedAt:          now,
		LastSeenAt:         now,
		PrimaryFingerprint: fp,
		CompanyID:          -1,
		Sightings:          1,
		Fingerprints:       []registry.Fingerprint{{Value: fp, Kind: "stable", CreatedAt: now}},
	})
	if err != nil {
		t.Fatalf("seeding device: %v", err)
	}
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	server.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("response = %v", resp)
	}
}

func TestHandleListDevices(t *testing.T) {
	server, store := setupServer(t)
	seedDevice(t, store, "ble:AAA", "fp-a")
	seedDevice(t, store, "ble:BBB", "fp-b")

	t.Run("lists all", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/v1/devices", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var resp struct {
			Devices []registry.Device `json:"devices"`
			Count   int               `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.Count != 2 {
			t.Errorf("count = %d, want 2", resp.Count)
		}
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/v1/devices?limit=100000", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("filters by fingerprint", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/v1/devices?fp=fp-b", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var resp struct {
			Devices []registry.Device `json:"devices"`
			Count   int               `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.Count != 1 || len(resp.Devices) != 1 || resp.Devices[0].ID != "ble:BBB" {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("unbound fingerprint yields empty list", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/v1/devices?fp=fp-missing", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var resp struct {
			Devices []registry.Device `json:"devices"`
			Count   int               `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.Count != 0 || len(resp.Devices) != 0 {
			t.Errorf("response = %+v", resp)
		}
	})
}

func TestHandleGetDevice(t *testing.T) {
	server, store := setupServer(t)
	seedDevice(t, store, "ble:AAA", "fp-a")

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/v1/devices/ble:AAA", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var dev registry.Device
		if err := json.Unmarshal(rec.Body.Bytes(), &dev); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if dev.ID != "ble:AAA" || len(dev.Fingerprints) != 1 {
			t.Errorf("device = %+v", dev)
		}
	})

	t.Run("missing", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodGet, "/api/v1/devices/ble:NOPE", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandleAliases(t *testing.T) {
	server, store := setupServer(t)
	seedDevice(t, store, "ble:AAA", "fp-a")

	t.Run("set and list", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPut, "/api/v1/devices/ble:AAA/aliases",
			`{"alias":"kitchen sensor"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("set status = %d, want 200: %s", rec.Code, rec.Body.String())
		}

		rec = doRequest(t, server, http.MethodGet, "/api/v1/devices/ble:AAA/aliases", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("list status = %d, want 200", rec.Code)
		}

		var resp struct {
			Aliases []registry.Alias `json:"aliases"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if len(resp.Aliases) != 1 || resp.Aliases[0].Alias != "kitchen sensor" || resp.Aliases[0].Source != "manual" {
			t.Errorf("aliases = %+v", resp.Aliases)
		}
	})

	t.Run("rejects empty alias", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPut, "/api/v1/devices/ble:AAA/aliases",
			`{"alias":""}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		rec := doRequest(t, server, http.MethodPut, "/api/v1/devices/ble:NOPE/aliases",
			`{"alias":"ghost"}`)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandleStats(t *testing.T) {
	server, store := setupServer(t)
	seedDevice(t, store, "ble:AAA", "fp-a")

	rec := doRequest(t, server, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Devices    int64 `json:"devices"`
		Candidates int   `json:"candidates"`
		Resolution struct {
			Observations int64 `json:"observations"`
		} `json:"resolution"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Devices != 1 {
		t.Errorf("devices = %d, want 1", resp.Devices)
	}
	if resp.Resolution.Observations != 42 {
		t.Errorf("observations = %d, want 42", resp.Resolution.Observations)
	}
}
