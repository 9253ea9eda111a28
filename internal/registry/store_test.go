package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/strangelab/sods-identity-core/internal/infrastructure/database"
	_ "github.com/strangelab/sods-identity-core/migrations"
)

// setupTestStore creates an in-memory registry with migrations applied.
func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	return NewStore(db)
}

func testDevice(id, primaryFP string) *Device {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	return &Device{
		ID:                 id,
		CreatedAt:          now,
		LastSeenAt:         now,
		PrimaryFingerprint: primaryFP,
		CompanyID:          -1,
		Evidence:           Evidence{CompanyID: -1},
		Sightings:          1,
		Fingerprints: []Fingerprint{
			{Value: primaryFP, Kind: "stable", CreatedAt: now},
		},
	}
}

func TestCreateAndGetDevice(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	dev := testDevice("ble:TESTDEVICE000000000000001A", "fp-stable-1")
	dev.Evidence.Services = []string{"0000180f-0000-1000-8000-00805f9b34fb"}
	dev.Evidence.Scanners = []string{"scanner-hall"}

	if err := store.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	got, err := store.GetDevice(ctx, dev.ID)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.PrimaryFingerprint != "fp-stable-1" {
		t.Errorf("PrimaryFingerprint = %q", got.PrimaryFingerprint)
	}
	if len(got.Fingerprints) != 1 || got.Fingerprints[0].Value != "fp-stable-1" {
		t.Errorf("Fingerprints = %+v", got.Fingerprints)
	}
	if len(got.Evidence.Services) != 1 {
		t.Errorf("Evidence.Services = %v", got.Evidence.Services)
	}
	if got.Sightings != 1 {
		t.Errorf("Sightings = %d", got.Sightings)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetDevice(context.Background(), "ble:MISSING")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestCreateDeviceValidation(t *testing.T) {
	store := setupTestStore(t)

	err := store.CreateDevice(context.Background(), &Device{ID: "ble:X"})
	if !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("error = %v, want ErrInvalidDevice", err)
	}
}

func TestFindByFingerprint(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	dev := testDevice("ble:TESTDEVICE000000000000002B", "fp-stable-2")
	if err := store.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	got, err := store.FindByFingerprint(ctx, "fp-stable-2")
	if err != nil {
		t.Fatalf("FindByFingerprint() error = %v", err)
	}
	if got.ID != dev.ID {
		t.Errorf("ID = %q, want %q", got.ID, dev.ID)
	}

	_, err = store.FindByFingerprint(ctx, "fp-unbound")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}

func TestFingerprintBindingIsPermanent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := testDevice("ble:FIRSTDEVICE00000000000003C", "fp-shared")
	if err := store.CreateDevice(ctx, first); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	// A second device claiming the same fingerprint must not steal it.
	second := testDevice("ble:SECONDDEVICE0000000000004D", "fp-other")
	second.Fingerprints = append(second.Fingerprints,
		Fingerprint{Value: "fp-shared", Kind: "stable", CreatedAt: time.Now()})
	if err := store.CreateDevice(ctx, second); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	got, err := store.FindByFingerprint(ctx, "fp-shared")
	if err != nil {
		t.Fatalf("FindByFingerprint() error = %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("fingerprint moved to %q, want %q", got.ID, first.ID)
	}
}

func TestMergeObservation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	dev := testDevice("ble:MERGEDEVICE00000000000005E", "fp-merge")
	if err := store.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	later := dev.LastSeenAt.Add(10 * time.Second)
	err := store.MergeObservation(ctx, dev.ID, later,
		[]Fingerprint{{Value: "fp-merge-addr", Kind: "addr", CreatedAt: later}},
		Evidence{
			CompanyID: 0x004C,
			Services:  []string{"0000180a-0000-1000-8000-00805f9b34fb"},
			Scanners:  []string{"scanner-porch"},
			Addr:      "aa:bb:cc:dd:ee:ff",
			AddrType:  "public",
		})
	if err != nil {
		t.Fatalf("MergeObservation() error = %v", err)
	}

	got, err := store.GetDevice(ctx, dev.ID)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.Sightings != 2 {
		t.Errorf("Sightings = %d, want 2", got.Sightings)
	}
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, later)
	}
	if got.CompanyID != 0x004C {
		t.Errorf("CompanyID = %d, want %d", got.CompanyID, 0x004C)
	}
	if len(got.Fingerprints) != 2 {
		t.Errorf("Fingerprints = %+v, want 2 bindings", got.Fingerprints)
	}
	if got.Evidence.Addr != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("Evidence.Addr = %q", got.Evidence.Addr)
	}
	if len(got.Evidence.Services) != 1 {
		t.Errorf("Evidence.Services = %v", got.Evidence.Services)
	}

	t.Run("out of order merge keeps last_seen", func(t *testing.T) {
		earlier := dev.LastSeenAt.Add(-time.Hour)
		if err := store.MergeObservation(ctx, dev.ID, earlier, nil, Evidence{CompanyID: -1}); err != nil {
			t.Fatalf("MergeObservation() error = %v", err)
		}
		got, err := store.GetDevice(ctx, dev.ID)
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		if !got.LastSeenAt.Equal(later) {
			t.Errorf("LastSeenAt moved backwards to %v", got.LastSeenAt)
		}
	})

	t.Run("missing device", func(t *testing.T) {
		err := store.MergeObservation(ctx, "ble:MISSING", later, nil, Evidence{CompanyID: -1})
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestFindByFingerprints(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := testDevice("ble:DEVICEAAAA000000000000006F", "fp-a")
	b := testDevice("ble:DEVICEBBBB000000000000007G", "fp-b")
	for _, dev := range []*Device{a, b} {
		if err := store.CreateDevice(ctx, dev); err != nil {
			t.Fatalf("CreateDevice() error = %v", err)
		}
	}

	devices, err := store.FindByFingerprints(ctx, []string{"fp-a", "fp-b", "fp-none"})
	if err != nil {
		t.Fatalf("FindByFingerprints() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("len = %d, want 2", len(devices))
	}

	devices, err = store.FindByFingerprints(ctx, nil)
	if err != nil {
		t.Fatalf("FindByFingerprints(nil) error = %v", err)
	}
	if devices != nil {
		t.Errorf("FindByFingerprints(nil) = %v, want nil", devices)
	}
}

func TestFindByCompany(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	dev := testDevice("ble:COMPANYDEV0000000000000H8I", "fp-company")
	dev.CompanyID = 0x0499
	if err := store.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	devices, err := store.FindByCompany(ctx, 0x0499, 10)
	if err != nil {
		t.Fatalf("FindByCompany() error = %v", err)
	}
	if len(devices) != 1 || devices[0].ID != dev.ID {
		t.Errorf("devices = %+v", devices)
	}

	devices, err = store.FindByCompany(ctx, 0x004C, 10)
	if err != nil {
		t.Fatalf("FindByCompany() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("unexpected matches: %+v", devices)
	}
}

func TestAliases(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	dev := testDevice("ble:ALIASDEVICE000000000000J9K", "fp-alias")
	if err := store.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	if err := store.SetAlias(ctx, dev.ID, "kitchen sensor", "manual"); err != nil {
		t.Fatalf("SetAlias() error = %v", err)
	}
	if err := store.SetAlias(ctx, dev.ID, "Fridge Tag", "importer"); err != nil {
		t.Fatalf("SetAlias() error = %v", err)
	}
	// Same source replaces.
	if err := store.SetAlias(ctx, dev.ID, "pantry sensor", "manual"); err != nil {
		t.Fatalf("SetAlias() error = %v", err)
	}

	aliases, err := store.ListAliases(ctx, dev.ID)
	if err != nil {
		t.Fatalf("ListAliases() error = %v", err)
	}
	if len(aliases) != 2 {
		t.Fatalf("aliases = %+v, want 2", aliases)
	}
	for _, a := range aliases {
		if a.Source == "manual" && a.Alias != "pantry sensor" {
			t.Errorf("manual alias = %q, want replacement", a.Alias)
		}
	}

	t.Run("empty alias rejected", func(t *testing.T) {
		err := store.SetAlias(ctx, dev.ID, "  ", "manual")
		if !errors.Is(err, ErrInvalidAlias) {
			t.Errorf("error = %v, want ErrInvalidAlias", err)
		}
	})

	t.Run("missing device rejected", func(t *testing.T) {
		err := store.SetAlias(ctx, "ble:MISSING", "name", "manual")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestReset(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	dev := testDevice("ble:RESETDEVICE000000000000L1M", "fp-reset")
	if err := store.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	if err := store.SetAlias(ctx, dev.ID, "doomed", "manual"); err != nil {
		t.Fatalf("SetAlias() error = %v", err)
	}

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	count, err := store.CountDevices(ctx)
	if err != nil {
		t.Fatalf("CountDevices() error = %v", err)
	}
	if count != 0 {
		t.Errorf("CountDevices() = %d after reset", count)
	}

	if _, err := store.FindByFingerprint(ctx, "fp-reset"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("fingerprint survived reset: %v", err)
	}
}

func TestListDevices(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"ble:LISTAAA0000000000000000N2", "ble:LISTBBB0000000000000000P3", "ble:LISTCCC0000000000000000Q4"} {
		dev := testDevice(id, "fp-list-"+id)
		dev.LastSeenAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.CreateDevice(ctx, dev); err != nil {
			t.Fatalf("CreateDevice() error = %v", err)
		}
	}

	devices, err := store.ListDevices(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("len = %d, want 2", len(devices))
	}
	// Most recently seen first.
	if devices[0].ID != "ble:LISTCCC0000000000000000Q4" {
		t.Errorf("first device = %q", devices[0].ID)
	}
}
