package fingerprint

import (
	"errors"
	"testing"

	"github.com/strangelab/sods-identity-core/internal/observation"
)

func intPtr(v int) *int { return &v }

func TestExtract(t *testing.T) {
	masker := NewTable()

	t.Run("stable fingerprint from services", func(t *testing.T) {
		obs := &observation.Observation{
			TsMS:      1,
			ScannerID: "s1",
			Services:  []string{"0000180f-0000-1000-8000-00805f9b34fb"},
		}
		fp, err := Extract(obs, masker)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if fp.Stable == "" {
			t.Error("Stable fingerprint missing")
		}
		if fp.Addr != "" {
			t.Error("Addr fingerprint should be empty without addr")
		}
		if fp.Primary() != fp.Stable {
			t.Error("Primary() should prefer stable")
		}
		if fp.PrimaryKind() != KindStable {
			t.Errorf("PrimaryKind() = %q", fp.PrimaryKind())
		}
	})

	t.Run("addr fingerprint only", func(t *testing.T) {
		obs := &observation.Observation{
			TsMS:      1,
			ScannerID: "s1",
			Addr:      "aa:bb:cc:dd:ee:ff",
			AddrType:  "random",
		}
		fp, err := Extract(obs, masker)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if fp.Stable != "" {
			t.Error("Stable fingerprint should be empty without content")
		}
		if fp.Addr == "" {
			t.Error("Addr fingerprint missing")
		}
		if fp.Primary() != fp.Addr {
			t.Error("Primary() should fall back to addr")
		}
		if fp.PrimaryKind() != KindAddr {
			t.Errorf("PrimaryKind() = %q", fp.PrimaryKind())
		}
		if fp.PublicAddr {
			t.Error("random address flagged public")
		}
	})

	t.Run("public address flagged", func(t *testing.T) {
		obs := &observation.Observation{
			TsMS:      1,
			ScannerID: "s1",
			Addr:      "aa:bb:cc:dd:ee:ff",
			AddrType:  "public",
		}
		fp, err := Extract(obs, masker)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if !fp.PublicAddr {
			t.Error("public address not flagged")
		}
	})

	t.Run("no fingerprint material", func(t *testing.T) {
		obs := &observation.Observation{TsMS: 1, ScannerID: "s1"}
		_, err := Extract(obs, masker)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		obs := &observation.Observation{
			TsMS:         1,
			ScannerID:    "s1",
			Services:     []string{"0000180a-0000-1000-8000-00805f9b34fb"},
			Name:         "Sensor-42",
			MfgCompanyID: intPtr(0x0499),
			MfgDataRaw:   []byte{0x01, 0x02, 0x03, 0x04, 0xAA, 0xBB},
		}
		fp1, err := Extract(obs, masker)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		fp2, err := Extract(obs, masker)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if fp1.Stable != fp2.Stable {
			t.Error("stable fingerprint not deterministic")
		}
	})

	t.Run("rotating mfg tail does not change stable fingerprint", func(t *testing.T) {
		base := &observation.Observation{
			TsMS:         1,
			ScannerID:    "s1",
			MfgCompanyID: intPtr(0x0499),
			MfgDataRaw:   []byte{0x01, 0x02, 0x03, 0x04, 0x11, 0x22},
		}
		rotated := &observation.Observation{
			TsMS:         2,
			ScannerID:    "s2",
			MfgCompanyID: intPtr(0x0499),
			MfgDataRaw:   []byte{0x01, 0x02, 0x03, 0x04, 0x99, 0xEE},
		}
		fp1, err := Extract(base, NewTable())
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		fp2, err := Extract(rotated, NewTable())
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if fp1.Stable != fp2.Stable {
			t.Error("default mask should hide rotating tail bytes")
		}
	})

	t.Run("different mfg prefix changes stable fingerprint", func(t *testing.T) {
		base := &observation.Observation{
			TsMS:         1,
			ScannerID:    "s1",
			MfgCompanyID: intPtr(0x0499),
			MfgDataRaw:   []byte{0x01, 0x02, 0x03, 0x04, 0x11, 0x22},
		}
		other := &observation.Observation{
			TsMS:         2,
			ScannerID:    "s2",
			MfgCompanyID: intPtr(0x0499),
			MfgDataRaw:   []byte{0x05, 0x06, 0x07, 0x08, 0x11, 0x22},
		}
		fp1, err := Extract(base, NewTable())
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		fp2, err := Extract(other, NewTable())
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if fp1.Stable == fp2.Stable {
			t.Error("observations differing in kept prefix bytes must fingerprint differently")
		}
	})

	t.Run("different scanners same device same fingerprints", func(t *testing.T) {
		obsA := &observation.Observation{
			TsMS:      1000,
			ScannerID: "scanner-hall",
			Addr:      "aa:bb:cc:dd:ee:ff",
			AddrType:  "public",
			Services:  []string{"0000180f-0000-1000-8000-00805f9b34fb"},
		}
		obsB := &observation.Observation{
			TsMS:      1500,
			ScannerID: "scanner-porch",
			Addr:      "aa:bb:cc:dd:ee:ff",
			AddrType:  "public",
			Services:  []string{"0000180f-0000-1000-8000-00805f9b34fb"},
		}
		fpA, err := Extract(obsA, masker)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		fpB, err := Extract(obsB, masker)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if fpA.Stable != fpB.Stable || fpA.Addr != fpB.Addr {
			t.Error("scanner identity leaked into fingerprints")
		}
	})
}

func TestDeviceID(t *testing.T) {
	t.Run("format", func(t *testing.T) {
		id := DeviceID("abc123")
		if len(id) != len(DeviceIDPrefix)+26 {
			t.Errorf("len = %d, want %d", len(id), len(DeviceIDPrefix)+26)
		}
		if id[:4] != DeviceIDPrefix {
			t.Errorf("prefix = %q", id[:4])
		}
		for _, r := range id[4:] {
			if !((r >= 'A' && r <= 'Z') || (r >= '2' && r <= '7')) {
				t.Errorf("non-Base32 character %q in id %q", r, id)
			}
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		if DeviceID("same-fp") != DeviceID("same-fp") {
			t.Error("DeviceID not deterministic")
		}
	})

	t.Run("distinct inputs distinct ids", func(t *testing.T) {
		if DeviceID("fp-a") == DeviceID("fp-b") {
			t.Error("distinct fingerprints collided")
		}
	})
}
