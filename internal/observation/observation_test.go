package observation

import (
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	t.Run("valid minimal observation", func(t *testing.T) {
		obs, err := Decode([]byte(`{"ts_ms":1723900000000,"scanner_id":"scanner-hall"}`))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if obs.TsMS != 1723900000000 {
			t.Errorf("TsMS = %d, want 1723900000000", obs.TsMS)
		}
		if obs.ScannerID != "scanner-hall" {
			t.Errorf("ScannerID = %q, want scanner-hall", obs.ScannerID)
		}
	})

	t.Run("missing ts_ms is malformed", func(t *testing.T) {
		_, err := Decode([]byte(`{"scanner_id":"scanner-hall"}`))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("error = %v, want ErrMalformed", err)
		}
	})

	t.Run("missing scanner_id is malformed", func(t *testing.T) {
		_, err := Decode([]byte(`{"ts_ms":1723900000000}`))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("error = %v, want ErrMalformed", err)
		}
	})

	t.Run("invalid json is malformed", func(t *testing.T) {
		_, err := Decode([]byte(`{not json`))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("error = %v, want ErrMalformed", err)
		}
	})

	t.Run("addr lowercased", func(t *testing.T) {
		obs, err := Decode([]byte(`{"ts_ms":1,"scanner_id":"s1","addr":"AA:BB:CC:DD:EE:FF","addr_type":"Public"}`))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if obs.Addr != "aa:bb:cc:dd:ee:ff" {
			t.Errorf("Addr = %q", obs.Addr)
		}
		if obs.AddrType != "public" {
			t.Errorf("AddrType = %q", obs.AddrType)
		}
	})

	t.Run("unparseable addr dropped, observation kept", func(t *testing.T) {
		obs, err := Decode([]byte(`{"ts_ms":1,"scanner_id":"s1","addr":"not-a-mac","name":"Sensor"}`))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if obs.Addr != "" {
			t.Errorf("Addr = %q, want dropped", obs.Addr)
		}
		if obs.AddrType != "" {
			t.Errorf("AddrType = %q, want dropped with addr", obs.AddrType)
		}
	})

	t.Run("out of range rssi dropped", func(t *testing.T) {
		obs, err := Decode([]byte(`{"ts_ms":1,"scanner_id":"s1","rssi":42}`))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if obs.RSSI != nil {
			t.Errorf("RSSI = %v, want nil", *obs.RSSI)
		}
	})

	t.Run("services normalised sorted deduplicated", func(t *testing.T) {
		obs, err := Decode([]byte(`{"ts_ms":1,"scanner_id":"s1","services":["180F","0x180f","0000180a-0000-1000-8000-00805F9B34FB"]}`))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		want := []string{
			"0000180a-0000-1000-8000-00805f9b34fb",
			"0000180f-0000-1000-8000-00805f9b34fb",
		}
		if len(obs.Services) != len(want) {
			t.Fatalf("Services = %v, want %v", obs.Services, want)
		}
		for i := range want {
			if obs.Services[i] != want[i] {
				t.Errorf("Services[%d] = %q, want %q", i, obs.Services[i], want[i])
			}
		}
	})
}

func TestDecodeLine(t *testing.T) {
	t.Run("bare observation passes through", func(t *testing.T) {
		obs, err := DecodeLine([]byte(`{"ts_ms":1723900000000,"scanner_id":"scanner-hall","name":"Tag"}`))
		if err != nil {
			t.Fatalf("DecodeLine() error = %v", err)
		}
		if obs.Name != "Tag" {
			t.Errorf("Name = %q", obs.Name)
		}
	})

	t.Run("envelope unwrapped with node_id fallback", func(t *testing.T) {
		line := []byte(`{"node_id":"scanner-porch","ts":1723900000,"domain":"ble","type":"observation","data":{"addr":"aa:bb:cc:dd:ee:ff","addr_type":"random"}}`)
		obs, err := DecodeLine(line)
		if err != nil {
			t.Fatalf("DecodeLine() error = %v", err)
		}
		if obs.ScannerID != "scanner-porch" {
			t.Errorf("ScannerID = %q, want scanner-porch", obs.ScannerID)
		}
		if obs.TsMS != 1723900000000 {
			t.Errorf("TsMS = %d, want seconds scaled to ms", obs.TsMS)
		}
	})

	t.Run("rejects foreign domain", func(t *testing.T) {
		line := []byte(`{"node_id":"scanner-porch","ts":1723900000,"domain":"button","type":"press","data":{"count":3}}`)
		_, err := DecodeLine(line)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("DecodeLine() error = %v, want ErrMalformed", err)
		}
	})

	t.Run("rejects unknown ble event type", func(t *testing.T) {
		line := []byte(`{"node_id":"scanner-porch","ts":1723900000,"domain":"ble","type":"connect","data":{"addr":"aa:bb:cc:dd:ee:ff"}}`)
		_, err := DecodeLine(line)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("DecodeLine() error = %v, want ErrMalformed", err)
		}
	})

	t.Run("accepts adv event type", func(t *testing.T) {
		line := []byte(`{"node_id":"scanner-porch","ts":1723900000,"domain":"ble","type":"adv","data":{"name":"Tag"}}`)
		obs, err := DecodeLine(line)
		if err != nil {
			t.Fatalf("DecodeLine() error = %v", err)
		}
		if obs.Name != "Tag" {
			t.Errorf("Name = %q", obs.Name)
		}
	})

	t.Run("inner fields win over envelope", func(t *testing.T) {
		line := []byte(`{"node_id":"outer","ts":5,"data":{"ts_ms":1723900000123,"scanner_id":"inner"}}`)
		obs, err := DecodeLine(line)
		if err != nil {
			t.Fatalf("DecodeLine() error = %v", err)
		}
		if obs.ScannerID != "inner" {
			t.Errorf("ScannerID = %q, want inner", obs.ScannerID)
		}
		if obs.TsMS != 1723900000123 {
			t.Errorf("TsMS = %d", obs.TsMS)
		}
	})
}

func TestHasStableContent(t *testing.T) {
	cid := 0x004C
	tests := []struct {
		name string
		obs  Observation
		want bool
	}{
		{"empty", Observation{}, false},
		{"services only", Observation{Services: []string{"0000180f-0000-1000-8000-00805f9b34fb"}}, true},
		{"company only", Observation{MfgCompanyID: &cid}, true},
		{"name only", Observation{Name: "Sensor"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.obs.HasStableContent(); got != tt.want {
				t.Errorf("HasStableContent() = %v, want %v", got, tt.want)
			}
		})
	}
}
