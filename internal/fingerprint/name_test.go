package fingerprint

import "testing"

func TestPattern(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain word", "Sensor", "sensor"},
		{"decimal suffix", "Device-1234", "device-#"},
		{"different decimal suffix matches", "Device-5678", "device-#"},
		{"embedded digits", "Tag12Pro", "tag#pro"},
		{"hex serial token", "Tile_a1f4", "tile_#"},
		{"short hex token kept", "Hub-a1", "hub-a#"},
		{"whitespace trimmed", "  Beacon 7  ", "beacon #"},
		{"colon separated serial", "cam:dead01", "cam:#"},
		{"all-letter hex word kept", "Cafe-Beacon", "cafe-beacon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Pattern(tt.in); got != tt.want {
				t.Errorf("Pattern(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
