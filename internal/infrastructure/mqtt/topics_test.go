package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"observation", topics.Observation("scanner-hall"), "sods/ble/observation/scanner-hall"},
		{"all observations", topics.AllObservations(), "sods/ble/observation/+"},
		{"event", topics.Event("device.seen"), "sods/ble/event/device.seen"},
		{"all events", topics.AllEvents(), "sods/ble/event/+"},
		{"system status", topics.SystemStatus(), "sods/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
