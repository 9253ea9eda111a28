package config

import (
	"testing"
	"time"
)

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
		Resolver: ResolverConfig{
			MergeWindowMS:       5000,
			CandidateTTLMinutes: 15,
		},
	}

	if got := cfg.MergeWindow(); got != 5*time.Second {
		t.Errorf("MergeWindow() = %v, want 5s", got)
	}
	if got := cfg.CandidateTTL(); got != 15*time.Minute {
		t.Errorf("CandidateTTL() = %v, want 15m", got)
	}
	if got := cfg.API.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.API.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 45s", got)
	}
	if got := cfg.API.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
}
