package config

import "testing"

func TestAIConfigDurations_DefaultsOnZero(t *testing.T) {
	ai := AIConfig{}
	ai.Durations()

	if ai.IdleTimeout.Seconds() != 60 {
		t.Errorf("IdleTimeout = %v, want 60s default", ai.IdleTimeout)
	}
	if ai.RequestTimeout.Seconds() != 30 {
		t.Errorf("RequestTimeout = %v, want 30s default", ai.RequestTimeout)
	}
}

func TestAIConfigDurations_Explicit(t *testing.T) {
	ai := AIConfig{IdleTimeoutMs: 1500, RequestTimeoutMs: 2500}
	ai.Durations()

	if ai.IdleTimeout.Milliseconds() != 1500 {
		t.Errorf("IdleTimeout = %v, want 1500ms", ai.IdleTimeout)
	}
	if ai.RequestTimeout.Milliseconds() != 2500 {
		t.Errorf("RequestTimeout = %v, want 2500ms", ai.RequestTimeout)
	}
}

func TestBridgeConfigApplyDefaults(t *testing.T) {
	b := &BridgeConfig{
		Daemon: DaemonConfig{IdleTimeoutMs: 5000, MaxRetries: 2, RequestTimeoutMs: 10000},
		AIs: []AIConfig{
			{Name: "alpha"},
			{Name: "beta", MaxRetries: 4},
		},
	}
	b.ApplyDefaults()

	if b.AIs[0].IdleTimeoutMs != 5000 {
		t.Errorf("alpha IdleTimeoutMs = %d, want inherited 5000", b.AIs[0].IdleTimeoutMs)
	}
	if b.AIs[1].MaxRetries != 4 {
		t.Errorf("beta MaxRetries = %d, want explicit 4 preserved", b.AIs[1].MaxRetries)
	}
	if b.Terminal.Backend != BackendAuto {
		t.Errorf("Terminal.Backend = %v, want auto default", b.Terminal.Backend)
	}
	if b.Terminal.PaneLayout != LayoutHorizontal {
		t.Errorf("Terminal.PaneLayout = %v, want horizontal default", b.Terminal.PaneLayout)
	}
}
