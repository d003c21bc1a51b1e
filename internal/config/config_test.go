package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.AutoReconnect || !cfg.ValidateFrames {
		t.Errorf("expected auto_reconnect and validate_frames defaulted on, got %+v", cfg)
	}
}

func TestLoadSaveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opclient.yaml")
	n := 4
	cfg := &ClientConfig{
		Host:            "10.0.0.5",
		Port:            4545,
		AutoReconnect:   true,
		ValidateFrames:  true,
		SpindleCount:    &n,
		CommandTimeout:  "5s",
		WatchdogTimeout: "8s",
		LogLevel:        "debug",
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Host != cfg.Host || got.Port != cfg.Port || got.LogLevel != cfg.LogLevel {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.SpindleCount == nil || *got.SpindleCount != n {
		t.Errorf("expected spindle_count %d, got %+v", n, got.SpindleCount)
	}
}

func TestToOpenProtocolConfigParsesDurations(t *testing.T) {
	cfg := &ClientConfig{
		Host:           "10.0.0.5",
		CommandTimeout: "5s",
		ReconnectMax:   "30s",
	}
	opc, err := cfg.ToOpenProtocolConfig()
	if err != nil {
		t.Fatalf("ToOpenProtocolConfig: %v", err)
	}
	if opc.CommandTimeout != 5*time.Second {
		t.Errorf("expected command timeout 5s, got %v", opc.CommandTimeout)
	}
	if opc.ReconnectMax != 30*time.Second {
		t.Errorf("expected reconnect max 30s, got %v", opc.ReconnectMax)
	}
}

func TestToOpenProtocolConfigRejectsBadDuration(t *testing.T) {
	cfg := &ClientConfig{Host: "10.0.0.5", HeartbeatTick: "not-a-duration"}
	if _, err := cfg.ToOpenProtocolConfig(); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}
