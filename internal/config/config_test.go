package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NETCORE_HOST", "")
	t.Setenv("NETCORE_PORT", "")
	t.Setenv("NETCORE_PLAYER_NAME", "")
	t.Setenv("NETCORE_TICK_HZ", "")
	t.Setenv("NETCORE_SNAPSHOT_HZ", "")
	t.Setenv("NETCORE_REPLAY_DIR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Fatalf("expected default port %d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.Host != DefaultHost {
		t.Fatalf("expected default host %q, got %q", DefaultHost, cfg.Host)
	}
	if cfg.TickHz != DefaultTickHz || cfg.SnapshotHz != DefaultSnapshotHz {
		t.Fatalf("unexpected rates tick=%d snapshot=%d", cfg.TickHz, cfg.SnapshotHz)
	}
	if cfg.ReplayDir != "" {
		t.Fatalf("expected replay recording disabled, got %q", cfg.ReplayDir)
	}
	if cfg.Logging.MaxSizeMB != DefaultLogMaxSizeMB {
		t.Fatalf("expected default log size %d, got %d", DefaultLogMaxSizeMB, cfg.Logging.MaxSizeMB)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NETCORE_HOST", "10.0.0.4")
	t.Setenv("NETCORE_PORT", "9100")
	t.Setenv("NETCORE_PLAYER_NAME", "Alice")
	t.Setenv("NETCORE_TICK_HZ", "30")
	t.Setenv("NETCORE_SNAPSHOT_HZ", "10")
	t.Setenv("NETCORE_REPLAY_DIR", "/tmp/replays")
	t.Setenv("NETCORE_LOG_MAX_BACKUPS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Host != "10.0.0.4" || cfg.Port != 9100 {
		t.Fatalf("unexpected endpoint %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.PlayerName != "Alice" {
		t.Fatalf("unexpected player name %q", cfg.PlayerName)
	}
	if cfg.TickHz != 30 || cfg.SnapshotHz != 10 {
		t.Fatalf("unexpected rates tick=%d snapshot=%d", cfg.TickHz, cfg.SnapshotHz)
	}
	if cfg.ReplayDir != "/tmp/replays" {
		t.Fatalf("unexpected replay dir %q", cfg.ReplayDir)
	}
	if cfg.Logging.MaxBackups != 3 {
		t.Fatalf("unexpected log backups %d", cfg.Logging.MaxBackups)
	}
}

func TestLoadEmptyOpsAddrDisablesEndpoint(t *testing.T) {
	t.Setenv("NETCORE_OPS_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.OpsAddr != "" {
		t.Fatalf("expected ops endpoint disabled, got %q", cfg.OpsAddr)
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	t.Setenv("NETCORE_PORT", "70000")
	t.Setenv("NETCORE_TICK_HZ", "abc")
	t.Setenv("NETCORE_LOG_MAX_SIZE_MB", "-5")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"NETCORE_PORT", "NETCORE_TICK_HZ", "NETCORE_LOG_MAX_SIZE_MB"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err.Error(), want)
		}
	}
}

func TestLoadRejectsSnapshotFasterThanTick(t *testing.T) {
	t.Setenv("NETCORE_TICK_HZ", "10")
	t.Setenv("NETCORE_SNAPSHOT_HZ", "20")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when snapshot rate exceeds tick rate")
	}
}
