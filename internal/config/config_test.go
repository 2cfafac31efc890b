package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STAGEHAND_HISTORY_LIMIT", "")
	t.Setenv("STAGEHAND_RELEASE_LOCKS_ON_DISCONNECT", "")
	cfg := Load()
	if cfg.HistoryLimit != 50 {
		t.Fatalf("HistoryLimit = %d, want 50", cfg.HistoryLimit)
	}
	if !cfg.ReleaseLocksOnDisconnect {
		t.Fatal("ReleaseLocksOnDisconnect should default on")
	}
	if cfg.SendBuffer != 64 {
		t.Fatalf("SendBuffer = %d, want 64", cfg.SendBuffer)
	}
	if cfg.RoleCacheTTL != time.Minute {
		t.Fatalf("RoleCacheTTL = %v, want 1m", cfg.RoleCacheTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STAGEHAND_HISTORY_LIMIT", "10")
	t.Setenv("STAGEHAND_RELEASE_LOCKS_ON_DISCONNECT", "false")
	t.Setenv("STAGEHAND_ROLE_CACHE_TTL_SECONDS", "5")
	t.Setenv("MINIO_USE_SSL", "not-a-bool")
	cfg := Load()
	if cfg.HistoryLimit != 10 {
		t.Fatalf("HistoryLimit = %d, want 10", cfg.HistoryLimit)
	}
	if cfg.ReleaseLocksOnDisconnect {
		t.Fatal("ReleaseLocksOnDisconnect should be false")
	}
	if cfg.RoleCacheTTL != 5*time.Second {
		t.Fatalf("RoleCacheTTL = %v, want 5s", cfg.RoleCacheTTL)
	}
	if cfg.MinIOUseSSL {
		t.Fatal("unparseable bool should fall back to default false")
	}
}
