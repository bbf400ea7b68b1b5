package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/firasghr/xrayguard/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"DEBUG", "DOCS", "PANEL_TYPE", "SYNC_WITH_PANEL", "PANEL_USERNAME",
		"PANEL_PASSWORD", "PANEL_ADDRESS", "PANEL_CUSTOM_NODES", "PANEL_NODE_RESET",
		"CACHE_TTL", "MARZNESHIN_SERVICES", "DEFAULT_LIMIT", "STL", "IUL",
		"BAN_LAST_USER", "ACCEPTED", "HTTP_BIND_ADDRESS", "HTTP_INSECURE_SKIP_VERIFY",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_MissingPanelAddress(t *testing.T) {
	clearEnv(t)
	_, err := config.Load()
	if err == nil {
		t.Fatal("expected error when PANEL_ADDRESS is unset")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PANEL_ADDRESS", "https://panel.example.com")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PanelType != config.PanelMarzneshin {
		t.Errorf("got PanelType=%q, want marzneshin", cfg.PanelType)
	}
	if !cfg.SyncWithPanel {
		t.Error("SyncWithPanel should default to true")
	}
	if cfg.PanelNodeReset != 300*time.Second {
		t.Errorf("got PanelNodeReset=%v, want 300s", cfg.PanelNodeReset)
	}
	if cfg.CacheTTL != 3600*time.Second {
		t.Errorf("got CacheTTL=%v, want 3600s", cfg.CacheTTL)
	}
	if cfg.STL != 5 || cfg.IUL != 2 {
		t.Errorf("got STL=%d IUL=%d, want 5/2", cfg.STL, cfg.IUL)
	}
	if len(cfg.MarzneshinServices) != 0 {
		t.Errorf("expected empty MarzneshinServices, got %v", cfg.MarzneshinServices)
	}
	if cfg.PanelCustomNodes != nil {
		t.Errorf("expected nil PanelCustomNodes, got %v", cfg.PanelCustomNodes)
	}
	if cfg.BanConcurrency != 8 {
		t.Errorf("got BanConcurrency=%d, want 8", cfg.BanConcurrency)
	}
	if cfg.LimitStorePath == "" || cfg.ExceptedIPStorePath == "" {
		t.Error("expected non-empty default store paths")
	}
}

func TestLoad_UnsupportedPanelType(t *testing.T) {
	clearEnv(t)
	t.Setenv("PANEL_ADDRESS", "https://panel.example.com")
	t.Setenv("PANEL_TYPE", "marzban")

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected error for unimplemented panel type")
	}
}

func TestLoad_InvalidPanelType(t *testing.T) {
	clearEnv(t)
	t.Setenv("PANEL_ADDRESS", "https://panel.example.com")
	t.Setenv("PANEL_TYPE", "not-a-real-panel")

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected error for invalid panel type")
	}
}

func TestLoad_CustomNodesAndServices(t *testing.T) {
	clearEnv(t)
	t.Setenv("PANEL_ADDRESS", "https://panel.example.com")
	t.Setenv("PANEL_CUSTOM_NODES", "node-a, node-b,node-c")
	t.Setenv("MARZNESHIN_SERVICES", "1:10,2:20, 3 : 30,garbage,4:")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantNodes := []string{"node-a", "node-b", "node-c"}
	if len(cfg.PanelCustomNodes) != len(wantNodes) {
		t.Fatalf("got %v, want %v", cfg.PanelCustomNodes, wantNodes)
	}
	for i, n := range wantNodes {
		if cfg.PanelCustomNodes[i] != n {
			t.Errorf("node[%d] = %q, want %q", i, cfg.PanelCustomNodes[i], n)
		}
	}

	want := map[int]int{1: 10, 2: 20, 3: 30}
	if len(cfg.MarzneshinServices) != len(want) {
		t.Fatalf("got %v, want %v", cfg.MarzneshinServices, want)
	}
	for sid, limit := range want {
		if cfg.MarzneshinServices[sid] != limit {
			t.Errorf("service %d = %d, want %d", sid, cfg.MarzneshinServices[sid], limit)
		}
	}
}

func TestLoad_BoolAndFractionalSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv("PANEL_ADDRESS", "https://panel.example.com")
	t.Setenv("DEBUG", "true")
	t.Setenv("BAN_LAST_USER", "yes")
	t.Setenv("ACCEPTED", "1")
	t.Setenv("CACHE_TTL", "1.5")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Debug || !cfg.BanLastUser || !cfg.Accepted {
		t.Errorf("expected Debug/BanLastUser/Accepted all true, got %+v", cfg)
	}
	if cfg.CacheTTL != 1500*time.Millisecond {
		t.Errorf("got CacheTTL=%v, want 1.5s", cfg.CacheTTL)
	}
}
