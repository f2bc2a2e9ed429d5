package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8000" {
		t.Fatalf("Port = %q, want 8000", cfg.Port)
	}
	if cfg.CtxMax != 400 {
		t.Fatalf("CtxMax = %d, want 400", cfg.CtxMax)
	}
	if cfg.RetrievalTopN != 3 {
		t.Fatalf("RetrievalTopN = %d, want 3", cfg.RetrievalTopN)
	}
	if cfg.CacheTTL != 20*time.Second {
		t.Fatalf("CacheTTL = %v, want 20s", cfg.CacheTTL)
	}
	if cfg.MCPProtocolVersion != "2025-06-18" {
		t.Fatalf("MCPProtocolVersion = %q", cfg.MCPProtocolVersion)
	}
	if !cfg.ForceGatewayEveryTurn || !cfg.AnchorInjectEnabled || !cfg.ToolEmptyContentCompat {
		t.Fatal("proxy toggles should default on")
	}
	if cfg.LocalMCPGatewayURL != "http://127.0.0.1:8000/gateway_ctx" {
		t.Fatalf("LocalMCPGatewayURL = %q", cfg.LocalMCPGatewayURL)
	}
	if cfg.S4EveryUserTurns != 4 || cfg.S4WindowUserTurns != 4 {
		t.Fatalf("s4 cadence = %d/%d, want 4/4", cfg.S4EveryUserTurns, cfg.S4WindowUserTurns)
	}
	if cfg.S60EveryUserTurns != 30 || cfg.S60WindowUserTurns != 30 {
		t.Fatalf("s60 cadence = %d/%d, want 30/30", cfg.S60EveryUserTurns, cfg.S60WindowUserTurns)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "9100")
	t.Setenv("ANCHOR_SNIP_MAX", "120")
	t.Setenv("GATEWAY_CTX_CACHE_TTL", "1.5")
	t.Setenv("FORCE_GATEWAY_EVERY_TURN", "0")
	t.Setenv("DIFY_WORKFLOW_API_KEY", "wf-key")
	t.Setenv("WRITER_MODE", "WEAK")

	cfg := Load()
	if cfg.Port != "9100" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.CtxMax != 120 {
		t.Fatalf("CtxMax = %d", cfg.CtxMax)
	}
	if cfg.CacheTTL != 1500*time.Millisecond {
		t.Fatalf("CacheTTL = %v", cfg.CacheTTL)
	}
	if cfg.ForceGatewayEveryTurn {
		t.Fatal("FORCE_GATEWAY_EVERY_TURN=0 should disable the toggle")
	}
	if cfg.DifyAPIKey != "wf-key" {
		t.Fatalf("DifyAPIKey = %q, want workflow key fallback", cfg.DifyAPIKey)
	}
	if cfg.WriterMode != "weak" {
		t.Fatalf("WriterMode = %q, want lowercased", cfg.WriterMode)
	}
}

func TestDifyAPIKeyPrecedence(t *testing.T) {
	t.Setenv("DIFY_API_KEY", "primary")
	t.Setenv("DIFY_WORKFLOW_API_KEY", "secondary")
	if cfg := Load(); cfg.DifyAPIKey != "primary" {
		t.Fatalf("DifyAPIKey = %q, want primary", cfg.DifyAPIKey)
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"/":     "",
		"api":   "/api",
		"/api/": "/api",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
