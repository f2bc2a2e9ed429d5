package proxy

import (
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
	"github.com/gin-gonic/gin"
)

func identityCtx(headers map[string]string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	for k, v := range headers {
		c.Request.Header.Set(k, v)
	}
	return c
}

func identityCfg() *config.Config {
	return &config.Config{
		MemoryIDDefault: "mem-default",
		AgentIDDefault:  "agent-default",
		WriterMode:      "normal",
		GatewayCtxUser:  "rikkahub",
	}
}

func TestResolveIdentityPrecedence(t *testing.T) {
	c := identityCtx(map[string]string{
		"x-thread-id":  "th-header",
		"x-session-id": "sess-header",
	})
	payload := map[string]any{
		"metadata": map[string]any{"thread_id": "th-meta", "memory_id": "mem-meta"},
	}
	id := ResolveIdentity(c, payload, identityCfg(), time.Now())
	if id.ThreadID != "th-header" {
		t.Fatalf("ThreadID = %q, header must win", id.ThreadID)
	}
	if id.SessionID != id.ThreadID {
		t.Fatal("SessionID must equal ThreadID")
	}
	if id.MemoryID != "mem-meta" {
		t.Fatalf("MemoryID = %q, metadata beats default", id.MemoryID)
	}
	if id.AgentID != "agent-default" {
		t.Fatalf("AgentID = %q", id.AgentID)
	}

	// metadata wins over x-session-id when the thread header is absent
	c = identityCtx(map[string]string{"x-session-id": "sess-header"})
	id = ResolveIdentity(c, payload, identityCfg(), time.Now())
	if id.ThreadID != "th-meta" {
		t.Fatalf("ThreadID = %q, metadata beats session header", id.ThreadID)
	}
}

func TestResolveIdentityGeneratedThread(t *testing.T) {
	c := identityCtx(nil)
	now := time.Date(2026, 8, 24, 15, 4, 0, 0, time.UTC)
	id := ResolveIdentity(c, map[string]any{}, identityCfg(), now)
	if !regexp.MustCompile(`^rk:th:202608241504:[0-9a-f]{12}$`).MatchString(id.ThreadID) {
		t.Fatalf("generated ThreadID = %q", id.ThreadID)
	}
	again := ResolveIdentity(c, map[string]any{}, identityCfg(), now)
	if again.ThreadID == id.ThreadID {
		t.Fatal("generated thread ids must differ")
	}
}

func TestResolveIdentityScopeAndWriterMode(t *testing.T) {
	cases := map[string]string{"auto": "thread", "thread": "thread", "memory": "memory", "": "thread", "Bogus": "thread"}
	for in, want := range cases {
		c := identityCtx(nil)
		payload := map[string]any{"metadata": map[string]any{"s4_scope": in}}
		if got := ResolveIdentity(c, payload, identityCfg(), time.Now()).S4Scope; got != want {
			t.Fatalf("s4_scope %q → %q, want %q", in, got, want)
		}
	}

	c := identityCtx(nil)
	payload := map[string]any{"metadata": map[string]any{"writer_mode": "WEAK"}}
	if got := ResolveIdentity(c, payload, identityCfg(), time.Now()).WriterMode; got != "weak" {
		t.Fatalf("writer mode = %q", got)
	}

	// legacy metadata.mode is honored when writer_mode is absent
	payload = map[string]any{"metadata": map[string]any{"mode": "weak"}}
	if got := ResolveIdentity(c, payload, identityCfg(), time.Now()).WriterMode; got != "weak" {
		t.Fatalf("legacy mode = %q", got)
	}
	payload = map[string]any{"metadata": map[string]any{"writer_mode": "normal", "mode": "weak"}}
	if got := ResolveIdentity(c, payload, identityCfg(), time.Now()).WriterMode; got != "normal" {
		t.Fatalf("writer_mode must win over mode, got %q", got)
	}
}

func TestResolveIdentityGatewayUser(t *testing.T) {
	c := identityCtx(nil)
	payload := map[string]any{
		"user":     "payload-user",
		"metadata": map[string]any{"gateway_user": "meta-user"},
	}
	if got := ResolveIdentity(c, payload, identityCfg(), time.Now()).User; got != "meta-user" {
		t.Fatalf("User = %q", got)
	}
	delete(payload, "metadata")
	if got := ResolveIdentity(c, payload, identityCfg(), time.Now()).User; got != "payload-user" {
		t.Fatalf("User = %q", got)
	}
	delete(payload, "user")
	if got := ResolveIdentity(c, payload, identityCfg(), time.Now()).User; got != "rikkahub" {
		t.Fatalf("User = %q", got)
	}
}
