package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
	"github.com/Lintsukishima/Gateway-github-2/internal/retrieval"
	"github.com/gin-gonic/gin"
)

type stubAnchor struct{}

func (stubAnchor) Invoke(context.Context, string, string) (retrieval.AnchorOutputs, error) {
	return retrieval.AnchorOutputs{Result: "片段"}, nil
}

func buildTestEngine(basePath string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		BasePath:                basePath,
		Debug:                   true,
		MCPProtocolVersion:      "2025-06-18",
		CtxMax:                  400,
		RetrievalTopN:           3,
		RetrievalProfileVersion: "v1.0.0",
		UpstreamBaseURL:         "https://example.invalid",
		LocalMCPTimeout:         time.Second,
	}
	return Build(cfg, Dependencies{
		Cache:  retrieval.NewContextCache(20*time.Second, 256),
		Anchor: stubAnchor{},
	})
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestBuildMountsCoreRoutes(t *testing.T) {
	r := buildTestEngine("")

	if rec := get(r, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := get(r, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	rec := get(r, "/gateway_ctx")
	if rec.Code != http.StatusOK || rec.Header().Get("MCP-Protocol-Version") == "" {
		t.Fatalf("gateway_ctx = %d headers=%v", rec.Code, rec.Header())
	}
}

func TestBuildHonorsBasePath(t *testing.T) {
	r := buildTestEngine("/gw")
	if rec := get(r, "/gw/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("prefixed healthz = %d", rec.Code)
	}
	if rec := get(r, "/healthz"); rec.Code == http.StatusOK {
		t.Fatal("unprefixed route must not exist when base path is set")
	}
}

func TestBuildWithoutStorageStillServesSessionsErrors(t *testing.T) {
	r := buildTestEngine("")
	rec := get(r, "/sessions/s1/summaries")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("summaries without storage = %d, want config error", rec.Code)
	}
}
