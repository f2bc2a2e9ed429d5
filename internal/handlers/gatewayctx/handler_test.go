package gatewayctx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
	"github.com/Lintsukishima/Gateway-github-2/internal/retrieval"
	"github.com/gin-gonic/gin"
)

type fakeAnchor struct {
	mu    sync.Mutex
	calls []string
	fn    func(keyword string) (retrieval.AnchorOutputs, error)
}

func (f *fakeAnchor) Invoke(_ context.Context, keyword, _ string) (retrieval.AnchorOutputs, error) {
	f.mu.Lock()
	f.calls = append(f.calls, keyword)
	f.mu.Unlock()
	return f.fn(keyword)
}

func (f *fakeAnchor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() *config.Config {
	return &config.Config{
		MCPProtocolVersion:      "2025-06-18",
		CtxMax:                  400,
		RetrievalTopN:           3,
		RetrievalProfileVersion: "v1.0.0",
		CacheTTL:                20 * time.Second,
		CacheMax:                256,
		GarbledKwRepairEnabled:  true,
	}
}

func newTestRouter(fn func(string) (retrieval.AnchorOutputs, error)) (*gin.Engine, *fakeAnchor) {
	gin.SetMode(gin.TestMode)
	anchor := &fakeAnchor{fn: fn}
	h := NewHandler(testConfig(), retrieval.NewContextCache(20*time.Second, 256), anchor)
	r := gin.New()
	h.Register(r)
	return r, anchor
}

func simpleAnchor(keyword string) (retrieval.AnchorOutputs, error) {
	return retrieval.AnchorOutputs{
		Result: "素材: " + keyword,
		VectorCandidates: []any{
			map[string]any{"doc_id": "d1", "chunk_id": "c1", "text": "向量证据", "score": 0.8},
		},
		Raw: map[string]any{"result": "素材: " + keyword},
	}, nil
}

func doRPC(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/gateway_ctx", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestInitializeNegotiation(t *testing.T) {
	r, _ := newTestRouter(simpleAnchor)

	// supported requested version is echoed
	rec := doRPC(t, r, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`)
	resp := decodeResponse(t, rec)
	result := resp["result"].(map[string]any)
	if result["protocolVersion"] != "2025-03-26" {
		t.Fatalf("protocolVersion = %v", result["protocolVersion"])
	}
	if rec.Header().Get("MCP-Protocol-Version") != "2025-03-26" {
		t.Fatalf("header = %q", rec.Header().Get("MCP-Protocol-Version"))
	}
	info := result["serverInfo"].(map[string]any)
	if info["name"] != "gateway_ctx" {
		t.Fatalf("serverInfo = %v", info)
	}

	// unsupported version falls back to the configured default
	rec = doRPC(t, r, `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`)
	result = decodeResponse(t, rec)["result"].(map[string]any)
	if result["protocolVersion"] != "2025-06-18" {
		t.Fatalf("fallback protocolVersion = %v", result["protocolVersion"])
	}
}

func TestInitializeHeaderFallback(t *testing.T) {
	r, _ := newTestRouter(simpleAnchor)
	req := httptest.NewRequest(http.MethodPost, "/gateway_ctx",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	req.Header.Set("MCP-Protocol-Version", "2024-11-05")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	result := decodeResponse(t, rec)["result"].(map[string]any)
	if result["protocolVersion"] != "2024-11-05" {
		t.Fatalf("protocolVersion = %v", result["protocolVersion"])
	}
}

func TestToolsList(t *testing.T) {
	r, _ := newTestRouter(simpleAnchor)
	rec := doRPC(t, r, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)
	result := decodeResponse(t, rec)["result"].(map[string]any)
	tools := result["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %v", tools)
	}
	tool := tools[0].(map[string]any)
	if tool["name"] != "gateway_ctx" {
		t.Fatalf("tool name = %v", tool["name"])
	}
	schema := tool["inputSchema"].(map[string]any)
	required := schema["required"].([]any)
	if len(required) != 1 || required[0] != "keyword" {
		t.Fatalf("required = %v", required)
	}
}

func TestNotificationsAndBatch(t *testing.T) {
	r, _ := newTestRouter(simpleAnchor)

	// single notification: no body, 204
	rec := doRPC(t, r, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("notification status = %d", rec.Code)
	}

	// batch: notification contributes no element
	rec = doRPC(t, r, `[
		{"jsonrpc":"2.0","id":1,"method":"tools/list"},
		{"jsonrpc":"2.0","method":"notifications/initialized"}
	]`)
	var arr []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &arr); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(arr) != 1 {
		t.Fatalf("batch responses = %d, want 1", len(arr))
	}

	// all-notification batch: 204
	rec = doRPC(t, r, `[{"jsonrpc":"2.0","method":"notifications/initialized"}]`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("all-notification batch status = %d", rec.Code)
	}
}

func TestParseAndMethodErrors(t *testing.T) {
	r, _ := newTestRouter(simpleAnchor)

	rec := doRPC(t, r, `{not json`)
	resp := decodeResponse(t, rec)
	rpcErr := resp["error"].(map[string]any)
	if rpcErr["code"] != float64(-32700) {
		t.Fatalf("parse error code = %v", rpcErr["code"])
	}
	if id, present := resp["id"]; !present || id != nil {
		t.Fatalf("parse error id = %v", resp["id"])
	}

	rec = doRPC(t, r, `{"jsonrpc":"2.0","id":9,"method":"no/such"}`)
	if code := decodeResponse(t, rec)["error"].(map[string]any)["code"]; code != float64(-32601) {
		t.Fatalf("unknown method code = %v", code)
	}

	rec = doRPC(t, r, `{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"other_tool"}}`)
	if code := decodeResponse(t, rec)["error"].(map[string]any)["code"]; code != float64(-32601) {
		t.Fatalf("unknown tool code = %v", code)
	}
}

func callTool(t *testing.T, r *gin.Engine, args string) map[string]any {
	t.Helper()
	rec := doRPC(t, r, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"gateway_ctx","arguments":%s}}`, args))
	return decodeResponse(t, rec)["result"].(map[string]any)
}

func TestToolCallPipeline(t *testing.T) {
	r, anchor := newTestRouter(simpleAnchor)

	result := callTool(t, r, `{"keyword":"数据库","text":"聊聊数据库","user":"u1"}`)
	if result["isError"] != false {
		t.Fatalf("isError = %v", result["isError"])
	}
	content := result["content"].([]any)[0].(map[string]any)
	if content["text"] != "素材: 数据库" {
		t.Fatalf("content text = %v", content["text"])
	}
	data := result["data"].(map[string]any)
	if data["cache_hit"] != false || data["cache_miss_reason"] != "not_found" {
		t.Fatalf("cache fields = %v / %v", data["cache_hit"], data["cache_miss_reason"])
	}
	if data["keyword_primary"] != "数据库" || data["keyword_used"] != "数据库" {
		t.Fatalf("keyword fields = %v", data)
	}
	if data["grounding_mode"] != "strong" {
		t.Fatalf("grounding_mode = %v", data["grounding_mode"])
	}
	evidence := data["evidence"].([]any)
	if len(evidence) == 0 || len(evidence) > 3 {
		t.Fatalf("evidence size = %d", len(evidence))
	}
	used := data["used_evidence_ids"].([]any)
	if len(used) != len(evidence) {
		t.Fatal("used_evidence_ids must mirror evidence")
	}
	if anchor.callCount() != 1 {
		t.Fatalf("anchor calls = %d", anchor.callCount())
	}
}

func TestToolCallCacheWarm(t *testing.T) {
	r, anchor := newTestRouter(simpleAnchor)
	args := `{"keyword":"数据库","text":"聊聊数据库","user":"u1"}`

	first := callTool(t, r, args)
	second := callTool(t, r, args)

	if second["data"].(map[string]any)["cache_hit"] != true {
		t.Fatal("second call should hit cache")
	}
	if anchor.callCount() != 1 {
		t.Fatalf("anchor calls = %d, want 1 (cache must absorb the second)", anchor.callCount())
	}
	firstText := first["content"].([]any)[0].(map[string]any)["text"]
	secondText := second["content"].([]any)[0].(map[string]any)["text"]
	if firstText != secondText {
		t.Fatal("cached snippet must match original")
	}
}

func TestToolCallGarbledKeywordDerivation(t *testing.T) {
	r, anchor := newTestRouter(simpleAnchor)
	result := callTool(t, r, `{"keyword":"??,???","text":"我想聊聊猫咪","user":"u1"}`)
	data := result["data"].(map[string]any)
	if data["keyword_primary"] != "我想聊聊猫咪" {
		t.Fatalf("keyword_primary = %v", data["keyword_primary"])
	}
	if data["keyword"] != "我想聊聊猫咪" {
		t.Fatalf("keyword = %v, want the keyword actually used", data["keyword"])
	}
	anchor.mu.Lock()
	calledWith := anchor.calls[0]
	anchor.mu.Unlock()
	if calledWith != "我想聊聊猫咪" {
		t.Fatalf("anchor invoked with %q", calledWith)
	}
}

func TestToolCallFallbackKeyword(t *testing.T) {
	fn := func(keyword string) (retrieval.AnchorOutputs, error) {
		if keyword == "哥哥,撒娇" {
			return retrieval.AnchorOutputs{Result: "兜底素材", Raw: map[string]any{"result": "兜底素材"}}, nil
		}
		return retrieval.AnchorOutputs{Raw: map[string]any{"result": ""}}, nil
	}
	r, anchor := newTestRouter(fn)

	result := callTool(t, r, `{"keyword":"数据库","text":"server down","user":"u1"}`)
	data := result["data"].(map[string]any)
	if data["keyword_used"] != "哥哥,撒娇" {
		t.Fatalf("keyword_used = %v", data["keyword_used"])
	}
	if data["keyword"] != "哥哥,撒娇" {
		t.Fatalf("keyword = %v, want the fallback actually used", data["keyword"])
	}
	if data["ctx"] != "兜底素材" {
		t.Fatalf("ctx = %v", data["ctx"])
	}
	if anchor.callCount() != 2 {
		t.Fatalf("anchor calls = %d, want 2", anchor.callCount())
	}
}

func TestProtocolVersionNegotiatedPerMessage(t *testing.T) {
	r, _ := newTestRouter(simpleAnchor)
	req := httptest.NewRequest(http.MethodPost, "/gateway_ctx", strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"gateway_ctx","arguments":{"keyword":"数据库"}}}`))
	req.Header.Set("MCP-Protocol-Version", "2025-03-26")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("MCP-Protocol-Version"); got != "2025-03-26" {
		t.Fatalf("tools/call response header = %q, want header version echoed", got)
	}

	// an unsupported header falls back to the configured default
	req = httptest.NewRequest(http.MethodPost, "/gateway_ctx", strings.NewReader(
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	req.Header.Set("MCP-Protocol-Version", "1999-01-01")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("MCP-Protocol-Version"); got != "2025-06-18" {
		t.Fatalf("tools/list response header = %q", got)
	}
}

func TestNotificationToolCallStillExecutes(t *testing.T) {
	r, anchor := newTestRouter(simpleAnchor)

	// 通知不回包，但流水线照常跑并预热缓存
	rec := doRPC(t, r, `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"gateway_ctx","arguments":{"keyword":"数据库","text":"聊聊数据库","user":"u1"}}}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("notification status = %d", rec.Code)
	}
	if anchor.callCount() != 1 {
		t.Fatalf("anchor calls = %d, want 1 (notification must execute)", anchor.callCount())
	}

	result := callTool(t, r, `{"keyword":"数据库","text":"聊聊数据库","user":"u1"}`)
	if result["data"].(map[string]any)["cache_hit"] != true {
		t.Fatal("follow-up call should hit the cache the notification warmed")
	}
	if anchor.callCount() != 1 {
		t.Fatalf("anchor calls = %d, want still 1", anchor.callCount())
	}
}

func TestDebugModeStillReadsCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	cfg.GatewayCtxDebug = true
	anchor := &fakeAnchor{fn: simpleAnchor}
	h := NewHandler(cfg, retrieval.NewContextCache(20*time.Second, 256), anchor)
	r := gin.New()
	h.Register(r)
	args := `{"keyword":"数据库","text":"聊聊数据库","user":"u1"}`

	first := callTool(t, r, args)
	if _, ok := first["data"].(map[string]any)["debug"]; !ok {
		t.Fatal("debug fields missing with the flag on")
	}
	second := callTool(t, r, args)
	if second["data"].(map[string]any)["cache_hit"] != true {
		t.Fatal("debug flag must not bypass the cache read")
	}
	if anchor.callCount() != 1 {
		t.Fatalf("anchor calls = %d, want 1", anchor.callCount())
	}
}

func TestToolCallAllMissYieldsNoEvidence(t *testing.T) {
	fn := func(string) (retrieval.AnchorOutputs, error) {
		return retrieval.AnchorOutputs{Raw: map[string]any{"result": ""}}, nil
	}
	r, _ := newTestRouter(fn)

	result := callTool(t, r, `{"keyword":"数据库","user":"u1"}`)
	data := result["data"].(map[string]any)
	if n := len(data["evidence"].([]any)); n != 0 {
		t.Fatalf("evidence = %v, want empty on all-miss", data["evidence"])
	}
	if n := len(data["used_evidence_ids"].([]any)); n != 0 {
		t.Fatalf("used_evidence_ids = %v, want empty", data["used_evidence_ids"])
	}
	if data["grounding_mode"] != "none" {
		t.Fatalf("grounding_mode = %v, want none", data["grounding_mode"])
	}
	if data["ctx"] != "" {
		t.Fatalf("ctx = %v", data["ctx"])
	}
}

func TestToolCallErrorNoCacheWrite(t *testing.T) {
	failing := true
	fn := func(keyword string) (retrieval.AnchorOutputs, error) {
		if failing {
			return retrieval.AnchorOutputs{}, fmt.Errorf("workflow down")
		}
		return simpleAnchor(keyword)
	}
	r, anchor := newTestRouter(fn)
	args := `{"keyword":"数据库","text":"聊聊数据库","user":"u1"}`

	result := callTool(t, r, args)
	if result["isError"] != true {
		t.Fatalf("isError = %v", result["isError"])
	}
	text := result["content"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(text, "workflow down") {
		t.Fatalf("error text = %q", text)
	}

	// a failed call must not poison the cache: the next call hits the anchor
	failing = false
	result = callTool(t, r, args)
	if result["data"].(map[string]any)["cache_hit"] != false {
		t.Fatal("error result must not be served from cache")
	}
	if anchor.callCount() != 2 {
		t.Fatalf("anchor calls = %d, want 2", anchor.callCount())
	}
}
