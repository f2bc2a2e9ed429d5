package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ContextFetcher 是代理对 gateway_ctx 工具的最小依赖面。
type ContextFetcher interface {
	Fetch(ctx context.Context, keyword, text, user string, summaries map[string]any) (snippet string, data map[string]any, err error)
}

// GatewayClient 以 JSON-RPC tools/call 回环调用本进程暴露的 gateway_ctx 端点。
// 走 HTTP 而不是进程内调用，保持与外部 MCP 客户端完全一致的语义。
type GatewayClient struct {
	url             string
	protocolVersion string
	client          *http.Client
}

func NewGatewayClient(cfg *config.Config) *GatewayClient {
	return &GatewayClient{
		url:             cfg.LocalMCPGatewayURL,
		protocolVersion: cfg.MCPProtocolVersion,
		client:          &http.Client{Timeout: cfg.LocalMCPTimeout},
	}
}

func (g *GatewayClient) Fetch(ctx context.Context, keyword, text, user string, summaries map[string]any) (string, map[string]any, error) {
	args := map[string]any{"keyword": keyword, "text": text, "user": user}
	if len(summaries) > 0 {
		args["summaries"] = summaries
	}
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		"method":  "tools/call",
		"params":  map[string]any{"name": "gateway_ctx", "arguments": args},
	})
	if err != nil {
		return "", nil, fmt.Errorf("gateway_ctx request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("gateway_ctx request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("MCP-Protocol-Version", g.protocolVersion)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("gateway_ctx call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", nil, fmt.Errorf("gateway_ctx read: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", nil, fmt.Errorf("gateway_ctx status %d", resp.StatusCode)
	}

	result := gjson.GetBytes(body, "result")
	if !result.Exists() {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			return "", nil, fmt.Errorf("gateway_ctx rpc error: %s", msg.String())
		}
		return "", nil, fmt.Errorf("gateway_ctx: malformed response")
	}
	text = result.Get("content.0.text").String()
	if result.Get("isError").Bool() {
		return "", nil, fmt.Errorf("gateway_ctx tool error: %s", text)
	}

	var data map[string]any
	if d := result.Get("data"); d.IsObject() {
		data, _ = d.Value().(map[string]any)
	}
	return text, data, nil
}
