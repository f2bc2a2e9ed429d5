// Package gatewayctx 暴露 gateway_ctx 检索工具的 JSON-RPC 2.0 端点。
// Package gatewayctx exposes the gateway_ctx retrieval tool over JSON-RPC 2.0
// with MCP-style tool-result wrapping.
package gatewayctx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
	"github.com/Lintsukishima/Gateway-github-2/internal/retrieval"
	"github.com/Lintsukishima/Gateway-github-2/internal/version"
	"github.com/gin-gonic/gin"
)

// 协商集合，新到旧排列。
var supportedProtocolVersions = map[string]struct{}{
	"2025-11-25": {},
	"2025-06-18": {},
	"2025-03-26": {},
	"2024-11-05": {},
	"2024-10-07": {},
}

const protocolVersionHeader = "MCP-Protocol-Version"

// AnchorInvoker 是锚点工作流的最小依赖面，测试用假实现替换。
type AnchorInvoker interface {
	Invoke(ctx context.Context, keyword, user string) (retrieval.AnchorOutputs, error)
}

// Handler 处理 /gateway_ctx 的三种方法。
type Handler struct {
	cfg    *config.Config
	cache  *retrieval.ContextCache
	anchor AnchorInvoker
	now    func() time.Time
}

func NewHandler(cfg *config.Config, cache *retrieval.ContextCache, anchor AnchorInvoker) *Handler {
	return &Handler{cfg: cfg, cache: cache, anchor: anchor, now: time.Now}
}

// Register mounts GET/POST/OPTIONS on the given router.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/gateway_ctx", h.handleInfo)
	r.OPTIONS("/gateway_ctx", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.POST("/gateway_ctx", h.handleRPC)
}

func (h *Handler) handleInfo(c *gin.Context) {
	c.Header(protocolVersionHeader, h.cfg.MCPProtocolVersion)
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"name":    "gateway_ctx",
		"mcp":     true,
		"version": version.Version,
	})
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

func rpcResult(id, result any) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func rpcErrorResponse(id any, code int, message string) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

func (h *Handler) handleRPC(c *gin.Context) {
	// 响应头先置默认版本，协商成功后覆盖
	negotiated := h.cfg.MCPProtocolVersion

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 8<<20))
	if err != nil {
		c.Header(protocolVersionHeader, negotiated)
		c.JSON(http.StatusOK, rpcErrorResponse(nil, -32700, "Parse error"))
		return
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		c.Header(protocolVersionHeader, negotiated)
		c.JSON(http.StatusOK, rpcErrorResponse(nil, -32700, "Parse error"))
		return
	}

	switch msg := payload.(type) {
	case []any:
		// 批量：逐条处理，通知不产生响应元素；全是通知时 204
		responses := make([]*rpcResponse, 0, len(msg))
		for _, item := range msg {
			m, ok := item.(map[string]any)
			if !ok {
				responses = append(responses, rpcErrorResponse(nil, -32600, "Invalid Request"))
				continue
			}
			if resp := h.handleMessage(c, m, &negotiated); resp != nil {
				responses = append(responses, resp)
			}
		}
		c.Header(protocolVersionHeader, negotiated)
		if len(responses) == 0 {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, responses)
	case map[string]any:
		resp := h.handleMessage(c, msg, &negotiated)
		c.Header(protocolVersionHeader, negotiated)
		if resp == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, resp)
	default:
		c.Header(protocolVersionHeader, negotiated)
		c.JSON(http.StatusOK, rpcErrorResponse(nil, -32600, "Invalid Request"))
	}
}

// handleMessage 处理单条消息；通知返回 nil，但 tools/call 的副作用
// （缓存预热、RAG 调用）照常执行。negotiated 每条消息都重新协商，
// 批量场景下后写覆盖先写。
func (h *Handler) handleMessage(c *gin.Context, msg map[string]any, negotiated *string) *rpcResponse {
	id, hasID := msg["id"]
	method, _ := msg["method"].(string)
	params, _ := msg["params"].(map[string]any)

	pv := h.negotiateVersion(c, params)
	*negotiated = pv

	var resp *rpcResponse
	switch method {
	case "initialize":
		resp = rpcResult(id, map[string]any{
			"protocolVersion": pv,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "gateway_ctx", "version": version.Version},
		})
	case "tools/list":
		resp = rpcResult(id, map[string]any{"tools": []any{toolDescriptor()}})
	case "tools/call":
		name, _ := params["name"].(string)
		if name != "gateway_ctx" {
			resp = rpcErrorResponse(id, -32601, "Unknown tool: "+name)
			break
		}
		args, _ := params["arguments"].(map[string]any)
		resp = rpcResult(id, h.runTool(c, args))
	default:
		resp = rpcErrorResponse(id, -32601, "Method not found: "+method)
	}

	if !hasID {
		return nil
	}
	return resp
}

// negotiateVersion 按 params → 请求头 → 配置默认的顺序取受支持的版本。
func (h *Handler) negotiateVersion(c *gin.Context, params map[string]any) string {
	if pv, _ := params["protocolVersion"].(string); strings.TrimSpace(pv) != "" {
		if _, ok := supportedProtocolVersions[strings.TrimSpace(pv)]; ok {
			return strings.TrimSpace(pv)
		}
	}
	if hv := strings.TrimSpace(c.GetHeader(protocolVersionHeader)); hv != "" {
		if _, ok := supportedProtocolVersions[hv]; ok {
			return hv
		}
	}
	return h.cfg.MCPProtocolVersion
}

func toolDescriptor() map[string]any {
	return map[string]any{
		"name":        "gateway_ctx",
		"description": "按关键词检索人设锚点与记忆证据，返回可注入的上下文片段。",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"keyword": map[string]any{
					"type":        "string",
					"description": "检索关键词，逗号分隔",
				},
				"text": map[string]any{
					"type":        "string",
					"description": "当前用户输入原文，用于关键词修复与事实候选",
				},
				"user": map[string]any{
					"type":        "string",
					"description": "稳定的检索用户标识",
				},
				"summaries": map[string]any{
					"type":        "object",
					"description": "可选的 s4/s60 摘要对象",
				},
			},
			"required": []any{"keyword"},
		},
	}
}
