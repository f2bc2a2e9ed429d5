package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
	apperrors "github.com/Lintsukishima/Gateway-github-2/internal/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UpstreamURL 根据 base 后缀拼出 chat/completions 地址。
func UpstreamURL(base string) string {
	b := strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasSuffix(b, "/chat/completions"):
		return b
	case strings.HasSuffix(b, "/v1"):
		return b + "/chat/completions"
	default:
		return b + "/v1/chat/completions"
	}
}

// upstreamRequest 构造带鉴权与 OpenRouter 礼貌头的上游请求。
// 缺少 UPSTREAM_API_KEY 时返回 500 形状的配置错误。
func upstreamRequest(ctx context.Context, cfg *config.Config, url string, body []byte) (*http.Request, *apperrors.APIError) {
	if strings.TrimSpace(cfg.UpstreamAPIKey) == "" {
		return nil, apperrors.ConfigError("UPSTREAM_API_KEY is not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.ConfigError(fmt.Sprintf("build upstream request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.UpstreamAPIKey)
	if cfg.OpenRouterReferer != "" {
		req.Header.Set("HTTP-Referer", cfg.OpenRouterReferer)
	}
	if cfg.OpenRouterTitle != "" {
		req.Header.Set("X-Title", cfg.OpenRouterTitle)
	}
	return req, nil
}

// ApplyToolEmptyContentCompat 对 finish_reason=tool_calls 且 content 为空串的
// 非流式响应补一个占位文案。部分客户端把空 content 渲染成静默失败。
func ApplyToolEmptyContentCompat(body []byte, placeholder string) []byte {
	finish := gjson.GetBytes(body, "choices.0.finish_reason")
	content := gjson.GetBytes(body, "choices.0.message.content")
	toolCalls := gjson.GetBytes(body, "choices.0.message.tool_calls")

	if finish.String() != "tool_calls" {
		return body
	}
	if !toolCalls.IsArray() || len(toolCalls.Array()) == 0 {
		return body
	}
	if !content.Exists() || content.String() != "" {
		return body
	}
	patched, err := sjson.SetBytes(body, "choices.0.message.content", placeholder)
	if err != nil {
		return body
	}
	return patched
}
