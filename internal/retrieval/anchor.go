package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
)

// AnchorOutputs 锚点工作流的产出。
type AnchorOutputs struct {
	Result           string
	ChatText         string
	VectorCandidates []any
	Raw              map[string]any
}

// AnchorClient 调用 Dify 工作流做人设锚点检索。
type AnchorClient struct {
	runURL     string
	apiKey     string
	workflowID string
	httpClient *http.Client
}

func NewAnchorClient(cfg *config.Config) *AnchorClient {
	timeout := cfg.DifyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnchorClient{
		runURL:     cfg.DifyWorkflowRunURL,
		apiKey:     cfg.DifyAPIKey,
		workflowID: cfg.DifyWorkflowID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Invoke 以 blocking 模式运行工作流并抽取产出字段。
func (a *AnchorClient) Invoke(ctx context.Context, keyword, user string) (AnchorOutputs, error) {
	if a.apiKey == "" {
		return AnchorOutputs{}, fmt.Errorf("anchor workflow: missing DIFY_API_KEY")
	}

	payload := map[string]any{
		"inputs":        map[string]any{"keyword": keyword},
		"response_mode": "blocking",
		"user":          user,
	}
	if a.workflowID != "" {
		payload["workflow_id"] = a.workflowID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return AnchorOutputs{}, fmt.Errorf("anchor workflow: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.runURL, bytes.NewReader(body))
	if err != nil {
		return AnchorOutputs{}, fmt.Errorf("anchor workflow: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return AnchorOutputs{}, fmt.Errorf("anchor workflow: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return AnchorOutputs{}, fmt.Errorf("anchor workflow: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		snippet := string(data)
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		return AnchorOutputs{}, fmt.Errorf("anchor workflow: status %d: %s", resp.StatusCode, snippet)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return AnchorOutputs{}, fmt.Errorf("anchor workflow: decode response: %w", err)
	}

	outputs := extractOutputs(decoded)
	if outputs == nil {
		return AnchorOutputs{}, fmt.Errorf("anchor workflow: response has no outputs")
	}

	out := AnchorOutputs{Raw: outputs}
	if s, ok := outputs["result"].(string); ok {
		out.Result = s
	}
	if s, ok := outputs["chat_text"].(string); ok {
		out.ChatText = s
	}
	if arr, ok := outputs["vector_candidates"].([]any); ok {
		out.VectorCandidates = arr
	}
	return out, nil
}

// extractOutputs 兼容 data.outputs 与顶层 outputs 两种包裹。
func extractOutputs(decoded map[string]any) map[string]any {
	if data, ok := decoded["data"].(map[string]any); ok {
		if outs, ok := data["outputs"].(map[string]any); ok {
			return outs
		}
	}
	if outs, ok := decoded["outputs"].(map[string]any); ok {
		return outs
	}
	return nil
}
