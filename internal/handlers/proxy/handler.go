// Package proxy 实现 OpenAI 兼容的 /v1/chat/completions 编排:
// 身份解析、工具链清洗、摘要与锚点注入、上游转发与落库交接。
package proxy

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
	"github.com/Lintsukishima/Gateway-github-2/internal/constants"
	apperrors "github.com/Lintsukishima/Gateway-github-2/internal/errors"
	"github.com/Lintsukishima/Gateway-github-2/internal/handlers/common"
	logx "github.com/Lintsukishima/Gateway-github-2/internal/logging"
	"github.com/Lintsukishima/Gateway-github-2/internal/middleware"
	"github.com/Lintsukishima/Gateway-github-2/internal/monitoring"
	"github.com/Lintsukishima/Gateway-github-2/internal/store"
	"github.com/Lintsukishima/Gateway-github-2/internal/summarizer"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// SummarySource 提供最近摘要；*store.Store 满足该接口。
type SummarySource interface {
	LatestSummary(ctx context.Context, level, sessionID string) (*store.SummaryLatest, error)
}

// TurnSink 接收完成的对话轮做持久化与摘要触发；*summarizer.Engine 满足该接口。
type TurnSink interface {
	AppendTurn(ctx context.Context, p summarizer.TurnParams) (summarizer.AppendResult, error)
}

// Handler 编排一次 chat-completions 请求。summaries/turns 可为 nil（未配存储）。
type Handler struct {
	cfg       *config.Config
	gateway   ContextFetcher
	summaries SummarySource
	turns     TurnSink
	client    *http.Client
	now       func() time.Time
}

func NewHandler(cfg *config.Config, gateway ContextFetcher, summaries SummarySource, turns TurnSink) *Handler {
	return &Handler{
		cfg:       cfg,
		gateway:   gateway,
		summaries: summaries,
		turns:     turns,
		// 流式上游不能设读超时，靠请求上下文与流本身保活
		client: &http.Client{},
		now:    time.Now,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/v1/chat/completions", h.ChatCompletions)
}

func (h *Handler) ChatCompletions(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 16<<20))
	if err != nil {
		common.AbortWithAPIError(c, apperrors.ValidationError("read request body: "+err.Error()))
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		common.AbortWithAPIError(c, apperrors.ValidationError("request body is not valid JSON"))
		return
	}
	messages, _ := payload["messages"].([]any)
	if len(messages) == 0 {
		common.AbortWithAPIError(c, apperrors.ValidationError("messages is required"))
		return
	}

	if model, ok := payload["model"].(string); ok {
		c.Set("model", model)
	}

	ident := ResolveIdentity(c, payload, h.cfg, h.now())
	lastUserText := LastUserText(messages)

	_, hasTools := payload["tools"]
	_, hasFunctions := payload["functions"]
	if !hasTools && !hasFunctions {
		messages = SanitizeToolThread(messages)
	}

	// 摘要加载失败只降级不阻断
	var s4, s60 *store.SummaryLatest
	if h.summaries != nil {
		if s4, err = h.summaries.LatestSummary(c.Request.Context(), "s4", ident.SessionID); err != nil {
			logx.WithReq(c, log.Fields{"error": err.Error()}).Warn("s4 summary load failed")
			s4 = nil
		}
		if s60, err = h.summaries.LatestSummary(c.Request.Context(), "s60", ident.SessionID); err != nil {
			logx.WithReq(c, log.Fields{"error": err.Error()}).Warn("s60 summary load failed")
			s60 = nil
		}
	}

	keyword := ExtractKeyword(lastUserText)
	snippet := ""
	if h.gateway != nil && h.cfg.AnchorInjectEnabled && h.cfg.ForceGatewayEveryTurn && lastUserText != "" {
		summaries := map[string]any{}
		if m := s4.AsMap(); m != nil {
			summaries["s4"] = m
		}
		if m := s60.AsMap(); m != nil {
			summaries["s60"] = m
		}
		var data map[string]any
		snippet, data, err = h.gateway.Fetch(c.Request.Context(), keyword, lastUserText, ident.User, summaries)
		if err != nil {
			logx.WithReq(c, log.Fields{"keyword": keyword, "error": err.Error()}).Warn("gateway_ctx fetch failed")
			snippet = ""
		} else if used, ok := data["keyword_used"].(string); ok && used != "" {
			keyword = used
		}
	}

	block := AssembleSystemBlock(SummaryBlock(s4, s60), AnchorBlock(snippet), WriterBlock(ident.WriterMode))
	if block != "" {
		messages = append([]any{map[string]any{"role": "system", "content": block}}, messages...)
	}

	payload["messages"] = messages
	delete(payload, "metadata")
	body, err := json.Marshal(payload)
	if err != nil {
		common.AbortWithAPIError(c, apperrors.ValidationError("re-encode request: "+err.Error()))
		return
	}

	url := UpstreamURL(h.cfg.UpstreamBaseURL)
	h.setObservabilityHeaders(c, url, ident, keyword, lastUserText)

	stream, _ := payload["stream"].(bool)
	if stream {
		h.dispatchStream(c, url, body, ident, lastUserText)
		return
	}
	h.dispatchBuffered(c, url, body, ident, lastUserText)
}

func (h *Handler) setObservabilityHeaders(c *gin.Context, url string, ident Identity, keyword, lastUserText string) {
	c.Header("x-upstream-url", url)
	c.Header("x-thread-id", ident.ThreadID)
	c.Header("x-memory-id", ident.MemoryID)
	c.Header("x-agent-id", ident.AgentID)
	c.Header("x-s4-scope", ident.S4Scope)
	c.Header("x-session-id", ident.SessionID)

	if !h.cfg.ProxyDebugEcho {
		return
	}
	c.Header("X-Debug-User-Text-Preview", previewRunes(lastUserText, 120))
	raw := []byte(lastUserText)
	if len(raw) > 120 {
		raw = raw[:120]
	}
	c.Header("X-Debug-User-Text-Hex", hex.EncodeToString(raw))
	c.Header("X-Debug-Keyword", keyword)
}

func (h *Handler) dispatchBuffered(c *gin.Context, url string, body []byte, ident Identity, userText string) {
	req, apiErr := upstreamRequest(c.Request.Context(), h.cfg, url, body)
	if apiErr != nil {
		common.AbortWithAPIError(c, apiErr)
		return
	}
	t0 := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		monitoring.UpstreamRequestDuration.WithLabelValues("buffered", "error").Observe(time.Since(t0).Seconds())
		common.AbortWithAPIError(c, apperrors.UpstreamError(http.StatusBadGateway, "upstream unreachable: "+err.Error()))
		return
	}
	defer resp.Body.Close()
	monitoring.UpstreamRequestDuration.WithLabelValues("buffered", statusClass(resp.StatusCode)).Observe(time.Since(t0).Seconds())

	out, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		common.AbortWithAPIError(c, apperrors.UpstreamError(http.StatusBadGateway, "read upstream response: "+err.Error()))
		return
	}
	if resp.StatusCode >= 400 {
		h.forwardUpstreamError(c, resp, out)
		return
	}

	if h.cfg.ToolEmptyContentCompat {
		out = ApplyToolEmptyContentCompat(out, h.cfg.ToolEmptyContentPlaceholder)
	}
	h.persistTurn(ident, userText, gjson.GetBytes(out, "choices.0.message.content").String())
	c.Data(http.StatusOK, "application/json; charset=utf-8", out)
}

func (h *Handler) dispatchStream(c *gin.Context, url string, body []byte, ident Identity, userText string) {
	req, apiErr := upstreamRequest(c.Request.Context(), h.cfg, url, body)
	if apiErr != nil {
		common.AbortWithAPIError(c, apiErr)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	t0 := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		monitoring.UpstreamRequestDuration.WithLabelValues("stream", "error").Observe(time.Since(t0).Seconds())
		common.AbortWithAPIError(c, apperrors.UpstreamError(http.StatusBadGateway, "upstream unreachable: "+err.Error()))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		monitoring.UpstreamRequestDuration.WithLabelValues("stream", statusClass(resp.StatusCode)).Observe(time.Since(t0).Seconds())
		out, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		h.forwardUpstreamError(c, resp, out)
		return
	}
	logx.WithReq(c, log.Fields{"upstream_url": url, "thread_id": ident.ThreadID}).Info("upstream_connected")

	w, flusher := common.PrepareSSE(c)
	res := relaySSE(w, flusher, resp.Body)
	monitoring.UpstreamRequestDuration.WithLabelValues("stream", statusClass(resp.StatusCode)).Observe(time.Since(t0).Seconds())
	middleware.RecordSSELines(c.FullPath(), res.Lines)

	reason := "done"
	switch {
	case res.Err != nil:
		reason = "error"
	case !res.DoneSeen:
		reason = "eof"
	}
	if !res.DoneSeen && res.Err == nil {
		_ = common.SSEWriteDone(w, flusher)
	}
	middleware.RecordSSEClose(c.FullPath(), reason)

	// 流已断也要把累积到的半程文本交给落库
	h.persistTurn(ident, userText, res.AssistantText)
}

// forwardUpstreamError 原样转发 JSON 错误体，文本错误体包成 OpenAI 错误信封。
func (h *Handler) forwardUpstreamError(c *gin.Context, resp *http.Response, body []byte) {
	logx.WithReq(c, log.Fields{
		"status":     resp.StatusCode,
		"error_kind": logx.ErrorKind(resp.StatusCode, true),
	}).Warn("upstream_error")
	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") && json.Valid(body) {
		c.Data(resp.StatusCode, "application/json; charset=utf-8", body)
		c.Abort()
		return
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("upstream returned status %d", resp.StatusCode)
	}
	common.AbortWithAPIError(c, apperrors.UpstreamError(resp.StatusCode, msg))
}

// persistTurn 把完成的一轮对话交给摘要引擎，异步且带独立超时，
// 不让 DB 故障影响已经刷出的响应。
func (h *Handler) persistTurn(ident Identity, userText, assistantText string) {
	if h.turns == nil || strings.TrimSpace(assistantText) == "" {
		return
	}
	fields := log.Fields{"session_id": ident.SessionID, "thread_id": ident.ThreadID}
	middleware.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.PersistTimeout)
		defer cancel()
		_, err := h.turns.AppendTurn(ctx, summarizer.TurnParams{
			SessionID:     ident.SessionID,
			UserText:      userText,
			AssistantText: assistantText,
			ThreadID:      ident.ThreadID,
			MemoryID:      ident.MemoryID,
			AgentID:       ident.AgentID,
			S4Scope:       ident.S4Scope,
		})
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("persist_failed")
		}
	})
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func previewRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
