// Package summarizer 实现 S4/S60 两级对话摘要与节奏触发。
// Package summarizer maintains short-window (S4) and long-window (S60)
// conversation summaries, triggered on a user-turn cadence.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
	"github.com/Lintsukishima/Gateway-github-2/internal/monitoring"
	"github.com/Lintsukishima/Gateway-github-2/internal/store"
	"github.com/Lintsukishima/Gateway-github-2/internal/textutil"
	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

const (
	s4SummaryVersion  = 2
	s60SummaryVersion = 1
)

// TurnParams 一次完整对话轮的落库参数。
type TurnParams struct {
	SessionID     string
	UserText      string
	AssistantText string
	ThreadID      string
	MemoryID      string
	AgentID       string
	S4Scope       string // thread | memory
}

// AppendResult 报告落库后的轮次状态。
type AppendResult struct {
	TurnID   int
	UserTurn int
	RanS4    bool
	RanS60   bool
}

// Engine 摘要引擎；llm 为 nil 时退化为默认摘要对象。
type Engine struct {
	cfg  *config.Config
	st   *store.Store
	ring *DebugRing
	llm  *openai.Client
}

func New(cfg *config.Config, st *store.Store) *Engine {
	e := &Engine{cfg: cfg, st: st, ring: NewDebugRing()}
	if cfg.SummarizerAPIKey != "" && cfg.SummarizerModel != "" {
		oc := openai.DefaultConfig(cfg.SummarizerAPIKey)
		if cfg.SummarizerBaseURL != "" {
			oc.BaseURL = strings.TrimRight(cfg.SummarizerBaseURL, "/")
		}
		e.llm = openai.NewClientWithConfig(oc)
	}
	return e
}

// Ring 暴露调试事件快照来源。
func (e *Engine) Ring() *DebugRing { return e.ring }

// AppendTurn 落一对 user/assistant 消息，并按节奏触发 S4/S60。
func (e *Engine) AppendTurn(ctx context.Context, p TurnParams) (AppendResult, error) {
	var res AppendResult
	if e.st == nil {
		return res, fmt.Errorf("append turn: storage disabled")
	}
	if err := e.st.EnsureSession(ctx, p.SessionID); err != nil {
		return res, err
	}
	lastTurn, lastUserTurn, err := e.st.TurnState(ctx, p.SessionID)
	if err != nil {
		return res, err
	}
	userTurn := lastUserTurn + 1

	userMsg := &store.Message{
		SessionID: p.SessionID, TurnID: lastTurn + 1, UserTurn: userTurn,
		Role: "user", Content: p.UserText,
		ThreadID: p.ThreadID, MemoryID: p.MemoryID, AgentID: p.AgentID,
	}
	if err := e.st.InsertMessage(ctx, userMsg); err != nil {
		return res, err
	}
	asstMsg := &store.Message{
		SessionID: p.SessionID, TurnID: lastTurn + 2, UserTurn: userTurn,
		Role: "assistant", Content: p.AssistantText,
		ThreadID: p.ThreadID, MemoryID: p.MemoryID, AgentID: p.AgentID,
	}
	if err := e.st.InsertMessage(ctx, asstMsg); err != nil {
		return res, err
	}
	res.TurnID = asstMsg.TurnID
	res.UserTurn = userTurn

	scope := store.ScopeFilter{
		ScopeType: p.S4Scope,
		ThreadID:  p.ThreadID,
		MemoryID:  p.MemoryID,
		AgentID:   p.AgentID,
	}

	if e.cfg.S4EveryUserTurns > 0 && userTurn%e.cfg.S4EveryUserTurns == 0 {
		if err := e.RunS4(ctx, p.SessionID, scope); err != nil {
			log.WithError(err).WithField("session_id", p.SessionID).Warn("s4 run failed")
		} else {
			res.RanS4 = true
		}
	}
	if e.cfg.S60EveryUserTurns > 0 && userTurn%e.cfg.S60EveryUserTurns == 0 {
		if err := e.RunS60(ctx, p.SessionID, scope); err != nil {
			log.WithError(err).WithField("session_id", p.SessionID).Warn("s60 run failed")
		} else {
			res.RanS60 = true
		}
	}
	return res, nil
}

// RunS4 对最近的短窗口生成摘要。
func (e *Engine) RunS4(ctx context.Context, sessionID string, scope store.ScopeFilter) error {
	if scope.ScopeType != "memory" {
		scope.ScopeType = "thread"
	}
	return e.runLevel(ctx, "s4", sessionID, scope, e.cfg.S4WindowUserTurns, s4SummaryVersion)
}

// RunS60 长窗口摘要，作用域固定为 memory。
func (e *Engine) RunS60(ctx context.Context, sessionID string, scope store.ScopeFilter) error {
	scope.ScopeType = "memory"
	return e.runLevel(ctx, "s60", sessionID, scope, e.cfg.S60WindowUserTurns, s60SummaryVersion)
}

func (e *Engine) runLevel(ctx context.Context, level, sessionID string, scope store.ScopeFilter, window, version int) error {
	if window <= 0 {
		window = 4
	}
	turns, err := e.st.RecentUserTurns(ctx, sessionID, scope, window)
	if err != nil {
		monitoring.SummarizerRunsTotal.WithLabelValues(level, "error").Inc()
		return err
	}
	if len(turns) == 0 {
		monitoring.SummarizerRunsTotal.WithLabelValues(level, "empty").Inc()
		return nil
	}
	fromTurn, toTurn := turns[0], turns[len(turns)-1]

	row := &store.SummaryRow{
		SessionID:      sessionID,
		ScopeType:      scope.ScopeType,
		ThreadID:       scope.ThreadID,
		MemoryID:       scope.MemoryID,
		AgentID:        scope.AgentID,
		FromTurn:       fromTurn,
		ToTurn:         toTurn,
		Model:          e.cfg.SummarizerModel,
		SummaryVersion: version,
		DedupeKey:      dedupeKey(level, scope, toTurn, version),
	}
	exists, err := e.st.SummaryExists(ctx, level, row)
	if err != nil {
		monitoring.SummarizerRunsTotal.WithLabelValues(level, "error").Inc()
		return err
	}
	if exists {
		monitoring.SummarizerRunsTotal.WithLabelValues(level, "skipped").Inc()
		return nil
	}

	msgs, err := e.st.MessagesByUserTurns(ctx, sessionID, scope, turns)
	if err != nil {
		monitoring.SummarizerRunsTotal.WithLabelValues(level, "error").Inc()
		return err
	}
	transcript := renderTranscript(msgs)

	summary := e.summarize(ctx, level, sessionID, transcript)
	e.ring.Push(sessionID, level+".before_persist", map[string]any{
		"to_turn": toTurn,
		"summary": summary,
	})

	row.Summary = summary
	if err := e.st.InsertSummary(ctx, level, row); err != nil {
		monitoring.SummarizerRunsTotal.WithLabelValues(level, "error").Inc()
		return err
	}
	monitoring.SummarizerRunsTotal.WithLabelValues(level, "ok").Inc()
	e.ring.Push(sessionID, level+".after_persist", map[string]any{
		"to_turn":    toTurn,
		"dedupe_key": row.DedupeKey,
	})
	return nil
}

func dedupeKey(level string, scope store.ScopeFilter, toTurn, version int) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%d:v%d",
		level, scope.ScopeType, scope.ThreadID, scope.MemoryID, scope.AgentID, toTurn, version)
}

// summarize 生成、净化并修复摘要对象；任何失败都退回默认对象。
func (e *Engine) summarize(ctx context.Context, level, sessionID, transcript string) map[string]any {
	raw, err := e.callLLMJSON(ctx, sessionID, transcript)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"session_id": sessionID, "level": level,
		}).Warn("summarizer llm call failed, using default schema")
		e.ring.Push(sessionID, "call_llm_json.error", map[string]any{"error": err.Error()})
		return defaultSummarySchema()
	}
	e.ring.Push(sessionID, "summary_from_llm_raw", map[string]any{"summary": raw})

	clean := sanitizeSummary(transcript, raw)
	e.ring.Push(sessionID, "summary_after_sanitize", map[string]any{"summary": clean})

	repaired := textutil.RepairAny(clean).(map[string]any)
	e.ring.Push(sessionID, "summary_after_repair", map[string]any{"summary": repaired})
	return repaired
}

// callLLMJSON 以 JSON 模式调用摘要模型；未配置模型时返回 (nil, nil)。
func (e *Engine) callLLMJSON(ctx context.Context, sessionID, transcript string) (map[string]any, error) {
	if e.llm == nil {
		return nil, nil
	}
	resp, err := e.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.cfg.SummarizerModel,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("summarizer llm: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("summarizer llm: empty choices")
	}
	content := resp.Choices[0].Message.Content
	e.ring.Push(sessionID, "call_llm_json.message_content", map[string]any{"content": content})

	content = textutil.RepairText(stripCodeFences(content))
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, fmt.Errorf("summarizer llm: decode json: %w", err)
	}
	return obj, nil
}
