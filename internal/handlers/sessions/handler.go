// Package sessions 提供会话维度的轻量 CRUD 路由:
// 整轮写入、摘要查询、调试事件快照与主动消息开关。
package sessions

import (
	"context"
	"net/http"
	"strconv"

	apperrors "github.com/Lintsukishima/Gateway-github-2/internal/errors"
	"github.com/Lintsukishima/Gateway-github-2/internal/handlers/common"
	logx "github.com/Lintsukishima/Gateway-github-2/internal/logging"
	"github.com/Lintsukishima/Gateway-github-2/internal/store"
	"github.com/Lintsukishima/Gateway-github-2/internal/summarizer"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const defaultDebugLimit = 80

// Storage 是本包需要的存储面。*store.Store 满足该接口。
type Storage interface {
	ListSummaries(ctx context.Context, level, sessionID string, limit int) ([]store.SummaryLatest, error)
	SetProactive(ctx context.Context, sessionID string, enabled bool) (bool, error)
}

// TurnAppender 接收整轮写入。*summarizer.Engine 满足该接口。
type TurnAppender interface {
	AppendTurn(ctx context.Context, p summarizer.TurnParams) (summarizer.AppendResult, error)
}

type Handler struct {
	st    Storage
	turns TurnAppender
	ring  *summarizer.DebugRing
}

func NewHandler(st Storage, turns TurnAppender, ring *summarizer.DebugRing) *Handler {
	return &Handler{st: st, turns: turns, ring: ring}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/chat", h.appendTurn)
	r.GET("/sessions/:id/summaries", h.listSummaries)
	r.GET("/sessions/:id/summaries/debug", h.debugSnapshot)
	r.POST("/sessions/:id/proactive/enable", h.enableProactive)
}

type chatRequest struct {
	SessionID     string `json:"session_id" binding:"required"`
	UserText      string `json:"user_text" binding:"required"`
	AssistantText string `json:"assistant_text" binding:"required"`
	ThreadID      string `json:"thread_id"`
	MemoryID      string `json:"memory_id"`
	AgentID       string `json:"agent_id"`
	S4Scope       string `json:"s4_scope"`
}

func (h *Handler) appendTurn(c *gin.Context) {
	if h.turns == nil {
		common.AbortWithAPIError(c, apperrors.ConfigError("storage is not configured"))
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithAPIError(c, apperrors.ValidationError(err.Error()))
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = req.SessionID
	}
	res, err := h.turns.AppendTurn(c.Request.Context(), summarizer.TurnParams{
		SessionID:     req.SessionID,
		UserText:      req.UserText,
		AssistantText: req.AssistantText,
		ThreadID:      req.ThreadID,
		MemoryID:      req.MemoryID,
		AgentID:       req.AgentID,
		S4Scope:       req.S4Scope,
	})
	if err != nil {
		logx.WithReq(c, log.Fields{"session_id": req.SessionID, "error": err.Error()}).Error("append turn failed")
		common.AbortWithAPIError(c, apperrors.New(http.StatusInternalServerError, "storage_error", "server_error", "append turn failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": req.SessionID,
		"turn_id":    res.TurnID,
		"user_turn":  res.UserTurn,
		"ran_s4":     res.RanS4,
		"ran_s60":    res.RanS60,
	})
}

func (h *Handler) listSummaries(c *gin.Context) {
	if h.st == nil {
		common.AbortWithAPIError(c, apperrors.ConfigError("storage is not configured"))
		return
	}
	sessionID := c.Param("id")
	s4, err := h.st.ListSummaries(c.Request.Context(), "s4", sessionID, 5)
	if err != nil {
		common.AbortWithAPIError(c, apperrors.New(http.StatusInternalServerError, "storage_error", "server_error", "list summaries failed"))
		return
	}
	s60, err := h.st.ListSummaries(c.Request.Context(), "s60", sessionID, 2)
	if err != nil {
		common.AbortWithAPIError(c, apperrors.New(http.StatusInternalServerError, "storage_error", "server_error", "list summaries failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"s4":         summaryMaps(s4),
		"s60":        summaryMaps(s60),
	})
}

func (h *Handler) debugSnapshot(c *gin.Context) {
	if h.ring == nil {
		common.AbortWithAPIError(c, apperrors.ConfigError("summarizer is not configured"))
		return
	}
	limit := defaultDebugLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	sessionID := c.Param("id")
	events := h.ring.Snapshot(sessionID, limit)
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"events":     events,
	})
}

func (h *Handler) enableProactive(c *gin.Context) {
	if h.st == nil {
		common.AbortWithAPIError(c, apperrors.ConfigError("storage is not configured"))
		return
	}
	sessionID := c.Param("id")
	found, err := h.st.SetProactive(c.Request.Context(), sessionID, true)
	if err != nil {
		common.AbortWithAPIError(c, apperrors.New(http.StatusInternalServerError, "storage_error", "server_error", "enable proactive failed"))
		return
	}
	if !found {
		common.AbortWithAPIError(c, apperrors.New(http.StatusNotFound, "not_found", "invalid_request_error", "session not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "proactive_enabled": true})
}

func summaryMaps(rows []store.SummaryLatest) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].AsMap())
	}
	return out
}
