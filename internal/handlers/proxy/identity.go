package proxy

import (
	"strings"
	"time"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity 一次请求解析出的持久化身份与写作参数。
type Identity struct {
	ThreadID   string
	MemoryID   string
	AgentID    string
	SessionID  string
	S4Scope    string // thread | memory
	WriterMode string // normal | weak
	User       string // gateway_ctx 检索用户
}

// ResolveIdentity 按 header → metadata → 兜底的优先级解析身份。
// session_id 始终等于 thread_id。
func ResolveIdentity(c *gin.Context, payload map[string]any, cfg *config.Config, now time.Time) Identity {
	meta, _ := payload["metadata"].(map[string]any)

	threadID := firstNonBlank(
		c.GetHeader("x-thread-id"),
		metaString(meta, "thread_id"),
		c.GetHeader("x-session-id"),
	)
	if threadID == "" {
		threadID = generateThreadID(now)
	}

	memoryID := firstNonBlank(
		c.GetHeader("x-memory-id"),
		metaString(meta, "memory_id"),
		cfg.MemoryIDDefault,
		threadID,
	)
	agentID := firstNonBlank(metaString(meta, "agent_id"), cfg.AgentIDDefault)

	user, _ := payload["user"].(string)
	gatewayUser := firstNonBlank(metaString(meta, "gateway_user"), user, cfg.GatewayCtxUser)

	return Identity{
		ThreadID:   threadID,
		MemoryID:   memoryID,
		AgentID:    agentID,
		SessionID:  threadID,
		S4Scope:    normalizeScope(metaString(meta, "s4_scope")),
		WriterMode: normalizeWriterMode(firstNonBlank(metaString(meta, "writer_mode"), metaString(meta, "mode"), cfg.WriterMode)),
		User:       gatewayUser,
	}
}

// generateThreadID 形如 rk:th:{YYYYMMDDhhmm}:{12位十六进制}。
func generateThreadID(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "rk:th:" + now.Format("200601021504") + ":" + hex[:12]
}

func normalizeScope(scope string) string {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "memory":
		return "memory"
	default: // thread、auto 与空值都落到 thread
		return "thread"
	}
}

func normalizeWriterMode(mode string) string {
	if strings.ToLower(strings.TrimSpace(mode)) == "weak" {
		return "weak"
	}
	return "normal"
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
