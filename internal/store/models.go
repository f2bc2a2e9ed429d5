package store

import "time"

// Message 会话消息行，带可追溯身份字段。
type Message struct {
	ID        int64
	SessionID string
	TurnID    int
	UserTurn  int
	Role      string
	Content   string
	ThreadID  string
	MemoryID  string
	AgentID   string
	CreatedAt time.Time
}

// SummaryRow 摘要表一行（s4 与 s60 同构）。
type SummaryRow struct {
	ID             int64
	SessionID      string
	ScopeType      string
	ThreadID       string
	MemoryID       string
	AgentID        string
	FromTurn       int
	ToTurn         int
	Summary        map[string]any
	Model          string
	SummaryVersion int
	DedupeKey      string
	CreatedAt      time.Time
}

// SummaryLatest 注入上下文所需的摘要视图。
type SummaryLatest struct {
	FromTurn  int
	ToTurn    int
	Summary   map[string]any
	CreatedAt time.Time
	Model     string
}

// AsMap renders the wire shape used by the gateway_ctx summaries argument.
func (s *SummaryLatest) AsMap() map[string]any {
	if s == nil {
		return nil
	}
	return map[string]any{
		"range":      []any{s.FromTurn, s.ToTurn},
		"summary":    s.Summary,
		"created_at": s.CreatedAt.UTC().Format(time.RFC3339),
		"model":      s.Model,
	}
}

// ScopeFilter 按 S4 作用域过滤消息窗口。
type ScopeFilter struct {
	ScopeType string // thread | memory
	ThreadID  string
	MemoryID  string
	AgentID   string
}
