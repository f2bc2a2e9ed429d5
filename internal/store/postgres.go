// Package store 提供消息与摘要的 PostgreSQL 存取层。
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Lintsukishima/Gateway-github-2/internal/constants"
	"github.com/lib/pq"
)

// Store wraps database/sql with the query surface the gateway needs.
type Store struct {
	db *sql.DB
}

// New opens the pool and verifies connectivity.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), constants.StorageOpTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for the migration CLI.
func (s *Store) DB() *sql.DB { return s.db }

func opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, constants.StorageOpTimeout)
}

func summaryTable(level string) (string, error) {
	switch level {
	case "s4":
		return "summaries_s4", nil
	case "s60":
		return "summaries_s60", nil
	}
	return "", fmt.Errorf("unknown summary level %q", level)
}

// EnsureSession 幂等建会话行。
func (s *Store) EnsureSession(ctx context.Context, sessionID string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, sessionID)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// SetProactive flips the proactive flag; found reports whether the session exists.
func (s *Store) SetProactive(ctx context.Context, sessionID string, enabled bool) (bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET proactive_enabled = $2 WHERE id = $1`, sessionID, enabled)
	if err != nil {
		return false, fmt.Errorf("set proactive: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// TurnState 返回会话当前最大 turn_id 与 user_turn。
func (s *Store) TurnState(ctx context.Context, sessionID string) (lastTurn, lastUserTurn int, err error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_id), 0), COALESCE(MAX(user_turn), 0)
		   FROM messages WHERE session_id = $1`, sessionID).
		Scan(&lastTurn, &lastUserTurn)
	if err != nil {
		return 0, 0, fmt.Errorf("turn state: %w", err)
	}
	return lastTurn, lastUserTurn, nil
}

// InsertMessage 落一条消息。
func (s *Store) InsertMessage(ctx context.Context, m *Message) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (session_id, turn_id, user_turn, role, content, thread_id, memory_id, agent_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		m.SessionID, m.TurnID, m.UserTurn, m.Role, m.Content, m.ThreadID, m.MemoryID, m.AgentID).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// LatestSummary 取最近一条摘要；没有时返回 (nil, nil)。
func (s *Store) LatestSummary(ctx context.Context, level, sessionID string) (*SummaryLatest, error) {
	table, err := summaryTable(level)
	if err != nil {
		return nil, err
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var out SummaryLatest
	var raw []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT from_turn, to_turn, summary, model, created_at
		   FROM `+table+`
		  WHERE session_id = $1
		  ORDER BY to_turn DESC, id DESC LIMIT 1`, sessionID).
		Scan(&out.FromTurn, &out.ToTurn, &raw, &out.Model, &out.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest %s summary: %w", level, err)
	}
	if err := json.Unmarshal(raw, &out.Summary); err != nil {
		return nil, fmt.Errorf("decode %s summary: %w", level, err)
	}
	return &out, nil
}

// ListSummaries 按 to_turn 倒序取最近 limit 条。
func (s *Store) ListSummaries(ctx context.Context, level, sessionID string, limit int) ([]SummaryLatest, error) {
	table, err := summaryTable(level)
	if err != nil {
		return nil, err
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT from_turn, to_turn, summary, model, created_at
		   FROM `+table+`
		  WHERE session_id = $1
		  ORDER BY to_turn DESC, id DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s summaries: %w", level, err)
	}
	defer rows.Close()

	var out []SummaryLatest
	for rows.Next() {
		var item SummaryLatest
		var raw []byte
		if err := rows.Scan(&item.FromTurn, &item.ToTurn, &raw, &item.Model, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s summary: %w", level, err)
		}
		if err := json.Unmarshal(raw, &item.Summary); err != nil {
			return nil, fmt.Errorf("decode %s summary: %w", level, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// SummaryExists 以幂等键判断该窗口是否已有摘要。
func (s *Store) SummaryExists(ctx context.Context, level string, row *SummaryRow) (bool, error) {
	table, err := summaryTable(level)
	if err != nil {
		return false, err
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM `+table+`
		  WHERE session_id = $1 AND scope_type = $2 AND thread_id = $3
		    AND memory_id = $4 AND agent_id = $5 AND to_turn = $6
		  LIMIT 1`,
		row.SessionID, row.ScopeType, row.ThreadID, row.MemoryID, row.AgentID, row.ToTurn).
		Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("summary exists: %w", err)
	}
	return true, nil
}

// InsertSummary 写一条摘要。
func (s *Store) InsertSummary(ctx context.Context, level string, row *SummaryRow) error {
	table, err := summaryTable(level)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(row.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO `+table+` (session_id, scope_type, thread_id, memory_id, agent_id,
		                        from_turn, to_turn, summary, model, summary_version, dedupe_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at`,
		row.SessionID, row.ScopeType, row.ThreadID, row.MemoryID, row.AgentID,
		row.FromTurn, row.ToTurn, raw, row.Model, row.SummaryVersion, row.DedupeKey).
		Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert %s summary: %w", level, err)
	}
	return nil
}

func scopeClause(f ScopeFilter, argOffset int) (string, []any) {
	clause := ""
	var args []any
	n := argOffset
	switch f.ScopeType {
	case "memory":
		if f.MemoryID != "" {
			n++
			clause += fmt.Sprintf(" AND memory_id = $%d", n)
			args = append(args, f.MemoryID)
		}
	default: // thread
		if f.ThreadID != "" {
			n++
			clause += fmt.Sprintf(" AND thread_id = $%d", n)
			args = append(args, f.ThreadID)
		}
	}
	if f.AgentID != "" {
		n++
		clause += fmt.Sprintf(" AND agent_id = $%d", n)
		args = append(args, f.AgentID)
	}
	return clause, args
}

// RecentUserTurns 返回该作用域内最近 window 个用户轮次编号，升序。
func (s *Store) RecentUserTurns(ctx context.Context, sessionID string, f ScopeFilter, window int) ([]int, error) {
	clause, extra := scopeClause(f, 1)
	args := append([]any{sessionID}, extra...)
	args = append(args, window)

	ctx, cancel := opCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_turn FROM messages
		  WHERE session_id = $1 AND role = 'user' AND user_turn > 0`+clause+`
		  ORDER BY user_turn DESC LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("recent user turns: %w", err)
	}
	defer rows.Close()

	var desc []int
	for rows.Next() {
		var t int
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan user turn: %w", err)
		}
		desc = append(desc, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// 升序返回
	for i, j := 0, len(desc)-1; i < j; i, j = i+1, j-1 {
		desc[i], desc[j] = desc[j], desc[i]
	}
	return desc, nil
}

// MessagesByUserTurns 取窗口内全部消息，按 turn_id 升序。
func (s *Store) MessagesByUserTurns(ctx context.Context, sessionID string, f ScopeFilter, turns []int) ([]Message, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	clause, extra := scopeClause(f, 1)
	args := append([]any{sessionID}, extra...)
	args = append(args, pq.Array(turns))

	ctx, cancel := opCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_id, user_turn, role, content,
		        COALESCE(thread_id, ''), COALESCE(memory_id, ''), COALESCE(agent_id, ''), created_at
		   FROM messages
		  WHERE session_id = $1`+clause+` AND user_turn = ANY($`+fmt.Sprint(len(args))+`)
		  ORDER BY turn_id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("messages by user turns: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.TurnID, &m.UserTurn, &m.Role, &m.Content,
			&m.ThreadID, &m.MemoryID, &m.AgentID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
