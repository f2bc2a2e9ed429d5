package summarizer

import (
	"sync"
	"time"
)

const debugRingCapacity = 200

// DebugRing 有界调试事件环，只暴露快照，外部拿不到内部切片。
type DebugRing struct {
	mu     sync.Mutex
	events []map[string]any
	cap    int
}

func NewDebugRing() *DebugRing {
	return &DebugRing{cap: debugRingCapacity}
}

// Push 记录一个阶段事件，超容量丢最旧。
func (r *DebugRing) Push(sessionID, stage string, payload map[string]any) {
	ev := map[string]any{
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		"session_id": sessionID,
		"stage":      stage,
	}
	for k, v := range payload {
		ev[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if len(r.events) > r.cap {
		r.events = r.events[len(r.events)-r.cap:]
	}
}

// Snapshot 返回某会话最近 limit 条事件的拷贝，时间正序。
func (r *DebugRing) Snapshot(sessionID string, limit int) []map[string]any {
	if limit <= 0 {
		limit = 80
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []map[string]any
	for _, ev := range r.events {
		if sessionID != "" && ev["session_id"] != sessionID {
			continue
		}
		matched = append(matched, ev)
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]map[string]any, len(matched))
	for i, ev := range matched {
		cp := make(map[string]any, len(ev))
		for k, v := range ev {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}
