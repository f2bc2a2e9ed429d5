// Package retrieval 实现证据打分、上下文缓存与锚点工作流客户端。
// Package retrieval implements evidence scoring, the context cache and the
// anchor workflow client behind the gateway_ctx tool.
package retrieval

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// 打分权重集中定义，改这里即可整体调权。
const (
	WeightKeyword   = 0.40
	WeightVector    = 0.40
	WeightRecency   = 0.10
	WeightTypeBoost = 0.10
)

// GroundingWeakTop1 低于该分数且可用证据不足时判为 weak。
const GroundingWeakTop1 = 0.45

// Evidence 是进入上下文的一条已打分证据记录。
type Evidence struct {
	ID         string             `json:"id"`
	SourceType string             `json:"source_type"`
	SourceID   string             `json:"source_id"`
	Text       string             `json:"text"`
	ScoreRaw   map[string]float64 `json:"score_raw"`
	ScoreFinal float64            `json:"score_final"`
	Reason     string             `json:"reason"`
	TS         float64            `json:"ts"`
	Meta       map[string]any     `json:"meta"`
}

// Candidate 是打分前的原始候选。
type Candidate struct {
	ID           string
	SourceType   string
	SourceID     string
	ChunkID      string
	Text         string
	Reason       string
	TS           float64
	KeywordScore float64
	VectorScore  float64
	Meta         map[string]any
}

func typeBoost(sourceType string) float64 {
	switch sourceType {
	case "current_input":
		return 1.3
	case "s4":
		return 1.2
	case "s60":
		return 1.1
	case "keyword", "vector":
		return 1.0
	default:
		return 0.6
	}
}

func sourcePriority(sourceType string) int {
	switch sourceType {
	case "current_input":
		return 4
	case "s4":
		return 3
	case "s60":
		return 2
	default:
		return 1
	}
}

func recencyScore(now time.Time, ts float64) float64 {
	if ts <= 0 {
		return 0.0
	}
	age := now.Sub(time.Unix(int64(ts), 0))
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.8
	case age <= 30*24*time.Hour:
		return 0.6
	default:
		return 0.3
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// ScoreAndRank 对候选打分、排序、两阶段去重并截取 top N。
func ScoreAndRank(cands []Candidate, topN int, now time.Time) []Evidence {
	if topN < 1 {
		topN = 1
	}
	evs := make([]Evidence, 0, len(cands))
	for i, c := range cands {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("ev_%d", i)
		}
		rec := recencyScore(now, c.TS)
		boost := typeBoost(c.SourceType)
		final := round6(WeightKeyword*c.KeywordScore +
			WeightVector*c.VectorScore +
			WeightRecency*rec +
			WeightTypeBoost*boost)
		meta := c.Meta
		if meta == nil {
			meta = map[string]any{}
		}
		if _, ok := meta["source_name"]; !ok {
			meta["source_name"] = "anchor_rag"
		}
		if c.ChunkID != "" {
			meta["chunk_id"] = c.ChunkID
		}
		evs = append(evs, Evidence{
			ID:         id,
			SourceType: c.SourceType,
			SourceID:   c.SourceID,
			Text:       c.Text,
			ScoreRaw: map[string]float64{
				"keyword":    c.KeywordScore,
				"vector":     c.VectorScore,
				"recency":    rec,
				"type_boost": boost,
			},
			ScoreFinal: final,
			Reason:     c.Reason,
			TS:         c.TS,
			Meta:       meta,
		})
	}

	sort.SliceStable(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if a.ScoreFinal != b.ScoreFinal {
			return a.ScoreFinal > b.ScoreFinal
		}
		pa, pb := sourcePriority(a.SourceType), sourcePriority(b.SourceType)
		if pa != pb {
			return pa > pb
		}
		return a.ScoreRaw["recency"] > b.ScoreRaw["recency"]
	})

	evs = dedupeByKey(evs)
	evs = dedupeByText(evs)

	sort.SliceStable(evs, func(i, j int) bool {
		return evs[i].ScoreFinal > evs[j].ScoreFinal
	})
	if len(evs) > topN {
		evs = evs[:topN]
	}
	return evs
}

func dupPayload(e Evidence) map[string]any {
	chunk, _ := e.Meta["chunk_id"].(string)
	return map[string]any{
		"id":          e.ID,
		"source_type": e.SourceType,
		"source_id":   e.SourceID,
		"chunk_id":    chunk,
		"score_final": e.ScoreFinal,
		"reason":      e.Reason,
	}
}

func appendDuplicate(keeper *Evidence, dup Evidence) {
	list, _ := keeper.Meta["duplicates"].([]any)
	keeper.Meta["duplicates"] = append(list, dupPayload(dup))
}

// dedupeByKey 按 (source_id, chunk_id) 合并，分高者留下。
func dedupeByKey(evs []Evidence) []Evidence {
	type slot struct{ idx int }
	byKey := make(map[string]slot)
	out := make([]Evidence, 0, len(evs))
	for _, e := range evs {
		chunk, _ := e.Meta["chunk_id"].(string)
		key := e.SourceID + "\x00" + chunk
		if s, ok := byKey[key]; ok {
			keeper := &out[s.idx]
			if e.ScoreFinal > keeper.ScoreFinal {
				appendDuplicate(&e, *keeper)
				// carry over earlier duplicates
				if prev, ok := keeper.Meta["duplicates"].([]any); ok {
					cur, _ := e.Meta["duplicates"].([]any)
					e.Meta["duplicates"] = append(cur, prev...)
				}
				out[s.idx] = e
			} else {
				appendDuplicate(keeper, e)
			}
			continue
		}
		byKey[key] = slot{idx: len(out)}
		out = append(out, e)
	}
	return out
}

var (
	nonWordPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	tokenPattern   = regexp.MustCompile(`[a-z0-9]+|\p{Han}`)
)

func tokenize(text string) map[string]struct{} {
	norm := nonWordPattern.ReplaceAllString(strings.ToLower(text), " ")
	set := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(norm, -1) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// dedupeByText 以 token Jaccard > 0.9 视为同文合并。
func dedupeByText(evs []Evidence) []Evidence {
	out := make([]Evidence, 0, len(evs))
	tokens := make([]map[string]struct{}, 0, len(evs))
	for _, e := range evs {
		set := tokenize(e.Text)
		merged := false
		if len(set) > 0 {
			for i := range out {
				if jaccard(set, tokens[i]) > 0.9 {
					appendDuplicate(&out[i], e)
					tokens[i] = tokenize(out[i].Text)
					merged = true
					break
				}
			}
		}
		if !merged {
			out = append(out, e)
			tokens = append(tokens, set)
		}
	}
	return out
}

// GroundingMode 依据 top1 分数与非空文本数量分级。
func GroundingMode(evs []Evidence) string {
	if len(evs) == 0 {
		return "none"
	}
	nonEmpty := 0
	for _, e := range evs {
		if strings.TrimSpace(e.Text) != "" {
			nonEmpty++
		}
	}
	if evs[0].ScoreFinal < GroundingWeakTop1 && nonEmpty < 2 {
		return "weak"
	}
	return "strong"
}

// KeywordCandidates 把命中的关键词检索结果变成候选。
// 没捞到文本的那一跳不产生候选，全空时返回空切片。
func KeywordCandidates(primary, primaryText, fallback, fallbackText, keywordUsed string, now time.Time) []Candidate {
	var out []Candidate
	if primaryText != "" {
		out = append(out, Candidate{
			ID:           fmt.Sprintf("ev_%d", len(out)),
			SourceType:   "keyword",
			SourceID:     primary,
			Text:         primaryText,
			Reason:       "keyword_hit",
			TS:           float64(now.Unix()),
			KeywordScore: 1.0,
			Meta:         map[string]any{"keyword_used": keywordUsed},
		})
	}
	if fallbackText != "" && fallback != "" && fallback != primary {
		out = append(out, Candidate{
			ID:           fmt.Sprintf("ev_%d", len(out)),
			SourceType:   "fallback",
			SourceID:     fallback,
			Text:         fallbackText,
			Reason:       "fallback_hit",
			TS:           float64(now.Unix()),
			KeywordScore: 1.0,
			Meta:         map[string]any{"keyword_used": keywordUsed},
		})
	}
	return out
}

// VectorCandidates 归一上游向量检索返回的松散字段名。
func VectorCandidates(raw []any) []Candidate {
	out := make([]Candidate, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sourceID := firstString(m, "doc_id", "document_id", "id")
		chunkID := firstString(m, "chunk_id", "segment_id")
		text := firstString(m, "text", "content")
		score := 0.0
		if v, ok := m["score"].(float64); ok {
			score = v
		}
		out = append(out, Candidate{
			ID:          fmt.Sprintf("vec_%d", i),
			SourceType:  "vector",
			SourceID:    sourceID,
			ChunkID:     chunkID,
			Text:        text,
			Reason:      "vector_hit",
			VectorScore: score,
		})
	}
	return out
}

// SummaryCandidates 把当前输入与 S4/S60 摘要变成事实约束候选。
func SummaryCandidates(text string, summaries map[string]any, now time.Time) []Candidate {
	var out []Candidate
	if strings.TrimSpace(text) != "" {
		out = append(out, Candidate{
			ID:           "input_0",
			SourceType:   "current_input",
			SourceID:     "current_input",
			Text:         text,
			Reason:       "当前输入事实优先",
			TS:           float64(now.Unix()),
			KeywordScore: 1.0,
			Meta:         map[string]any{"source_name": "gateway_input"},
		})
	}
	for _, level := range []string{"s4", "s60"} {
		entry, ok := summaries[level].(map[string]any)
		if !ok {
			continue
		}
		body, err := json.Marshal(entry["summary"])
		if err != nil || string(body) == "null" {
			continue
		}
		reason := "来自S4的事实约束"
		if level == "s60" {
			reason = "来自S60的事实约束"
		}
		out = append(out, Candidate{
			ID:           level + "_0",
			SourceType:   level,
			SourceID:     level,
			Text:         string(body),
			Reason:       reason,
			TS:           parseTS(entry["created_at"], now),
			KeywordScore: 1.0,
			Meta:         map[string]any{"source_name": "memory_summary"},
		})
	}
	return out
}

// parseTS 解析 ISO 时间戳，缺失或坏值按当前时间算（新鲜度 1.0）。
func parseTS(v any, now time.Time) float64 {
	s, ok := v.(string)
	if !ok || s == "" {
		return float64(now.Unix())
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.Unix())
		}
	}
	return float64(now.Unix())
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
