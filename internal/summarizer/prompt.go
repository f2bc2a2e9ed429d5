package summarizer

import (
	"strings"

	"github.com/Lintsukishima/Gateway-github-2/internal/store"
)

// 摘要契约：严格 JSON，五个字段，不夹带其它键。
const summarySystemPrompt = `你是一个对话摘要器。阅读对话片段，输出严格的 JSON 对象，` +
	`只包含这些字段：goal(字符串)、state(字符串)、open_loops(字符串数组)、` +
	`constraints(字符串数组)、tone_notes(字符串)。` +
	`只陈述对话中明确出现的事实，不做推测；不要输出 JSON 以外的任何内容。`

// 用户真的在求助时才允许摘要里出现经济求助的说法。
var helpSeekingHints = []string{
	"借钱", "借我", "转账", "打钱", "资助", "赞助", "给我钱", "求助", "救济",
	"能不能给", "能否给", "帮我出", "帮我付", "你出钱", "帮我转", "给点钱",
}

var financialPhrases = []string{
	"借钱", "转账", "打钱", "资助", "赞助", "经济支持", "经济帮助", "金钱帮助",
	"要钱", "给钱", "经济援助",
}

// defaultSummarySchema 是 LLM 不可用或解析失败时的兜底对象。
func defaultSummarySchema() map[string]any {
	return map[string]any{
		"goal":        "",
		"state":       "",
		"open_loops":  []any{},
		"constraints": []any{},
		"tone_notes":  "",
	}
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// normalizeSummary 把 LLM 输出收敛到契约字段与类型上。
func normalizeSummary(obj map[string]any) map[string]any {
	out := defaultSummarySchema()
	if obj == nil {
		return out
	}
	if s, ok := obj["goal"].(string); ok {
		out["goal"] = s
	}
	if s, ok := obj["state"].(string); ok {
		out["state"] = s
	}
	if s, ok := obj["tone_notes"].(string); ok {
		out["tone_notes"] = s
	}
	for _, key := range []string{"open_loops", "constraints"} {
		arr, ok := obj[key].([]any)
		if !ok {
			continue
		}
		var items []any
		for _, v := range arr {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				items = append(items, s)
			}
		}
		if items == nil {
			items = []any{}
		}
		out[key] = items
	}
	return out
}

// sanitizeSummary 在对话里没有求助迹象时，剔除模型臆测出的经济求助内容。
func sanitizeSummary(transcript string, obj map[string]any) map[string]any {
	out := normalizeSummary(obj)
	if containsAny(transcript, helpSeekingHints) {
		return out
	}

	if goal, _ := out["goal"].(string); containsAny(goal, financialPhrases) {
		out["goal"] = "日常聊天，情感陪伴"
	}
	if state, _ := out["state"].(string); containsAny(state, financialPhrases) {
		out["state"] = "情绪平稳"
	}
	if loops, ok := out["open_loops"].([]any); ok {
		kept := make([]any, 0, len(loops))
		for _, v := range loops {
			s, _ := v.(string)
			if containsAny(s, financialPhrases) {
				continue
			}
			kept = append(kept, v)
		}
		out["open_loops"] = kept
	}
	return out
}

// renderTranscript 拼接窗口消息为摘要输入。
func renderTranscript(msgs []store.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// stripCodeFences 去掉模型偶尔包上的 ```json 围栏。
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
