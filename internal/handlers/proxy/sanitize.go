package proxy

import "strings"

// SanitizeToolThread 修复断裂的 assistant↔tool 消息链。
// 仅在请求本身不携带 tools/functions 时调用：客户端没有工具能力，
// 残留的工具消息会被上游拒收。
//
// 规则:
//   - assistant 带 tool_calls 时记录待回应的 call id 集合
//   - tool 消息只有命中待回应 id 才保留
//   - 待回应集合非空时来了非 tool 消息，剥掉最近一条 assistant 的
//     tool_calls/function_call 并清空集合
//   - 内容为空白的 legacy function_call assistant 直接丢弃
func SanitizeToolThread(messages []any) []any {
	cleaned := make([]any, 0, len(messages))
	pending := map[string]struct{}{}
	lastAssistant := -1 // cleaned 中最近一条 assistant 的下标

	for _, item := range messages {
		msg, ok := item.(map[string]any)
		if !ok {
			cleaned = append(cleaned, item)
			continue
		}
		role, _ := msg["role"].(string)

		switch role {
		case "assistant":
			if calls, ok := msg["tool_calls"].([]any); ok && len(calls) > 0 {
				if len(pending) > 0 {
					stripToolCalls(cleaned, lastAssistant)
				}
				pending = map[string]struct{}{}
				for _, tc := range calls {
					if m, ok := tc.(map[string]any); ok {
						if id, _ := m["id"].(string); id != "" {
							pending[id] = struct{}{}
						}
					}
				}
				cleaned = append(cleaned, msg)
				lastAssistant = len(cleaned) - 1
				continue
			}
			if _, hasFC := msg["function_call"]; hasFC {
				if content, _ := msg["content"].(string); strings.TrimSpace(content) == "" {
					continue
				}
			}
			if len(pending) > 0 {
				stripToolCalls(cleaned, lastAssistant)
				pending = map[string]struct{}{}
			}
			cleaned = append(cleaned, msg)
			lastAssistant = len(cleaned) - 1

		case "tool":
			id, _ := msg["tool_call_id"].(string)
			if _, ok := pending[id]; !ok {
				continue // 孤儿工具消息
			}
			delete(pending, id)
			cleaned = append(cleaned, msg)

		default:
			if len(pending) > 0 {
				stripToolCalls(cleaned, lastAssistant)
				pending = map[string]struct{}{}
			}
			cleaned = append(cleaned, msg)
		}
	}

	// 尾部还挂着未回应的 tool_calls 也要剥掉
	if len(pending) > 0 {
		stripToolCalls(cleaned, lastAssistant)
	}
	return cleaned
}

func stripToolCalls(cleaned []any, idx int) {
	if idx < 0 || idx >= len(cleaned) {
		return
	}
	msg, ok := cleaned[idx].(map[string]any)
	if !ok {
		return
	}
	stripped := make(map[string]any, len(msg))
	for k, v := range msg {
		if k == "tool_calls" || k == "function_call" {
			continue
		}
		stripped[k] = v
	}
	cleaned[idx] = stripped
}

// LastUserText 取消息列表中最后一条 user 文本内容。
func LastUserText(messages []any) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role != "user" {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			return content
		case []any:
			// 多段内容取第一段文本
			for _, part := range content {
				if m, ok := part.(map[string]any); ok {
					if t, _ := m["type"].(string); t == "text" {
						if s, _ := m["text"].(string); s != "" {
							return s
						}
					}
				}
			}
		}
		return ""
	}
	return ""
}
