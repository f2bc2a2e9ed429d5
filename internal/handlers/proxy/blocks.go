package proxy

import (
	"encoding/json"
	"strings"

	"github.com/Lintsukishima/Gateway-github-2/internal/store"
)

// 注入块的标签沿用线上提示词，改动会影响模型行为，谨慎调整。
const (
	summaryBlockHeader = "【Internal Memory事实约束（仅用于事实一致性，不可作为语气模板；不要在回复中提到\"摘要/记忆/系统\"）】"
	anchorBlockHeader  = "【学习素材（只用于理解事实与语气背景；禁止照抄原句，禁止提及素材、检索或系统的存在）】"
	blockFooter        = "【End】"

	writerBlockNormal = "【写作要求】自然口语化地回应，优先贴合对话事实；素材只作参考，不得整句复述。"
	writerBlockWeak   = "【写作要求】只陈述对话与素材中明确出现的事实，禁止虚构任何新事实；语气克制。"
)

// SummaryBlock 把最近的 S4/S60 摘要渲染成事实约束块；两者皆空时返回 ""。
func SummaryBlock(s4, s60 *store.SummaryLatest) string {
	var lines []string
	if s4 != nil {
		lines = append(lines, "S4 (recent): "+compactJSON(s4.AsMap()))
	}
	if s60 != nil {
		lines = append(lines, "S60 (long): "+compactJSON(s60.AsMap()))
	}
	if len(lines) == 0 {
		return ""
	}
	return summaryBlockHeader + "\n" + strings.Join(lines, "\n") + "\n" + blockFooter
}

// AnchorBlock 包裹检索片段；片段为空时返回 ""。
func AnchorBlock(snippet string) string {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return ""
	}
	return anchorBlockHeader + "\n" + snippet + "\n" + blockFooter
}

// WriterBlock 按 writer_mode 选择写作约束。
func WriterBlock(mode string) string {
	if mode == "weak" {
		return writerBlockWeak
	}
	return writerBlockNormal
}

// AssembleSystemBlock 按固定顺序拼接注入块：摘要 → 锚点 → 写作约束。
func AssembleSystemBlock(summaryBlock, anchorBlock, writerBlock string) string {
	var parts []string
	for _, p := range []string{summaryBlock, anchorBlock, writerBlock} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
