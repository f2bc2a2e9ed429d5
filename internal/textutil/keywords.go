// Package textutil 提供关键词规范化与乱码修复。
// Package textutil provides keyword normalization and mojibake repair for
// retrieval inputs that often arrive from buggy mobile clients.
package textutil

import (
	"regexp"
	"strings"
)

// 昵称与口癖不适合做检索词 / pet names and verbal tics make poor search terms
var keywordStopTokens = map[string]struct{}{
	"哥哥": {}, "哥": {}, "类": {}, "神代": {}, "喵": {}, "猫咪": {},
	"小猫咪": {}, "宝宝": {}, "亲": {}, "抱": {}, "mua": {}, "啾": {}, "嘿嘿": {},
}

var keywordFillerTokens = map[string]struct{}{
	"就是": {}, "然后": {}, "那个": {}, "这个": {}, "怎么": {},
	"为什么": {}, "可以": {}, "不要": {}, "不是": {},
}

var emotionalMarkers = []string{
	"哥哥", "类", "喵", "猫咪", "小猫咪", "宝宝", "亲", "抱", "mua", "啾", "嘿嘿",
	"😿", "🥺", "😭", "💕", "❤", "~",
}

var cjkRunPattern = regexp.MustCompile(`[\x{4e00}-\x{9fff}]+`)

// NormalizeKeyword 统一分隔符、去空白、按出现顺序去重。
func NormalizeKeyword(kw string) string {
	r := strings.NewReplacer("，", ",", ";", ",", "；", ",")
	parts := strings.Split(r.Replace(kw), ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return strings.Join(out, ",")
}

// LooksGarbled 判断关键词是否是客户端编码损坏后的问号串。
// 问号占非分隔符字符的四成以上即视为乱码。
func LooksGarbled(kw string) bool {
	if kw == "" {
		return false
	}
	q, total := 0, 0
	for _, r := range kw {
		switch r {
		case ' ', ',', '，', ';', '；', '|', '/', '\t', '\r', '\n':
			continue
		}
		total++
		if r == '?' {
			q++
		}
	}
	return q > 0 && total > 0 && float64(q)/float64(total) >= 0.4
}

// DeriveFromText 从对话原文提取 CJK 词串作为替代关键词，最多 k 个。
func DeriveFromText(text string, k int) string {
	if k <= 0 {
		k = 2
	}
	runs := cjkRunPattern.FindAllString(text, -1)
	seen := make(map[string]struct{})
	out := make([]string, 0, k)
	for _, run := range runs {
		if len([]rune(run)) < 2 {
			continue
		}
		if _, stop := keywordStopTokens[run]; stop {
			continue
		}
		if _, filler := keywordFillerTokens[run]; filler {
			continue
		}
		if _, dup := seen[run]; dup {
			continue
		}
		seen[run] = struct{}{}
		out = append(out, run)
		if len(out) >= k {
			break
		}
	}
	return strings.Join(out, ",")
}

// EmotionalFallback 依据文本情绪返回兜底关键词对。
func EmotionalFallback(text string) string {
	for _, m := range emotionalMarkers {
		if strings.Contains(text, m) {
			return "哥哥,小猫咪"
		}
	}
	return "哥哥,撒娇"
}

// ResolveKeyword 决定检索主关键词：优先用调用方给的，缺失或乱码时
// 从原文推导，推导不出再用情绪兜底对。
// 返回的 derived 表示主关键词不是调用方给的那一个。
func ResolveKeyword(kw, text string, repairEnabled bool) (primary string, derived bool) {
	kw = strings.TrimSpace(kw)
	if kw != "" && !(repairEnabled && LooksGarbled(kw)) {
		return kw, false
	}
	if d := DeriveFromText(text, 2); d != "" {
		return d, true
	}
	return EmotionalFallback(text), true
}
