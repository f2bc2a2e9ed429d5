package proxy

import (
	"regexp"
	"strings"
)

// 技术话题特征，命中后才值得做 CJK 关键词抽取。
var techTokenPattern = regexp.MustCompile(
	`(?i)\b(uvicorn|python|notion|dify|mcp|rag|api|http|db|sql|error|bug|traceback|token|stream|openrouter|rikkahub|telegram)\b`)

var cjkRunPattern = regexp.MustCompile(`[\x{4e00}-\x{9fff}]+`)

// 撒娇/寒暄标记；命中直接走情感关键词。
var smalltalkMarkers = []string{
	"想你", "抱抱", "亲亲", "喵", "呜呜", "哼", "嘿嘿", "么么", "mua",
	"晚安", "早安", "宝宝", "撒娇", "举高高", "rua",
}

// 代词、语气词与常见填充词不能当检索词。
var keywordStopwords = map[string]struct{}{
	"我": {}, "你": {}, "他": {}, "她": {}, "它": {}, "我们": {}, "你们": {}, "他们": {}, "她们": {},
	"的": {}, "了": {}, "啊": {}, "呀": {}, "呢": {}, "吧": {}, "吗": {}, "喵": {}, "哥哥": {}, "小猫咪": {}, "小命": {},
	"就是": {}, "但是": {}, "然后": {}, "所以": {}, "因为": {}, "如果": {}, "能不能": {}, "怎么": {},
	"这个": {}, "那个": {}, "现在": {}, "今天": {}, "明天": {}, "刚才": {}, "感觉": {}, "有点": {},
	"接着": {}, "拿起": {}, "提前": {}, "给": {}, "当是": {}, "好啦": {}, "嗯": {}, "唉呀": {}, "唔": {},
}

// 长词串的切分点：标点加常见连接词。
var longRunSeparators = []string{
	"，", "。", "！", "？", "…", "～", "—", "(", ")", "（", "）", " ", "\n",
	"又", "接着", "拿起", "就当", "当是", "今天", "提前", "给", "好啦",
	"于是", "然后", "所以", "但是", "因为", "不过",
}

const (
	emotionalKeyword = "撒娇,哥哥"
	neutralKeyword   = "猫咪,哥哥"
	sentinelToken    = "猫咪"
	keywordPickCount = 2
	maxKeywordRunes  = 6
)

// ExtractKeyword 从最后一条用户文本里提取检索关键词。
// 情感/寒暄 → 固定情感对；技术文本 → 切分过滤后的前 k 个中文词并保证
// 哨兵词在列；其余 → 中性兜底。
func ExtractKeyword(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return neutralKeyword
	}
	if isSmalltalk(text) {
		return emotionalKeyword
	}
	if techTokenPattern.MatchString(text) {
		if picked := topCJKRuns(text, keywordPickCount); len(picked) > 0 {
			if !containsToken(picked, sentinelToken) {
				// 哨兵替换最后一个候选而不是追加，条数不超过 k
				if len(picked) >= keywordPickCount {
					picked = picked[:keywordPickCount-1]
				}
				picked = append(picked, sentinelToken)
			}
			return strings.Join(picked, ",")
		}
	}
	return neutralKeyword
}

func isSmalltalk(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range smalltalkMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// topCJKRuns 取文本中前 k 个 2~6 字的中文词：超过 6 字的连续串
// 按切分点拆开，过滤停用词，去重保序。
func topCJKRuns(text string, k int) []string {
	var picked []string
	seen := map[string]struct{}{}
	for _, run := range cjkRunPattern.FindAllString(text, -1) {
		if len([]rune(run)) < 2 {
			continue
		}
		parts := []string{run}
		if len([]rune(run)) > maxKeywordRunes {
			parts = splitLongRun(run)
		}
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, stop := keywordStopwords[p]; stop {
				continue
			}
			if n := len([]rune(p)); n < 2 || n > maxKeywordRunes {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			picked = append(picked, p)
			if len(picked) == k {
				return picked
			}
		}
	}
	return picked
}

func splitLongRun(run string) []string {
	s := run
	for _, sep := range longRunSeparators {
		s = strings.ReplaceAll(s, sep, "|")
	}
	parts := make([]string, 0, 4)
	for _, p := range strings.Split(s, "|") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func containsToken(list []string, token string) bool {
	for _, v := range list {
		if v == token {
			return true
		}
	}
	return false
}
