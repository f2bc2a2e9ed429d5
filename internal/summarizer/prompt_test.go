package summarizer

import (
	"testing"

	"github.com/Lintsukishima/Gateway-github-2/internal/store"
)

func TestSanitizeSummaryScrubsFinancialSpeculation(t *testing.T) {
	transcript := "user: 今天好累\nassistant: 抱抱你\n"
	obj := map[string]any{
		"goal":  "希望对方转账资助生活",
		"state": "等待经济支持",
		"open_loops": []any{
			"等对方打钱",
			"明天一起看电影",
		},
		"constraints": []any{},
		"tone_notes":  "温柔",
	}
	out := sanitizeSummary(transcript, obj)
	if out["goal"] != "日常聊天，情感陪伴" {
		t.Fatalf("goal = %q", out["goal"])
	}
	if out["state"] != "情绪平稳" {
		t.Fatalf("state = %q", out["state"])
	}
	loops := out["open_loops"].([]any)
	if len(loops) != 1 || loops[0] != "明天一起看电影" {
		t.Fatalf("open_loops = %v", loops)
	}
	if out["tone_notes"] != "温柔" {
		t.Fatalf("tone_notes = %q", out["tone_notes"])
	}
}

func TestSanitizeSummaryKeepsRealHelpRequests(t *testing.T) {
	transcript := "user: 能不能借我两百块钱, 发工资就还\nassistant: 好\n"
	obj := map[string]any{
		"goal":  "希望借钱渡过难关",
		"state": "经济紧张",
	}
	out := sanitizeSummary(transcript, obj)
	if out["goal"] != "希望借钱渡过难关" {
		t.Fatalf("goal scrubbed despite explicit request: %q", out["goal"])
	}
}

func TestNormalizeSummaryShapes(t *testing.T) {
	out := normalizeSummary(map[string]any{
		"goal":       "聊天",
		"open_loops": []any{"a", "", 42, "b"},
		"extra":      "dropped",
	})
	if out["goal"] != "聊天" {
		t.Fatalf("goal = %q", out["goal"])
	}
	loops := out["open_loops"].([]any)
	if len(loops) != 2 {
		t.Fatalf("open_loops = %v", loops)
	}
	if _, ok := out["extra"]; ok {
		t.Fatal("unknown keys must be dropped")
	}
	if out["state"] != "" || out["tone_notes"] != "" {
		t.Fatal("missing fields default to empty strings")
	}

	def := normalizeSummary(nil)
	if def["goal"] != "" {
		t.Fatal("nil input yields default schema")
	}
}

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                     "{\"a\":1}",
		"```json\n{\"a\":1}\n```":       "{\"a\":1}",
		"```\n{\"a\":1}\n```":           "{\"a\":1}",
		"  ```json\n{\"a\":1}\n```  \n": "{\"a\":1}",
	}
	for in, want := range cases {
		if got := stripCodeFences(in); got != want {
			t.Fatalf("stripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDedupeKeyFormat(t *testing.T) {
	scope := store.ScopeFilter{ScopeType: "thread", ThreadID: "th1", MemoryID: "m1", AgentID: "a1"}
	got := dedupeKey("s4", scope, 8, 2)
	want := "s4:thread:th1:m1:a1:8:v2"
	if got != want {
		t.Fatalf("dedupeKey = %q, want %q", got, want)
	}
}

func TestRenderTranscript(t *testing.T) {
	msgs := []store.Message{
		{Role: "user", Content: "你好"},
		{Role: "assistant", Content: "你好呀"},
	}
	if got := renderTranscript(msgs); got != "user: 你好\nassistant: 你好呀\n" {
		t.Fatalf("transcript = %q", got)
	}
}
