package gatewayctx

import (
	"math"
	"time"

	logx "github.com/Lintsukishima/Gateway-github-2/internal/logging"
	"github.com/Lintsukishima/Gateway-github-2/internal/monitoring"
	"github.com/Lintsukishima/Gateway-github-2/internal/retrieval"
	"github.com/Lintsukishima/Gateway-github-2/internal/textutil"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// runTool 执行两段式检索流水线并按 MCP 工具结果包裹。
// 失败也以 isError:true 的工具结果返回，而不是 JSON-RPC 错误。
func (h *Handler) runTool(c *gin.Context, args map[string]any) map[string]any {
	keyword, _ := args["keyword"].(string)
	text, _ := args["text"].(string)
	user, _ := args["user"].(string)
	if user == "" {
		user = "default"
	}
	summaries, _ := args["summaries"].(map[string]any)

	primary, derived := textutil.ResolveKeyword(keyword, text, h.cfg.GarbledKwRepairEnabled)
	normalized := textutil.NormalizeKeyword(primary)
	cacheKey := retrieval.CacheKey(user, normalized, h.cfg.RetrievalProfileVersion)
	now := h.now()

	// 缓存每次请求都读；调试开关只追加 debug 字段
	var missReason string
	entry, status := h.cache.Get(cacheKey, now)
	switch status {
	case retrieval.CacheFresh:
		monitoring.CtxCacheEvents.WithLabelValues("hit", "fresh").Inc()
		monitoring.ToolCallsTotal.WithLabelValues("cache_hit").Inc()
		res := cloneMap(entry.Result)
		res["cache_hit"] = true
		res["cache_miss_reason"] = "bypassed"
		res["retrieval_profile_version"] = h.cfg.RetrievalProfileVersion
		logx.WithReq(c, log.Fields{"keyword": normalized, "user": user}).Info("gateway_ctx cache_hit")
		return wrapToolResult(entry.Snippet, false, res)
	case retrieval.CacheExpired:
		missReason = "expired"
	default:
		if h.cache.HasOtherProfile(user, normalized, h.cfg.RetrievalProfileVersion) {
			missReason = "profile_changed"
		} else {
			missReason = "not_found"
		}
	}
	monitoring.CtxCacheEvents.WithLabelValues("miss", missReason).Inc()

	// 第一跳：主关键词
	t0 := time.Now()
	out, err := h.anchor.Invoke(c.Request.Context(), primary, user)
	msPrimary := roundMS(time.Since(t0))
	if err != nil {
		monitoring.AnchorCallDuration.WithLabelValues("primary", "error").Observe(time.Since(t0).Seconds())
		monitoring.ToolCallsTotal.WithLabelValues("error").Inc()
		logx.WithReq(c, log.Fields{"keyword": primary, "error": err.Error()}).Warn("gateway_ctx anchor_failed")
		return wrapToolResult("gateway_ctx error: "+err.Error(), true, map[string]any{
			"keyword":           primary,
			"keyword_primary":   primary,
			"cache_hit":         false,
			"cache_miss_reason": missReason,
			"ms_dify_primary":   msPrimary,
			"error":             err.Error(),
		})
	}
	monitoring.AnchorCallDuration.WithLabelValues("primary", "ok").Observe(time.Since(t0).Seconds())

	primarySnippet := truncateRunes(firstNonEmpty(out.Result, out.ChatText), h.cfg.CtxMax)
	snippet := primarySnippet
	keywordUsed := primary
	usedOut := out
	msUsed := msPrimary

	// 第二跳：主关键词没捞到内容时换兜底关键词再试一次
	fallbackKW := ""
	fallbackText := ""
	if snippet == "" {
		fallbackKW = textutil.EmotionalFallback(text)
		if fallbackKW != primary {
			t1 := time.Now()
			out2, err2 := h.anchor.Invoke(c.Request.Context(), fallbackKW, user)
			if err2 != nil {
				monitoring.AnchorCallDuration.WithLabelValues("fallback", "error").Observe(time.Since(t1).Seconds())
			} else {
				monitoring.AnchorCallDuration.WithLabelValues("fallback", "ok").Observe(time.Since(t1).Seconds())
				if s2 := truncateRunes(firstNonEmpty(out2.Result, out2.ChatText), h.cfg.CtxMax); s2 != "" {
					snippet = s2
					fallbackText = s2
					keywordUsed = fallbackKW
					usedOut = out2
					msUsed = roundMS(time.Since(t1))
				}
			}
		}
	}

	// 打分与排序
	cands := retrieval.KeywordCandidates(primary, primarySnippet, fallbackKW, fallbackText, keywordUsed, now)
	cands = append(cands, retrieval.VectorCandidates(usedOut.VectorCandidates)...)
	cands = append(cands, retrieval.SummaryCandidates(text, summaries, now)...)
	evidence := retrieval.ScoreAndRank(cands, h.cfg.RetrievalTopN, now)

	usedIDs := make([]any, 0, len(evidence))
	for _, e := range evidence {
		usedIDs = append(usedIDs, e.ID)
	}

	res := map[string]any{
		"keyword":                   keywordUsed,
		"keyword_primary":           primary,
		"keyword_used":              keywordUsed,
		"ctx":                       snippet,
		"raw":                       usedOut.Raw,
		"evidence":                  evidence,
		"used_evidence_ids":         usedIDs,
		"retrieval_profile_version": h.cfg.RetrievalProfileVersion,
		"ms_dify_primary":           msPrimary,
		"ms_dify_used":              msUsed,
		"cache_hit":                 false,
		"cache_miss_reason":         missReason,
		"grounding_mode":            retrieval.GroundingMode(evidence),
	}
	if h.cfg.GatewayCtxDebug {
		res["debug"] = map[string]any{
			"cache_size":         h.cache.Len(),
			"keyword_derived":    derived,
			"normalized_keyword": normalized,
		}
	}

	h.cache.Put(cacheKey, now, snippet, res)
	monitoring.ToolCallsTotal.WithLabelValues("ok").Inc()
	logx.WithReq(c, log.Fields{
		"keyword_primary": primary,
		"keyword_used":    keywordUsed,
		"grounding_mode":  res["grounding_mode"],
		"ms_dify_used":    msUsed,
	}).Info("gateway_ctx resolved")

	return wrapToolResult(snippet, false, res)
}

func wrapToolResult(text string, isErr bool, data map[string]any) map[string]any {
	return map[string]any{
		"content": []any{map[string]any{"type": "text", "text": text}},
		"isError": isErr,
		"data":    data,
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// truncateRunes 按码点截断并补省略号。
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// roundMS 毫秒保留一位小数。
func roundMS(d time.Duration) float64 {
	return math.Round(d.Seconds()*1e4) / 10
}
