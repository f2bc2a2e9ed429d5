package proxy

import (
	"io"
	"net/http"
	"strings"

	"github.com/Lintsukishima/Gateway-github-2/internal/handlers/common"
	"github.com/tidwall/gjson"
)

// relayResult 一次流式中转的结果。
type relayResult struct {
	AssistantText string // choices[0].delta.content 累积
	Lines         int
	DoneSeen      bool
	Err           error
}

// relaySSE 逐行原样转发上游 SSE，同时累积增量文本。
// 客户端断开即停；已累积的文本仍交给调用方做持久化。
func relaySSE(w http.ResponseWriter, flusher http.Flusher, upstream io.Reader) relayResult {
	sc := common.NewLineScanner(upstream)
	var buf strings.Builder
	var res relayResult

	for {
		line, ok, err := sc.Next()
		if err != nil {
			res.Err = err
			break
		}
		if !ok {
			break
		}
		if werr := common.SSEWriteRaw(w, flusher, line); werr != nil {
			res.Err = werr
			break
		}
		res.Lines++

		payload, isData := strings.CutPrefix(line, "data:")
		if !isData {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			res.DoneSeen = true
			continue
		}
		if delta := gjson.Get(payload, "choices.0.delta.content"); delta.Exists() {
			buf.WriteString(delta.String())
		}
	}
	res.AssistantText = buf.String()
	return res
}
