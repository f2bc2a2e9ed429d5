package textutil

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// UTF-8 文本被按 latin-1/cp1252 误解码后的典型痕迹。
var mojibakeMarkers = []string{
	"Ã", "Â", "æ", "ä", "å", "ç", "ð", "\u0085", "\u009d", "\u009f",
}

// 出现这些标记才允许整体重解码，避免把正常中文"修"坏。
var hardMarkers = []string{"Ã", "Â", "æ", "ä", "å", "ç", "ð"}

var badLatinRunPattern = regexp.MustCompile(`[\x{00c0}-\x{00ff}]{2,}`)

// StripC1 removes C1 control characters (U+0080..U+009F) that latin-1
// round-trips leave behind.
func StripC1(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 0x80 && r <= 0x9f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MojibakeScore counts marker occurrences; zero means the text looks clean.
func MojibakeScore(s string) int {
	n := 0
	for _, m := range mojibakeMarkers {
		n += strings.Count(s, m)
	}
	return n
}

func hasHardMarker(s string) bool {
	for _, m := range hardMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func countCJK(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x4e00 && r <= 0x9fff {
			n++
		}
	}
	return n
}

func countCtrl(s string) int {
	n := 0
	for _, r := range s {
		if (r < 0x20 && r != '\t' && r != '\n' && r != '\r') || (r >= 0x7f && r <= 0x9f) {
			n++
		}
	}
	return n
}

func countReplacement(s string) int {
	return strings.Count(s, "�")
}

// RepairKey 候选排序键：中文字符越多越好，其余痕迹越少越好。
// 逐项字典序比较。
type RepairKey [5]int

// rankKey scores a candidate; pure so tests can probe the ordering directly.
func rankKey(s string) RepairKey {
	return RepairKey{
		countCJK(s),
		-MojibakeScore(s),
		-(countCtrl(s) + countReplacement(s)),
		-len(badLatinRunPattern.FindAllString(s, -1)),
		-countReplacement(s),
	}
}

func (k RepairKey) greater(o RepairKey) bool {
	for i := range k {
		if k[i] != o[i] {
			return k[i] > o[i]
		}
	}
	return false
}

// RepairText reverses latin-1/cp1252 mis-decoding when the text shows
// mojibake traces, otherwise only strips stray C1 controls.
func RepairText(s string) string {
	return repairWith(s, rankKey)
}

func repairWith(s string, key func(string) RepairKey) string {
	if s == "" {
		return s
	}
	if MojibakeScore(s) == 0 {
		return StripC1(s)
	}
	// 已有成片中文且没有硬标记，基本是正常文本，别重解码
	if countCJK(s) >= 2 && !hasHardMarker(s) {
		return StripC1(s)
	}

	score := MojibakeScore(s)
	rounds := 2
	if score > 2 {
		rounds++
	}
	if score > 5 {
		rounds++
	}

	seen := map[string]struct{}{s: {}}
	frontier := []string{s}
	for i := 0; i < rounds; i++ {
		var next []string
		for _, seed := range frontier {
			for _, cm := range []*charmap.Charmap{charmap.ISO8859_1, charmap.Windows1252} {
				cand, ok := tryRecode(seed, cm)
				if !ok {
					continue
				}
				if _, dup := seen[cand]; dup {
					continue
				}
				seen[cand] = struct{}{}
				next = append(next, cand)
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	best := s
	bestKey := key(StripC1(s))
	for cand := range seen {
		if k := key(StripC1(cand)); k.greater(bestKey) {
			best = cand
			bestKey = k
		}
	}
	return StripC1(best)
}

// tryRecode encodes the seed back to single-byte form and re-reads it as
// UTF-8, first strict, then with replacement. The unstripped seed is tried
// first: C1 runes may carry real byte values.
func tryRecode(seed string, cm *charmap.Charmap) (string, bool) {
	for _, src := range []string{seed, StripC1(seed)} {
		raw, err := cm.NewEncoder().String(src)
		if err != nil {
			continue
		}
		if utf8.ValidString(raw) {
			return raw, true
		}
		return strings.ToValidUTF8(raw, "�"), true
	}
	return "", false
}

// RepairAny walks decoded JSON and repairs every string in place.
func RepairAny(v any) any {
	switch t := v.(type) {
	case string:
		return RepairText(t)
	case map[string]any:
		for k, val := range t {
			t[k] = RepairAny(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = RepairAny(val)
		}
		return t
	default:
		return v
	}
}
