package proxy

import (
	"strings"
	"testing"
	"time"

	"github.com/Lintsukishima/Gateway-github-2/internal/store"
)

func TestSummaryBlock(t *testing.T) {
	if got := SummaryBlock(nil, nil); got != "" {
		t.Fatalf("empty summaries should yield no block, got %q", got)
	}

	s4 := &store.SummaryLatest{
		FromTurn: 1, ToTurn: 4,
		Summary:   map[string]any{"goal": "聊猫"},
		CreatedAt: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		Model:     "m",
	}
	block := SummaryBlock(s4, nil)
	if !strings.HasPrefix(block, summaryBlockHeader) || !strings.HasSuffix(block, blockFooter) {
		t.Fatalf("block framing wrong: %q", block)
	}
	if !strings.Contains(block, "S4 (recent): {") || strings.Contains(block, "S60 (long)") {
		t.Fatalf("block lines wrong: %q", block)
	}
	if !strings.Contains(block, `"range":[1,4]`) {
		t.Fatalf("range missing: %q", block)
	}
}

func TestAnchorAndWriterBlocks(t *testing.T) {
	if AnchorBlock("  ") != "" {
		t.Fatal("blank snippet must yield no anchor block")
	}
	anchor := AnchorBlock("她喜欢被叫小猫咪")
	if !strings.Contains(anchor, "她喜欢被叫小猫咪") || !strings.HasPrefix(anchor, anchorBlockHeader) {
		t.Fatalf("anchor block = %q", anchor)
	}

	if WriterBlock("weak") != writerBlockWeak || WriterBlock("normal") != writerBlockNormal {
		t.Fatal("writer block selection wrong")
	}
	if WriterBlock("anything-else") != writerBlockNormal {
		t.Fatal("unknown mode must fall back to normal")
	}
}

func TestAssembleSystemBlockOrderAndSkips(t *testing.T) {
	out := AssembleSystemBlock("", "ANCHOR", "WRITER")
	if out != "ANCHOR\n\nWRITER" {
		t.Fatalf("assembled = %q", out)
	}
	out = AssembleSystemBlock("SUM", "ANCHOR", "WRITER")
	if strings.Index(out, "SUM") > strings.Index(out, "ANCHOR") {
		t.Fatal("summary must precede anchor")
	}
}
