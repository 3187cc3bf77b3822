package metrics

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCollector_Summary(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()
	c.RecordTTFB(ctx, TTFB{Processor: "gemini-live", Value: 200 * time.Millisecond})
	c.RecordTTFB(ctx, TTFB{Processor: "gemini-live", Value: 400 * time.Millisecond})
	c.RecordUsage(ctx, LLMUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	c.RecordUsage(ctx, LLMUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5})

	s := c.Summary()
	if s.Turns != 2 {
		t.Fatalf("expected 2 turns, got %d", s.Turns)
	}
	if s.AvgTTFB != 300*time.Millisecond || s.MaxTTFB != 400*time.Millisecond {
		t.Fatalf("unexpected ttfb avg=%s max=%s", s.AvgTTFB, s.MaxTTFB)
	}
	if s.PromptTokens != 13 || s.CompletionTokens != 7 || s.TotalTokens != 20 {
		t.Fatalf("unexpected tokens: %+v", s)
	}
	if !strings.Contains(s.String(), "total_tokens=20") {
		t.Fatalf("unexpected summary string: %s", s.String())
	}
}

func TestCollector_EmptySummary(t *testing.T) {
	s := NewCollector().Summary()
	if s.Turns != 0 || s.AvgTTFB != 0 {
		t.Fatalf("expected zero summary, got %+v", s)
	}
}
