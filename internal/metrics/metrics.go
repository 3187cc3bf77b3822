// Package metrics collects per-session latency and token usage and exports
// them through OpenTelemetry instruments.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/ChaoticNebula5/Janmitra/internal/metrics"

var meter = otel.Meter(scopeName)

// TTFB is the time from a model request to its first audio.
type TTFB struct {
	Processor string
	Model     string
	Value     time.Duration
}

// LLMUsage is the token accounting reported by the model service.
type LLMUsage struct {
	Processor        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Summary aggregates a session's metrics.
type Summary struct {
	Turns            int           `json:"turns"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	AvgTTFB          time.Duration `json:"avg_ttfb_ns"`
	MaxTTFB          time.Duration `json:"max_ttfb_ns"`
}

func (s Summary) String() string {
	return fmt.Sprintf("turns=%d prompt_tokens=%d completion_tokens=%d total_tokens=%d avg_ttfb=%s max_ttfb=%s",
		s.Turns, s.PromptTokens, s.CompletionTokens, s.TotalTokens,
		s.AvgTTFB.Round(time.Millisecond), s.MaxTTFB.Round(time.Millisecond))
}

// Collector accumulates metrics for one session.
type Collector struct {
	mu      sync.Mutex
	ttfbs   []time.Duration
	summary Summary

	ttfbHist metric.Float64Histogram
	tokens   metric.Int64Counter
}

// NewCollector creates a collector. Instrument creation errors leave the
// OpenTelemetry export disabled but collection still works.
func NewCollector() *Collector {
	c := &Collector{}
	if h, err := meter.Float64Histogram("llm.ttfb",
		metric.WithDescription("Time to first model audio"),
		metric.WithUnit("s")); err == nil {
		c.ttfbHist = h
	}
	if ctr, err := meter.Int64Counter("llm.tokens",
		metric.WithDescription("Tokens reported by the model service"),
		metric.WithUnit("{token}")); err == nil {
		c.tokens = ctr
	}
	return c
}

// RecordTTFB adds a time-to-first-byte sample.
func (c *Collector) RecordTTFB(ctx context.Context, m TTFB) {
	c.mu.Lock()
	c.ttfbs = append(c.ttfbs, m.Value)
	c.summary.Turns++
	c.mu.Unlock()
	if c.ttfbHist != nil {
		c.ttfbHist.Record(ctx, m.Value.Seconds(),
			metric.WithAttributes(attribute.String("processor", m.Processor), attribute.String("model", m.Model)))
	}
}

// RecordUsage adds a usage report.
func (c *Collector) RecordUsage(ctx context.Context, u LLMUsage) {
	c.mu.Lock()
	c.summary.PromptTokens += u.PromptTokens
	c.summary.CompletionTokens += u.CompletionTokens
	c.summary.TotalTokens += u.TotalTokens
	c.mu.Unlock()
	if c.tokens != nil {
		attrs := []attribute.KeyValue{attribute.String("model", u.Model)}
		c.tokens.Add(ctx, int64(u.PromptTokens), metric.WithAttributes(append(attrs, attribute.String("kind", "prompt"))...))
		c.tokens.Add(ctx, int64(u.CompletionTokens), metric.WithAttributes(append(attrs, attribute.String("kind", "completion"))...))
	}
}

// Summary returns the aggregate so far.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.summary
	if len(c.ttfbs) > 0 {
		var total time.Duration
		for _, d := range c.ttfbs {
			total += d
			if d > s.MaxTTFB {
				s.MaxTTFB = d
			}
		}
		s.AvgTTFB = total / time.Duration(len(c.ttfbs))
	}
	return s
}
