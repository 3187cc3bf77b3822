package aggregator

import (
	"context"
	"strings"

	"github.com/ChaoticNebula5/Janmitra/internal/conversation"
	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline"
)

// AssistantAggregator sits after the output transport and appends what the
// bot actually said. An interruption commits the partial reply; text that
// still arrives for the interrupted reply is dropped until the next response
// starts.
type AssistantAggregator struct {
	*pipeline.BaseProcessor
	ctx         *conversation.Context
	buf         strings.Builder
	interrupted bool
}

func NewAssistantAggregator(c *conversation.Context) *AssistantAggregator {
	return &AssistantAggregator{BaseProcessor: pipeline.NewBaseProcessor("assistant-aggregator"), ctx: c}
}

func (a *AssistantAggregator) ProcessFrame(ctx context.Context, f frames.Frame, dir pipeline.Direction) error {
	switch fr := f.(type) {
	case *frames.LLMFullResponseStartFrame:
		a.buf.Reset()
		a.interrupted = false
	case *frames.LLMTextFrame:
		if !a.interrupted {
			a.buf.WriteString(fr.Text)
		}
	case *frames.InterruptionFrame:
		a.flush()
		a.interrupted = true
	case *frames.LLMFullResponseEndFrame, *frames.EndFrame, *frames.CancelFrame:
		a.flush()
	}
	return a.PushFrame(ctx, f, dir)
}

func (a *AssistantAggregator) flush() {
	text := strings.TrimSpace(a.buf.String())
	a.buf.Reset()
	if text == "" {
		return
	}
	a.ctx.Add(conversation.Message{Role: conversation.RoleAssistant, Content: text})
}

// Pair is the user and assistant aggregator sharing one context.
type Pair struct {
	User      *UserAggregator
	Assistant *AssistantAggregator
}

func NewPair(c *conversation.Context, p UserParams) Pair {
	return Pair{User: NewUserAggregator(c, p), Assistant: NewAssistantAggregator(c)}
}
