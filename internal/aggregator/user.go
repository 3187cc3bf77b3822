// Package aggregator folds pipeline frames into the conversation context at
// turn boundaries.
package aggregator

import (
	"context"
	"strings"

	"github.com/ChaoticNebula5/Janmitra/internal/conversation"
	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline"
)

type UserParams struct {
	Strategies UserTurnStrategies
	// DisableInterruptions stops the aggregator from interrupting the bot
	// when the user starts a turn.
	DisableInterruptions bool
}

// UserAggregator tracks user turns and appends the user's words to the
// context. The context slot for a turn is reserved when the turn ends so that
// late transcription cannot reorder it after the bot's reply.
type UserAggregator struct {
	*pipeline.BaseProcessor
	ctx    *conversation.Context
	params UserParams

	turnActive bool
	current    *conversation.Slot
	pending    strings.Builder
}

func NewUserAggregator(c *conversation.Context, p UserParams) *UserAggregator {
	if len(p.Strategies.Start) == 0 {
		p.Strategies.Start = DefaultStrategies().Start
	}
	if len(p.Strategies.Stop) == 0 {
		p.Strategies.Stop = DefaultStrategies().Stop
	}
	return &UserAggregator{BaseProcessor: pipeline.NewBaseProcessor("user-aggregator"), ctx: c, params: p}
}

func (u *UserAggregator) Context() *conversation.Context { return u.ctx }

// TurnActive reports whether a user turn is open.
func (u *UserAggregator) TurnActive() bool { return u.turnActive }

func (u *UserAggregator) ProcessFrame(ctx context.Context, f frames.Frame, dir pipeline.Direction) error {
	switch fr := f.(type) {
	case *frames.LLMRunFrame:
		return u.PushFrame(ctx, &frames.LLMContextFrame{Context: u.ctx}, pipeline.Downstream)
	case *frames.TranscriptionFrame:
		u.addTranscription(fr.Text)
		return nil
	}
	if dir == pipeline.Upstream {
		return u.PushFrame(ctx, f, dir)
	}

	start := false
	for _, s := range u.params.Strategies.Start {
		if s.ShouldStart(f) {
			start = true
		}
	}
	stop := false
	for _, s := range u.params.Strategies.Stop {
		if s.ShouldStop(f) {
			stop = true
		}
	}

	if err := u.PushFrame(ctx, f, dir); err != nil {
		return err
	}
	if start && !u.turnActive {
		return u.startTurn(ctx)
	}
	if stop && u.turnActive {
		return u.endTurn(ctx)
	}
	return nil
}

func (u *UserAggregator) startTurn(ctx context.Context) error {
	u.turnActive = true
	u.current = nil
	u.pending.Reset()
	if err := u.PushFrame(ctx, &frames.UserStartedSpeakingFrame{}, pipeline.Downstream); err != nil {
		return err
	}
	if !u.params.DisableInterruptions {
		return u.PushFrame(ctx, &frames.InterruptionFrame{}, pipeline.Downstream)
	}
	return nil
}

func (u *UserAggregator) endTurn(ctx context.Context) error {
	u.turnActive = false
	u.current = u.ctx.Reserve(conversation.RoleUser)
	u.current.Append(u.pending.String())
	u.pending.Reset()
	for _, s := range u.params.Strategies.Start {
		s.Reset()
	}
	for _, s := range u.params.Strategies.Stop {
		s.Reset()
	}
	if err := u.PushFrame(ctx, &frames.UserStoppedSpeakingFrame{}, pipeline.Downstream); err != nil {
		return err
	}
	return u.PushFrame(ctx, &frames.LLMContextFrame{Context: u.ctx}, pipeline.Downstream)
}

func (u *UserAggregator) addTranscription(text string) {
	switch {
	case u.turnActive:
		u.pending.WriteString(text)
	case u.current != nil:
		u.current.Append(text)
	default:
		u.current = u.ctx.Reserve(conversation.RoleUser)
		u.current.Append(text)
	}
}
