package gemini

import (
	"context"

	"github.com/ChaoticNebula5/Janmitra/internal/conversation"
)

// Turn is one context message sent as client content.
type Turn struct {
	Role conversation.Role
	Text string
}

type Usage struct {
	PromptTokens   int
	ResponseTokens int
	TotalTokens    int
}

// ServerEvent is the part of a Live server message the service acts on.
type ServerEvent struct {
	Audio           []byte
	AudioSampleRate int

	InputTranscription  string
	OutputTranscription string

	TurnComplete bool
	Interrupted  bool
	Usage        *Usage
}

// LiveSession is a connected bidirectional Live API session.
type LiveSession interface {
	SendAudio(pcm []byte, sampleRate int) error
	SendTurns(turns []Turn, turnComplete bool) error
	ActivityStart() error
	ActivityEnd() error
	// Receive blocks for the next server message. It fails once the session is closed.
	Receive() (*ServerEvent, error)
	Close() error
}

// Dialer opens a LiveSession for cfg.
type Dialer func(ctx context.Context, cfg Config) (LiveSession, error)
