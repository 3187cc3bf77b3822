// Package frames defines the units of data and control that flow through a
// pipeline. Frames are always passed by pointer.
package frames

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ChaoticNebula5/Janmitra/internal/conversation"
	"github.com/ChaoticNebula5/Janmitra/internal/metrics"
)

var seq atomic.Uint64

// Frame is implemented by every type in this package through Base.
type Frame interface {
	ID() uint64
	base() *Base
}

// Base carries the frame identity. The ID is assigned on first push.
type Base struct {
	id atomic.Uint64
}

func (b *Base) ID() uint64  { return b.id.Load() }
func (b *Base) base() *Base { return b }

// Stamp assigns an ID to f if it has none yet.
func Stamp(f Frame) {
	b := f.base()
	if b.id.Load() == 0 {
		b.id.CompareAndSwap(0, seq.Add(1))
	}
}

// Name returns a short type name for logging, e.g. "LLMRunFrame".
func Name(f Frame) string {
	n := fmt.Sprintf("%T", f)
	if i := strings.LastIndexByte(n, '.'); i >= 0 {
		n = n[i+1:]
	}
	return n
}

// System and control frames.

type StartFrame struct {
	Base
	EnableMetrics      bool
	EnableUsageMetrics bool
	AudioInSampleRate  int
	AudioOutSampleRate int
}

type EndFrame struct{ Base }

type CancelFrame struct{ Base }

// EndTaskFrame travels upstream and asks the task to end gracefully.
type EndTaskFrame struct{ Base }

type ErrorFrame struct {
	Base
	Err       error
	Fatal     bool
	Processor string
}

type InterruptionFrame struct{ Base }

// Audio frames carry 16-bit little-endian PCM.

type InputAudioRawFrame struct {
	Base
	Audio      []byte
	SampleRate int
	Channels   int
}

type OutputAudioRawFrame struct {
	Base
	Audio      []byte
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the audio.
func (f *OutputAudioRawFrame) Duration() time.Duration {
	return pcmDuration(len(f.Audio), f.SampleRate, f.Channels)
}

// Duration returns the length of the captured audio.
func (f *InputAudioRawFrame) Duration() time.Duration {
	return pcmDuration(len(f.Audio), f.SampleRate, f.Channels)
}

func pcmDuration(n, rate, channels int) time.Duration {
	if rate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	samples := n / 2 / channels
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// Speaking state frames.

type VADUserStartedSpeakingFrame struct{ Base }

type VADUserStoppedSpeakingFrame struct{ Base }

type UserStartedSpeakingFrame struct{ Base }

type UserStoppedSpeakingFrame struct{ Base }

type BotStartedSpeakingFrame struct{ Base }

type BotStoppedSpeakingFrame struct{ Base }

// Text and LLM frames.

type TranscriptionFrame struct {
	Base
	Text      string
	UserID    string
	Timestamp time.Time
	Final     bool
}

// LLMRunFrame asks the user aggregator to hand the current context to the model.
type LLMRunFrame struct{ Base }

type LLMContextFrame struct {
	Base
	Context *conversation.Context
}

type LLMFullResponseStartFrame struct{ Base }

type LLMFullResponseEndFrame struct{ Base }

type LLMTextFrame struct {
	Base
	Text string
}

// Transport messages.

// TransportMessageFrame is sent to the client by the output transport.
type TransportMessageFrame struct {
	Base
	Message any
}

// InputTransportMessageFrame is a raw message received from the client.
type InputTransportMessageFrame struct {
	Base
	Data []byte
}

type MetricsFrame struct {
	Base
	TTFB  []metrics.TTFB
	Usage []metrics.LLMUsage
}
