package rtvi

import (
	"sync"
	"time"

	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline"
)

// seenLimit bounds the frame ids remembered for de-duplication. A frame is
// observed on consecutive hops, so only recent ids matter.
const seenLimit = 1024

// Observer turns pipeline activity into RTVI events for the client. Each
// frame is reported once, however many hops it makes.
type Observer struct {
	rtvi *Processor

	mu    sync.Mutex
	seen  map[uint64]struct{}
	order []uint64
}

func NewObserver(p *Processor) *Observer {
	return &Observer{rtvi: p, seen: make(map[uint64]struct{})}
}

func (o *Observer) OnPushFrame(ev pipeline.FramePushed) {
	f := ev.Frame
	switch f.(type) {
	case *frames.TransportMessageFrame:
		return
	case *frames.TranscriptionFrame, *frames.ErrorFrame:
	default:
		if ev.Direction != pipeline.Downstream {
			return
		}
	}

	msg, ok := messageFor(f)
	if !ok || !o.firstSeen(f.ID()) {
		return
	}
	_ = o.rtvi.PushMessage(o.rtvi.context(), msg)
}

func (o *Observer) firstSeen(id uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.seen[id]; ok {
		return false
	}
	o.seen[id] = struct{}{}
	o.order = append(o.order, id)
	if len(o.order) > seenLimit {
		delete(o.seen, o.order[0])
		o.order = o.order[1:]
	}
	return true
}

func messageFor(f frames.Frame) (Message, bool) {
	switch fr := f.(type) {
	case *frames.UserStartedSpeakingFrame:
		return NewMessage(TypeUserStartedSpeaking, nil), true
	case *frames.UserStoppedSpeakingFrame:
		return NewMessage(TypeUserStoppedSpeaking, nil), true
	case *frames.BotStartedSpeakingFrame:
		return NewMessage(TypeBotStartedSpeaking, nil), true
	case *frames.BotStoppedSpeakingFrame:
		return NewMessage(TypeBotStoppedSpeaking, nil), true
	case *frames.TranscriptionFrame:
		ts := fr.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		return NewMessage(TypeUserTranscription, TranscriptionData{
			Text:      fr.Text,
			UserID:    fr.UserID,
			Timestamp: ts.UTC().Format(time.RFC3339Nano),
			Final:     fr.Final,
		}), true
	case *frames.LLMFullResponseStartFrame:
		return NewMessage(TypeBotLLMStarted, nil), true
	case *frames.LLMFullResponseEndFrame:
		return NewMessage(TypeBotLLMStopped, nil), true
	case *frames.LLMTextFrame:
		return NewMessage(TypeBotLLMText, TextData{Text: fr.Text}), true
	case *frames.MetricsFrame:
		var d MetricsData
		for _, m := range fr.TTFB {
			d.TTFB = append(d.TTFB, MetricValue{Processor: m.Processor, Model: m.Model, Value: m.Value.Seconds()})
		}
		for _, u := range fr.Usage {
			d.Tokens = append(d.Tokens, TokenMetric{Processor: u.Processor, Model: u.Model, Value: TokenUsage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      u.TotalTokens,
			}})
		}
		return NewMessage(TypeMetrics, d), true
	case *frames.ErrorFrame:
		text := "unknown error"
		if fr.Err != nil {
			text = fr.Err.Error()
		}
		return NewMessage(TypeError, ErrorData{Error: text, Fatal: fr.Fatal}), true
	}
	return Message{}, false
}
