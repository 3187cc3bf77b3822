// Package gemini runs a Gemini Live speech-to-speech session as a pipeline
// stage. User audio goes in and the model's audio and transcripts come out.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChaoticNebula5/Janmitra/internal/conversation"
	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/log"
	"github.com/ChaoticNebula5/Janmitra/internal/metrics"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline"
)

const (
	DefaultModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice = "Charon"

	InputSampleRate  = 16000
	OutputSampleRate = 24000

	// audio kept from before the user turn starts
	preRollMs = 300
)

var ErrNotConnected = errors.New("gemini: not connected")

type Config struct {
	APIKey            string
	Model             string
	Voice             string
	SystemInstruction string
	Temperature       float32
}

type Option func(*Service)

// WithDialer replaces the Live API connection, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(s *Service) { s.dial = d }
}

// Service is the "gemini-live" processor. It consumes input audio and
// context frames and produces bot audio, transcripts and metrics.
type Service struct {
	*pipeline.BaseProcessor
	cfg  Config
	dial Dialer

	mu           sync.Mutex
	session      LiveSession
	closing      bool
	contextSent  bool
	userSpeaking bool
	responding   bool
	preRoll      []byte
	ttfbStart    time.Time
	metricsOn    bool
	usageOn      bool
	sendFailed   bool
}

func NewService(cfg Config, opts ...Option) *Service {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	s := &Service{BaseProcessor: pipeline.NewBaseProcessor("gemini-live"), cfg: cfg, dial: DialGenAI}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) ProcessFrame(ctx context.Context, f frames.Frame, dir pipeline.Direction) error {
	switch fr := f.(type) {
	case *frames.StartFrame:
		s.mu.Lock()
		s.metricsOn, s.usageOn = fr.EnableMetrics, fr.EnableUsageMetrics
		s.mu.Unlock()
		if err := s.PushFrame(ctx, f, dir); err != nil {
			return err
		}
		if err := s.connect(ctx); err != nil {
			log.Error("gemini connect failed", "model", s.cfg.Model, "err", err)
			s.PushError(ctx, fmt.Errorf("gemini: connect: %w", err), true)
		}
		return nil
	case *frames.InputAudioRawFrame:
		s.handleAudio(ctx, fr)
		return nil
	case *frames.UserStartedSpeakingFrame:
		s.activityStart(ctx)
	case *frames.UserStoppedSpeakingFrame:
		s.activityEnd(ctx)
	case *frames.LLMContextFrame:
		s.handleContext(ctx, fr.Context)
		return nil
	case *frames.EndFrame, *frames.CancelFrame:
		s.disconnect()
	}
	return s.PushFrame(ctx, f, dir)
}

func (s *Service) connect(ctx context.Context) error {
	sess, err := s.dial(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return sess.Close()
	}
	s.session = sess
	s.mu.Unlock()
	log.Info("gemini session connected", "model", s.cfg.Model, "voice", s.cfg.Voice)
	go s.receive(ctx, sess)
	return nil
}

func (s *Service) disconnect() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.closing = true
	s.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		log.Debug("gemini session close", "err", err)
	}
}

func (s *Service) live() LiveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Service) handleAudio(ctx context.Context, f *frames.InputAudioRawFrame) {
	sess := s.live()
	if sess == nil {
		return
	}
	s.mu.Lock()
	speaking := s.userSpeaking
	if !speaking {
		s.preRoll = append(s.preRoll, f.Audio...)
		limit := preRollMs * InputSampleRate / 1000 * 2
		if n := len(s.preRoll); n > limit {
			s.preRoll = append(s.preRoll[:0], s.preRoll[n-limit:]...)
		}
	}
	s.mu.Unlock()
	if speaking {
		s.sendErr(ctx, sess.SendAudio(f.Audio, f.SampleRate))
	}
}

func (s *Service) activityStart(ctx context.Context) {
	sess := s.live()
	if sess == nil {
		return
	}
	s.mu.Lock()
	s.userSpeaking = true
	pre := s.preRoll
	s.preRoll = nil
	s.mu.Unlock()
	s.sendErr(ctx, sess.ActivityStart())
	if len(pre) > 0 {
		s.sendErr(ctx, sess.SendAudio(pre, InputSampleRate))
	}
}

func (s *Service) activityEnd(ctx context.Context) {
	sess := s.live()
	if sess == nil {
		return
	}
	s.mu.Lock()
	s.userSpeaking = false
	s.ttfbStart = time.Now()
	s.mu.Unlock()
	s.sendErr(ctx, sess.ActivityEnd())
}

// handleContext sends the seeded conversation once. Later turns reach the
// model as audio, so later context frames only mark a response boundary.
func (s *Service) handleContext(ctx context.Context, c *conversation.Context) {
	sess := s.live()
	if sess == nil {
		s.PushError(ctx, ErrNotConnected, false)
		return
	}
	s.mu.Lock()
	if s.contextSent {
		s.mu.Unlock()
		return
	}
	s.contextSent = true
	s.ttfbStart = time.Now()
	s.mu.Unlock()

	var turns []Turn
	for _, m := range c.Messages() {
		if m.Role == conversation.RoleSystem {
			continue
		}
		turns = append(turns, Turn{Role: m.Role, Text: m.Content})
	}
	if len(turns) == 0 {
		return
	}
	s.sendErr(ctx, sess.SendTurns(turns, true))
}

// sendErr reports the first send failure of a session; the receive loop
// reports the session loss itself.
func (s *Service) sendErr(ctx context.Context, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	first := !s.sendFailed && !s.closing
	s.sendFailed = true
	s.mu.Unlock()
	if first {
		log.Warn("gemini send failed", "err", err)
		s.PushError(ctx, fmt.Errorf("gemini: send: %w", err), false)
	}
}

func (s *Service) receive(ctx context.Context, sess LiveSession) {
	for {
		ev, err := sess.Receive()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing && ctx.Err() == nil {
				log.Error("gemini session lost", "err", err)
				s.PushError(ctx, fmt.Errorf("gemini: receive: %w", err), true)
			}
			return
		}
		s.handleEvent(ctx, ev)
	}
}

func (s *Service) handleEvent(ctx context.Context, ev *ServerEvent) {
	if len(ev.Audio) > 0 {
		s.beginResponse(ctx)
		rate := ev.AudioSampleRate
		if rate == 0 {
			rate = OutputSampleRate
		}
		_ = s.PushFrame(ctx, &frames.OutputAudioRawFrame{Audio: ev.Audio, SampleRate: rate, Channels: 1}, pipeline.Downstream)
	}
	if ev.OutputTranscription != "" {
		s.beginResponse(ctx)
		_ = s.PushFrame(ctx, &frames.LLMTextFrame{Text: ev.OutputTranscription}, pipeline.Downstream)
	}
	if ev.InputTranscription != "" {
		_ = s.PushFrame(ctx, &frames.TranscriptionFrame{
			Text:      ev.InputTranscription,
			UserID:    "user",
			Timestamp: time.Now(),
			Final:     true,
		}, pipeline.Upstream)
	}
	if ev.Interrupted || ev.TurnComplete {
		s.endResponse(ctx)
	}
	if ev.Usage != nil {
		s.mu.Lock()
		on := s.usageOn
		s.mu.Unlock()
		if on {
			_ = s.PushFrame(ctx, &frames.MetricsFrame{Usage: []metrics.LLMUsage{{
				Processor:        s.Name(),
				Model:            s.cfg.Model,
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.ResponseTokens,
				TotalTokens:      ev.Usage.TotalTokens,
			}}}, pipeline.Downstream)
		}
	}
}

func (s *Service) beginResponse(ctx context.Context) {
	s.mu.Lock()
	if s.responding {
		s.mu.Unlock()
		return
	}
	s.responding = true
	var ttfb time.Duration
	if s.metricsOn && !s.ttfbStart.IsZero() {
		ttfb = time.Since(s.ttfbStart)
	}
	s.ttfbStart = time.Time{}
	s.mu.Unlock()

	_ = s.PushFrame(ctx, &frames.LLMFullResponseStartFrame{}, pipeline.Downstream)
	if ttfb > 0 {
		_ = s.PushFrame(ctx, &frames.MetricsFrame{TTFB: []metrics.TTFB{{
			Processor: s.Name(),
			Model:     s.cfg.Model,
			Value:     ttfb,
		}}}, pipeline.Downstream)
	}
}

func (s *Service) endResponse(ctx context.Context) {
	s.mu.Lock()
	was := s.responding
	s.responding = false
	s.mu.Unlock()
	if was {
		_ = s.PushFrame(ctx, &frames.LLMFullResponseEndFrame{}, pipeline.Downstream)
	}
}
