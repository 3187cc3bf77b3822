package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ChaoticNebula5/Janmitra/internal/aggregator"
	"github.com/ChaoticNebula5/Janmitra/internal/archive"
	"github.com/ChaoticNebula5/Janmitra/internal/conversation"
	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/gemini"
	"github.com/ChaoticNebula5/Janmitra/internal/log"
	"github.com/ChaoticNebula5/Janmitra/internal/metrics"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline"
	"github.com/ChaoticNebula5/Janmitra/internal/rtc"
	"github.com/ChaoticNebula5/Janmitra/internal/rtvi"
	"github.com/ChaoticNebula5/Janmitra/internal/turn"
)

// Session is one client's conversation: a task over the bot pipeline.
type Session struct {
	id      string
	task    *pipeline.Task
	context *conversation.Context
	rtvi    *rtvi.Processor
	usage   *metrics.Collector
	store   archive.Store
	logger  *slog.Logger
}

// NewSession wires the pipeline for transport and registers the lifecycle
// handlers. The task does not start until Run.
func (b *Bot) NewSession(transport Transport) (*Session, error) {
	id := ulid.Make().String()
	logger := log.With("session_id", id)

	var llmOpts []gemini.Option
	if b.dial != nil {
		llmOpts = append(llmOpts, gemini.WithDialer(b.dial))
	}
	llm := gemini.NewService(gemini.Config{
		APIKey:            b.cfg.GoogleAPIKey,
		Model:             b.cfg.GeminiModel,
		Voice:             b.cfg.GeminiVoice,
		SystemInstruction: systemInstruction,
		Temperature:       temperature,
	}, llmOpts...)

	convo := conversation.NewContext(
		conversation.Message{Role: conversation.RoleSystem, Content: systemInstruction},
		conversation.Message{Role: conversation.RoleUser, Content: firstUserMessage},
	)
	pair := aggregator.NewPair(convo, aggregator.UserParams{
		Strategies: aggregator.UserTurnStrategies{
			Stop: []aggregator.StopStrategy{
				aggregator.NewTurnAnalyzerStopStrategy(turn.NewLocalAnalyzer(turn.DefaultParams())),
			},
		},
	})

	rp := rtvi.NewProcessor()

	p := pipeline.New(
		transport.Input(),
		rp,
		pair.User,
		llm,
		transport.Output(),
		pair.Assistant,
	)

	usage := metrics.NewCollector()
	observers := append([]pipeline.Observer{rtvi.NewObserver(rp), usageObserver(usage)}, b.observers...)
	task := pipeline.NewTask(p, pipeline.Params{
		EnableMetrics:      true,
		EnableUsageMetrics: true,
		AudioInSampleRate:  rtc.InputSampleRate,
		AudioOutSampleRate: gemini.OutputSampleRate,
	}, observers...)

	s := &Session{
		id:      id,
		task:    task,
		context: convo,
		rtvi:    rp,
		usage:   usage,
		store:   b.store,
		logger:  logger,
	}

	if err := rp.RegisterEventHandler(rtvi.EventClientReady, func(ctx context.Context, _ pipeline.Event) {
		logger.Info("client ready")
		if err := rp.SetBotReady(ctx); err != nil {
			logger.Warn("bot ready", "err", err)
		}
		// kick off the conversation
		task.QueueFrames(&frames.LLMRunFrame{})
	}); err != nil {
		return nil, fmt.Errorf("bot: register client ready: %w", err)
	}
	if err := transport.RegisterEventHandler(rtc.EventClientConnected, func(context.Context, pipeline.Event) {
		logger.Info("client connected")
	}); err != nil {
		return nil, fmt.Errorf("bot: register client connected: %w", err)
	}
	if err := transport.RegisterEventHandler(rtc.EventClientDisconnected, func(context.Context, pipeline.Event) {
		logger.Info("client disconnected")
		task.Cancel()
	}); err != nil {
		return nil, fmt.Errorf("bot: register client disconnected: %w", err)
	}
	return s, nil
}

func (s *Session) ID() string                     { return s.id }
func (s *Session) Task() *pipeline.Task           { return s.task }
func (s *Session) Context() *conversation.Context { return s.context }

// Run blocks until the task ends. Signal handling belongs to the process.
func (s *Session) Run(ctx context.Context) error {
	started := time.Now()
	s.logger.Info("session started", "stages", s.task.Pipeline().Names())
	err := pipeline.NewRunner(false).Run(ctx, s.task)
	s.finish(started, time.Now())
	if err != nil {
		return fmt.Errorf("bot: session %s: %w", s.id, err)
	}
	return nil
}

func (s *Session) finish(started, ended time.Time) {
	msgs := s.context.Messages()
	for _, m := range msgs {
		if m.Role == conversation.RoleSystem {
			continue
		}
		s.logger.Info("transcript", "role", m.Role, "content", m.Content)
	}
	summary := s.usage.Summary()
	s.logger.Info("session ended", "state", s.task.State().String(),
		"duration", ended.Sub(started).Round(time.Millisecond), "usage", summary.String())

	if s.store == nil {
		return
	}
	key, err := archive.Save(s.store, archive.Transcript{
		SessionID: s.id,
		StartedAt: started.UTC(),
		EndedAt:   ended.UTC(),
		Messages:  msgs,
		Metrics:   summary,
	})
	if err != nil {
		s.logger.Warn("transcript archive failed", "err", err)
		return
	}
	s.logger.Info("transcript archived", "key", key)
}

// usageObserver feeds model metrics into c. Only the hop into the task sink
// is counted so each report is recorded once.
func usageObserver(c *metrics.Collector) pipeline.Observer {
	return pipeline.ObserverFunc(func(ev pipeline.FramePushed) {
		mf, ok := ev.Frame.(*frames.MetricsFrame)
		if !ok || ev.Destination == nil || ev.Destination.Name() != pipeline.SinkName {
			return
		}
		ctx := context.Background()
		for _, t := range mf.TTFB {
			c.RecordTTFB(ctx, t)
		}
		for _, u := range mf.Usage {
			c.RecordUsage(ctx, u)
		}
	})
}
