// Package bot assembles and runs one Janmitra voice session per client
// connection: transport, turn detection, the Gemini Live model, context
// aggregation and the RTVI bridge.
package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChaoticNebula5/Janmitra/internal/archive"
	"github.com/ChaoticNebula5/Janmitra/internal/config"
	"github.com/ChaoticNebula5/Janmitra/internal/gemini"
	"github.com/ChaoticNebula5/Janmitra/internal/log"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline"
	"github.com/ChaoticNebula5/Janmitra/internal/rtc"
	"github.com/ChaoticNebula5/Janmitra/internal/vad"
)

var ErrMissingAPIKey = errors.New("bot: GOOGLE_API_KEY not set")

// vadStopSecs is short because end of turn is decided by the turn analyzer.
const vadStopSecs = 0.2

// RunnerArguments identifies the transport a session runs on.
type RunnerArguments interface {
	runnerArguments()
}

// WebRTCArguments carries a negotiated peer connection.
type WebRTCArguments struct {
	Connection *rtc.Connection
}

func (WebRTCArguments) runnerArguments() {}

// Transport is the pipeline-facing side of a client connection.
type Transport interface {
	Input() pipeline.Processor
	Output() pipeline.Processor
	RegisterEventHandler(name string, h pipeline.EventHandler) error
}

// TransportFactory builds the transport for a WebRTC connection.
type TransportFactory func(conn *rtc.Connection, params rtc.TransportParams) Transport

func newWebRTCTransport(conn *rtc.Connection, params rtc.TransportParams) Transport {
	return rtc.NewTransport(conn, params)
}

type Option func(*Bot)

func WithTransportFactory(f TransportFactory) Option {
	return func(b *Bot) { b.newTransport = f }
}

// WithDialer replaces the Gemini Live connection.
func WithDialer(d gemini.Dialer) Option {
	return func(b *Bot) { b.dial = d }
}

// WithArchive uploads every finished transcript to store.
func WithArchive(store archive.Store) Option {
	return func(b *Bot) { b.store = store }
}

// WithObservers adds task observers to every session.
func WithObservers(obs ...pipeline.Observer) Option {
	return func(b *Bot) { b.observers = append(b.observers, obs...) }
}

type Bot struct {
	cfg          config.Config
	newTransport TransportFactory
	dial         gemini.Dialer
	store        archive.Store
	observers    []pipeline.Observer
}

func New(cfg config.Config, opts ...Option) *Bot {
	b := &Bot{cfg: cfg, newTransport: newWebRTCTransport}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run builds a transport for args and runs a session on it until the client
// disconnects or the session ends. Unsupported argument kinds are logged and
// ignored.
func (b *Bot) Run(ctx context.Context, args RunnerArguments) error {
	if b.cfg.GoogleAPIKey == "" {
		return ErrMissingAPIKey
	}

	var transport Transport
	switch a := args.(type) {
	case WebRTCArguments:
		transport = b.newTransport(a.Connection, rtc.TransportParams{
			AudioInEnabled:  true,
			AudioOutEnabled: true,
			VideoOutEnabled: false,
			VADAnalyzer:     vad.NewAnalyzer(vadParams()),
		})
	default:
		log.Error("unsupported runner arguments type", "type", fmt.Sprintf("%T", args))
		return nil
	}
	return b.RunSession(ctx, transport)
}

func vadParams() vad.Params {
	p := vad.DefaultParams()
	p.StopSecs = vadStopSecs
	return p
}

// RunSession runs one session on an already built transport.
func (b *Bot) RunSession(ctx context.Context, transport Transport) error {
	s, err := b.NewSession(transport)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
