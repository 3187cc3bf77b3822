package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/ChaoticNebula5/Janmitra/internal/audio"
	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/log"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline"
	"github.com/ChaoticNebula5/Janmitra/internal/vad"
)

const (
	EventClientConnected    = "on_client_connected"
	EventClientDisconnected = "on_client_disconnected"

	// botStopDelay is the silence after estimated playback end before the
	// bot counts as stopped.
	botStopDelay  = 350 * time.Millisecond
	speakingCheck = 50 * time.Millisecond
	drainTimeout  = 2 * time.Second
)

// Peer is the part of a Connection the transport drives.
type Peer interface {
	OnMicPCM(fn func(pcm []byte))
	OnAppMessage(fn func(data []byte))
	OnControl(fn func(cmd string))
	OnConnected(fn func())
	OnDisconnected(fn func())
	NewAudioSink() (AudioSink, error)
	SendAppMessage(v any) error
	Close() error
}

type TransportParams struct {
	AudioInEnabled  bool
	AudioOutEnabled bool
	// VideoOutEnabled is accepted for parity with other transports; no
	// video track is ever published.
	VideoOutEnabled bool
	// VADAnalyzer, when set, turns microphone audio into VAD frames.
	VADAnalyzer *vad.Analyzer
}

// Transport exposes a Peer as an input and an output pipeline stage and
// emits on_client_connected and on_client_disconnected.
type Transport struct {
	pipeline.Events
	peer   Peer
	params TransportParams
	input  *InputTransport
	output *OutputTransport
}

func NewTransport(peer Peer, params TransportParams) *Transport {
	t := &Transport{peer: peer, params: params}
	t.LatchEvent(EventClientConnected, EventClientDisconnected)
	t.input = newInputTransport(peer, params)
	t.output = newOutputTransport(peer, params)

	peer.OnConnected(func() {
		t.CallEventHandler(context.Background(), EventClientConnected, t, peer)
	})
	peer.OnDisconnected(func() {
		t.CallEventHandler(context.Background(), EventClientDisconnected, t, peer)
	})
	return t
}

func (t *Transport) Input() pipeline.Processor  { return t.input }
func (t *Transport) Output() pipeline.Processor { return t.output }
func (t *Transport) Params() TransportParams    { return t.params }
func (t *Transport) Peer() Peer                 { return t.peer }

// InputTransport pushes microphone audio, VAD frames and client messages
// into the pipeline once the StartFrame has passed.
type InputTransport struct {
	*pipeline.BaseProcessor
	peer   Peer
	params TransportParams

	// mu also orders the StartFrame before any peer-originated frame
	mu       sync.Mutex
	ctx      context.Context
	rate     int
	speaking bool
	running  bool
}

func newInputTransport(peer Peer, params TransportParams) *InputTransport {
	in := &InputTransport{
		BaseProcessor: pipeline.NewBaseProcessor("transport-input"),
		peer:          peer,
		params:        params,
	}
	if params.AudioInEnabled {
		peer.OnMicPCM(in.handleMic)
	}
	peer.OnAppMessage(in.handleAppMessage)
	peer.OnControl(in.handleControl)
	return in
}

func (in *InputTransport) ProcessFrame(ctx context.Context, f frames.Frame, dir pipeline.Direction) error {
	switch fr := f.(type) {
	case *frames.StartFrame:
		in.mu.Lock()
		defer in.mu.Unlock()
		in.ctx = ctx
		in.rate = fr.AudioInSampleRate
		if in.rate == 0 {
			in.rate = InputSampleRate
		}
		if in.params.VADAnalyzer != nil {
			in.params.VADAnalyzer.SetSampleRate(in.rate)
		}
		if err := in.PushFrame(ctx, f, dir); err != nil {
			return err
		}
		in.running = true
		return nil
	case *frames.EndFrame, *frames.CancelFrame:
		in.mu.Lock()
		in.running = false
		in.mu.Unlock()
	}
	return in.PushFrame(ctx, f, dir)
}

// started returns the pipeline context once the StartFrame has been pushed.
func (in *InputTransport) started() (context.Context, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.ctx, in.running
}

func (in *InputTransport) handleMic(pcm []byte) {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return
	}
	ctx, rate := in.ctx, in.rate
	if rate != InputSampleRate {
		pcm = audio.ResampleBytes(pcm, InputSampleRate, rate)
	}
	var vadFrame frames.Frame
	if a := in.params.VADAnalyzer; a != nil {
		switch a.AnalyzeAudio(pcm) {
		case vad.Speaking:
			if !in.speaking {
				in.speaking = true
				vadFrame = &frames.VADUserStartedSpeakingFrame{}
			}
		case vad.Quiet:
			if in.speaking {
				in.speaking = false
				vadFrame = &frames.VADUserStoppedSpeakingFrame{}
			}
		}
	}
	in.mu.Unlock()

	if vadFrame != nil {
		_ = in.PushFrame(ctx, vadFrame, pipeline.Downstream)
	}
	_ = in.PushFrame(ctx, &frames.InputAudioRawFrame{Audio: pcm, SampleRate: rate, Channels: 1}, pipeline.Downstream)
}

func (in *InputTransport) handleAppMessage(data []byte) {
	ctx, ok := in.started()
	if !ok {
		log.Debug("client message before start dropped", "bytes", len(data))
		return
	}
	_ = in.PushFrame(ctx, &frames.InputTransportMessageFrame{Data: data}, pipeline.Downstream)
}

func (in *InputTransport) handleControl(cmd string) {
	switch cmd {
	case "stop", "stop-speaking", "cancel", "barge-in":
	default:
		return
	}
	ctx, ok := in.started()
	if !ok {
		return
	}
	log.Info("client barge-in", "cmd", cmd)
	_ = in.PushFrame(ctx, &frames.InterruptionFrame{}, pipeline.Downstream)
}

// OutputTransport plays bot audio, sends client messages and reports when
// the bot starts and stops speaking.
type OutputTransport struct {
	*pipeline.BaseProcessor
	peer   Peer
	params TransportParams
	sink   AudioSink

	mu          sync.Mutex
	botSpeaking bool
	playbackEnd time.Time
	stopWatch   chan struct{}
	closed      bool
}

func newOutputTransport(peer Peer, params TransportParams) *OutputTransport {
	return &OutputTransport{
		BaseProcessor: pipeline.NewBaseProcessor("transport-output"),
		peer:          peer,
		params:        params,
	}
}

func (o *OutputTransport) ProcessFrame(ctx context.Context, f frames.Frame, dir pipeline.Direction) error {
	if dir == pipeline.Upstream {
		return o.PushFrame(ctx, f, dir)
	}
	switch fr := f.(type) {
	case *frames.StartFrame:
		if o.params.AudioOutEnabled {
			sink, err := o.peer.NewAudioSink()
			if err != nil {
				log.Error("audio sink", "err", err)
				o.PushError(ctx, err, true)
			} else {
				o.sink = sink
			}
		}
		o.stopWatch = make(chan struct{})
		go o.watchSpeaking(ctx, o.stopWatch)
	case *frames.OutputAudioRawFrame:
		o.writeAudio(ctx, fr)
	case *frames.TransportMessageFrame:
		if err := o.peer.SendAppMessage(fr.Message); err != nil {
			log.Debug("client message not sent", "err", err)
		}
		return nil
	case *frames.InterruptionFrame:
		if o.sink != nil {
			o.sink.Reset()
		}
		o.botStopped(ctx)
	case *frames.EndFrame:
		o.drain(ctx)
		o.shutdown(ctx)
	case *frames.CancelFrame:
		o.shutdown(ctx)
	}
	return o.PushFrame(ctx, f, dir)
}

func (o *OutputTransport) writeAudio(ctx context.Context, f *frames.OutputAudioRawFrame) {
	if o.sink != nil {
		pcm := f.Audio
		if f.SampleRate != OutputSampleRate {
			pcm = audio.ResampleBytes(pcm, f.SampleRate, OutputSampleRate)
		}
		o.sink.WritePCM(pcm)
	}
	now := time.Now()
	o.mu.Lock()
	if o.playbackEnd.Before(now) {
		o.playbackEnd = now
	}
	o.playbackEnd = o.playbackEnd.Add(f.Duration())
	started := !o.botSpeaking
	o.botSpeaking = true
	o.mu.Unlock()
	if started {
		_ = o.PushFrame(ctx, &frames.BotStartedSpeakingFrame{}, pipeline.Downstream)
		_ = o.PushFrame(ctx, &frames.BotStartedSpeakingFrame{}, pipeline.Upstream)
	}
}

func (o *OutputTransport) watchSpeaking(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(speakingCheck)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.mu.Lock()
			done := o.botSpeaking && now.After(o.playbackEnd.Add(botStopDelay))
			o.mu.Unlock()
			if done {
				o.botStopped(ctx)
			}
		}
	}
}

func (o *OutputTransport) botStopped(ctx context.Context) {
	o.mu.Lock()
	was := o.botSpeaking
	o.botSpeaking = false
	o.playbackEnd = time.Time{}
	o.mu.Unlock()
	if was {
		_ = o.PushFrame(ctx, &frames.BotStoppedSpeakingFrame{}, pipeline.Downstream)
		_ = o.PushFrame(ctx, &frames.BotStoppedSpeakingFrame{}, pipeline.Upstream)
	}
}

// drain lets queued bot audio finish before an EndFrame closes the peer.
func (o *OutputTransport) drain(ctx context.Context) {
	if o.sink == nil {
		return
	}
	o.sink.FlushTail()
	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for o.sink.Queued() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

func (o *OutputTransport) shutdown(ctx context.Context) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	if o.stopWatch != nil {
		close(o.stopWatch)
	}
	o.botStopped(ctx)
	if o.sink != nil {
		o.sink.Close()
	}
	if err := o.peer.Close(); err != nil {
		log.Debug("peer close", "err", err)
	}
}
