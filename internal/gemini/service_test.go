package gemini

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ChaoticNebula5/Janmitra/internal/conversation"
	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline/pipelinetest"
)

type fakeSession struct {
	mu       sync.Mutex
	audio    [][]byte
	turns    [][]Turn
	complete []bool
	starts   int
	ends     int
	closed   bool

	events chan *ServerEvent
	done   chan struct{}
	once   sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan *ServerEvent, 16), done: make(chan struct{})}
}

func (f *fakeSession) SendAudio(pcm []byte, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), pcm...))
	return nil
}

func (f *fakeSession) SendTurns(turns []Turn, complete bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turns)
	f.complete = append(f.complete, complete)
	return nil
}

func (f *fakeSession) ActivityStart() error {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) ActivityEnd() error {
	f.mu.Lock()
	f.ends++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Receive() (*ServerEvent, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.done:
		return nil, io.EOF
	}
}

func (f *fakeSession) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.done)
	})
	return nil
}

type sessionState struct {
	audio    [][]byte
	turns    [][]Turn
	complete []bool
	starts   int
	ends     int
	closed   bool
}

func (f *fakeSession) snapshot() sessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sessionState{audio: f.audio, turns: f.turns, complete: f.complete, starts: f.starts, ends: f.ends, closed: f.closed}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func startService(t *testing.T, params pipeline.Params) (*Service, *fakeSession, *pipelinetest.Harness, *Config) {
	t.Helper()
	fs := newFakeSession()
	var dialed Config
	svc := NewService(Config{APIKey: "AIza-test", SystemInstruction: "persona"}, WithDialer(func(_ context.Context, cfg Config) (LiveSession, error) {
		dialed = cfg
		return fs, nil
	}))
	h := pipelinetest.Run(t, params, svc)
	// the StartFrame passes before connect; a marker proves connect returned
	h.Queue(&frames.BotStoppedSpeakingFrame{})
	pipelinetest.Wait[*frames.BotStoppedSpeakingFrame](t, h, pipeline.Downstream)
	return svc, fs, h, &dialed
}

func seeded() *conversation.Context {
	return conversation.NewContext(
		conversation.Message{Role: conversation.RoleSystem, Content: "persona"},
		conversation.Message{Role: conversation.RoleUser, Content: "introduce yourself"},
	)
}

func TestService_Defaults(t *testing.T) {
	s := NewService(Config{APIKey: "k"})
	if s.Config().Model != DefaultModel || s.Config().Voice != DefaultVoice {
		t.Fatalf("unexpected defaults: %+v", s.Config())
	}
	if s.Name() != "gemini-live" {
		t.Fatalf("unexpected name %q", s.Name())
	}
}

func TestService_SendsSeededContextOnce(t *testing.T) {
	_, fs, h, dialed := startService(t, pipeline.Params{})
	if dialed.Model != DefaultModel || dialed.APIKey != "AIza-test" {
		t.Fatalf("unexpected dial config: %+v", *dialed)
	}

	c := seeded()
	h.Queue(&frames.LLMContextFrame{Context: c}, &frames.LLMContextFrame{Context: c})
	h.Queue(&frames.BotStoppedSpeakingFrame{})
	h.WaitFor(t, pipeline.Downstream, func(frames.Frame) bool {
		return len(pipelinetest.Filter[*frames.BotStoppedSpeakingFrame](h.Frames(pipeline.Downstream))) == 2
	})

	snap := fs.snapshot()
	if len(snap.turns) != 1 {
		t.Fatalf("expected one client content send, got %d", len(snap.turns))
	}
	if len(snap.turns[0]) != 1 || snap.turns[0][0].Role != conversation.RoleUser || !snap.complete[0] {
		t.Fatalf("expected only the user seed with turn complete, got %+v", snap.turns[0])
	}
	if n := len(pipelinetest.Filter[*frames.LLMContextFrame](h.Frames(pipeline.Downstream))); n != 0 {
		t.Fatalf("expected context frames to be consumed, got %d", n)
	}
}

func TestService_UserActivity(t *testing.T) {
	_, fs, h, _ := startService(t, pipeline.Params{})
	chunk := func() *frames.InputAudioRawFrame {
		return &frames.InputAudioRawFrame{Audio: make([]byte, 640), SampleRate: InputSampleRate, Channels: 1}
	}

	h.Queue(chunk(), chunk())
	h.Queue(&frames.UserStartedSpeakingFrame{})
	h.Queue(chunk())
	h.Queue(&frames.UserStoppedSpeakingFrame{})
	pipelinetest.Wait[*frames.UserStoppedSpeakingFrame](t, h, pipeline.Downstream)

	snap := fs.snapshot()
	if snap.starts != 1 || snap.ends != 1 {
		t.Fatalf("expected one activity start and end, got %d/%d", snap.starts, snap.ends)
	}
	// pre-roll flush then the live chunk
	if len(snap.audio) != 2 || len(snap.audio[0]) != 1280 || len(snap.audio[1]) != 640 {
		t.Fatalf("unexpected audio sends: %d", len(snap.audio))
	}
	if n := len(pipelinetest.Filter[*frames.InputAudioRawFrame](h.Frames(pipeline.Downstream))); n != 0 {
		t.Fatalf("expected input audio to be consumed, got %d", n)
	}
}

func TestService_PreRollIsBounded(t *testing.T) {
	_, fs, h, _ := startService(t, pipeline.Params{})
	for i := 0; i < 50; i++ {
		h.Queue(&frames.InputAudioRawFrame{Audio: make([]byte, 640), SampleRate: InputSampleRate, Channels: 1})
	}
	h.Queue(&frames.UserStartedSpeakingFrame{})
	pipelinetest.Wait[*frames.UserStartedSpeakingFrame](t, h, pipeline.Downstream)
	snap := fs.snapshot()
	if len(snap.audio) != 1 || len(snap.audio[0]) != preRollMs*InputSampleRate/1000*2 {
		t.Fatalf("expected a %dms pre-roll", preRollMs)
	}
}

func TestService_ResponseFrames(t *testing.T) {
	_, fs, h, _ := startService(t, pipeline.Params{EnableMetrics: true, EnableUsageMetrics: true})
	h.Queue(&frames.LLMContextFrame{Context: seeded()})
	eventually(t, func() bool { return len(fs.snapshot().turns) == 1 })

	fs.events <- &ServerEvent{Audio: make([]byte, 480), AudioSampleRate: 24000}
	fs.events <- &ServerEvent{OutputTranscription: "Namaste"}
	fs.events <- &ServerEvent{InputTranscription: "kisan yojana"}
	fs.events <- &ServerEvent{TurnComplete: true, Usage: &Usage{PromptTokens: 10, ResponseTokens: 5, TotalTokens: 15}}

	pipelinetest.Wait[*frames.LLMFullResponseEndFrame](t, h, pipeline.Downstream)
	tr := pipelinetest.Wait[*frames.TranscriptionFrame](t, h, pipeline.Upstream)
	if tr.Text != "kisan yojana" || !tr.Final {
		t.Fatalf("unexpected transcription %+v", tr)
	}
	h.WaitFor(t, pipeline.Downstream, func(f frames.Frame) bool {
		m, ok := f.(*frames.MetricsFrame)
		return ok && len(m.Usage) == 1
	})

	down := h.Frames(pipeline.Downstream)
	starts := pipelinetest.Filter[*frames.LLMFullResponseStartFrame](down)
	if len(starts) != 1 {
		t.Fatalf("expected one response start, got %d", len(starts))
	}
	audio := pipelinetest.Filter[*frames.OutputAudioRawFrame](down)
	if len(audio) != 1 || audio[0].SampleRate != OutputSampleRate {
		t.Fatalf("unexpected output audio %+v", audio)
	}
	text := pipelinetest.Filter[*frames.LLMTextFrame](down)
	if len(text) != 1 || text[0].Text != "Namaste" {
		t.Fatalf("unexpected text frames %+v", text)
	}
	var ttfb, usage int
	for _, m := range pipelinetest.Filter[*frames.MetricsFrame](down) {
		ttfb += len(m.TTFB)
		usage += len(m.Usage)
		for _, u := range m.Usage {
			if u.TotalTokens != 15 || u.CompletionTokens != 5 {
				t.Fatalf("unexpected usage %+v", u)
			}
		}
	}
	if ttfb != 1 || usage != 1 {
		t.Fatalf("expected one ttfb and one usage metric, got %d/%d", ttfb, usage)
	}
}

func TestService_UsageNeedsUsageMetrics(t *testing.T) {
	_, fs, h, _ := startService(t, pipeline.Params{})
	fs.events <- &ServerEvent{Audio: make([]byte, 480)}
	fs.events <- &ServerEvent{TurnComplete: true, Usage: &Usage{TotalTokens: 3}}
	pipelinetest.Wait[*frames.LLMFullResponseEndFrame](t, h, pipeline.Downstream)
	h.Queue(&frames.BotStoppedSpeakingFrame{})
	h.WaitFor(t, pipeline.Downstream, func(frames.Frame) bool {
		return len(pipelinetest.Filter[*frames.BotStoppedSpeakingFrame](h.Frames(pipeline.Downstream))) == 2
	})
	if n := len(pipelinetest.Filter[*frames.MetricsFrame](h.Frames(pipeline.Downstream))); n != 0 {
		t.Fatalf("expected no metrics frames, got %d", n)
	}
}

func TestService_InterruptedEndsResponse(t *testing.T) {
	_, fs, h, _ := startService(t, pipeline.Params{})
	fs.events <- &ServerEvent{Audio: make([]byte, 480)}
	fs.events <- &ServerEvent{Interrupted: true}
	fs.events <- &ServerEvent{TurnComplete: true}
	pipelinetest.Wait[*frames.LLMFullResponseEndFrame](t, h, pipeline.Downstream)
	h.Queue(&frames.BotStoppedSpeakingFrame{})
	h.WaitFor(t, pipeline.Downstream, func(frames.Frame) bool {
		return len(pipelinetest.Filter[*frames.BotStoppedSpeakingFrame](h.Frames(pipeline.Downstream))) == 2
	})
	if n := len(pipelinetest.Filter[*frames.LLMFullResponseEndFrame](h.Frames(pipeline.Downstream))); n != 1 {
		t.Fatalf("expected a single response end, got %d", n)
	}
}

func TestService_DialFailureIsFatal(t *testing.T) {
	svc := NewService(Config{APIKey: "k"}, WithDialer(func(context.Context, Config) (LiveSession, error) {
		return nil, errors.New("handshake refused")
	}))
	h := pipelinetest.Run(t, pipeline.Params{}, svc)
	ef := pipelinetest.Wait[*frames.ErrorFrame](t, h, pipeline.Upstream)
	if !ef.Fatal || ef.Processor != "gemini-live" {
		t.Fatalf("expected fatal error from gemini-live, got %+v", ef)
	}
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("task did not stop after fatal error")
	}
	if h.Task.State() != pipeline.TaskCancelled {
		t.Fatalf("expected cancelled task, got %s", h.Task.State())
	}
}

func TestService_CancelClosesSession(t *testing.T) {
	_, fs, h, _ := startService(t, pipeline.Params{})
	h.Task.Cancel()
	<-h.Done()
	if !fs.snapshot().closed {
		t.Fatalf("expected the session to be closed")
	}
	if n := len(pipelinetest.Filter[*frames.ErrorFrame](h.Frames(pipeline.Upstream))); n != 0 {
		t.Fatalf("closing should not report an error, got %d", n)
	}
}

func TestSampleRateFromMIME(t *testing.T) {
	cases := map[string]int{
		"audio/pcm;rate=24000":  24000,
		"audio/pcm; rate=16000": 16000,
		"audio/pcm":             OutputSampleRate,
	}
	for in, want := range cases {
		if got := sampleRateFromMIME(in); got != want {
			t.Fatalf("%q: expected %d, got %d", in, want, got)
		}
	}
}
