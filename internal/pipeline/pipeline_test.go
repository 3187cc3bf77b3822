package pipeline_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline/pipelinetest"
)

type recorder struct {
	*pipeline.BaseProcessor
	mu   sync.Mutex
	seen []frames.Frame
	// hook returns true when it consumed the frame
	hook func(ctx context.Context, r *recorder, f frames.Frame, dir pipeline.Direction) bool
}

func newRecorder(name string) *recorder {
	return &recorder{BaseProcessor: pipeline.NewBaseProcessor(name)}
}

func (r *recorder) ProcessFrame(ctx context.Context, f frames.Frame, dir pipeline.Direction) error {
	r.mu.Lock()
	r.seen = append(r.seen, f)
	r.mu.Unlock()
	if r.hook != nil && r.hook(ctx, r, f, dir) {
		return nil
	}
	return r.PushFrame(ctx, f, dir)
}

func (r *recorder) frames() []frames.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]frames.Frame(nil), r.seen...)
}

func TestPipeline_Names(t *testing.T) {
	p := pipeline.New(newRecorder("a"), newRecorder("b"), newRecorder("c"))
	want := []string{"a", "b", "c"}
	if got := p.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestTask_StartFrameFirstThenQueued(t *testing.T) {
	a, b := newRecorder("a"), newRecorder("b")
	p := pipeline.New(a, b)
	task := pipeline.NewTask(p, pipeline.Params{EnableMetrics: true})
	// queued before Run
	task.QueueFrames(&frames.LLMRunFrame{}, &frames.EndFrame{})

	done := make(chan error, 1)
	go func() { done <- task.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not complete")
	}
	if task.State() != pipeline.TaskCompleted {
		t.Fatalf("expected completed, got %s", task.State())
	}
	seen := b.frames()
	if len(seen) != 3 {
		t.Fatalf("expected 3 frames at b, got %d", len(seen))
	}
	start, ok := seen[0].(*frames.StartFrame)
	if !ok {
		t.Fatalf("expected StartFrame first, got %s", frames.Name(seen[0]))
	}
	if !start.EnableMetrics || start.AudioInSampleRate != 16000 {
		t.Fatalf("unexpected start params: %+v", start)
	}
	if _, ok := seen[1].(*frames.LLMRunFrame); !ok {
		t.Fatalf("expected LLMRunFrame second, got %s", frames.Name(seen[1]))
	}
}

func TestTask_CancelIsIdempotent(t *testing.T) {
	h := pipelinetest.Run(t, pipeline.Params{}, newRecorder("a"))
	pipelinetest.Wait[*frames.StartFrame](t, h, pipeline.Downstream)

	h.Task.Cancel()
	h.Task.Cancel()

	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("task did not stop after cancel")
	}
	if h.Task.State() != pipeline.TaskCancelled {
		t.Fatalf("expected cancelled, got %s", h.Task.State())
	}
	h.Task.Cancel()
	if n := len(pipelinetest.Filter[*frames.CancelFrame](h.Frames(pipeline.Downstream))); n != 1 {
		t.Fatalf("expected exactly one CancelFrame, got %d", n)
	}
}

func TestTask_CancelBeforeRun(t *testing.T) {
	task := pipeline.NewTask(pipeline.New(newRecorder("a")), pipeline.Params{})
	task.Cancel()
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("expected nil error on cancelled task, got %v", err)
	}
}

func TestTask_RunTwice(t *testing.T) {
	task := pipeline.NewTask(pipeline.New(newRecorder("a")), pipeline.Params{})
	task.QueueFrames(&frames.EndFrame{})
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := task.Run(context.Background()); !errors.Is(err, pipeline.ErrTaskAlreadyRun) {
		t.Fatalf("expected ErrTaskAlreadyRun, got %v", err)
	}
}

func TestTask_FatalErrorCancels(t *testing.T) {
	a := newRecorder("a")
	a.hook = func(ctx context.Context, r *recorder, f frames.Frame, dir pipeline.Direction) bool {
		if _, ok := f.(*frames.LLMRunFrame); ok {
			r.PushError(ctx, errors.New("boom"), true)
			return true
		}
		return false
	}
	h := pipelinetest.Run(t, pipeline.Params{}, a)
	h.Queue(&frames.LLMRunFrame{})

	errFrame := pipelinetest.Wait[*frames.ErrorFrame](t, h, pipeline.Upstream)
	if errFrame.Processor != "a" || !errFrame.Fatal {
		t.Fatalf("unexpected error frame: %+v", errFrame)
	}
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("fatal error did not stop the task")
	}
	if h.Task.State() != pipeline.TaskCancelled {
		t.Fatalf("expected cancelled, got %s", h.Task.State())
	}
}

func TestTask_EndTaskFrameCompletes(t *testing.T) {
	a := newRecorder("a")
	a.hook = func(ctx context.Context, r *recorder, f frames.Frame, dir pipeline.Direction) bool {
		if _, ok := f.(*frames.LLMRunFrame); ok {
			_ = r.PushFrame(ctx, &frames.EndTaskFrame{}, pipeline.Upstream)
			return true
		}
		return false
	}
	h := pipelinetest.Run(t, pipeline.Params{}, a)
	h.Queue(&frames.LLMRunFrame{})
	pipelinetest.Wait[*frames.EndFrame](t, h, pipeline.Downstream)
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("task did not complete")
	}
	if h.Task.State() != pipeline.TaskCompleted {
		t.Fatalf("expected completed, got %s", h.Task.State())
	}
}

func TestObserver_SeesHops(t *testing.T) {
	a, b := newRecorder("a"), newRecorder("b")
	h := pipelinetest.Run(t, pipeline.Params{}, a, b)
	run := &frames.LLMRunFrame{}
	h.Queue(run)
	pipelinetest.Wait[*frames.LLMRunFrame](t, h, pipeline.Downstream)

	var hops []string
	for _, p := range h.Pushes() {
		if p.Frame == frames.Frame(run) {
			hops = append(hops, p.Source.Name()+">"+p.Destination.Name())
		}
	}
	want := []string{pipeline.SourceName + ">a", "a>b", "b>" + pipeline.SinkName}
	if !reflect.DeepEqual(hops, want) {
		t.Fatalf("expected hops %v, got %v", want, hops)
	}
	if run.ID() == 0 {
		t.Fatalf("expected frame to be stamped")
	}
}

func TestEvents(t *testing.T) {
	var ev pipeline.Events
	ev.RegisterEvent("on_ready")

	if err := ev.RegisterEventHandler("on_missing", func(context.Context, pipeline.Event) {}); !errors.Is(err, pipeline.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second"} {
		name := name
		if err := ev.RegisterEventHandler("on_ready", func(_ context.Context, e pipeline.Event) {
			mu.Lock()
			order = append(order, name+":"+e.Data.(string))
			mu.Unlock()
		}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	ev.CallEventHandler(context.Background(), "on_ready", nil, "x")
	ev.WaitHandlers()

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(order, []string{"first:x", "second:x"}) {
		t.Fatalf("unexpected handler order: %v", order)
	}
}

func TestTask_ParentCancelDeliversCancelFrame(t *testing.T) {
	a := newRecorder("a")
	task := pipeline.NewTask(pipeline.New(a), pipeline.Params{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(a.frames()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("StartFrame never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("task did not stop promptly after ctx cancel")
	}
	if task.State() != pipeline.TaskCancelled {
		t.Fatalf("expected cancelled, got %s", task.State())
	}
	if n := len(pipelinetest.Filter[*frames.CancelFrame](a.frames())); n != 1 {
		t.Fatalf("expected the stage to see one CancelFrame, got %d", n)
	}
}

func TestEvents_LatchedReplay(t *testing.T) {
	var ev pipeline.Events
	ev.LatchEvent("on_gone")
	ev.RegisterEvent("on_tick")

	// fired before anyone listens
	ev.CallEventHandler(context.Background(), "on_gone", nil, "peer")
	ev.CallEventHandler(context.Background(), "on_tick", nil, "t")

	var mu sync.Mutex
	var got []string
	record := func(_ context.Context, e pipeline.Event) {
		mu.Lock()
		got = append(got, e.Name+":"+e.Data.(string))
		mu.Unlock()
	}
	if err := ev.RegisterEventHandler("on_gone", record); err != nil {
		t.Fatal(err)
	}
	if err := ev.RegisterEventHandler("on_tick", record); err != nil {
		t.Fatal(err)
	}
	ev.WaitHandlers()

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(got, []string{"on_gone:peer"}) {
		t.Fatalf("expected only the latched event replayed, got %v", got)
	}
}
