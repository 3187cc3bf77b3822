package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/log"
)

const (
	SourceName = "task-source"
	SinkName   = "task-sink"

	// cancelTimeout bounds how long Run waits for a CancelFrame to reach the sink.
	cancelTimeout = 2 * time.Second
)

var ErrTaskAlreadyRun = errors.New("pipeline: task already run")

type TaskState int32

const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskCancelled
	TaskCompleted
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskCancelled:
		return "cancelled"
	case TaskCompleted:
		return "completed"
	default:
		return "created"
	}
}

// Params are the execution parameters of a task. They reach every processor
// through the StartFrame.
type Params struct {
	EnableMetrics      bool
	EnableUsageMetrics bool
	AudioInSampleRate  int
	AudioOutSampleRate int
}

// Task is one running instance of a pipeline.
type Task struct {
	pipeline  *Pipeline
	params    Params
	observers []Observer

	source  *taskSource
	sink    *taskSink
	pending *frameQueue

	state      atomic.Int32
	cancelOnce sync.Once
	cancelled  chan struct{}
	endOnce    sync.Once
	ended      chan struct{}
	sinkOnce   sync.Once
	sinkCancel chan struct{}
}

// NewTask wraps p between a source and a sink. Observers see every frame hop.
func NewTask(p *Pipeline, params Params, observers ...Observer) *Task {
	if params.AudioInSampleRate == 0 {
		params.AudioInSampleRate = 16000
	}
	if params.AudioOutSampleRate == 0 {
		params.AudioOutSampleRate = 24000
	}
	t := &Task{
		pipeline:   p,
		params:     params,
		observers:  append([]Observer(nil), observers...),
		pending:    newFrameQueue(),
		cancelled:  make(chan struct{}),
		ended:      make(chan struct{}),
		sinkCancel: make(chan struct{}),
	}
	t.source = &taskSource{BaseProcessor: NewBaseProcessor(SourceName), task: t}
	t.sink = &taskSink{BaseProcessor: NewBaseProcessor(SinkName), task: t}

	chain := append([]Processor{t.source}, p.Processors()...)
	chain = append(chain, t.sink)
	for i := 0; i+1 < len(chain); i++ {
		link(chain[i], chain[i+1])
	}
	for _, proc := range chain {
		proc.base().setObservers(t.observers)
	}
	return t
}

func (t *Task) Params() Params      { return t.params }
func (t *Task) Pipeline() *Pipeline { return t.pipeline }
func (t *Task) State() TaskState    { return TaskState(t.state.Load()) }

// HasFinished reports whether the task was cancelled or completed.
func (t *Task) HasFinished() bool {
	s := t.State()
	return s == TaskCancelled || s == TaskCompleted
}

// QueueFrames schedules frames to enter the pipeline from the top. Frames
// queued before Run are delivered after the StartFrame.
func (t *Task) QueueFrames(fs ...frames.Frame) {
	for _, f := range fs {
		t.pending.push(queued{frame: f, dir: Downstream})
	}
}

// Cancel stops the task. Only the first call has an effect; it sends a single
// CancelFrame through the pipeline.
func (t *Task) Cancel() {
	t.cancelOnce.Do(func() {
		for {
			s := t.State()
			if s == TaskCompleted {
				return
			}
			if t.state.CompareAndSwap(int32(s), int32(TaskCancelled)) {
				break
			}
		}
		t.source.enqueue(&frames.CancelFrame{}, Downstream)
		close(t.cancelled)
	})
}

// Run drives the task until an EndFrame reaches the sink, the task is
// cancelled or ctx is done. Cancellation is not an error.
func (t *Task) Run(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(TaskCreated), int32(TaskRunning)) {
		if t.State() == TaskCancelled {
			return nil
		}
		return ErrTaskAlreadyRun
	}

	ctx, span := tracer.Start(ctx, "pipeline.task", trace.WithAttributes(
		attribute.StringSlice("pipeline.stages", t.pipeline.Names()),
		attribute.Bool("pipeline.metrics", t.params.EnableMetrics),
	))
	defer span.End()

	// Stages outlive ctx until the CancelFrame has reached the sink.
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()

	chain := append([]Processor{t.source}, t.pipeline.Processors()...)
	chain = append(chain, t.sink)
	var wg sync.WaitGroup
	for _, proc := range chain {
		wg.Add(1)
		go func(b *BaseProcessor) {
			defer wg.Done()
			b.run(runCtx)
		}(proc.base())
	}

	t.source.enqueue(&frames.StartFrame{
		EnableMetrics:      t.params.EnableMetrics,
		EnableUsageMetrics: t.params.EnableUsageMetrics,
		AudioInSampleRate:  t.params.AudioInSampleRate,
		AudioOutSampleRate: t.params.AudioOutSampleRate,
	}, Downstream)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			it, ok := t.pending.pop(runCtx)
			if !ok {
				return
			}
			t.source.enqueue(it.frame, it.dir)
		}
	}()

	select {
	case <-t.ended:
		t.state.CompareAndSwap(int32(TaskRunning), int32(TaskCompleted))
	case <-t.cancelled:
		t.waitCancel(ctx)
	case <-ctx.Done():
		t.Cancel()
		t.waitCancel(context.Background())
	}

	span.SetAttributes(attribute.String("pipeline.state", t.State().String()))
	stop()
	wg.Wait()
	return nil
}

func (t *Task) waitCancel(ctx context.Context) {
	timer := time.NewTimer(cancelTimeout)
	defer timer.Stop()
	select {
	case <-t.sinkCancel:
	case <-timer.C:
		log.Warn("timed out waiting for CancelFrame to reach the end of the pipeline")
	case <-ctx.Done():
	}
}

type taskSource struct {
	*BaseProcessor
	task *Task
}

func (s *taskSource) ProcessFrame(ctx context.Context, f frames.Frame, dir Direction) error {
	if dir == Downstream {
		return s.PushFrame(ctx, f, dir)
	}
	switch fr := f.(type) {
	case *frames.ErrorFrame:
		log.Error("pipeline error", "processor", fr.Processor, "fatal", fr.Fatal, "error", fr.Err)
		if fr.Fatal {
			s.task.Cancel()
		}
	case *frames.EndTaskFrame:
		s.task.QueueFrames(&frames.EndFrame{})
	}
	return nil
}

type taskSink struct {
	*BaseProcessor
	task *Task
}

func (s *taskSink) ProcessFrame(_ context.Context, f frames.Frame, dir Direction) error {
	if dir != Downstream {
		return nil
	}
	switch f.(type) {
	case *frames.EndFrame:
		s.task.endOnce.Do(func() { close(s.task.ended) })
	case *frames.CancelFrame:
		s.task.sinkOnce.Do(func() { close(s.task.sinkCancel) })
	}
	return nil
}
