// Package pipelinetest runs processors inside a real task for tests and
// records what reaches either end of the pipeline.
package pipelinetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ChaoticNebula5/Janmitra/internal/frames"
	"github.com/ChaoticNebula5/Janmitra/internal/pipeline"
)

// WaitTimeout bounds every Wait call.
var WaitTimeout = 2 * time.Second

type Harness struct {
	Task *pipeline.Task

	mu      sync.Mutex
	down    []frames.Frame
	up      []frames.Frame
	pushes  []pipeline.FramePushed
	changed chan struct{}
	done    chan struct{}
	err     error
}

// Run starts a task over procs. The task is cancelled when the test ends.
func Run(t testing.TB, params pipeline.Params, procs ...pipeline.Processor) *Harness {
	t.Helper()
	return RunObserved(t, params, nil, procs...)
}

// RunObserved is Run with extra task observers.
func RunObserved(t testing.TB, params pipeline.Params, observers []pipeline.Observer, procs ...pipeline.Processor) *Harness {
	t.Helper()
	h := &Harness{changed: make(chan struct{}, 1), done: make(chan struct{})}
	h.Task = pipeline.NewTask(pipeline.New(procs...), params, append([]pipeline.Observer{h}, observers...)...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		h.err = h.Task.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		h.Task.Cancel()
		select {
		case <-h.done:
		case <-time.After(3 * time.Second):
			t.Errorf("task did not stop")
		}
		cancel()
	})
	return h
}

func (h *Harness) OnPushFrame(p pipeline.FramePushed) {
	h.mu.Lock()
	h.pushes = append(h.pushes, p)
	switch p.Destination.Name() {
	case pipeline.SinkName:
		h.down = append(h.down, p.Frame)
	case pipeline.SourceName:
		h.up = append(h.up, p.Frame)
	}
	h.mu.Unlock()
	select {
	case h.changed <- struct{}{}:
	default:
	}
}

// Queue sends frames in from the top of the pipeline.
func (h *Harness) Queue(fs ...frames.Frame) { h.Task.QueueFrames(fs...) }

// Done is closed when Task.Run returns.
func (h *Harness) Done() <-chan struct{} { return h.done }

// Err is the result of Task.Run. It is only valid after Done is closed.
func (h *Harness) Err() error { return h.err }

// Frames returns what has reached the sink (Downstream) or the source (Upstream).
func (h *Harness) Frames(dir pipeline.Direction) []frames.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	if dir == pipeline.Upstream {
		return append([]frames.Frame(nil), h.up...)
	}
	return append([]frames.Frame(nil), h.down...)
}

// Pushes returns every recorded hop.
func (h *Harness) Pushes() []pipeline.FramePushed {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]pipeline.FramePushed(nil), h.pushes...)
}

// WaitFor blocks until a frame matching fn reaches the end for dir.
func (h *Harness) WaitFor(t testing.TB, dir pipeline.Direction, fn func(frames.Frame) bool) frames.Frame {
	t.Helper()
	deadline := time.NewTimer(WaitTimeout)
	defer deadline.Stop()
	for {
		for _, f := range h.Frames(dir) {
			if fn(f) {
				return f
			}
		}
		select {
		case <-h.changed:
		case <-time.After(10 * time.Millisecond):
		case <-deadline.C:
			t.Fatalf("timed out waiting for %s frame", dir)
			return nil
		}
	}
}

// Wait blocks until a frame of type T reaches the end for dir.
func Wait[T frames.Frame](t testing.TB, h *Harness, dir pipeline.Direction) T {
	t.Helper()
	f := h.WaitFor(t, dir, func(f frames.Frame) bool {
		_, ok := f.(T)
		return ok
	})
	v, _ := f.(T)
	return v
}

// Filter returns the frames of type T in fs.
func Filter[T frames.Frame](fs []frames.Frame) []T {
	var out []T
	for _, f := range fs {
		if v, ok := f.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
