package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ChaoticNebula5/Janmitra/internal/frames"
)

// Direction of travel of a frame through the pipeline.
type Direction int

const (
	Downstream Direction = iota
	Upstream
)

func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// Processor is one pipeline stage. Implementations embed *BaseProcessor and
// pass any frame they do not consume on with PushFrame.
type Processor interface {
	Name() string
	ProcessFrame(ctx context.Context, f frames.Frame, dir Direction) error
	base() *BaseProcessor
}

// BaseProcessor owns a stage's queue, links and observers. Each processor
// handles its frames on a single goroutine, in arrival order.
type BaseProcessor struct {
	name  string
	queue *frameQueue

	mu        sync.RWMutex
	self      Processor
	prev      Processor
	next      Processor
	observers []Observer
}

func NewBaseProcessor(name string) *BaseProcessor {
	return &BaseProcessor{name: name, queue: newFrameQueue()}
}

func (b *BaseProcessor) Name() string         { return b.name }
func (b *BaseProcessor) base() *BaseProcessor { return b }

// PushFrame sends f to the neighbouring stage in dir. Frames pushed past the
// ends of an unattached processor are dropped.
func (b *BaseProcessor) PushFrame(ctx context.Context, f frames.Frame, dir Direction) error {
	frames.Stamp(f)
	b.mu.RLock()
	src, dst, observers := b.self, b.next, b.observers
	if dir == Upstream {
		dst = b.prev
	}
	b.mu.RUnlock()
	if dst == nil {
		return nil
	}
	if len(observers) > 0 {
		ev := FramePushed{Source: src, Destination: dst, Frame: f, Direction: dir, Timestamp: time.Now()}
		for _, o := range observers {
			o.OnPushFrame(ev)
		}
	}
	dst.base().enqueue(f, dir)
	return nil
}

// PushError sends an ErrorFrame upstream towards the task.
func (b *BaseProcessor) PushError(ctx context.Context, err error, fatal bool) {
	_ = b.PushFrame(ctx, &frames.ErrorFrame{Err: err, Fatal: fatal, Processor: b.name}, Upstream)
}

func (b *BaseProcessor) enqueue(f frames.Frame, dir Direction) {
	frames.Stamp(f)
	if _, ok := f.(*frames.CancelFrame); ok {
		b.queue.pushFront(queued{frame: f, dir: dir})
		return
	}
	b.queue.push(queued{frame: f, dir: dir})
}

func (b *BaseProcessor) setObservers(obs []Observer) {
	b.mu.Lock()
	b.observers = obs
	b.mu.Unlock()
}

func (b *BaseProcessor) run(ctx context.Context) {
	b.mu.RLock()
	self := b.self
	b.mu.RUnlock()
	for {
		it, ok := b.queue.pop(ctx)
		if !ok {
			return
		}
		if err := self.ProcessFrame(ctx, it.frame, it.dir); err != nil && ctx.Err() == nil {
			b.PushError(ctx, err, false)
		}
	}
}

func link(prev, next Processor) {
	pb, nb := prev.base(), next.base()
	pb.mu.Lock()
	pb.self = prev
	pb.next = next
	pb.mu.Unlock()
	nb.mu.Lock()
	nb.self = next
	nb.prev = prev
	nb.mu.Unlock()
}

type queued struct {
	frame frames.Frame
	dir   Direction
}

// frameQueue is an unbounded FIFO so that pushing never blocks the sender.
type frameQueue struct {
	mu     sync.Mutex
	items  []queued
	signal chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{signal: make(chan struct{}, 1)}
}

func (q *frameQueue) push(it queued) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
	q.notify()
}

func (q *frameQueue) pushFront(it queued) {
	q.mu.Lock()
	q.items = append([]queued{it}, q.items...)
	q.mu.Unlock()
	q.notify()
}

func (q *frameQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *frameQueue) pop(ctx context.Context) (queued, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = queued{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return it, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return queued{}, false
		case <-q.signal:
		}
	}
}
