// Package pipeline runs chains of frame processors. A Pipeline fixes the
// stage order, a Task runs one pipeline instance and a Runner drives tasks.
package pipeline

import (
	"time"

	"github.com/ChaoticNebula5/Janmitra/internal/frames"
)

// Pipeline is an immutable, ordered list of stages.
type Pipeline struct {
	processors []Processor
}

// New links processors in the given order.
func New(processors ...Processor) *Pipeline {
	ps := make([]Processor, len(processors))
	copy(ps, processors)
	for i := 0; i+1 < len(ps); i++ {
		link(ps[i], ps[i+1])
	}
	return &Pipeline{processors: ps}
}

// Processors returns a copy of the stage list.
func (p *Pipeline) Processors() []Processor {
	out := make([]Processor, len(p.processors))
	copy(out, p.processors)
	return out
}

// Names returns the stage names in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.processors))
	for i, proc := range p.processors {
		names[i] = proc.Name()
	}
	return names
}

// FramePushed describes one hop of a frame between two processors.
type FramePushed struct {
	Source      Processor
	Destination Processor
	Frame       frames.Frame
	Direction   Direction
	Timestamp   time.Time
}

// Observer sees every frame hop inside a task. OnPushFrame runs on the
// pushing goroutine and must not block.
type Observer interface {
	OnPushFrame(FramePushed)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(FramePushed)

func (f ObserverFunc) OnPushFrame(p FramePushed) { f(p) }
