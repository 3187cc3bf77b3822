package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ChaoticNebula5/Janmitra/internal/log"
)

var ErrUnknownEvent = errors.New("pipeline: unknown event")

// Event is passed to handlers. Source is the emitting component.
type Event struct {
	Name   string
	Source any
	Data   any
}

type EventHandler func(ctx context.Context, ev Event)

// Events maps event names to handlers. Components declare the events they
// emit with RegisterEvent; handlers for undeclared names are rejected.
type Events struct {
	mu       sync.Mutex
	handlers map[string][]EventHandler
	latched  map[string]bool
	fired    map[string]Event
	running  sync.WaitGroup
}

// RegisterEvent declares event names this component emits.
func (e *Events) RegisterEvent(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[string][]EventHandler)
	}
	for _, n := range names {
		if _, ok := e.handlers[n]; !ok {
			e.handlers[n] = nil
		}
	}
}

// LatchEvent marks declared names as state changes: once called, the event
// is also delivered to handlers registered afterwards.
func (e *Events) LatchEvent(names ...string) {
	e.RegisterEvent(names...)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latched == nil {
		e.latched = make(map[string]bool)
	}
	for _, n := range names {
		e.latched[n] = true
	}
}

// RegisterEventHandler adds h for name. A latched event that already
// happened is replayed to h with a background context.
func (e *Events) RegisterEventHandler(name string, h EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	hs, ok := e.handlers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	e.handlers[name] = append(hs, h)
	if ev, ok := e.fired[name]; ok {
		e.dispatch(context.Background(), ev, []EventHandler{h})
	}
	return nil
}

// CallEventHandler runs the handlers for name on a new goroutine, in
// registration order.
func (e *Events) CallEventHandler(ctx context.Context, name string, source, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hs, ok := e.handlers[name]
	if !ok {
		log.Warn("event not registered", "event", name)
		return
	}
	ev := Event{Name: name, Source: source, Data: data}
	if e.latched[name] {
		if e.fired == nil {
			e.fired = make(map[string]Event)
		}
		e.fired[name] = ev
	}
	if len(hs) == 0 {
		return
	}
	e.dispatch(ctx, ev, append([]EventHandler(nil), hs...))
}

// dispatch runs hs on a new goroutine. Callers hold e.mu, so a handler is
// either called with the event or replayed it, never both.
func (e *Events) dispatch(ctx context.Context, ev Event, hs []EventHandler) {
	e.running.Add(1)
	go func() {
		defer e.running.Done()
		for _, h := range hs {
			h(ctx, ev)
		}
	}()
}

// WaitHandlers blocks until every running handler has returned.
func (e *Events) WaitHandlers() {
	e.running.Wait()
}
