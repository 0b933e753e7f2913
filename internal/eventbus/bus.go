package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"ironcondor/internal/observability"
)

// Handler processes one event. An error (or panic) from a handler is
// logged and swallowed — it must never block later handlers in the same
// dispatch or poison the publishing goroutine.
type Handler func(event any) error

// Known priorities for the tick-processing chain (spec.md §4.1). Lower
// runs earlier; a later subscriber observes state written by an earlier
// one within the same dispatch.
const (
	PriorityTickCache   = 10
	PriorityIndicator   = 20
	PriorityPosition    = 30
	PriorityStrategy    = 40
	PriorityDefault     = 100
)

type subscription struct {
	priority int
	handler  Handler
}

// Bus is a process-local, typed publish/subscribe registry. Subscribers
// for an event type run in ascending priority order, synchronously on the
// publishing goroutine. Safe for concurrent Subscribe/Publish.
type Bus struct {
	mu   sync.RWMutex
	subs map[reflect.Type][]subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[reflect.Type][]subscription)}
}

// Subscribe registers handler for events of the same concrete type as
// sample, at the given priority (lower runs earlier). sample is used only
// to derive the event's reflect.Type; its value is never used.
func (b *Bus) Subscribe(sample any, priority int, handler Handler) {
	t := reflect.TypeOf(sample)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], subscription{priority: priority, handler: handler})
	sort.SliceStable(b.subs[t], func(i, j int) bool {
		return b.subs[t][i].priority < b.subs[t][j].priority
	})
}

// Publish dispatches event to every subscriber registered for its
// concrete type, in priority order. A handler's error or panic is logged
// and does not prevent subsequent handlers from running.
func (b *Bus) Publish(event any) {
	t := reflect.TypeOf(event)
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[t]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.runOne(t, s, event)
	}
}

func (b *Bus) runOne(t reflect.Type, s subscription, event any) {
	defer func() {
		if r := recover(); r != nil {
			observability.LogEvent(context.Background(), "error", "eventbus_handler_panic", map[string]any{
				"event_type": t.String(),
				"panic":      fmt.Sprintf("%v", r),
			})
		}
	}()
	if err := s.handler(event); err != nil {
		observability.LogEvent(context.Background(), "error", "eventbus_handler_error", map[string]any{
			"event_type": t.String(),
			"error":      err.Error(),
		})
	}
}
