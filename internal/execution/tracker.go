package execution

import (
	"context"
	"errors"
	"sync"

	"ironcondor/internal/eventbus"
)

// ErrRejected is returned by Wait when a REJECTED order event arrives for
// an awaited group before the expected fill count is reached.
var ErrRejected = errors.New("execution: order rejected while awaiting fills")

// awaitState tracks one group's progress toward its expected fill count.
type awaitState struct {
	expected int
	count    int
	done     chan struct{}
	err      error
	closed   bool
}

// FillTracker subscribes to OrderEvent and lets callers await a group of
// fills by group id. Registration must happen before the orders that
// will fill are routed, so a FILLED event arriving between routing and
// the Wait call still counts toward the target — see
// Buy-first-then-sell's registration-before-routing requirement.
type FillTracker struct {
	mu     sync.Mutex
	groups map[string]*awaitState
}

// NewFillTracker creates a tracker and subscribes it to bus.
func NewFillTracker(bus *eventbus.Bus) *FillTracker {
	t := &FillTracker{groups: make(map[string]*awaitState)}
	bus.Subscribe(eventbus.OrderEvent{}, eventbus.PriorityDefault, func(event any) error {
		evt := event.(eventbus.OrderEvent)
		t.onOrderEvent(evt)
		return nil
	})
	return t
}

// AwaitFills registers a fill-await handle for groupID, expecting
// `expected` FILLED events. Must be called before the corresponding legs
// are routed.
func (t *FillTracker) AwaitFills(groupID string, expected int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups[groupID] = &awaitState{expected: expected, done: make(chan struct{})}
}

// CancelAwait removes a group's fill-await handle without resolving it,
// used when routing fails before any fill could possibly arrive.
func (t *FillTracker) CancelAwait(groupID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.groups, groupID)
}

// Wait blocks until groupID's expected fill count is reached, a REJECTED
// event arrives for the group, or ctx is done — whichever comes first.
func (t *FillTracker) Wait(ctx context.Context, groupID string) error {
	t.mu.Lock()
	state, ok := t.groups[groupID]
	t.mu.Unlock()
	if !ok {
		return errors.New("execution: no fill-await registered for group " + groupID)
	}

	select {
	case <-state.done:
		return state.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *FillTracker) onOrderEvent(evt eventbus.OrderEvent) {
	groupID := evt.Order.Request.CorrelationID
	t.mu.Lock()
	state, ok := t.groups[groupID]
	if !ok || state.closed {
		t.mu.Unlock()
		return
	}

	switch evt.Type {
	case eventbus.OrderFilled:
		state.count++
		if state.count >= state.expected {
			state.closed = true
			close(state.done)
		}
	case eventbus.OrderRejectedE:
		state.closed = true
		state.err = ErrRejected
		close(state.done)
	}
	t.mu.Unlock()
}
