package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

const waiterBufferSize = 128

// Waiter is a transient subscription serving a long-poll request.
type Waiter struct {
	id        string
	principal *permission.Principal
	events    chan subscription.Event
	sub       *subscription.Subscription
	registry  *subscription.Registry
	closeOnce sync.Once
}

// NewWaiter registers a waiter with the given filter. It must be created
// before the backlog is queried so that no event is missed, and closed
// when the request completes.
func (e *Engine) NewWaiter(p *permission.Principal, f subscription.Filter) *Waiter {
	w := &Waiter{
		id:        "waiter:" + uuid.Must(uuid.NewV4()).String(),
		principal: p,
		events:    make(chan subscription.Event, waiterBufferSize),
		registry:  e.registry,
	}
	w.sub = e.registry.Add(w, f, false)
	waiterGauge.Inc()
	return w
}

// OwnerID implements subscription.Owner.
func (w *Waiter) OwnerID() string {
	return w.id
}

// Principal implements subscription.Owner.
func (w *Waiter) Principal() *permission.Principal {
	return w.principal
}

// Deliver implements subscription.Owner.
func (w *Waiter) Deliver(s *subscription.Subscription, e subscription.Event) {
	select {
	case w.events <- e:
	default:
		waiterOverflowCounter.Inc()
	}
}

// Wait blocks until at least one event arrives, the timeout expires or
// the context is cancelled. It returns the events received so far, which
// is empty on timeout.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) []subscription.Event {
	out := []subscription.Event{}
	if timeout <= 0 {
		return w.drain(out)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-w.events:
		out = append(out, e)
		return w.drain(out)
	case <-timer.C:
	case <-ctx.Done():
	}
	return out
}

// Pending returns the events received so far without blocking.
func (w *Waiter) Pending() []subscription.Event {
	return w.drain([]subscription.Event{})
}

func (w *Waiter) drain(out []subscription.Event) []subscription.Event {
	for {
		select {
		case e := <-w.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Close removes the waiter from the registry.
func (w *Waiter) Close() {
	w.closeOnce.Do(func() {
		w.registry.Remove(w.id, w.sub.ID)
		waiterGauge.Dec()
	})
}
