// Package dispatch fans stored events out to the matching subscriptions,
// long-poll waiters and other cluster nodes.
package dispatch

import (
	"context"
	"hash/fnv"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/logging"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

const lockStripes = 256

// Bus publishes events to the other nodes of the cluster.
type Bus interface {
	Publish(ctx context.Context, e subscription.Event) error
	PublishUserRefresh(ctx context.Context, userID int64) error
}

// UserRefresher re-resolves the principals it holds for a user, after the
// role, status or assignments of the user changed.
type UserRefresher interface {
	RefreshUser(ctx context.Context, userID int64)
}

// Engine dispatches events to the subscriptions of a registry.
type Engine struct {
	registry *subscription.Registry
	locks    [lockStripes]sync.Mutex

	busMu sync.RWMutex
	bus   Bus

	refreshersMu sync.RWMutex
	refreshers   []UserRefresher
}

// NewEngine creates a new Engine for the given registry.
func NewEngine(r *subscription.Registry) *Engine {
	e := &Engine{
		registry: r,
	}
	registerRegistry(r)
	return e
}

// Registry returns the subscription registry.
func (e *Engine) Registry() *subscription.Registry {
	return e.registry
}

// SetBus sets the cluster bus. A nil bus disables cluster fan-out.
func (e *Engine) SetBus(b Bus) {
	e.busMu.Lock()
	e.bus = b
	e.busMu.Unlock()
}

// AddUserRefresher adds a refresher called by RefreshUser.
func (e *Engine) AddUserRefresher(r UserRefresher) {
	e.refreshersMu.Lock()
	e.refreshers = append(e.refreshers, r)
	e.refreshersMu.Unlock()
}

// RefreshUser re-resolves the principals of the user on this node, then
// asks the other nodes to do the same.
func (e *Engine) RefreshUser(ctx context.Context, userID int64) {
	e.refreshUser(ctx, userID)

	e.busMu.RLock()
	bus := e.bus
	e.busMu.RUnlock()
	if bus == nil {
		return
	}

	if err := bus.PublishUserRefresh(ctx, userID); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id": userID,
			"ctx_id":  ctx.Value(logging.ContextIDKey),
		}).Error("dispatch: publish user refresh to cluster error")
	}
}

// RefreshUserRemote handles a user refresh received from another node.
func (e *Engine) RefreshUserRemote(userID int64) {
	e.refreshUser(logging.NewContext(context.Background()), userID)
}

func (e *Engine) refreshUser(ctx context.Context, userID int64) {
	e.refreshersMu.RLock()
	refreshers := append([]UserRefresher(nil), e.refreshers...)
	e.refreshersMu.RUnlock()

	for _, r := range refreshers {
		r.RefreshUser(ctx, userID)
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Debug("dispatch: user principals refreshed")
}

// LockDevice acquires the lock of the stripe the device belongs to and
// returns the unlock function. Inserts and their dispatch for one device
// must happen under this lock.
func (e *Engine) LockDevice(guid string) func() {
	h := fnv.New32a()
	h.Write([]byte(guid))
	l := &e.locks[h.Sum32()%lockStripes]
	l.Lock()
	return l.Unlock
}

// Publish dispatches the event to the local subscriptions, then publishes
// it on the cluster bus.
func (e *Engine) Publish(ctx context.Context, ev subscription.Event) {
	n := e.dispatch(ev)

	log.WithFields(log.Fields{
		"kind":        ev.Kind,
		"id":          ev.ID,
		"device_guid": ev.DeviceGUID,
		"deliveries":  n,
		"ctx_id":      ctx.Value(logging.ContextIDKey),
	}).Debug("dispatch: event dispatched")

	e.busMu.RLock()
	bus := e.bus
	e.busMu.RUnlock()
	if bus == nil {
		return
	}

	if err := bus.Publish(ctx, ev); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"kind":   ev.Kind,
			"id":     ev.ID,
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).Error("dispatch: publish event to cluster error")
	}
}

// DispatchRemote dispatches an event received from another node to the
// local subscriptions only.
func (e *Engine) DispatchRemote(ev subscription.Event) {
	ev.Remote = true
	unlock := e.LockDevice(ev.DeviceGUID)
	defer unlock()
	e.dispatch(ev)
}

func (e *Engine) dispatch(ev subscription.Event) int {
	var n int
	for _, s := range e.registry.Match(ev) {
		if s.Deliver(ev) {
			n++
		}
	}
	eventDispatched(ev, n)
	return n
}
