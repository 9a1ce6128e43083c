// Package messages implements the command and notification operations:
// insert, update, get, list, long-poll and subscribe.
package messages

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/dispatch"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

// EquipmentNotification is the name of the notification updating the
// equipment state of a device.
const EquipmentNotification = "equipment"

// DefaultPollLimit is the maximum number of backlog records returned by a
// poll without limit.
const DefaultPollLimit = 100

// Service implements the command and notification operations.
type Service struct {
	dir    *directory.Service
	engine *dispatch.Engine

	defaultWaitTimeout time.Duration
	maxWaitTimeout     time.Duration
}

// NewService creates a new Service and registers it as the device-change
// notifier of the directory.
func NewService(dir *directory.Service, engine *dispatch.Engine, defaultWaitTimeout, maxWaitTimeout time.Duration) *Service {
	s := &Service{
		dir:                dir,
		engine:             engine,
		defaultWaitTimeout: defaultWaitTimeout,
		maxWaitTimeout:     maxWaitTimeout,
	}
	dir.SetNotifier(s)
	return s
}

// WaitTimeout returns the effective wait timeout for the requested one.
// Nil selects the default, values above the maximum are capped.
func (s *Service) WaitTimeout(requested *time.Duration) time.Duration {
	if requested == nil {
		return s.defaultWaitTimeout
	}
	t := *requested
	if t < 0 {
		return 0
	}
	if t > s.maxWaitTimeout {
		return s.maxWaitTimeout
	}
	return t
}

// Query holds the scope and filters of a list, poll or subscribe
// request. At most one of DeviceGUIDs, NetworkIDs and DeviceTypeIDs
// should be set.
type Query struct {
	DeviceGUIDs   []string
	NetworkIDs    []int64
	DeviceTypeIDs []int64
	Names         []string
	Status        string

	Start *time.Time
	End   *time.Time

	// Timestamp selects the backlog of a poll or subscribe.
	Timestamp *time.Time
	// WaitTimeout of a poll, nil selects the default.
	WaitTimeout *time.Duration

	storage.ListOptions
}

// checkScope validates the scope of the query for the given action.
func (s *Service) checkScope(ctx context.Context, p *permission.Principal, action permission.Action, q Query) error {
	if !permission.CanAny(p, action) {
		return apierr.Forbidden()
	}
	for _, guid := range q.DeviceGUIDs {
		if _, err := s.dir.GetVisibleDevice(ctx, p, action, guid); err != nil {
			return err
		}
	}
	if len(q.NetworkIDs) != 0 {
		if err := s.dir.CheckNetworks(ctx, p, action, q.NetworkIDs); err != nil {
			return err
		}
	}
	if len(q.DeviceTypeIDs) != 0 {
		if err := s.dir.CheckDeviceTypes(ctx, p, action, q.DeviceTypeIDs); err != nil {
			return err
		}
	}
	return nil
}

func (q Query) filter(kind subscription.Kind) subscription.Filter {
	return subscription.Filter{
		Kind:          kind,
		DeviceGUIDs:   q.DeviceGUIDs,
		NetworkIDs:    q.NetworkIDs,
		DeviceTypeIDs: q.DeviceTypeIDs,
		Names:         q.Names,
	}
}

func (q Query) storageFilters(p *permission.Principal, action permission.Action) storage.MessageFilters {
	f := storage.MessageFilters{
		DeviceGUIDs:   q.DeviceGUIDs,
		NetworkIDs:    q.NetworkIDs,
		DeviceTypeIDs: q.DeviceTypeIDs,
		Names:         q.Names,
		Status:        q.Status,
		Start:         q.Start,
		End:           q.End,
		Visible:       directory.Visibility(p, action),
		ListOptions:   q.ListOptions,
	}
	if len(f.DeviceGUIDs) == 0 {
		f.DeviceGUIDs = nil
	}
	if len(f.NetworkIDs) == 0 {
		f.NetworkIDs = nil
	}
	if len(f.DeviceTypeIDs) == 0 {
		f.DeviceTypeIDs = nil
	}
	return f
}

func newEvent(kind subscription.Kind, id int64, guid, name string, ts time.Time, networkID, deviceTypeID *int64, v interface{}) (subscription.Event, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return subscription.Event{}, errors.Wrap(err, "marshal event payload error")
	}
	return subscription.Event{
		Kind:         kind,
		ID:           id,
		DeviceGUID:   guid,
		NetworkID:    networkID,
		DeviceTypeID: deviceTypeID,
		Name:         name,
		Timestamp:    ts,
		Payload:      b,
	}, nil
}

// CommandEvent returns the event of a command or command update.
func CommandEvent(kind subscription.Kind, c storage.DeviceCommand) (subscription.Event, error) {
	return newEvent(kind, c.ID, c.DeviceGUID, c.Command, c.Timestamp, c.NetworkID, c.DeviceTypeID, c)
}

// NotificationEvent returns the event of a notification.
func NotificationEvent(n storage.DeviceNotification) (subscription.Event, error) {
	return newEvent(subscription.KindNotification, n.ID, n.DeviceGUID, n.Notification, n.Timestamp, n.NetworkID, n.DeviceTypeID, n)
}

// DecodeCommand returns the command carried by the event.
func DecodeCommand(e subscription.Event) (storage.DeviceCommand, error) {
	var c storage.DeviceCommand
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return c, errors.Wrap(err, "unmarshal command error")
	}
	return c, nil
}

// DecodeNotification returns the notification carried by the event.
func DecodeNotification(e subscription.Event) (storage.DeviceNotification, error) {
	var n storage.DeviceNotification
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		return n, errors.Wrap(err, "unmarshal notification error")
	}
	return n, nil
}

// merge appends the events not already part of the backlog and sorts the
// result by id.
func merge(backlog []subscription.Event, live []subscription.Event) []subscription.Event {
	seen := make(map[int64]struct{}, len(backlog))
	for _, e := range backlog {
		seen[e.ID] = struct{}{}
	}
	out := backlog
	for _, e := range live {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe registers a push subscription for the owner. When the query
// has a timestamp the backlog since that timestamp is delivered first,
// followed by the live events received in the meantime.
func (s *Service) Subscribe(ctx context.Context, p *permission.Principal, owner subscription.Owner, kind subscription.Kind, q Query) (*subscription.Subscription, error) {
	action := permission.GetDeviceCommand
	if kind == subscription.KindNotification {
		action = permission.GetDeviceNotification
	}
	if err := s.checkScope(ctx, p, action, q); err != nil {
		return nil, err
	}

	held := q.Timestamp != nil && kind != subscription.KindCommandUpdate
	sub := s.engine.Registry().Add(owner, q.filter(kind), held)
	if !held {
		return sub, nil
	}

	backlog, err := s.backlog(ctx, p, kind, q)
	if err != nil {
		s.engine.Registry().Remove(owner.OwnerID(), sub.ID)
		return nil, err
	}
	sub.Release(backlog)
	subscribeBacklog(kind, len(backlog))
	return sub, nil
}

// Unsubscribe removes the subscription of the owner. When kinds is not
// empty, subscriptions of other kinds are left in place. Removing an
// unknown subscription is not an error.
func (s *Service) Unsubscribe(ownerID string, id int64, kinds ...subscription.Kind) {
	s.engine.Registry().Remove(ownerID, id, kinds...)
}

func (s *Service) backlog(ctx context.Context, p *permission.Principal, kind subscription.Kind, q Query) ([]subscription.Event, error) {
	out := []subscription.Event{}
	if q.Timestamp == nil {
		return out, nil
	}

	take := q.Take
	if take <= 0 {
		take = DefaultPollLimit
	}

	switch kind {
	case subscription.KindCommand:
		f := q.storageFilters(p, permission.GetDeviceCommand)
		f.After = q.Timestamp
		f.ListOptions = storage.ListOptions{SortField: "id", Take: take}
		commands, err := storage.GetDeviceCommands(ctx, storage.DB(), f)
		if err != nil {
			return nil, errors.Wrap(err, "get commands error")
		}
		for _, c := range commands {
			e, err := CommandEvent(kind, c)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	case subscription.KindNotification:
		f := q.storageFilters(p, permission.GetDeviceNotification)
		f.After = q.Timestamp
		f.ListOptions = storage.ListOptions{SortField: "id", Take: take}
		notifications, err := storage.GetDeviceNotifications(ctx, storage.DB(), f)
		if err != nil {
			return nil, errors.Wrap(err, "get notifications error")
		}
		for _, n := range notifications {
			e, err := NotificationEvent(n)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// poll registers a waiter, reads the backlog and waits for live events
// when the backlog is empty.
func (s *Service) poll(ctx context.Context, p *permission.Principal, kind subscription.Kind, q Query) ([]subscription.Event, error) {
	w := s.engine.NewWaiter(p, q.filter(kind))
	defer w.Close()

	backlog, err := s.backlog(ctx, p, kind, q)
	if err != nil {
		return nil, err
	}
	if len(backlog) != 0 {
		pollCompleted(kind, "backlog")
		return merge(backlog, w.Pending()), nil
	}

	events := w.Wait(ctx, s.WaitTimeout(q.WaitTimeout))
	if len(events) == 0 {
		pollCompleted(kind, "timeout")
	} else {
		pollCompleted(kind, "event")
	}
	return events, nil
}
