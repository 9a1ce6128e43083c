// Package subscription implements the registry of live subscriptions to
// command and notification events.
package subscription

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/devicehive/devicehive-server/internal/permission"
)

// Kind defines the kind of event.
type Kind int

// Event kinds.
const (
	KindCommand Kind = iota
	KindCommandUpdate
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindCommandUpdate:
		return "command_update"
	case KindNotification:
		return "notification"
	}
	return "unknown"
}

// action returns the action an owner needs to receive events of kind k.
func (k Kind) action() permission.Action {
	if k == KindNotification {
		return permission.GetDeviceNotification
	}
	return permission.GetDeviceCommand
}

// Event is a stored command or notification, or a command update.
type Event struct {
	Kind         Kind            `json:"kind"`
	ID           int64           `json:"id"`
	DeviceGUID   string          `json:"deviceId"`
	NetworkID    *int64          `json:"networkId,omitempty"`
	DeviceTypeID *int64          `json:"deviceTypeId,omitempty"`
	Name         string          `json:"name"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`

	// Remote is set for events received from another node.
	Remote bool `json:"-"`
}

// Filter defines what a subscription matches. At most one of DeviceGUIDs,
// NetworkIDs and DeviceTypeIDs is set. When none is set the subscription
// is global.
type Filter struct {
	Kind          Kind
	DeviceGUIDs   []string
	NetworkIDs    []int64
	DeviceTypeIDs []int64
	Names         []string

	// CommandID narrows command updates to a single command.
	CommandID int64
}

// Global returns true when the filter has no scope.
func (f Filter) Global() bool {
	return len(f.DeviceGUIDs) == 0 && len(f.NetworkIDs) == 0 && len(f.DeviceTypeIDs) == 0
}

// Owner receives the events of its subscriptions.
type Owner interface {
	// OwnerID returns the unique id of the owner, e.g. the connection id.
	OwnerID() string

	// Principal returns the current principal of the owner.
	Principal() *permission.Principal

	// Deliver hands the event to the owner. It must not block.
	Deliver(s *Subscription, e Event)
}

// Subscription is a registered interest in events.
type Subscription struct {
	ID        int64
	Owner     Owner
	CreatedAt time.Time

	// filter is guarded by the registry lock
	filter Filter
	names  map[string]struct{}

	mu      sync.Mutex
	held    bool
	buffer  []Event
	removed bool
}

// Info is a snapshot of a subscription.
type Info struct {
	ID            int64     `json:"subscriptionId"`
	Type          string    `json:"type"`
	DeviceGUIDs   []string  `json:"deviceIds,omitempty"`
	NetworkIDs    []int64   `json:"networkIds,omitempty"`
	DeviceTypeIDs []int64   `json:"deviceTypeIds,omitempty"`
	Names         []string  `json:"names,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (s *Subscription) info() Info {
	return Info{
		ID:            s.ID,
		Type:          s.filter.Kind.String(),
		DeviceGUIDs:   append([]string(nil), s.filter.DeviceGUIDs...),
		NetworkIDs:    append([]int64(nil), s.filter.NetworkIDs...),
		DeviceTypeIDs: append([]int64(nil), s.filter.DeviceTypeIDs...),
		Names:         append([]string(nil), s.filter.Names...),
		Timestamp:     s.CreatedAt,
	}
}

// Deliver passes the event to the owner. A held subscription buffers the
// event until Release.
func (s *Subscription) Deliver(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return false
	}
	if s.held {
		s.buffer = append(s.buffer, e)
		return true
	}
	s.Owner.Deliver(s, e)
	return true
}

// Release delivers the backlog, then the buffered events which are not
// part of the backlog, and ends the held state.
func (s *Subscription) Release(backlog []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return
	}

	seen := make(map[int64]struct{}, len(backlog))
	for _, e := range backlog {
		seen[e.ID] = struct{}{}
		s.Owner.Deliver(s, e)
	}
	for _, e := range s.buffer {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		s.Owner.Deliver(s, e)
	}

	s.buffer = nil
	s.held = false
}

func (s *Subscription) markRemoved() {
	s.mu.Lock()
	s.removed = true
	s.buffer = nil
	s.mu.Unlock()
}

func (s *Subscription) matches(e Event) bool {
	if s.filter.Kind != e.Kind {
		return false
	}
	if s.filter.CommandID != 0 && s.filter.CommandID != e.ID {
		return false
	}
	if len(s.names) != 0 {
		if _, ok := s.names[e.Name]; !ok {
			return false
		}
	}
	return true
}
