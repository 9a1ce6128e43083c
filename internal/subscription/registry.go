package subscription

import (
	"sort"
	"sync"
	"time"

	"github.com/devicehive/devicehive-server/internal/permission"
)

type subSet map[int64]*Subscription

// Registry holds the live subscriptions, indexed by scope and owner.
type Registry struct {
	mu  sync.RWMutex
	seq int64

	subs         subSet
	byOwner      map[string]subSet
	byDevice     map[string]subSet
	byNetwork    map[int64]subSet
	byDeviceType map[int64]subSet
	global       subSet
}

// NewRegistry creates a new Registry.
func NewRegistry() *Registry {
	return &Registry{
		subs:         make(subSet),
		byOwner:      make(map[string]subSet),
		byDevice:     make(map[string]subSet),
		byNetwork:    make(map[int64]subSet),
		byDeviceType: make(map[int64]subSet),
		global:       make(subSet),
	}
}

// Add registers a subscription for the owner. A held subscription buffers
// its events until Release is called.
func (r *Registry) Add(owner Owner, f Filter, held bool) *Subscription {
	s := &Subscription{
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
		filter:    f,
		held:      held,
	}
	if len(f.Names) != 0 {
		s.names = make(map[string]struct{}, len(f.Names))
		for _, n := range f.Names {
			s.names[n] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	s.ID = r.seq
	r.subs[s.ID] = s
	addTo(r.byOwner, owner.OwnerID(), s)

	switch {
	case len(f.DeviceGUIDs) != 0:
		for _, guid := range f.DeviceGUIDs {
			addTo(r.byDevice, guid, s)
		}
	case len(f.NetworkIDs) != 0:
		for _, id := range f.NetworkIDs {
			addToID(r.byNetwork, id, s)
		}
	case len(f.DeviceTypeIDs) != 0:
		for _, id := range f.DeviceTypeIDs {
			addToID(r.byDeviceType, id, s)
		}
	default:
		r.global[s.ID] = s
	}

	return s
}

// Remove removes the subscription with the given id when it belongs to
// the owner. When kinds is not empty the subscription must be of one of
// these kinds. It returns false when no such subscription exists.
func (r *Registry) Remove(ownerID string, id int64, kinds ...Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[id]
	if !ok || s.Owner.OwnerID() != ownerID {
		return false
	}
	if len(kinds) != 0 && !hasKind(kinds, s.filter.Kind) {
		return false
	}
	r.remove(s)
	return true
}

// RemoveOwner removes all subscriptions of the owner and returns their
// number.
func (r *Registry) RemoveOwner(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byOwner[ownerID]
	n := len(set)
	for _, s := range set {
		r.remove(s)
	}
	return n
}

// Get returns the subscription with the given id.
func (r *Registry) Get(id int64) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.subs[id]
	return s, ok
}

// List returns the subscriptions of the owner, ordered by id. When kinds
// is not empty only these kinds are returned.
func (r *Registry) List(ownerID string, kinds ...Kind) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Info{}
	for _, s := range r.byOwner[ownerID] {
		if len(kinds) != 0 && !hasKind(kinds, s.filter.Kind) {
			continue
		}
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Match returns the subscriptions matching the event. Each owner's
// current principal must be allowed to read the event.
func (r *Registry) Match(e Event) []*Subscription {
	var candidates []*Subscription

	r.mu.RLock()
	collect := func(set subSet) {
		for _, s := range set {
			if s.matches(e) {
				candidates = append(candidates, s)
			}
		}
	}
	collect(r.global)
	collect(r.byDevice[e.DeviceGUID])
	if e.NetworkID != nil {
		collect(r.byNetwork[*e.NetworkID])
	}
	if e.DeviceTypeID != nil {
		collect(r.byDeviceType[*e.DeviceTypeID])
	}
	r.mu.RUnlock()

	scope := permission.DeviceScope(e.DeviceGUID, e.NetworkID, e.DeviceTypeID)
	out := candidates[:0]
	for _, s := range candidates {
		if permission.Allowed(s.Owner.Principal(), e.Kind.action(), scope) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DropNetwork removes the network from all network-scoped subscriptions.
// Subscriptions left without scope are removed and returned.
func (r *Registry) DropNetwork(id int64) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Info
	for _, s := range r.byNetwork[id] {
		s.filter.NetworkIDs = withoutID(s.filter.NetworkIDs, id)
		if len(s.filter.NetworkIDs) == 0 {
			removed = append(removed, s.info())
			r.remove(s)
		}
	}
	delete(r.byNetwork, id)
	return removed
}

// DropDeviceType removes the device type from all device-type scoped
// subscriptions. Subscriptions left without scope are removed and
// returned.
func (r *Registry) DropDeviceType(id int64) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Info
	for _, s := range r.byDeviceType[id] {
		s.filter.DeviceTypeIDs = withoutID(s.filter.DeviceTypeIDs, id)
		if len(s.filter.DeviceTypeIDs) == 0 {
			removed = append(removed, s.info())
			r.remove(s)
		}
	}
	delete(r.byDeviceType, id)
	return removed
}

// DropDevice removes the device from all device-scoped subscriptions.
// Subscriptions left without scope are removed and returned.
func (r *Registry) DropDevice(guid string) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Info
	for _, s := range r.byDevice[guid] {
		var guids []string
		for _, g := range s.filter.DeviceGUIDs {
			if g != guid {
				guids = append(guids, g)
			}
		}
		s.filter.DeviceGUIDs = guids
		if len(guids) == 0 {
			removed = append(removed, s.info())
			r.remove(s)
		}
	}
	delete(r.byDevice, guid)
	return removed
}

// remove must be called with the write lock held.
func (r *Registry) remove(s *Subscription) {
	delete(r.subs, s.ID)
	removeFrom(r.byOwner, s.Owner.OwnerID(), s.ID)
	delete(r.global, s.ID)
	for _, guid := range s.filter.DeviceGUIDs {
		removeFrom(r.byDevice, guid, s.ID)
	}
	for _, id := range s.filter.NetworkIDs {
		removeFromID(r.byNetwork, id, s.ID)
	}
	for _, id := range s.filter.DeviceTypeIDs {
		removeFromID(r.byDeviceType, id, s.ID)
	}
	s.markRemoved()
}

func addTo(m map[string]subSet, k string, s *Subscription) {
	set, ok := m[k]
	if !ok {
		set = make(subSet)
		m[k] = set
	}
	set[s.ID] = s
}

func removeFrom(m map[string]subSet, k string, id int64) {
	if set, ok := m[k]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m, k)
		}
	}
}

func addToID(m map[int64]subSet, k int64, s *Subscription) {
	set, ok := m[k]
	if !ok {
		set = make(subSet)
		m[k] = set
	}
	set[s.ID] = s
}

func removeFromID(m map[int64]subSet, k int64, id int64) {
	if set, ok := m[k]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m, k)
		}
	}
}

func withoutID(ids []int64, id int64) []int64 {
	var out []int64
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func hasKind(kinds []Kind, k Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}
