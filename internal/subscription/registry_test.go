package subscription

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devicehive/devicehive-server/internal/permission"
)

type testOwner struct {
	id string

	mu        sync.Mutex
	principal *permission.Principal
	events    []Event
}

func newTestOwner(id string, p *permission.Principal) *testOwner {
	return &testOwner{id: id, principal: p}
}

func (o *testOwner) OwnerID() string {
	return o.id
}

func (o *testOwner) Principal() *permission.Principal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.principal
}

func (o *testOwner) Deliver(s *Subscription, e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *testOwner) ids() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []int64
	for _, e := range o.events {
		out = append(out, e.ID)
	}
	return out
}

func admin() *permission.Principal {
	return &permission.Principal{
		Kind:        permission.KindUser,
		Admin:       true,
		Permissions: []permission.Permission{permission.AdminPermission()},
	}
}

func networkUser(ids ...int64) *permission.Principal {
	return &permission.Principal{
		Kind: permission.KindUser,
		Permissions: []permission.Permission{
			{
				Actions:       permission.ClientActions,
				NetworkIDs:    permission.NewIDSet(ids...),
				DeviceTypeIDs: permission.AllIDs(),
			},
		},
	}
}

func int64Ptr(i int64) *int64 {
	return &i
}

func event(kind Kind, id int64, guid string, network int64, name string) Event {
	return Event{
		Kind:         kind,
		ID:           id,
		DeviceGUID:   guid,
		NetworkID:    int64Ptr(network),
		DeviceTypeID: int64Ptr(1),
		Name:         name,
	}
}

func dispatch(r *Registry, e Event) {
	for _, s := range r.Match(e) {
		s.Deliver(e)
	}
}

func TestRegistryMatch(t *testing.T) {
	r := NewRegistry()
	owner := newTestOwner("a", admin())

	global := r.Add(owner, Filter{Kind: KindCommand}, false)
	device := r.Add(owner, Filter{Kind: KindCommand, DeviceGUIDs: []string{"d1"}, Names: []string{"on"}}, false)
	network := r.Add(owner, Filter{Kind: KindNotification, NetworkIDs: []int64{2}}, false)
	deviceType := r.Add(owner, Filter{Kind: KindCommand, DeviceTypeIDs: []int64{1}}, false)
	update := r.Add(owner, Filter{Kind: KindCommandUpdate, DeviceGUIDs: []string{"d1"}, CommandID: 7}, false)

	tests := []struct {
		name     string
		event    Event
		expected []*Subscription
	}{
		{"command on d1 named on", event(KindCommand, 1, "d1", 1, "on"), []*Subscription{global, device, deviceType}},
		{"command on d1 named off", event(KindCommand, 2, "d1", 1, "off"), []*Subscription{global, deviceType}},
		{"command on d2", event(KindCommand, 3, "d2", 2, "on"), []*Subscription{global, deviceType}},
		{"notification in network 2", event(KindNotification, 4, "d2", 2, "temp"), []*Subscription{network}},
		{"notification in network 1", event(KindNotification, 5, "d1", 1, "temp"), nil},
		{"update of command 7", event(KindCommandUpdate, 7, "d1", 1, "on"), []*Subscription{update}},
		{"update of command 8", event(KindCommandUpdate, 8, "d1", 1, "on"), nil},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			assert := require.New(t)
			var ids, expected []int64
			for _, s := range r.Match(tst.event) {
				ids = append(ids, s.ID)
			}
			for _, s := range tst.expected {
				expected = append(expected, s.ID)
			}
			assert.Equal(expected, ids)
		})
	}
}

func TestRegistryAuthorization(t *testing.T) {
	assert := require.New(t)
	r := NewRegistry()

	owner := newTestOwner("a", networkUser(1))
	r.Add(owner, Filter{Kind: KindCommand}, false)

	dispatch(r, event(KindCommand, 1, "d1", 1, "on"))
	dispatch(r, event(KindCommand, 2, "d2", 2, "on"))
	assert.Equal([]int64{1}, owner.ids())

	// the current principal is evaluated on every event
	owner.mu.Lock()
	owner.principal = networkUser(2)
	owner.mu.Unlock()

	dispatch(r, event(KindCommand, 3, "d1", 1, "on"))
	dispatch(r, event(KindCommand, 4, "d2", 2, "on"))
	assert.Equal([]int64{1, 4}, owner.ids())

	// a device without network is only visible with all networks
	e := event(KindCommand, 5, "d3", 0, "on")
	e.NetworkID = nil
	assert.Len(r.Match(e), 0)
}

func TestRegistryRemove(t *testing.T) {
	assert := require.New(t)
	r := NewRegistry()

	a := newTestOwner("a", admin())
	b := newTestOwner("b", admin())
	sa := r.Add(a, Filter{Kind: KindCommand}, false)
	sn := r.Add(a, Filter{Kind: KindNotification, DeviceGUIDs: []string{"d1"}}, false)
	sb := r.Add(b, Filter{Kind: KindCommand}, false)

	assert.Equal(3, r.Count())
	assert.Len(r.List("a"), 2)
	assert.Len(r.List("a", KindNotification), 1)

	// a subscription of another kind is left in place
	assert.False(r.Remove("a", sn.ID, KindCommand, KindCommandUpdate))
	assert.False(r.Remove("a", sa.ID, KindNotification))
	assert.Equal(3, r.Count())

	// only the owner can remove its subscription
	assert.False(r.Remove("b", sa.ID))
	assert.True(r.Remove("a", sa.ID))
	assert.False(r.Remove("a", sa.ID))
	assert.False(sa.Deliver(event(KindCommand, 1, "d1", 1, "on")))

	assert.Equal(1, r.RemoveOwner("a"))
	assert.Equal(0, r.RemoveOwner("a"))
	assert.Equal(1, r.Count())
	assert.Equal([]Info{}, r.List("a"))

	dispatch(r, event(KindCommand, 2, "d1", 1, "on"))
	assert.Equal([]int64{2}, b.ids())
	assert.Nil(a.ids())

	_, ok := r.Get(sb.ID)
	assert.True(ok)
}

func TestRegistryDrop(t *testing.T) {
	assert := require.New(t)
	r := NewRegistry()
	owner := newTestOwner("a", admin())

	networks := r.Add(owner, Filter{Kind: KindCommand, NetworkIDs: []int64{1, 2}}, false)
	single := r.Add(owner, Filter{Kind: KindCommand, NetworkIDs: []int64{1}}, false)
	deviceType := r.Add(owner, Filter{Kind: KindCommand, DeviceTypeIDs: []int64{5}}, false)
	devices := r.Add(owner, Filter{Kind: KindCommand, DeviceGUIDs: []string{"d1", "d2"}}, false)

	removed := r.DropNetwork(1)
	assert.Len(removed, 1)
	assert.Equal(single.ID, removed[0].ID)

	info := r.List("a")
	assert.Len(info, 3)
	assert.Equal(networks.ID, info[0].ID)
	assert.Equal([]int64{2}, info[0].NetworkIDs)

	assert.Len(r.Match(event(KindCommand, 1, "x", 1, "on")), 0)

	removed = r.DropDeviceType(5)
	assert.Len(removed, 1)
	assert.Equal(deviceType.ID, removed[0].ID)

	assert.Len(r.DropDevice("d1"), 0)
	removed = r.DropDevice("d2")
	assert.Len(removed, 1)
	assert.Equal(devices.ID, removed[0].ID)

	assert.Equal(1, r.Count())
}

func TestSubscriptionRelease(t *testing.T) {
	assert := require.New(t)
	r := NewRegistry()
	owner := newTestOwner("a", admin())

	s := r.Add(owner, Filter{Kind: KindNotification, DeviceGUIDs: []string{"d1"}}, true)

	// live events while held are buffered
	dispatch(r, event(KindNotification, 3, "d1", 1, "n"))
	dispatch(r, event(KindNotification, 4, "d1", 1, "n"))
	assert.Nil(owner.ids())

	// the backlog already contains event 3
	s.Release([]Event{
		event(KindNotification, 1, "d1", 1, "n"),
		event(KindNotification, 2, "d1", 1, "n"),
		event(KindNotification, 3, "d1", 1, "n"),
	})
	assert.Equal([]int64{1, 2, 3, 4}, owner.ids())

	dispatch(r, event(KindNotification, 5, "d1", 1, "n"))
	assert.Equal([]int64{1, 2, 3, 4, 5}, owner.ids())
}
