package plugin

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/dispatch"
	"github.com/devicehive/devicehive-server/internal/messages"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
	"github.com/devicehive/devicehive-server/internal/test"
)

type permsFunc func(u storage.User) []permission.Permission

func (f permsFunc) UserPermissions(ctx context.Context, u storage.User) ([]permission.Permission, error) {
	return f(u), nil
}

type PluginTestSuite struct {
	suite.Suite

	engine   *dispatch.Engine
	dir      *directory.Service
	messages *messages.Service
	service  *Service

	admin  *permission.Principal
	device storage.Device
}

func (ts *PluginTestSuite) SetupSuite() {
	conf := test.GetConfig()
	if err := storage.Setup(conf); err != nil {
		panic(err)
	}
}

func (ts *PluginTestSuite) SetupTest() {
	assert := require.New(ts.T())
	ctx := context.Background()

	test.MustResetDB(storage.DB().DB.DB)
	test.MustFlushRedis(storage.RedisClient())

	ts.engine = dispatch.NewEngine(subscription.NewRegistry())
	ts.dir = directory.NewService(ts.engine, auth.DefaultPasswordHasher())
	ts.messages = messages.NewService(ts.dir, ts.engine, 100*time.Millisecond, time.Second)
	ts.service = NewService(ts.dir, ts.engine, permsFunc(func(u storage.User) []permission.Permission {
		return []permission.Permission{permission.AdminPermission()}
	}), storage.RedisClient())

	u := storage.User{Login: "admin", Role: storage.RoleAdmin}
	assert.NoError(storage.CreateUser(ctx, storage.DB(), &u))
	ts.admin = &permission.Principal{
		Kind:        permission.KindUser,
		UserID:      u.ID,
		Admin:       true,
		Permissions: []permission.Permission{permission.AdminPermission()},
	}

	n, err := ts.dir.CreateNetwork(ctx, ts.admin, storage.Network{Name: "net"})
	assert.NoError(err)
	ts.device, _, err = ts.dir.SaveDevice(ctx, ts.admin, "device-1", directory.DeviceUpdate{NetworkID: &n.ID})
	assert.NoError(err)
}

func (ts *PluginTestSuite) TearDownTest() {
	ts.service.Close()
}

func (ts *PluginTestSuite) subscribe(topic string) *redis.PubSub {
	ps := storage.RedisClient().Subscribe(context.Background(), topic)
	_, err := ps.Receive(context.Background())
	ts.Require().NoError(err)
	return ps
}

func (ts *PluginTestSuite) register(filter string) Credentials {
	f, err := ParseFilter(filter)
	ts.Require().NoError(err)
	c, err := ts.service.Register(context.Background(), ts.admin, Registration{Name: "plugin-" + filter, Filter: f})
	ts.Require().NoError(err)
	return c
}

func receive(ps *redis.PubSub, timeout time.Duration) (pushFrame, bool) {
	var f pushFrame
	select {
	case msg := <-ps.Channel():
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			panic(err)
		}
		return f, true
	case <-time.After(timeout):
		return f, false
	}
}

func (ts *PluginTestSuite) TestForwarding() {
	assert := require.New(ts.T())
	ctx := context.Background()

	c := ts.register("notification/*/*/device-1/temperature")
	assert.Contains(c.TopicName, TopicPrefix)

	ps := ts.subscribe(c.TopicName)
	defer ps.Close()

	ts.T().Run("Matching notification is published", func(t *testing.T) {
		assert := require.New(t)

		_, err := ts.messages.InsertNotification(ctx, ts.admin, ts.device.GUID, messages.NotificationInsert{Notification: "temperature"})
		assert.NoError(err)

		f, ok := receive(ps, time.Second)
		assert.True(ok)
		assert.Equal("notification/insert", f.Action)
		assert.NotZero(f.SubscriptionID)

		var n storage.DeviceNotification
		assert.NoError(json.Unmarshal(f.Notification, &n))
		assert.Equal("temperature", n.Notification)
		assert.Equal(ts.device.GUID, n.DeviceGUID)
	})

	ts.T().Run("Other names and commands are not published", func(t *testing.T) {
		assert := require.New(t)

		_, err := ts.messages.InsertNotification(ctx, ts.admin, ts.device.GUID, messages.NotificationInsert{Notification: "humidity"})
		assert.NoError(err)
		_, err = ts.messages.InsertCommand(ctx, ts.admin, ts.device.GUID, messages.CommandUpdate{Command: strPtr("reboot")})
		assert.NoError(err)

		_, ok := receive(ps, 200*time.Millisecond)
		assert.False(ok)
	})

	ts.T().Run("Remote events are not published", func(t *testing.T) {
		assert := require.New(t)

		ts.engine.DispatchRemote(subscription.Event{
			Kind:       subscription.KindNotification,
			ID:         1000,
			DeviceGUID: ts.device.GUID,
			NetworkID:  ts.device.NetworkID,
			Name:       "temperature",
			Timestamp:  time.Now(),
			Payload:    json.RawMessage(`{}`),
			Remote:     true,
		})

		_, ok := receive(ps, 200*time.Millisecond)
		assert.False(ok)
	})

	ts.T().Run("Inactive plugin is not published", func(t *testing.T) {
		assert := require.New(t)

		status := storage.PluginInactive
		assert.NoError(ts.service.Update(ctx, ts.admin, c.TopicName, Update{Status: &status}))
		assert.Empty(ts.engine.Registry().List("plugin:" + c.TopicName))

		_, err := ts.messages.InsertNotification(ctx, ts.admin, ts.device.GUID, messages.NotificationInsert{Notification: "temperature"})
		assert.NoError(err)

		_, ok := receive(ps, 200*time.Millisecond)
		assert.False(ok)

		status = storage.PluginActive
		assert.NoError(ts.service.Update(ctx, ts.admin, c.TopicName, Update{Status: &status}))
		assert.Len(ts.engine.Registry().List("plugin:"+c.TopicName), 1)
	})

	ts.T().Run("Delete stops forwarding and is idempotent", func(t *testing.T) {
		assert := require.New(t)

		assert.NoError(ts.service.Delete(ctx, ts.admin, c.TopicName))
		assert.NoError(ts.service.Delete(ctx, ts.admin, c.TopicName))
		assert.Empty(ts.engine.Registry().List("plugin:" + c.TopicName))
	})
}

func (ts *PluginTestSuite) TestRegister() {
	assert := require.New(ts.T())
	ctx := context.Background()

	ts.T().Run("Missing network", func(t *testing.T) {
		f, err := ParseFilter("command/999/*/*/*")
		assert.NoError(err)
		_, err = ts.service.Register(ctx, ts.admin, Registration{Name: "p", Filter: f})
		assert.Equal(http.StatusNotFound, apierr.FromError(err).Code)
	})

	ts.T().Run("Missing device", func(t *testing.T) {
		f, err := ParseFilter("command/*/*/device-2/*")
		assert.NoError(err)
		_, err = ts.service.Register(ctx, ts.admin, Registration{Name: "p", Filter: f})
		assert.Equal(http.StatusNotFound, apierr.FromError(err).Code)
	})

	ts.T().Run("Name is required", func(t *testing.T) {
		_, err := ts.service.Register(ctx, ts.admin, Registration{})
		assert.Equal(http.StatusBadRequest, apierr.FromError(err).Code)
	})

	ts.T().Run("Device principal is denied", func(t *testing.T) {
		p := &permission.Principal{
			Kind:       permission.KindDevice,
			DeviceGUID: ts.device.GUID,
			Permissions: []permission.Permission{
				{Actions: permission.DeviceActions, DeviceGUIDs: permission.NewGUIDSet(ts.device.GUID)},
			},
		}
		_, err := ts.service.Register(ctx, p, Registration{Name: "p"})
		assert.Equal(http.StatusForbidden, apierr.FromError(err).Code)
	})

	ts.T().Run("Duplicate name", func(t *testing.T) {
		f, err := ParseFilter("*/*/*/*/*")
		assert.NoError(err)
		_, err = ts.service.Register(ctx, ts.admin, Registration{Name: "dup", Filter: f})
		assert.NoError(err)
		_, err = ts.service.Register(ctx, ts.admin, Registration{Name: "dup", Filter: f})
		assert.Equal(http.StatusForbidden, apierr.FromError(err).Code)
	})
}

func (ts *PluginTestSuite) TestListAndSync() {
	assert := require.New(ts.T())
	ctx := context.Background()

	c := ts.register("*/*/*/*/*")

	u := storage.User{Login: "client", Role: storage.RoleClient}
	assert.NoError(storage.CreateUser(ctx, storage.DB(), &u))
	client := &permission.Principal{
		Kind:   permission.KindUser,
		UserID: u.ID,
		Permissions: []permission.Permission{
			{Actions: permission.ClientActions, NetworkIDs: permission.AllIDs(), DeviceTypeIDs: permission.AllIDs()},
		},
	}

	ts.T().Run("Admin sees all plugins", func(t *testing.T) {
		count, err := ts.service.Count(ctx, ts.admin, storage.PluginFilters{})
		assert.NoError(err)
		assert.Equal(1, count)
	})

	ts.T().Run("Client sees only its own plugins", func(t *testing.T) {
		plugins, err := ts.service.List(ctx, client, storage.PluginFilters{})
		assert.NoError(err)
		assert.Len(plugins, 0)
	})

	ts.T().Run("Client can not update other plugins", func(t *testing.T) {
		name := "other"
		err := ts.service.Update(ctx, client, c.TopicName, Update{Name: &name})
		assert.Equal(http.StatusNotFound, apierr.FromError(err).Code)
	})

	ts.T().Run("Sync restores forwarding", func(t *testing.T) {
		other := NewService(ts.dir, ts.engine, ts.service.perms, storage.RedisClient())
		defer other.Close()

		ts.service.Close()
		assert.Empty(ts.engine.Registry().List("plugin:" + c.TopicName))

		assert.NoError(other.Sync(ctx))
		assert.Len(ts.engine.Registry().List("plugin:"+c.TopicName), 3)
	})

	ts.T().Run("Sync stops plugins of removed users", func(t *testing.T) {
		other := NewService(ts.dir, ts.engine, ts.service.perms, storage.RedisClient())
		defer other.Close()

		pc, err := other.Register(ctx, client, Registration{Name: "client-plugin", Filter: Filter{Kinds: []subscription.Kind{subscription.KindCommand}}})
		assert.NoError(err)
		assert.Len(ts.engine.Registry().List("plugin:"+pc.TopicName), 1)

		_, err = storage.DB().Exec(`update "user" set status = $2 where id = $1`, u.ID, storage.UserDisabled)
		assert.NoError(err)

		assert.NoError(other.Sync(ctx))
		assert.Empty(ts.engine.Registry().List("plugin:" + pc.TopicName))
	})
}

func strPtr(s string) *string {
	return &s
}

func TestPlugin(t *testing.T) {
	suite.Run(t, new(PluginTestSuite))
}
