package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/backend/gateway"
	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/dispatch"
	"github.com/devicehive/devicehive-server/internal/messages"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
	"github.com/devicehive/devicehive-server/internal/test"
)

type BridgeTestSuite struct {
	suite.Suite

	engine   *dispatch.Engine
	messages *messages.Service
	backend  *test.GatewayBackend
	bridge   *Bridge

	admin  *permission.Principal
	device storage.Device
}

func (ts *BridgeTestSuite) SetupSuite() {
	conf := test.GetConfig()
	if err := storage.Setup(conf); err != nil {
		panic(err)
	}
}

func (ts *BridgeTestSuite) SetupTest() {
	assert := require.New(ts.T())
	ctx := context.Background()

	test.MustResetDB(storage.DB().DB.DB)
	test.MustFlushRedis(storage.RedisClient())

	ts.engine = dispatch.NewEngine(subscription.NewRegistry())
	dir := directory.NewService(ts.engine, auth.DefaultPasswordHasher())
	ts.messages = messages.NewService(dir, ts.engine, 100*time.Millisecond, time.Second)

	u := storage.User{Login: "admin", Role: storage.RoleAdmin}
	assert.NoError(storage.CreateUser(ctx, storage.DB(), &u))
	ts.admin = &permission.Principal{
		Kind:        permission.KindUser,
		UserID:      u.ID,
		Admin:       true,
		Permissions: []permission.Permission{permission.AdminPermission()},
	}

	n, err := dir.CreateNetwork(ctx, ts.admin, storage.Network{Name: "net"})
	assert.NoError(err)
	ts.device, _, err = dir.SaveDevice(ctx, ts.admin, "device-1", directory.DeviceUpdate{NetworkID: &n.ID})
	assert.NoError(err)

	ts.backend = test.NewGatewayBackend()
	ts.bridge = NewBridge(ts.backend, ts.messages, ts.engine)
	assert.NoError(ts.bridge.Start())
}

func (ts *BridgeTestSuite) TearDownTest() {
	ts.backend.Close()
	ts.bridge.Stop()
}

func (ts *BridgeTestSuite) TestNotification() {
	assert := require.New(ts.T())
	ctx := context.Background()

	ts.backend.NotificationChan() <- gateway.Notification{DeviceGUID: "unknown-device", Notification: "temperature"}
	ts.backend.NotificationChan() <- gateway.Notification{
		DeviceGUID:   ts.device.GUID,
		Notification: "temperature",
		Parameters:   storage.JSONB(`{"value":20}`),
	}

	var notifications []storage.DeviceNotification
	assert.Eventually(func() bool {
		var err error
		notifications, err = ts.messages.ListNotifications(ctx, ts.admin, messages.Query{
			DeviceGUIDs: []string{ts.device.GUID},
			Names:       []string{"temperature"},
		})
		return err == nil && len(notifications) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal("temperature", notifications[0].Notification)
	assert.JSONEq(`{"value":20}`, string(notifications[0].Parameters))
}

func (ts *BridgeTestSuite) TestCommand() {
	assert := require.New(ts.T())
	ctx := context.Background()

	ts.T().Run("Local commands are sent", func(t *testing.T) {
		name := "reboot"
		cmd, err := ts.messages.InsertCommand(ctx, ts.admin, ts.device.GUID, messages.CommandUpdate{Command: &name})
		assert.NoError(err)

		select {
		case sent := <-ts.backend.CommandChan:
			assert.Equal(cmd.ID, sent.ID)
			assert.Equal(ts.device.GUID, sent.DeviceGUID)
			assert.Equal("reboot", sent.Command)
		case <-time.After(time.Second):
			t.Fatal("command not sent")
		}
	})

	ts.T().Run("Remote commands are not sent", func(t *testing.T) {
		b, err := json.Marshal(storage.DeviceCommand{ID: 1000, DeviceGUID: ts.device.GUID, Command: "reboot"})
		assert.NoError(err)

		ts.engine.DispatchRemote(subscription.Event{
			Kind:       subscription.KindCommand,
			ID:         1000,
			DeviceGUID: ts.device.GUID,
			Name:       "reboot",
			Timestamp:  time.Now(),
			Payload:    b,
			Remote:     true,
		})

		select {
		case <-ts.backend.CommandChan:
			t.Fatal("remote command sent")
		case <-time.After(100 * time.Millisecond):
		}
	})

	ts.T().Run("Bridge holds a single command subscription", func(t *testing.T) {
		assert.Len(ts.engine.Registry().List(OwnerID), 1)
	})
}

func TestBridge(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}
