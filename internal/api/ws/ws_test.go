package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/devicehive/devicehive-server/internal/api/rest"
	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/config"
	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/dispatch"
	"github.com/devicehive/devicehive-server/internal/messages"
	"github.com/devicehive/devicehive-server/internal/plugin"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
	"github.com/devicehive/devicehive-server/internal/test"
)

type frame map[string]json.RawMessage

func (f frame) str(key string) string {
	var s string
	json.Unmarshal(f[key], &s)
	return s
}

func (f frame) int(key string) int64 {
	var i int64
	json.Unmarshal(f[key], &i)
	return i
}

type WebSocketTestSuite struct {
	suite.Suite

	conf    config.Config
	engine  *dispatch.Engine
	plugins *plugin.Service
	server  *httptest.Server
}

func (ts *WebSocketTestSuite) SetupSuite() {
	ts.conf = test.GetConfig()
	if err := storage.Setup(ts.conf); err != nil {
		panic(err)
	}
}

func (ts *WebSocketTestSuite) SetupTest() {
	assert := require.New(ts.T())

	test.MustResetDB(storage.DB().DB.DB)
	test.MustFlushRedis(storage.RedisClient())

	hasher := auth.PasswordHasher{Time: 1, Memory: 1024, Threads: 1, KeyLength: 16}
	authenticator := auth.NewAuthenticator(
		storage.DB(),
		auth.NewJWTService(ts.conf.Auth.JWT.Secret, time.Minute, time.Hour),
		hasher,
		3,
	)

	ts.engine = dispatch.NewEngine(subscription.NewRegistry())
	dir := directory.NewService(ts.engine, hasher)
	msgs := messages.NewService(dir, ts.engine, 100*time.Millisecond, time.Second)
	ts.plugins = plugin.NewService(dir, ts.engine, authenticator, storage.RedisClient())

	hash, err := hasher.Hash("password")
	assert.NoError(err)
	admin := storage.User{Login: "admin", PasswordHash: hash, Role: storage.RoleAdmin}
	assert.NoError(storage.CreateUser(context.Background(), storage.DB(), &admin))

	ts.server = httptest.NewServer(NewHandler(ts.conf, rest.Services{
		Auth:      authenticator,
		Directory: dir,
		Messages:  msgs,
		Plugins:   ts.plugins,
		Engine:    ts.engine,
	}))
}

func (ts *WebSocketTestSuite) TearDownTest() {
	ts.server.Close()
	ts.plugins.Close()
}

func (ts *WebSocketTestSuite) dial() *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(ts.T(), err)
	return c
}

func (ts *WebSocketTestSuite) send(c *websocket.Conn, v interface{}) {
	require.NoError(ts.T(), c.WriteJSON(v))
}

func (ts *WebSocketTestSuite) read(c *websocket.Conn) frame {
	assert := require.New(ts.T())
	assert.NoError(c.SetReadDeadline(time.Now().Add(2 * time.Second)))

	var f frame
	assert.NoError(c.ReadJSON(&f))
	return f
}

// call sends the frame and returns the response frame.
func (ts *WebSocketTestSuite) call(c *websocket.Conn, v map[string]interface{}) frame {
	ts.send(c, v)
	return ts.read(c)
}

// login dials and authenticates as admin.
func (ts *WebSocketTestSuite) login() *websocket.Conn {
	c := ts.dial()
	f := ts.call(c, map[string]interface{}{
		"action":   "authenticate",
		"login":    "admin",
		"password": "password",
	})
	require.Equal(ts.T(), "success", f.str("status"), string(f["error"]))
	return c
}

// createDevice creates the device in a new network and returns the
// network id.
func (ts *WebSocketTestSuite) createDevice(c *websocket.Conn, guid string) int64 {
	assert := require.New(ts.T())

	f := ts.call(c, map[string]interface{}{
		"action":  "network/insert",
		"network": map[string]interface{}{"name": "network-" + guid},
	})
	assert.Equal("success", f.str("status"), string(f["error"]))

	var n storage.Network
	assert.NoError(json.Unmarshal(f["network"], &n))

	f = ts.call(c, map[string]interface{}{
		"action":   "device/save",
		"deviceId": guid,
		"device":   map[string]interface{}{"name": guid, "networkId": n.ID},
	})
	assert.Equal("success", f.str("status"), string(f["error"]))
	return n.ID
}

// createClient creates a client user with the network assigned and
// returns its id.
func (ts *WebSocketTestSuite) createClient(c *websocket.Conn, login string, networkID int64) int64 {
	assert := require.New(ts.T())

	f := ts.call(c, map[string]interface{}{
		"action": "user/insert",
		"user":   map[string]interface{}{"login": login, "password": "password"},
	})
	assert.Equal("success", f.str("status"), string(f["error"]))

	var u struct {
		ID int64 `json:"id"`
	}
	assert.NoError(json.Unmarshal(f["user"], &u))

	f = ts.call(c, map[string]interface{}{
		"action":    "user/assignNetwork",
		"userId":    u.ID,
		"networkId": networkID,
	})
	assert.Equal("success", f.str("status"), string(f["error"]))
	return u.ID
}

// expectNoPush asserts that no push is queued on the connection. Pushes
// are queued before the response of the write causing them, so a request
// answered first proves the queue held none.
func (ts *WebSocketTestSuite) expectNoPush(c *websocket.Conn) {
	f := ts.call(c, map[string]interface{}{"action": "server/info", "requestId": "barrier"})
	require.Equal(ts.T(), "barrier", f.str("requestId"), "unexpected push: %v", f)
}

func (ts *WebSocketTestSuite) TestAuthentication() {
	assert := require.New(ts.T())
	c := ts.dial()
	defer c.Close()

	ts.T().Run("Unauthenticated", func(t *testing.T) {
		assert := require.New(t)
		f := ts.call(c, map[string]interface{}{"action": "network/list", "requestId": 1})
		assert.Equal("error", f.str("status"))
		assert.EqualValues(401, f.int("code"))
		assert.Equal("network/list", f.str("action"))
		assert.Equal("1", string(f["requestId"]))
	})

	ts.T().Run("Invalid credentials", func(t *testing.T) {
		assert := require.New(t)
		f := ts.call(c, map[string]interface{}{
			"action":   "authenticate",
			"login":    "admin",
			"password": "wrong",
		})
		assert.Equal("error", f.str("status"))
		assert.EqualValues(401, f.int("code"))
		assert.Equal("Invalid credentials", f.str("error"))
	})

	ts.T().Run("Server info is public", func(t *testing.T) {
		assert := require.New(t)
		f := ts.call(c, map[string]interface{}{"action": "server/info", "requestId": "info-1"})
		assert.Equal("success", f.str("status"))
		assert.Equal("info-1", f.str("requestId"))

		var info rest.ServerInfo
		assert.NoError(json.Unmarshal(f["info"], &info))
		assert.Equal(rest.APIVersion, info.APIVersion)
	})

	f := ts.call(c, map[string]interface{}{
		"action":    "authenticate",
		"login":     "admin",
		"password":  "password",
		"requestId": "auth-1",
	})
	assert.Equal("success", f.str("status"))
	assert.Equal("auth-1", f.str("requestId"))

	f = ts.call(c, map[string]interface{}{"action": "network/list"})
	assert.Equal("success", f.str("status"))
	assert.Equal("[]", string(f["networks"]))
}

func (ts *WebSocketTestSuite) TestInvalidFrames() {
	assert := require.New(ts.T())
	c := ts.login()
	defer c.Close()

	assert.NoError(c.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := ts.read(c)
	assert.Equal("error", f.str("status"))
	assert.EqualValues(400, f.int("code"))

	f = ts.call(c, map[string]interface{}{"action": "foo/bar", "requestId": 7})
	assert.Equal("error", f.str("status"))
	assert.EqualValues(400, f.int("code"))
	assert.Equal("Unknown action: foo/bar", f.str("error"))
	assert.Equal("7", string(f["requestId"]))

	f = ts.call(c, map[string]interface{}{"action": "command/get", "deviceId": "device-1"})
	assert.EqualValues(400, f.int("code"))
	assert.Equal("Command id is required", f.str("error"))
}

func (ts *WebSocketTestSuite) TestCommandSubscription() {
	assert := require.New(ts.T())
	c := ts.login()
	defer c.Close()
	ts.createDevice(c, "device-1")

	f := ts.call(c, map[string]interface{}{
		"action":    "command/subscribe",
		"deviceId":  "device-1",
		"requestId": "sub",
	})
	assert.Equal("success", f.str("status"), string(f["error"]))
	subID := f.int("subscriptionId")
	assert.NotZero(subID)

	f = ts.call(c, map[string]interface{}{
		"action":   "command/insert",
		"deviceId": "device-1",
		"command":  map[string]interface{}{"command": "reboot"},
	})
	assert.Equal("command/insert", f.str("action"))
	assert.Equal("success", f.str("status"), string(f["error"]))

	var inserted storage.DeviceCommand
	assert.NoError(json.Unmarshal(f["command"], &inserted))

	push := ts.read(c)
	assert.Equal("command/insert", push.str("action"))
	assert.Equal(subID, push.int("subscriptionId"))
	assert.Empty(push.str("status"))

	var pushed storage.DeviceCommand
	assert.NoError(json.Unmarshal(push["command"], &pushed))
	assert.Equal(inserted.ID, pushed.ID)
	assert.Equal("reboot", pushed.Command)

	ts.T().Run("Command update", func(t *testing.T) {
		assert := require.New(t)

		f := ts.call(c, map[string]interface{}{
			"action":                "command/subscribe",
			"deviceId":              "device-1",
			"returnUpdatedCommands": true,
		})
		assert.Equal("success", f.str("status"))
		updateSubID := f.int("subscriptionId")

		f = ts.call(c, map[string]interface{}{
			"action":    "command/update",
			"deviceId":  "device-1",
			"commandId": inserted.ID,
			"command":   map[string]interface{}{"status": "done"},
		})
		assert.Equal("success", f.str("status"), string(f["error"]))

		push := ts.read(c)
		assert.Equal("command/update", push.str("action"))
		assert.Equal(updateSubID, push.int("subscriptionId"))

		var updated storage.DeviceCommand
		assert.NoError(json.Unmarshal(push["command"], &updated))
		assert.Equal("done", updated.Status)
	})

	ts.T().Run("Subscription list", func(t *testing.T) {
		assert := require.New(t)

		f := ts.call(c, map[string]interface{}{"action": "subscription/list", "type": "command"})
		assert.Equal("success", f.str("status"))

		var infos []subscription.Info
		assert.NoError(json.Unmarshal(f["subscriptions"], &infos))
		assert.Len(infos, 2)

		f = ts.call(c, map[string]interface{}{"action": "subscription/list", "type": "notification"})
		assert.Equal("[]", string(f["subscriptions"]))

		f = ts.call(c, map[string]interface{}{"action": "subscription/list", "type": "foo"})
		assert.EqualValues(400, f.int("code"))
	})

	ts.T().Run("Unsubscribe keeps other kinds", func(t *testing.T) {
		assert := require.New(t)

		f := ts.call(c, map[string]interface{}{
			"action":         "notification/unsubscribe",
			"subscriptionId": subID,
		})
		assert.Equal("success", f.str("status"))

		f = ts.call(c, map[string]interface{}{"action": "subscription/list", "type": "command"})
		var infos []subscription.Info
		assert.NoError(json.Unmarshal(f["subscriptions"], &infos))
		assert.Len(infos, 2)
	})

	ts.T().Run("Unsubscribe is idempotent", func(t *testing.T) {
		assert := require.New(t)

		for i := 0; i < 2; i++ {
			f := ts.call(c, map[string]interface{}{
				"action":         "command/unsubscribe",
				"subscriptionId": subID,
			})
			assert.Equal("success", f.str("status"))
		}

		f := ts.call(c, map[string]interface{}{"action": "subscription/list", "type": "command"})
		var infos []subscription.Info
		assert.NoError(json.Unmarshal(f["subscriptions"], &infos))
		assert.Len(infos, 1)
	})
}

func (ts *WebSocketTestSuite) TestSubscribeBacklog() {
	assert := require.New(ts.T())
	c := ts.login()
	defer c.Close()
	ts.createDevice(c, "device-1")

	start := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339Nano)
	for _, name := range []string{"temperature", "humidity"} {
		f := ts.call(c, map[string]interface{}{
			"action":       "notification/insert",
			"deviceId":     "device-1",
			"notification": map[string]interface{}{"notification": name},
		})
		assert.Equal("success", f.str("status"), string(f["error"]))
	}

	f := ts.call(c, map[string]interface{}{
		"action":    "notification/subscribe",
		"deviceId":  "device-1",
		"timestamp": start,
	})
	assert.Equal("notification/subscribe", f.str("action"))
	assert.Equal("success", f.str("status"), string(f["error"]))
	subID := f.int("subscriptionId")

	for _, name := range []string{"temperature", "humidity"} {
		push := ts.read(c)
		assert.Equal("notification/insert", push.str("action"))
		assert.Equal(subID, push.int("subscriptionId"))

		var n storage.DeviceNotification
		assert.NoError(json.Unmarshal(push["notification"], &n))
		assert.Equal(name, n.Notification)
	}

	f = ts.call(c, map[string]interface{}{
		"action":   "notification/list",
		"deviceId": "device-1",
	})
	var notifications []storage.DeviceNotification
	assert.NoError(json.Unmarshal(f["notifications"], &notifications))
	assert.Len(notifications, 2)
}

func (ts *WebSocketTestSuite) TestCloseRemovesSubscriptions() {
	assert := require.New(ts.T())
	c := ts.login()
	ts.createDevice(c, "device-1")

	f := ts.call(c, map[string]interface{}{"action": "notification/subscribe", "deviceId": "device-1"})
	assert.Equal("success", f.str("status"))
	assert.Equal(1, ts.engine.Registry().Count())

	assert.NoError(c.Close())
	assert.Eventually(func() bool {
		return ts.engine.Registry().Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func (ts *WebSocketTestSuite) TestRevokedAssignment() {
	assert := require.New(ts.T())
	admin := ts.login()
	defer admin.Close()
	networkID := ts.createDevice(admin, "device-1")
	userID := ts.createClient(admin, "client", networkID)

	client := ts.dial()
	defer client.Close()
	f := ts.call(client, map[string]interface{}{
		"action":   "authenticate",
		"login":    "client",
		"password": "password",
	})
	assert.Equal("success", f.str("status"), string(f["error"]))

	f = ts.call(client, map[string]interface{}{"action": "notification/subscribe", "deviceId": "device-1"})
	assert.Equal("success", f.str("status"), string(f["error"]))
	subID := f.int("subscriptionId")

	insert := func() {
		f := ts.call(admin, map[string]interface{}{
			"action":       "notification/insert",
			"deviceId":     "device-1",
			"notification": map[string]interface{}{"notification": "temperature"},
		})
		assert.Equal("success", f.str("status"), string(f["error"]))
	}

	insert()
	push := ts.read(client)
	assert.Equal(subID, push.int("subscriptionId"))

	f = ts.call(admin, map[string]interface{}{
		"action":    "user/unassignNetwork",
		"userId":    userID,
		"networkId": networkID,
	})
	assert.Equal("success", f.str("status"), string(f["error"]))

	insert()
	ts.expectNoPush(client)

	f = ts.call(client, map[string]interface{}{"action": "device/get", "deviceId": "device-1"})
	assert.Equal("error", f.str("status"))

	ts.T().Run("Deleted user", func(t *testing.T) {
		assert := require.New(t)
		f := ts.call(admin, map[string]interface{}{
			"action":    "user/assignNetwork",
			"userId":    userID,
			"networkId": networkID,
		})
		assert.Equal("success", f.str("status"), string(f["error"]))

		insert()
		push := ts.read(client)
		assert.Equal(subID, push.int("subscriptionId"))

		f = ts.call(admin, map[string]interface{}{"action": "user/delete", "userId": userID})
		assert.Equal("success", f.str("status"), string(f["error"]))

		insert()
		ts.expectNoPush(client)

		f = ts.call(client, map[string]interface{}{"action": "device/get", "deviceId": "device-1"})
		assert.EqualValues(401, f.int("code"))
	})
}

func (ts *WebSocketTestSuite) TestDirectory() {
	assert := require.New(ts.T())
	c := ts.login()
	defer c.Close()
	ts.createDevice(c, "device-1")

	f := ts.call(c, map[string]interface{}{"action": "device/get", "deviceId": "device-1"})
	assert.Equal("success", f.str("status"), string(f["error"]))
	var d storage.Device
	assert.NoError(json.Unmarshal(f["device"], &d))
	assert.Equal("device-1", d.GUID)

	f = ts.call(c, map[string]interface{}{"action": "device/count"})
	assert.EqualValues(1, f.int("count"))

	f = ts.call(c, map[string]interface{}{"action": "user/getCurrent"})
	var u storage.User
	assert.NoError(json.Unmarshal(f["current"], &u))
	assert.Equal("admin", u.Login)

	f = ts.call(c, map[string]interface{}{"action": "configuration/put", "name": "foo", "value": "bar"})
	assert.Equal("success", f.str("status"), string(f["error"]))

	f = ts.call(c, map[string]interface{}{"action": "configuration/get", "name": "foo"})
	var conf storage.Configuration
	assert.NoError(json.Unmarshal(f["configuration"], &conf))
	assert.Equal("bar", conf.Value)

	f = ts.call(c, map[string]interface{}{"action": "device/delete", "deviceId": "device-1"})
	assert.Equal("success", f.str("status"))

	f = ts.call(c, map[string]interface{}{"action": "device/get", "deviceId": "device-1"})
	assert.EqualValues(404, f.int("code"))
}

func TestWebSocket(t *testing.T) {
	suite.Run(t, new(WebSocketTestSuite))
}
