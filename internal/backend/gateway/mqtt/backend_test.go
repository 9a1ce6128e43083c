package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/devicehive/devicehive-server/internal/backend/gateway"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/test"
)

type BackendTestSuite struct {
	suite.Suite

	backend    gateway.Gateway
	mqttClient paho.Client
}

func (ts *BackendTestSuite) SetupSuite() {
	assert := require.New(ts.T())

	conf := test.GetConfig()
	assert.NoError(storage.Setup(conf))
	test.MustFlushRedis(storage.RedisClient())

	server := test.GetMQTTServer()
	conf.Gateway.Backend.MQTT.Server = server
	conf.Gateway.Backend.MQTT.CleanSession = true
	conf.Gateway.Backend.MQTT.NotificationTopic = "devicehive/+/notification"
	conf.Gateway.Backend.MQTT.CommandTopicTemplate = "devicehive/{{ .DeviceID }}/command"
	conf.Gateway.Backend.MQTT.NotificationLockTTL = 500 * time.Millisecond

	opts := paho.NewClientOptions().AddBroker(server)
	ts.mqttClient = paho.NewClient(opts)
	token := ts.mqttClient.Connect()
	token.Wait()
	assert.NoError(token.Error())

	var err error
	ts.backend, err = NewBackend(storage.RedisClient(), conf)
	assert.NoError(err)

	// give the backend some time to subscribe
	time.Sleep(100 * time.Millisecond)
}

func (ts *BackendTestSuite) TearDownSuite() {
	ts.backend.Close()
	ts.mqttClient.Disconnect(0)
}

func (ts *BackendTestSuite) TestNotification() {
	assert := require.New(ts.T())

	ts.T().Run("Valid notification", func(t *testing.T) {
		assert := require.New(t)

		token := ts.mqttClient.Publish("devicehive/dev-1/notification", 0, false, []byte(`{"notification": "temperature", "parameters": {"value": 20}}`))
		token.Wait()
		assert.NoError(token.Error())

		select {
		case n := <-ts.backend.NotificationChan():
			assert.Equal("dev-1", n.DeviceGUID)
			assert.Equal("temperature", n.Notification)
			assert.JSONEq(`{"value": 20}`, string(n.Parameters))
		case <-time.After(time.Second):
			t.Fatal("notification not received")
		}
	})

	ts.T().Run("Duplicate within the lock ttl is dropped", func(t *testing.T) {
		assert := require.New(t)

		for i := 0; i < 2; i++ {
			token := ts.mqttClient.Publish("devicehive/dev-2/notification", 0, false, []byte(`{"notification": "door"}`))
			token.Wait()
			assert.NoError(token.Error())
		}

		select {
		case n := <-ts.backend.NotificationChan():
			assert.Equal("dev-2", n.DeviceGUID)
		case <-time.After(time.Second):
			t.Fatal("notification not received")
		}

		select {
		case <-ts.backend.NotificationChan():
			t.Fatal("duplicate notification received")
		case <-time.After(200 * time.Millisecond):
		}
	})

	ts.T().Run("Invalid payload is dropped", func(t *testing.T) {
		token := ts.mqttClient.Publish("devicehive/dev-3/notification", 0, false, []byte(`not json`))
		token.Wait()
		assert.NoError(token.Error())

		select {
		case <-ts.backend.NotificationChan():
			t.Fatal("unexpected notification")
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func (ts *BackendTestSuite) TestSendCommand() {
	assert := require.New(ts.T())

	cmdChan := make(chan storage.DeviceCommand, 1)
	token := ts.mqttClient.Subscribe("devicehive/+/command", 0, func(c paho.Client, msg paho.Message) {
		var cmd storage.DeviceCommand
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			panic(err)
		}
		cmdChan <- cmd
	})
	token.Wait()
	assert.NoError(token.Error())
	defer ts.mqttClient.Unsubscribe("devicehive/+/command").Wait()

	cmd := storage.DeviceCommand{
		ID:         10,
		DeviceGUID: "dev-1",
		Command:    "reboot",
	}
	assert.NoError(ts.backend.SendCommand(context.Background(), cmd))

	select {
	case received := <-cmdChan:
		assert.Equal(cmd.ID, received.ID)
		assert.Equal(cmd.DeviceGUID, received.DeviceGUID)
		assert.Equal(cmd.Command, received.Command)
	case <-time.After(time.Second):
		ts.T().Fatal("command not received")
	}
}

func TestBackend(t *testing.T) {
	suite.Run(t, new(BackendTestSuite))
}
