package amqp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/devicehive/devicehive-server/internal/backend/gateway"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/test"
)

type BackendTestSuite struct {
	suite.Suite

	backend gateway.Gateway

	amqpConn        *amqp.Connection
	amqpChannel     *amqp.Channel
	amqpCommandChan <-chan amqp.Delivery
}

func (ts *BackendTestSuite) SetupSuite() {
	var err error
	assert := require.New(ts.T())
	conf := test.GetConfig()

	ts.backend, err = NewBackend(conf)
	assert.NoError(err)

	ts.amqpConn, err = amqp.Dial(conf.Gateway.Backend.AMQP.URL)
	assert.NoError(err)

	ts.amqpChannel, err = ts.amqpConn.Channel()
	assert.NoError(err)

	_, err = ts.amqpChannel.QueueDeclare(
		"test-command-queue",
		true,
		false,
		false,
		false,
		nil,
	)
	assert.NoError(err)

	err = ts.amqpChannel.QueueBind(
		"test-command-queue",
		"devicehive.*.command",
		"amq.topic",
		false,
		nil,
	)
	assert.NoError(err)

	ts.amqpCommandChan, err = ts.amqpChannel.Consume(
		"test-command-queue",
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	assert.NoError(err)
}

func (ts *BackendTestSuite) TearDownSuite() {
	assert := require.New(ts.T())

	assert.NoError(ts.amqpConn.Close())
	assert.NoError(ts.backend.Close())
}

func (ts *BackendTestSuite) TestSendCommand() {
	assert := require.New(ts.T())

	cmd := storage.DeviceCommand{
		ID:         5,
		DeviceGUID: "dev-1",
		Command:    "reboot",
		Parameters: storage.JSONB(`{"delay":10}`),
	}
	assert.NoError(ts.backend.SendCommand(context.Background(), cmd))

	select {
	case received := <-ts.amqpCommandChan:
		assert.Equal("devicehive.dev-1.command", received.RoutingKey)
		assert.Equal("application/json", received.ContentType)

		var receivedCmd storage.DeviceCommand
		assert.NoError(json.Unmarshal(received.Body, &receivedCmd))
		assert.Equal(cmd.ID, receivedCmd.ID)
		assert.Equal(cmd.Command, receivedCmd.Command)
		assert.JSONEq(`{"delay":10}`, string(receivedCmd.Parameters))
	case <-time.After(time.Second):
		ts.T().Fatal("command not received")
	}
}

func (ts *BackendTestSuite) TestNotification() {
	assert := require.New(ts.T())

	err := ts.amqpChannel.Publish(
		"amq.topic",
		"devicehive.dev-1.notification",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        []byte(`{"notification": "temperature", "parameters": {"value": 20}}`),
		},
	)
	assert.NoError(err)

	select {
	case n := <-ts.backend.NotificationChan():
		assert.Equal("dev-1", n.DeviceGUID)
		assert.Equal("temperature", n.Notification)
	case <-time.After(time.Second):
		ts.T().Fatal("notification not received")
	}
}

func TestBackend(t *testing.T) {
	suite.Run(t, new(BackendTestSuite))
}
