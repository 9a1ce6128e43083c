package cluster

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
	"github.com/devicehive/devicehive-server/internal/test"
)

type testHandler struct {
	events chan subscription.Event
	users  chan int64
}

func newTestHandler() *testHandler {
	return &testHandler{
		events: make(chan subscription.Event, 10),
		users:  make(chan int64, 10),
	}
}

func (h *testHandler) DispatchRemote(e subscription.Event) {
	h.events <- e
}

func (h *testHandler) RefreshUserRemote(userID int64) {
	h.users <- userID
}

type BusTestSuite struct {
	suite.Suite

	a, b     *Bus
	aIn, bIn *testHandler
}

func (ts *BusTestSuite) SetupSuite() {
	assert := require.New(ts.T())
	assert.NoError(storage.Setup(test.GetConfig()))

	ts.aIn = newTestHandler()
	ts.bIn = newTestHandler()

	var err error
	ts.a, err = NewBus(context.Background(), storage.RedisClient(), "test:cluster", "node-a", ts.aIn)
	assert.NoError(err)
	ts.b, err = NewBus(context.Background(), storage.RedisClient(), "test:cluster", "node-b", ts.bIn)
	assert.NoError(err)
}

func (ts *BusTestSuite) TearDownSuite() {
	assert := require.New(ts.T())
	assert.NoError(ts.a.Close())
	assert.NoError(ts.b.Close())
}

func (ts *BusTestSuite) TestPublish() {
	assert := require.New(ts.T())

	network := int64(3)
	e := subscription.Event{
		Kind:       subscription.KindNotification,
		ID:         10,
		DeviceGUID: "d1",
		NetworkID:  &network,
		Name:       "temp",
		Timestamp:  time.Now().UTC().Truncate(time.Millisecond),
		Payload:    json.RawMessage(`{"id":10}`),
	}
	assert.NoError(ts.a.Publish(context.Background(), e))

	select {
	case got := <-ts.bIn.events:
		assert.Equal(e.ID, got.ID)
		assert.Equal(e.Kind, got.Kind)
		assert.Equal(network, *got.NetworkID)
		assert.JSONEq(`{"id":10}`, string(got.Payload))
		assert.True(e.Timestamp.Equal(got.Timestamp))
	case <-time.After(2 * time.Second):
		ts.T().Fatal("timeout waiting for event")
	}

	// the publishing node ignores its own event
	select {
	case <-ts.aIn.events:
		ts.T().Fatal("node received its own event")
	case <-time.After(100 * time.Millisecond):
	}
}

func (ts *BusTestSuite) TestPublishUserRefresh() {
	assert := require.New(ts.T())
	assert.NoError(ts.b.PublishUserRefresh(context.Background(), 42))

	select {
	case id := <-ts.aIn.users:
		assert.EqualValues(42, id)
	case <-ts.aIn.events:
		ts.T().Fatal("user refresh received as event")
	case <-time.After(2 * time.Second):
		ts.T().Fatal("timeout waiting for user refresh")
	}

	select {
	case <-ts.bIn.users:
		ts.T().Fatal("node received its own user refresh")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus(t *testing.T) {
	suite.Run(t, new(BusTestSuite))
}
