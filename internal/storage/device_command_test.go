package storage_test

import (
	. "github.com/devicehive/devicehive-server/internal/storage"

	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func (ts *StorageTestSuite) TestDeviceCommand() {
	assert := require.New(ts.T())
	ctx := context.Background()

	n := Network{Name: "cmd-net"}
	assert.NoError(CreateNetwork(ctx, DB(), &n))
	assert.NoError(CreateDevice(ctx, DB(), Device{GUID: "d1", Name: "d1", NetworkID: &n.ID}))
	assert.NoError(CreateDevice(ctx, DB(), Device{GUID: "d2", Name: "d2"}))

	var cmds []DeviceCommand
	for _, c := range []DeviceCommand{
		{DeviceGUID: "d1", Command: "on", Parameters: JSONB(`{"level":1}`)},
		{DeviceGUID: "d1", Command: "off"},
		{DeviceGUID: "d2", Command: "on"},
	} {
		assert.NoError(CreateDeviceCommand(ctx, DB(), &c))
		cmds = append(cmds, c)
	}

	ts.T().Run("Ids are increasing", func(t *testing.T) {
		assert := require.New(t)
		assert.True(cmds[0].ID < cmds[1].ID)
		assert.True(cmds[1].ID < cmds[2].ID)
		assert.False(cmds[1].Timestamp.Before(cmds[0].Timestamp))
	})

	ts.T().Run("Get", func(t *testing.T) {
		assert := require.New(t)
		c, err := GetDeviceCommand(ctx, DB(), "d1", cmds[0].ID)
		assert.NoError(err)
		assert.Equal("on", c.Command)
		assert.True(c.Timestamp.Equal(cmds[0].Timestamp))

		_, err = GetDeviceCommand(ctx, DB(), "d2", cmds[0].ID)
		assert.Equal(ErrDoesNotExist, err)
	})

	ts.T().Run("Update", func(t *testing.T) {
		assert := require.New(t)
		c := cmds[0]
		status := "done"
		updated := time.Now().UTC()
		c.Status = &status
		c.Result = JSONB(`{"ok":true}`)
		c.LastUpdated = &updated
		assert.NoError(UpdateDeviceCommand(ctx, DB(), c))

		got, err := GetDeviceCommand(ctx, DB(), "d1", c.ID)
		assert.NoError(err)
		assert.Equal("done", *got.Status)
		assert.JSONEq(`{"ok":true}`, string(got.Result))

		c.ID = c.ID + 1000
		assert.Equal(ErrDoesNotExist, UpdateDeviceCommand(ctx, DB(), c))
	})

	ts.T().Run("List", func(t *testing.T) {
		assert := require.New(t)

		list, err := GetDeviceCommands(ctx, DB(), MessageFilters{DeviceGUIDs: []string{"d1"}})
		assert.NoError(err)
		assert.Len(list, 2)

		list, err = GetDeviceCommands(ctx, DB(), MessageFilters{Names: []string{"on"}})
		assert.NoError(err)
		assert.Len(list, 2)

		list, err = GetDeviceCommands(ctx, DB(), MessageFilters{NetworkIDs: []int64{n.ID}, Status: "done"})
		assert.NoError(err)
		assert.Len(list, 1)

		start := cmds[0].Timestamp
		end := cmds[0].Timestamp
		list, err = GetDeviceCommands(ctx, DB(), MessageFilters{DeviceGUIDs: []string{"d1"}, Start: &start, End: &end})
		assert.NoError(err)
		assert.NotEmpty(list)
		assert.Equal(cmds[0].ID, list[0].ID)

		future := time.Now().Add(time.Hour)
		list, err = GetDeviceCommands(ctx, DB(), MessageFilters{Start: &future})
		assert.NoError(err)
		assert.NotNil(list)
		assert.Len(list, 0)

		list, err = GetDeviceCommands(ctx, DB(), MessageFilters{Visible: &Visibility{Clauses: []VisibilityClause{{NetworkIDs: []int64{n.ID}, AllDeviceTypes: true}}}})
		assert.NoError(err)
		assert.Len(list, 2)

		list, err = GetDeviceCommands(ctx, DB(), MessageFilters{ListOptions: ListOptions{SortField: "id", SortOrder: SortDESC, Take: 1}})
		assert.NoError(err)
		assert.Len(list, 1)
		assert.Equal(cmds[2].ID, list[0].ID)
	})
}

func (ts *StorageTestSuite) TestDeviceNotification() {
	assert := require.New(ts.T())
	ctx := context.Background()

	assert.NoError(CreateDevice(ctx, DB(), Device{GUID: "d1", Name: "d1"}))

	n1 := DeviceNotification{DeviceGUID: "d1", Notification: "temperature", Parameters: JSONB(`{"t":20}`)}
	n2 := DeviceNotification{DeviceGUID: "d1", Notification: "humidity"}
	assert.NoError(CreateDeviceNotification(ctx, DB(), &n1))
	assert.NoError(CreateDeviceNotification(ctx, DB(), &n2))
	assert.True(n1.ID < n2.ID)

	ts.T().Run("Get", func(t *testing.T) {
		assert := require.New(t)
		got, err := GetDeviceNotification(ctx, DB(), "d1", n1.ID)
		assert.NoError(err)
		assert.Equal("temperature", got.Notification)

		_, err = GetDeviceNotification(ctx, DB(), "d1", n2.ID+1000)
		assert.Equal(ErrDoesNotExist, err)
	})

	ts.T().Run("List", func(t *testing.T) {
		assert := require.New(t)
		list, err := GetDeviceNotifications(ctx, DB(), MessageFilters{DeviceGUIDs: []string{"d1"}, Names: []string{"humidity"}})
		assert.NoError(err)
		assert.Len(list, 1)
		assert.Equal(n2.ID, list[0].ID)

		after := n2.Timestamp
		list, err = GetDeviceNotifications(ctx, DB(), MessageFilters{After: &after})
		assert.NoError(err)
		assert.Len(list, 0)
	})

	ts.T().Run("Invalid name", func(t *testing.T) {
		assert := require.New(t)
		assert.Error(CreateDeviceNotification(ctx, DB(), &DeviceNotification{DeviceGUID: "d1"}))
	})
}
