package storage_test

import (
	. "github.com/devicehive/devicehive-server/internal/storage"

	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func (ts *StorageTestSuite) TestNetworkAndDeviceType() {
	assert := require.New(ts.T())
	ctx := context.Background()

	n := Network{Name: "net-a", Description: strPtr("first")}
	assert.NoError(CreateNetwork(ctx, DB(), &n))
	assert.Equal(ErrAlreadyExists, CreateNetwork(ctx, DB(), &Network{Name: "net-a"}))

	dt := DeviceType{
		Name: "dt-a",
		Equipment: EquipmentList{
			{Name: "Temp", Code: "temp", Type: "sensor"},
		},
	}
	assert.NoError(CreateDeviceType(ctx, DB(), &dt))
	assert.Equal(ErrAlreadyExists, CreateDeviceType(ctx, DB(), &DeviceType{Name: "dt-a"}))

	d := Device{GUID: "dev-1", Name: "Device 1", NetworkID: &n.ID, DeviceTypeID: &dt.ID}
	assert.NoError(CreateDevice(ctx, DB(), d))

	ts.T().Run("Get device type", func(t *testing.T) {
		assert := require.New(t)
		got, err := GetDeviceType(ctx, DB(), dt.ID)
		assert.NoError(err)
		assert.Equal(dt.Equipment, got.Equipment)
	})

	ts.T().Run("Existing ids", func(t *testing.T) {
		assert := require.New(t)
		ids, err := GetExistingNetworkIDs(ctx, DB(), []int64{n.ID, n.ID + 100})
		assert.NoError(err)
		assert.Equal([]int64{n.ID}, ids)

		ids, err = GetExistingDeviceTypeIDs(ctx, DB(), []int64{dt.ID + 100})
		assert.NoError(err)
		assert.Len(ids, 0)
	})

	ts.T().Run("Visibility", func(t *testing.T) {
		assert := require.New(t)
		other := Network{Name: "net-b"}
		assert.NoError(CreateNetwork(ctx, DB(), &other))

		networks, err := GetNetworks(ctx, DB(), NetworkFilters{Visible: &Visibility{Clauses: []VisibilityClause{{NetworkIDs: []int64{other.ID}}}}})
		assert.NoError(err)
		assert.Len(networks, 1)
		assert.Equal("net-b", networks[0].Name)

		count, err := GetNetworkCount(ctx, DB(), NetworkFilters{Visible: &Visibility{}})
		assert.NoError(err)
		assert.Equal(0, count)

		count, err = GetNetworkCount(ctx, DB(), NetworkFilters{NamePattern: "net-%"})
		assert.NoError(err)
		assert.Equal(2, count)
	})

	ts.T().Run("Delete network detaches devices", func(t *testing.T) {
		assert := require.New(t)
		guids, err := DeleteNetwork(ctx, DB(), n.ID)
		assert.NoError(err)
		assert.Equal([]string{"dev-1"}, guids)

		got, err := GetDevice(ctx, DB(), "dev-1")
		assert.NoError(err)
		assert.Nil(got.NetworkID)

		_, err = DeleteNetwork(ctx, DB(), n.ID)
		assert.Equal(ErrDoesNotExist, err)
	})

	ts.T().Run("Delete device type detaches devices", func(t *testing.T) {
		assert := require.New(t)
		guids, err := DeleteDeviceType(ctx, DB(), dt.ID)
		assert.NoError(err)
		assert.Equal([]string{"dev-1"}, guids)

		got, err := GetDevice(ctx, DB(), "dev-1")
		assert.NoError(err)
		assert.Nil(got.DeviceTypeID)
	})
}

func (ts *StorageTestSuite) TestDevice() {
	assert := require.New(ts.T())
	ctx := context.Background()

	n1 := Network{Name: "n1"}
	n2 := Network{Name: "n2"}
	assert.NoError(CreateNetwork(ctx, DB(), &n1))
	assert.NoError(CreateNetwork(ctx, DB(), &n2))
	dt := DeviceType{Name: "dt"}
	assert.NoError(CreateDeviceType(ctx, DB(), &dt))

	devices := []Device{
		{GUID: "a", Name: "alpha", Key: strPtr("secret"), NetworkID: &n1.ID, DeviceTypeID: &dt.ID},
		{GUID: "b", Name: "beta", NetworkID: &n2.ID},
		{GUID: "c", Name: "gamma"},
	}
	for _, d := range devices {
		assert.NoError(CreateDevice(ctx, DB(), d))
	}

	ts.T().Run("Invalid guid", func(t *testing.T) {
		assert := require.New(t)
		assert.Error(CreateDevice(ctx, DB(), Device{GUID: "not valid!", Name: "x"}))
	})

	ts.T().Run("Update", func(t *testing.T) {
		assert := require.New(t)
		d := devices[1]
		d.Name = "beta-2"
		d.IsBlocked = true
		assert.NoError(UpdateDevice(ctx, DB(), d))

		got, err := GetDevice(ctx, DB(), "b")
		assert.NoError(err)
		assert.Equal("beta-2", got.Name)
		assert.True(got.IsBlocked)

		assert.Equal(ErrDoesNotExist, UpdateDevice(ctx, DB(), Device{GUID: "zzz", Name: "z"}))
	})

	ts.T().Run("Visibility", func(t *testing.T) {
		assert := require.New(t)

		tests := []struct {
			Name     string
			Visible  *Visibility
			Expected []string
		}{
			{"unrestricted", nil, []string{"a", "b", "c"}},
			{"no clauses", &Visibility{}, []string{}},
			{"all networks", &Visibility{Clauses: []VisibilityClause{{AllNetworks: true, AllDeviceTypes: true}}}, []string{"a", "b", "c"}},
			{"network n1", &Visibility{Clauses: []VisibilityClause{{NetworkIDs: []int64{n1.ID}, AllDeviceTypes: true}}}, []string{"a"}},
			{"network n1 without device types", &Visibility{Clauses: []VisibilityClause{{NetworkIDs: []int64{n1.ID, n2.ID}}}}, []string{"b"}},
			{"guid narrowing", &Visibility{Clauses: []VisibilityClause{{AllNetworks: true, AllDeviceTypes: true, DeviceGUIDs: []string{"c"}}}}, []string{"c"}},
			{"two clauses", &Visibility{Clauses: []VisibilityClause{
				{NetworkIDs: []int64{n1.ID}, AllDeviceTypes: true},
				{AllNetworks: true, AllDeviceTypes: true, DeviceGUIDs: []string{"c"}},
			}}, []string{"a", "c"}},
		}

		for _, tst := range tests {
			guids, err := GetDeviceGUIDs(ctx, DB(), DeviceFilters{Visible: tst.Visible})
			assert.NoError(err, tst.Name)
			if len(tst.Expected) == 0 {
				assert.Len(guids, 0, tst.Name)
				continue
			}
			assert.Equal(tst.Expected, guids, tst.Name)
		}
	})

	ts.T().Run("List and count", func(t *testing.T) {
		assert := require.New(t)

		list, err := GetDevices(ctx, DB(), DeviceFilters{NetworkID: &n1.ID})
		assert.NoError(err)
		assert.Len(list, 1)
		assert.Equal("a", list[0].GUID)

		list, err = GetDevices(ctx, DB(), DeviceFilters{ListOptions: ListOptions{SortField: "name", SortOrder: SortDESC, Take: 2, Skip: 1}})
		assert.NoError(err)
		assert.Len(list, 2)
		assert.Equal("beta-2", list[0].Name)

		count, err := GetDeviceCount(ctx, DB(), DeviceFilters{NetworkName: "n2"})
		assert.NoError(err)
		assert.Equal(1, count)

		list, err = GetDevicesByGUIDs(ctx, DB(), []string{"a", "zzz"})
		assert.NoError(err)
		assert.Len(list, 1)
	})

	ts.T().Run("Cache", func(t *testing.T) {
		assert := require.New(t)

		_, err := GetDeviceCache(ctx, "a")
		assert.Equal(ErrDoesNotExist, err)

		d, err := GetAndCacheDevice(ctx, DB(), "a")
		assert.NoError(err)
		assert.Equal("secret", *d.Key)

		cached, err := GetDeviceCache(ctx, "a")
		assert.NoError(err)
		assert.Equal(d, cached)

		assert.NoError(FlushDeviceCache(ctx, "a"))
		_, err = GetDeviceCache(ctx, "a")
		assert.Equal(ErrDoesNotExist, err)

		_, err = GetAndCacheDevice(ctx, DB(), "unknown")
		assert.Equal(ErrDoesNotExist, err)
	})

	ts.T().Run("Equipment", func(t *testing.T) {
		assert := require.New(t)

		ts1 := time.Now().UTC().Truncate(time.Millisecond)
		assert.NoError(SaveDeviceEquipment(ctx, DB(), DeviceEquipment{DeviceGUID: "a", Code: "temp", Timestamp: ts1, Parameters: JSONB(`{"v":1}`)}))
		assert.NoError(SaveDeviceEquipment(ctx, DB(), DeviceEquipment{DeviceGUID: "a", Code: "temp", Timestamp: ts1.Add(time.Second), Parameters: JSONB(`{"v":2}`)}))

		eq, err := GetDeviceEquipment(ctx, DB(), "a", "temp")
		assert.NoError(err)
		assert.JSONEq(`{"v":2}`, string(eq.Parameters))
		assert.True(eq.Timestamp.Equal(ts1.Add(time.Second)))

		items, err := GetDeviceEquipments(ctx, DB(), "a")
		assert.NoError(err)
		assert.Len(items, 1)

		_, err = GetDeviceEquipment(ctx, DB(), "a", "humidity")
		assert.Equal(ErrDoesNotExist, err)
	})

	ts.T().Run("Delete", func(t *testing.T) {
		assert := require.New(t)
		assert.NoError(DeleteDevice(ctx, DB(), "a"))
		assert.Equal(ErrDoesNotExist, DeleteDevice(ctx, DB(), "a"))
	})
}
