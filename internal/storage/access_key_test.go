package storage_test

import (
	. "github.com/devicehive/devicehive-server/internal/storage"

	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devicehive/devicehive-server/internal/permission"
)

func (ts *StorageTestSuite) TestAccessKey() {
	assert := require.New(ts.T())
	ctx := context.Background()

	u := User{Login: "keys", Role: RoleClient}
	assert.NoError(CreateUser(ctx, DB(), &u))

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	k := AccessKey{
		UserID:         u.ID,
		Label:          "label",
		Key:            "abcdef",
		ExpirationDate: &exp,
		Permissions: PermissionList{
			{
				Actions:    []permission.Action{permission.GetDevice},
				NetworkIDs: permission.NewIDSet(1, 2),
			},
		},
	}
	assert.NoError(CreateAccessKey(ctx, DB(), &k))

	ts.T().Run("Get by key", func(t *testing.T) {
		assert := require.New(t)
		got, err := GetAccessKeyByKey(ctx, DB(), "abcdef")
		assert.NoError(err)
		assert.Equal(k.ID, got.ID)
		assert.Len(got.Permissions, 1)
		assert.Equal([]int64{1, 2}, got.Permissions[0].NetworkIDs.IDs())
		assert.Nil(got.Permissions[0].DeviceTypeIDs)
		assert.False(got.Expired(time.Now()))
		assert.True(got.Expired(time.Now().Add(2 * time.Hour)))
	})

	ts.T().Run("Update", func(t *testing.T) {
		assert := require.New(t)
		k.Label = "renamed"
		assert.NoError(UpdateAccessKey(ctx, DB(), k))

		got, err := GetUserAccessKey(ctx, DB(), u.ID, k.ID)
		assert.NoError(err)
		assert.Equal("renamed", got.Label)
	})

	ts.T().Run("List", func(t *testing.T) {
		assert := require.New(t)
		keys, err := GetUserAccessKeys(ctx, DB(), u.ID)
		assert.NoError(err)
		assert.Len(keys, 1)
	})

	ts.T().Run("Delete is idempotent", func(t *testing.T) {
		assert := require.New(t)
		assert.NoError(DeleteAccessKey(ctx, DB(), u.ID, k.ID))
		assert.NoError(DeleteAccessKey(ctx, DB(), u.ID, k.ID))

		_, err := GetAccessKeyByKey(ctx, DB(), "abcdef")
		assert.Equal(ErrDoesNotExist, err)
	})
}

func (ts *StorageTestSuite) TestConfiguration() {
	assert := require.New(ts.T())
	ctx := context.Background()

	c, err := SaveConfiguration(ctx, DB(), "max_items", "10")
	assert.NoError(err)
	assert.EqualValues(0, c.EntityVersion)

	c, err = SaveConfiguration(ctx, DB(), "max_items", "20")
	assert.NoError(err)
	assert.EqualValues(1, c.EntityVersion)
	assert.Equal("20", c.Value)

	c, err = GetConfiguration(ctx, DB(), "max_items")
	assert.NoError(err)
	assert.Equal("20", c.Value)

	assert.NoError(DeleteConfiguration(ctx, DB(), "max_items"))
	assert.NoError(DeleteConfiguration(ctx, DB(), "max_items"))

	_, err = GetConfiguration(ctx, DB(), "max_items")
	assert.Equal(ErrDoesNotExist, err)
}

func (ts *StorageTestSuite) TestPluginAndOAuth() {
	assert := require.New(ts.T())
	ctx := context.Background()

	u := User{Login: "owner", Role: RoleAdmin}
	assert.NoError(CreateUser(ctx, DB(), &u))

	ts.T().Run("Plugin", func(t *testing.T) {
		assert := require.New(t)
		p := Plugin{Name: "p1", TopicName: "plugin_topic_1", Filter: "notification/*/*/*/*", Status: PluginActive, UserID: u.ID}
		assert.NoError(CreatePlugin(ctx, DB(), &p))
		assert.Equal(ErrAlreadyExists, CreatePlugin(ctx, DB(), &Plugin{Name: "p1", TopicName: "other", Status: PluginActive, UserID: u.ID}))

		p.Status = PluginInactive
		assert.NoError(UpdatePlugin(ctx, DB(), p))

		got, err := GetPluginByTopic(ctx, DB(), "plugin_topic_1")
		assert.NoError(err)
		assert.Equal(PluginInactive, got.Status)

		count, err := GetPluginCount(ctx, DB(), PluginFilters{Status: PluginInactive})
		assert.NoError(err)
		assert.Equal(1, count)

		list, err := GetPlugins(ctx, DB(), PluginFilters{UserID: &u.ID})
		assert.NoError(err)
		assert.Len(list, 1)

		assert.NoError(DeletePlugin(ctx, DB(), "plugin_topic_1"))
		assert.NoError(DeletePlugin(ctx, DB(), "plugin_topic_1"))
	})

	ts.T().Run("OAuth", func(t *testing.T) {
		assert := require.New(t)
		c := OAuthClient{Name: "client", Domain: "example.com", RedirectURI: "https://example.com/cb", OAuthID: "oid", OAuthSecret: "secret"}
		assert.NoError(CreateOAuthClient(ctx, DB(), &c))

		clients, err := GetOAuthClients(ctx, DB(), OAuthClientFilters{OAuthID: "oid"})
		assert.NoError(err)
		assert.Len(clients, 1)

		g := OAuthGrant{ClientID: c.ID, UserID: u.ID, Type: "token", AccessType: "online", RedirectURI: c.RedirectURI, Scope: "GetDevice", NetworkIDs: []int64{1}}
		assert.NoError(CreateOAuthGrant(ctx, DB(), &g))

		got, err := GetOAuthGrant(ctx, DB(), u.ID, g.ID)
		assert.NoError(err)
		assert.Equal([]int64{1}, []int64(got.NetworkIDs))

		g.Scope = "GetNetwork"
		assert.NoError(UpdateOAuthGrant(ctx, DB(), g))

		grants, err := GetOAuthGrants(ctx, DB(), OAuthGrantFilters{UserID: &u.ID})
		assert.NoError(err)
		assert.Len(grants, 1)
		assert.Equal("GetNetwork", grants[0].Scope)

		assert.NoError(DeleteOAuthGrant(ctx, DB(), u.ID, g.ID))
		assert.NoError(DeleteOAuthClient(ctx, DB(), c.ID))
		assert.NoError(DeleteOAuthClient(ctx, DB(), c.ID))
	})
}
