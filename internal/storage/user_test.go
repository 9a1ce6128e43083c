package storage_test

import (
	. "github.com/devicehive/devicehive-server/internal/storage"

	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func (ts *StorageTestSuite) TestUser() {
	ctx := context.Background()

	ts.T().Run("Create", func(t *testing.T) {
		assert := require.New(t)

		u := User{
			Login:        "alice",
			PasswordHash: "hash",
			Role:         RoleClient,
			Status:       UserActive,
			Data:         JSONB(`{"team":"a"}`),
		}
		assert.NoError(CreateUser(ctx, DB(), &u))
		assert.NotZero(u.ID)

		t.Run("Duplicate login", func(t *testing.T) {
			assert := require.New(t)
			dup := User{Login: "alice", Role: RoleClient}
			assert.Equal(ErrAlreadyExists, CreateUser(ctx, DB(), &dup))
		})

		t.Run("Get", func(t *testing.T) {
			assert := require.New(t)
			got, err := GetUser(ctx, DB(), u.ID)
			assert.NoError(err)
			assert.Equal("alice", got.Login)
			assert.JSONEq(`{"team":"a"}`, string(got.Data))

			got, err = GetUserByLogin(ctx, DB(), "alice")
			assert.NoError(err)
			assert.Equal(u.ID, got.ID)
		})

		t.Run("Login failures lock the user", func(t *testing.T) {
			assert := require.New(t)

			status, err := RecordLoginFailure(ctx, DB(), u.ID, 2)
			assert.NoError(err)
			assert.Equal(UserActive, status)

			status, err = RecordLoginFailure(ctx, DB(), u.ID, 2)
			assert.NoError(err)
			assert.Equal(UserLocked, status)

			got, err := GetUser(ctx, DB(), u.ID)
			assert.NoError(err)
			assert.Equal(2, got.LoginAttempts)
			assert.Equal(UserLocked, got.Status)
		})

		t.Run("Login success resets the counter", func(t *testing.T) {
			assert := require.New(t)
			assert.NoError(RecordLoginSuccess(ctx, DB(), u.ID))

			got, err := GetUser(ctx, DB(), u.ID)
			assert.NoError(err)
			assert.Equal(0, got.LoginAttempts)
			assert.NotNil(got.LastLogin)
		})

		t.Run("Network assignment", func(t *testing.T) {
			assert := require.New(t)

			n := Network{Name: "user-net"}
			assert.NoError(CreateNetwork(ctx, DB(), &n))

			assert.NoError(AssignUserNetwork(ctx, DB(), u.ID, n.ID))
			assert.NoError(AssignUserNetwork(ctx, DB(), u.ID, n.ID))

			ids, err := GetUserNetworkIDs(ctx, DB(), u.ID)
			assert.NoError(err)
			assert.Equal([]int64{n.ID}, ids)

			networks, err := GetUserNetworks(ctx, DB(), u.ID)
			assert.NoError(err)
			assert.Len(networks, 1)
			assert.Equal("user-net", networks[0].Name)

			assert.NoError(UnassignUserNetwork(ctx, DB(), u.ID, n.ID))
			assert.Equal(ErrDoesNotExist, UnassignUserNetwork(ctx, DB(), u.ID, n.ID))
		})

		t.Run("Device-type assignment", func(t *testing.T) {
			assert := require.New(t)

			dt := DeviceType{Name: "user-dt"}
			assert.NoError(CreateDeviceType(ctx, DB(), &dt))

			assert.NoError(SetAllDeviceTypesAvailable(ctx, DB(), u.ID, false))
			assert.NoError(AssignUserDeviceType(ctx, DB(), u.ID, dt.ID))

			ids, err := GetUserDeviceTypeIDs(ctx, DB(), u.ID)
			assert.NoError(err)
			assert.Equal([]int64{dt.ID}, ids)

			dts, err := GetUserDeviceTypes(ctx, DB(), u.ID)
			assert.NoError(err)
			assert.Len(dts, 1)

			assert.NoError(SetAllDeviceTypesAvailable(ctx, DB(), u.ID, false))
			ids, err = GetUserDeviceTypeIDs(ctx, DB(), u.ID)
			assert.NoError(err)
			assert.Len(ids, 0)
		})

		t.Run("List", func(t *testing.T) {
			assert := require.New(t)

			other := User{Login: "bob", Role: RoleAdmin}
			assert.NoError(CreateUser(ctx, DB(), &other))

			users, err := GetUsers(ctx, DB(), UserFilters{LoginPattern: "a%"})
			assert.NoError(err)
			assert.Len(users, 1)
			assert.Equal("alice", users[0].Login)

			role := RoleAdmin
			count, err := GetUserCount(ctx, DB(), UserFilters{Role: &role})
			assert.NoError(err)
			assert.Equal(1, count)

			users, err = GetUsers(ctx, DB(), UserFilters{ListOptions: ListOptions{SortField: "login", SortOrder: "desc", Take: 1}})
			assert.NoError(err)
			assert.Len(users, 1)
			assert.Equal("bob", users[0].Login)

			_, err = GetUsers(ctx, DB(), UserFilters{ListOptions: ListOptions{SortField: "password_hash"}})
			assert.Equal(ErrInvalidSortField, err)
		})

		t.Run("Update", func(t *testing.T) {
			assert := require.New(t)

			u.IntroReviewed = true
			u.Status = UserActive
			assert.NoError(UpdateUser(ctx, DB(), &u))

			got, err := GetUser(ctx, DB(), u.ID)
			assert.NoError(err)
			assert.True(got.IntroReviewed)
		})

		t.Run("Delete", func(t *testing.T) {
			assert := require.New(t)
			assert.NoError(DeleteUser(ctx, DB(), u.ID))
			assert.Equal(ErrDoesNotExist, DeleteUser(ctx, DB(), u.ID))

			_, err := GetUser(ctx, DB(), u.ID)
			assert.Equal(ErrDoesNotExist, err)
		})
	})
}
