package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/test"
)

type AuthenticatorTestSuite struct {
	suite.Suite

	auth    *Authenticator
	admin   storage.User
	client  storage.User
	network storage.Network
}

func (ts *AuthenticatorTestSuite) SetupSuite() {
	conf := test.GetConfig()
	if err := storage.Setup(conf); err != nil {
		panic(err)
	}

	ts.auth = NewAuthenticator(
		storage.DB(),
		NewJWTService(conf.Auth.JWT.Secret, time.Minute, time.Hour),
		PasswordHasher{Time: 1, Memory: 1024, Threads: 1, KeyLength: 16},
		3,
	)
}

func (ts *AuthenticatorTestSuite) SetupTest() {
	assert := require.New(ts.T())
	ctx := context.Background()

	test.MustResetDB(storage.DB().DB.DB)
	test.MustFlushRedis(storage.RedisClient())

	hash, err := ts.auth.Hasher().Hash("password")
	assert.NoError(err)

	ts.admin = storage.User{Login: "admin", PasswordHash: hash, Role: storage.RoleAdmin}
	assert.NoError(storage.CreateUser(ctx, storage.DB(), &ts.admin))

	ts.client = storage.User{Login: "client", PasswordHash: hash, Role: storage.RoleClient}
	assert.NoError(storage.CreateUser(ctx, storage.DB(), &ts.client))

	ts.network = storage.Network{Name: "net"}
	assert.NoError(storage.CreateNetwork(ctx, storage.DB(), &ts.network))
	assert.NoError(storage.AssignUserNetwork(ctx, storage.DB(), ts.client.ID, ts.network.ID))
}

func (ts *AuthenticatorTestSuite) TestAuthenticateUser() {
	ctx := context.Background()

	ts.T().Run("Admin", func(t *testing.T) {
		assert := require.New(t)
		p, err := ts.auth.Authenticate(ctx, Credentials{Login: "admin", Password: "password"})
		assert.NoError(err)
		assert.True(p.Admin)
		assert.Equal(permission.KindUser, p.Kind)
		assert.True(permission.Allowed(p, permission.ManageUser, permission.Scope{}))
	})

	ts.T().Run("Client", func(t *testing.T) {
		assert := require.New(t)
		p, err := ts.auth.Authenticate(ctx, Credentials{Login: "client", Password: "password"})
		assert.NoError(err)
		assert.False(p.Admin)
		assert.True(permission.Allowed(p, permission.GetNetwork, permission.NetworkScope(ts.network.ID)))
		assert.False(permission.Allowed(p, permission.GetNetwork, permission.NetworkScope(ts.network.ID+1)))
		assert.False(permission.Allowed(p, permission.ManageUser, permission.Scope{}))

		u, err := storage.GetUser(ctx, storage.DB(), ts.client.ID)
		assert.NoError(err)
		assert.NotNil(u.LastLogin)
	})

	ts.T().Run("Unknown login", func(t *testing.T) {
		assert := require.New(t)
		_, err := ts.auth.Authenticate(ctx, Credentials{Login: "nobody", Password: "password"})
		assert.Equal(ErrInvalidCredentials, err)
	})

	ts.T().Run("Lockout", func(t *testing.T) {
		assert := require.New(t)
		for i := 0; i < 3; i++ {
			_, err := ts.auth.Authenticate(ctx, Credentials{Login: "client", Password: "wrong"})
			assert.Equal(ErrInvalidCredentials, err)
		}

		_, err := ts.auth.Authenticate(ctx, Credentials{Login: "client", Password: "password"})
		assert.Equal(ErrUserInactive, err)

		u, err := storage.GetUser(ctx, storage.DB(), ts.client.ID)
		assert.NoError(err)
		assert.Equal(storage.UserLocked, u.Status)
	})
}

func (ts *AuthenticatorTestSuite) TestAuthenticateToken() {
	assert := require.New(ts.T())
	ctx := context.Background()

	payload := Payload{
		UserID:        ts.client.ID,
		Actions:       []permission.Action{permission.Any},
		NetworkIDs:    permission.AllIDs(),
		DeviceTypeIDs: permission.AllIDs(),
	}
	pair, err := ts.auth.JWT().SignPair(payload)
	assert.NoError(err)

	ts.T().Run("Access token is narrowed to the user", func(t *testing.T) {
		assert := require.New(t)
		p, err := ts.auth.Authenticate(ctx, Credentials{Token: pair.AccessToken})
		assert.NoError(err)
		assert.Equal(permission.KindJWT, p.Kind)
		assert.Equal([]int64{ts.network.ID}, p.Permissions[0].NetworkIDs.IDs())
		assert.False(permission.Allowed(p, permission.ManageNetwork, permission.NetworkScope(ts.network.ID)))
		assert.True(permission.Allowed(p, permission.GetNetwork, permission.NetworkScope(ts.network.ID)))
	})

	ts.T().Run("Refresh token is rejected", func(t *testing.T) {
		assert := require.New(t)
		_, err := ts.auth.Authenticate(ctx, Credentials{Token: pair.RefreshToken})
		assert.Equal(ErrInvalidTokenType, err)
	})

	ts.T().Run("Refresh", func(t *testing.T) {
		assert := require.New(t)
		out, err := ts.auth.Refresh(ctx, pair.RefreshToken)
		assert.NoError(err)
		assert.Empty(out.RefreshToken)

		_, err = ts.auth.Authenticate(ctx, Credentials{Token: out.AccessToken})
		assert.NoError(err)

		_, err = ts.auth.Refresh(ctx, pair.AccessToken)
		assert.Equal(ErrInvalidTokenType, err)
	})

	ts.T().Run("Disabled user", func(t *testing.T) {
		assert := require.New(t)
		u := ts.client
		u.Status = storage.UserDisabled
		assert.NoError(storage.UpdateUser(ctx, storage.DB(), &u))

		_, err := ts.auth.Authenticate(ctx, Credentials{Token: pair.AccessToken})
		assert.Equal(ErrUserInactive, err)
	})
}

func (ts *AuthenticatorTestSuite) TestReload() {
	ctx := context.Background()

	ts.T().Run("Login principal follows the assignments", func(t *testing.T) {
		assert := require.New(t)
		creds := Credentials{Login: "client", Password: "password"}
		p, err := ts.auth.Authenticate(ctx, creds)
		assert.NoError(err)
		assert.True(permission.Allowed(p, permission.GetNetwork, permission.NetworkScope(ts.network.ID)))

		assert.NoError(storage.UnassignUserNetwork(ctx, storage.DB(), ts.client.ID, ts.network.ID))

		// the password is not checked again
		creds.Password = ""
		p, err = ts.auth.Reload(ctx, creds, p)
		assert.NoError(err)
		assert.Equal(permission.KindUser, p.Kind)
		assert.Equal(ts.client.ID, p.UserID)
		assert.False(permission.Allowed(p, permission.GetNetwork, permission.NetworkScope(ts.network.ID)))

		u, err := storage.GetUser(ctx, storage.DB(), ts.client.ID)
		assert.NoError(err)
		assert.Equal(0, u.LoginAttempts)
	})

	ts.T().Run("Token principal follows the assignments", func(t *testing.T) {
		assert := require.New(t)
		assert.NoError(storage.AssignUserNetwork(ctx, storage.DB(), ts.client.ID, ts.network.ID))

		pair, err := ts.auth.JWT().SignPair(Payload{
			UserID:        ts.client.ID,
			Actions:       []permission.Action{permission.Any},
			NetworkIDs:    permission.AllIDs(),
			DeviceTypeIDs: permission.AllIDs(),
		})
		assert.NoError(err)

		creds := Credentials{Token: pair.AccessToken}
		p, err := ts.auth.Authenticate(ctx, creds)
		assert.NoError(err)
		assert.True(permission.Allowed(p, permission.GetNetwork, permission.NetworkScope(ts.network.ID)))

		assert.NoError(storage.UnassignUserNetwork(ctx, storage.DB(), ts.client.ID, ts.network.ID))
		p, err = ts.auth.Reload(ctx, creds, p)
		assert.NoError(err)
		assert.False(permission.Allowed(p, permission.GetNetwork, permission.NetworkScope(ts.network.ID)))
	})

	ts.T().Run("Disabled user", func(t *testing.T) {
		assert := require.New(t)
		p, err := ts.auth.Authenticate(ctx, Credentials{Login: "client", Password: "password"})
		assert.NoError(err)

		u := ts.client
		u.Status = storage.UserDisabled
		assert.NoError(storage.UpdateUser(ctx, storage.DB(), &u))

		_, err = ts.auth.Reload(ctx, Credentials{Login: "client"}, p)
		assert.Equal(ErrUserInactive, err)
	})
}

func (ts *AuthenticatorTestSuite) TestAuthenticateAccessKey() {
	assert := require.New(ts.T())
	ctx := context.Background()

	key, err := GenerateKey()
	assert.NoError(err)

	ak := storage.AccessKey{
		UserID: ts.admin.ID,
		Label:  "key",
		Key:    key,
		Permissions: storage.PermissionList{
			{
				Actions:    []permission.Action{permission.GetDevice},
				NetworkIDs: permission.NewIDSet(ts.network.ID),
				Subnets:    []string{"10.0.0.0/8"},
			},
		},
	}
	assert.NoError(storage.CreateAccessKey(ctx, storage.DB(), &ak))

	p, err := ts.auth.Authenticate(ctx, Credentials{Token: key, ClientIP: []byte{10, 1, 2, 3}})
	assert.NoError(err)
	assert.Equal(permission.KindAccessKey, p.Kind)
	assert.Equal(ak.ID, p.AccessKeyID)
	assert.True(permission.CanAny(p, permission.GetDevice))
	assert.False(permission.CanAny(p, permission.GetNetwork))

	p, err = ts.auth.Authenticate(ctx, Credentials{AccessKey: key, ClientIP: []byte{192, 168, 0, 1}})
	assert.NoError(err)
	assert.False(permission.CanAny(p, permission.GetDevice))

	_, err = ts.auth.Authenticate(ctx, Credentials{AccessKey: "unknown"})
	assert.Equal(ErrInvalidCredentials, err)

	exp := time.Now().Add(-time.Minute)
	ak.ExpirationDate = &exp
	assert.NoError(storage.UpdateAccessKey(ctx, storage.DB(), ak))
	_, err = ts.auth.Authenticate(ctx, Credentials{AccessKey: key})
	assert.Equal(ErrTokenExpired, err)
}

func (ts *AuthenticatorTestSuite) TestAuthenticateDevice() {
	assert := require.New(ts.T())
	ctx := context.Background()

	key := "device-secret"
	assert.NoError(storage.CreateDevice(ctx, storage.DB(), storage.Device{GUID: "dev-1", Name: "dev", Key: &key, NetworkID: &ts.network.ID}))
	assert.NoError(storage.CreateDevice(ctx, storage.DB(), storage.Device{GUID: "dev-2", Name: "dev"}))

	p, err := ts.auth.Authenticate(ctx, Credentials{DeviceGUID: "dev-1", DeviceKey: key})
	assert.NoError(err)
	assert.Equal(permission.KindDevice, p.Kind)
	assert.True(permission.Allowed(p, permission.CreateDeviceNotification, permission.DeviceScope("dev-1", &ts.network.ID, nil)))
	assert.False(permission.Allowed(p, permission.CreateDeviceNotification, permission.DeviceScope("dev-2", nil, nil)))

	_, err = ts.auth.Authenticate(ctx, Credentials{DeviceGUID: "dev-1", DeviceKey: "wrong"})
	assert.Equal(ErrInvalidCredentials, err)

	// a device without key can not authenticate
	_, err = ts.auth.Authenticate(ctx, Credentials{DeviceGUID: "dev-2"})
	assert.Equal(ErrInvalidCredentials, err)
}

func TestAuthenticator(t *testing.T) {
	suite.Run(t, new(AuthenticatorTestSuite))
}
