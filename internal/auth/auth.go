// Package auth resolves credentials into principals.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/logging"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

// Credentials holds the credentials presented by a client. Only one kind
// is expected to be set.
type Credentials struct {
	// Token is a JWT or an access key.
	Token     string
	AccessKey string
	Login     string
	Password  string

	DeviceGUID string
	DeviceKey  string

	ClientIP net.IP
	Origin   string
}

// Authenticator resolves credentials into principals.
type Authenticator struct {
	db               sqlx.Ext
	jwt              *JWTService
	hasher           PasswordHasher
	maxLoginAttempts int
}

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(db sqlx.Ext, jwt *JWTService, hasher PasswordHasher, maxLoginAttempts int) *Authenticator {
	return &Authenticator{
		db:               db,
		jwt:              jwt,
		hasher:           hasher,
		maxLoginAttempts: maxLoginAttempts,
	}
}

// JWT returns the JWT service.
func (a *Authenticator) JWT() *JWTService {
	return a.jwt
}

// Hasher returns the password hasher.
func (a *Authenticator) Hasher() PasswordHasher {
	return a.hasher
}

// Authenticate resolves the given credentials into a principal.
func (a *Authenticator) Authenticate(ctx context.Context, c Credentials) (*permission.Principal, error) {
	var p *permission.Principal
	var err error

	switch {
	case c.Token != "" && looksLikeJWT(c.Token):
		p, err = a.AuthenticateToken(ctx, c.Token)
	case c.Token != "":
		p, err = a.AuthenticateAccessKey(ctx, c.Token)
	case c.AccessKey != "":
		p, err = a.AuthenticateAccessKey(ctx, c.AccessKey)
	case c.Login != "":
		p, err = a.AuthenticateUser(ctx, c.Login, c.Password)
	case c.DeviceGUID != "":
		p, err = a.AuthenticateDevice(ctx, c.DeviceGUID, c.DeviceKey)
	default:
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		log.WithFields(log.Fields{
			"ctx_id": ctx.Value(logging.ContextIDKey),
		}).WithError(err).Debug("auth: authentication failed")
		return nil, err
	}

	p.ClientIP = c.ClientIP
	p.Origin = c.Origin
	return p, nil
}

// AuthenticateToken authenticates a JWT access token.
func (a *Authenticator) AuthenticateToken(ctx context.Context, token string) (*permission.Principal, error) {
	payload, err := a.jwt.ParseAccess(token)
	if err != nil {
		return nil, err
	}

	u, err := a.activeUser(ctx, payload.UserID)
	if err != nil {
		return nil, err
	}

	perms, err := a.restrictToUser(ctx, u, []permission.Permission{payload.Permission()})
	if err != nil {
		return nil, err
	}

	return &permission.Principal{
		Kind:        permission.KindJWT,
		UserID:      u.ID,
		Admin:       u.IsAdmin(),
		Permissions: perms,
	}, nil
}

// AuthenticateAccessKey authenticates an access key.
func (a *Authenticator) AuthenticateAccessKey(ctx context.Context, key string) (*permission.Principal, error) {
	ak, err := storage.GetAccessKeyByKey(ctx, a.db, key)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "get access key error")
	}
	if ak.Expired(time.Now()) {
		return nil, ErrTokenExpired
	}

	u, err := a.activeUser(ctx, ak.UserID)
	if err != nil {
		return nil, err
	}

	perms, err := a.restrictToUser(ctx, u, ak.Permissions)
	if err != nil {
		return nil, err
	}

	return &permission.Principal{
		Kind:        permission.KindAccessKey,
		UserID:      u.ID,
		Admin:       u.IsAdmin(),
		AccessKeyID: ak.ID,
		Permissions: perms,
	}, nil
}

// AuthenticateUser authenticates a login and password. Failed attempts are
// counted and lock the user once the configured maximum is reached.
func (a *Authenticator) AuthenticateUser(ctx context.Context, login, password string) (*permission.Principal, error) {
	u, err := a.CheckPassword(ctx, login, password)
	if err != nil {
		return nil, err
	}

	perms, err := a.UserPermissions(ctx, u)
	if err != nil {
		return nil, err
	}

	return &permission.Principal{
		Kind:        permission.KindUser,
		UserID:      u.ID,
		Admin:       u.IsAdmin(),
		Permissions: perms,
	}, nil
}

// Reload resolves the principal of already checked credentials again,
// against the current user record and assignments. The password of a
// login principal is not checked again, the user is resolved by its id.
func (a *Authenticator) Reload(ctx context.Context, c Credentials, p *permission.Principal) (*permission.Principal, error) {
	if p.Kind != permission.KindUser {
		return a.Authenticate(ctx, c)
	}

	u, err := a.activeUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	perms, err := a.UserPermissions(ctx, u)
	if err != nil {
		return nil, err
	}

	return &permission.Principal{
		Kind:        permission.KindUser,
		UserID:      u.ID,
		Admin:       u.IsAdmin(),
		Permissions: perms,
		ClientIP:    c.ClientIP,
		Origin:      c.Origin,
	}, nil
}

// CheckPassword returns the active user with the given login when the
// password matches.
func (a *Authenticator) CheckPassword(ctx context.Context, login, password string) (storage.User, error) {
	u, err := storage.GetUserByLogin(ctx, a.db, login)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return u, ErrInvalidCredentials
		}
		return u, errors.Wrap(err, "get user error")
	}
	if u.Status != storage.UserActive {
		return u, ErrUserInactive
	}

	ok, err := a.hasher.Compare(u.PasswordHash, password)
	if err != nil && err != ErrInvalidPasswordHash {
		return u, err
	}
	if !ok {
		if _, err := storage.RecordLoginFailure(ctx, a.db, u.ID, a.maxLoginAttempts); err != nil {
			return u, errors.Wrap(err, "record login failure error")
		}
		return u, ErrInvalidCredentials
	}

	if err := storage.RecordLoginSuccess(ctx, a.db, u.ID); err != nil {
		return u, errors.Wrap(err, "record login success error")
	}
	return u, nil
}

// AuthenticateDevice authenticates a device id and key.
func (a *Authenticator) AuthenticateDevice(ctx context.Context, guid, key string) (*permission.Principal, error) {
	d, err := storage.GetAndCacheDevice(ctx, a.db, guid)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "get device error")
	}
	if d.Key == nil || *d.Key == "" || subtle.ConstantTimeCompare([]byte(*d.Key), []byte(key)) != 1 {
		return nil, ErrInvalidCredentials
	}

	return &permission.Principal{
		Kind:       permission.KindDevice,
		DeviceGUID: d.GUID,
	}, nil
}

// UserPermissions returns the permissions a user holds by its role and
// assignments.
func (a *Authenticator) UserPermissions(ctx context.Context, u storage.User) ([]permission.Permission, error) {
	if u.IsAdmin() {
		return []permission.Permission{permission.AdminPermission()}, nil
	}

	networks, deviceTypes, err := a.userScope(ctx, u)
	if err != nil {
		return nil, err
	}

	return []permission.Permission{
		{
			Actions:       permission.ClientActions,
			NetworkIDs:    networks,
			DeviceTypeIDs: deviceTypes,
		},
	}, nil
}

// UserPayload returns the token payload granting the permissions of the
// user.
func (a *Authenticator) UserPayload(ctx context.Context, u storage.User) (Payload, error) {
	perms, err := a.UserPermissions(ctx, u)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		UserID:        u.ID,
		Actions:       perms[0].Actions,
		NetworkIDs:    perms[0].NetworkIDs,
		DeviceTypeIDs: perms[0].DeviceTypeIDs,
	}, nil
}

// RestrictPayload narrows the payload to what the user currently holds.
func (a *Authenticator) RestrictPayload(ctx context.Context, u storage.User, p Payload) (Payload, error) {
	perms, err := a.restrictToUser(ctx, u, []permission.Permission{p.Permission()})
	if err != nil {
		return p, err
	}
	p.Actions = perms[0].Actions
	p.NetworkIDs = perms[0].NetworkIDs
	p.DeviceTypeIDs = perms[0].DeviceTypeIDs
	return p, nil
}

// Refresh issues a new access token for a valid refresh token.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	payload, err := a.jwt.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	u, err := a.activeUser(ctx, payload.UserID)
	if err != nil {
		return TokenPair{}, err
	}

	payload, err = a.RestrictPayload(ctx, u, payload)
	if err != nil {
		return TokenPair{}, err
	}
	payload.Expiration = nil

	token, err := a.jwt.Sign(payload, AccessToken)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: token}, nil
}

func (a *Authenticator) activeUser(ctx context.Context, id int64) (storage.User, error) {
	u, err := storage.GetUser(ctx, a.db, id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return u, ErrInvalidCredentials
		}
		return u, errors.Wrap(err, "get user error")
	}
	if u.Status != storage.UserActive {
		return u, ErrUserInactive
	}
	return u, nil
}

func (a *Authenticator) userScope(ctx context.Context, u storage.User) (*permission.IDSet, *permission.IDSet, error) {
	networkIDs, err := storage.GetUserNetworkIDs(ctx, a.db, u.ID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get user networks error")
	}

	deviceTypes := permission.AllIDs()
	if !u.AllDeviceTypesAvailable {
		ids, err := storage.GetUserDeviceTypeIDs(ctx, a.db, u.ID)
		if err != nil {
			return nil, nil, errors.Wrap(err, "get user device-types error")
		}
		deviceTypes = permission.NewIDSet(ids...)
	}

	return permission.NewIDSet(networkIDs...), deviceTypes, nil
}

// restrictToUser intersects the permissions with the current assignments
// of a client user. The actions are limited to the client action set.
func (a *Authenticator) restrictToUser(ctx context.Context, u storage.User, perms []permission.Permission) ([]permission.Permission, error) {
	if u.IsAdmin() {
		return perms, nil
	}

	networks, deviceTypes, err := a.userScope(ctx, u)
	if err != nil {
		return nil, err
	}

	out := permission.Restrict(perms, networks, deviceTypes)
	for i := range out {
		out[i].Actions = clientActions(out[i].Actions)
	}
	return out, nil
}

func clientActions(actions []permission.Action) []permission.Action {
	var out []permission.Action
	for _, a := range actions {
		if a == permission.Any {
			return permission.ClientActions
		}
		for _, ca := range permission.ClientActions {
			if a == ca {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// GenerateKey returns a new random access-key value.
func GenerateKey() (string, error) {
	var b []byte
	for i := 0; i < 2; i++ {
		id, err := uuid.NewV4()
		if err != nil {
			return "", errors.Wrap(err, "new uuid error")
		}
		b = append(b, id.Bytes()...)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func looksLikeJWT(s string) bool {
	return strings.Count(s, ".") == 2
}
