package directory

import (
	"context"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

// OAuthClientUpdate holds the fields of a partial OAuth client update.
type OAuthClientUpdate struct {
	Name        *string `json:"name"`
	Domain      *string `json:"domain"`
	Subnet      *string `json:"subnet"`
	RedirectURI *string `json:"redirectUri"`
	OAuthID     *string `json:"oauthId"`
}

// OAuthGrantUpdate holds the fields of an OAuth grant create or partial
// update.
type OAuthGrantUpdate struct {
	ClientID    *int64   `json:"clientId"`
	Type        *string  `json:"type"`
	AccessType  *string  `json:"accessType"`
	RedirectURI *string  `json:"redirectUri"`
	Scope       *string  `json:"scope"`
	NetworkIDs  *[]int64 `json:"networkIds"`
}

// OAuthGrantWithKey is a grant together with the access key it issued.
type OAuthGrantWithKey struct {
	storage.OAuthGrant
	AccessKey *storage.AccessKey `json:"accessKey,omitempty"`
}

func oauthClientNotFound(id int64) error {
	return apierr.NotFound("OAuth client with id = %d not found", id)
}

func oauthGrantNotFound(id int64) error {
	return apierr.NotFound("OAuth grant with id = %d not found", id)
}

// ListOAuthClients returns the OAuth clients. Secrets are only returned
// to principals holding ManageOAuthClient.
func (s *Service) ListOAuthClients(ctx context.Context, p *permission.Principal, filters storage.OAuthClientFilters) ([]storage.OAuthClient, error) {
	if !p.HasUser() {
		return nil, apierr.Forbidden()
	}
	clients, err := storage.GetOAuthClients(ctx, storage.DB(), filters)
	if err != nil {
		return nil, err
	}
	if !permission.CanAny(p, permission.ManageOAuthClient) {
		for i := range clients {
			clients[i].OAuthSecret = ""
		}
	}
	return clients, nil
}

// GetOAuthClient returns the OAuth client.
func (s *Service) GetOAuthClient(ctx context.Context, p *permission.Principal, id int64) (storage.OAuthClient, error) {
	if !p.HasUser() {
		return storage.OAuthClient{}, apierr.Forbidden()
	}
	c, err := storage.GetOAuthClient(ctx, storage.DB(), id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return c, oauthClientNotFound(id)
		}
		return c, err
	}
	if !permission.CanAny(p, permission.ManageOAuthClient) {
		c.OAuthSecret = ""
	}
	return c, nil
}

// CreateOAuthClient registers an OAuth client. The secret is generated.
func (s *Service) CreateOAuthClient(ctx context.Context, p *permission.Principal, up OAuthClientUpdate) (storage.OAuthClient, error) {
	var c storage.OAuthClient
	if err := requireAny(p, permission.ManageOAuthClient); err != nil {
		return c, err
	}

	applyOAuthClient(&c, up)
	secret, err := auth.GenerateKey()
	if err != nil {
		return c, errors.Wrap(err, "generate secret error")
	}
	c.OAuthSecret = secret

	if err := storage.CreateOAuthClient(ctx, storage.DB(), &c); err != nil {
		if errors.Cause(err) == storage.ErrAlreadyExists {
			return c, apierr.Conflict("OAuth client with such OAuthID already exists")
		}
		return c, err
	}
	logChange(ctx, p, "oauth-client created", log.Fields{"oauth_client_id": c.ID})
	return c, nil
}

// UpdateOAuthClient applies a partial update to the OAuth client.
func (s *Service) UpdateOAuthClient(ctx context.Context, p *permission.Principal, id int64, up OAuthClientUpdate) error {
	if err := requireAny(p, permission.ManageOAuthClient); err != nil {
		return err
	}

	c, err := storage.GetOAuthClient(ctx, storage.DB(), id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return oauthClientNotFound(id)
		}
		return err
	}
	applyOAuthClient(&c, up)

	if err := storage.UpdateOAuthClient(ctx, storage.DB(), c); err != nil {
		switch errors.Cause(err) {
		case storage.ErrAlreadyExists:
			return apierr.Conflict("OAuth client with such OAuthID already exists")
		case storage.ErrDoesNotExist:
			return oauthClientNotFound(id)
		}
		return err
	}
	return nil
}

func applyOAuthClient(c *storage.OAuthClient, up OAuthClientUpdate) {
	if up.Name != nil {
		c.Name = *up.Name
	}
	if up.Domain != nil {
		c.Domain = *up.Domain
	}
	if up.Subnet != nil {
		c.Subnet = up.Subnet
	}
	if up.RedirectURI != nil {
		c.RedirectURI = *up.RedirectURI
	}
	if up.OAuthID != nil {
		c.OAuthID = *up.OAuthID
	}
}

// DeleteOAuthClient deletes the OAuth client.
func (s *Service) DeleteOAuthClient(ctx context.Context, p *permission.Principal, id int64) error {
	if err := requireAny(p, permission.ManageOAuthClient); err != nil {
		return err
	}
	return storage.DeleteOAuthClient(ctx, storage.DB(), id)
}

// ListOAuthGrants returns the grants of the user backing the principal.
// Principals holding ManageUser may list the grants of any user.
func (s *Service) ListOAuthGrants(ctx context.Context, p *permission.Principal, filters storage.OAuthGrantFilters) ([]storage.OAuthGrant, error) {
	if err := s.requireGrantAccess(p); err != nil {
		return nil, err
	}
	if filters.UserID == nil || !permission.CanAny(p, permission.ManageUser) {
		filters.UserID = &p.UserID
	}
	return storage.GetOAuthGrants(ctx, storage.DB(), filters)
}

// GetOAuthGrant returns the grant of the user backing the principal.
func (s *Service) GetOAuthGrant(ctx context.Context, p *permission.Principal, id int64) (storage.OAuthGrant, error) {
	if err := s.requireGrantAccess(p); err != nil {
		return storage.OAuthGrant{}, err
	}

	g, err := storage.GetOAuthGrant(ctx, storage.DB(), p.UserID, id)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return g, oauthGrantNotFound(id)
		}
		return g, err
	}
	return g, nil
}

// CreateOAuthGrant creates a grant for the user backing the principal.
// The grant issues an OAuth access key carrying the scope actions on the
// granted networks. Code grants also get an authorization code.
func (s *Service) CreateOAuthGrant(ctx context.Context, p *permission.Principal, up OAuthGrantUpdate) (OAuthGrantWithKey, error) {
	var out OAuthGrantWithKey
	if err := s.requireGrantAccess(p); err != nil {
		return out, err
	}
	if up.ClientID == nil {
		return out, apierr.BadRequest("Client is required")
	}

	client, err := storage.GetOAuthClient(ctx, storage.DB(), *up.ClientID)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return out, oauthClientNotFound(*up.ClientID)
		}
		return out, err
	}

	g := storage.OAuthGrant{
		ClientID:    client.ID,
		UserID:      p.UserID,
		AccessType:  "online",
		RedirectURI: client.RedirectURI,
	}
	applyOAuthGrant(&g, up)

	perm, err := scopePermission(g)
	if err != nil {
		return out, err
	}
	key, err := auth.GenerateKey()
	if err != nil {
		return out, errors.Wrap(err, "generate key error")
	}
	k := storage.AccessKey{
		UserID:      p.UserID,
		Label:       "OAuth token for: " + client.Name,
		Key:         key,
		Type:        storage.AccessKeyOAuth,
		Permissions: storage.PermissionList{perm},
	}
	if g.Type == "code" {
		code := uuid.Must(uuid.NewV4()).String()
		g.AuthCode = &code
	}

	err = storage.Transaction(func(tx sqlx.Ext) error {
		if err := storage.CreateAccessKey(ctx, tx, &k); err != nil {
			return err
		}
		g.AccessKeyID = &k.ID
		return storage.CreateOAuthGrant(ctx, tx, &g)
	})
	if err != nil {
		return out, err
	}

	logChange(ctx, p, "oauth-grant created", log.Fields{"oauth_grant_id": g.ID, "oauth_client_id": client.ID})
	return OAuthGrantWithKey{OAuthGrant: g, AccessKey: &k}, nil
}

// UpdateOAuthGrant applies a partial update to the grant. The permissions
// of the issued access key follow the new scope.
func (s *Service) UpdateOAuthGrant(ctx context.Context, p *permission.Principal, id int64, up OAuthGrantUpdate) error {
	g, err := s.GetOAuthGrant(ctx, p, id)
	if err != nil {
		return err
	}
	applyOAuthGrant(&g, up)

	perm, err := scopePermission(g)
	if err != nil {
		return err
	}

	err = storage.Transaction(func(tx sqlx.Ext) error {
		if err := storage.UpdateOAuthGrant(ctx, tx, g); err != nil {
			return err
		}
		if g.AccessKeyID == nil {
			return nil
		}
		k, err := storage.GetUserAccessKey(ctx, tx, g.UserID, *g.AccessKeyID)
		if err != nil {
			if errors.Cause(err) == storage.ErrDoesNotExist {
				return nil
			}
			return err
		}
		k.Permissions = storage.PermissionList{perm}
		return storage.UpdateAccessKey(ctx, tx, k)
	})
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return oauthGrantNotFound(id)
		}
		return err
	}
	return nil
}

func applyOAuthGrant(g *storage.OAuthGrant, up OAuthGrantUpdate) {
	if up.ClientID != nil {
		g.ClientID = *up.ClientID
	}
	if up.Type != nil {
		g.Type = *up.Type
	}
	if up.AccessType != nil {
		g.AccessType = *up.AccessType
	}
	if up.RedirectURI != nil {
		g.RedirectURI = *up.RedirectURI
	}
	if up.Scope != nil {
		g.Scope = *up.Scope
	}
	if up.NetworkIDs != nil {
		g.NetworkIDs = pq.Int64Array(*up.NetworkIDs)
	}
}

// scopePermission returns the permission of a grant. The scope is a space
// separated list of actions. Without network ids the grant covers all
// networks of the user.
func scopePermission(g storage.OAuthGrant) (permission.Permission, error) {
	var perm permission.Permission
	for _, name := range strings.Fields(g.Scope) {
		a, ok := permission.ParseAction(name)
		if !ok {
			return perm, apierr.BadRequest("Unknown action: %s", name)
		}
		perm.Actions = append(perm.Actions, a)
	}
	if len(perm.Actions) == 0 {
		return perm, apierr.BadRequest("Scope is required")
	}

	perm.DeviceTypeIDs = permission.AllIDs()
	if len(g.NetworkIDs) == 0 {
		perm.NetworkIDs = permission.AllIDs()
	} else {
		perm.NetworkIDs = permission.NewIDSet(g.NetworkIDs...)
	}
	return perm, nil
}

// DeleteOAuthGrant deletes the grant together with its access key.
func (s *Service) DeleteOAuthGrant(ctx context.Context, p *permission.Principal, id int64) error {
	if err := s.requireGrantAccess(p); err != nil {
		return err
	}

	return storage.Transaction(func(tx sqlx.Ext) error {
		g, err := storage.GetOAuthGrant(ctx, tx, p.UserID, id)
		if err != nil {
			if errors.Cause(err) == storage.ErrDoesNotExist {
				return nil
			}
			return err
		}
		if err := storage.DeleteOAuthGrant(ctx, tx, p.UserID, id); err != nil {
			return err
		}
		if g.AccessKeyID != nil {
			return storage.DeleteAccessKey(ctx, tx, p.UserID, *g.AccessKeyID)
		}
		return nil
	})
}

func (s *Service) requireGrantAccess(p *permission.Principal) error {
	if err := requireAny(p, permission.ManageOAuthGrant); err != nil {
		return err
	}
	if !p.HasUser() {
		return apierr.Forbidden()
	}
	return nil
}
