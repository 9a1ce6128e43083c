package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/logging"
)

// OAuthClient represents a registered OAuth client.
type OAuthClient struct {
	ID          int64   `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	Domain      string  `db:"domain" json:"domain"`
	Subnet      *string `db:"subnet" json:"subnet,omitempty"`
	RedirectURI string  `db:"redirect_uri" json:"redirectUri"`
	OAuthID     string  `db:"oauth_id" json:"oauthId"`
	OAuthSecret string  `db:"oauth_secret" json:"oauthSecret,omitempty"`
}

// Validate validates the OAuth client data.
func (c OAuthClient) Validate() error {
	if c.Name == "" || c.Domain == "" || c.RedirectURI == "" || c.OAuthID == "" {
		return errors.New("name, domain, redirectUri and oauthId are required")
	}
	return nil
}

// OAuthClientFilters holds the filters of an OAuth client list.
type OAuthClientFilters struct {
	Name        string
	NamePattern string
	Domain      string
	OAuthID     string
	ListOptions
}

const oauthClientColumns = `id, name, domain, subnet, redirect_uri, oauth_id, oauth_secret`

var oauthClientSortColumns = map[string]string{
	"id":     "id",
	"name":   "name",
	"domain": "domain",
}

// CreateOAuthClient creates the given OAuth client.
func CreateOAuthClient(ctx context.Context, db sqlx.Queryer, c *OAuthClient) error {
	if err := c.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	err := sqlx.Get(db, &c.ID, `
		insert into oauth_client (
			name,
			domain,
			subnet,
			redirect_uri,
			oauth_id,
			oauth_secret
		) values ($1, $2, $3, $4, $5, $6)
		returning id`,
		c.Name,
		c.Domain,
		c.Subnet,
		c.RedirectURI,
		c.OAuthID,
		c.OAuthSecret,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}

	log.WithFields(log.Fields{
		"oauth_client_id": c.ID,
		"ctx_id":          ctx.Value(logging.ContextIDKey),
	}).Info("storage: oauth-client created")

	return nil
}

// GetOAuthClient returns the OAuth client with the given id.
func GetOAuthClient(ctx context.Context, db sqlx.Queryer, id int64) (OAuthClient, error) {
	var c OAuthClient
	if err := sqlx.Get(db, &c, `select `+oauthClientColumns+` from oauth_client where id = $1`, id); err != nil {
		return c, handlePSQLError(err, "select error")
	}
	return c, nil
}

// UpdateOAuthClient updates the given OAuth client.
func UpdateOAuthClient(ctx context.Context, db sqlx.Execer, c OAuthClient) error {
	if err := c.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	res, err := db.Exec(`
		update oauth_client set
			name = $2,
			domain = $3,
			subnet = $4,
			redirect_uri = $5,
			oauth_id = $6,
			oauth_secret = $7
		where id = $1`,
		c.ID,
		c.Name,
		c.Domain,
		c.Subnet,
		c.RedirectURI,
		c.OAuthID,
		c.OAuthSecret,
	)
	if err != nil {
		return handlePSQLError(err, "update error")
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "get rows affected error")
	}
	if ra == 0 {
		return ErrDoesNotExist
	}
	return nil
}

// DeleteOAuthClient deletes the OAuth client. Deleting a missing client is
// not an error.
func DeleteOAuthClient(ctx context.Context, db sqlx.Execer, id int64) error {
	if _, err := db.Exec(`delete from oauth_client where id = $1`, id); err != nil {
		return handlePSQLError(err, "delete error")
	}
	return nil
}

// GetOAuthClients returns the OAuth clients matching the given filters.
func GetOAuthClients(ctx context.Context, db sqlx.Queryer, filters OAuthClientFilters) ([]OAuthClient, error) {
	var q query
	if filters.Name != "" {
		q.and("name = " + q.arg(filters.Name))
	}
	if filters.NamePattern != "" {
		q.and("name like " + q.arg(filters.NamePattern))
	}
	if filters.Domain != "" {
		q.and("domain = " + q.arg(filters.Domain))
	}
	if filters.OAuthID != "" {
		q.and("oauth_id = " + q.arg(filters.OAuthID))
	}
	tail, err := filters.clause(oauthClientSortColumns, "id")
	if err != nil {
		return nil, err
	}

	clients := []OAuthClient{}
	if err := sqlx.Select(db, &clients, `select `+oauthClientColumns+` from oauth_client`+q.whereClause()+tail, q.args...); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return clients, nil
}

// OAuthGrant represents an OAuth grant issued to a client on behalf of a
// user.
type OAuthGrant struct {
	ID          int64         `db:"id" json:"id"`
	Timestamp   time.Time     `db:"timestamp" json:"timestamp"`
	AuthCode    *string       `db:"auth_code" json:"authCode,omitempty"`
	ClientID    int64         `db:"client_id" json:"clientId"`
	AccessKeyID *int64        `db:"access_key_id" json:"accessKeyId,omitempty"`
	UserID      int64         `db:"user_id" json:"userId"`
	Type        string        `db:"type" json:"type"`
	AccessType  string        `db:"access_type" json:"accessType"`
	RedirectURI string        `db:"redirect_uri" json:"redirectUri"`
	Scope       string        `db:"scope" json:"scope"`
	NetworkIDs  pq.Int64Array `db:"network_ids" json:"networkIds,omitempty"`
}

// Validate validates the OAuth grant data.
func (g OAuthGrant) Validate() error {
	switch g.Type {
	case "code", "token", "password":
	default:
		return errors.New("type must be code, token or password")
	}
	switch g.AccessType {
	case "online", "offline":
	default:
		return errors.New("accessType must be online or offline")
	}
	if g.Scope == "" {
		return errors.New("scope is required")
	}
	return nil
}

// OAuthGrantFilters holds the filters of an OAuth grant list.
type OAuthGrantFilters struct {
	UserID   *int64
	ClientID *int64
	Type     string
	Start    *time.Time
	End      *time.Time
	ListOptions
}

const oauthGrantColumns = `id, timestamp, auth_code, client_id, access_key_id, user_id, type, access_type, redirect_uri, scope, network_ids`

var oauthGrantSortColumns = map[string]string{
	"id":        "id",
	"timestamp": "timestamp",
}

// CreateOAuthGrant creates the given OAuth grant.
func CreateOAuthGrant(ctx context.Context, db sqlx.Queryer, g *OAuthGrant) error {
	if err := g.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	g.Timestamp = now()
	err := sqlx.Get(db, &g.ID, `
		insert into oauth_grant (
			timestamp,
			auth_code,
			client_id,
			access_key_id,
			user_id,
			type,
			access_type,
			redirect_uri,
			scope,
			network_ids
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning id`,
		g.Timestamp,
		g.AuthCode,
		g.ClientID,
		g.AccessKeyID,
		g.UserID,
		g.Type,
		g.AccessType,
		g.RedirectURI,
		g.Scope,
		g.NetworkIDs,
	)
	if err != nil {
		return handlePSQLError(err, "insert error")
	}
	return nil
}

// GetOAuthGrant returns the OAuth grant with the given id of the user.
func GetOAuthGrant(ctx context.Context, db sqlx.Queryer, userID, id int64) (OAuthGrant, error) {
	var g OAuthGrant
	if err := sqlx.Get(db, &g, `select `+oauthGrantColumns+` from oauth_grant where user_id = $1 and id = $2`, userID, id); err != nil {
		return g, handlePSQLError(err, "select error")
	}
	return g, nil
}

// UpdateOAuthGrant updates the given OAuth grant.
func UpdateOAuthGrant(ctx context.Context, db sqlx.Execer, g OAuthGrant) error {
	if err := g.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	res, err := db.Exec(`
		update oauth_grant set
			auth_code = $3,
			client_id = $4,
			access_key_id = $5,
			type = $6,
			access_type = $7,
			redirect_uri = $8,
			scope = $9,
			network_ids = $10
		where
			user_id = $1
			and id = $2`,
		g.UserID,
		g.ID,
		g.AuthCode,
		g.ClientID,
		g.AccessKeyID,
		g.Type,
		g.AccessType,
		g.RedirectURI,
		g.Scope,
		g.NetworkIDs,
	)
	if err != nil {
		return handlePSQLError(err, "update error")
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "get rows affected error")
	}
	if ra == 0 {
		return ErrDoesNotExist
	}
	return nil
}

// DeleteOAuthGrant deletes the OAuth grant of the user. Deleting a missing
// grant is not an error.
func DeleteOAuthGrant(ctx context.Context, db sqlx.Execer, userID, id int64) error {
	if _, err := db.Exec(`delete from oauth_grant where user_id = $1 and id = $2`, userID, id); err != nil {
		return handlePSQLError(err, "delete error")
	}
	return nil
}

// GetOAuthGrants returns the OAuth grants matching the given filters.
func GetOAuthGrants(ctx context.Context, db sqlx.Queryer, filters OAuthGrantFilters) ([]OAuthGrant, error) {
	var q query
	if filters.UserID != nil {
		q.and("user_id = " + q.arg(*filters.UserID))
	}
	if filters.ClientID != nil {
		q.and("client_id = " + q.arg(*filters.ClientID))
	}
	if filters.Type != "" {
		q.and("type = " + q.arg(filters.Type))
	}
	if filters.Start != nil {
		q.and("timestamp >= " + q.arg(filters.Start.UTC()))
	}
	if filters.End != nil {
		q.and("timestamp <= " + q.arg(filters.End.UTC()))
	}
	tail, err := filters.clause(oauthGrantSortColumns, "id")
	if err != nil {
		return nil, err
	}

	grants := []OAuthGrant{}
	if err := sqlx.Select(db, &grants, `select `+oauthGrantColumns+` from oauth_grant`+q.whereClause()+tail, q.args...); err != nil {
		return nil, handlePSQLError(err, "select error")
	}
	return grants, nil
}
