package rest

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

// LoginRequest holds the credentials of a token request.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// RefreshRequest holds the refresh token of a token refresh request.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) registerTokenRoutes(r *mux.Router) {
	r.HandleFunc("/token", a.login).Methods(http.MethodPost)
	r.HandleFunc("/token/create", authenticated(a.createToken)).Methods(http.MethodPost)
	r.HandleFunc("/token/refresh", a.refreshToken).Methods(http.MethodPost)
}

// Login issues a token pair for the login and password.
func Login(ctx context.Context, a *auth.Authenticator, in LoginRequest) (auth.TokenPair, error) {
	if in.Login == "" {
		return auth.TokenPair{}, apierr.BadRequest("Login is required")
	}
	u, err := a.CheckPassword(ctx, in.Login, in.Password)
	if err != nil {
		return auth.TokenPair{}, err
	}
	payload, err := a.UserPayload(ctx, u)
	if err != nil {
		return auth.TokenPair{}, err
	}
	return a.JWT().SignPair(payload)
}

// CreateToken issues a token pair for the payload. Principals without
// ManageUser may only create tokens for their own user. The payload is
// narrowed to what the user holds.
func CreateToken(ctx context.Context, a *auth.Authenticator, p *permission.Principal, payload auth.Payload) (auth.TokenPair, error) {
	if !permission.CanAny(p, permission.ManageToken) {
		return auth.TokenPair{}, apierr.Forbidden()
	}
	if payload.UserID == 0 {
		return auth.TokenPair{}, apierr.BadRequest("userId is required")
	}
	if !p.Admin && p.UserID != payload.UserID {
		return auth.TokenPair{}, apierr.Forbidden()
	}

	u, err := storage.GetUser(ctx, storage.DB(), payload.UserID)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return auth.TokenPair{}, apierr.NotFound("User with id = %d not found", payload.UserID)
		}
		return auth.TokenPair{}, err
	}
	if u.Status != storage.UserActive {
		return auth.TokenPair{}, apierr.BadRequest("User is not active")
	}

	payload, err = a.RestrictPayload(ctx, u, payload)
	if err != nil {
		return auth.TokenPair{}, err
	}
	return a.JWT().SignPair(payload)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var in LoginRequest
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	tp, err := Login(r.Context(), a.Auth, in)
	respond(w, r, http.StatusCreated, tp, err)
}

func (a *API) createToken(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var payload auth.Payload
	if err := decode(r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	tp, err := CreateToken(r.Context(), a.Auth, p, payload)
	respond(w, r, http.StatusCreated, tp, err)
}

func (a *API) refreshToken(w http.ResponseWriter, r *http.Request) {
	var in RefreshRequest
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.RefreshToken == "" {
		writeError(w, r, apierr.BadRequest("refreshToken is required"))
		return
	}
	tp, err := a.Auth.Refresh(r.Context(), in.RefreshToken)
	respond(w, r, http.StatusCreated, tp, err)
}
