package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

func (a *API) registerOAuthRoutes(r *mux.Router) {
	r.HandleFunc("/oauth/client", authenticated(a.listOAuthClients)).Methods(http.MethodGet)
	r.HandleFunc("/oauth/client", authenticated(a.createOAuthClient)).Methods(http.MethodPost)
	r.HandleFunc("/oauth/client/{id}", authenticated(a.getOAuthClient)).Methods(http.MethodGet)
	r.HandleFunc("/oauth/client/{id}", authenticated(a.updateOAuthClient)).Methods(http.MethodPut)
	r.HandleFunc("/oauth/client/{id}", authenticated(a.deleteOAuthClient)).Methods(http.MethodDelete)

	r.HandleFunc("/oauth/grant", authenticated(a.listOAuthGrants)).Methods(http.MethodGet)
	r.HandleFunc("/oauth/grant", authenticated(a.createOAuthGrant)).Methods(http.MethodPost)
	r.HandleFunc("/oauth/grant/{id}", authenticated(a.getOAuthGrant)).Methods(http.MethodGet)
	r.HandleFunc("/oauth/grant/{id}", authenticated(a.updateOAuthGrant)).Methods(http.MethodPut)
	r.HandleFunc("/oauth/grant/{id}", authenticated(a.deleteOAuthGrant)).Methods(http.MethodDelete)
}

func (a *API) listOAuthClients(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var err error
	q := r.URL.Query()
	f := storage.OAuthClientFilters{
		Name:        q.Get("name"),
		NamePattern: q.Get("namePattern"),
		Domain:      q.Get("domain"),
		OAuthID:     q.Get("oauthId"),
	}
	if f.ListOptions, err = listOptions(r); err != nil {
		writeError(w, r, err)
		return
	}
	clients, err := a.Directory.ListOAuthClients(r.Context(), p, f)
	respond(w, r, http.StatusOK, clients, err)
}

func (a *API) createOAuthClient(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var up directory.OAuthClientUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := a.Directory.CreateOAuthClient(r.Context(), p, up)
	respond(w, r, http.StatusCreated, c, err)
}

func (a *API) getOAuthClient(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "OAuth client")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := a.Directory.GetOAuthClient(r.Context(), p, id)
	respond(w, r, http.StatusOK, c, err)
}

func (a *API) updateOAuthClient(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "OAuth client")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var up directory.OAuthClientUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.UpdateOAuthClient(r.Context(), p, id, up)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) deleteOAuthClient(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "OAuth client")
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.DeleteOAuthClient(r.Context(), p, id)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) listOAuthGrants(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var err error
	f := storage.OAuthGrantFilters{
		Type: r.URL.Query().Get("type"),
	}
	if f.UserID, err = queryInt64Ptr(r, "userId"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.ClientID, err = queryInt64Ptr(r, "clientId"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Start, err = queryTime(r, "start"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.End, err = queryTime(r, "end"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.ListOptions, err = listOptions(r); err != nil {
		writeError(w, r, err)
		return
	}
	grants, err := a.Directory.ListOAuthGrants(r.Context(), p, f)
	respond(w, r, http.StatusOK, grants, err)
}

func (a *API) createOAuthGrant(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var up directory.OAuthGrantUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := a.Directory.CreateOAuthGrant(r.Context(), p, up)
	respond(w, r, http.StatusCreated, g, err)
}

func (a *API) getOAuthGrant(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "OAuth grant")
	if err != nil {
		writeError(w, r, err)
		return
	}
	g, err := a.Directory.GetOAuthGrant(r.Context(), p, id)
	respond(w, r, http.StatusOK, g, err)
}

func (a *API) updateOAuthGrant(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "OAuth grant")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var up directory.OAuthGrantUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.UpdateOAuthGrant(r.Context(), p, id, up)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) deleteOAuthGrant(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "OAuth grant")
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.DeleteOAuthGrant(r.Context(), p, id)
	respond(w, r, http.StatusNoContent, nil, err)
}
