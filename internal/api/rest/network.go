package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

func (a *API) registerNetworkRoutes(r *mux.Router) {
	r.HandleFunc("/network", authenticated(a.listNetworks)).Methods(http.MethodGet)
	r.HandleFunc("/network", authenticated(a.createNetwork)).Methods(http.MethodPost)
	r.HandleFunc("/network/count", authenticated(a.countNetworks)).Methods(http.MethodGet)
	r.HandleFunc("/network/{id:[0-9]+}", authenticated(a.getNetwork)).Methods(http.MethodGet)
	r.HandleFunc("/network/{id:[0-9]+}", authenticated(a.updateNetwork)).Methods(http.MethodPut)
	r.HandleFunc("/network/{id:[0-9]+}", authenticated(a.deleteNetwork)).Methods(http.MethodDelete)
}

func networkFilters(r *http.Request) (storage.NetworkFilters, error) {
	var err error
	f := storage.NetworkFilters{
		Name:        r.URL.Query().Get("name"),
		NamePattern: r.URL.Query().Get("namePattern"),
	}
	f.ListOptions, err = listOptions(r)
	return f, err
}

func (a *API) listNetworks(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	f, err := networkFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	networks, err := a.Directory.ListNetworks(r.Context(), p, f)
	respond(w, r, http.StatusOK, networks, err)
}

func (a *API) countNetworks(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	f, err := networkFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	count, err := a.Directory.CountNetworks(r.Context(), p, f)
	respond(w, r, http.StatusOK, countResponse{Count: count}, err)
}

func (a *API) getNetwork(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "Network")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := a.Directory.GetNetwork(r.Context(), p, id)
	respond(w, r, http.StatusOK, n, err)
}

func (a *API) createNetwork(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var n storage.Network
	if err := decode(r, &n); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := a.Directory.CreateNetwork(r.Context(), p, n)
	respond(w, r, http.StatusCreated, n, err)
}

func (a *API) updateNetwork(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "Network")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var up directory.NetworkUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.UpdateNetwork(r.Context(), p, id, up)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) deleteNetwork(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "Network")
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.DeleteNetwork(r.Context(), p, id)
	respond(w, r, http.StatusNoContent, nil, err)
}
