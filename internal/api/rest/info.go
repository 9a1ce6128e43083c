package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/devicehive/devicehive-server/internal/config"
	"github.com/devicehive/devicehive-server/internal/permission"
)

// ServerInfo is returned by the info endpoint.
type ServerInfo struct {
	APIVersion         string    `json:"apiVersion"`
	ServerTimestamp    time.Time `json:"serverTimestamp"`
	RESTServerURL      string    `json:"restServerUrl,omitempty"`
	WebSocketServerURL string    `json:"webSocketServerUrl,omitempty"`
}

// CacheInfo is returned by the cache info endpoint.
type CacheInfo struct {
	ServerTimestamp time.Time `json:"serverTimestamp"`
	Subscriptions   int       `json:"subscriptions"`
}

// ClusterInfo is returned by the cluster config endpoint.
type ClusterInfo struct {
	Enabled bool   `json:"enabled"`
	Channel string `json:"channel,omitempty"`
	NodeID  string `json:"nodeId"`
}

type configurationValue struct {
	Value string `json:"value"`
}

func (a *API) registerInfoRoutes(r *mux.Router) {
	r.HandleFunc("/info", a.getInfo).Methods(http.MethodGet)
	r.HandleFunc("/info/cache", authenticated(a.getCacheInfo)).Methods(http.MethodGet)
	r.HandleFunc("/info/config/cluster", a.getClusterInfo).Methods(http.MethodGet)

	r.HandleFunc("/configuration/{name}", authenticated(a.getConfiguration)).Methods(http.MethodGet)
	r.HandleFunc("/configuration/{name}", authenticated(a.putConfiguration)).Methods(http.MethodPut)
	r.HandleFunc("/configuration/{name}", authenticated(a.deleteConfiguration)).Methods(http.MethodDelete)
}

// NewServerInfo returns the server info for the given configuration.
func NewServerInfo(c config.Config) ServerInfo {
	return ServerInfo{
		APIVersion:         APIVersion,
		ServerTimestamp:    time.Now().UTC(),
		RESTServerURL:      c.API.ServerURL,
		WebSocketServerURL: c.API.WebSocketServerURL,
	}
}

func (a *API) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewServerInfo(a.conf))
}

func (a *API) getCacheInfo(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	writeJSON(w, http.StatusOK, CacheInfo{
		ServerTimestamp: time.Now().UTC(),
		Subscriptions:   a.Engine.Registry().Count(),
	})
}

func (a *API) getClusterInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ClusterInfo{
		Enabled: a.conf.Cluster.Enabled,
		Channel: a.conf.Cluster.Channel,
		NodeID:  a.conf.General.NodeID,
	})
}

func (a *API) getConfiguration(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	c, err := a.Directory.GetConfiguration(r.Context(), p, mux.Vars(r)["name"])
	respond(w, r, http.StatusOK, c, err)
}

func (a *API) putConfiguration(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var in configurationValue
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := a.Directory.PutConfiguration(r.Context(), p, mux.Vars(r)["name"], in.Value)
	respond(w, r, http.StatusOK, c, err)
}

func (a *API) deleteConfiguration(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	err := a.Directory.DeleteConfiguration(r.Context(), p, mux.Vars(r)["name"])
	respond(w, r, http.StatusNoContent, nil, err)
}
