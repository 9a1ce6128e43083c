package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/plugin"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

var pluginFilterParams = []string{
	"deviceId", "networkIds", "deviceTypeIds", "names",
	"returnCommands", "returnUpdatedCommands", "returnNotifications",
}

func (a *API) registerPluginRoutes(r *mux.Router) {
	r.HandleFunc("/plugin", authenticated(a.listPlugins)).Methods(http.MethodGet)
	r.HandleFunc("/plugin", authenticated(a.registerPlugin)).Methods(http.MethodPost)
	r.HandleFunc("/plugin", authenticated(a.updatePlugin)).Methods(http.MethodPut)
	r.HandleFunc("/plugin", authenticated(a.deletePlugin)).Methods(http.MethodDelete)
	r.HandleFunc("/plugin/count", authenticated(a.countPlugins)).Methods(http.MethodGet)
}

func pluginFilters(r *http.Request) (storage.PluginFilters, error) {
	var err error
	q := r.URL.Query()
	f := storage.PluginFilters{
		Name:        q.Get("name"),
		NamePattern: q.Get("namePattern"),
		TopicName:   q.Get("topicName"),
		Status:      storage.PluginStatus(q.Get("status")),
	}
	if f.UserID, err = queryInt64Ptr(r, "userId"); err != nil {
		return f, err
	}
	f.ListOptions, err = listOptions(r)
	return f, err
}

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, apierr.BadRequest("%s must be a boolean", name)
	}
	return b, nil
}

// pluginFilter builds the event filter of a plugin from the request
// parameters. Without any return flag all event kinds are forwarded.
func pluginFilter(r *http.Request) (plugin.Filter, error) {
	var err error
	f := plugin.Filter{
		DeviceGUID: r.URL.Query().Get("deviceId"),
		Names:      queryList(r, "names"),
	}
	if f.NetworkIDs, err = queryIDs(r, "networkIds"); err != nil {
		return f, err
	}
	if f.DeviceTypeIDs, err = queryIDs(r, "deviceTypeIds"); err != nil {
		return f, err
	}

	for _, k := range []struct {
		param string
		kind  subscription.Kind
	}{
		{"returnCommands", subscription.KindCommand},
		{"returnUpdatedCommands", subscription.KindCommandUpdate},
		{"returnNotifications", subscription.KindNotification},
	} {
		ok, err := queryBool(r, k.param)
		if err != nil {
			return f, err
		}
		if ok {
			f.Kinds = append(f.Kinds, k.kind)
		}
	}
	if len(f.Kinds) == 0 {
		f.Kinds = []subscription.Kind{subscription.KindCommand, subscription.KindCommandUpdate, subscription.KindNotification}
	}

	var scopes int
	for _, set := range []bool{f.DeviceGUID != "", len(f.NetworkIDs) != 0, len(f.DeviceTypeIDs) != 0} {
		if set {
			scopes++
		}
	}
	if scopes > 1 {
		return f, apierr.BadRequest("Only one of deviceId, networkIds and deviceTypeIds can be set")
	}
	return f, nil
}

func hasFilterParams(r *http.Request) bool {
	q := r.URL.Query()
	for _, name := range pluginFilterParams {
		if _, ok := q[name]; ok {
			return true
		}
	}
	return false
}

func (a *API) listPlugins(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	f, err := pluginFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	plugins, err := a.Plugins.List(r.Context(), p, f)
	respond(w, r, http.StatusOK, plugins, err)
}

func (a *API) countPlugins(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	f, err := pluginFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	count, err := a.Plugins.Count(r.Context(), p, f)
	respond(w, r, http.StatusOK, countResponse{Count: count}, err)
}

func (a *API) registerPlugin(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var reg plugin.Registration
	if err := decode(r, &reg); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := pluginFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reg.Filter = f

	creds, err := a.Plugins.Register(r.Context(), p, reg)
	respond(w, r, http.StatusCreated, creds, err)
}

// updatePlugin applies the query parameters to the plugin of topicName.
// The filter is only replaced when one of its parameters is present.
func (a *API) updatePlugin(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	q := r.URL.Query()
	topic := q.Get("topicName")
	if topic == "" {
		writeError(w, r, apierr.BadRequest("topicName is required"))
		return
	}

	var up plugin.Update
	if v, ok := q["name"]; ok {
		up.Name = &v[0]
	}
	if v, ok := q["description"]; ok {
		up.Description = &v[0]
	}
	if v, ok := q["status"]; ok {
		s := storage.PluginStatus(v[0])
		up.Status = &s
	}
	if v, ok := q["parameters"]; ok {
		if !json.Valid([]byte(v[0])) {
			writeError(w, r, apierr.BadRequest("parameters must be a JSON value"))
			return
		}
		params := storage.JSONB(v[0])
		up.Parameters = &params
	}
	if hasFilterParams(r) {
		f, err := pluginFilter(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		up.Filter = &f
	}

	err := a.Plugins.Update(r.Context(), p, topic, up)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) deletePlugin(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	topic := r.URL.Query().Get("topicName")
	if topic == "" {
		writeError(w, r, apierr.BadRequest("topicName is required"))
		return
	}
	err := a.Plugins.Delete(r.Context(), p, topic)
	respond(w, r, http.StatusNoContent, nil, err)
}
