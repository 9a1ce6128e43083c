package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devicehive/devicehive-server/internal/messages"
	"github.com/devicehive/devicehive-server/internal/permission"
)

func (a *API) registerCommandRoutes(r *mux.Router) {
	r.HandleFunc("/device/command/poll", authenticated(a.pollCommands)).Methods(http.MethodGet)
	r.HandleFunc("/device/command/poll/many", authenticated(a.pollCommands)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}/command", authenticated(a.listCommands)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}/command", authenticated(a.insertCommand)).Methods(http.MethodPost)
	r.HandleFunc("/device/{guid}/command/poll", authenticated(a.pollCommands)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}/command/poll/many", authenticated(a.pollCommands)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}/command/{id}", authenticated(a.getCommand)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}/command/{id}", authenticated(a.updateCommand)).Methods(http.MethodPut)
	r.HandleFunc("/device/{guid}/command/{id}/poll", authenticated(a.pollCommandUpdate)).Methods(http.MethodGet)
}

// listQuery parses the query of a list request for the device of the
// path. name selects the parameter holding the record name.
func listQuery(r *http.Request, name string) (messages.Query, error) {
	var err error
	q := messages.Query{
		DeviceGUIDs: []string{mux.Vars(r)["guid"]},
		Status:      r.URL.Query().Get("status"),
	}
	if v := r.URL.Query().Get(name); v != "" {
		q.Names = []string{v}
	}
	if q.Start, err = queryTime(r, "start"); err != nil {
		return q, err
	}
	if q.End, err = queryTime(r, "end"); err != nil {
		return q, err
	}
	q.ListOptions, err = listOptions(r)
	return q, err
}

// pollQuery parses the query of a poll request. The device of the path
// takes precedence over the deviceId and deviceGuids parameters.
func pollQuery(r *http.Request) (messages.Query, error) {
	var err error
	var q messages.Query

	if guid, ok := mux.Vars(r)["guid"]; ok {
		q.DeviceGUIDs = []string{guid}
	} else {
		q.DeviceGUIDs = append(queryList(r, "deviceId"), queryList(r, "deviceGuids")...)
	}
	if q.NetworkIDs, err = queryIDs(r, "networkIds"); err != nil {
		return q, err
	}
	if q.DeviceTypeIDs, err = queryIDs(r, "deviceTypeIds"); err != nil {
		return q, err
	}
	q.Names = queryList(r, "names")
	if q.Timestamp, err = queryTime(r, "timestamp"); err != nil {
		return q, err
	}
	if q.WaitTimeout, err = queryWaitTimeout(r); err != nil {
		return q, err
	}
	if q.Take, err = queryInt(r, "limit"); err != nil {
		return q, err
	}
	return q, nil
}

func (a *API) listCommands(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	q, err := listQuery(r, "command")
	if err != nil {
		writeError(w, r, err)
		return
	}
	commands, err := a.Messages.ListCommands(r.Context(), p, q)
	respond(w, r, http.StatusOK, commands, err)
}

func (a *API) insertCommand(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var up messages.CommandUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := a.Messages.InsertCommand(r.Context(), p, mux.Vars(r)["guid"], up)
	respond(w, r, http.StatusCreated, c, err)
}

func (a *API) getCommand(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "Command")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := a.Messages.GetCommand(r.Context(), p, mux.Vars(r)["guid"], id)
	respond(w, r, http.StatusOK, c, err)
}

func (a *API) updateCommand(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "Command")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var up messages.CommandUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	_, err = a.Messages.UpdateCommand(r.Context(), p, mux.Vars(r)["guid"], id, up)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) pollCommands(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	q, err := pollQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	commands, err := a.Messages.PollCommands(r.Context(), p, q)
	respond(w, r, http.StatusOK, commands, err)
}

// pollCommandUpdate returns the command once it is updated, or 204 on
// timeout.
func (a *API) pollCommandUpdate(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "Command")
	if err != nil {
		writeError(w, r, err)
		return
	}
	timeout, err := queryWaitTimeout(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, updated, err := a.Messages.PollCommandUpdate(r.Context(), p, mux.Vars(r)["guid"], id, timeout)
	if err == nil && !updated {
		respond(w, r, http.StatusNoContent, nil, nil)
		return
	}
	respond(w, r, http.StatusOK, c, err)
}
