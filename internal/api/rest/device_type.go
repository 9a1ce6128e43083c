package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

func (a *API) registerDeviceTypeRoutes(r *mux.Router) {
	r.HandleFunc("/devicetype", authenticated(a.listDeviceTypes)).Methods(http.MethodGet)
	r.HandleFunc("/devicetype", authenticated(a.createDeviceType)).Methods(http.MethodPost)
	r.HandleFunc("/devicetype/count", authenticated(a.countDeviceTypes)).Methods(http.MethodGet)
	r.HandleFunc("/devicetype/{id:[0-9]+}", authenticated(a.getDeviceType)).Methods(http.MethodGet)
	r.HandleFunc("/devicetype/{id:[0-9]+}", authenticated(a.updateDeviceType)).Methods(http.MethodPut)
	r.HandleFunc("/devicetype/{id:[0-9]+}", authenticated(a.deleteDeviceType)).Methods(http.MethodDelete)
}

func deviceTypeFilters(r *http.Request) (storage.DeviceTypeFilters, error) {
	var err error
	f := storage.DeviceTypeFilters{
		Name:        r.URL.Query().Get("name"),
		NamePattern: r.URL.Query().Get("namePattern"),
	}
	f.ListOptions, err = listOptions(r)
	return f, err
}

func (a *API) listDeviceTypes(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	f, err := deviceTypeFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	deviceTypes, err := a.Directory.ListDeviceTypes(r.Context(), p, f)
	respond(w, r, http.StatusOK, deviceTypes, err)
}

func (a *API) countDeviceTypes(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	f, err := deviceTypeFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	count, err := a.Directory.CountDeviceTypes(r.Context(), p, f)
	respond(w, r, http.StatusOK, countResponse{Count: count}, err)
}

func (a *API) getDeviceType(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "DeviceType")
	if err != nil {
		writeError(w, r, err)
		return
	}
	dt, err := a.Directory.GetDeviceType(r.Context(), p, id)
	respond(w, r, http.StatusOK, dt, err)
}

func (a *API) createDeviceType(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var dt storage.DeviceType
	if err := decode(r, &dt); err != nil {
		writeError(w, r, err)
		return
	}
	dt, err := a.Directory.CreateDeviceType(r.Context(), p, dt)
	respond(w, r, http.StatusCreated, dt, err)
}

func (a *API) updateDeviceType(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "DeviceType")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var up directory.DeviceTypeUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.UpdateDeviceType(r.Context(), p, id, up)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) deleteDeviceType(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "DeviceType")
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.DeleteDeviceType(r.Context(), p, id)
	respond(w, r, http.StatusNoContent, nil, err)
}
