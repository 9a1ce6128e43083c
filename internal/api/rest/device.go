package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

func (a *API) registerDeviceRoutes(r *mux.Router) {
	r.HandleFunc("/device", authenticated(a.listDevices)).Methods(http.MethodGet)
	r.HandleFunc("/device/count", authenticated(a.countDevices)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}", authenticated(a.getDevice)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}", authenticated(a.saveDevice)).Methods(http.MethodPut)
	r.HandleFunc("/device/{guid}", authenticated(a.deleteDevice)).Methods(http.MethodDelete)
	r.HandleFunc("/device/{guid}/equipment", authenticated(a.listEquipment)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}/equipment/{code}", authenticated(a.getEquipment)).Methods(http.MethodGet)
}

func deviceFilters(r *http.Request) (storage.DeviceFilters, error) {
	var err error
	q := r.URL.Query()
	f := storage.DeviceFilters{
		Name:        q.Get("name"),
		NamePattern: q.Get("namePattern"),
		NetworkName: q.Get("networkName"),
	}
	if f.NetworkID, err = queryInt64Ptr(r, "networkId"); err != nil {
		return f, err
	}
	if f.DeviceTypeID, err = queryInt64Ptr(r, "deviceTypeId"); err != nil {
		return f, err
	}
	f.ListOptions, err = listOptions(r)
	return f, err
}

func (a *API) listDevices(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	f, err := deviceFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	devices, err := a.Directory.ListDevices(r.Context(), p, f)
	respond(w, r, http.StatusOK, devices, err)
}

func (a *API) countDevices(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	f, err := deviceFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	count, err := a.Directory.CountDevices(r.Context(), p, f)
	respond(w, r, http.StatusOK, countResponse{Count: count}, err)
}

func (a *API) getDevice(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	d, err := a.Directory.GetVisibleDevice(r.Context(), p, permission.GetDevice, mux.Vars(r)["guid"])
	respond(w, r, http.StatusOK, d, err)
}

// saveDevice creates the device or updates the given fields of an
// existing one.
func (a *API) saveDevice(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var up directory.DeviceUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	_, _, err := a.Directory.SaveDevice(r.Context(), p, mux.Vars(r)["guid"], up)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) deleteDevice(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	err := a.Directory.DeleteDevice(r.Context(), p, mux.Vars(r)["guid"])
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) listEquipment(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	eq, err := a.Directory.GetDeviceEquipments(r.Context(), p, mux.Vars(r)["guid"])
	respond(w, r, http.StatusOK, eq, err)
}

func (a *API) getEquipment(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	vars := mux.Vars(r)
	eq, err := a.Directory.GetDeviceEquipment(r.Context(), p, vars["guid"], vars["code"])
	respond(w, r, http.StatusOK, eq, err)
}
