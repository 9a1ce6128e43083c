package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

func (a *API) registerUserRoutes(r *mux.Router) {
	r.HandleFunc("/user", authenticated(a.listUsers)).Methods(http.MethodGet)
	r.HandleFunc("/user", authenticated(a.createUser)).Methods(http.MethodPost)
	r.HandleFunc("/user/count", authenticated(a.countUsers)).Methods(http.MethodGet)
	r.HandleFunc("/user/current", authenticated(a.getCurrentUser)).Methods(http.MethodGet)
	r.HandleFunc("/user/current", authenticated(a.updateCurrentUser)).Methods(http.MethodPut)
	r.HandleFunc("/user/{id:[0-9]+}", authenticated(a.getUser)).Methods(http.MethodGet)
	r.HandleFunc("/user/{id:[0-9]+}", authenticated(a.updateUser)).Methods(http.MethodPut)
	r.HandleFunc("/user/{id:[0-9]+}", authenticated(a.deleteUser)).Methods(http.MethodDelete)

	r.HandleFunc("/user/{id:[0-9]+}/network/{networkId}", authenticated(a.getUserNetwork)).Methods(http.MethodGet)
	r.HandleFunc("/user/{id:[0-9]+}/network/{networkId}", authenticated(a.assignNetwork)).Methods(http.MethodPut)
	r.HandleFunc("/user/{id:[0-9]+}/network/{networkId}", authenticated(a.unassignNetwork)).Methods(http.MethodDelete)

	r.HandleFunc("/user/{id:[0-9]+}/devicetype", authenticated(a.getUserDeviceTypes)).Methods(http.MethodGet)
	r.HandleFunc("/user/{id:[0-9]+}/devicetype/all", authenticated(a.assignAllDeviceTypes)).Methods(http.MethodPut)
	r.HandleFunc("/user/{id:[0-9]+}/devicetype/all", authenticated(a.unassignAllDeviceTypes)).Methods(http.MethodDelete)
	r.HandleFunc("/user/{id:[0-9]+}/devicetype/{deviceTypeId}", authenticated(a.getUserDeviceType)).Methods(http.MethodGet)
	r.HandleFunc("/user/{id:[0-9]+}/devicetype/{deviceTypeId}", authenticated(a.assignDeviceType)).Methods(http.MethodPut)
	r.HandleFunc("/user/{id:[0-9]+}/devicetype/{deviceTypeId}", authenticated(a.unassignDeviceType)).Methods(http.MethodDelete)

	r.HandleFunc("/user/{id:[0-9]+|current}/accesskey", authenticated(a.listAccessKeys)).Methods(http.MethodGet)
	r.HandleFunc("/user/{id:[0-9]+|current}/accesskey", authenticated(a.createAccessKey)).Methods(http.MethodPost)
	r.HandleFunc("/user/{id:[0-9]+|current}/accesskey/{keyId}", authenticated(a.getAccessKey)).Methods(http.MethodGet)
	r.HandleFunc("/user/{id:[0-9]+|current}/accesskey/{keyId}", authenticated(a.updateAccessKey)).Methods(http.MethodPut)
	r.HandleFunc("/user/{id:[0-9]+|current}/accesskey/{keyId}", authenticated(a.deleteAccessKey)).Methods(http.MethodDelete)
}

func userFilters(r *http.Request) (storage.UserFilters, error) {
	var f storage.UserFilters
	var err error

	f.Login = r.URL.Query().Get("login")
	f.LoginPattern = r.URL.Query().Get("loginPattern")

	role, err := queryInt64Ptr(r, "role")
	if err != nil {
		return f, err
	}
	if role != nil {
		v := storage.UserRole(*role)
		f.Role = &v
	}

	status, err := queryInt64Ptr(r, "status")
	if err != nil {
		return f, err
	}
	if status != nil {
		v := storage.UserStatus(*status)
		f.Status = &v
	}

	f.ListOptions, err = listOptions(r)
	return f, err
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	f, err := userFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	users, err := a.Directory.ListUsers(r.Context(), p, f)
	respond(w, r, http.StatusOK, users, err)
}

func (a *API) countUsers(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	f, err := userFilters(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	count, err := a.Directory.CountUsers(r.Context(), p, f)
	respond(w, r, http.StatusOK, countResponse{Count: count}, err)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var up directory.UserUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := a.Directory.CreateUser(r.Context(), p, up)
	respond(w, r, http.StatusCreated, u, err)
}

func (a *API) getCurrentUser(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	u, err := a.Directory.GetCurrentUser(r.Context(), p)
	respond(w, r, http.StatusOK, u, err)
}

func (a *API) updateCurrentUser(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var up directory.UserUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	err := a.Directory.UpdateCurrentUser(r.Context(), p, up)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "User")
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := a.Directory.GetUser(r.Context(), p, id)
	respond(w, r, http.StatusOK, u, err)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "User")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var up directory.UserUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.UpdateUser(r.Context(), p, id, up)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "User")
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.DeleteUser(r.Context(), p, id)
	respond(w, r, http.StatusNoContent, nil, err)
}

// userAndID returns the user id and the id of the nested resource.
func userAndID(r *http.Request, name, label string) (int64, int64, error) {
	userID, err := pathID(r, "id", "User")
	if err != nil {
		return 0, 0, err
	}
	id, err := pathID(r, name, label)
	if err != nil {
		return 0, 0, err
	}
	return userID, id, nil
}

func (a *API) getUserNetwork(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, networkID, err := userAndID(r, "networkId", "Network")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := a.Directory.GetUserNetwork(r.Context(), p, userID, networkID)
	respond(w, r, http.StatusOK, n, err)
}

func (a *API) assignNetwork(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, networkID, err := userAndID(r, "networkId", "Network")
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.AssignNetwork(r.Context(), p, userID, networkID)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) unassignNetwork(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, networkID, err := userAndID(r, "networkId", "Network")
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.UnassignNetwork(r.Context(), p, userID, networkID)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) getUserDeviceTypes(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, err := pathID(r, "id", "User")
	if err != nil {
		writeError(w, r, err)
		return
	}
	dts, err := a.Directory.GetUserDeviceTypes(r.Context(), p, userID)
	respond(w, r, http.StatusOK, dts, err)
}

func (a *API) getUserDeviceType(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, deviceTypeID, err := userAndID(r, "deviceTypeId", "DeviceType")
	if err != nil {
		writeError(w, r, err)
		return
	}
	dt, err := a.Directory.GetUserDeviceType(r.Context(), p, userID, deviceTypeID)
	respond(w, r, http.StatusOK, dt, err)
}

func (a *API) assignDeviceType(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, deviceTypeID, err := userAndID(r, "deviceTypeId", "DeviceType")
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.AssignDeviceType(r.Context(), p, userID, deviceTypeID)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) unassignDeviceType(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, deviceTypeID, err := userAndID(r, "deviceTypeId", "DeviceType")
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.UnassignDeviceType(r.Context(), p, userID, deviceTypeID)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) assignAllDeviceTypes(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	a.setAllDeviceTypes(w, r, p, true)
}

func (a *API) unassignAllDeviceTypes(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	a.setAllDeviceTypes(w, r, p, false)
}

func (a *API) setAllDeviceTypes(w http.ResponseWriter, r *http.Request, p *permission.Principal, available bool) {
	userID, err := pathID(r, "id", "User")
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.SetAllDeviceTypes(r.Context(), p, userID, available)
	respond(w, r, http.StatusNoContent, nil, err)
}

// keyOwner returns the user id of an access-key route. current selects
// the user of the principal.
func keyOwner(r *http.Request, p *permission.Principal) (int64, error) {
	if mux.Vars(r)["id"] == "current" {
		if !p.HasUser() {
			return 0, apierr.Forbidden()
		}
		return p.UserID, nil
	}
	return pathID(r, "id", "User")
}

func (a *API) listAccessKeys(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, err := keyOwner(r, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	keys, err := a.Directory.ListAccessKeys(r.Context(), p, userID)
	respond(w, r, http.StatusOK, keys, err)
}

func (a *API) createAccessKey(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, err := keyOwner(r, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var up directory.AccessKeyUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	key, err := a.Directory.CreateAccessKey(r.Context(), p, userID, up)
	respond(w, r, http.StatusCreated, key, err)
}

func (a *API) accessKeyIDs(r *http.Request, p *permission.Principal) (int64, int64, error) {
	userID, err := keyOwner(r, p)
	if err != nil {
		return 0, 0, err
	}
	id, err := pathID(r, "keyId", "Access key")
	if err != nil {
		return 0, 0, err
	}
	return userID, id, nil
}

func (a *API) getAccessKey(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, id, err := a.accessKeyIDs(r, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	key, err := a.Directory.GetAccessKey(r.Context(), p, userID, id)
	respond(w, r, http.StatusOK, key, err)
}

func (a *API) updateAccessKey(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, id, err := a.accessKeyIDs(r, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var up directory.AccessKeyUpdate
	if err := decode(r, &up); err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.UpdateAccessKey(r.Context(), p, userID, id, up)
	respond(w, r, http.StatusNoContent, nil, err)
}

func (a *API) deleteAccessKey(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	userID, id, err := a.accessKeyIDs(r, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = a.Directory.DeleteAccessKey(r.Context(), p, userID, id)
	respond(w, r, http.StatusNoContent, nil, err)
}
