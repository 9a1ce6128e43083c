package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devicehive/devicehive-server/internal/messages"
	"github.com/devicehive/devicehive-server/internal/permission"
)

func (a *API) registerNotificationRoutes(r *mux.Router) {
	r.HandleFunc("/device/notification/poll", authenticated(a.pollNotifications)).Methods(http.MethodGet)
	r.HandleFunc("/device/notification/poll/many", authenticated(a.pollNotifications)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}/notification", authenticated(a.listNotifications)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}/notification", authenticated(a.insertNotification)).Methods(http.MethodPost)
	r.HandleFunc("/device/{guid}/notification/poll", authenticated(a.pollNotifications)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}/notification/poll/many", authenticated(a.pollNotifications)).Methods(http.MethodGet)
	r.HandleFunc("/device/{guid}/notification/{id}", authenticated(a.getNotification)).Methods(http.MethodGet)
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	q, err := listQuery(r, "notification")
	if err != nil {
		writeError(w, r, err)
		return
	}
	notifications, err := a.Messages.ListNotifications(r.Context(), p, q)
	respond(w, r, http.StatusOK, notifications, err)
}

func (a *API) insertNotification(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	var in messages.NotificationInsert
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := a.Messages.InsertNotification(r.Context(), p, mux.Vars(r)["guid"], in)
	respond(w, r, http.StatusCreated, n, err)
}

func (a *API) getNotification(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	id, err := pathID(r, "id", "Notification")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := a.Messages.GetNotification(r.Context(), p, mux.Vars(r)["guid"], id)
	respond(w, r, http.StatusOK, n, err)
}

func (a *API) pollNotifications(w http.ResponseWriter, r *http.Request, p *permission.Principal) {
	q, err := pollQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	notifications, err := a.Messages.PollNotifications(r.Context(), p, q)
	respond(w, r, http.StatusOK, notifications, err)
}
