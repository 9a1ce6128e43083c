// Package rest implements the REST transport on top of gorilla/mux.
package rest

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/config"
	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/dispatch"
	"github.com/devicehive/devicehive-server/internal/logging"
	"github.com/devicehive/devicehive-server/internal/messages"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/plugin"
	"github.com/devicehive/devicehive-server/internal/storage"
)

// APIVersion is reported by the info endpoint.
const APIVersion = "3.5.0"

// Device credential headers.
const (
	DeviceIDHeader  = "Auth-DeviceID"
	DeviceKeyHeader = "Auth-DeviceKey"
)

type ctxKey int

const principalKey ctxKey = iota

// Services holds the services used by the handlers.
type Services struct {
	Auth      *auth.Authenticator
	Directory *directory.Service
	Messages  *messages.Service
	Plugins   *plugin.Service
	Engine    *dispatch.Engine
}

// API implements the REST handlers.
type API struct {
	Services
	conf config.Config
}

// NewHandler returns the REST handler. All routes are registered under
// the rest path prefix of the configuration.
func NewHandler(c config.Config, s Services) http.Handler {
	a := &API{Services: s, conf: c}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, apierr.NotFound("Resource not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, apierr.MethodNotAllowed())
	})

	sr := r.PathPrefix(c.API.RESTPathPrefix).Subrouter()
	sr.Use(metricsMiddleware)
	sr.Use(a.authMiddleware)

	a.registerInfoRoutes(sr)
	a.registerTokenRoutes(sr)
	a.registerUserRoutes(sr)
	a.registerNetworkRoutes(sr)
	a.registerDeviceTypeRoutes(sr)
	a.registerDeviceRoutes(sr)
	a.registerCommandRoutes(sr)
	a.registerNotificationRoutes(sr)
	a.registerOAuthRoutes(sr)
	a.registerPluginRoutes(sr)

	return r
}

// authMiddleware resolves the request credentials. Requests without
// credentials continue without principal, invalid credentials are
// rejected with 401.
func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := credentials(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		p, err := a.Auth.Authenticate(r.Context(), c)
		if err != nil {
			if apierr.IsInternal(err) {
				writeError(w, r, err)
				return
			}
			writeError(w, r, apierr.Unauthorized())
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func credentials(r *http.Request) (auth.Credentials, bool) {
	c := auth.Credentials{
		ClientIP: clientIP(r),
		Origin:   r.Header.Get("Origin"),
	}

	if guid := r.Header.Get(DeviceIDHeader); guid != "" {
		c.DeviceGUID = guid
		c.DeviceKey = r.Header.Get(DeviceKeyHeader)
		return c, true
	}

	h := r.Header.Get("Authorization")
	switch {
	case h == "":
		return c, false
	case strings.HasPrefix(h, "Bearer "):
		c.Token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	default:
		login, password, ok := r.BasicAuth()
		if !ok {
			// an unparsable header is an invalid credential
			c.Token = h
			return c, true
		}
		c.Login = login
		c.Password = password
	}
	return c, true
}

func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

// principal returns the principal of the request or writes 401.
func principal(w http.ResponseWriter, r *http.Request) (*permission.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(*permission.Principal)
	if !ok || p == nil {
		writeError(w, r, apierr.Unauthorized())
		return nil, false
	}
	return p, true
}

// authenticated wraps a handler which requires a principal.
func authenticated(h func(w http.ResponseWriter, r *http.Request, p *permission.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		h(w, r, p)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("api/rest: encode response error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apierr.FromError(err)
	if e.Code == http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"ctx_id": r.Context().Value(logging.ContextIDKey),
		}).Error("api/rest: internal error")
	}
	writeJSON(w, e.Code, e)
}

// respond writes v with code, or the error when err is set.
func respond(w http.ResponseWriter, r *http.Request, code int, v interface{}, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	if code == http.StatusNoContent {
		w.WriteHeader(code)
		return
	}
	writeJSON(w, code, v)
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return apierr.BadRequest("Request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.BadRequest("Invalid request body: %s", err)
	}
	return nil
}

func pathID(r *http.Request, name, label string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, apierr.BadRequest("%s id must be an integer", label)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, apierr.BadRequest("%s must be a non-negative integer", name)
	}
	return i, nil
}

func queryInt64Ptr(r *http.Request, name string) (*int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, apierr.BadRequest("%s must be an integer", name)
	}
	return &i, nil
}

func queryIDs(r *http.Request, name string) ([]int64, error) {
	var out []int64
	for _, s := range queryList(r, name) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, apierr.BadRequest("%s must be a list of integers", name)
		}
		out = append(out, id)
	}
	return out, nil
}

func queryList(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses a timestamp parameter. Timestamps without zone
// are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, l := range timestampLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("invalid timestamp: %s", s)
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(v)
	if err != nil {
		return nil, apierr.BadRequest("%s must be a timestamp", name)
	}
	return &t, nil
}

func queryWaitTimeout(r *http.Request) (*time.Duration, error) {
	v := r.URL.Query().Get("waitTimeout")
	if v == "" {
		return nil, nil
	}
	s, err := strconv.ParseInt(v, 10, 64)
	if err != nil || s < 0 {
		return nil, apierr.BadRequest("waitTimeout must be a non-negative integer")
	}
	// larger values are capped by the poll, they only must not overflow
	if s > int64(math.MaxInt64/time.Second) {
		s = int64(math.MaxInt64 / time.Second)
	}
	d := time.Duration(s) * time.Second
	return &d, nil
}

func listOptions(r *http.Request) (storage.ListOptions, error) {
	var o storage.ListOptions
	var err error

	o.SortField = r.URL.Query().Get("sortField")
	o.SortOrder = r.URL.Query().Get("sortOrder")
	if o.Take, err = queryInt(r, "take"); err != nil {
		return o, err
	}
	if o.Skip, err = queryInt(r, "skip"); err != nil {
		return o, err
	}
	return o, nil
}

type countResponse struct {
	Count int `json:"count"`
}
