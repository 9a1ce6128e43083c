package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rh = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "api_rest_request_duration_seconds",
		Help: "The duration of REST requests (per method, route and status code).",
	}, []string{"method", "route", "code"})
)

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if cr := mux.CurrentRoute(r); cr != nil {
			if t, err := cr.GetPathTemplate(); err == nil {
				route = t
			}
		}
		rh.With(prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"code":   strconv.Itoa(rec.code),
		}).Observe(time.Since(start).Seconds())
	})
}
