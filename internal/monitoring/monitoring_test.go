package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/test"
)

func TestHandler(t *testing.T) {
	assert := require.New(t)

	conf := test.GetConfig()
	assert.NoError(storage.Setup(conf))
	conf.Monitoring.PrometheusEndpoint = true
	conf.Monitoring.HealthcheckEndpoint = true

	h := newHandler(conf)

	t.Run("Health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(http.StatusOK, rec.Code)
	})

	t.Run("Metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(http.StatusOK, rec.Code)
		assert.Contains(rec.Body.String(), "go_goroutines")
	})

	t.Run("Disabled endpoints", func(t *testing.T) {
		conf.Monitoring.PrometheusEndpoint = false
		rec := httptest.NewRecorder()
		newHandler(conf).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(http.StatusNotFound, rec.Code)
	})
}
