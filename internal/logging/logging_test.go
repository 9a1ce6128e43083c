package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
)

func TestContextIDMiddleware(t *testing.T) {
	assert := require.New(t)

	var ctxID interface{}
	h := ContextIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = r.Context().Value(ContextIDKey)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))

	id, ok := ctxID.(uuid.UUID)
	assert.True(ok)
	assert.Equal(id.String(), rec.Header().Get(ContextIDHeader))
}

func TestNewContext(t *testing.T) {
	assert := require.New(t)

	a := NewContext(context.Background())
	b := NewContext(context.Background())
	assert.NotEqual(a.Value(ContextIDKey), b.Value(ContextIDKey))
}
