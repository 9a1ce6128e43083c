package logging

import (
	"context"
	"net/http"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
)

// ContextKey defines the context key type.
type ContextKey string

// ContextIDKey holds the key of the context ID.
const ContextIDKey ContextKey = "ctx_id"

// ContextIDHeader is the response header carrying the context ID.
const ContextIDHeader = "X-Request-ID"

// NewContext returns a copy of ctx carrying a new random context ID.
func NewContext(ctx context.Context) context.Context {
	ctxID, err := uuid.NewV4()
	if err != nil {
		log.WithError(err).Error("logging: new uuid error")
		return ctx
	}
	return context.WithValue(ctx, ContextIDKey, ctxID)
}

// ContextIDMiddleware adds the ContextIDKey to the request context and
// exposes it as response header.
func ContextIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := NewContext(r.Context())
		if id, ok := ctx.Value(ContextIDKey).(uuid.UUID); ok {
			w.Header().Set(ContextIDHeader, id.String())
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
