// Package ws implements the WebSocket transport. Every request frame is
// answered by exactly one response frame carrying the same requestId and
// action. Subscription events are pushed as frames carrying the
// subscriptionId.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/api/rest"
	"github.com/devicehive/devicehive-server/internal/config"
	"github.com/devicehive/devicehive-server/internal/logging"
)

const (
	writeTimeout       = 10 * time.Second
	defaultQueueSize   = 256
	defaultReadLimit   = 1 << 20
	closeMessageWindow = time.Second
)

// Handler upgrades HTTP requests to WebSocket connections.
type Handler struct {
	rest.Services

	conf     config.Config
	upgrader websocket.Upgrader

	connsMu sync.Mutex
	conns   map[*conn]struct{}
}

// NewHandler creates a new Handler. The handler is registered with the
// engine, so that user changes re-resolve the principals of its
// connections.
func NewHandler(c config.Config, s rest.Services) *Handler {
	h := Handler{
		Services: s,
		conf:     c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origins are checked by the permissions of the principal
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
	if s.Engine != nil {
		s.Engine.AddUserRefresher(&h)
	}
	return &h
}

// RefreshUser implements dispatch.UserRefresher. The principals of the
// connections authenticated as the user are resolved again.
func (h *Handler) RefreshUser(ctx context.Context, userID int64) {
	h.connsMu.Lock()
	var conns []*conn
	for c := range h.conns {
		if p := c.Principal(); p.HasUser() && p.UserID == userID {
			conns = append(conns, c)
		}
	}
	h.connsMu.Unlock()

	for _, c := range conns {
		c.refresh(ctx)
	}
}

func (h *Handler) addConn(c *conn) {
	h.connsMu.Lock()
	h.conns[c] = struct{}{}
	h.connsMu.Unlock()
}

func (h *Handler) removeConn(c *conn) {
	h.connsMu.Lock()
	delete(h.conns, c)
	h.connsMu.Unlock()
}

// ServeHTTP implements the http.Handler interface. It blocks until the
// connection is closed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithField("ctx_id", r.Context().Value(logging.ContextIDKey)).Warning("api/ws: upgrade connection error")
		return
	}

	c, err := newConn(h, ws, r)
	if err != nil {
		log.WithError(err).Error("api/ws: new connection error")
		ws.Close()
		return
	}
	h.addConn(c)
	defer h.removeConn(c)
	c.run()
}
