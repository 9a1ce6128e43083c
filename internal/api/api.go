// Package api serves the REST and WebSocket transports on a single
// listener.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/devicehive/devicehive-server/internal/api/rest"
	"github.com/devicehive/devicehive-server/internal/api/ws"
	"github.com/devicehive/devicehive-server/internal/config"
	"github.com/devicehive/devicehive-server/internal/logging"
)

const shutdownTimeout = 10 * time.Second

var server *http.Server

// Setup starts the API server.
func Setup(c config.Config, s rest.Services) error {
	log.WithFields(log.Fields{
		"bind":             c.API.Bind,
		"rest_path_prefix": c.API.RESTPathPrefix,
		"websocket_path":   c.API.WebSocketPath,
		"max_connections":  c.API.MaxConnections,
	}).Info("api: starting api server")

	ln, err := net.Listen("tcp", c.API.Bind)
	if err != nil {
		return errors.Wrap(err, "listen error")
	}
	if c.API.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, c.API.MaxConnections)
	}

	server = &http.Server{
		Handler: NewHandler(c, s),
	}

	go func() {
		err := server.Serve(ln)
		if err != http.ErrServerClosed {
			log.WithError(err).Fatal("api: api server error")
		}
	}()

	return nil
}

// Stop stops the API server. Open WebSocket connections are not waited
// for.
func Stop() error {
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown api server error")
	}
	return nil
}

// NewHandler returns the handler serving the WebSocket endpoint and the
// REST routes.
func NewHandler(c config.Config, s rest.Services) http.Handler {
	r := mux.NewRouter()
	r.Use(logging.ContextIDMiddleware)

	r.Handle(c.API.WebSocketPath, ws.NewHandler(c, s))
	r.PathPrefix("/").Handler(rest.NewHandler(c, s))

	return r
}
