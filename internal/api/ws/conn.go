package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/logging"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

// conn is a single WebSocket connection. It is the owner of the
// subscriptions created over it.
type conn struct {
	id      string
	ws      *websocket.Conn
	handler *Handler

	ctx    context.Context
	cancel context.CancelFunc

	clientIP net.IP
	origin   string

	limiter      *rate.Limiter
	pingInterval time.Duration
	send         chan []byte
	writerDone   chan struct{}

	mu        sync.RWMutex
	principal *permission.Principal
	// credentials of the principal, without the password
	creds auth.Credentials

	// pushes are held while a request is handled, so the response of a
	// subscribe precedes its backlog
	holdMu  sync.Mutex
	held    bool
	pending [][]byte
}

func newConn(h *Handler, ws *websocket.Conn, r *http.Request) (*conn, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "new uuid error")
	}

	conf := h.conf.API.WebSocket
	queueSize := conf.SendQueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	limit := rate.Inf
	if conf.FramesPerSecond > 0 {
		limit = rate.Limit(conf.FramesPerSecond)
	}
	burst := conf.Burst
	if burst <= 0 {
		burst = 1
	}

	c := conn{
		id:           id.String(),
		ws:           ws,
		handler:      h,
		clientIP:     remoteIP(r),
		origin:       r.Header.Get("Origin"),
		limiter:      rate.NewLimiter(limit, burst),
		pingInterval: conf.PingInterval,
		send:         make(chan []byte, queueSize),
		writerDone:   make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(logging.NewContext(context.Background()))

	return &c, nil
}

func remoteIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

// OwnerID implements subscription.Owner.
func (c *conn) OwnerID() string {
	return "ws:" + c.id
}

// Principal implements subscription.Owner. It returns nil before the
// first successful authenticate.
func (c *conn) Principal() *permission.Principal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal
}

func (c *conn) setPrincipal(p *permission.Principal, creds auth.Credentials) {
	creds.Password = ""
	c.mu.Lock()
	c.principal = p
	c.creds = creds
	c.mu.Unlock()
}

// refresh resolves the principal again from its credentials. When this
// fails the connection is left unauthenticated, its subscriptions stay
// registered but receive nothing.
func (c *conn) refresh(ctx context.Context) {
	c.mu.RLock()
	p, creds := c.principal, c.creds
	c.mu.RUnlock()
	if p == nil {
		return
	}

	np, err := c.handler.Auth.Reload(ctx, creds, p)
	if err != nil {
		np = nil
		log.WithError(err).WithFields(log.Fields{
			"connection_id": c.id,
			"user_id":       p.UserID,
			"ctx_id":        ctx.Value(logging.ContextIDKey),
		}).Info("api/ws: principal revoked")
	}

	c.mu.Lock()
	// a concurrent authenticate wins
	if c.principal == p {
		c.principal = np
	}
	c.mu.Unlock()
}

// Deliver implements subscription.Owner. It never blocks, a connection
// which can not keep up is closed.
func (c *conn) Deliver(s *subscription.Subscription, e subscription.Event) {
	b, err := json.Marshal(newPushFrame(s, e))
	if err != nil {
		pushCounter("marshal_error").Inc()
		log.WithError(err).WithField("ctx_id", c.ctx.Value(logging.ContextIDKey)).Error("api/ws: marshal push frame error")
		return
	}

	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	if c.held {
		if len(c.pending) >= cap(c.send) {
			c.overflow()
			return
		}
		c.pending = append(c.pending, b)
		return
	}
	if c.enqueue(b) {
		pushCounter("queued").Inc()
	}
}

func (c *conn) hold() {
	c.holdMu.Lock()
	c.held = true
	c.holdMu.Unlock()
}

// release queues the held pushes and ends the held state.
func (c *conn) release() {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	for _, b := range c.pending {
		if !c.enqueue(b) {
			break
		}
		pushCounter("queued").Inc()
	}
	c.pending = nil
	c.held = false
}

// enqueue adds the frame to the send queue. On overflow the connection is
// closed and false is returned.
func (c *conn) enqueue(b []byte) bool {
	select {
	case c.send <- b:
		return true
	case <-c.ctx.Done():
		return false
	default:
		c.overflow()
		return false
	}
}

// overflow closes the connection. It may be called while the dispatch
// holds subscription locks, the cleanup happens in the connection
// goroutines.
func (c *conn) overflow() {
	pushCounter("overflow").Inc()
	log.WithFields(log.Fields{
		"connection_id": c.id,
		"ctx_id":        c.ctx.Value(logging.ContextIDKey),
	}).Warning("api/ws: send queue overflow, closing connection")
	c.cancel()
}

func (c *conn) writeFrame(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).WithField("ctx_id", c.ctx.Value(logging.ContextIDKey)).Error("api/ws: marshal frame error")
		return
	}
	c.enqueue(b)
}

// run starts the writer and reads frames until the connection is closed.
func (c *conn) run() {
	connGauge.Inc()
	defer connGauge.Dec()

	log.WithFields(log.Fields{
		"connection_id": c.id,
		"remote_ip":     c.clientIP,
		"ctx_id":        c.ctx.Value(logging.ContextIDKey),
	}).Info("api/ws: connection opened")

	go c.writeLoop()
	c.readLoop()

	c.cancel()
	removed := c.handler.Engine.Registry().RemoveOwner(c.OwnerID())
	<-c.writerDone

	log.WithFields(log.Fields{
		"connection_id": c.id,
		"subscriptions": removed,
		"ctx_id":        c.ctx.Value(logging.ContextIDKey),
	}).Info("api/ws: connection closed")
}

func (c *conn) readLoop() {
	readLimit := c.handler.conf.API.WebSocket.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	c.ws.SetReadLimit(readLimit)

	if c.pingInterval > 0 {
		pongWait := 2 * c.pingInterval
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.ctx.Err() == nil {
				log.WithError(err).WithField("ctx_id", c.ctx.Value(logging.ContextIDKey)).Warning("api/ws: read frame error")
			}
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		c.handle(data)
	}
}

func (c *conn) writeLoop() {
	defer close(c.writerDone)
	defer c.ws.Close()

	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.ctx.Done():
			c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeMessageWindow))
			return
		case b := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				log.WithError(err).WithField("ctx_id", c.ctx.Value(logging.ContextIDKey)).Warning("api/ws: write frame error")
				c.cancel()
				return
			}
		case <-ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// handle answers a single request frame.
func (c *conn) handle(data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		frameCounter("", statusError).Inc()
		c.writeFrame(errorFrame(req, apierr.BadRequest("Invalid request frame")))
		return
	}
	req.raw = data

	if !c.limiter.Allow() {
		frameCounter(req.Action, statusError).Inc()
		c.writeFrame(errorFrame(req, apierr.New(http.StatusTooManyRequests, "Too many requests")))
		return
	}

	c.hold()
	defer c.release()

	resp, err := c.dispatch(req)
	if err != nil {
		if apierr.IsInternal(err) {
			log.WithError(err).WithFields(log.Fields{
				"action": req.Action,
				"ctx_id": c.ctx.Value(logging.ContextIDKey),
			}).Error("api/ws: handle frame error")
		}
		frameCounter(req.Action, statusError).Inc()
		c.writeFrame(errorFrame(req, err))
		return
	}

	frameCounter(req.Action, statusSuccess).Inc()
	c.writeFrame(successFrame(req, resp))
}

func (c *conn) dispatch(req request) (payload, error) {
	a, ok := actions[req.Action]
	if !ok {
		return nil, apierr.BadRequest("Unknown action: %s", req.Action)
	}

	p := c.Principal()
	if !a.public && p == nil {
		return nil, apierr.Unauthorized()
	}
	return a.fn(c.handler, c.ctx, c, p, req)
}
