// messaging/bridge.go
package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Serialized pages travel over the bridge.
	maxMessageSize = 32 << 20
)

// ErrConnClosed is reported for requests pending on a dropped bridge connection.
var ErrConnClosed = errors.New("bridge connection closed")

// Bridge accepts remote page agents on a websocket endpoint. A connection for
// tab N (query parameter tabId) becomes the router's handler for N until it
// drops.
type Bridge struct {
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*bridgeConn]struct{}
}

func NewBridge(router *Router, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		router: router,
		logger: logger.Named("bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*bridgeConn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.URL.Query().Get("tabId"))
	if err != nil || tabID <= 0 {
		http.Error(w, "tabId query parameter is required", http.StatusBadRequest)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &bridgeConn{
		bridge:  b,
		tabID:   tabID,
		conn:    conn,
		send:    make(chan []byte, 16),
		pending: make(map[string]chan Response),
		closed:  make(chan struct{}),
	}
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
	unregister := b.router.Register(tabID, c)
	b.logger.Info("Page agent connected.", zap.Int("tab_id", tabID))

	go c.writePump()
	c.readPump()

	unregister()
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
	b.logger.Info("Page agent disconnected.", zap.Int("tab_id", tabID))
}

// Connected returns the number of live connections.
func (b *Bridge) Connected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Close drops every connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	conns := make([]*bridgeConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		c.shutdown()
	}
}

// bridgeConn is one remote agent. It implements Handler by forwarding the
// request and waiting for the reply with the same id.
type bridgeConn struct {
	bridge *Bridge
	tabID  int
	conn   *websocket.Conn
	send   chan []byte

	mu        sync.Mutex
	pending   map[string]chan Response
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *bridgeConn) Handle(ctx context.Context, req Request) Response {
	id := uuid.NewString()
	env, err := Encode(id, c.tabID, req)
	if err != nil {
		return Fail(err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return Fail(fmt.Errorf("failed to frame %s: %w", req.Action(), err))
	}

	reply := make(chan Response, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case c.send <- raw:
	case <-c.closed:
		return Fail(ErrConnClosed)
	case <-ctx.Done():
		return Fail(ctx.Err())
	}

	select {
	case resp := <-reply:
		return resp
	case <-c.closed:
		return Fail(ErrConnClosed)
	case <-ctx.Done():
		return Fail(ctx.Err())
	}
}

func (c *bridgeConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// readPump delivers replies to the waiting Handle calls.
func (c *bridgeConn) readPump() {
	defer c.shutdown()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.bridge.logger.Warn("Websocket client read error", zap.Error(err))
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.bridge.logger.Error("Failed to unmarshal incoming message", zap.Error(err))
			continue
		}
		if env.Response == nil {
			c.bridge.logger.Debug("Ignoring non-reply message", zap.String("id", env.ID), zap.String("action", string(env.Action)))
			continue
		}
		c.mu.Lock()
		reply, ok := c.pending[env.ID]
		c.mu.Unlock()
		if !ok {
			c.bridge.logger.Debug("Reply for unknown request", zap.String("id", env.ID))
			continue
		}
		reply <- *env.Response
	}
}

// writePump serializes writes and keeps the connection alive with pings.
func (c *bridgeConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()
	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Peer is the page side of a bridge connection.
type Peer struct {
	conn    *websocket.Conn
	handler Handler
	logger  *zap.Logger
	writeMu sync.Mutex
	done    chan struct{}
}

// DialBridge connects handler to the bridge at endpoint as tab tabID and
// serves requests until the connection closes or Close is called.
func DialBridge(ctx context.Context, endpoint string, tabID int, handler Handler, logger *zap.Logger) (*Peer, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge url %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("tabId", strconv.Itoa(tabID))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bridge: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Peer{conn: conn, handler: handler, logger: logger.Named("bridge_peer"), done: make(chan struct{})}
	go p.serve()
	return p, nil
}

// Done is closed when the connection ends.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Close ends the connection and waits for the serve loop.
func (p *Peer) Close() error {
	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	p.writeMu.Unlock()
	err := p.conn.Close()
	<-p.done
	return err
}

func (p *Peer) serve() {
	defer close(p.done)
	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			p.logger.Error("Failed to unmarshal bridge request", zap.Error(err))
			continue
		}
		var resp Response
		if req, err := Decode(env); err != nil {
			resp = Fail(err)
		} else {
			resp = p.handler.Handle(context.Background(), req)
		}
		raw, err := json.Marshal(Envelope{ID: env.ID, Response: &resp})
		if err != nil {
			p.logger.Error("Failed to encode bridge reply", zap.Error(err))
			continue
		}
		p.writeMu.Lock()
		p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = p.conn.WriteMessage(websocket.TextMessage, raw)
		p.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}
