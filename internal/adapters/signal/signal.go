// Package signal pushes call events to connected clients over websocket.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/core"
	"github.com/dkeye/securecall/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
	ErrNotConnected = errors.New("recipient not connected")
)

const sendBuffer = 32

type WsSignalConn struct {
	conn *websocket.Conn
	id   domain.Identity
	send chan []byte

	mu      sync.RWMutex
	closed  bool
	dropped int
}

func (c *WsSignalConn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Hub tracks the websocket connections of every user.
type Hub struct {
	readLimit  int64
	pingPeriod time.Duration
	policy     Policy

	mu    sync.RWMutex
	conns map[domain.UserID]map[*WsSignalConn]struct{}
}

var _ core.Notifier = (*Hub)(nil)

func NewHub(readLimit int64, pingPeriod time.Duration) *Hub {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &Hub{
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
		policy:     SimplePolicy{MaxDropped: sendBuffer},
		conns:      make(map[domain.UserID]map[*WsSignalConn]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the connection until ctx ends
// or the peer goes away.
func (h *Hub) HandleSignal(ctx context.Context, w http.ResponseWriter, r *http.Request, id domain.Identity) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("user", string(id.User)).Str("device", string(id.Device)).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		id:   id,
		send: make(chan []byte, sendBuffer),
	}
	h.register(conn)

	ctx, cancel := context.WithCancel(ctx)
	go h.writePump(ctx, conn)
	go func() {
		defer cancel()
		h.readPump(ctx, conn)
	}()
}

func (h *Hub) register(c *WsSignalConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.id.User]
	if !ok {
		set = make(map[*WsSignalConn]struct{})
		h.conns[c.id.User] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *WsSignalConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.id.User]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.id.User)
	}
}

// Connected returns how many connections user has open.
func (h *Hub) Connected(user domain.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[user])
}

// Notify sends ev to every connection of recipient without blocking.
func (h *Hub) Notify(_ context.Context, recipient domain.UserID, ev domain.Event) error {
	h.mu.RLock()
	targets := make([]*WsSignalConn, 0, len(h.conns[recipient]))
	for c := range h.conns[recipient] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return ErrNotConnected
	}

	data, err := json.Marshal(envelope{Type: "call_event", Event: &ev})
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range targets {
		if err := c.TrySend(data); err != nil {
			errs = append(errs, err)
			if errors.Is(err, ErrBackpressure) {
				h.onBackpressure(c)
			}
		}
	}
	if len(errs) == len(targets) {
		return errors.Join(errs...)
	}
	return nil
}

func (h *Hub) onBackpressure(c *WsSignalConn) {
	c.mu.Lock()
	c.dropped++
	dropped := c.dropped
	c.mu.Unlock()

	switch h.policy.OnBackpressure(c.id.User, dropped) {
	case Disconnect:
		log.Warn().Str("module", "signal").Str("user", string(c.id.User)).Int("dropped", dropped).Msg("slow client disconnected")
		h.unregister(c)
		c.Close()
	case DropEvent:
		log.Debug().Str("module", "signal").Str("user", string(c.id.User)).Msg("event dropped")
	}
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.conns
	h.conns = make(map[domain.UserID]map[*WsSignalConn]struct{})
	h.mu.Unlock()
	for _, set := range all {
		for c := range set {
			c.Close()
		}
	}
}
