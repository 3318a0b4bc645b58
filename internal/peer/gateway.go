// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package peer delivers session lifecycle events to other server processes
// over long-lived websocket connections.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gamesession/pkg/errutil"
)

// HeaderServerID carries the connecting process id.
const HeaderServerID = "server_id"

// Close reasons sent to peers.
const (
	ReasonReplaced       = "Replaced"
	ReasonServerStopping = "ServerStopping"
)

// Defaults for Options.
const (
	DefaultLagThreshold = 256
	DefaultWriteTimeout = 5 * time.Second
	maxInboundMessage   = 64 << 10
)

// ErrClosed is returned by Accept once DisconnectAll has run.
var ErrClosed = errors.New("peer gateway closed")

// Options configure a Gateway.
type Options struct {
	// LagThreshold is the backlog of undelivered events at which a peer is
	// logged as lagging. Backlogs are never truncated; a peer is only
	// removed when a write fails or exceeds WriteTimeout.
	LagThreshold int
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Info describes one connected peer.
type Info struct {
	ProcessID uuid.UUID
	ConnID    ulid.ULID
	Since     time.Time
}

// Gateway tracks connected peer processes and fans lifecycle events out to
// them. Notify methods never block: events are appended to each peer's
// backlog and written by that peer's writer goroutine.
type Gateway struct {
	mu      sync.Mutex
	conns   map[uuid.UUID]*conn
	closed  bool
	writers sync.WaitGroup

	upgrader     websocket.Upgrader
	lagThreshold int
	writeTimeout time.Duration
	logger       *slog.Logger
	clock        func() time.Time
}

// conn is one peer transport. The writer goroutine owns all data writes.
type conn struct {
	Info
	ws *websocket.Conn

	mu      sync.Mutex
	backlog [][]byte
	lagging bool
	wake    chan struct{}

	once   sync.Once
	done   chan struct{}
	reason string
}

// enqueue appends msg to the backlog and wakes the writer. It reports the
// backlog length when it first reaches threshold, and zero otherwise.
func (c *conn) enqueue(msg []byte, threshold int) int {
	c.mu.Lock()
	c.backlog = append(c.backlog, msg)
	n := len(c.backlog)
	crossed := n >= threshold && !c.lagging
	if crossed {
		c.lagging = true
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	if crossed {
		return n
	}
	return 0
}

// take removes and returns everything queued so far.
func (c *conn) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.backlog
	c.backlog = nil
	c.lagging = false
	return batch
}

// shutdown asks the writer to send a close frame with reason and exit.
// Only the first call has any effect.
func (c *conn) shutdown(reason string) {
	c.once.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

// NewGateway creates a Gateway with no peers.
func NewGateway(opts Options) *Gateway {
	if opts.LagThreshold <= 0 {
		opts.LagThreshold = DefaultLagThreshold
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Gateway{
		conns:        make(map[uuid.UUID]*conn),
		lagThreshold: opts.LagThreshold,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		clock:        opts.Clock,
	}
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	processID, err := uuid.Parse(r.Header.Get(HeaderServerID))
	if err != nil {
		g.logger.WarnContext(r.Context(), "peer connection without valid server id",
			"remote_addr", r.RemoteAddr)
		http.Error(w, "missing or invalid server_id header", http.StatusBadRequest)
		return
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.logger.WarnContext(r.Context(), "peer upgrade failed",
			"process_id", processID.String(), "error", err)
		return
	}
	if err := g.Accept(processID, ws); err != nil {
		errutil.LogErrorContext(r.Context(), g.logger, "peer rejected", err)
	}
}

// Accept registers ws under processID, replacing any earlier connection
// with the same id, and runs its receive loop until either side closes.
// Inbound messages are discarded.
func (g *Gateway) Accept(processID uuid.UUID, ws *websocket.Conn) error {
	now := g.clock()
	c := &conn{
		Info: Info{ProcessID: processID, ConnID: newConnID(now), Since: now},
		ws:   ws,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.closeTransport(ws, ReasonServerStopping)
		return oops.Code("PEER_GATEWAY_CLOSED").With("process_id", processID.String()).Wrap(ErrClosed)
	}
	old := g.conns[processID]
	g.conns[processID] = c
	g.writers.Add(1)
	g.mu.Unlock()

	if old != nil {
		g.logger.Info("peer replaced",
			"process_id", processID.String(), "old_conn", old.ConnID.String(), "new_conn", c.ConnID.String())
		old.shutdown(ReasonReplaced)
		Disconnects.WithLabelValues(dropReplaced).Inc()
	}
	g.logger.Info("peer connected", "process_id", processID.String(), "conn_id", c.ConnID.String())

	go g.writeLoop(c)
	g.readLoop(c)
	return nil
}

func (g *Gateway) readLoop(c *conn) {
	c.ws.SetReadLimit(maxInboundMessage)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("peer read ended", "process_id", c.ProcessID.String(), "error", err)
			}
			g.drop(c, dropClosed)
			return
		}
	}
}

func (g *Gateway) writeLoop(c *conn) {
	defer g.writers.Done()
	defer func() { _ = c.ws.Close() }()

	for {
		select {
		case <-c.wake:
			for _, msg := range c.take() {
				if err := g.write(c, msg); err != nil {
					g.logger.Warn("peer send failed",
						"process_id", c.ProcessID.String(), "conn_id", c.ConnID.String(), "error", err)
					g.drop(c, dropSendFailed)
					return
				}
			}
		case <-c.done:
			g.flush(c)
			g.closeTransport(c.ws, c.reason)
			return
		}
	}
}

// flush writes whatever is still queued so peers see every event that
// preceded the close.
func (g *Gateway) flush(c *conn) {
	for _, msg := range c.take() {
		if err := g.write(c, msg); err != nil {
			return
		}
	}
}

func (g *Gateway) write(c *conn, msg []byte) error {
	if err := c.ws.SetWriteDeadline(g.clock().Add(g.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func (g *Gateway) closeTransport(ws *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(g.writeTimeout))
	_ = ws.Close()
}

// drop removes c if it is still the registered connection for its process
// and shuts it down.
func (g *Gateway) drop(c *conn, reason string) {
	g.mu.Lock()
	removed := g.conns[c.ProcessID] == c
	if removed {
		delete(g.conns, c.ProcessID)
	}
	g.mu.Unlock()

	if removed {
		g.logger.Info("peer disconnected",
			"process_id", c.ProcessID.String(), "conn_id", c.ConnID.String(), "reason", reason)
		Disconnects.WithLabelValues(reason).Inc()
	}
	c.shutdown(reason)
}

// NotifySessionCreated queues a created event for every peer.
func (g *Gateway) NotifySessionCreated(sessionID uuid.UUID, accountID int64, username string, issuerID uint32, platform string) {
	g.broadcast(Event{
		Event:       EventCreated,
		SessionID:   sessionID,
		AccountID:   accountID,
		DisplayName: username,
		IssuerID:    issuerID,
		Platform:    platform,
	})
}

// NotifySessionDestroyed queues a destroyed event for every peer.
func (g *Gateway) NotifySessionDestroyed(sessionID uuid.UUID) {
	g.broadcast(Event{Event: EventDestroyed, SessionID: sessionID})
}

func (g *Gateway) broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		errutil.LogError(g.logger, "encode peer event",
			oops.Code("PEER_EVENT_ENCODE_FAILED").With("event", ev.Event).Wrap(err))
		return
	}

	type lag struct {
		c       *conn
		backlog int
	}
	var lagging []lag

	g.mu.Lock()
	for _, c := range g.conns {
		if n := c.enqueue(msg, g.lagThreshold); n > 0 {
			lagging = append(lagging, lag{c, n})
		}
		EventsQueued.WithLabelValues(ev.Event).Inc()
	}
	g.mu.Unlock()

	for _, l := range lagging {
		g.logger.Warn("peer is lagging",
			"process_id", l.c.ProcessID.String(), "conn_id", l.c.ConnID.String(), "backlog", l.backlog)
	}
}

// IsConnected reports whether processID currently has a live connection.
func (g *Gateway) IsConnected(processID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.conns[processID]
	return ok
}

// Connected returns the ids of connected processes in ascending order.
func (g *Gateway) Connected() []uuid.UUID {
	g.mu.Lock()
	ids := make([]uuid.UUID, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return ids
}

// Peers returns a snapshot of every connection, oldest first.
func (g *Gateway) Peers() []Info {
	g.mu.Lock()
	out := make([]Info, 0, len(g.conns))
	for _, c := range g.conns {
		out = append(out, c.Info)
	}
	g.mu.Unlock()
	slices.SortFunc(out, func(a, b Info) int { return a.ConnID.Compare(b.ConnID) })
	return out
}

// Count returns the number of connected peers.
func (g *Gateway) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// DisconnectAll closes every connection with reason and refuses new ones.
// It returns once every writer has sent its close frame, or with an error
// when ctx ends first, in which case remaining transports are closed
// without a close frame.
func (g *Gateway) DisconnectAll(ctx context.Context, reason string) error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*conn, 0, len(g.conns))
	for id, c := range g.conns {
		conns = append(conns, c)
		delete(g.conns, id)
	}
	g.mu.Unlock()

	for _, c := range conns {
		Disconnects.WithLabelValues(dropShutdown).Inc()
		c.shutdown(reason)
	}

	done := make(chan struct{})
	go func() {
		g.writers.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("peers disconnected", "count", len(conns), "reason", reason)
		return nil
	case <-ctx.Done():
		for _, c := range conns {
			_ = c.ws.Close()
		}
		<-done
		return oops.Code("PEER_DISCONNECT_TIMEOUT").
			With("count", len(conns)).
			With("reason", reason).
			Wrap(ctx.Err())
	}
}
