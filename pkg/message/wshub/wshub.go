// Package wshub pushes message events to connected WebSocket clients.
//
// A [Hub] is an http.Handler that upgrades each request to a WebSocket and a
// message.Sink whose calls are broadcast as JSON events:
//
//	{"type":"message.created","session_id":"…","message":{"id":1,"original":"…","translated":null,"timestamp":"…"}}
//	{"type":"message.translated","session_id":"…","message":{"id":1,"original":"…","translated":"…","timestamp":"…"}}
//
// Failures of the current session are pushed as "session.error" events:
//
//	{"type":"session.error","session_id":"…","error":{"stage":"translate","message_id":1,"error":"…"}}
//
// Clients joining mid-session first receive a "message.snapshot" event per
// message of the current session. Clients that cannot keep up are
// disconnected rather than slowing the pipeline down.
package wshub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/interpreta/pkg/message"
	"github.com/MrWong99/interpreta/pkg/message/memory"
)

// Event types.
const (
	EventCreated    = "message.created"
	EventTranslated = "message.translated"
	EventSnapshot   = "message.snapshot"
	EventError      = "session.error"
)

const (
	defaultHistory = 200
	sendBuffer     = 64
	writeTimeout   = 5 * time.Second
)

// Event is the JSON payload sent to clients.
type Event struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	Message   *message.Message `json:"message,omitempty"`
	Error     *Failure         `json:"error,omitempty"`
}

// Failure describes a pipeline error in a "session.error" event.
type Failure struct {
	Stage     string `json:"stage"`
	MessageID int64  `json:"message_id,omitempty"`
	Error     string `json:"error"`
}

// Hub fans message events out to WebSocket clients. It is safe for
// concurrent use.
type Hub struct {
	originPatterns []string
	historyLimit   int

	mu        sync.Mutex
	clients   map[*client]struct{}
	sessionID string
	history   *memory.Store
}

type client struct {
	send chan Event
	// kick is closed when the client fell behind.
	kick chan struct{}
	once sync.Once
}

func (c *client) drop() {
	c.once.Do(func() { close(c.kick) })
}

// Option configures a [Hub].
type Option func(*Hub)

// WithOriginPatterns allows cross-origin connections from the given host
// patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) {
		h.originPatterns = patterns
	}
}

// WithHistory sets how many messages of the current session are replayed to
// new clients.
func WithHistory(n int) Option {
	return func(h *Hub) {
		if n >= 0 {
			h.historyLimit = n
		}
	}
}

// New returns a Hub with no clients.
func New(opts ...Option) *Hub {
	h := &Hub{
		historyLimit: defaultHistory,
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.history = memory.New(memory.WithLimit(h.historyLimit))
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Session starts a new session: the replay history is cleared and the
// returned sink tags its events with sessionID.
func (h *Hub) Session(sessionID string) message.Sink {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionID = sessionID
	h.history = memory.New(memory.WithLimit(h.historyLimit))
	return &sessionSink{hub: h, sessionID: sessionID}
}

type sessionSink struct {
	hub       *Hub
	sessionID string
}

func (s *sessionSink) CreateMessage(ctx context.Context, id int64, original string, ts time.Time) error {
	return s.hub.apply(ctx, s.sessionID, EventCreated, func(st *memory.Store) error {
		return st.CreateMessage(ctx, id, original, ts)
	}, id)
}

func (s *sessionSink) SetTranslation(ctx context.Context, id int64, translated string) error {
	return s.hub.apply(ctx, s.sessionID, EventTranslated, func(st *memory.Store) error {
		return st.SetTranslation(ctx, id, translated)
	}, id)
}

// apply updates the history of the current session and broadcasts the
// resulting message. Events of a session that is no longer current are
// dropped.
func (h *Hub) apply(_ context.Context, sessionID, typ string, update func(*memory.Store) error, id int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sessionID != h.sessionID {
		return nil
	}
	if err := update(h.history); err != nil {
		if errors.Is(err, message.ErrNotFound) {
			// Evicted from the replay history.
			return nil
		}
		return err
	}
	m, ok := h.history.Get(id)
	if !ok {
		return nil
	}
	h.broadcastLocked(Event{Type: typ, SessionID: sessionID, Message: &m})
	return nil
}

// ReportError pushes a failure of sessionID to all clients. Failures are not
// replayed to clients that connect later. Reports for a session that is no
// longer current are dropped.
func (h *Hub) ReportError(sessionID string, f Failure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sessionID != h.sessionID {
		return
	}
	h.broadcastLocked(Event{Type: EventError, SessionID: sessionID, Error: &f})
}

func (h *Hub) broadcastLocked(ev Event) {
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			c.drop()
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects or falls behind.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("wshub: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	h.mu.Lock()
	backlog := h.history.Messages()
	c := &client{send: make(chan Event, len(backlog)+sendBuffer), kick: make(chan struct{})}
	for i := range backlog {
		c.send <- Event{Type: EventSnapshot, SessionID: h.sessionID, Message: &backlog[i]}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
			conn.Close(websocket.StatusPolicyViolation, "client too slow")
			return
		case ev := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
