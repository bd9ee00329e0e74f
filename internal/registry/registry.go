// Package registry tracks live admin watcher connections and broadcasts
// orchestration events to them. It replaces ad-hoc module-level connection
// maps with an explicit service whose lifecycle follows the server's.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event is one orchestration occurrence pushed to watchers.
type Event struct {
	Type           string    `json:"type"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	WorkflowKey    string    `json:"workflowKey,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	At             time.Time `json:"at"`
}

// Event types.
const (
	EventTurnAccepted   = "turn_accepted"
	EventTurnSkipped    = "turn_skipped"
	EventTurnBuffered   = "turn_buffered"
	EventWorkflowRouted = "workflow_routed"
	EventSessionEnded   = "session_ended"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 32
)

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan Event
	// done stops the write loop. The send channel is never closed: Broadcast
	// may still be sending on it after the connection is dropped.
	done chan struct{}
}

// Registry is safe for concurrent use.
type Registry struct {
	log *slog.Logger

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

func New(log *slog.Logger) *Registry {
	return &Registry{log: log, conns: make(map[string]*conn)}
}

// Register adopts an upgraded websocket connection and returns its id.
// The registry owns the write side; the caller keeps reading (for close
// detection) and calls Unregister when the read loop ends.
func (r *Registry) Register(ws *websocket.Conn) string {
	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan Event, sendBufferSize),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ws.Close()
		return ""
	}
	r.conns[c.id] = c
	n := len(r.conns)
	r.mu.Unlock()

	go r.writeLoop(c)
	r.log.Info("watcher connected", "connection", c.id, "total", n)
	return c.id
}

// Unregister drops the connection and closes its socket.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	n := len(r.conns)
	r.mu.Unlock()
	if !ok {
		return
	}
	close(c.done)
	r.log.Info("watcher disconnected", "connection", id, "total", n)
}

// Connected reports whether the connection is still registered.
func (r *Registry) Connected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

// Count returns the number of live watcher connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Broadcast fans the event out to every watcher. Slow watchers drop events
// rather than block orchestration.
func (r *Registry) Broadcast(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	r.mu.Lock()
	conns := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		select {
		case c.send <- ev:
		default:
			r.log.Warn("watcher too slow, dropping event", "connection", c.id, "type", ev.Type)
		}
	}
}

// Close unregisters every connection; subsequent Registers are refused.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	conns := r.conns
	r.conns = make(map[string]*conn)
	r.mu.Unlock()

	for _, c := range conns {
		close(c.done)
	}
}

func (r *Registry) writeLoop(c *conn) {
	defer c.ws.Close()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				r.log.Debug("watcher write failed", "connection", c.id, "error", err)
				go r.Unregister(c.id)
				return
			}
		}
	}
}
