package realtime

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/vesaa/cncmate/internal/metrics"
)

var (
	// ErrHubClosed is returned by Register after Close.
	ErrHubClosed = errors.New("realtime: hub closed")
	// ErrRejected is returned by Register when the greeting could not be queued.
	ErrRejected = errors.New("realtime: connection rejected greeting")
)

// Conn is one live outbound channel.
type Conn interface {
	ID() string
	// Send queues msg without blocking. It reports false when the
	// connection is closed or refused the message.
	Send(msg []byte) bool
	// Close is idempotent.
	Close() error
}

// Hub tracks live connections and delivers every event to all of them.
// Delivery is at-most-once: a connection that refuses a message misses it
// and is unregistered.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	closed bool

	metrics *metrics.Metrics
	now     func() time.Time
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		conns:   make(map[string]Conn),
		metrics: m,
		now:     time.Now,
	}
}

// Register queues the greeting on c and then adds it to the set. The
// write lock is held across both steps so no broadcast can reach c first.
func (h *Hub) Register(c Conn) error {
	greeting, err := json.Marshal(Greeting(h.now()))
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if !c.Send(greeting) {
		h.mu.Unlock()
		return ErrRejected
	}
	h.conns[c.ID()] = c
	n := len(h.conns)
	h.mu.Unlock()

	h.metrics.SetConnections(n)
	log.Printf("[hub] %s connected (%d live)", c.ID(), n)
	return nil
}

// Unregister removes c and closes it. Calling it twice is harmless.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	cur, ok := h.conns[c.ID()]
	if ok && cur == c {
		delete(h.conns, c.ID())
	}
	n := len(h.conns)
	h.mu.Unlock()

	c.Close()
	if ok && cur == c {
		h.metrics.SetConnections(n)
		log.Printf("[hub] %s disconnected (%d live)", c.ID(), n)
	}
}

// Broadcast serialises ev once and queues it on every registered
// connection. Failures never reach the caller.
func (h *Hub) Broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[hub] marshal %s: %v", ev.Type, err)
		return
	}

	var rejected []Conn
	h.mu.RLock()
	for _, c := range h.conns {
		if !c.Send(msg) {
			rejected = append(rejected, c)
		}
	}
	h.mu.RUnlock()

	h.metrics.EventBroadcast(ev.Type)
	for _, c := range rejected {
		h.Unregister(c)
	}
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close closes every connection and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]Conn)
	h.closed = true
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	h.metrics.SetConnections(0)
	if len(conns) > 0 {
		log.Printf("[hub] closed %d connections", len(conns))
	}
}
