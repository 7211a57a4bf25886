package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vesaa/cncmate/internal/idgen"
	"github.com/vesaa/cncmate/internal/metrics"
)

// OverflowPolicy decides what Send does when the outbound queue is full.
type OverflowPolicy string

const (
	// DropOldest discards the oldest queued message to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// Disconnect closes the connection.
	Disconnect OverflowPolicy = "disconnect"
)

// ParseOverflowPolicy accepts the ws_overflow_policy config values.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case DropOldest, Disconnect:
		return p, nil
	case "":
		return DropOldest, nil
	}
	return "", fmt.Errorf("unknown ws overflow policy %q (use 'drop_oldest' or 'disconnect')", s)
}

type WSOptions struct {
	SendBuffer   int
	Policy       OverflowPolicy
	WriteTimeout time.Duration
	PingInterval time.Duration
	Metrics      *metrics.Metrics
}

func (o *WSOptions) withDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.Policy == "" {
		o.Policy = DropOldest
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
}

// maxInbound bounds client frames; the channel is server-push only.
const maxInbound = 512

// WSConn is a websocket with a bounded outbound queue drained by its own
// write pump.
type WSConn struct {
	id   string
	ws   *websocket.Conn
	opts WSOptions

	sendMu sync.Mutex
	send   chan []byte

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func NewWSConn(ws *websocket.Conn, opts WSOptions) *WSConn {
	opts.withDefaults()
	return &WSConn{
		id:   idgen.MustShort("ws_"),
		ws:   ws,
		opts: opts,
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) Send(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	for {
		select {
		case <-c.done:
			return false
		default:
		}
		select {
		case c.send <- msg:
			return true
		default:
		}

		c.opts.Metrics.MessageDropped(string(c.opts.Policy))
		if c.opts.Policy == Disconnect {
			// Send runs under the hub's lock; the close handshake may wait
			// on a stalled writer.
			c.markDone()
			go c.Close()
			return false
		}
		// Only the write pump receives, so one discard always frees a slot.
		select {
		case <-c.send:
		default:
		}
	}
}

// Close stops both pumps and closes the socket. The send channel is never
// closed so a racing Send cannot panic.
func (c *WSConn) Close() error {
	var err error
	c.markDone()
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
		err = c.ws.Close()
	})
	return err
}

// markDone stops both pumps and refuses further sends.
func (c *WSConn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Serve registers c with h and pumps until the peer goes away or the
// connection is closed, then unregisters it.
func (c *WSConn) Serve(h *Hub) error {
	if err := h.Register(c); err != nil {
		c.Close()
		return err
	}
	go c.writePump()
	c.readPump()
	h.Unregister(c)
	return nil
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and returns on the first read error,
// which is how a closed peer is detected.
func (c *WSConn) readPump() {
	pongWait := c.opts.PingInterval + c.opts.WriteTimeout
	c.ws.SetReadLimit(maxInbound)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
