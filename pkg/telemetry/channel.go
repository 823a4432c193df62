package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the channel connection state.
type State int

const (
	StateStopped State = iota
	StateConnecting
	StateOpen
	StateReconnectWait
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnectWait:
		return "reconnect-wait"
	default:
		return "unknown"
	}
}

// Backoff returns the reconnect delay for the given retry count:
// min(max, base*2^retry).
func Backoff(base, max time.Duration, retry int) time.Duration {
	d := base
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Channel is one resilient websocket connection. While enabled it keeps
// reconnecting with capped exponential backoff; disabling it cancels
// all pending timers and closes the connection with a normal-closure
// code. Connection errors are absorbed: they force a close and a
// reconnect, never an error to the caller.
type Channel struct {
	name          string
	url           string
	reconnectBase time.Duration
	reconnectMax  time.Duration
	pingEvery     time.Duration // 0 disables liveness pings
	onMessage     func(data []byte)
	logger        *slog.Logger

	// writeMu serializes writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex

	mu           sync.Mutex
	shouldRun    bool
	state        State
	conn         *websocket.Conn
	gen          int // connection generation, to ignore stale close events
	retry        int
	reconnectTmr *time.Timer
	pingStop     chan struct{}
}

// NewChannel creates a channel. onMessage receives inbound text
// messages; binary inbound messages are ignored.
func NewChannel(name, url string, reconnectBase, reconnectMax, pingEvery time.Duration, onMessage func([]byte), logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		name:          name,
		url:           url,
		reconnectBase: reconnectBase,
		reconnectMax:  reconnectMax,
		pingEvery:     pingEvery,
		onMessage:     onMessage,
		logger:        logger.With("component", "telemetry."+name),
	}
}

// Enable marks the channel as wanted and connects if it is not already
// open or connecting.
func (c *Channel) Enable() {
	c.mu.Lock()
	c.shouldRun = true
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	c.cancelReconnectLocked()
	c.state = StateConnecting
	c.mu.Unlock()

	go c.connect()
}

// Disable is terminal until re-enabled: it cancels pending timers and
// closes any live connection cleanly. The retry counter is preserved;
// it resets only on a subsequent successful open.
func (c *Channel) Disable() {
	c.mu.Lock()
	c.shouldRun = false
	c.cancelReconnectLocked()
	c.stopPingLocked()
	conn := c.conn
	c.conn = nil
	c.gen++
	c.state = StateStopped
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client stop"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	c.logger.Info("channel stopped")
}

// connect dials and, on success, starts the read loop and liveness
// pings. On failure it follows the regular close path so backoff
// applies uniformly.
func (c *Channel) connect() {
	c.mu.Lock()
	if !c.shouldRun {
		c.state = StateStopped
		c.mu.Unlock()
		return
	}
	gen := c.gen
	c.mu.Unlock()

	c.logger.Info("opening", "url", c.url)
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)

	c.mu.Lock()
	if gen != c.gen || !c.shouldRun {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("dial failed", "error", err)
		c.handleClose(gen)
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.retry = 0
	if c.pingEvery > 0 {
		c.startPingLocked(conn)
	}
	c.mu.Unlock()

	c.logger.Info("open")
	go c.readLoop(conn, gen)
}

// readLoop delivers inbound text messages until the connection drops.
func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("closed", "error", err)
			conn.Close()
			c.handleClose(gen)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

// handleClose runs the reconnect policy after any close, clean or not.
func (c *Channel) handleClose(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.gen++
	c.conn = nil
	c.stopPingLocked()

	if !c.shouldRun {
		c.state = StateStopped
		c.mu.Unlock()
		return
	}

	delay := Backoff(c.reconnectBase, c.reconnectMax, c.retry)
	c.retry++
	c.state = StateReconnectWait
	c.cancelReconnectLocked()
	c.reconnectTmr = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTmr = nil
		if !c.shouldRun {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()
		c.connect()
	})
	retry := c.retry
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled", "delay_ms", delay.Milliseconds(), "retry", retry)
}

// cancelReconnectLocked enforces the at-most-one-pending-timer invariant.
func (c *Channel) cancelReconnectLocked() {
	if c.reconnectTmr != nil {
		c.reconnectTmr.Stop()
		c.reconnectTmr = nil
	}
}

// startPingLocked begins the periodic liveness ping for this connection.
// Pings are opaque text; the service ignores their content.
func (c *Channel) startPingLocked(conn *websocket.Conn) {
	c.stopPingLocked()
	stop := make(chan struct{})
	c.pingStop = stop

	go func() {
		ticker := time.NewTicker(c.pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				live := c.conn == conn
				c.mu.Unlock()
				if !live {
					return
				}
				c.writeMu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *Channel) stopPingLocked() {
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
}

// Send writes a binary message on the open connection. Messages are
// dropped silently while the channel is not open; a write failure
// force-closes the connection and lets the reconnect policy run.
func (c *Channel) Send(data []byte) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return
	}
	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("send failed, forcing close", "error", err)
		conn.Close()
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retry returns the current retry counter.
func (c *Channel) Retry() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry
}

// ReconnectPending reports whether a reconnect timer is armed.
func (c *Channel) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectTmr != nil
}
