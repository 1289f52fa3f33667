// Package transport owns the streaming connection to the game server: dial,
// read pump, heartbeats, failure detection, and the reconnection supervisor.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// State is the connection state owned exclusively by the Channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Callbacks are fired from the Channel's own goroutines. At most one of
// OnClosed/OnFailure fires per connection lifetime.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClosed  func(code websocket.StatusCode, reason string)
	OnFailure func(err error)
}

// Options tune the Channel's timers. Zero values get defaults.
type Options struct {
	PingInterval time.Duration // heartbeat send interval (default 15s)
	ReadTimeout  time.Duration // pong deadline per heartbeat (default 30s)
	DialTimeout  time.Duration // dial deadline (default 10s)
	WriteTimeout time.Duration // per-send deadline (default 3s)
	Clock        clockwork.Clock
	Logger       *zap.Logger
}

type dialFunc func(ctx context.Context, endpoint string) (*websocket.Conn, error)

// Channel is one streaming connection. All inbound messages are delivered in
// order from a single read goroutine.
type Channel struct {
	cb    Callbacks
	clock clockwork.Clock
	log   *zap.Logger
	dial  dialFunc

	pingInterval time.Duration
	readTimeout  time.Duration
	dialTimeout  time.Duration
	writeTimeout time.Duration

	mu         sync.Mutex
	state      State
	err        error
	conn       *websocket.Conn
	endpoint   string
	manual     bool // caller asked for the disconnect
	pumpCancel context.CancelFunc
}

func NewChannel(cb Callbacks, opts Options) *Channel {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Channel{
		cb:           cb,
		clock:        opts.Clock,
		log:          opts.Logger,
		dial:         defaultDial,
		pingInterval: opts.PingInterval,
		readTimeout:  opts.ReadTimeout,
		dialTimeout:  opts.DialTimeout,
		writeTimeout: opts.WriteTimeout,
	}
}

func defaultDial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	return conn, err
}

// State reports the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err reports the failure that produced an Errored state, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Connect dials the endpoint and starts the read and heartbeat pumps. It is
// idempotent: while Connecting or Connected it returns immediately without
// opening a second connection.
func (c *Channel) Connect(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	if c.state == Connecting || c.state == Connected {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.err = nil
	c.manual = false
	c.endpoint = endpoint
	dial := c.dial
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, err := dial(dctx, endpoint)
	if err != nil {
		c.mu.Lock()
		aborted := c.manual
		if !aborted {
			c.state = Errored
			c.err = err
		}
		c.mu.Unlock()
		if aborted {
			return nil
		}
		c.log.Warn("connect failed", zap.String("endpoint", endpoint), zap.Error(err))
		if c.cb.OnFailure != nil {
			c.cb.OnFailure(err)
		}
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}

	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.manual {
		// Disconnect raced the dial; honor it.
		c.mu.Unlock()
		pumpCancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return nil
	}
	c.state = Connected
	c.conn = conn
	c.pumpCancel = pumpCancel
	c.mu.Unlock()

	go c.readPump(pumpCtx, conn)
	go c.pingLoop(pumpCtx, conn)

	c.log.Info("connected", zap.String("endpoint", endpoint))
	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}
	return nil
}

// Disconnect moves to Disconnected and stays there until the next Connect.
// No OnClosed/OnFailure callback fires for a caller-initiated disconnect.
func (c *Channel) Disconnect(reason string) {
	c.mu.Lock()
	c.manual = true
	c.state = Disconnected
	c.err = nil
	conn := c.conn
	c.conn = nil
	cancel := c.pumpCancel
	c.pumpCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
	}
}

// Send writes one text message. Returns false (non-fatal) when no connection
// is open or the write fails.
func (c *Channel) Send(ctx context.Context, data []byte) bool {
	c.mu.Lock()
	conn := c.conn
	ok := c.state == Connected
	c.mu.Unlock()
	if !ok || conn == nil {
		return false
	}

	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		c.log.Warn("send failed", zap.Error(err))
		return false
	}
	return true
}

// readPump blocks on the connection for as long as it lives. Idle is not a
// failure: silence is probed by pingLoop, whose bounded Ping round-trip is
// the liveness check. A read error here is a real break.
func (c *Channel) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // pump cancelled by Disconnect or an earlier failure
			}
			c.handleReadErr(conn, err)
			return
		}
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(data)
		}
	}
}

func (c *Channel) handleReadErr(conn *websocket.Conn, err error) {
	var ce websocket.CloseError
	if errors.As(err, &ce) &&
		(ce.Code == websocket.StatusNormalClosure || ce.Code == websocket.StatusGoingAway) {
		if !c.teardown(conn, Disconnected, nil) {
			return
		}
		c.log.Info("connection closed by server",
			zap.Int("code", int(ce.Code)), zap.String("reason", ce.Reason))
		if c.cb.OnClosed != nil {
			c.cb.OnClosed(ce.Code, ce.Reason)
		}
		return
	}
	c.fail(conn, err)
}

func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := c.clock.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			pctx, cancel := context.WithTimeout(ctx, c.readTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.fail(conn, fmt.Errorf("heartbeat: %w", err))
				return
			}
		}
	}
}

// fail transitions to Errored exactly once per connection and notifies.
func (c *Channel) fail(conn *websocket.Conn, err error) {
	if !c.teardown(conn, Errored, err) {
		return
	}
	c.log.Warn("connection failed", zap.Error(err))
	if c.cb.OnFailure != nil {
		c.cb.OnFailure(err)
	}
}

// teardown cancels the pumps and records the terminal state. Returns false
// when a manual disconnect or another failure path got there first.
func (c *Channel) teardown(conn *websocket.Conn, next State, err error) bool {
	c.mu.Lock()
	if c.manual || c.state != Connected || c.conn != conn {
		c.mu.Unlock()
		return false
	}
	c.state = next
	c.err = err
	c.conn = nil
	cancel := c.pumpCancel
	c.pumpCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = conn.Close(websocket.StatusAbnormalClosure, "teardown")
	return true
}
