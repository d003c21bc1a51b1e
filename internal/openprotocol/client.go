// Package openprotocol implements an Open Protocol client for
// tightening controllers: wire framing and resync, a revision-sensitive
// MID codec, a live state mirror with typed event projection, a
// multi-spindle cycle aggregator, and an interlock gate over operator
// commands.
package openprotocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ehrlich-b/opclient/internal/openprotocol/frame"
	"github.com/ehrlich-b/opclient/internal/openprotocol/mid"
)

// Stream is the byte-stream collaborator abstraction the transport is
// specified against (§1): anything that can be read from, written to,
// and closed. A *net.TCPConn satisfies it directly.
type Stream interface {
	io.Reader
	io.Writer
	Close() error
}

// Dialer opens a new Stream to host:port.
type Dialer func(ctx context.Context, host string, port int) (Stream, error)

func defaultDialer(ctx context.Context, host string, port int) (Stream, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// Client is an Open Protocol client connection to a single controller.
// All state mutation happens under mu, which stands in for the single
// logical executor §5 requires — reads, timers, and operator calls all
// serialize through it rather than through separate goroutine-confined
// actors.
type Client struct {
	cfg    Config
	dial   Dialer
	log    *slog.Logger
	events listenerRegistry

	mu      sync.Mutex
	conn    Stream
	state   *Snapshot
	tracker *commandTracker
	recvBuf []byte

	backoff      *backoff
	wasConnected bool
	closing      bool

	clock        clock
	tickTimer    Canceler
	lastActivity time.Time

	readDone chan struct{}
}

// New creates a Client. cfg.Host is required; a zero port or timing
// field takes its spec default. Boolean options are used as given.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("openprotocol: host is required")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	st := newSnapshot()
	if cfg.SpindleCount != nil {
		st.Tool.SpindleCount = *cfg.SpindleCount
		st.Tool.SpindleCountSource = SpindleCountConfig
	}
	tracker := newCommandTracker(cfg.AllowDuplicateCommands)
	tracker.timeoutDuration = cfg.CommandTimeout

	c := &Client{
		cfg:     cfg,
		dial:    defaultDialer,
		log:     logger,
		state:   st,
		tracker: tracker,
		backoff: newBackoff(cfg.ReconnectBase, cfg.ReconnectMax),
		clock:   realClock{},
	}
	tracker.now = c.clock.Now
	return c, nil
}

// AddListener registers l to receive every event this client emits.
func (c *Client) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events.add(l)
}

// emitLocked fans an event out to listeners. Caller must hold mu.
func (c *Client) emitLocked(e Event) {
	c.events.emit(e)
}

// emitStateChangedLocked emits a StateChanged event carrying a deep
// snapshot of the current state tree. Every projection that mutates
// state ends with a call to this. Caller must hold mu.
func (c *Client) emitStateChangedLocked() {
	c.state.Pending = c.tracker.snapshot()
	c.emitLocked(StateChanged{baseEvent: newEvent("stateChanged"), State: c.state.deepCopy()})
}

// resetTighteningLocked clears the ephemeral per-cycle aggregation
// state, whether the cycle completed, went incomplete, or was aborted.
func (c *Client) resetTighteningLocked() {
	c.state.Tightening = TighteningState{
		PendingSpindles: make(map[int]mid.SpindleResult),
	}
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Connection.Connected
}

// IsReady reports whether the client is connected and the link handshake
// has completed. Tool and alarm state are not consulted.
func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Connection.Connected && c.state.Connection.LinkReady
}

// GetState returns a deep-copied snapshot of the client's state tree.
// The returned value shares no mutable structure with the client and is
// safe to read and retain indefinitely.
func (c *Client) GetState() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Pending = c.tracker.snapshot()
	return c.state.deepCopy()
}

// Connect opens the TCP connection and starts the connection manager.
// It returns once the dial succeeds (or fails); the read loop and
// heartbeat run in a background goroutine until Disconnect is called or
// the connection is lost without auto-reconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.closing = false
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.cfg.Host, c.cfg.Port)
	if err != nil {
		return fmt.Errorf("openprotocol: connect: %w", err)
	}
	c.onConnected(conn)

	c.readDone = make(chan struct{})
	go c.readLoop(ctx, conn)
	return nil
}

func (c *Client) onConnected(conn Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
	c.recvBuf = nil
	c.state.Connection.Connected = true
	c.state.Connection.Reconnecting = false
	c.state.Connection.ReconnectAttempts = 0
	c.backoff.reset()
	c.wasConnected = true
	c.lastActivity = c.clock.Now()

	if c.cfg.SpindleCount != nil {
		c.state.Tool.SpindleCount = *c.cfg.SpindleCount
		c.state.Tool.SpindleCountSource = SpindleCountConfig
	}

	c.emitLocked(Connected{baseEvent: newEvent("connected")})
	c.emitStateChangedLocked()
	c.armTickLocked()

	if err := c.sendLocked(mid.CommStart, mid.EncodeCommStart(), true); err != nil {
		c.log.Error("openprotocol: failed to send comm-start", "err", err)
	}
}

// Disconnect sends MID 0002, disables auto-reconnect, and tears down the
// socket (§4.D).
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state.Connection.Connected {
		_ = c.sendLocked(mid.CommStop, mid.EncodeCommStop(), false)
	}
	c.closing = true
	c.cfg.AutoReconnect = false
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn Stream) {
	defer close(c.readDone)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.onBytes(buf[:n])
		}
		if err != nil {
			c.onDisconnected(ctx, conn, err)
			return
		}
	}
}

func (c *Client) onBytes(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recvBuf = append(c.recvBuf, b...)
	c.recvBuf = frame.StripNULs(c.recvBuf)
	c.lastActivity = c.clock.Now()

	for {
		consumed, fr, err := frame.Decode(c.recvBuf)
		if consumed == 0 && fr == nil && err == nil {
			return
		}
		if err != nil {
			var fe *frame.Error
			if errors.As(err, &fe) {
				c.state.FrameErrors++
				c.emitLocked(FrameError{baseEvent: newEvent("frameError"), Type: fe.Type.String()})
			} else {
				c.state.ParseErrors++
				c.emitLocked(ParseError{baseEvent: newEvent("parseError"), Err: err})
			}
			c.recvBuf = c.recvBuf[consumed:]
			continue
		}
		c.recvBuf = c.recvBuf[consumed:]
		if fr == nil {
			return
		}
		c.handleFrameLocked(*fr)
	}
}

func (c *Client) onDisconnected(ctx context.Context, conn Stream, err error) {
	c.mu.Lock()
	wasClosing := c.closing
	autoReconnect := c.cfg.AutoReconnect
	wasConnected := c.wasConnected

	c.cancelTickLocked()
	aborted := c.tracker.clear()
	for _, p := range aborted {
		c.emitLocked(CommandAborted{baseEvent: newEvent("commandAborted"), MID: p.mid, CommandID: p.id, CorrelationID: p.correlationID})
	}
	c.recvBuf = nil
	c.state.Connection.Connected = false
	c.state.Connection.LinkReady = false
	if c.conn == conn {
		c.conn = nil
	}
	if err != nil && !wasClosing {
		c.emitLocked(Error{baseEvent: newEvent("error"), Err: err})
	}
	c.emitLocked(Disconnected{baseEvent: newEvent("disconnected"), Err: err})
	c.emitStateChangedLocked()
	c.mu.Unlock()

	if wasClosing || !autoReconnect || !wasConnected {
		return
	}
	go c.reconnectLoop(ctx)
}

func (c *Client) reconnectLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		if c.closing || !c.cfg.AutoReconnect {
			c.mu.Unlock()
			return
		}
		delay := c.backoff.next()
		attempt := c.backoff.attemptNumber()
		c.state.Connection.Reconnecting = true
		c.state.Connection.ReconnectAttempts = attempt
		c.emitLocked(Reconnecting{baseEvent: newEvent("reconnecting"), Attempt: attempt, Delay: delay})
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		conn, err := c.dial(ctx, c.cfg.Host, c.cfg.Port)
		if err != nil {
			c.log.Warn("openprotocol: reconnect attempt failed", "attempt", attempt, "err", err)
			continue
		}
		c.onConnected(conn)
		c.readDone = make(chan struct{})
		go c.readLoop(ctx, conn)
		return
	}
}
