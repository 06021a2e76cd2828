// Package csms implements the WebSocket session glue to the Charging
// Station Management System: connect/reconnect
// with bounded exponential backoff, a keepalive ping/pong sequence, and
// framing of ocppmsg envelopes onto the wire.
//
// Grounded on mash-go's pkg/transport connection-state and
// keepalive pattern (a small state enum plus a ping/pong counter
// driving forced reconnect on missed pongs), adapted from transport's
// generic multi-protocol session to a single CSMS websocket.
package csms

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pazzk-labs/evse-go/pkg/everr"
	"github.com/pazzk-labs/evse-go/pkg/evlog"
)

// ConnectionState mirrors mash-go's transport.ConnectionState enum.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Conn is an already-established websocket connection to the CSMS.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a new Conn to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Defaults: keepalive ping every 300s, an 8s write
// timeout, and the same bounded-exponential backoff bounds as the
// network manager (pkg/network).
const (
	DefaultPingInterval = 300 * time.Second
	DefaultWriteTimeout = 8 * time.Second
	DefaultMinBackoff   = 10 * time.Second
	DefaultMaxBackoff   = 5 * time.Minute
	DefaultMaxAttempts  = 200
	// MaxMissedPongs forces a reconnect after this many consecutive
	// missed pongs, matching that transport's missed-pong
	// counter threshold.
	MaxMissedPongs = 3
)

// MessageHandler receives one decoded inbound frame.
type MessageHandler func(ctx context.Context, data []byte) error

// Client owns the lifecycle of one CSMS websocket session: dial,
// reconnect with backoff, keepalive, and inbound dispatch.
type Client struct {
	mu           sync.Mutex
	dialer       Dialer
	url          string
	conn         Conn
	state        ConnectionState
	attempt      int
	missedPongs  int
	now          func() time.Time
	rng          *rand.Rand
	logger       evlog.Logger
	pingInterval time.Duration
	writeTimeout time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	maxAttempts  int
	onMessage    MessageHandler
}

type Config struct {
	Dialer       Dialer
	URL          string
	Now          func() time.Time
	Rng          *rand.Rand
	Logger       evlog.Logger
	PingInterval time.Duration
	WriteTimeout time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	MaxAttempts  int
	OnMessage    MessageHandler
}

func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = evlog.NoopLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	c := &Client{
		dialer:       cfg.Dialer,
		url:          cfg.URL,
		state:        StateDisconnected,
		now:          now,
		rng:          cfg.Rng,
		logger:       logger,
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		minBackoff:   cfg.MinBackoff,
		maxBackoff:   cfg.MaxBackoff,
		maxAttempts:  cfg.MaxAttempts,
		onMessage:    cfg.OnMessage,
	}
	if c.pingInterval == 0 {
		c.pingInterval = DefaultPingInterval
	}
	if c.writeTimeout == 0 {
		c.writeTimeout = DefaultWriteTimeout
	}
	if c.minBackoff == 0 {
		c.minBackoff = DefaultMinBackoff
	}
	if c.maxBackoff == 0 {
		c.maxBackoff = DefaultMaxBackoff
	}
	if c.maxAttempts == 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(1))
	}
	return c
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// backoff computes the bounded exponential delay d for the given attempt
// count and returns a value drawn uniformly from [d/2, d].
// pkg/network.Manager.backoff instead adds jitter in [0, min backoff)
// on top of d.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.minBackoff
	for i := 0; i < attempt && d < c.maxBackoff; i++ {
		d *= 2
	}
	if d > c.maxBackoff {
		d = c.maxBackoff
	}
	jitter := time.Duration(c.rng.Int63n(int64(d) + 1))
	return d/2 + jitter/2
}

// Connect dials once, retrying with backoff until it succeeds or
// maxAttempts is exhausted.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	for {
		conn, err := c.dialer.Dial(ctx, c.url)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.state = StateConnected
			c.attempt = 0
			c.missedPongs = 0
			c.mu.Unlock()
			c.logger.Log(evlog.NewEvent(evlog.LayerNetwork, evlog.DirectionInternal, "ws_connected", "csms connection established"))
			return nil
		}

		c.mu.Lock()
		c.attempt++
		attempt := c.attempt
		c.mu.Unlock()

		if attempt >= c.maxAttempts {
			return everr.New(everr.ClassTransport, "csms.Connect", err)
		}

		delay := c.backoff(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send frames and writes data, applying WriteTimeout.
func (c *Client) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	timeout := c.writeTimeout
	c.mu.Unlock()
	if conn == nil {
		return everr.New(everr.ClassTransport, "csms.Send", context.Canceled)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.WriteMessage(ctx, data); err != nil {
		return everr.New(everr.ClassTransport, "csms.Send", err)
	}
	return nil
}

// Keepalive pings the connection once. MaxMissedPongs consecutive
// failures mark the session disconnected so the caller's reconnect
// loop takes over.
func (c *Client) Keepalive(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		c.mu.Lock()
		c.missedPongs++
		missed := c.missedPongs
		if missed >= MaxMissedPongs {
			c.state = StateDisconnected
			_ = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
		return everr.New(everr.ClassTransport, "csms.Keepalive", err)
	}

	c.mu.Lock()
	c.missedPongs = 0
	c.mu.Unlock()
	return nil
}

// ReadLoop reads frames until the connection closes or ctx is done,
// dispatching each to OnMessage.
func (c *Client) ReadLoop(ctx context.Context) error {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return everr.New(everr.ClassTransport, "csms.ReadLoop", context.Canceled)
		}

		data, err := conn.ReadMessage(ctx)
		if err != nil {
			c.mu.Lock()
			c.state = StateDisconnected
			c.conn = nil
			c.mu.Unlock()
			return everr.New(everr.ClassTransport, "csms.ReadLoop", err)
		}
		if c.onMessage != nil {
			if err := c.onMessage(ctx, data); err != nil {
				c.logger.Log(evlog.NewEvent(evlog.LayerNetwork, evlog.DirectionInbound, "dispatch_error", err.Error()))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Close closes the active connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosing
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.state = StateDisconnected
	return err
}
