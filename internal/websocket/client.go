// Package websocket is the realtime transport: one authenticated duplex
// connection with a FIFO outbound buffer, joined-room replay and bounded
// exponential reconnect.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/ratelimit"

	"github.com/Syncre-App/chatcore/internal/crypto"
	"github.com/Syncre-App/chatcore/internal/wire"
	"github.com/Syncre-App/chatcore/pkg/logger"
)

// DefaultURL is the production realtime endpoint.
const DefaultURL = "wss://api.syncre.xyz/ws"

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
)

// Zone supplies the timezone stamped into outbound frames.
type Zone interface {
	Get() string
}

// Options configure a Client. Zero values take defaults.
type Options struct {
	URL    string
	Zone   Zone
	Mapper wire.Mapper
	Dialer Dialer

	// MaxAttempts bounds consecutive failed connection attempts before
	// automatic reconnects stop. Default 5.
	MaxAttempts int
	// InitialBackoff and MaxBackoff shape the reconnect delay (doubling,
	// no jitter). Defaults 1s and 30s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// FlushRate paces buffered frames per second after authentication.
	// Default 50.
	FlushRate int
	// DialTimeout bounds one dial. Default 15s.
	DialTimeout time.Duration
	// Now is the clock used for token expiry checks.
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.Dialer == nil {
		o.Dialer = DefaultDialer()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.FlushRate <= 0 {
		o.FlushRate = 50
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 15 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Client owns one realtime connection at a time.
type Client struct {
	opts    Options
	limiter ratelimit.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	events chan wire.Event
	states chan State

	writeMu sync.Mutex

	mu       sync.Mutex
	gen      uint64
	epoch    uint64 // bumped by Disconnect; owns buffer contents
	token    string
	conn     Conn
	state    State
	flushing bool
	buffer   [][]byte
	joined   []string
	failures int
	backoff  *backoff.ExponentialBackOff
	timer    *time.Timer
}

// New returns a disconnected client.
func New(opts Options) *Client {
	opts.defaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialBackoff
	b.MaxInterval = opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:    opts,
		limiter: ratelimit.New(opts.FlushRate, ratelimit.WithoutSlack),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan wire.Event, 256),
		states:  make(chan State, 32),
		state:   StateDisconnected,
		backoff: b,
	}
}

// Events delivers inbound events in arrival order.
func (c *Client) Events() <-chan wire.Event { return c.events }

// States delivers lifecycle transitions. Transitions are dropped when the
// reader falls behind; State always reports the current value.
func (c *Client) States() <-chan State { return c.states }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Joined returns the joined chat ids in join order.
func (c *Client) Joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.joined...)
}

// Buffered returns the number of frames waiting for an authenticated
// connection.
func (c *Client) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Connect replaces any existing connection with a new one authenticated by
// token and resets the failure counter.
func (c *Client) Connect(token string) {
	c.mu.Lock()
	old := c.detachLocked()
	c.token = token
	c.failures = 0
	c.backoff.Reset()
	gen := c.gen
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if token == "" {
		return
	}
	go c.open(gen)
}

// Disconnect closes the connection and forgets the token, the joined rooms
// and the outbound buffer.
func (c *Client) Disconnect() {
	c.mu.Lock()
	old := c.detachLocked()
	c.token = ""
	c.joined = nil
	c.buffer = nil
	c.epoch++
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

// Close disconnects and releases the client for good.
func (c *Client) Close() {
	c.Disconnect()
	c.cancel()
}

// detachLocked invalidates the current generation and returns the
// connection to close.
func (c *Client) detachLocked() Conn {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.flushing = false
	c.setStateLocked(StateDisconnected)
	return conn
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	select {
	case c.states <- s:
	default:
	}
}

func (c *Client) open(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.token == "" {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnecting)
	url := c.opts.URL
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
	conn, err := c.opts.Dialer.Dial(ctx, url)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		logger.Warnf("websocket: connect failed: %v", err)
		c.setStateLocked(StateDisconnected)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.setStateLocked(StateAuthenticating)
	token := c.token
	c.mu.Unlock()

	logger.Debugf("websocket: connected to %s, authenticating", url)
	if err := c.write(conn, wire.Auth(token)); err != nil {
		logger.Warnf("websocket: auth write failed: %v", err)
	}
	go c.readLoop(gen, conn)
}

// scheduleReconnectLocked arms the retry timer unless the token is gone or
// expired or the attempt budget is spent.
func (c *Client) scheduleReconnectLocked() {
	if c.token == "" {
		return
	}
	if crypto.TokenExpired(c.token, c.opts.Now()) {
		logger.Warnf("websocket: token expired, not reconnecting")
		return
	}
	c.failures++
	if c.failures >= c.opts.MaxAttempts {
		logger.Warnf("websocket: giving up after %d failed attempts", c.failures)
		return
	}
	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		return
	}
	c.gen++
	gen := c.gen
	logger.Debugf("websocket: reconnecting in %s (attempt %d)", delay, c.failures+1)
	c.timer = time.AfterFunc(delay, func() { c.open(gen) })
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, conn, err)
			return
		}
		ev, err := c.opts.Mapper.ParseEvent(data)
		if err != nil {
			logger.Warnf("websocket: dropping frame: %v", err)
			continue
		}
		if _, ok := ev.(wire.AuthSucceeded); ok {
			c.handleAuthSuccess(gen, conn)
		}
		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) handleClose(gen uint64, conn Conn, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	logger.Debugf("websocket: connection closed: %v", err)
	c.conn = nil
	c.flushing = false
	c.setStateLocked(StateDisconnected)
	c.scheduleReconnectLocked()
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) handleAuthSuccess(gen uint64, conn Conn) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.failures = 0
	c.backoff.Reset()
	c.setStateLocked(StateConnected)
	zone := c.zone()
	for _, chatID := range c.joined {
		if data, err := wire.Encode(wire.Join(chatID), zone); err == nil {
			c.buffer = append(c.buffer, data)
		}
	}
	c.flushing = true
	c.mu.Unlock()

	c.flush(gen, conn)
}

// flush drains the buffer in order. Sends issued meanwhile queue behind it.
func (c *Client) flush(gen uint64, conn Conn) {
	for {
		c.mu.Lock()
		if gen != c.gen || len(c.buffer) == 0 {
			if gen == c.gen {
				c.flushing = false
			}
			c.mu.Unlock()
			return
		}
		next := c.buffer[0]
		c.buffer = c.buffer[1:]
		epoch := c.epoch
		c.mu.Unlock()

		c.limiter.Take()
		if err := c.writeRaw(conn, next); err != nil {
			logger.Warnf("websocket: flush failed: %v", err)
			c.mu.Lock()
			if epoch == c.epoch {
				c.buffer = append([][]byte{next}, c.buffer...)
			}
			if gen == c.gen {
				c.flushing = false
			}
			c.mu.Unlock()
			return
		}
	}
}

func (c *Client) zone() string {
	if c.opts.Zone == nil {
		return ""
	}
	return c.opts.Zone.Get()
}

// Send stamps the timezone and writes f when authenticated, otherwise
// appends it to the FIFO buffer.
func (c *Client) Send(f wire.Frame) error {
	data, err := wire.Encode(f, c.zone())
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil || c.flushing {
		c.buffer = append(c.buffer, data)
		c.mu.Unlock()
		return nil
	}
	conn, epoch := c.conn, c.epoch
	c.mu.Unlock()

	if err := c.writeRaw(conn, data); err != nil {
		logger.Warnf("websocket: send %s failed: %v", wire.FrameType(f), err)
		// A Disconnect during the write has cleared the buffer; the frame
		// belongs to that session and is dropped with it.
		c.mu.Lock()
		if epoch == c.epoch {
			c.buffer = append([][]byte{data}, c.buffer...)
		}
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) write(conn Conn, f wire.Frame) error {
	data, err := wire.Encode(f, c.zone())
	if err != nil {
		return err
	}
	return c.writeRaw(conn, data)
}

func (c *Client) writeRaw(conn Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// JoinChat adds chatID to the joined set. The join frame goes out now when
// authenticated; otherwise it is replayed after the next auth_success.
func (c *Client) JoinChat(chatID string) {
	if chatID == "" {
		return
	}
	c.mu.Lock()
	for _, id := range c.joined {
		if id == chatID {
			c.mu.Unlock()
			return
		}
	}
	c.joined = append(c.joined, chatID)
	live := c.state == StateConnected
	c.mu.Unlock()

	if live {
		_ = c.Send(wire.Join(chatID))
	}
}

// LeaveChat removes chatID from the joined set.
func (c *Client) LeaveChat(chatID string) {
	if chatID == "" {
		return
	}
	c.mu.Lock()
	found := false
	for i, id := range c.joined {
		if id == chatID {
			c.joined = append(c.joined[:i:i], c.joined[i+1:]...)
			found = true
			break
		}
	}
	live := c.state == StateConnected
	c.mu.Unlock()

	if found && live {
		_ = c.Send(wire.Leave(chatID))
	}
}
