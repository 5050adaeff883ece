package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avrkit/eiscp/internal/commands"
	"github.com/avrkit/eiscp/internal/logging"
	"github.com/avrkit/eiscp/internal/protocol"
)

// Defaults for receiver connections.
const (
	// DefaultPort is the eISCP control port.
	DefaultPort = 60128
	// DefaultMaxRetryInterval caps the reconnect backoff.
	DefaultMaxRetryInterval = 60 * time.Second
	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 10 * time.Second

	initialRetryInterval = time.Second
	haltPollInterval     = 2 * time.Second
	readBufferSize       = 4096
)

// ErrClosed is returned for operations on a connection after Close.
var ErrClosed = errors.New("connection closed")

// State is the connection lifecycle state.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Listener receives connection-scoped events. The host argument lets a
// single listener serve several receivers.
type Listener interface {
	// OnUpdate delivers one translated status message from the receiver.
	OnUpdate(host string, update commands.Update)
	// OnConnect fires each time a connection is established.
	OnConnect(host string)
	// OnDisconnect fires when an established connection is lost and will
	// not come back without intervention: after Close drops a live link,
	// after a loss with reconnection disabled, or when the reconnect
	// attempt following an unexpected loss also fails. Closing a
	// connection that never came up fires nothing.
	OnDisconnect(host string)
}

// DialFunc dials the receiver. Tests substitute their own.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures a receiver connection.
type Options struct {
	// Host is the receiver address. Required.
	Host string
	// Port is the control port. Defaults to DefaultPort.
	Port int
	// AutoReconnect re-establishes the connection after an unexpected
	// loss.
	AutoReconnect bool
	// AutoConnect starts the connection in the background as soon as it
	// is built.
	AutoConnect bool
	// MaxRetryInterval caps the reconnect backoff. Defaults to
	// DefaultMaxRetryInterval.
	MaxRetryInterval time.Duration
	// DialTimeout bounds a single connection attempt. Defaults to
	// DefaultDialTimeout.
	DialTimeout time.Duration
	// Registry overrides the embedded command registry.
	Registry *commands.Registry
	// Dial overrides the dialer. Defaults to a net.Dialer with
	// DialTimeout applied.
	Dial DialFunc
}

// Connection manages one receiver link: dialing, reading, reconnect
// backoff, and command submission. All methods are safe for concurrent
// use.
type Connection struct {
	host     string
	port     int
	addr     string
	listener Listener
	handler  *protocol.Handler
	dial     DialFunc

	autoReconnect    bool
	maxRetryInterval time.Duration

	mu            sync.Mutex
	state         State
	conn          net.Conn
	retryInterval time.Duration
	halted        bool
	closing       bool
	lossPending   bool // an unexpected loss awaits its reconnect outcome
	looping       bool // a reconnect loop is already running
	done          chan struct{}
}

// New builds a connection. Unless AutoConnect is set it does not dial;
// call Connect or Start.
func New(opts Options, listener Listener) (*Connection, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("receiver host is required")
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.MaxRetryInterval <= 0 {
		opts.MaxRetryInterval = DefaultMaxRetryInterval
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}

	registry := opts.Registry
	if registry == nil {
		var err error
		registry, err = commands.Default()
		if err != nil {
			return nil, fmt.Errorf("failed to load command registry: %w", err)
		}
	}

	dial := opts.Dial
	if dial == nil {
		d := &net.Dialer{Timeout: opts.DialTimeout}
		dial = d.DialContext
	}

	c := &Connection{
		host:             opts.Host,
		port:             opts.Port,
		addr:             net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		listener:         listener,
		dial:             dial,
		autoReconnect:    opts.AutoReconnect,
		maxRetryInterval: opts.MaxRetryInterval,
		retryInterval:    initialRetryInterval,
		done:             make(chan struct{}),
	}
	c.handler = protocol.NewHandler(registry, (*handlerEvents)(c))
	if opts.AutoConnect {
		c.Start()
	}
	return c, nil
}

// Host returns the receiver host.
func (c *Connection) Host() string { return c.host }

// Addr returns the receiver host:port.
func (c *Connection) Addr() string { return c.addr }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the link is up.
func (c *Connection) Connected() bool { return c.State() == StateConnected }

// Connect dials the receiver, retrying with backoff until the link is
// up, the context is cancelled, or the connection is closed.
func (c *Connection) Connect(ctx context.Context) error {
	return c.runLoop(ctx)
}

// Start launches Connect in the background.
func (c *Connection) Start() {
	go func() {
		if err := c.Connect(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
			logging.Error("Connection loop ended", zap.String("host", c.host), zap.Error(err))
		}
	}()
}

// runLoop is the reconnect loop. Only one instance runs at a time; a
// second caller returns immediately and the running loop carries on.
func (c *Connection) runLoop(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.looping || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.looping = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.looping = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		default:
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return ErrClosed
		}
		halted := c.halted
		if !halted {
			c.state = StateConnecting
		}
		c.mu.Unlock()

		// A halted connection stays down but keeps polling so Resume
		// takes effect without an explicit kick.
		if halted {
			if err := c.sleep(ctx, haltPollInterval); err != nil {
				return err
			}
			continue
		}

		conn, err := c.dial(ctx, "tcp", c.addr)
		if err == nil {
			c.establish(conn)
			return nil
		}

		c.mu.Lock()
		fireLoss := c.lossPending
		c.lossPending = false
		interval := c.retryInterval
		c.retryInterval = nextRetryInterval(c.retryInterval, c.maxRetryInterval)
		c.mu.Unlock()

		// The receiver went away and did not come straight back. Report
		// the loss once; further failed retries stay quiet.
		if fireLoss && c.listener != nil {
			c.listener.OnDisconnect(c.host)
		}

		logging.Debug("Connection attempt failed",
			zap.String("addr", c.addr),
			zap.Duration("retry_in", interval),
			zap.Error(err))
		if err := c.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// nextRetryInterval grows the backoff by half, up to the cap.
func nextRetryInterval(current, max time.Duration) time.Duration {
	next := current * 3 / 2
	if next > max {
		return max
	}
	return next
}

// establish installs a freshly dialed conn and starts its read loop.
func (c *Connection) establish(conn net.Conn) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.retryInterval = initialRetryInterval
	c.mu.Unlock()

	logging.LogConnection(c.addr, "established")
	go c.readLoop(conn)
	c.handler.AttachTransport(conn)
}

// readLoop pumps the socket into the protocol handler until the
// connection dies.
func (c *Connection) readLoop(conn net.Conn) {
	buf := make([]byte, readBufferSize)
	var readErr error
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.handler.Feed(buf[:n])
		}
		if err != nil {
			readErr = err
			break
		}
	}
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if errors.Is(readErr, io.EOF) || errors.Is(readErr, net.ErrClosed) {
		readErr = nil
	}
	c.handler.DetachTransport(readErr)
}

// sleep waits for d unless the context is cancelled or the connection
// is closed first.
func (c *Connection) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Halt drops the connection and keeps it down until Resume. Used when
// another controller needs exclusive access to the receiver.
func (c *Connection) Halt() {
	c.mu.Lock()
	c.halted = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	logging.LogConnection(c.addr, "halted")
}

// Resume lifts a Halt. The reconnect loop picks the change up on its
// next poll.
func (c *Connection) Resume() {
	c.mu.Lock()
	c.halted = false
	c.mu.Unlock()
	logging.LogConnection(c.addr, "resumed")
}

// Close shuts the connection down for good.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	logging.LogConnection(c.addr, "closed")
}

// Send resolves a free-text command spec and submits it. Specs the
// registry rejects are logged and dropped; use the handler-level API
// when the caller needs the error.
func (c *Connection) Send(spec string) {
	if err := c.handler.Send(spec); err != nil {
		logging.Error("Rejected command",
			zap.String("host", c.host), zap.String("spec", spec), zap.Error(err))
	}
}

// SendSpec is Send returning the registry's verdict instead of
// logging it.
func (c *Connection) SendSpec(spec string) error {
	return c.handler.Send(spec)
}

// SendCommand submits a pre-split zone/command/argument command.
func (c *Connection) SendCommand(zone, command string, arguments ...string) error {
	return c.handler.SendCommand(zone, command, arguments...)
}

// SendRaw submits an already-encoded wire command ("PWR01").
func (c *Connection) SendRaw(command string) {
	c.handler.SendRaw(command)
}

// UpdateProperty sets a zone property, e.g. UpdateProperty("zone2",
// "volume", "66").
func (c *Connection) UpdateProperty(zone, name, value string) {
	c.Send(fmt.Sprintf("%s.%s=%s", zone, name, value))
}

// QueryProperty asks the receiver to report a zone property. The answer
// arrives through the listener.
func (c *Connection) QueryProperty(zone, name string) {
	c.Send(fmt.Sprintf("%s.%s=query", zone, name))
}

// handlerEvents adapts protocol handler callbacks onto the connection.
// Defined as a conversion of *Connection so the protocol.Listener
// methods stay off the public Connection API.
type handlerEvents Connection

func (h *handlerEvents) connection() *Connection { return (*Connection)(h) }

func (h *handlerEvents) OnUpdate(update commands.Update) {
	c := h.connection()
	if c.listener != nil {
		c.listener.OnUpdate(c.host, update)
	}
}

func (h *handlerEvents) OnConnect() {
	c := h.connection()
	c.mu.Lock()
	c.lossPending = false
	c.mu.Unlock()
	if c.listener != nil {
		c.listener.OnConnect(c.host)
	}
}

func (h *handlerEvents) OnConnectionLost(err error) {
	c := h.connection()
	if err != nil {
		logging.Warn("Connection lost",
			zap.String("addr", c.addr), zap.Error(err))
	} else {
		logging.LogConnection(c.addr, "disconnected")
	}

	c.mu.Lock()
	reconnect := c.autoReconnect && !c.closing
	if reconnect {
		c.lossPending = true
	}
	c.mu.Unlock()

	if reconnect {
		go func() {
			if err := c.runLoop(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
				logging.Error("Reconnect loop ended",
					zap.String("host", c.host), zap.Error(err))
			}
		}()
		return
	}
	if c.listener != nil {
		c.listener.OnDisconnect(c.host)
	}
}
