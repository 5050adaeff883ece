package connection

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avrkit/eiscp/internal/commands"
	"github.com/avrkit/eiscp/internal/protocol"
)

type eventListener struct {
	connects    chan string
	disconnects chan string
	updates     chan commands.Update
}

func newEventListener() *eventListener {
	return &eventListener{
		connects:    make(chan string, 8),
		disconnects: make(chan string, 8),
		updates:     make(chan commands.Update, 8),
	}
}

func (l *eventListener) OnUpdate(host string, u commands.Update) { l.updates <- u }
func (l *eventListener) OnConnect(host string)                   { l.connects <- host }
func (l *eventListener) OnDisconnect(host string)                { l.disconnects <- host }

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func expectQuiet[T any](t *testing.T, ch <-chan T, d time.Duration, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(d):
	}
}

// pipeDialer hands out the client half of a net.Pipe and parks the
// server half on a channel for the test to drive.
type pipeDialer struct {
	server chan net.Conn
	fail   atomic.Bool
	calls  atomic.Int32
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{server: make(chan net.Conn, 4)}
}

func (d *pipeDialer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	d.calls.Add(1)
	if d.fail.Load() {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	d.server <- server
	return client, nil
}

func newTestConn(t *testing.T, dialer *pipeDialer, autoReconnect bool) (*Connection, *eventListener) {
	t.Helper()
	l := newEventListener()
	c, err := New(Options{
		Host:          "10.0.0.9",
		AutoReconnect: autoReconnect,
		Dial:          dialer.dial,
	}, l)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c, l
}

func TestConnectAndReceive(t *testing.T) {
	dialer := newPipeDialer()
	c, l := newTestConn(t, dialer, false)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if host := waitFor(t, l.connects, "connect event"); host != "10.0.0.9" {
		t.Errorf("connect host = %q", host)
	}
	if got := c.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}

	server := waitFor(t, dialer.server, "server conn")
	go server.Write(protocol.EncodeCommand("PWR01"))

	u := waitFor(t, l.updates, "update")
	if u.Zone != "main" || u.Command != "system-power" || u.Value != "on" {
		t.Errorf("update = %+v", u)
	}
}

func TestSendReachesTheWire(t *testing.T) {
	dialer := newPipeDialer()
	c, l := newTestConn(t, dialer, false)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, l.connects, "connect event")
	server := waitFor(t, dialer.server, "server conn")

	go c.QueryProperty("main", "system-power")

	want := protocol.EncodeCommand("PWRQSTN")
	got := make([]byte, len(want))
	server.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := readFull(server, got); err != nil {
		t.Fatalf("reading sent packet: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("wire bytes = %q, want %q", got, want)
	}
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestCleanCloseFiresDisconnect(t *testing.T) {
	dialer := newPipeDialer()
	c, l := newTestConn(t, dialer, true)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, l.connects, "connect event")
	waitFor(t, dialer.server, "server conn")

	c.Close()
	waitFor(t, l.disconnects, "disconnect event")

	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
}

func TestCloseWithoutConnectStaysQuiet(t *testing.T) {
	dialer := newPipeDialer()
	c, l := newTestConn(t, dialer, true)

	c.Close()
	expectQuiet(t, l.disconnects, 200*time.Millisecond, "disconnect event")

	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
}

func TestLossReportedOnceAfterFailedReconnect(t *testing.T) {
	dialer := newPipeDialer()
	c, l := newTestConn(t, dialer, true)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, l.connects, "connect event")
	server := waitFor(t, dialer.server, "server conn")

	// Receiver goes away and stays away: one disconnect event after the
	// first failed reconnect attempt, silence on later retries.
	dialer.fail.Store(true)
	server.Close()

	waitFor(t, l.disconnects, "disconnect event")
	expectQuiet(t, l.disconnects, 1500*time.Millisecond, "second disconnect event")
}

func TestReconnectAfterLoss(t *testing.T) {
	dialer := newPipeDialer()
	c, l := newTestConn(t, dialer, true)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, l.connects, "connect event")
	server := waitFor(t, dialer.server, "server conn")

	server.Close()

	// The receiver comes straight back: a second connect event and no
	// disconnect report.
	waitFor(t, l.connects, "reconnect event")
	expectQuiet(t, l.disconnects, 200*time.Millisecond, "disconnect event")

	if got := c.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func currentRetryInterval(c *Connection) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryInterval
}

func TestRetryIntervalResetsAfterConnect(t *testing.T) {
	dialer := newPipeDialer()
	dialer.fail.Store(true)
	c, l := newTestConn(t, dialer, true)

	// A failed attempt grows the backoff before the loop sleeps it off.
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := c.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect = %v, want deadline exceeded", err)
	}
	if got := currentRetryInterval(c); got <= initialRetryInterval {
		t.Fatalf("retry interval after failure = %v, want above %v", got, initialRetryInterval)
	}

	// A successful connect puts the next backoff back at the floor.
	dialer.fail.Store(false)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, l.connects, "connect event")
	if got := currentRetryInterval(c); got != initialRetryInterval {
		t.Errorf("retry interval after connect = %v, want %v", got, initialRetryInterval)
	}
}

func TestHaltAndResume(t *testing.T) {
	dialer := newPipeDialer()
	c, l := newTestConn(t, dialer, true)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, l.connects, "connect event")
	waitFor(t, dialer.server, "server conn")

	c.Halt()
	// While halted the loop polls but never dials.
	calls := dialer.calls.Load()
	expectQuiet(t, l.connects, 2500*time.Millisecond, "connect while halted")
	if dialer.calls.Load() != calls {
		t.Error("dialed while halted")
	}

	c.Resume()
	waitFor(t, l.connects, "reconnect after resume")
}

func TestAutoConnect(t *testing.T) {
	dialer := newPipeDialer()
	l := newEventListener()
	c, err := New(Options{
		Host:        "10.0.0.9",
		AutoConnect: true,
		Dial:        dialer.dial,
	}, l)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Close)

	waitFor(t, l.connects, "connect event")
	if got := c.State(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestConnectHonorsContext(t *testing.T) {
	dialer := newPipeDialer()
	dialer.fail.Store(true)
	c, _ := newTestConn(t, dialer, false)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect = %v, want deadline exceeded", err)
	}
}

func TestNextRetryInterval(t *testing.T) {
	max := 10 * time.Second
	intervals := []time.Duration{initialRetryInterval}
	for i := 0; i < 3; i++ {
		intervals = append(intervals, nextRetryInterval(intervals[len(intervals)-1], max))
	}

	want := []time.Duration{
		1 * time.Second,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
	}
	for i := range want {
		if intervals[i] != want[i] {
			t.Errorf("interval[%d] = %v, want %v", i, intervals[i], want[i])
		}
	}

	if got := nextRetryInterval(9*time.Second, max); got != max {
		t.Errorf("capped interval = %v, want %v", got, max)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{}, nil); err == nil {
		t.Error("expected error for missing host")
	}
}
