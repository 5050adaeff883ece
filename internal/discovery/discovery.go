package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avrkit/eiscp/internal/logging"
	"github.com/avrkit/eiscp/internal/protocol"
)

// Defaults for receiver discovery.
const (
	// DefaultPort is the eISCP control and discovery port.
	DefaultPort = 60128
	// DefaultTimeout is how long a discovery session listens for
	// replies.
	DefaultTimeout = 5 * time.Second
)

// Receivers answer either probe depending on brand; both are sent.
var probes = [][]byte{
	protocol.EncodePacket([]byte("!xECNQSTN")),
	protocol.EncodePacket([]byte("!pECNQSTN")),
}

// Receiver describes one discovered device.
type Receiver struct {
	Host       string
	Port       int
	Model      string
	AreaCode   string
	Identifier string
}

// Addr returns the receiver's control endpoint as host:port.
func (r Receiver) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Receiver) String() string {
	return fmt.Sprintf("%s (%s, id %s)", r.Model, r.Addr(), r.Identifier)
}

// Callback receives each newly discovered receiver. Invocations are
// serialized.
type Callback func(Receiver)

// Options configures a discovery session.
type Options struct {
	// Host limits discovery to a single address instead of
	// broadcasting on every interface.
	Host string
	// Port is the discovery port. Defaults to DefaultPort.
	Port int
	// Timeout is the listening window. Defaults to DefaultTimeout.
	Timeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
}

// session deduplicates replies across all listeners of one discovery
// run. A receiver with several addresses, or one that answers both
// probes, is reported once.
type session struct {
	mu   sync.Mutex
	seen map[string]bool
	cb   Callback
}

func newSession(cb Callback) *session {
	return &session{seen: make(map[string]bool), cb: cb}
}

// handleReply parses one datagram and reports the receiver if it is new
// to this session. Returns true when the callback fired.
func (s *session) handleReply(from *net.UDPAddr, datagram []byte) bool {
	info, ok := protocol.ParseDiscoveryInfo(datagram)
	if !ok {
		logging.LogRawBytes("Ignored discovery datagram", datagram)
		return false
	}
	r := Receiver{
		Host:       from.IP.String(),
		Port:       info.Port,
		Model:      info.Model,
		AreaCode:   info.AreaCode,
		Identifier: info.Identifier,
	}

	s.mu.Lock()
	if s.seen[r.Identifier] {
		s.mu.Unlock()
		return false
	}
	s.seen[r.Identifier] = true
	s.mu.Unlock()

	logging.Info("Discovered receiver",
		zap.String("model", r.Model),
		zap.String("addr", r.Addr()),
		zap.String("identifier", r.Identifier))
	if s.cb != nil {
		s.cb(r)
	}
	return true
}

// Discover probes the network for receivers and reports each distinct
// one through cb. With Options.Host set, a single unicast probe is
// sent; otherwise the probe is broadcast on every capable interface.
// Discover blocks until the listening window closes or ctx is
// cancelled.
func Discover(ctx context.Context, opts Options, cb Callback) error {
	opts.applyDefaults()
	sess := newSession(cb)

	if opts.Host != "" {
		target, err := net.ResolveUDPAddr("udp4",
			net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
		if err != nil {
			return fmt.Errorf("failed to resolve %q: %w", opts.Host, err)
		}
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
		if err != nil {
			return fmt.Errorf("failed to open discovery socket: %w", err)
		}
		return runProbe(ctx, []*probeConn{{conn: conn, targets: []*net.UDPAddr{target}}},
			opts.Timeout, sess)
	}

	conns := broadcastConns(opts.Port)
	if len(conns) == 0 {
		return fmt.Errorf("no usable broadcast interfaces")
	}
	return runProbe(ctx, conns, opts.Timeout, sess)
}

// probeConn is one discovery socket and the addresses it probes.
type probeConn struct {
	conn    *net.UDPConn
	targets []*net.UDPAddr
}

// broadcastConns opens one socket per broadcast-capable interface
// address. Interfaces that refuse to bind are skipped, not fatal; a
// VPN or container interface commonly rejects broadcast binds.
func broadcastConns(port int) []*probeConn {
	ifaces, err := net.Interfaces()
	if err != nil {
		logging.Warn("Failed to enumerate interfaces", zap.Error(err))
		return nil
	}

	var conns []*probeConn
	for _, iface := range ifaces {
		const want = net.FlagUp | net.FlagBroadcast
		if iface.Flags&want != want {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil {
				continue
			}
			conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip})
			if err != nil {
				logging.Debug("Skipping interface",
					zap.String("interface", iface.Name), zap.Error(err))
				continue
			}
			conns = append(conns, &probeConn{
				conn:    conn,
				targets: []*net.UDPAddr{{IP: broadcastAddr(ipnet), Port: port}},
			})
		}
	}
	return conns
}

// broadcastAddr computes the directed broadcast address of a subnet.
func broadcastAddr(ipnet *net.IPNet) net.IP {
	ip := ipnet.IP.To4()
	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	out := make(net.IP, net.IPv4len)
	for i := range out {
		out[i] = ip[i] | ^mask[i]
	}
	return out
}

// runProbe sends the probes on every socket and listens for replies
// until the window closes. Sockets are closed before returning.
func runProbe(ctx context.Context, conns []*probeConn, timeout time.Duration, sess *session) error {
	deadline := time.Now().Add(timeout)
	var wg sync.WaitGroup
	for _, pc := range conns {
		for _, target := range pc.targets {
			for _, probe := range probes {
				if _, err := pc.conn.WriteToUDP(probe, target); err != nil {
					logging.Debug("Probe send failed",
						zap.String("target", target.String()), zap.Error(err))
				}
			}
		}
		wg.Add(1)
		go func(pc *probeConn) {
			defer wg.Done()
			listenReplies(pc.conn, deadline, sess)
		}(pc)
	}

	// Cancellation closes the sockets so the listeners return early.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			for _, pc := range conns {
				pc.conn.Close()
			}
		case <-stop:
		}
	}()

	wg.Wait()
	close(stop)
	for _, pc := range conns {
		pc.conn.Close()
	}
	return ctx.Err()
}

// listenReplies drains one socket until its deadline.
func listenReplies(conn *net.UDPConn, deadline time.Time, sess *session) {
	conn.SetReadDeadline(deadline)
	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		sess.handleReply(from, buf[:n])
	}
}
