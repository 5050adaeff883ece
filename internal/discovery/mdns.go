package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/avrkit/eiscp/internal/logging"
)

// mDNS browse parameters. Networked receivers register a plain HTTP
// configuration page, so the generic service type is browsed and the
// candidates are confirmed with a unicast eISCP probe.
const (
	mdnsService = "_http._tcp"
	mdnsDomain  = "local."
)

// BrowseCandidates collects IPv4 addresses of mDNS-visible hosts that
// might be receivers. Useful on networks where UDP broadcast is
// filtered. The result is unverified; pair it with a unicast probe.
func BrowseCandidates(ctx context.Context, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := resolver.Browse(browseCtx, mdnsService, mdnsDomain, entries); err != nil {
		return nil, fmt.Errorf("mDNS browse failed: %w", err)
	}

	var hosts []string
	seen := make(map[string]bool)
	for entry := range entries {
		for _, ip := range entry.AddrIPv4 {
			host := ip.String()
			if seen[host] {
				continue
			}
			seen[host] = true
			hosts = append(hosts, host)
			logging.Debug("mDNS candidate",
				zap.String("host", host), zap.String("instance", entry.Instance))
		}
	}
	return hosts, nil
}

// DiscoverMDNS browses mDNS for candidate hosts and confirms each with
// a unicast eISCP probe, reporting confirmed receivers through cb.
// Candidates share one dedup session, so a receiver reachable under
// several addresses is reported once.
func DiscoverMDNS(ctx context.Context, opts Options, cb Callback) error {
	opts.applyDefaults()

	// The browse and the confirmation probe split one listening window,
	// so the whole session stays within Options.Timeout.
	browseWindow := opts.Timeout / 2
	hosts, err := BrowseCandidates(ctx, browseWindow)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		return nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("failed to open probe socket: %w", err)
	}

	sess := newSession(cb)
	targets := make([]*net.UDPAddr, 0, len(hosts))
	for _, host := range hosts {
		target, err := net.ResolveUDPAddr("udp4",
			net.JoinHostPort(host, strconv.Itoa(opts.Port)))
		if err != nil {
			logging.Debug("Skipping unresolvable candidate",
				zap.String("host", host), zap.Error(err))
			continue
		}
		targets = append(targets, target)
	}
	return runProbe(ctx, []*probeConn{{conn: conn, targets: targets}},
		opts.Timeout-browseWindow, sess)
}
