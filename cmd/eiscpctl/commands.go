package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/avrkit/eiscp/internal/bridge"
	"github.com/avrkit/eiscp/internal/commands"
	"github.com/avrkit/eiscp/internal/config"
	"github.com/avrkit/eiscp/internal/connection"
	"github.com/avrkit/eiscp/internal/discovery"
)

// Command flags
var (
	receiverHost string
	receiverPort int
	scanTimeout  int
	useMDNS      bool
	waitReply    int
	bridgeAddr   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&receiverHost, "host", "", "Receiver address (skips discovery)")
	rootCmd.PersistentFlags().IntVar(&receiverPort, "port", connection.DefaultPort, "Receiver eISCP port")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(monitorCmd)
}

// scanCmd discovers receivers on the network
var scanCmd = &cobra.Command{
	Use:     "scan",
	Aliases: []string{"discover"},
	Short:   "Scan for receivers on the network",
	Long: `Scan for eISCP-capable receivers.

The scan broadcasts a discovery probe on every network interface and
lists each receiver that answers, with its model, address, and device
identifier. Discovered receivers are remembered in the configuration
file for later commands.`,
	Example: `  # Scan with the default 5 second window
  eiscpctl scan

  # Longer scan for sleepy networks
  eiscpctl scan --timeout 15

  # Probe a single host instead of broadcasting
  eiscpctl scan --host 192.168.1.80

  # Browse mDNS for candidates first (for broadcast-filtered networks)
  eiscpctl scan --mdns`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 5, "Scan timeout in seconds")
	scanCmd.Flags().BoolVar(&useMDNS, "mdns", false, "Browse mDNS for candidate hosts and probe them directly")
}

func runScan(cmd *cobra.Command, args []string) error {
	fmt.Printf("Scanning for receivers (timeout: %ds)...\n\n", scanTimeout)

	registry, err := config.LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	opts := discovery.Options{
		Host:    receiverHost,
		Port:    receiverPort,
		Timeout: time.Duration(scanTimeout) * time.Second,
	}

	count := 0
	report := func(r discovery.Receiver) {
		count++
		fmt.Printf("%d. %s\n", count, r.Model)
		fmt.Printf("   Address:    %s\n", r.Addr())
		fmt.Printf("   Identifier: %s\n", r.Identifier)
		fmt.Printf("   Area:       %s\n", r.AreaCode)
		fmt.Println()
		registry.RecordDiscovery(r.Identifier, r.Model, r.Host, r.Port)
	}

	if useMDNS {
		err = discovery.DiscoverMDNS(cmd.Context(), opts, report)
	} else {
		err = discovery.Discover(cmd.Context(), opts, report)
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if count == 0 {
		fmt.Println("No receivers found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Ensure the receiver is powered on (or network standby is enabled)")
		fmt.Println("  - Check that your computer is on the same subnet")
		fmt.Println("  - Try --mdns on networks that filter broadcast traffic")
		fmt.Println("  - Use --host to probe a known address directly")
		return nil
	}

	if err := registry.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save configuration: %v\n", err)
	}

	fmt.Println("Use 'eiscpctl send <command> --host <ip>' to control a receiver")
	fmt.Println("Use 'eiscpctl monitor --host <ip>' to follow its status updates")
	return nil
}

// sendCmd sends one command and prints the replies that arrive during
// a short window.
var sendCmd = &cobra.Command{
	Use:   "send <command>...",
	Short: "Send commands to a receiver",
	Long: `Send one or more commands to a receiver.

Commands use the "zone.command=argument" form; the zone defaults to
"main" when omitted. Arguments may be value names ("on", "query") or
numbers, which are matched against the command's numeric ranges.`,
	Example: `  # Power on the main zone
  eiscpctl send main.system-power=on --host 192.168.1.80

  # Query the current volume (zone defaults to main)
  eiscpctl send volume=query --host 192.168.1.80

  # Set zone2 volume and input in one invocation
  eiscpctl send zone2.volume=30 zone2.selector=net --host 192.168.1.80`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().IntVar(&waitReply, "wait", 2, "Seconds to wait for replies before disconnecting")
}

func runSend(cmd *cobra.Command, args []string) error {
	host, err := resolveHost(cmd.Context())
	if err != nil {
		return err
	}

	printer := &printingListener{updates: make(chan string, 32)}
	conn, err := connection.New(connection.Options{
		Host: host,
		Port: receiverPort,
	}, printer)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), connection.DefaultDialTimeout)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", conn.Addr(), err)
	}

	for _, spec := range args {
		if err := conn.SendSpec(spec); err != nil {
			return fmt.Errorf("rejected command %q: %w", spec, err)
		}
	}

	// Replies are asynchronous; give the receiver a moment to answer.
	deadline := time.After(time.Duration(waitReply) * time.Second)
	for {
		select {
		case line := <-printer.updates:
			fmt.Println(line)
		case <-deadline:
			return nil
		}
	}
}

// monitorCmd follows a receiver's status updates until interrupted.
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Follow a receiver's status updates",
	Long: `Connect to a receiver and print every status update it sends,
reconnecting automatically if the connection drops.

With --bridge, updates are also published as JSON events to WebSocket
subscribers on the given address, for consumption by home automation
systems.`,
	Example: `  # Follow a receiver
  eiscpctl monitor --host 192.168.1.80

  # Also expose updates on ws://127.0.0.1:8765/
  eiscpctl monitor --host 192.168.1.80 --bridge 127.0.0.1:8765`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&bridgeAddr, "bridge", "", "Publish updates to WebSocket subscribers on this address")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	host, err := resolveHost(cmd.Context())
	if err != nil {
		return err
	}

	var b *bridge.Bridge
	if bridgeAddr != "" {
		b = bridge.New()
		defer b.Close()
		srv := &http.Server{Addr: bridgeAddr, Handler: b}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "Bridge server error: %v\n", err)
			}
		}()
		defer srv.Close()
		fmt.Printf("Publishing updates on ws://%s/\n", bridgeAddr)
	}

	printer := &printingListener{updates: make(chan string, 32), bridge: b}
	conn, err := connection.New(connection.Options{
		Host:          host,
		Port:          receiverPort,
		AutoReconnect: true,
	}, printer)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.Start()
	fmt.Printf("Monitoring %s (Ctrl-C to stop)...\n", conn.Addr())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	for {
		select {
		case line := <-printer.updates:
			fmt.Println(line)
		case <-stop:
			fmt.Println("\nStopping.")
			return nil
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	}
}

// printingListener formats connection events as log-style lines and
// optionally forwards updates to the WebSocket bridge.
type printingListener struct {
	updates chan string
	bridge  *bridge.Bridge
}

func (l *printingListener) OnUpdate(host string, u commands.Update) {
	l.updates <- fmt.Sprintf("%s  %s.%s = %v", time.Now().Format("15:04:05"), u.Zone, u.Command, u.Value)
	if l.bridge != nil {
		l.bridge.PublishUpdate(host, u)
	}
}

func (l *printingListener) OnConnect(host string) {
	l.updates <- fmt.Sprintf("%s  connected to %s", time.Now().Format("15:04:05"), host)
}

func (l *printingListener) OnDisconnect(host string) {
	l.updates <- fmt.Sprintf("%s  disconnected from %s", time.Now().Format("15:04:05"), host)
}

// resolveHost returns the --host flag, a single configured receiver,
// or the single receiver a quick scan finds.
func resolveHost(ctx context.Context) (string, error) {
	if receiverHost != "" {
		return receiverHost, nil
	}

	// A single known receiver in the config is unambiguous.
	if registry, err := config.LoadRegistry(); err == nil && len(registry.Receivers) == 1 {
		for _, r := range registry.Receivers {
			if r.Host != "" {
				return r.Host, nil
			}
		}
	}

	fmt.Println("No receiver specified, attempting auto-discovery...")
	var found []discovery.Receiver
	err := discovery.Discover(ctx, discovery.Options{Port: receiverPort},
		func(r discovery.Receiver) { found = append(found, r) })
	if err != nil {
		return "", fmt.Errorf("discovery failed: %w", err)
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("no receivers found; use --host to specify an address")
	case 1:
		fmt.Printf("Found receiver: %s\n\n", found[0])
		return found[0].Host, nil
	default:
		fmt.Printf("Found %d receivers:\n", len(found))
		for i, r := range found {
			fmt.Printf("%d. %s\n", i+1, r)
		}
		return "", fmt.Errorf("multiple receivers found; use --host to specify which one")
	}
}
