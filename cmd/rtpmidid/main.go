// Command rtpmidid is a buildable CLI/daemon wrapping pkg/engine:
// the CLI and lifecycle bootstrap spec.md explicitly scopes out of the
// engine core (SPEC_FULL.md section 2), built the way the teacher
// wires its own cmd/ entrypoints around a long-running core.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bbouchez/jackrtpmidid/pkg/bridge"
	"github.com/bbouchez/jackrtpmidid/pkg/engine"
	"github.com/bbouchez/jackrtpmidid/pkg/metrics"
)

var (
	remoteHost   string
	remotePort   int
	localPort    int
	roleFlag     string
	sessionName  string
	metricsAddr  string
	serialDevice string
	serialBaud   int
)

var rootCmd = &cobra.Command{
	Use:   "rtpmidid",
	Short: "RTP-MIDI session engine daemon",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&remoteHost, "remote-host", "", "remote peer IP address or hostname (required for --role initiator)")
	rootCmd.Flags().IntVar(&remotePort, "remote-port", 5004, "remote peer control port; the data port is this plus one")
	rootCmd.Flags().IntVar(&localPort, "local-port", 0, "local control port (0 picks an ephemeral port; the data port is this plus one)")
	rootCmd.Flags().StringVar(&roleFlag, "role", "initiator", "session role: initiator or listener")
	rootCmd.Flags().StringVar(&sessionName, "name", "rtpmidid", "session name advertised in IN/OK packets")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9100 (empty disables)")
	rootCmd.Flags().StringVar(&serialDevice, "serial-device", "", "serial MIDI device to bridge, e.g. /dev/ttyUSB0 (empty disables)")
	rootCmd.Flags().IntVar(&serialBaud, "serial-baud", 31250, "serial MIDI baud rate")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("rtpmidid exited with error", "error", err)
		os.Exit(1)
	}
}

func parseRole(s string) (engine.Role, error) {
	switch s {
	case "initiator":
		return engine.RoleInitiator, nil
	case "listener":
		return engine.RoleListener, nil
	default:
		return 0, fmt.Errorf("unknown --role %q (want initiator or listener)", s)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	role, err := parseRole(roleFlag)
	if err != nil {
		return err
	}
	if role == engine.RoleInitiator && remoteHost == "" {
		return errors.New("--remote-host is required for --role initiator")
	}

	remoteIP := net.IPv4zero
	if remoteHost != "" {
		ips, err := net.LookupIP(remoteHost)
		if err != nil {
			return fmt.Errorf("resolving --remote-host %q: %w", remoteHost, err)
		}
		remoteIP = ips[0]
	}

	mtr := metrics.New()
	cfg := engine.DefaultConfig()
	cfg.Name = sessionName
	cfg.Metrics = mtr

	// br is wired in after the engine exists (bridge.Open needs the
	// engine as its forwarding sink), so the engine's own callback
	// closes over a pointer that's nil until then.
	var br *bridge.SerialBridge
	eng, err := engine.NewEngine(cfg, func(m engine.Message) {
		if br != nil {
			br.Callback(m)
		}
	})
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	if serialDevice != "" {
		br, err = bridge.Open(serialDevice, serialBaud, eng)
		if err != nil {
			return fmt.Errorf("opening serial bridge %q: %w", serialDevice, err)
		}
		defer br.Close()
	}

	if err := eng.InitiateSession(engine.Endpoint{IP: remoteIP, Port: remotePort}, localPort, localPort+1, role); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	slog.Info("session started", "id", eng.ID(), "role", role, "remote", remoteHost, "remote_port", remotePort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return runEngineLoop(gctx, eng) })

	if br != nil {
		g.Go(func() error { return br.Run(gctx) })
	}

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(mtr.Registry, promhttp.HandlerOpts{})}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runEngineLoop drives eng.RunSession once per tick until ctx is
// cancelled, then closes the session cleanly (spec.md section 2: "the
// host calls RunSession once per tick").
func runEngineLoop(ctx context.Context, eng *engine.Engine) error {
	const tickPeriod = time.Millisecond
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			eng.CloseSession()
			return ctx.Err()
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			eng.RunSession(elapsed)
			if eng.ReadAndResetConnectionLost() {
				slog.Warn("session connection lost", "id", eng.ID())
			}
			if eng.ReadAndResetPeerClosed() {
				slog.Info("peer closed the session", "id", eng.ID())
			}
		}
	}
}
