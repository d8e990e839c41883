// Command replica runs a single Raft cluster member.
//
// Usage:
//
//	replica [--metrics-addr host:port] [--log-level level] <self-id> <peer-id> [<peer-id> ...]
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kimberlypn/CS3700/metrics"
	"github.com/kimberlypn/CS3700/raft"
	"github.com/kimberlypn/CS3700/transport"
)

var idPattern = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)

var (
	logLevel    string
	metricsAddr string
	basePort    int
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replica <self-id> <peer-id> [<peer-id> ...]",
		Short: "Run one replica of a Raft-coordinated key-value store cluster",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runReplica,
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9100 (disabled if empty)")
	cmd.Flags().IntVar(&basePort, "base-port", transport.DefaultBasePort, "UDP port offset a 4-hex-digit ID is added to")
	return cmd
}

func runReplica(cmd *cobra.Command, args []string) error {
	self, peers := args[0], args[1:]
	for _, id := range append([]string{self}, peers...) {
		if !idPattern.MatchString(id) {
			return fmt.Errorf("%q is not a 4-hex-digit replica ID", id)
		}
	}

	logger := newLogger()

	t, err := transport.NewUDPTransport(self, peers, basePort, logger)
	if err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	defer t.Close()

	var m *metrics.Set
	if metricsAddr != "" {
		m = metrics.NewSet(prometheus.DefaultRegisterer, self)
		go serveMetrics(metricsAddr, logger)
	}

	r := raft.New(self, peers, t, logger, m, time.Now().UnixNano())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("id", self).Strs("peers", peers).Msg("replica starting")
	runUntilCancelled(ctx, r)
	logger.Info().Msg("replica shutting down")
	return nil
}

// runUntilCancelled ticks the replica's event loop until ctx is done,
// checking between ticks rather than inside one (a tick never blocks longer
// than raft.ReceiveTimeout, so shutdown latency is bounded).
func runUntilCancelled(ctx context.Context, r *raft.Replica) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			r.Tick()
		}
	}
}

func newLogger() zerolog.Logger {
	level := logLevel
	if envLevel, ok := os.LookupEnv("RAFT_LOG_LEVEL"); ok {
		level = envLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server exited")
	}
}
