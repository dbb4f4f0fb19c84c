package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-optimistic-kit/audit"
	"github.com/c0deZ3R0/go-optimistic-kit/config"
	"github.com/c0deZ3R0/go-optimistic-kit/internal/journalapi"
	"github.com/c0deZ3R0/go-optimistic-kit/storage/postgres"
	"github.com/c0deZ3R0/go-optimistic-kit/transport/sse"
)

// EventResolved is published on the change stream for every resolution
// journaled by another process.
const EventResolved = "conflict.resolved"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr  string
	Watch bool

	// Listener overrides Addr (for testing).
	Listener net.Listener
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the journal API",
		Long: `Run the journal API with its change stream at /events.

Entries live in memory. With the postgres audit driver, resolutions
journaled by other processes are relayed on the change stream as
conflict.resolved events. With --watch, edits to the config file update
the log level and the engine defaults served at /config/engine.

Example:
  optimistic-demo serve --addr :8080
  optimistic-demo serve --config optimistic.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "reload the config file when it changes")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg := opts.Config
	logger := opts.Logger.WithComponent("serve")

	var journal audit.Journal
	err := logger.LogOperation(ctx, "open-journal", "serve", func() error {
		var openErr error
		journal, openErr = openJournal(cfg.Audit, logger.Logger)
		return openErr
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open audit journal", err)
	}
	defer journal.Close()

	hub := sse.NewHub(sse.WithLogger(logger.Logger))
	defer hub.Close()

	if pg, ok := journal.(*postgres.Journal); ok {
		err := pg.Subscribe(ctx, nil, func(n postgres.ResolutionNotice) error {
			return hub.Publish(EventResolved, n)
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen for resolutions", err)
		}
	}

	var engine atomic.Pointer[config.EngineConfig]
	engine.Store(&cfg.Engine)

	serverOpts := []journalapi.ServerOption{
		journalapi.WithEvents(hub.Handler()),
		journalapi.WithLogger(logger.Logger),
		journalapi.WithRoute("/config/engine", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = writeJSON(w, engine.Load())
		})),
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		serverOpts = append(serverOpts, journalapi.WithRoute(cfg.Metrics.Path,
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	store := journalapi.NewStore(journalapi.WithPublisher(hub))
	srv := &http.Server{
		Handler:           journalapi.NewServer(store, serverOpts...).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln := opts.Listener
	if ln == nil {
		addr := cfg.Server.Addr
		if opts.Addr != "" {
			addr = opts.Addr
		}
		if ln, err = net.Listen("tcp", addr); err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
	}

	if opts.Watch && opts.ConfigPath != "" {
		go func() {
			err := config.Watch(ctx, opts.ConfigPath, func(next *config.Config) {
				engine.Store(&next.Engine)
				opts.Logger.SetLevel(next.Logging.Level)
				logger.InfoContext(ctx, "configuration reloaded",
					slog.String("policy", string(next.Engine.Defaults.Policy)),
					slog.Duration("cleanup_delay", next.Engine.Defaults.CleanupDelay),
					slog.String("log_level", next.Logging.Level))
			}, config.WithWatchLogger(logger.Logger))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.LogError(ctx, err, "config watch stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "journal API listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// open event streams only end once the hub closes
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
