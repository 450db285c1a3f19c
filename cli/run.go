package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/petal-labs/mcpwrap/config"
	"github.com/petal-labs/mcpwrap/logstore"
	"github.com/petal-labs/mcpwrap/otelobs"
	"github.com/petal-labs/mcpwrap/proxy"
	"github.com/petal-labs/mcpwrap/server"
	"github.com/petal-labs/mcpwrap/supervisor"
	"github.com/petal-labs/mcpwrap/wrappee"
)

// Exit codes returned through ExitError.
const (
	exitSuccess = 0
	exitConfig  = 2
	exitSpawn   = 3
	exitServe   = 4
)

// fallbackCommand is run when no wrappee command is given, so the wrapper
// still comes up with its built-in tools.
var fallbackCommand = []string{"echo", "No wrappee command specified"}

// NewRunCmd creates the "run" subcommand.
func NewRunCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Wrap an MCP server process",
		Long: "Run a transparent supervising MCP proxy around the given command: " +
			"its tools are forwarded upstream alongside the built-in log and restart tools.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrap(cmd, args, version)
		},
	}

	cmd.Flags().String("config", "", "Path to mcpwrap.yaml")
	cmd.Flags().Bool("ansi", false, "Preserve ANSI escape codes in captured output")
	cmd.Flags().String("watch", "", "Binary path to watch; restart the wrappee when it changes")
	cmd.Flags().String("transport", "", "Upstream transport: stdio | http")
	cmd.Flags().String("http-addr", "", "Listen address for the http transport")

	return cmd
}

func runWrap(cmd *cobra.Command, args []string, version string) error {
	explicitConfig, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(explicitConfig)
	if err != nil {
		return exitError(exitConfig, "%w", err)
	}
	if flag, _ := cmd.Flags().GetString("transport"); flag != "" {
		cfg.Transport = config.Transport(strings.ToLower(flag))
	}
	if flag, _ := cmd.Flags().GetString("http-addr"); flag != "" {
		cfg.HTTPAddr = flag
	}
	preserveANSI, _ := cmd.Flags().GetBool("ansi")
	watchFlag, _ := cmd.Flags().GetString("watch")
	watchPath := watchTarget(watchFlag, cfg)
	if err := cfg.Validate(); err != nil {
		return exitError(exitConfig, "%w", err)
	}

	// Stdout is the upstream MCP channel; all logging goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	sessionID := uuid.NewString()
	logger.Info("mcpwrap starting", "version", version, "session", sessionID, "transport", cfg.Transport)

	command := args
	if len(command) == 0 {
		logger.Warn("no wrappee command given, using fallback", "command", fallbackCommand)
		command = fallbackCommand
	}

	var sink logstore.Sink
	if cfg.LogArchivePath != "" {
		archive, err := logstore.NewArchive(cfg.LogArchivePath, sessionID)
		if err != nil {
			return exitError(exitConfig, "opening log archive: %w", err)
		}
		defer func() {
			_ = archive.Close()
		}()
		sink = archive
	}

	store := logstore.NewStore(logstore.Config{
		Capacity:     cfg.LogCapacity,
		PreserveANSI: preserveANSI || cfg.PreserveANSI,
		Sink:         sink,
		Logger:       logger,
	})

	var observer proxy.Observer
	if cfg.OTelEndpoint != "" {
		providers, err := otelobs.Setup(cmd.Context(), cfg.OTelEndpoint, server.Name, version)
		if err != nil {
			return exitError(exitConfig, "initializing telemetry: %w", err)
		}
		defer func() {
			_ = providers.Shutdown(context.Background())
		}()
		callObserver, err := otelobs.NewCallObserver(providers.Meter, providers.Tracer)
		if err != nil {
			return exitError(exitConfig, "initializing call observer: %w", err)
		}
		observer = callObserver
	} else {
		// The global providers are no-ops unless something else installed them.
		callObserver, err := otelobs.NewCallObserver(
			otelapi.GetMeterProvider().Meter(server.Name),
			otelapi.GetTracerProvider().Tracer(server.Name),
		)
		if err != nil {
			return exitError(exitConfig, "initializing call observer: %w", err)
		}
		observer = callObserver
	}

	toolProxy := proxy.New(proxy.Config{Store: store, Observer: observer, Logger: logger})

	// The supervisor's tool-change hook needs the server, which needs the
	// supervisor; the closure binds late.
	var srv *server.Server
	sup := supervisor.New(supervisor.Config{
		Wrappee: wrappee.Config{
			Command:       command[0],
			Args:          command[1:],
			DisableColors: !(preserveANSI || cfg.PreserveANSI),
			Timeout:       cfg.ToolTimeout,
			ClientName:    server.Name,
			ClientVersion: version,
			Logger:        logger,
		},
		ProtocolVersion: cfg.ProtocolVersion,
		Proxy:           toolProxy,
		Store:           store,
		OnToolsChanged: func() {
			if srv != nil {
				srv.SyncTools()
			}
		},
		Logger: logger,
	})
	srv = server.New(server.Config{
		Supervisor: sup,
		Proxy:      toolProxy,
		Store:      store,
		Version:    version,
		Logger:     logger,
	})
	defer func() {
		_ = sup.Stop()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchPath != "" {
		watcher, err := supervisor.NewWatcher(supervisor.WatchConfig{
			Path:    watchPath,
			Start:   sup.Start,
			Restart: restartOrStart(sup),
			Logger:  logger,
		})
		if err != nil {
			return exitError(exitConfig, "%w", err)
		}
		if watcher.AwaitingFirstCreation() {
			logger.Info("wrappee binary absent, waiting for first build", "path", watchPath)
		} else if err := startSupervised(sup, true, logger); err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("file watcher stopped", "error", err)
			}
		}()
	} else if err := startSupervised(sup, false, logger); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		switch cfg.Transport {
		case config.TransportHTTP:
			serveErr <- srv.ServeHTTP(cfg.HTTPAddr)
		default:
			serveErr <- srv.ServeStdio()
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return nil
	case err := <-serveErr:
		if err != nil {
			return exitError(exitServe, "serving upstream: %w", err)
		}
		return nil
	}
}

// watchTarget resolves the watched binary: the --watch flag wins over the
// config file's watch_binary; empty disables watch mode.
func watchTarget(flag string, cfg config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.WatchBinary
}

// startSupervised starts the wrappee. A failure is fatal in plain mode but
// recoverable under watch mode: the wrapper stays up with its built-ins and
// the next binary change retries through the watcher's hooks.
func startSupervised(sup *supervisor.Supervisor, watching bool, logger *slog.Logger) error {
	err := sup.Start()
	if err == nil {
		return nil
	}
	if watching {
		logger.Error("starting wrappee failed, waiting for binary change", "error", err)
		return nil
	}
	return exitError(exitSpawn, "starting wrappee: %w", err)
}

// restartOrStart restarts the wrappee, falling back to a fresh start when the
// previous instance already died or never came up.
func restartOrStart(sup *supervisor.Supervisor) func() error {
	return func() error {
		err := sup.Restart()
		if errors.Is(err, supervisor.ErrNotRunning) {
			return sup.Start()
		}
		return err
	}
}
