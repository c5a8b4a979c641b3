package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/brianly1003/sw/internal/config"
	swexec "github.com/brianly1003/sw/internal/exec"
	"github.com/brianly1003/sw/internal/git"
	"github.com/brianly1003/sw/internal/hub"
	"github.com/brianly1003/sw/internal/orchestrator"
	"github.com/brianly1003/sw/internal/server"
	"github.com/brianly1003/sw/internal/state"
	"github.com/brianly1003/sw/internal/tmux"
	"github.com/brianly1003/sw/internal/watcher"
)

var (
	serveHost     string
	servePort     int
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the long-lived observer for this project",
	Long: `Runs the status detector loop and a read-only HTTP/WebSocket server
exposing the registry and live status events. CLI commands in other
terminals keep working; the server never mutates state itself.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logLevel := slog.LevelInfo
		zerologLevel := zerolog.InfoLevel
		if verbose {
			logLevel = slog.LevelDebug
			zerologLevel = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(zerologLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

		logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
		}))

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		executor := swexec.NewRealExecutor()
		cfg, err := config.Resolve(ctx, executor, cwd)
		if err != nil {
			return err
		}
		registerProject(cfg)

		stateDir, err := config.StateDir()
		if err != nil {
			return err
		}
		store := state.NewStore(state.PathFor(stateDir, cfg.StateHash()), cfg.LockTimeout)

		eventHub := hub.New()
		if err := eventHub.Start(); err != nil {
			return fmt.Errorf("starting event hub: %w", err)
		}
		defer eventHub.Stop()

		hist, err := openHistory(cfg)
		if err != nil {
			return fmt.Errorf("opening history log: %w", err)
		}
		defer hist.Close()
		hist.AttachTo(eventHub)

		orch := orchestrator.New(cfg, store,
			git.NewManager(executor, cfg),
			tmux.NewController(executor),
			eventHub, hist, logger)

		stateWatcher := watcher.NewWatcher(store.Path(), eventHub, 100*time.Millisecond)
		if err := stateWatcher.Start(ctx); err != nil {
			return fmt.Errorf("starting state watcher: %w", err)
		}
		defer stateWatcher.Stop()

		srv := server.NewServer(serveHost, servePort, orch, hist, eventHub, logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()

		logger.Info("sw observer running",
			"repo", cfg.RepoRoot,
			"addr", srv.Addr(),
			"interval", serveInterval.String(),
		)

		if err := orch.Reconcile(ctx); err != nil {
			logger.Warn("initial reconcile failed", "error", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		ticker := time.NewTicker(serveInterval)
		defer ticker.Stop()
		detector := orch.Detector()
		for {
			select {
			case <-ticker.C:
				if err := detector.Tick(ctx); err != nil {
					logger.Warn("detector tick failed", "error", err)
				}
			case sig := <-sigCh:
				logger.Info("shutting down", "signal", sig.String())
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "listen address")
	serveCmd.Flags().IntVar(&servePort, "port", 8877, "listen port")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", time.Second, "status polling interval")
}
