package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/taskchat/internal/config"
	"github.com/harun/taskchat/internal/daemon"
	"github.com/harun/taskchat/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the taskchat service",
	Long: `Run the taskchat service in the foreground. The gateway accepts
WebSocket clients, thread storage and the tool connection cache are
managed internally, and SIGINT/SIGTERM trigger a graceful shutdown.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.Options{
		Tokens: cfg.Gateway.Tokens,
	})
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		return err
	}

	// Hot-reload the log level when the config file changes
	watcher, err := config.NewWatcher(loader, func(updated *config.Config) {
		log.Info().Str("level", updated.Logging.Level).Msg("Config reloaded")
		d.SetLogLevel(updated.Logging.Level)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
	} else if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Config watcher failed to start")
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	// Wait for a shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Info().Str("signal", sig.String()).Msg("Shutting down")
	return d.Stop()
}
