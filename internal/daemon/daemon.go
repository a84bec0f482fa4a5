package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/harun/taskchat/internal/config"
	"github.com/harun/taskchat/internal/logger"
	"github.com/harun/taskchat/internal/metrics"
	"github.com/harun/taskchat/pkg/agent"
	"github.com/harun/taskchat/pkg/chat"
	"github.com/harun/taskchat/pkg/gateway"
	"github.com/harun/taskchat/pkg/thread"
	"github.com/harun/taskchat/pkg/toolconn"
)

// Daemon wires configuration, storage, the connection cache, the chat
// orchestrator, and the gateway into one runnable service.
type Daemon struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	store     *thread.SQLiteStore
	retention *thread.Retention
	cache     *toolconn.Cache
	gateway   *gateway.Server

	running  bool
	mu       sync.Mutex
	stopCh   chan struct{}
	verifier gateway.TokenVerifier
}

// Options carries optional daemon overrides
type Options struct {
	// Verifier overrides the token verifier; defaults to a static
	// verifier fed from configured tokens
	Verifier gateway.TokenVerifier

	// Tokens seeds the default static verifier (token -> user ID)
	Tokens map[string]string
}

// New creates a daemon from validated configuration
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	verifier := opts.Verifier
	if verifier == nil {
		verifier = gateway.NewStaticTokenVerifier(opts.Tokens)
	}

	d := &Daemon{
		cfg:      cfg,
		log:      log,
		metrics:  metrics.NewMetrics(),
		stopCh:   make(chan struct{}),
		verifier: verifier,
	}

	if err := d.initialize(); err != nil {
		return nil, err
	}

	return d, nil
}

// initialize builds the module graph bottom-up
func (d *Daemon) initialize() error {
	zlog := d.log.GetZerolog()

	store, err := thread.NewSQLiteStore(d.cfg.Storage.Path, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize thread store: %w", err)
	}
	d.store = store

	d.retention = thread.NewRetention(
		store,
		d.cfg.Storage.RetentionSchedule,
		d.cfg.Storage.RetentionDays,
		zlog,
	)

	dialer := &toolconn.MCPDialer{
		Endpoint:       d.cfg.Tools.ServerURL,
		Name:           d.cfg.Tools.ServerName,
		ConnectTimeout: time.Duration(d.cfg.Tools.ConnectTimeoutSeconds) * time.Second,
	}

	cache, err := toolconn.NewCache(toolconn.Config{
		Dialer:  dialer,
		IdleTTL: time.Duration(d.cfg.Tools.IdleTTLSeconds) * time.Second,
		Logger:  zlog,
		Metrics: d.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize connection cache: %w", err)
	}
	d.cache = cache

	runner := agent.NewRunner(agent.RunnerConfig{
		Logger:  zlog,
		Metrics: d.metrics,
	})

	orchestrator, err := chat.New(chat.Config{
		Store:         store,
		Cache:         cache,
		Runner:        runner,
		Logger:        zlog,
		Metrics:       d.metrics,
		Model:         d.modelConfig(),
		HistoryLimit:  d.cfg.Chat.HistoryLimit,
		RunTimeout:    time.Duration(d.cfg.Chat.RunTimeoutSeconds) * time.Second,
		MaxToolRounds: d.cfg.Chat.MaxToolRounds,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	gw, err := gateway.NewServer(gateway.Config{
		Host:         d.cfg.Gateway.Host,
		Port:         d.cfg.Gateway.Port,
		Orchestrator: orchestrator,
		Store:        store,
		Cache:        cache,
		Verifier:     d.verifier,
		Logger:       zlog,
		Metrics:      d.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}
	d.gateway = gw

	return nil
}

// modelConfig maps configuration onto the active provider's credentials
func (d *Daemon) modelConfig() agent.ModelConfig {
	apiKey := d.cfg.AI.OpenAIAPIKey
	if d.cfg.Chat.Provider == "anthropic" {
		apiKey = d.cfg.AI.AnthropicAPIKey
	}
	return agent.ModelConfig{
		Provider:    d.cfg.Chat.Provider,
		Model:       d.cfg.Chat.Model,
		APIKey:      apiKey,
		BaseURL:     d.cfg.Chat.BaseURL,
		Temperature: d.cfg.Chat.Temperature,
		MaxTokens:   d.cfg.Chat.MaxTokens,
	}
}

// Start starts the daemon services
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	if err := d.retention.Start(); err != nil {
		return fmt.Errorf("failed to start retention: %w", err)
	}

	if err := d.gateway.Start(); err != nil {
		_ = d.retention.Stop()
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	d.running = true
	d.log.Info().
		Str("host", d.cfg.Gateway.Host).
		Int("port", d.cfg.Gateway.Port).
		Msg("Daemon started")

	return nil
}

// Stop stops the daemon services in reverse order
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return fmt.Errorf("daemon is not running")
	}

	if err := d.gateway.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Gateway shutdown failed")
	}

	if err := d.retention.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Retention shutdown failed")
	}

	d.cache.Close()

	if err := d.store.Close(); err != nil {
		d.log.Error().Err(err).Msg("Thread store close failed")
	}

	d.running = false
	close(d.stopCh)
	d.log.Info().Msg("Daemon stopped")

	return nil
}

// Wait blocks until the daemon has stopped
func (d *Daemon) Wait() {
	<-d.stopCh
}

// IsRunning reports whether the daemon is running
func (d *Daemon) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// SetLogLevel applies a new log level at runtime, used by config reload
func (d *Daemon) SetLogLevel(level string) {
	d.log.SetLevel(level)
}
