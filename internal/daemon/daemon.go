package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/learnstate/internal/config"
	"github.com/harun/learnstate/internal/logger"
	"github.com/harun/learnstate/internal/observability"
	"github.com/harun/learnstate/internal/tracing"
	"github.com/harun/learnstate/pkg/backup"
	"github.com/harun/learnstate/pkg/learnstore"
)

const shutdownTimeout = 10 * time.Second

// Daemon hosts the long-running store services: the change watcher,
// scheduled backups and the metrics endpoint.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	store   *learnstore.Store
	watcher *learnstore.Watcher
	backups *backup.Scheduler

	metricsServer   *http.Server
	metricsListener net.Listener

	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	onChange       func([]learnstore.Change)
	version        string
	tracingEnabled bool
}

// Status represents daemon status
type Status struct {
	Running     bool
	Uptime      time.Duration
	StartTime   time.Time
	StorePath   string
	MetricsAddr string
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithChangeHandler registers a callback invoked after each logged batch of store changes.
func WithChangeHandler(fn func([]learnstore.Change)) Option {
	return func(d *Daemon) {
		d.onChange = fn
	}
}

// WithVersion sets the service version reported to the tracer.
func WithVersion(version string) Option {
	return func(d *Daemon) {
		d.version = version
	}
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config:  cfg,
		logger:  log,
		version: "dev",
	}
	for _, opt := range opts {
		opt(d)
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.ProviderConfig{
			ServiceName:    "learnstate",
			ServiceVersion: d.version,
			SampleRatio:    cfg.Tracing.SampleRatio,
			StorePath:      cfg.Store.Path,
			DataDir:        cfg.DataDir,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Float64("sample_ratio", cfg.Tracing.SampleRatio).Msg("Tracing initialized successfully")
		}
	}

	store, err := learnstore.New(learnstore.Options{
		Path:            cfg.Store.Path,
		CreateIfMissing: cfg.Store.CreateIfMissing,
		SerializeWrites: cfg.Store.SerializeWrites,
		ValidateSchema:  cfg.Store.ValidateSchema,
	})
	if err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	d.store = store

	if cfg.Backup.Enabled {
		d.backups, err = backup.New(store, backup.Config{
			Schedule: cfg.Backup.Schedule,
			Dir:      cfg.Backup.Dir,
			Keep:     cfg.Backup.Keep,
		}, log.GetZerolog())
		if err != nil {
			d.shutdownTracing()
			return nil, fmt.Errorf("failed to create backup scheduler: %w", err)
		}
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// Start starts every configured service
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Str("store", d.store.Path()).Msg("Starting learnstate daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())

	// The watcher is single-use, so each start gets a fresh one
	// baselined on the current document.
	debounce := time.Duration(d.config.Watch.DebounceMs) * time.Millisecond
	watcher, err := learnstore.NewWatcher(d.store, d.logger.GetZerolog(), debounce, d.handleChanges)
	if err != nil {
		d.abortStart()
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Start(d.ctx); err != nil {
		_ = watcher.Stop()
		d.abortStart()
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	d.watcher = watcher
	logger.Info().Msg("Store watcher started")

	if d.backups != nil {
		if err := d.backups.Start(); err != nil {
			_ = d.watcher.Stop()
			d.abortStart()
			return fmt.Errorf("failed to start backup scheduler: %w", err)
		}
	}

	if d.config.Metrics.Enabled {
		if err := d.startMetricsServer(); err != nil {
			if d.backups != nil {
				_ = d.backups.Stop()
			}
			_ = d.watcher.Stop()
			d.abortStart()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		logger.Info().Str("addr", d.metricsListener.Addr().String()).Msg("Metrics server started")
	}

	d.running = true
	d.startTime = time.Now()

	logger.Info().Msg("Daemon started successfully")
	return nil
}

func (d *Daemon) abortStart() {
	d.cancel()
	_ = d.lifecycle.Stop()
}

func (d *Daemon) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/health", d.handleHealth)

	listener, err := net.Listen("tcp", d.config.Metrics.Addr)
	if err != nil {
		return err
	}

	d.metricsListener = listener
	d.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return nil
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := d.store.LoadWithContext(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (d *Daemon) handleChanges(changes []learnstore.Change) {
	for _, change := range changes {
		d.logger.Info().
			Str("session_id", change.SessionID).
			Str("kind", string(change.Kind)).
			Msg("Store changed")
	}
	if d.onChange != nil {
		d.onChange(changes)
	}
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return fmt.Errorf("daemon is not running")
	}
	d.running = false

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping learnstate daemon")

	var errs []error

	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
		cancel()
		d.metricsServer = nil
		d.metricsListener = nil
	}

	if d.backups != nil {
		if err := d.backups.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("backup scheduler: %w", err))
		}
	}

	d.cancel()
	if err := d.watcher.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("watcher: %w", err))
	}
	d.watcher = nil

	d.wg.Wait()

	if err := d.lifecycle.Stop(); err != nil {
		errs = append(errs, err)
	}

	d.shutdownTracing()

	if err := errors.Join(errs...); err != nil {
		logger.Error().Err(err).Msg("Daemon stopped with errors")
		return err
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to shut down tracing")
	}
	d.tracingEnabled = false
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:   d.running,
		StorePath: d.store.Path(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	if d.metricsListener != nil {
		status.MetricsAddr = d.metricsListener.Addr().String()
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	return d.Stop()
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetStore returns the session store
func (d *Daemon) GetStore() *learnstore.Store {
	return d.store
}

// GetBackupScheduler returns the backup scheduler, nil when backups are disabled
func (d *Daemon) GetBackupScheduler() *backup.Scheduler {
	return d.backups
}
