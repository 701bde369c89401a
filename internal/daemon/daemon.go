package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"vinscan/internal/config"
	"vinscan/internal/deps"
	"vinscan/internal/device"
	"vinscan/internal/history"
	"vinscan/internal/logging"
	"vinscan/internal/preflight"
	"vinscan/internal/scanner"
)

// SessionLogDir holds one JSON log per capture session.
func SessionLogDir(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "sessions")
}

// Daemon coordinates the scanner service and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *history.Store
	scanner *scanner.Scanner
	hub     *Broadcaster
	watcher *device.Watcher
	lister  scanner.Lister
	api     *apiServer
	logPath string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	LockFilePath  string
	HistoryDBPath string
	Watching      bool
	Scanner       scanner.Status
	Dependencies  []deps.Status
}

// Option customizes a Daemon.
type Option func(*daemonOptions)

type daemonOptions struct {
	scannerOpts []scanner.Option
	lister      scanner.Lister
	noWatcher   bool
	logPath     string
}

// WithScannerOptions forwards options to the scanner service.
func WithScannerOptions(opts ...scanner.Option) Option {
	return func(o *daemonOptions) {
		o.scannerOpts = append(o.scannerOpts, opts...)
	}
}

// WithLister replaces device enumeration for the API and the scanner.
func WithLister(lister scanner.Lister) Option {
	return func(o *daemonOptions) {
		o.lister = lister
	}
}

// WithoutWatcher disables the hotplug watcher.
func WithoutWatcher() Option {
	return func(o *daemonOptions) {
		o.noWatcher = true
	}
}

// WithLogPath records the active log file for status output.
func WithLogPath(path string) Option {
	return func(o *daemonOptions) {
		o.logPath = path
	}
}

// New constructs a daemon with initialized dependencies. store may be nil
// when history is disabled.
func New(cfg *config.Config, store *history.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	var o daemonOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.lister == nil {
		o.lister = device.List
	}

	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		lister:   o.lister,
		logPath:  o.logPath,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.hub = NewBroadcaster(logger, d.snapshot)
	scannerOpts := append([]scanner.Option{
		scanner.WithLister(o.lister),
		scanner.WithSessionLogDir(SessionLogDir(cfg)),
	}, o.scannerOpts...)
	d.scanner = scanner.New(cfg, store, d.hub, logger, scannerOpts...)
	if !o.noWatcher {
		d.watcher = device.NewWatcher(logger, d.scanner.HandleDeviceEvent)
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, prunes history and starts the watcher and API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(d.cfg.Paths.LockDir, 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vinscan daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.pruneHistory(d.ctx)

	if d.watcher != nil {
		if err := d.watcher.Start(d.ctx); err != nil {
			logging.WarnWithContext(d.logger, "device watcher unavailable", "device_watcher_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "ensure netlink access or run on a host with udev"),
				logging.String(logging.FieldImpact, "camera hotplug events will not be reported"),
			)
		}
	}

	if err := d.api.start(d.ctx); err != nil {
		if d.watcher != nil {
			d.watcher.Stop()
		}
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("vinscan daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddress()),
	)
	return nil
}

// Stop releases the capture session, stops background services and the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), d.cfg.StopTimeout())
	if err := d.scanner.Close(stopCtx); err != nil {
		logging.WarnWithContext(d.logger, "capture session did not stop cleanly", "session_stop_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise session.stop_timeout if decodes are slow"),
			logging.String(logging.FieldImpact, "the camera may stay locked until the process exits"),
		)
	}
	cancel()

	if d.watcher != nil {
		d.watcher.Stop()
	}
	d.api.stop()
	d.hub.Close()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("vinscan daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon. The history store belongs
// to the caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Scanner exposes the scanner service.
func (d *Daemon) Scanner() *scanner.Scanner {
	return d.scanner
}

// Store exposes the history store, which may be nil.
func (d *Daemon) Store() *history.Store {
	return d.store
}

// Devices enumerates capture devices.
func (d *Daemon) Devices(ctx context.Context) ([]device.Info, error) {
	return d.lister(ctx)
}

// APIAddress reports the bound API address, or "" before Start.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		Scanner:      d.scanner.Status(),
		Dependencies: preflight.CheckSystemDeps(ctx, d.cfg),
	}
	if d.store != nil {
		st.HistoryDBPath = d.store.Path()
	}
	if d.watcher != nil {
		st.Watching = d.watcher.Running()
	}
	return st
}

func (d *Daemon) pruneHistory(ctx context.Context) {
	if d.store == nil || d.cfg.History.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -d.cfg.History.RetentionDays)
	removed, err := d.store.Prune(ctx, cutoff)
	if err != nil {
		logging.WarnWithContext(d.logger, "history prune failed", "history_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the history database permissions"),
			logging.String(logging.FieldImpact, "old scan results are kept"),
		)
		return
	}
	if removed > 0 {
		d.logger.Info("pruned scan history",
			logging.String(logging.FieldEventType, "history_pruned"),
			logging.Int64("removed", removed),
			logging.Int("retention_days", d.cfg.History.RetentionDays),
		)
	}
}

// snapshot is sent to new stream subscribers.
func (d *Daemon) snapshot() *scanner.Status {
	st := d.scanner.Status()
	return &st
}
