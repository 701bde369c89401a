package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"vinscan/internal/config"
	"vinscan/internal/device"
	"vinscan/internal/history"
	"vinscan/internal/logging"
	"vinscan/internal/services"
	"vinscan/internal/session"
	"vinscan/internal/vin"
)

const recordTimeout = 5 * time.Second

// SessionFactory builds a capturing session.
type SessionFactory func(ctx context.Context, deviceID string, callback session.Callback, opts ...session.Option) (*session.Session, error)

// Lister enumerates capture devices.
type Lister func(ctx context.Context) ([]device.Info, error)

// Status reports the scanner state.
type Status struct {
	Running bool            `json:"running"`
	Session *session.Status `json:"session,omitempty"`
	Last    *Event          `json:"last_result,omitempty"`
}

// Scanner owns at most one capture session.
type Scanner struct {
	cfg       *config.Config
	base      *slog.Logger
	logger    *slog.Logger
	store     *history.Store
	publisher Publisher
	factory   SessionFactory
	lister    Lister
	options   []session.Option
	owner     *session.Loop
	logDir    string

	// opMu serializes Start and Stop. mu guards the fields below and is
	// never held across device calls or the drain, since result callbacks
	// take it on the owner loop.
	opMu sync.Mutex

	mu         sync.Mutex
	current    *session.Session
	sessionLog *logging.SessionLog
	last       *Event
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithSessionFactory replaces session.New.
func WithSessionFactory(factory SessionFactory) Option {
	return func(s *Scanner) {
		if factory != nil {
			s.factory = factory
		}
	}
}

// WithLister replaces device enumeration.
func WithLister(lister Lister) Option {
	return func(s *Scanner) {
		if lister != nil {
			s.lister = lister
		}
	}
}

// WithSessionOptions replaces the options derived from configuration.
func WithSessionOptions(opts ...session.Option) Option {
	return func(s *Scanner) {
		s.options = opts
	}
}

// WithSessionLogDir writes a JSON log per session into dir, named after the
// session id.
func WithSessionLogDir(dir string) Option {
	return func(s *Scanner) {
		s.logDir = dir
	}
}

// New builds a scanner. store and publisher may be nil.
func New(cfg *config.Config, store *history.Store, publisher Publisher, logger *slog.Logger, opts ...Option) *Scanner {
	base := logger
	logger = logging.NewComponentLogger(logger, "scanner")
	s := &Scanner{
		cfg:       cfg,
		base:      base,
		logger:    logger,
		store:     store,
		publisher: publisher,
		factory:   session.New,
		lister:    device.List,
		options:   session.ConfigOptions(cfg, base),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.owner = session.NewLoop(logger)
	return s
}

// Start opens deviceID, or the configured device when empty, and begins capture.
func (s *Scanner) Start(ctx context.Context, deviceID string) (session.Status, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if running := s.active(); running != nil {
		return session.Status{}, services.Wrap(services.ErrProtocol, "scanner", "start", fmt.Sprintf("session %s is already running", running.ID()), nil)
	}

	id, err := s.selectDevice(ctx, deviceID)
	if err != nil {
		return session.Status{}, err
	}

	sessionID := uuid.NewString()
	callback := func(_ session.TaskID, result session.Result) {
		s.handleResult(sessionID, id, result)
	}
	opts := append(append([]session.Option(nil), s.options...),
		session.WithOwner(s.owner),
		session.WithSessionID(sessionID),
	)
	sessionLog := s.openSessionLog(sessionID)
	if sessionLog != nil {
		opts = append(opts, session.WithLogger(logging.TeeLogger(s.base, sessionLog.Handler)))
	}
	sess, err := s.factory(ctx, id, callback, opts...)
	if err != nil {
		_ = sessionLog.Close()
		return session.Status{}, err
	}
	s.mu.Lock()
	s.current = sess
	s.sessionLog = sessionLog
	s.mu.Unlock()

	status := sess.Status()
	s.publish(Event{Type: EventSession, SessionID: sessionID, DeviceID: id, State: status.State})
	s.logger.Info("scanner session started",
		logging.String(logging.FieldEventType, "scanner_session_started"),
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldDeviceID, id),
	)
	return status, nil
}

// Request dispatches one decode on the running session.
func (s *Scanner) Request(ctx context.Context) (session.TaskID, error) {
	if err := ctx.Err(); err != nil {
		return session.NoTask, err
	}
	sess := s.active()
	if sess == nil {
		return session.NoTask, services.Wrap(services.ErrRejected, "scanner", "request", "no capture session is running", nil)
	}
	return sess.RequestDecodeNow()
}

// Stop drains and releases the running session.
func (s *Scanner) Stop(ctx context.Context) (session.Status, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	sess := s.active()
	if sess == nil {
		return session.Status{}, services.Wrap(services.ErrNotFound, "scanner", "stop", "no capture session is running", nil)
	}
	// The drain waits for callbacks that lock s.mu.
	if err := sess.Close(ctx); err != nil {
		return sess.Status(), err
	}

	s.mu.Lock()
	s.current = nil
	sessionLog := s.sessionLog
	s.sessionLog = nil
	s.mu.Unlock()
	if err := sessionLog.Close(); err != nil {
		s.logger.Debug("close session log", logging.Error(err))
	}

	status := sess.Status()
	s.publish(Event{Type: EventSession, SessionID: sess.ID(), DeviceID: sess.DeviceID(), State: "closed"})
	s.logger.Info("scanner session stopped",
		logging.String(logging.FieldEventType, "scanner_session_stopped"),
		logging.String(logging.FieldSessionID, sess.ID()),
		logging.Uint64("delivered", status.Delivered),
		logging.Uint64("found", status.Found),
	)
	return status, nil
}

// Status snapshots the scanner.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.current != nil}
	if s.current != nil {
		ss := s.current.Status()
		st.Session = &ss
	}
	if s.last != nil {
		last := *s.last
		st.Last = &last
	}
	return st
}

// HandleDeviceEvent publishes hotplug events and warns when the active
// device disappears.
func (s *Scanner) HandleDeviceEvent(_ context.Context, event device.Event) {
	s.publish(Event{Type: EventDevice, DeviceID: event.Device, Action: event.Action})

	sess := s.active()
	if sess != nil && event.Action == "remove" && device.ResolvePath(sess.DeviceID()) == event.Device {
		logging.WarnWithContext(s.logger, "active capture device was removed", "device_removed",
			logging.Alert("device_removed"),
			logging.String(logging.FieldDeviceID, event.Device),
			logging.String(logging.FieldSessionID, sess.ID()),
			logging.String(logging.FieldErrorHint, "reconnect the camera and restart the session"),
			logging.String(logging.FieldImpact, "decodes will report no barcode until the session is restarted"),
		)
	}
}

// Close stops any running session and the owner loop.
func (s *Scanner) Close(ctx context.Context) error {
	var err error
	if s.active() != nil {
		_, err = s.Stop(ctx)
	}
	if err == nil {
		s.owner.Close()
	}
	return err
}

func (s *Scanner) active() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scanner) openSessionLog(sessionID string) *logging.SessionLog {
	if s.logDir == "" {
		return nil
	}
	sl, err := logging.OpenSessionLog(filepath.Join(s.logDir, sessionID+".log"))
	if err != nil {
		logging.WarnWithContext(s.logger, "session log unavailable", "session_log_failed",
			logging.Error(err),
			logging.String(logging.FieldSessionID, sessionID),
			logging.String(logging.FieldErrorHint, "check permissions on the log directory"),
			logging.String(logging.FieldImpact, "session diagnostics only go to the daemon log"),
		)
		return nil
	}
	return sl
}

func (s *Scanner) selectDevice(ctx context.Context, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if s.cfg != nil && s.cfg.Capture.Device != "" {
		return s.cfg.Capture.Device, nil
	}
	infos, err := s.lister(ctx)
	if err != nil {
		return "", err
	}
	cursor := device.NewCursor(infos)
	if s.cfg != nil && cursor.Len() > 0 {
		cursor.Index = s.cfg.Capture.DeviceIndex % cursor.Len()
	}
	id, ok := cursor.NextEnabled()
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "scanner", "select device", "no usable capture device found", nil)
	}
	return id, nil
}

// handleResult runs on the owner loop.
func (s *Scanner) handleResult(sessionID, deviceID string, result session.Result) {
	event := Event{
		Type:      EventResult,
		SessionID: sessionID,
		DeviceID:  deviceID,
		TaskID:    uint64(result.TaskID),
		Barcode:   result.Barcode,
		Found:     result.Found,
	}
	scan := history.Scan{
		SessionID: sessionID,
		DeviceID:  deviceID,
		TaskID:    uint64(result.TaskID),
		Barcode:   result.Barcode,
		Found:     result.Found,
	}
	if result.Found {
		info := vin.Validate(result.Barcode)
		event.VIN = &info
		scan.VINValid = info.IsValid
		if info.CanonicalOK {
			scan.VINCanonical = info.Canonical
		}
		s.logger.Info("barcode decoded",
			logging.String(logging.FieldEventType, "barcode_decoded"),
			logging.String(logging.FieldSessionID, sessionID),
			logging.Uint64(logging.FieldTaskID, uint64(result.TaskID)),
			logging.String(logging.FieldBarcode, result.Barcode),
			logging.Bool("vin_valid", info.IsValid),
		)
	}

	if s.store != nil && (s.cfg == nil || s.cfg.History.Enabled) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		stored, err := s.store.Record(ctx, scan)
		cancel()
		if err != nil {
			logging.WarnWithContext(s.logger, "failed to record scan result", "history_record_failed",
				logging.Error(err),
				logging.Uint64(logging.FieldTaskID, uint64(result.TaskID)),
				logging.String(logging.FieldErrorHint, "check the history database path and permissions"),
				logging.String(logging.FieldImpact, "result is streamed but not stored"),
			)
		} else {
			event.ScanID = stored.ID
		}
	}

	event.Time = time.Now().UTC()
	s.mu.Lock()
	last := event
	s.last = &last
	s.mu.Unlock()
	s.publish(event)
}

func (s *Scanner) publish(event Event) {
	if s.publisher == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	s.publisher.Publish(event)
}
