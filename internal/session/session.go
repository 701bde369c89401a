package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"vinscan/internal/decoder"
	"vinscan/internal/device"
	"vinscan/internal/logging"
	"vinscan/internal/services"
)

// Session owns one capture device and its decode workflow.
type Session struct {
	id       string
	deviceID string
	callback Callback

	opener         device.Opener
	reader         Reader
	decodeImage    ImageDecoder
	decodeOpts     decoder.Options
	owner          Owner
	loop           *Loop
	logger         *slog.Logger
	maxWorkers     int
	sem            *semaphore.Weighted
	pollInterval   time.Duration
	captureTimeout time.Duration

	// opMu serializes Initialize, StartPreview, TryStopCapture and Close.
	opMu sync.Mutex
	// captureMu serializes CapturePhoto against the single handle.
	captureMu sync.Mutex

	mu         sync.Mutex
	state      State
	stopping   bool
	closed     bool
	dev        device.Device
	nextTaskID TaskID
	inFlight   int
	// idle is closed whenever inFlight is zero.
	idle      chan struct{}
	accepted  uint64
	delivered uint64
	found     uint64
}

// Status is a point-in-time view of a session.
type Status struct {
	ID         string `json:"id"`
	DeviceID   string `json:"device_id"`
	State      string `json:"state"`
	Closed     bool   `json:"closed"`
	InFlight   int    `json:"in_flight"`
	NextTaskID TaskID `json:"next_task_id"`
	Accepted   uint64 `json:"accepted"`
	Delivered  uint64 `json:"delivered"`
	Found      uint64 `json:"found"`
}

// New opens deviceID and starts its preview. The returned session is
// Capturing. Release it with Close.
func New(ctx context.Context, deviceID string, callback Callback, opts ...Option) (*Session, error) {
	s, err := newSession(deviceID, callback, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(ctx); err != nil {
		s.shutdownOwner()
		return nil, err
	}
	if err := s.StartPreview(ctx); err != nil {
		if closeErr := s.Close(context.Background()); closeErr != nil {
			s.logger.Debug("close after failed preview start", logging.Error(closeErr))
		}
		return nil, err
	}
	return s, nil
}

// NewUninitialized builds a session without touching the device. Callers
// drive Initialize and StartPreview themselves.
func NewUninitialized(deviceID string, callback Callback, opts ...Option) (*Session, error) {
	return newSession(deviceID, callback, opts...)
}

func newSession(deviceID string, callback Callback, opts ...Option) (*Session, error) {
	if callback == nil {
		return nil, services.Wrap(services.ErrValidation, "session", "new", "callback is required", nil)
	}
	s := &Session{
		deviceID:   deviceID,
		callback:   callback,
		state:      StateNotInitialized,
		nextTaskID: 1,
		idle:       closedChan(),
	}
	defaults(s)
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.logger = logging.NewComponentLogger(s.logger, "session").With(
		logging.String(logging.FieldSessionID, s.id),
		logging.String(logging.FieldDeviceID, deviceID),
	)
	if s.owner == nil {
		s.loop = NewLoop(s.logger)
		s.owner = s.loop
	}
	if s.maxWorkers > 0 {
		s.sem = semaphore.NewWeighted(int64(s.maxWorkers))
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// DeviceID returns the device the session was built for.
func (s *Session) DeviceID() string { return s.deviceID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InFlight returns the number of accepted tasks whose result has not been
// delivered yet.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Status snapshots the session counters.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:         s.id,
		DeviceID:   s.deviceID,
		State:      s.state.String(),
		Closed:     s.closed,
		InFlight:   s.inFlight,
		NextTaskID: s.nextTaskID,
		Accepted:   s.accepted,
		Delivered:  s.delivered,
		Found:      s.found,
	}
}

// Initialize opens the device. It fails with services.ErrProtocol unless
// the session is NotInitialized, leaving the state untouched.
func (s *Session) Initialize(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return services.Wrap(services.ErrProtocol, "session", "initialize", "session is closed", nil)
	}
	if s.state != StateNotInitialized || s.dev != nil {
		state := s.state
		s.mu.Unlock()
		return services.Wrap(services.ErrProtocol, "session", "initialize", fmt.Sprintf("already initialized (state %s)", state), nil)
	}
	s.state = StateInAsyncTask
	s.mu.Unlock()

	dev, err := s.opener.Open(ctx, s.deviceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateNotInitialized
		return services.Wrap(services.ErrDevice, "session", "initialize", fmt.Sprintf("open %s", s.deviceID), err)
	}
	s.dev = dev
	s.state = StateNotCapturing
	s.logger.Debug("device initialized", logging.String(logging.FieldState, s.state.String()))
	return nil
}

// StartPreview moves a NotCapturing session to Capturing.
func (s *Session) StartPreview(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateNotCapturing {
		state := s.state
		s.mu.Unlock()
		return services.Wrap(services.ErrProtocol, "session", "start preview", fmt.Sprintf("session is %s", state), nil)
	}
	s.state = StateInAsyncTask
	dev := s.dev
	s.mu.Unlock()

	err := dev.StartPreview(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateNotCapturing
		return services.Wrap(services.ErrDevice, "session", "start preview", "device refused preview", err)
	}
	s.state = StateCapturing
	s.logger.Info("capture session started",
		logging.String(logging.FieldEventType, "preview_started"),
	)
	return nil
}

// RequestDecodeNow dispatches one capture and decode. It never blocks on
// I/O. Requests outside Capturing, including during the stop drain, are
// rejected with services.ErrRejected and NoTask.
func (s *Session) RequestDecodeNow() (TaskID, error) {
	s.mu.Lock()
	if s.state != StateCapturing {
		state := s.state
		s.mu.Unlock()
		return NoTask, services.Wrap(services.ErrRejected, "session", "request decode", fmt.Sprintf("session is %s", state), nil)
	}
	id := s.nextTaskID
	s.nextTaskID++
	if s.inFlight == 0 {
		s.idle = make(chan struct{})
	}
	s.inFlight++
	s.accepted++
	inFlight := s.inFlight
	s.mu.Unlock()

	s.logger.Debug("decode requested",
		logging.Uint64(logging.FieldTaskID, uint64(id)),
		logging.Int(logging.FieldInFlight, inFlight),
	)
	go s.runTask(id)
	return id, nil
}

// TryStopCapture drains in-flight tasks and stops the preview. It is a
// no-op unless the session is Capturing. If ctx ends during the drain the
// session stays InAsyncTask with the preview running and ctx.Err() is
// returned; calling TryStopCapture again resumes the drain.
func (s *Session) TryStopCapture(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch {
	case s.state == StateCapturing:
		s.state = StateInAsyncTask
		s.stopping = true
	case s.state == StateInAsyncTask && s.stopping:
	default:
		s.mu.Unlock()
		return nil
	}
	dev := s.dev
	s.mu.Unlock()

	started := time.Now()
	if err := s.waitIdle(ctx); err != nil {
		logging.WarnWithContext(s.logger, "stop interrupted while draining decode tasks", "drain_interrupted",
			logging.Error(err),
			logging.Int(logging.FieldInFlight, s.InFlight()),
			logging.String(logging.FieldErrorHint, "call stop again to resume the drain"),
			logging.String(logging.FieldImpact, "preview keeps running until the drain completes"),
		)
		return err
	}

	err := dev.StopPreview(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = false
	if err != nil {
		s.state = StateCapturing
		return services.Wrap(services.ErrDevice, "session", "stop preview", "device refused stop", err)
	}
	s.state = StateNotCapturing
	s.logger.Info("capture session stopped",
		logging.String(logging.FieldEventType, "preview_stopped"),
		logging.Duration("drain_duration", time.Since(started)),
		logging.Uint64("delivered", s.delivered),
	)
	return nil
}

// Close stops capture if needed and releases the device. It fails with
// services.ErrProtocol while tasks are in flight. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	needsStop := s.state == StateCapturing || (s.state == StateInAsyncTask && s.stopping)
	s.mu.Unlock()
	if needsStop {
		if err := s.TryStopCapture(ctx); err != nil {
			return err
		}
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.inFlight > 0 {
		n := s.inFlight
		s.mu.Unlock()
		return services.Wrap(services.ErrProtocol, "session", "close", fmt.Sprintf("%d decode tasks still in flight", n), nil)
	}
	dev := s.dev
	s.dev = nil
	s.closed = true
	s.state = StateNotInitialized
	s.mu.Unlock()

	var err error
	if dev != nil {
		if closeErr := dev.Close(); closeErr != nil {
			err = services.Wrap(services.ErrDevice, "session", "close", "release device", closeErr)
		}
	}
	s.shutdownOwner()
	s.logger.Debug("session closed")
	return err
}

func (s *Session) shutdownOwner() {
	if s.loop != nil {
		s.loop.Close()
	}
}

func (s *Session) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		n, idle := s.inFlight, s.idle
		s.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-idle:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) runTask(id TaskID) {
	result := Result{TaskID: id}
	logger := s.logger.With(logging.Uint64(logging.FieldTaskID, uint64(id)))
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Debug("decode task panicked",
					logging.String("panic", fmt.Sprint(r)),
					logging.String("stack", string(debug.Stack())),
				)
				result = Result{TaskID: id}
			}
		}()
		if s.sem != nil {
			if err := s.sem.Acquire(context.Background(), 1); err != nil {
				return
			}
			defer s.sem.Release(1)
		}
		text, found, err := s.captureAndDecode(id)
		if err != nil {
			logger.Debug("decode task failed", logging.Error(err))
			return
		}
		result.Barcode, result.Found = text, found
	}()
	s.deliver(id, result)
}

func (s *Session) captureAndDecode(id TaskID) (string, bool, error) {
	s.mu.Lock()
	dev := s.dev
	s.mu.Unlock()
	if dev == nil {
		return "", false, services.Wrap(services.ErrProtocol, "session", "capture", "device released with tasks in flight", nil)
	}

	ctx := services.WithSessionID(context.Background(), s.id)
	ctx = services.WithDeviceID(ctx, s.deviceID)
	ctx = services.WithTaskID(ctx, uint64(id))
	ctx, cancel := context.WithTimeout(ctx, s.captureTimeout)
	defer cancel()
	s.captureMu.Lock()
	photo, err := dev.CapturePhoto(ctx)
	s.captureMu.Unlock()
	if err != nil {
		return "", false, err
	}

	frame, err := s.decodeImage(photo)
	if err != nil {
		return "", false, err
	}
	return s.reader.Decode(frame.Pixels, frame.Width, frame.Height, frame.Format, s.decodeOpts)
}

// deliver hands the result to the owner. The task is retired on the owner
// after the callback returns.
func (s *Session) deliver(id TaskID, result Result) {
	s.owner.Post(func() {
		defer s.retire(result)
		s.callback(id, result)
	})
}

func (s *Session) retire(result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight <= 0 {
		panic("session: in-flight count would go negative")
	}
	s.inFlight--
	s.delivered++
	if result.Found {
		s.found++
	}
	if s.inFlight == 0 {
		close(s.idle)
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
