package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"vinscan/internal/logging"
	"vinscan/internal/services"
)

const latestFrameName = "latest.png"

// PreviewConfig controls the ffmpeg preview pipeline.
type PreviewConfig struct {
	FFmpegBinary string
	InputFormat  string
	Width        int
	Height       int
	FrameRate    int
	FrameDir     string
	LockDir      string
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// V4L2Opener opens Video4Linux capture nodes.
type V4L2Opener struct {
	Config PreviewConfig
	Logger *slog.Logger
	// Probe validates the node before locking; nil uses Probe.
	Probe func(ctx context.Context, path string) error
}

// NewV4L2Opener builds an opener with the given preview settings.
func NewV4L2Opener(cfg PreviewConfig, logger *slog.Logger) *V4L2Opener {
	return &V4L2Opener{Config: cfg, Logger: logging.NewComponentLogger(logger, "device")}
}

// Open locks the node and prepares a private frame directory. The preview is
// not started.
func (o *V4L2Opener) Open(ctx context.Context, id string) (Device, error) {
	path := ResolvePath(id)
	probe := o.Probe
	if probe == nil {
		probe = Probe
	}
	if err := probe(ctx, path); err != nil {
		return nil, services.Wrap(services.ErrDevice, "device", "open", fmt.Sprintf("probe %s", path), err)
	}

	node := NodeName(path)
	lock, err := acquireLock(o.Config.LockDir, node)
	if err != nil {
		return nil, err
	}

	base := o.Config.FrameDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		_ = releaseLock(lock)
		return nil, services.Wrap(services.ErrDevice, "device", "open", "create frame directory", err)
	}
	frameDir, err := os.MkdirTemp(base, node+"-")
	if err != nil {
		_ = releaseLock(lock)
		return nil, services.Wrap(services.ErrDevice, "device", "open", "create session frame directory", err)
	}

	logger := o.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldDeviceID, path))
	logger.Debug("device opened", logging.String("frame_dir", frameDir))

	return &v4l2Device{
		path:     path,
		cfg:      o.Config,
		lock:     lock,
		frameDir: frameDir,
		logger:   logger,
	}, nil
}

type v4l2Device struct {
	path     string
	cfg      PreviewConfig
	lock     *flock.Flock
	frameDir string
	logger   *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan struct{}
	stderr *bytes.Buffer
	closed bool
}

func (d *v4l2Device) previewArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if d.cfg.InputFormat != "" {
		args = append(args, "-f", d.cfg.InputFormat)
	}
	if d.cfg.Width > 0 && d.cfg.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", d.cfg.Width, d.cfg.Height))
	}
	if d.cfg.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(d.cfg.FrameRate))
	}
	args = append(args,
		"-i", d.path,
		"-f", "image2",
		"-update", "1",
		"-atomic_writing", "1",
		"-y", filepath.Join(d.frameDir, latestFrameName),
	)
	return args
}

func (d *v4l2Device) StartPreview(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return services.Wrap(services.ErrDevice, "device", "start preview", "device is closed", nil)
	}
	if d.cmd != nil {
		d.mu.Unlock()
		return nil
	}

	binary := d.cfg.FFmpegBinary
	if binary == "" {
		binary = "ffmpeg"
	}
	_ = os.Remove(filepath.Join(d.frameDir, latestFrameName))

	cmd := exec.Command(binary, d.previewArgs()...) //nolint:gosec
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		d.mu.Unlock()
		return services.Wrap(services.ErrDevice, "device", "start preview", "launch ffmpeg", err)
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	d.cmd = cmd
	d.done = done
	d.stderr = stderr
	d.mu.Unlock()

	if err := d.waitFirstFrame(ctx, done); err != nil {
		d.terminate(context.Background())
		return err
	}
	d.logger.Debug("preview started", logging.Int("pid", cmd.Process.Pid))
	return nil
}

func (d *v4l2Device) waitFirstFrame(ctx context.Context, done <-chan struct{}) error {
	timeout := d.cfg.StartTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	latest := filepath.Join(d.frameDir, latestFrameName)
	for {
		if _, err := os.Stat(latest); err == nil {
			return nil
		}
		select {
		case <-done:
			return services.Wrap(services.ErrDevice, "device", "start preview", "ffmpeg exited before the first frame: "+d.stderrTail(), nil)
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return services.Wrap(services.ErrTimeout, "device", "start preview", fmt.Sprintf("no frame within %s", timeout), nil)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *v4l2Device) stderrTail() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stderr == nil {
		return ""
	}
	tail := bytes.TrimSpace(d.stderr.Bytes())
	const maxTail = 200
	if len(tail) > maxTail {
		tail = tail[len(tail)-maxTail:]
	}
	if len(tail) == 0 {
		return "no output"
	}
	return string(tail)
}

func (d *v4l2Device) StopPreview(ctx context.Context) error {
	if !d.terminate(ctx) {
		return nil
	}
	d.logger.Debug("preview stopped")
	return nil
}

// terminate interrupts ffmpeg and waits for it, escalating to kill when ctx
// or the stop timeout expires. It reports whether a process was running.
func (d *v4l2Device) terminate(ctx context.Context) bool {
	d.mu.Lock()
	cmd, done := d.cmd, d.done
	d.cmd, d.done = nil, nil
	d.mu.Unlock()
	if cmd == nil {
		return false
	}

	_ = cmd.Process.Signal(os.Interrupt)
	timeout := d.cfg.StopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
	}
	return true
}

func (d *v4l2Device) CapturePhoto(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	running := d.cmd != nil
	d.mu.Unlock()
	if !running {
		return nil, services.Wrap(services.ErrDevice, "device", "capture photo", "preview is not running", nil)
	}
	data, err := os.ReadFile(filepath.Join(d.frameDir, latestFrameName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrDevice, "device", "capture photo", "no preview frame available", nil)
		}
		return nil, services.Wrap(services.ErrDevice, "device", "capture photo", "read preview frame", err)
	}
	return data, nil
}

func (d *v4l2Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.terminate(context.Background())
	var errs []error
	if err := os.RemoveAll(d.frameDir); err != nil {
		errs = append(errs, services.Wrap(services.ErrDevice, "device", "close", "remove frame directory", err))
	}
	if err := releaseLock(d.lock); err != nil {
		errs = append(errs, err)
	}
	d.logger.Debug("device closed")
	return errors.Join(errs...)
}
