package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vinscan/internal/config"
	"vinscan/internal/decoder"
	"vinscan/internal/device"
)

// Reader locates a barcode in a pixel buffer.
type Reader interface {
	Decode(pixels []byte, width, height int, format decoder.PixelFormat, opts decoder.Options) (string, bool, error)
}

// ImageDecoder turns an encoded still into pixels.
type ImageDecoder func(data []byte) (decoder.Frame, error)

// Option customizes a session.
type Option func(*Session)

// WithOpener sets how the device is acquired.
func WithOpener(opener device.Opener) Option {
	return func(s *Session) {
		if opener != nil {
			s.opener = opener
		}
	}
}

// WithReader replaces the barcode reader.
func WithReader(reader Reader) Option {
	return func(s *Session) {
		if reader != nil {
			s.reader = reader
		}
	}
}

// WithImageDecoder replaces still decoding.
func WithImageDecoder(fn ImageDecoder) Option {
	return func(s *Session) {
		if fn != nil {
			s.decodeImage = fn
		}
	}
}

// WithOwner delivers results through owner instead of a private Loop.
func WithOwner(owner Owner) Option {
	return func(s *Session) {
		if owner != nil {
			s.owner = owner
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxWorkers bounds concurrent decodes. Zero or less leaves them unbounded.
func WithMaxWorkers(n int) Option {
	return func(s *Session) {
		s.maxWorkers = n
	}
}

// WithDecodeOptions sets the reader options passed to every decode.
func WithDecodeOptions(opts decoder.Options) Option {
	return func(s *Session) {
		s.decodeOpts = opts
	}
}

// WithDrainPollInterval sets the fallback re-check interval used while
// waiting for in-flight tasks during stop.
func WithDrainPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithCaptureTimeout bounds each photo capture.
func WithCaptureTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.captureTimeout = d
		}
	}
}

// WithSessionID overrides the generated session identifier.
func WithSessionID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// ConfigOptions derives the options a configured deployment uses: the V4L2
// opener, reader settings, worker bound and timings.
func ConfigOptions(cfg *config.Config, logger *slog.Logger) []Option {
	if cfg == nil {
		return nil
	}
	symbology, err := decoder.ParseSymbology(cfg.Decoder.Symbology)
	if err != nil {
		symbology = decoder.SymbologyCode39
	}
	opener := device.NewV4L2Opener(device.PreviewConfig{
		FFmpegBinary: cfg.Capture.FFmpegBinary,
		InputFormat:  cfg.Capture.InputFormat,
		Width:        cfg.Capture.Width,
		Height:       cfg.Capture.Height,
		FrameRate:    cfg.Capture.FrameRate,
		FrameDir:     cfg.Paths.FrameDir,
		LockDir:      cfg.Paths.LockDir,
		StartTimeout: cfg.StartTimeout(),
		StopTimeout:  cfg.StopTimeout(),
	}, logger)
	return []Option{
		WithOpener(opener),
		WithLogger(logger),
		WithMaxWorkers(cfg.Session.MaxWorkers),
		WithDrainPollInterval(cfg.DrainPollInterval()),
		WithCaptureTimeout(cfg.CaptureTimeout()),
		WithDecodeOptions(decoder.Options{
			Symbology:  symbology,
			TryHarder:  cfg.Decoder.TryHarder,
			AutoRotate: cfg.Decoder.AutoRotate,
		}),
	}
}

func defaults(s *Session) {
	s.id = uuid.NewString()
	s.opener = device.NewV4L2Opener(device.PreviewConfig{}, nil)
	s.reader = decoder.NewReader()
	s.decodeImage = decoder.DecodeBGRA
	s.decodeOpts = decoder.DefaultOptions()
	s.pollInterval = 50 * time.Millisecond
	s.captureTimeout = 5 * time.Second
}
