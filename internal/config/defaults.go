package config

const (
	defaultStateDir            = "~/.local/share/vinscan"
	defaultLogDir              = "~/.local/share/vinscan/logs"
	defaultLockDir             = "~/.local/share/vinscan/locks"
	defaultFrameDir            = "~/.cache/vinscan/frames"
	defaultAPIBind             = "127.0.0.1:7391"
	defaultFFmpegBinary        = "ffmpeg"
	defaultInputFormat         = "v4l2"
	defaultWidth               = 1280
	defaultHeight              = 720
	defaultFrameRate           = 10
	defaultStartTimeout        = 15
	defaultCaptureTimeout      = 5
	defaultSymbology           = "code_39"
	defaultDrainPollIntervalMS = 50
	defaultStopTimeout         = 30
	defaultHistoryRetention    = 90
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			LockDir:  defaultLockDir,
			FrameDir: defaultFrameDir,
			APIBind:  defaultAPIBind,
		},
		Capture: Capture{
			FFmpegBinary:   defaultFFmpegBinary,
			InputFormat:    defaultInputFormat,
			Width:          defaultWidth,
			Height:         defaultHeight,
			FrameRate:      defaultFrameRate,
			StartTimeout:   defaultStartTimeout,
			CaptureTimeout: defaultCaptureTimeout,
		},
		Decoder: Decoder{
			Symbology:  defaultSymbology,
			TryHarder:  true,
			AutoRotate: false,
		},
		Session: Session{
			DrainPollIntervalMS: defaultDrainPollIntervalMS,
			StopTimeout:         defaultStopTimeout,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultHistoryRetention,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
