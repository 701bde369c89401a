package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateDecoder(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.DeviceIndex < 0 {
		return errors.New("capture.device_index must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"capture.width":           c.Capture.Width,
		"capture.height":          c.Capture.Height,
		"capture.frame_rate":      c.Capture.FrameRate,
		"capture.start_timeout":   c.Capture.StartTimeout,
		"capture.capture_timeout": c.Capture.CaptureTimeout,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDecoder() error {
	if c.Decoder.Symbology != defaultSymbology {
		return fmt.Errorf("decoder.symbology: unsupported value %q (only %q is supported)", c.Decoder.Symbology, defaultSymbology)
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.MaxWorkers < 0 {
		return errors.New("session.max_workers must be >= 0 (0 means unbounded)")
	}
	return ensurePositiveMap(map[string]int{
		"session.drain_poll_interval_ms": c.Session.DrainPollIntervalMS,
		"session.stop_timeout":           c.Session.StopTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	if c.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
