// Package config loads, normalizes, and validates vinscan configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// VINSCAN_DEVICE and VINSCAN_API_TOKEN. The Config type centralizes every knob
// the capture session, daemon, and CLI need so that devices, decoder options,
// and drain timing are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
