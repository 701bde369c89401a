// Package services defines shared utilities consumed by the capture session,
// the scanner service and the daemon.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, task IDs, device IDs, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so device failures,
//     protocol violations, and rejected requests can be told apart with
//     errors.Is regardless of how deeply they were wrapped.
//
// Use these helpers when wiring new components so operational behaviour
// (error classification, observability) stays uniform across the tool.
package services
