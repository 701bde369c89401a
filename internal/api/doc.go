// Package api defines wire-format types shared by the daemon HTTP server and
// its client. It translates scanner, session, history and device models into
// transport-friendly DTOs.
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Stream messages carry a type discriminator so consumers can switch on it
// without decoding the payload twice.
package api
