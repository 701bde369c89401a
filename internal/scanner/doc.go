// Package scanner runs capture sessions on behalf of the daemon.
//
// A Scanner owns at most one session at a time. Results arrive on a shared
// owner loop, are checked with the VIN validator, written to the history
// store and published to subscribers such as the websocket stream.
package scanner
