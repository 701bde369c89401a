// Package daemon coordinates the long-running vinscan process.
//
// It wires configuration, the history store, the scanner service and the
// device hotplug watcher into a single lifecycle with flock-based locking to
// prevent multiple instances. The HTTP API and the websocket result stream
// live here too.
//
// Keep orchestration logic here: capture and decode behavior belongs to the
// session and scanner packages.
package daemon
