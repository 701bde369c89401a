// Package daemonctl lets the CLI reach and manage the vinscan daemon over its
// HTTP API: launching it detached, waiting for readiness, driving capture
// sessions and terminating it.
package daemonctl
