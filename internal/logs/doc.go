// Package logs reads the daemon log for `vinscan logs`.
//
// Last returns the final lines of a file with bounded memory. Follow then
// polls from the returned offset and restarts from the top when the file is
// replaced or truncated, which happens each time the daemon starts a new run.
package logs
