// Package history persists decode results in SQLite.
//
// Every delivered result is stored with the session, device and task that
// produced it plus the VIN verdict computed downstream. The store applies
// embedded migrations on open, runs in WAL mode, and retries writes that
// hit SQLITE_BUSY with capped exponential backoff so the daemon and CLI can
// share one database file.
package history
