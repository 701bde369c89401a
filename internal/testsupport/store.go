package testsupport

import (
	"context"
	"testing"

	"vinscan/internal/config"
	"vinscan/internal/history"
)

// MustOpenStore opens a history.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RecordScan stores a result for tests using the provided store.
func RecordScan(t testing.TB, store *history.Store, scan history.Scan) history.Scan {
	t.Helper()

	stored, err := store.Record(context.Background(), scan)
	if err != nil {
		t.Fatalf("store.Record: %v", err)
	}
	return stored
}
