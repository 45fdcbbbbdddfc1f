package testsupport

import (
	"testing"

	"crest/internal/config"
	"crest/internal/ledger"
	"crest/internal/rescan"
)

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenRescanStore opens a rescan.Store for tests and registers cleanup.
func MustOpenRescanStore(t testing.TB, cfg *config.Config) *rescan.Store {
	t.Helper()

	store, err := rescan.OpenStore(cfg)
	if err != nil {
		t.Fatalf("rescan.OpenStore: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
