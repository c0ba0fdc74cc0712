package testsupport

import (
	"context"
	"crypto/sha256"
	"testing"

	"atticqueue/internal/artifact"
	"atticqueue/internal/config"
	"atticqueue/internal/queue"
)

const nixBase32 = "0123456789abcdfghijklmnpqrsvwxyz"

// StorePath derives a well-formed store path for name. The hash component is
// stable for a given name.
func StorePath(name string) artifact.Path {
	sum := sha256.Sum256([]byte(name))
	hash := make([]byte, artifact.HashLength)
	for i := range hash {
		hash[i] = nixBase32[int(sum[i])%len(nixBase32)]
	}
	return artifact.Path(artifact.DefaultStoreDir + "/" + string(hash) + "-" + name)
}

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustPut writes state for path or fails the test.
func MustPut(t testing.TB, store queue.Store, path artifact.Path, state queue.State) {
	t.Helper()

	if err := store.Put(context.Background(), path, state); err != nil {
		t.Fatalf("store.Put(%s, %s): %v", path, state, err)
	}
}

// MustState returns the stored state for path or fails the test.
func MustState(t testing.TB, store queue.Store, path artifact.Path) queue.State {
	t.Helper()

	state, err := store.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("store.Get(%s): %v", path, err)
	}
	return state
}

// Backends lists the store backends shared test suites run against.
var Backends = []string{config.BackendSQLite, config.BackendBadger}
