package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"atticqueue/internal/artifact"
	"atticqueue/internal/ingest"
	"atticqueue/internal/resolver"
	"atticqueue/internal/testsupport"
)

type recordingResolver struct {
	mu    sync.Mutex
	roots []artifact.Path
	fail  map[artifact.Path]error
}

func (r *recordingResolver) Resolve(_ context.Context, root artifact.Path) (resolver.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roots = append(r.roots, root)
	if err := r.fail[root]; err != nil {
		return resolver.Result{}, err
	}
	return resolver.Result{Root: root, ClosureSize: 1, Enqueued: 1}, nil
}

func (r *recordingResolver) Roots() []artifact.Path {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]artifact.Path(nil), r.roots...)
}

type harness struct {
	pipe     string
	resolver *recordingResolver
	local    *testsupport.FakeLocalStore
	cancel   context.CancelFunc
	done     chan error
}

func startListener(t *testing.T, pipe string) *harness {
	t.Helper()
	h := &harness{
		pipe:     pipe,
		resolver: &recordingResolver{fail: map[artifact.Path]error{}},
		local:    testsupport.NewFakeLocalStore(),
		done:     make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	listener := ingest.NewListener(pipe, h.resolver, h.local, nil)
	go func() { h.done <- listener.Listen(ctx) }()

	testsupport.Eventually(t, 2*time.Second, func() bool {
		info, err := os.Stat(pipe)
		return err == nil && info.Mode()&os.ModeNamedPipe != 0
	}, "queue pipe was not created at %s", pipe)

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Errorf("listener did not stop")
		}
	})
	return h
}

func (h *harness) write(t *testing.T, data string) {
	t.Helper()
	f, err := os.OpenFile(h.pipe, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open pipe for writing: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("write pipe: %v", err)
	}
}

func TestListenResolvesEachReference(t *testing.T) {
	h := startListener(t, filepath.Join(t.TempDir(), "queue.pipe"))
	a := testsupport.StorePath("a")
	b := testsupport.StorePath("b")
	c := testsupport.StorePath("c")
	for _, p := range []artifact.Path{a, b, c} {
		h.local.Add(p, nil)
	}

	h.write(t, a.String()+"\n\n"+b.String()+" "+c.String()+"/bin/tool\n")

	testsupport.Eventually(t, 2*time.Second, func() bool {
		return len(h.resolver.Roots()) == 3
	}, "expected three roots, got %v", h.resolver.Roots())

	roots := h.resolver.Roots()
	want := []artifact.Path{a, b, c}
	for i := range want {
		if roots[i] != want[i] {
			t.Fatalf("roots[%d] = %s, want %s", i, roots[i], want[i])
		}
	}
}

func TestListenSkipsMalformedAndFailingRecords(t *testing.T) {
	h := startListener(t, filepath.Join(t.TempDir(), "queue.pipe"))
	bad := testsupport.StorePath("bad")
	good := testsupport.StorePath("good")
	h.local.Add(bad, nil)
	h.local.Add(good, nil)
	h.resolver.mu.Lock()
	h.resolver.fail[bad] = errors.New("remote unavailable")
	h.resolver.mu.Unlock()

	h.write(t, "not-a-store-path\n/nix/store/short-name\n"+bad.String()+"\n")
	h.write(t, good.String()+"\n")

	testsupport.Eventually(t, 2*time.Second, func() bool {
		roots := h.resolver.Roots()
		return len(roots) == 2 && roots[1] == good
	}, "listener stopped processing after a bad record: %v", h.resolver.Roots())
}

func TestListenSkipsOversizedRecord(t *testing.T) {
	h := startListener(t, filepath.Join(t.TempDir(), "queue.pipe"))
	good := testsupport.StorePath("after-oversized")
	h.local.Add(good, nil)

	h.write(t, strings.Repeat("x", 2<<20)+"\n")
	h.write(t, good.String()+"\n")

	testsupport.Eventually(t, 5*time.Second, func() bool {
		roots := h.resolver.Roots()
		return len(roots) == 1 && roots[0] == good
	}, "record after an oversized one was not resolved: %v", h.resolver.Roots())

	select {
	case err := <-h.done:
		t.Fatalf("listener exited after an oversized record: %v", err)
	default:
	}
}

func TestListenReplacesStaleFile(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "run", "queue.pipe")
	if err := os.MkdirAll(filepath.Dir(pipe), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(pipe, []byte("stale"), 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	startListener(t, pipe)

	info, err := os.Stat(pipe)
	if err != nil {
		t.Fatalf("stat pipe: %v", err)
	}
	if info.Mode().Perm() != ingest.PipeMode {
		t.Fatalf("pipe mode = %o, want %o", info.Mode().Perm(), ingest.PipeMode)
	}
}

func TestListenReturnsNilOnCancel(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "queue.pipe")
	ctx, cancel := context.WithCancel(context.Background())
	listener := ingest.NewListener(pipe, &recordingResolver{}, testsupport.NewFakeLocalStore(), nil)
	done := make(chan error, 1)
	go func() { done <- listener.Listen(ctx) }()

	testsupport.Eventually(t, 2*time.Second, func() bool {
		_, err := os.Stat(pipe)
		return err == nil
	}, "queue pipe was not created")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Listen returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestListenFailsWhenPipeCannotBeCreated(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	listener := ingest.NewListener(filepath.Join(blocker, "queue.pipe"), &recordingResolver{}, testsupport.NewFakeLocalStore(), nil)
	if err := listener.Listen(context.Background()); err == nil {
		t.Fatal("expected an error when the pipe directory is a file")
	}
}
