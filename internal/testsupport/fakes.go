package testsupport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"atticqueue/internal/artifact"
	"atticqueue/internal/nixstore"
)

// FakeLocalStore is an in-memory stand-in for the nix store. Closures are
// derived from registered references.
type FakeLocalStore struct {
	mu       sync.Mutex
	paths    map[artifact.Path]artifact.Metadata
	validErr map[artifact.Path]error
	infoErr  map[artifact.Path]error
	closeErr map[artifact.Path]error
	infoHits map[artifact.Path]int
}

// NewFakeLocalStore returns an empty fake store.
func NewFakeLocalStore() *FakeLocalStore {
	return &FakeLocalStore{
		paths:    make(map[artifact.Path]artifact.Metadata),
		validErr: make(map[artifact.Path]error),
		infoErr:  make(map[artifact.Path]error),
		closeErr: make(map[artifact.Path]error),
		infoHits: make(map[artifact.Path]int),
	}
}

// Add registers path with the given references and signatures.
func (f *FakeLocalStore) Add(path artifact.Path, references []artifact.Path, signatures ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[path] = artifact.Metadata{
		Path:       path,
		NarHash:    "sha256:" + string(path.Hash()),
		NarSize:    int64(len(path)),
		References: append([]artifact.Path(nil), references...),
		Signatures: append([]string(nil), signatures...),
	}
}

// Delete simulates garbage collection of path.
func (f *FakeLocalStore) Delete(path artifact.Path) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.paths, path)
}

// FailValidity makes IsValid return err for path.
func (f *FakeLocalStore) FailValidity(path artifact.Path, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validErr[path] = err
}

// FailPathInfo makes PathInfo return err for path.
func (f *FakeLocalStore) FailPathInfo(path artifact.Path, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoErr[path] = err
}

// FailClosure makes ComputeClosure return err for root.
func (f *FakeLocalStore) FailClosure(root artifact.Path, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeErr[root] = err
}

// PathInfoCalls reports how often PathInfo was called for path.
func (f *FakeLocalStore) PathInfoCalls(path artifact.Path) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infoHits[path]
}

// FollowStorePath resolves ref to a registered top-level path.
func (f *FakeLocalStore) FollowStorePath(_ context.Context, ref string) (artifact.Path, error) {
	path, err := artifact.TrimToStorePath(artifact.DefaultStoreDir, ref)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.paths[path]; !ok {
		return "", fmt.Errorf("%w: %s", nixstore.ErrNotFound, path)
	}
	return path, nil
}

// ComputeClosure walks references from root. The root is always first.
func (f *FakeLocalStore) ComputeClosure(_ context.Context, root artifact.Path) ([]artifact.Path, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.closeErr[root]; err != nil {
		return nil, err
	}
	if _, ok := f.paths[root]; !ok {
		return nil, fmt.Errorf("%w: %s", nixstore.ErrNotFound, root)
	}
	seen := map[artifact.Path]struct{}{root: {}}
	out := []artifact.Path{root}
	for i := 0; i < len(out); i++ {
		for _, ref := range f.paths[out[i]].References {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	}
	return out, nil
}

// PathInfo returns the registered metadata for path.
func (f *FakeLocalStore) PathInfo(_ context.Context, path artifact.Path) (artifact.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoHits[path]++
	if err := f.infoErr[path]; err != nil {
		return artifact.Metadata{}, err
	}
	meta, ok := f.paths[path]
	if !ok {
		return artifact.Metadata{}, fmt.Errorf("%w: %s", nixstore.ErrNotFound, path)
	}
	return meta, nil
}

// IsValid reports whether path is registered.
func (f *FakeLocalStore) IsValid(_ context.Context, path artifact.Path) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.validErr[path]; err != nil {
		return false, err
	}
	_, ok := f.paths[path]
	return ok, nil
}

// NAR returns a small deterministic archive body for path.
func (f *FakeLocalStore) NAR(_ context.Context, path artifact.Path) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.paths[path]; !ok {
		return nil, fmt.Errorf("%w: %s", nixstore.ErrNotFound, path)
	}
	return io.NopCloser(strings.NewReader("nar:" + path.String())), nil
}

// FakeCache is an in-memory remote cache that records uploads and can be
// told to fail.
type FakeCache struct {
	mu          sync.Mutex
	present     map[artifact.Hash]struct{}
	uploads     map[artifact.Path]int
	failures    map[artifact.Path]int
	missingErr  error
	missingHits int
	inflight    int
	maxInflight int
	delay       time.Duration
	gate        chan struct{}
}

// NewFakeCache returns an empty remote cache.
func NewFakeCache() *FakeCache {
	return &FakeCache{
		present:  make(map[artifact.Hash]struct{}),
		uploads:  make(map[artifact.Path]int),
		failures: make(map[artifact.Path]int),
	}
}

// Seed marks paths as already present remotely.
func (c *FakeCache) Seed(paths ...artifact.Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		c.present[p.Hash()] = struct{}{}
	}
}

// FailUploads makes the next n uploads of path fail.
func (c *FakeCache) FailUploads(path artifact.Path, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[path] = n
}

// FailMissing makes GetMissingPaths return err until cleared with nil.
func (c *FakeCache) FailMissing(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missingErr = err
}

// SetUploadDelay makes every upload sleep for d.
func (c *FakeCache) SetUploadDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// Block holds every upload until the returned release func is called.
func (c *FakeCache) Block() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// GetMissingPaths returns the hashes not yet present.
func (c *FakeCache) GetMissingPaths(ctx context.Context, _ string, hashes []artifact.Hash) ([]artifact.Hash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missingHits++
	if c.missingErr != nil {
		return nil, c.missingErr
	}
	missing := make([]artifact.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := c.present[h]; !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// UploadPath records an upload, honouring injected failures and delays.
func (c *FakeCache) UploadPath(ctx context.Context, meta artifact.Metadata) error {
	c.mu.Lock()
	c.inflight++
	if c.inflight > c.maxInflight {
		c.maxInflight = c.inflight
	}
	delay, gate := c.delay, c.gate
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.failures[meta.Path]; n > 0 {
		c.failures[meta.Path] = n - 1
		return fmt.Errorf("upload %s: injected failure", meta.Path)
	}
	c.uploads[meta.Path]++
	c.present[meta.Path.Hash()] = struct{}{}
	return nil
}

// Uploads returns the number of successful uploads of path.
func (c *FakeCache) Uploads(path artifact.Path) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploads[path]
}

// UploadedPaths returns every path uploaded at least once.
func (c *FakeCache) UploadedPaths() []artifact.Path {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]artifact.Path, 0, len(c.uploads))
	for p := range c.uploads {
		out = append(out, p)
	}
	return out
}

// MissingCalls reports how many times GetMissingPaths was called.
func (c *FakeCache) MissingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missingHits
}

// MaxInflight reports the highest number of concurrent uploads observed.
func (c *FakeCache) MaxInflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInflight
}
