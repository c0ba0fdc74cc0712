package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"atticqueue/internal/attic"
	"atticqueue/internal/config"
	"atticqueue/internal/deps"
)

const cacheCheckName = "Attic cache"

// CheckCache verifies the cache exists and the token may read it.
// It uses a 5-second timeout and a single attempt.
func CheckCache(ctx context.Context, endpoint, token, cache string) Result {
	base := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if base == "" {
		return Result{Name: cacheCheckName, Detail: "missing endpoint"}
	}
	if strings.TrimSpace(cache) == "" {
		return Result{Name: cacheCheckName, Detail: "missing cache name"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/_api/v1/cache-config/"+url.PathEscape(cache), nil)
	if err != nil {
		return Result{Name: cacheCheckName, Detail: fmt.Sprintf("check failed (%v)", err)}
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: cacheCheckName, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Name: cacheCheckName, Passed: true, Detail: fmt.Sprintf("%s reachable", cache)}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: cacheCheckName, Detail: "auth failed (invalid or missing token)"}
	case http.StatusNotFound:
		return Result{Name: cacheCheckName, Detail: fmt.Sprintf("cache %q not found", cache)}
	default:
		return Result{Name: cacheCheckName, Detail: fmt.Sprintf("check failed (%d)", resp.StatusCode)}
	}
}

// CheckCacheFromConfig resolves the endpoint the way the daemon does and
// checks it.
func CheckCacheFromConfig(ctx context.Context, cfg *config.Config) Result {
	if cfg == nil {
		return Result{Name: cacheCheckName, Detail: "Unknown"}
	}
	client, err := attic.NewFromConfig(cfg, nil)
	if err != nil {
		return Result{Name: cacheCheckName, Detail: err.Error()}
	}
	return CheckCache(ctx, client.Endpoint(), client.Token(), client.Cache())
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps probes the nix binaries the daemon shells out to.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	return deps.Probe(ctx, []deps.Binary{
		{
			Name:        "nix-store",
			Command:     cfg.Nix.NixStoreBinary,
			Purpose:     "closures, validity checks and NAR export",
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "nix",
			Command:     cfg.Nix.NixBinary,
			Purpose:     "path-info signatures",
			VersionArgs: []string{"--version"},
		},
	})
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (cache unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (cache unreachable)"
	}
	return fmt.Sprintf("check failed (%v)", err)
}
