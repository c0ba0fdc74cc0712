package daemon_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"atticqueue/internal/api"
	"atticqueue/internal/config"
	"atticqueue/internal/queue"
	"atticqueue/internal/testsupport"
)

func withMetricsEnabled() testsupport.ConfigOption {
	return testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Metrics.Enabled = true
	})
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHTTPServerEndpoints(t *testing.T) {
	f := newFixture(t, withMetricsEnabled())
	queued := testsupport.StorePath("waiting")
	f.local.Add(queued, nil)
	release := f.cache.Block()
	defer release()
	testsupport.MustPut(t, f.store, queued, queue.StateQueued)

	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	addr := f.daemon.HTTPAddr()
	if addr == "" {
		t.Fatal("expected the http server to be bound")
	}
	base := "http://" + addr

	var status api.DaemonStatus
	if code := getJSON(t, base+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status endpoint returned %d", code)
	}
	if !status.Running || status.Cache != "test" || status.StoreBackend != f.cfg.Store.Backend {
		t.Fatalf("unexpected status payload: %+v", status)
	}

	var list api.QueueListResponse
	if code := getJSON(t, base+"/api/queue", &list); code != http.StatusOK {
		t.Fatalf("queue endpoint returned %d", code)
	}
	if len(list.Entries) != 1 || list.Entries[0].Path != queued.String() {
		t.Fatalf("unexpected queue payload: %+v", list)
	}

	var stats api.QueueStatsResponse
	if code := getJSON(t, base+"/api/queue/stats", &stats); code != http.StatusOK {
		t.Fatalf("stats endpoint returned %d", code)
	}
	if stats.Stats.Total != 1 {
		t.Fatalf("unexpected stats payload: %+v", stats)
	}

	if code := getJSON(t, base+"/api/queue?state=bogus", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", code)
	}

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "atticqueue_") {
		t.Fatalf("metrics output missing atticqueue series:\n%s", body)
	}

	resp, err = http.Post(base+"/api/wake", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/wake: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("wake returned %d", resp.StatusCode)
	}
}

func TestHTTPServerDisabledByDefault(t *testing.T) {
	f := newFixture(t)
	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if addr := f.daemon.HTTPAddr(); addr != "" {
		t.Fatalf("expected no http server, got %s", addr)
	}
}
