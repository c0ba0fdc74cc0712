package deps

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeStub(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	versioned := writeStub(t, dir, "nix-store", "#!/bin/sh\necho 'nix-store (Nix) 2.24.9'\necho extra\n")
	broken := writeStub(t, dir, "nix", "#!/bin/sh\nexit 3\n")

	results := Probe(context.Background(), []Binary{
		{Name: "nix-store", Command: versioned, VersionArgs: []string{"--version"}},
		{Name: "nix", Command: broken, VersionArgs: []string{"--version"}},
		{Name: "missing", Command: "clearly-not-present-binary"},
		{Name: "unset", Command: "  "},
	})
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	tests := []struct {
		idx       int
		available bool
		version   string
		detail    string
	}{
		{idx: 0, available: true, version: "nix-store (Nix) 2.24.9"},
		{idx: 1, available: true, detail: "version probe failed"},
		{idx: 2, available: false, detail: `binary "clearly-not-present-binary" not found`},
		{idx: 3, available: false, detail: "command not configured"},
	}
	for _, tt := range tests {
		got := results[tt.idx]
		if got.Available != tt.available || got.Version != tt.version {
			t.Fatalf("result %d = %#v", tt.idx, got)
		}
		if tt.detail == "" && got.Detail != "" {
			t.Fatalf("result %d: unexpected detail %q", tt.idx, got.Detail)
		}
		if !strings.Contains(got.Detail, tt.detail) {
			t.Fatalf("result %d: detail %q does not mention %q", tt.idx, got.Detail, tt.detail)
		}
	}
	if results[0].Path != versioned {
		t.Fatalf("path = %q, want %q", results[0].Path, versioned)
	}
}
