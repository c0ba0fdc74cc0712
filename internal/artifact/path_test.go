package artifact_test

import (
	"errors"
	"testing"

	"atticqueue/internal/artifact"
)

const samplePath = "/nix/store/0123456789abcdfghijklmnpqrsvwxyz-hello-2.12"

func TestParsePath(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    artifact.Path
		wantErr bool
	}{
		{"canonical", samplePath, artifact.Path(samplePath), false},
		{"trailing slash and spaces", "  " + samplePath + "/ ", artifact.Path(samplePath), false},
		{"relative", "nix/store/0123456789abcdfghijklmnpqrsvwxyz-hello", "", true},
		{"outside store", "/tmp/0123456789abcdfghijklmnpqrsvwxyz-hello", "", true},
		{"nested", samplePath + "/bin/hello", "", true},
		{"bad alphabet", "/nix/store/e123456789abcdfghijklmnpqrsvwxyz-hello", "", true},
		{"missing name", "/nix/store/0123456789abcdfghijklmnpqrsvwxyz", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := artifact.ParsePath("/nix/store", tc.input)
			if tc.wantErr {
				if !errors.Is(err, artifact.ErrMalformedPath) {
					t.Fatalf("expected ErrMalformedPath, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePath returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestTrimToStorePath(t *testing.T) {
	got, err := artifact.TrimToStorePath("", samplePath+"/bin/hello")
	if err != nil {
		t.Fatalf("TrimToStorePath returned error: %v", err)
	}
	if got != artifact.Path(samplePath) {
		t.Fatalf("got %q", got)
	}
}

func TestPathComponents(t *testing.T) {
	p := artifact.Path(samplePath)
	if p.Hash() != "0123456789abcdfghijklmnpqrsvwxyz" {
		t.Fatalf("unexpected hash %q", p.Hash())
	}
	if p.Name() != "hello-2.12" {
		t.Fatalf("unexpected name %q", p.Name())
	}
}

func TestDedupPreservesOrder(t *testing.T) {
	in := []artifact.Path{"/a", "/b", "/a", "/c", "/b"}
	got := artifact.Dedup(in)
	want := []artifact.Path{"/a", "/b", "/c"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestMetadataSignedBy(t *testing.T) {
	meta := artifact.Metadata{Signatures: []string{"my-cache-1:AAAA", "cache.nixos.org-1:BBBB"}}
	if !meta.SignedBy("cache.nixos.org-1") {
		t.Fatal("expected trusted signature to match")
	}
	if !meta.SignedBy("cache.nixos.org-1:") {
		t.Fatal("expected trailing colon in key name to be tolerated")
	}
	if meta.SignedBy("other-1") {
		t.Fatal("unexpected match for unrelated key")
	}
	if (artifact.Metadata{}).SignedBy("cache.nixos.org-1") {
		t.Fatal("unsigned metadata must not match")
	}
}
