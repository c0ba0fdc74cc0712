package nixstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"atticqueue/internal/artifact"
)

// pathInfoJSON covers both layouts printed by `nix path-info --json`: the
// legacy array of objects carrying "path", and the newer object keyed by path.
type pathInfoJSON struct {
	Path       string   `json:"path"`
	Valid      *bool    `json:"valid"`
	Deriver    string   `json:"deriver"`
	NarHash    string   `json:"narHash"`
	NarSize    int64    `json:"narSize"`
	References []string `json:"references"`
	Signatures []string `json:"signatures"`
	CA         string   `json:"ca"`
}

func decodePathInfo(storeDir string, path artifact.Path, data []byte) (artifact.Metadata, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return artifact.Metadata{}, fmt.Errorf("path info %s: empty output", path)
	}

	var info *pathInfoJSON
	switch data[0] {
	case '[':
		var list []pathInfoJSON
		if err := json.Unmarshal(data, &list); err != nil {
			return artifact.Metadata{}, fmt.Errorf("decode path info %s: %w", path, err)
		}
		for i := range list {
			if list[i].Path == path.String() {
				info = &list[i]
				break
			}
		}
	case '{':
		var byPath map[string]*pathInfoJSON
		if err := json.Unmarshal(data, &byPath); err != nil {
			return artifact.Metadata{}, fmt.Errorf("decode path info %s: %w", path, err)
		}
		entry, ok := byPath[path.String()]
		if !ok {
			return artifact.Metadata{}, fmt.Errorf("path info %s: missing from output", path)
		}
		info = entry
	default:
		return artifact.Metadata{}, fmt.Errorf("path info %s: unexpected output %q", path, truncate(data, 64))
	}

	if info == nil || (info.Valid != nil && !*info.Valid) {
		return artifact.Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	meta := artifact.Metadata{
		Path:       path,
		Deriver:    info.Deriver,
		NarHash:    info.NarHash,
		NarSize:    info.NarSize,
		Signatures: info.Signatures,
		CA:         info.CA,
	}
	for _, ref := range info.References {
		// Newer nix prints references as base names.
		if !strings.HasPrefix(ref, "/") {
			ref = storeDir + "/" + ref
		}
		parsed, err := artifact.ParsePath(storeDir, ref)
		if err != nil {
			return artifact.Metadata{}, fmt.Errorf("path info %s: reference: %w", path, err)
		}
		meta.References = append(meta.References, parsed)
	}
	if meta.Deriver != "" && !strings.HasPrefix(meta.Deriver, "/") {
		meta.Deriver = storeDir + "/" + meta.Deriver
	}
	return meta, nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
