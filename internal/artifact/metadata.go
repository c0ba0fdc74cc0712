package artifact

import "strings"

// Metadata describes one artifact as reported by the local store.
type Metadata struct {
	Path       Path
	Deriver    string
	NarHash    string
	NarSize    int64
	References []Path
	Signatures []string
	CA         string
}

// SignedBy reports whether any signature was produced by one of the given key
// names. Signatures have the form "<key-name>:<base64>".
func (m Metadata) SignedBy(keyNames ...string) bool {
	for _, sig := range m.Signatures {
		name, _, ok := strings.Cut(strings.TrimSpace(sig), ":")
		if !ok {
			continue
		}
		for _, key := range keyNames {
			if name == strings.TrimSuffix(strings.TrimSpace(key), ":") {
				return true
			}
		}
	}
	return false
}
