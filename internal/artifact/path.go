package artifact

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultStoreDir is the conventional location of the local store.
const DefaultStoreDir = "/nix/store"

// HashLength is the length of the nix-base32 hash prefix of a store path name.
const HashLength = 32

const hashAlphabet = "0123456789abcdfghijklmnpqrsvwxyz"

// ErrMalformedPath reports a reference that is not a well-formed store path.
var ErrMalformedPath = errors.New("malformed store path")

// Path is the canonical absolute identifier of one artifact,
// e.g. /nix/store/<hash>-<name>.
type Path string

// Hash is the content-hash component of a Path.
type Hash string

// ParsePath validates value as a top-level store path under storeDir and
// returns its canonical form. Paths pointing inside an artifact are rejected;
// use TrimToStorePath for those.
func ParsePath(storeDir, value string) (Path, error) {
	storeDir = normalizeStoreDir(storeDir)
	cleaned := filepath.Clean(strings.TrimSpace(value))
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: %q is not absolute", ErrMalformedPath, value)
	}
	rel, ok := strings.CutPrefix(cleaned, storeDir+"/")
	if !ok || rel == "" {
		return "", fmt.Errorf("%w: %q is not under %s", ErrMalformedPath, value, storeDir)
	}
	if strings.Contains(rel, "/") {
		return "", fmt.Errorf("%w: %q is not a top-level store path", ErrMalformedPath, value)
	}
	if err := validateBaseName(rel); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformedPath, value, err)
	}
	return Path(cleaned), nil
}

// TrimToStorePath returns the top-level store path containing value, which may
// name a file inside an artifact.
func TrimToStorePath(storeDir, value string) (Path, error) {
	storeDir = normalizeStoreDir(storeDir)
	cleaned := filepath.Clean(strings.TrimSpace(value))
	rel, ok := strings.CutPrefix(cleaned, storeDir+"/")
	if !ok || rel == "" {
		return "", fmt.Errorf("%w: %q is not under %s", ErrMalformedPath, value, storeDir)
	}
	top, _, _ := strings.Cut(rel, "/")
	return ParsePath(storeDir, storeDir+"/"+top)
}

// String returns the path as a plain string.
func (p Path) String() string {
	return string(p)
}

// Base returns the final element, <hash>-<name>.
func (p Path) Base() string {
	return filepath.Base(string(p))
}

// Hash returns the hash component of the path, or "" when the path is malformed.
func (p Path) Hash() Hash {
	base := p.Base()
	if len(base) < HashLength {
		return ""
	}
	return Hash(base[:HashLength])
}

// Name returns the human-readable part of the path after the hash.
func (p Path) Name() string {
	base := p.Base()
	if len(base) <= HashLength+1 {
		return ""
	}
	return base[HashLength+1:]
}

// Dedup returns paths with duplicates removed, preserving first-seen order.
func Dedup(paths []Path) []Path {
	seen := make(map[Path]struct{}, len(paths))
	out := make([]Path, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func validateBaseName(base string) error {
	if len(base) < HashLength+2 {
		return errors.New("name too short")
	}
	if base[HashLength] != '-' {
		return errors.New("missing separator after hash")
	}
	for i := 0; i < HashLength; i++ {
		if !strings.ContainsRune(hashAlphabet, rune(base[i])) {
			return fmt.Errorf("invalid hash character %q", base[i])
		}
	}
	return nil
}

func normalizeStoreDir(storeDir string) string {
	storeDir = strings.TrimSpace(storeDir)
	if storeDir == "" {
		return DefaultStoreDir
	}
	return strings.TrimRight(filepath.Clean(storeDir), "/")
}
