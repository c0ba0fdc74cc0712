// Package nixstore queries the local nix store through its command-line tools.
//
// Store resolves user references (for example ./result symlinks) to
// top-level store paths, computes runtime closures, reads path metadata
// including signatures, checks validity, and streams NAR serializations for
// upload. Path metadata is cached in a bounded LRU since store paths are
// immutable once valid.
package nixstore
