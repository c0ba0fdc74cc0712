// Package preflight provides readiness checks for the local tools, paths and
// remote cache atticqueue depends on.
//
// These checks run in two contexts:
//   - The daemon logs a dependency snapshot at startup so a missing nix
//     binary or unreachable cache shows up before the first upload fails.
//   - The CLI "atticqueue status" command falls back to RunAll when the
//     daemon is not running, to explain why.
package preflight
