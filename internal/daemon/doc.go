// Package daemon coordinates the long-running atticqueue process.
//
// It wires the work store, local store, remote cache, resolver, dispatcher
// and ingestion listener into a single lifecycle with flock-based locking to
// prevent multiple instances. Start runs boot recovery before the listener
// and dispatcher begin; the two loops then share an errgroup so a fatal
// failure in either stops both. The optional HTTP server exposes status,
// queue listings and Prometheus metrics.
//
// Keep orchestration logic here: the upload state machine lives in workflow
// and closure expansion in resolver.
package daemon
