// Package logging builds slog loggers for the daemon and CLI.
//
// Two output formats are supported: a console format that puts the component
// and store path subject up front, and a JSON format for log shippers. Helpers
// in this package standardize field names (component, artifact, event_type,
// error_hint, impact) so that warnings always say what happened, what it
// affects, and what to try next.
package logging
