// Package artifact models the content-addressed build outputs the daemon
// uploads: canonical store paths, their hash components, and the metadata the
// local store reports for them.
//
// Paths are compared by their normalized string form. The hash component of a
// path is what the remote cache is queried with, so callers that need to map
// remote answers back to paths should key by Hash.
package artifact
