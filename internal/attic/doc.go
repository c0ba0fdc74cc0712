// Package attic talks to an Attic binary cache server.
//
// Client implements the two calls the daemon needs: a batched query for
// store path hashes the cache does not hold yet, and a streaming upload of
// one path's NAR together with its metadata. Endpoint and token can be set
// directly or read from the attic client's own config file.
package attic
