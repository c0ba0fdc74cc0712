// Package workflow turns queued store entries into uploads.
//
// A Dispatcher waits on a coalescing Signal (and an optional rescan timer),
// snapshots the work store, and starts one Worker per queued entry while a
// weighted semaphore bounds concurrent uploads. Each Worker claims its entry
// with a compare-and-swap, so at most one worker uploads a given path even
// when scans overlap. Failed uploads go back to queued and wake the
// dispatcher again after the retry interval.
//
// Units of work are expressed as the closed Task union (ResolveTask and
// UploadTask) and run through an Executor, which the dispatcher and the
// control socket share.
package workflow
