// Package transfer moves payloads to the resource API. It owns the choice
// between a single-request direct upload and a chunked, resumable tus upload,
// drives each strategy to completion with progress reporting, and tracks
// every submission through a small state machine (pending, in flight,
// succeeded, conflicted, failed, aborted).
//
// Resumable sessions are persisted in a SQLite SessionStore so an interrupted
// upload of the same payload to the same path continues from the offset the
// server acknowledged instead of starting over.
package transfer
