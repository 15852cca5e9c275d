// Package fxcache obtains short, time-trimmed media clips
// and avoids fetching the same clip twice.
//
// A clip is identified by a MediaOrigin:
// a source locator (typically a URL),
// a start offset,
// and a length.
// Producing the clip's bytes is expensive:
// the whole source has to be downloaded by one external program
// and then trimmed and transcoded by another.
// That job is described by the Pipeline interface
// (see the ytdl subpackage for the subprocess implementation).
//
// Finished clips are kept in a Store,
// a create-once blob store addressed by the clip's Key.
// The Key is a SHA2-256 hash over a canonical encoding of the MediaOrigin,
// so two requests for the same clip always land on the same blob.
// Once a key has been written it never changes;
// a second write to the same key fails with ErrAlreadyExists.
//
// The cached subpackage ties these together.
// On a cache hit it serves the stored blob.
// On a miss it runs the pipeline once,
// streams the output to the caller as it is produced,
// and,
// using a tee.Registry,
// feeds a copy of the same bytes to a background task that writes them to the store.
//
// Store implementations live beneath the store subpackage:
// a file-per-key directory (the reference implementation),
// memory,
// SQLite,
// PostgreSQL,
// and Google Cloud Storage,
// plus decorators for LRU caching, logging, and compression.
package fxcache
