// Package docstore is a durable JSON document store for single-process
// applications that keep their mutable state as individual files on disk.
//
// Every document is a path-addressed JSON value (object or array). The store
// guarantees that:
//
//   - a reader never observes a partially written document: writes go to a
//     sibling temp file and are renamed into place ([Store.Save])
//   - concurrent operations on the same document are serialized by a per-path
//     lock registry, while unrelated documents never block each other
//   - an unreadable document is quarantined for forensics and replaced with a
//     caller-supplied default instead of crashing the caller ([Store.Load])
//   - the whole document tree can be captured into versioned tar.gz snapshots
//     and restored from them ([Store.CreateSnapshot], [Store.Restore])
//
// The store is not a database: there are no cross-document transactions, no
// queries, and no replication. The file itself is the source of truth; no
// content is cached between calls.
package docstore
