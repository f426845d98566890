package vcs

import (
	"context"

	"nodestorage/vcs/delta"
)

// Resolver is the external three-way merge tool's capability interface,
// per spec §4.8's resolve_conflicts and §9's "abstracted behind a Resolver
// capability invoked with three serialized documents; any implementation —
// GUI or headless — satisfies the contract." Concrete implementations live
// in package resolver (Exec shells out to a binary; Func adapts an
// in-process function for tests).
type Resolver interface {
	// Resolve is invoked once per conflicted document with the destination,
	// source, and the delta codec's best-effort merge (which already
	// carries the dest value at conflicted fields, per spec §4.1). It
	// returns the caller's resolved document and ok=true, or ok=false if
	// the tool didn't complete (closed without save), which aborts this
	// document's resolution without advancing.
	Resolve(ctx context.Context, destination, source, merged delta.Document) (resolved delta.Document, ok bool, err error)
}
