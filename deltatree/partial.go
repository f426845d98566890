// Package deltatree reconstructs, for one document and one log-tree path,
// the partial delta tree needed to compose a single delta spanning that
// path (spec §4.4). Grounded on luvjson/crdtpatch's patch/operations shape
// (a patch is an ordered list of operations applied against a document
// state) generalized to the delta codec's invertible per-version deltas,
// and on the delta codec's own Compose for the actual composition step.
package deltatree

import (
	"context"
	"fmt"

	"nodestorage/vcs/delta"
	"nodestorage/vcs/logtree"
	"nodestorage/vcs/store"
)

// node is one delta in the per-document forest, with its version for
// ordering against the log path.
type node struct {
	record store.DeltaRecord
	delta  *delta.Delta
}

// Partial is the reconstructed delta forest for one document, scoped to
// whatever versions were fetched for a particular checkout/diff call.
type Partial struct {
	documentID string
	byVersion  map[store.Version]*node
}

// Build fetches every delta recorded for documentID and decodes it. Composed
// walks a log-tree path directly against byVersion, so gaps left by a
// document's disconnected delta subtrees (spec §4.4 step 3) need no explicit
// joining: a path position this document has no delta for is simply skipped.
func Build(ctx context.Context, deltas *store.DeltaStore, documentID string) (*Partial, error) {
	records, err := deltas.ForDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	p := &Partial{
		documentID: documentID,
		byVersion:  map[store.Version]*node{},
	}
	for _, r := range records {
		d, err := delta.Unmarshal(r.Forward)
		if err != nil {
			return nil, fmt.Errorf("deltatree: decode forward delta %s: %w", r.ID, err)
		}
		p.byVersion[r.Version()] = &node{record: r, delta: d}
	}
	return p, nil
}

// Composed returns the single delta that transforms the document's state at
// the start of path into its state at the end, by walking path in order and
// composing forward/backward deltas for this document, skipping positions
// where the document has no delta (spec §4.4 step 4). ok is false if the
// document has no delta anywhere on path (it is unchanged by the
// transition).
func (p *Partial) Composed(tree *logtree.Tree, path []logtree.Step) (*delta.Delta, bool) {
	var composed *delta.Delta
	found := false
	for _, step := range path {
		n, ok := p.byVersion[step.Version]
		if !ok {
			continue
		}
		var stepDelta *delta.Delta
		if step.Direction == logtree.Forward {
			stepDelta = n.delta
		} else {
			stepDelta = n.delta.Invert()
		}
		if composed == nil {
			composed = stepDelta
		} else {
			composed = delta.Compose(composed, stepDelta)
		}
		found = true
	}
	return composed, found
}
