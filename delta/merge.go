package delta

import "sort"

// MergeResult reports the outcome of a three-way merge: the merged document,
// the paths where both sides changed incompatibly (conflicts), and the set
// of paths that changed on exactly one side, tagged with which side won —
// needed by resolve_conflicts to explain a non-conflicting field's value and
// by any external diff rendering.
type MergeResult struct {
	Merged    Document
	Conflicts []string
	Resolved  map[string]string // path -> "dest" | "source"
}

// ThreeWayMerge merges dest and source against their common ancestor base,
// field by field. A field changed identically on both sides (or changed on
// only one side) merges cleanly; a field changed differently on both sides
// is recorded as a conflict and dest's value is kept in Merged so the
// caller has a concrete starting point to present and resolve explicitly,
// per the classify-then-reconcile shape in other_examples' amberpixels-pho
// change.go (Added/Updated/Deleted/Noop) generalized to a pairwise
// base/dest/source compare.
func ThreeWayMerge(base, dest, source Document) MergeResult {
	baseToDest := Diff(base, dest)
	baseToSource := Diff(base, source)

	destByPath := opsByPath(baseToDest)
	sourceByPath := opsByPath(baseToSource)

	paths := map[string]struct{}{}
	for p := range destByPath {
		paths[p] = struct{}{}
	}
	for p := range sourceByPath {
		paths[p] = struct{}{}
	}

	merged, ok := asMap(Clone(base))
	if !ok {
		merged = Document{}
	}

	result := MergeResult{Resolved: map[string]string{}}
	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}
	sort.Strings(ordered)

	for _, p := range ordered {
		dOp, hasDest := destByPath[p]
		sOp, hasSource := sourceByPath[p]

		switch {
		case hasDest && hasSource:
			applyOutcome(merged, dOp)
			if sameOutcome(dOp, sOp) {
				result.Resolved[p] = "dest"
				continue
			}
			result.Conflicts = append(result.Conflicts, p)
		case hasDest:
			applyOutcome(merged, dOp)
			result.Resolved[p] = "dest"
		case hasSource:
			applyOutcome(merged, sOp)
			result.Resolved[p] = "source"
		}
	}

	result.Merged = merged
	return result
}

func opsByPath(d *Delta) map[string]Op {
	out := map[string]Op{}
	if d == nil {
		return out
	}
	for _, op := range d.Ops {
		out[op.Path.String()] = op
	}
	return out
}

func sameOutcome(a, b Op) bool {
	if a.Kind != b.Kind {
		return false
	}
	return Equal(a.New, b.New)
}

func applyOutcome(doc map[string]any, op Op) {
	switch op.Kind {
	case OpSet:
		_ = set(doc, op.Path, Clone(op.New))
	case OpUnset:
		_ = unset(doc, op.Path)
	case OpInsert:
		_ = insertElem(doc, op.Path, Clone(op.New))
	case OpRemove:
		_ = removeElem(doc, op.Path)
	}
}
