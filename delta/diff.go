package delta

// Diff computes the ordered set of invertible Ops that transform `from` into
// `to`. It walks both documents field by field the way
// nodestorage/v2/bsonpatch.go's processField/processStruct/processMap walk a
// struct, generalized to untyped maps and arrays since the engine's target
// collection is caller-defined rather than one fixed Go struct.
func Diff(from, to Document) *Delta {
	d := &Delta{}
	diffValue(Path{}, from, to, d)
	return d
}

func diffValue(path Path, from, to any, d *Delta) {
	if Equal(from, to) {
		return
	}

	fm, fromIsMap := asMap(from)
	tm, toIsMap := asMap(to)
	if fromIsMap && toIsMap {
		diffMap(path, fm, tm, d)
		return
	}

	fa, fromIsArray := asArray(from)
	ta, toIsArray := asArray(to)
	if fromIsArray && toIsArray {
		diffArray(path, fa, ta, d)
		return
	}

	// Kind mismatch or scalar change at a path that is present on both
	// sides (diffMap handles the absent-on-one-side cases itself before
	// ever calling into diffValue), so an explicit nil here is a real
	// value, not a stand-in for "the field doesn't exist": always a
	// present-to-present Set, never Unset.
	d.Ops = append(d.Ops, Op{Kind: OpSet, Path: path, Old: Clone(from), New: Clone(to), HadOld: true})
}

func diffMap(path Path, from, to map[string]any, d *Delta) {
	for k, fv := range from {
		tv, present := to[k]
		if !present {
			d.Ops = append(d.Ops, Op{Kind: OpUnset, Path: path.Append(Field(k)), Old: Clone(fv)})
			continue
		}
		diffValue(path.Append(Field(k)), fv, tv, d)
	}
	for k, tv := range to {
		if _, present := from[k]; !present {
			d.Ops = append(d.Ops, Op{Kind: OpSet, Path: path.Append(Field(k)), New: Clone(tv)})
		}
	}
}

// diffArray diffs element-by-element over the shared prefix, then emits
// Insert ops for a longer `to` or Remove ops for a longer `from`. This keeps
// the delta small for the common append/truncate case while staying correct
// for arbitrary element-wise replacement.
func diffArray(path Path, from, to []any, d *Delta) {
	common := len(from)
	if len(to) < common {
		common = len(to)
	}
	for i := 0; i < common; i++ {
		diffValue(path.Append(Elem(i)), from[i], to[i], d)
	}
	switch {
	case len(to) > len(from):
		for i := len(from); i < len(to); i++ {
			d.Ops = append(d.Ops, Op{Kind: OpInsert, Path: path.Append(Elem(i)), New: Clone(to[i])})
		}
	case len(from) > len(to):
		for i := len(from) - 1; i >= len(to); i-- {
			d.Ops = append(d.Ops, Op{Kind: OpRemove, Path: path.Append(Elem(i)), Old: Clone(from[i])})
		}
	}
}
