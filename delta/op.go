package delta

import "fmt"

// OpKind discriminates the kind of edit an Op performs.
type OpKind int

const (
	// OpSet assigns Path to New, creating intermediate maps as needed.
	OpSet OpKind = iota
	// OpUnset removes the field at Path.
	OpUnset
	// OpInsert inserts New at the array index named by the last Path segment,
	// shifting existing elements from that index onward.
	OpInsert
	// OpRemove removes the array element at the index named by the last Path
	// segment, shifting later elements back.
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpUnset:
		return "unset"
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Op is a single invertible edit against a canonical document. Old and New
// hold whatever value was there before/after so the op can be inverted
// without re-reading the source documents. HadOld distinguishes, for OpSet,
// "the path held an explicit nil before this op" from "the path was
// altogether absent before this op" — both leave Old as the Go nil
// interface, so the flag is what lets Invert tell a null->value transition
// apart from an absent->value one instead of conflating them.
type Op struct {
	Kind   OpKind
	Path   Path
	Old    any
	New    any
	HadOld bool
}

// Invert returns the Op that undoes this one.
func (o Op) Invert() Op {
	switch o.Kind {
	case OpSet:
		if !o.HadOld {
			return Op{Kind: OpUnset, Path: o.Path, Old: o.New}
		}
		return Op{Kind: OpSet, Path: o.Path, Old: o.New, New: o.Old, HadOld: true}
	case OpUnset:
		return Op{Kind: OpSet, Path: o.Path, Old: nil, New: o.Old}
	case OpInsert:
		return Op{Kind: OpRemove, Path: o.Path, Old: o.New}
	case OpRemove:
		return Op{Kind: OpInsert, Path: o.Path, New: o.Old}
	default:
		return o
	}
}

// apply performs the op against a mutable document in place.
func (o Op) apply(doc map[string]any) error {
	switch o.Kind {
	case OpSet:
		return set(doc, o.Path, Clone(o.New))
	case OpUnset:
		return unset(doc, o.Path)
	case OpInsert:
		return insertElem(doc, o.Path, Clone(o.New))
	case OpRemove:
		return removeElem(doc, o.Path)
	default:
		return fmt.Errorf("delta: unknown op kind %v", o.Kind)
	}
}

// insertElem inserts value at the array index named by the final segment of
// path, which must address an element of an array reachable by path[:len-1].
func insertElem(doc map[string]any, path Path, value any) error {
	if len(path) == 0 || !path[len(path)-1].IsIndex {
		return fmt.Errorf("delta: insert requires an array index path, got %q", path)
	}
	parent, idx := path[:len(path)-1], path[len(path)-1].Index
	var container any = doc
	if len(parent) > 0 {
		v, ok := get(doc, parent)
		if !ok {
			return fmt.Errorf("delta: insert: parent %q not found", parent)
		}
		container = v
	}
	a, ok := asArray(container)
	if !ok {
		return fmt.Errorf("delta: insert: %q is not an array", parent)
	}
	if idx < 0 || idx > len(a) {
		return fmt.Errorf("delta: insert index %d out of range (len %d)", idx, len(a))
	}
	a = append(a, nil)
	copy(a[idx+1:], a[idx:])
	a[idx] = value
	if len(parent) == 0 {
		return fmt.Errorf("delta: insert: top-level document cannot be an array")
	}
	return set(doc, parent, a)
}

// removeElem removes the array element at the index named by the final
// segment of path.
func removeElem(doc map[string]any, path Path) error {
	if len(path) == 0 || !path[len(path)-1].IsIndex {
		return fmt.Errorf("delta: remove requires an array index path, got %q", path)
	}
	parent, idx := path[:len(path)-1], path[len(path)-1].Index
	v, ok := get(doc, parent)
	if !ok {
		return nil
	}
	a, ok := asArray(v)
	if !ok || idx < 0 || idx >= len(a) {
		return nil
	}
	a = append(a[:idx], a[idx+1:]...)
	return set(doc, parent, a)
}

// Delta is an ordered list of Ops describing the transition from one
// document state to another. Applying Ops in order moves base -> target;
// applying Invert() of each Op in reverse order moves target -> base.
type Delta struct {
	Ops []Op
}

// IsIdentity reports whether the delta has no effect.
func (d *Delta) IsIdentity() bool {
	return d == nil || len(d.Ops) == 0
}

// Apply returns a copy of doc with the delta's ops applied in order.
func (d *Delta) Apply(doc Document) (Document, error) {
	out, ok := asMap(Clone(doc))
	if !ok {
		return nil, fmt.Errorf("delta: apply: document is not map-shaped")
	}
	if d == nil {
		return out, nil
	}
	for i, op := range d.Ops {
		if err := op.apply(out); err != nil {
			return nil, fmt.Errorf("delta: apply op %d (%s %s): %w", i, op.Kind, op.Path, err)
		}
	}
	return out, nil
}

// Invert returns the delta that undoes this one, applying ops in reverse.
func (d *Delta) Invert() *Delta {
	if d == nil {
		return nil
	}
	out := make([]Op, len(d.Ops))
	for i, op := range d.Ops {
		out[len(d.Ops)-1-i] = op.Invert()
	}
	return &Delta{Ops: out}
}
