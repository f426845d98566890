package delta

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a Path: either a map key or an array index.
type Segment struct {
	Key      string
	Index    int
	IsIndex  bool
}

// Path locates a leaf within a canonical document, e.g. "items.2.name".
type Path []Segment

// Field builds a Path segment for a map key.
func Field(key string) Segment { return Segment{Key: key} }

// Elem builds a Path segment for an array index.
func Elem(i int) Segment { return Segment{Index: i, IsIndex: true} }

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		if s.IsIndex {
			parts[i] = strconv.Itoa(s.Index)
		} else {
			parts[i] = s.Key
		}
	}
	return strings.Join(parts, ".")
}

// Append returns a new Path with seg appended, never mutating the receiver.
func (p Path) Append(seg Segment) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = seg
	return out
}

// Equal reports whether two paths address the same location.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// get navigates doc along path, returning the value and whether it existed.
func get(doc any, path Path) (any, bool) {
	cur := doc
	for _, seg := range path {
		if seg.IsIndex {
			a, ok := asArray(cur)
			if !ok || seg.Index < 0 || seg.Index >= len(a) {
				return nil, false
			}
			cur = a[seg.Index]
		} else {
			m, ok := asMap(cur)
			if !ok {
				return nil, false
			}
			v, ok := m[seg.Key]
			if !ok {
				return nil, false
			}
			cur = v
		}
	}
	return cur, true
}

// set writes value at path within doc, creating intermediate maps as needed.
// doc must be a map[string]any (or will be treated as one); arrays along the
// path must already exist with a large enough length.
func set(doc map[string]any, path Path, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("delta: empty path")
	}
	cur := any(doc)
	for i, seg := range path {
		last := i == len(path)-1
		if seg.IsIndex {
			a, ok := asArray(cur)
			if !ok || seg.Index < 0 || seg.Index >= len(a) {
				return fmt.Errorf("delta: array index %d out of range at %q", seg.Index, path[:i+1])
			}
			if last {
				a[seg.Index] = value
				return nil
			}
			cur = a[seg.Index]
			continue
		}
		m, ok := asMap(cur)
		if !ok {
			return fmt.Errorf("delta: expected map at %q", path[:i])
		}
		if last {
			m[seg.Key] = value
			return nil
		}
		next, ok := m[seg.Key]
		if !ok {
			next = map[string]any{}
			m[seg.Key] = next
		}
		cur = next
	}
	return nil
}

// unset removes the leaf addressed by path from doc.
func unset(doc map[string]any, path Path) error {
	if len(path) == 0 {
		return fmt.Errorf("delta: empty path")
	}
	cur := any(doc)
	for i, seg := range path {
		last := i == len(path)-1
		if seg.IsIndex {
			a, ok := asArray(cur)
			if !ok || seg.Index < 0 || seg.Index >= len(a) {
				return nil // already absent
			}
			if last {
				a[seg.Index] = nil
				return nil
			}
			cur = a[seg.Index]
			continue
		}
		m, ok := asMap(cur)
		if !ok {
			return nil
		}
		if last {
			delete(m, seg.Key)
			return nil
		}
		next, ok := m[seg.Key]
		if !ok {
			return nil
		}
		cur = next
	}
	return nil
}
