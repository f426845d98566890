package delta

// Compose returns the delta equivalent to applying d1 then d2 in sequence:
// if d1 takes A to B and d2 takes B to C, Compose(d1, d2) takes A to C.
// Set/Unset ops that touch the same path are collapsed into the single net
// change (keeping d1's Old and d2's New), since the intermediate state at B
// is never observed once composed; identity changes are dropped entirely.
// Insert/Remove ops on arrays are order-sensitive and are kept as emitted,
// appended after the collapsed Set/Unset ops, matching how the log tree
// composes a path of per-version deltas one version at a time.
func Compose(d1, d2 *Delta) *Delta {
	type slot struct {
		op      Op
		touched bool
	}
	order := []string{}
	byPath := map[string]*slot{}
	var positional []Op

	absorb := func(op Op) {
		switch op.Kind {
		case OpSet, OpUnset:
			key := op.Path.String()
			if s, ok := byPath[key]; ok {
				s.op.New = op.New
				if op.Kind == OpUnset {
					s.op.Kind = OpUnset
					s.op.New = nil
				} else {
					s.op.Kind = OpSet
				}
				return
			}
			order = append(order, key)
			s := op
			// An Unset's Old is always a genuinely prior-present value
			// (diffMap only emits Unset for a key that existed in `from`);
			// HadOld just isn't a field Unset construction bothers setting,
			// so normalize it here for the identity check at the end.
			if s.Kind == OpUnset {
				s.HadOld = true
			}
			byPath[key] = &slot{op: s, touched: true}
		default:
			positional = append(positional, op)
		}
	}

	if d1 != nil {
		for _, op := range d1.Ops {
			absorb(op)
		}
	}
	if d2 != nil {
		for _, op := range d2.Ops {
			absorb(op)
		}
	}

	out := &Delta{}
	for _, key := range order {
		s := byPath[key]
		// HadOld (not a nil check) decides identity here: Old==nil is
		// ambiguous between "path was absent" and "path held an explicit
		// null", and only the absent case composes to a true no-op.
		if s.op.Kind == OpSet && s.op.HadOld && Equal(s.op.Old, s.op.New) {
			continue
		}
		if s.op.Kind == OpUnset && !s.op.HadOld {
			continue
		}
		out.Ops = append(out.Ops, s.op)
	}
	out.Ops = append(out.Ops, positional...)
	return out
}
