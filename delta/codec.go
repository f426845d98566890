package delta

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// schemaVersion is bumped whenever the wire shape of wireOp/wireDelta
// changes incompatibly. Grounded on other_examples' argon-lab delta.go
// DeltaFormat envelope (a version tag carried alongside the operation list)
// rather than trusting the BSON documents to self-describe their shape.
const schemaVersion = 1

// wireOp is the BSON-marshalable shape of an Op. Path is flattened to its
// string form plus a parallel "is index" bitmap so array indices round-trip
// without ambiguity against string map keys that happen to look numeric.
type wireOp struct {
	Kind    int8     `bson:"k"`
	Keys    []string `bson:"pk"`
	Indexes []int    `bson:"pi"`
	IsIndex []bool   `bson:"px"`
	Old     any      `bson:"o,omitempty"`
	New     any      `bson:"n,omitempty"`
	HadOld  bool     `bson:"ho,omitempty"`
}

type wireDelta struct {
	Version int      `bson:"v"`
	Ops     []wireOp `bson:"ops"`
}

func toWireOp(op Op) wireOp {
	w := wireOp{Kind: int8(op.Kind), Old: op.Old, New: op.New, HadOld: op.HadOld}
	for _, seg := range op.Path {
		w.Keys = append(w.Keys, seg.Key)
		w.Indexes = append(w.Indexes, seg.Index)
		w.IsIndex = append(w.IsIndex, seg.IsIndex)
	}
	return w
}

func fromWireOp(w wireOp) Op {
	path := make(Path, len(w.Keys))
	for i := range w.Keys {
		if w.IsIndex[i] {
			path[i] = Elem(w.Indexes[i])
		} else {
			path[i] = Field(w.Keys[i])
		}
	}
	return Op{Kind: OpKind(w.Kind), Path: path, Old: w.Old, New: w.New, HadOld: w.HadOld}
}

// Marshal serializes a Delta to its binary (BSON) wire form.
func Marshal(d *Delta) ([]byte, error) {
	w := wireDelta{Version: schemaVersion}
	if d != nil {
		w.Ops = make([]wireOp, len(d.Ops))
		for i, op := range d.Ops {
			w.Ops[i] = toWireOp(op)
		}
	}
	return bson.Marshal(w)
}

// Unmarshal deserializes a Delta from its binary wire form.
func Unmarshal(data []byte) (*Delta, error) {
	var w wireDelta
	if err := bson.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("delta: unmarshal: %w", err)
	}
	if w.Version != schemaVersion {
		return nil, fmt.Errorf("delta: unsupported schema version %d", w.Version)
	}
	ops := make([]Op, len(w.Ops))
	for i, wo := range w.Ops {
		ops[i] = fromWireOp(wo)
	}
	return &Delta{Ops: ops}, nil
}
