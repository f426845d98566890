package store

import (
	"context"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MemoryBackend is an in-process fake of Backend used by package tests so
// the engine's logic can be exercised without a live mongod, per SPEC_FULL's
// ambient test-tooling note. Documents are normalized through a bson
// marshal/unmarshal round trip on every write so reads see the same types a
// real driver would hand back (int64 rather than int, etc).
type MemoryBackend struct {
	mu   sync.Mutex
	docs []bson.M
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func normalize(doc any) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func matches(doc bson.M, filter bson.M) bool {
	for k, want := range filter {
		if k == "$or" {
			clauses, _ := want.(bson.A)
			matched := false
			for _, c := range clauses {
				if cm, ok := c.(bson.M); ok && matches(doc, cm) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
			continue
		}
		got, present := doc[k]
		if spec, ok := want.(bson.M); ok {
			if !matchesOps(got, present, spec) {
				return false
			}
			continue
		}
		if !present {
			return false
		}
		if !bsonEqual(got, want) {
			return false
		}
	}
	return true
}

func matchesOps(got any, present bool, ops bson.M) bool {
	for op, v := range ops {
		switch op {
		case "$ne":
			if present && bsonEqual(got, v) {
				return false
			}
		case "$exists":
			want, _ := v.(bool)
			if present != want {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !present {
				return false
			}
			if !compareOp(op, got, v) {
				return false
			}
		case "$in":
			if !present {
				return false
			}
			arr, _ := v.(bson.A)
			found := false
			for _, cand := range arr {
				if bsonEqual(got, cand) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func compareOp(op string, a, b any) bool {
	if ai, ok := asInt64(a); ok {
		if bi, ok := asInt64(b); ok {
			switch op {
			case "$gt":
				return ai > bi
			case "$gte":
				return ai >= bi
			case "$lt":
				return ai < bi
			case "$lte":
				return ai <= bi
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch op {
		case "$gt":
			return as > bs
		case "$gte":
			return as >= bs
		case "$lt":
			return as < bs
		case "$lte":
			return as <= bs
		}
	}
	return false
}

func bsonEqual(a, b any) bool {
	ad, err1 := bson.Marshal(bson.M{"v": a})
	bd, err2 := bson.Marshal(bson.M{"v": b})
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ad) == string(bd)
}

func (b *MemoryBackend) FindOne(ctx context.Context, filter bson.M, out any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.docs {
		if matches(d, filter) {
			return decodeInto(d, out)
		}
	}
	return mongo.ErrNoDocuments
}

func decodeInto(d bson.M, out any) error {
	data, err := bson.Marshal(d)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, out)
}

type memoryCursor struct {
	docs []bson.M
	pos  int
}

func (c *memoryCursor) Next(ctx context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *memoryCursor) Decode(v any) error {
	return decodeInto(c.docs[c.pos-1], v)
}

func (c *memoryCursor) Err() error             { return nil }
func (c *memoryCursor) Close(ctx context.Context) error { return nil }

func (b *MemoryBackend) Find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) (Cursor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bson.M
	for _, d := range b.docs {
		if matches(d, filter) {
			out = append(out, d)
		}
	}
	for _, o := range opts {
		if o.Sort != nil {
			sortDocs(out, o.Sort)
		}
	}
	return &memoryCursor{docs: out}, nil
}

func sortDocs(docs []bson.M, sortSpec any) {
	spec, ok := sortSpec.(bson.D)
	if !ok {
		if m, ok := sortSpec.(bson.M); ok {
			for k, v := range m {
				spec = append(spec, bson.E{Key: k, Value: v})
			}
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, e := range spec {
			dir, _ := asInt64(e.Value)
			ai, aok := asInt64(docs[i][e.Key])
			bi, bok := asInt64(docs[j][e.Key])
			if aok && bok && ai != bi {
				if dir < 0 {
					return ai > bi
				}
				return ai < bi
			}
			as, _ := docs[i][e.Key].(string)
			bs, _ := docs[j][e.Key].(string)
			if as != bs {
				if dir < 0 {
					return as > bs
				}
				return as < bs
			}
		}
		return false
	})
}

func (b *MemoryBackend) InsertOne(ctx context.Context, doc any) error {
	m, err := normalize(doc)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs = append(b.docs, m)
	return nil
}

func (b *MemoryBackend) UpdateOne(ctx context.Context, filter, update bson.M, upsert bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, d := range b.docs {
		if matches(d, filter) {
			b.docs[i] = applyUpdate(d, update)
			return nil
		}
	}
	if !upsert {
		return nil
	}
	base := bson.M{}
	for k, v := range filter {
		if _, isOp := v.(bson.M); !isOp {
			base[k] = v
		}
	}
	if onInsert, ok := update["$setOnInsert"].(bson.M); ok {
		for k, v := range onInsert {
			base[k] = v
		}
	}
	doc := applyUpdate(base, update)
	b.docs = append(b.docs, doc)
	return nil
}

func applyUpdate(doc bson.M, update bson.M) bson.M {
	out := bson.M{}
	for k, v := range doc {
		out[k] = v
	}
	if set, ok := update["$set"].(bson.M); ok {
		for k, v := range set {
			out[k] = v
		}
	}
	if inc, ok := update["$inc"].(bson.M); ok {
		for k, v := range inc {
			cur, _ := asInt64(out[k])
			delta, _ := asInt64(v)
			out[k] = cur + delta
		}
	}
	if unset, ok := update["$unset"].(bson.M); ok {
		for k := range unset {
			delete(out, k)
		}
	}
	if push, ok := update["$push"].(bson.M); ok {
		for k, v := range push {
			arr, _ := out[k].(bson.A)
			out[k] = append(arr, v)
		}
	}
	norm, err := normalize(out)
	if err != nil {
		return out
	}
	return norm
}

func (b *MemoryBackend) DeleteOne(ctx context.Context, filter bson.M) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, d := range b.docs {
		if matches(d, filter) {
			b.docs = append(b.docs[:i], b.docs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (b *MemoryBackend) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var kept []bson.M
	var count int64
	for _, d := range b.docs {
		if matches(d, filter) {
			count++
			continue
		}
		kept = append(kept, d)
	}
	b.docs = kept
	return count, nil
}

func (b *MemoryBackend) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var count int64
	for _, d := range b.docs {
		if matches(d, filter) {
			count++
		}
	}
	return count, nil
}

func (b *MemoryBackend) CreateIndexes(ctx context.Context, indexes ...mongo.IndexModel) error {
	return nil
}
