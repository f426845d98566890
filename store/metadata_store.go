package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Metadata is the singleton engine-state record, per spec §3's `metadata`
// store. ResumeToken is persisted here too (written together with `changed`
// in one update by SetResumeToken; the `modified` tracker write is a
// separate call) even though it isn't named in the original record shape.
type Metadata struct {
	CurrentN      int64  `bson:"current_n"`
	CurrentBranch string `bson:"current_branch"`
	Detached      bool   `bson:"detached"`
	Changed       bool   `bson:"changed"`
	HasStash      bool   `bson:"has_stash"`
	HasConflicts  bool   `bson:"has_conflicts"`
	ResumeToken   bson.Raw `bson:"resume_token,omitempty"`
}

func (m Metadata) Current() Version { return Version{N: m.CurrentN, Branch: m.CurrentBranch} }

// MetadataStore wraps the `metadata` singleton collection.
type MetadataStore struct {
	backend Backend
}

func NewMetadataStore(backend Backend) *MetadataStore {
	return &MetadataStore{backend: backend}
}

// singletonFilter matches the one metadata document regardless of contents.
var singletonFilter = bson.M{"_singleton": true}

func (s *MetadataStore) Init(ctx context.Context, m Metadata) error {
	doc := bson.M{
		"_singleton":     true,
		"current_n":      m.CurrentN,
		"current_branch": m.CurrentBranch,
		"detached":       m.Detached,
		"changed":        m.Changed,
		"has_stash":      m.HasStash,
		"has_conflicts":  m.HasConflicts,
	}
	return s.backend.InsertOne(ctx, doc)
}

func (s *MetadataStore) Get(ctx context.Context) (*Metadata, error) {
	var m Metadata
	if err := s.backend.FindOne(ctx, singletonFilter, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MetadataStore) Update(ctx context.Context, fields bson.M) error {
	return s.backend.UpdateOne(ctx, singletonFilter, bson.M{"$set": fields}, true)
}

// SetResumeToken persists the listener's resume token in the same document
// as `changed`, so a single UpdateOne captures both per SPEC_FULL §4.5.
func (s *MetadataStore) SetResumeToken(ctx context.Context, token bson.Raw, changed bool) error {
	return s.Update(ctx, bson.M{"resume_token": token, "changed": changed})
}
