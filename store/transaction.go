package store

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// TransactionOptions holds read preference, read concern and write concern
// names, mirroring nodestorage/v2/options.go's TransactionOptions. There is
// no max commit time. The vcs engine builds a Transactional from it, but
// none of its operations run their writes through WithTransaction.
type TransactionOptions struct {
	ReadPreference string
	ReadConcern    string
	WriteConcern   string
}

func DefaultTransactionOptions() TransactionOptions {
	return TransactionOptions{
		ReadPreference: "primary",
		ReadConcern:    "majority",
		WriteConcern:   "majority",
	}
}

// Transactional wraps a *mongo.Client and runs fn inside a session
// transaction, grounded on nodestorage/v2/storage_impl.go's WithTransaction.
type Transactional struct {
	Client  *mongo.Client
	Options TransactionOptions
}

func NewTransactional(client *mongo.Client, opts TransactionOptions) *Transactional {
	return &Transactional{Client: client, Options: opts}
}

// WithTransaction runs fn inside a session transaction with primary read
// preference and majority read and write concern; the string fields of
// Options are not consulted. If Client is nil (the in-memory test seam), fn runs
// directly without session machinery — MemoryBackend has no partial-write
// semantics to roll back.
func (t *Transactional) WithTransaction(ctx context.Context, fn func(sessCtx mongo.SessionContext) (any, error)) (any, error) {
	if t.Client == nil {
		return fn(nil)
	}

	rp := readpref.Primary()
	rc := readconcern.Majority()
	wc := writeconcern.Majority()

	sess, err := t.Client.StartSession()
	if err != nil {
		return nil, err
	}
	defer sess.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadPreference(rp).
		SetReadConcern(rc).
		SetWriteConcern(wc)

	return sess.WithTransaction(ctx, fn, txnOpts)
}
