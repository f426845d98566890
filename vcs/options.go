package vcs

import (
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nodestorage/vcs/lock"
	"nodestorage/vcs/store"
)

// Credential holds explicit database credentials, taking priority over the
// environment variables read by envcreds, per spec §6.
type Credential struct {
	Username string
	Password string
}

// Config configures one Engine instance, in the functional-options idiom of
// nodestorage/v2/options.go (DefaultOptions() plus With* setters).
type Config struct {
	Database   *mongo.Database
	Target     string // the target collection C's name
	HolderID   string // this process's lock-holder identity

	LockTimeout  time.Duration
	FenceTimeout time.Duration
	LockOptions  lock.Options

	TransactionOptions store.TransactionOptions
	CacheCapacity      int

	Resolver Resolver
	Credential *Credential
}

// Option mutates a Config, following nodestorage/v2/options.go's EditOption
// pattern.
type Option func(*Config)

// DefaultConfig returns a Config with the teacher's idiom of sane retry
// defaults; Database, Target, and Resolver must still be supplied by the
// caller.
func DefaultConfig() Config {
	return Config{
		LockTimeout:        30 * time.Second,
		FenceTimeout:       10 * time.Second,
		LockOptions:        lock.DefaultOptions(),
		TransactionOptions: store.DefaultTransactionOptions(),
		CacheCapacity:      256,
	}
}

func WithDatabase(db *mongo.Database) Option {
	return func(c *Config) { c.Database = db }
}

func WithTarget(name string) Option {
	return func(c *Config) { c.Target = name }
}

func WithHolderID(id string) Option {
	return func(c *Config) { c.HolderID = id }
}

func WithLockTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.LockTimeout = d
		c.LockOptions.MaxElapsedTime = d
	}
}

func WithFenceTimeout(d time.Duration) Option {
	return func(c *Config) { c.FenceTimeout = d }
}

func WithResolver(r Resolver) Option {
	return func(c *Config) { c.Resolver = r }
}

func WithCredential(username, password string) Option {
	return func(c *Config) { c.Credential = &Credential{Username: username, Password: password} }
}

func WithCacheCapacity(n int) Option {
	return func(c *Config) { c.CacheCapacity = n }
}

// NewConfig applies opts over DefaultConfig(), resolving credentials from
// the environment when none were given explicitly via WithCredential.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Credential == nil {
		if cred, ok := envcreds(); ok {
			cfg.Credential = &cred
		}
	}
	return cfg
}

// envcreds reads VC_MONGO_USER / VC_MONGO_PASSWORD per spec §6. Both must be
// set for the credential to be considered present.
func envcreds() (Credential, bool) {
	user := os.Getenv("VC_MONGO_USER")
	pass := os.Getenv("VC_MONGO_PASSWORD")
	if user == "" || pass == "" {
		return Credential{}, false
	}
	return Credential{Username: user, Password: pass}, true
}

// mongoClientOptions applies a resolved credential to a *mongo.Client's
// connection options, for embedders that build their own client from a
// Config rather than passing an already-connected *mongo.Database.
func mongoClientOptions(uri string, cred *Credential) *options.ClientOptions {
	opts := options.Client().ApplyURI(uri)
	if cred != nil {
		opts.SetAuth(options.Credential{Username: cred.Username, Password: cred.Password})
	}
	return opts
}
