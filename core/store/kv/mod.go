// Package kv defines the database of the development ledger, organized in
// buckets of keys, and implements it with bbolt
// (https://github.com/etcd-io/bbolt).
package kv

import "go.dedis.ch/votechain/core/store"

// Bucket is a namespace of keys in the database.
type Bucket interface {
	// Get returns the value of the key, or nil if it is not set.
	Get(key []byte) []byte

	Set(key, value []byte) error

	Delete(key []byte) error

	// Scan calls fn for every key with the prefix, in ascending order, until
	// fn returns an error.
	Scan(prefix []byte, fn func(k, v []byte) error) error
}

// ReadableTx is a read-only view of the database.
type ReadableTx interface {
	// GetBucket returns the bucket, or nil if it does not exist.
	GetBucket(name []byte) Bucket
}

// WritableTx is an atomic update of the database.
type WritableTx interface {
	store.Transaction

	ReadableTx

	GetBucketOrCreate(name []byte) (Bucket, error)
}

// DB is the database of the ledger. Views can run concurrently while updates
// are serialized.
type DB interface {
	View(fn func(ReadableTx) error) error

	Update(fn func(WritableTx) error) error

	Close() error
}
