package kv

import "go.dedis.ch/votechain/core/store"

// bucketSnapshot is a store snapshot reading and writing directly into a
// bucket.
//
// - implements store.Snapshot
type bucketSnapshot struct {
	bucket Bucket
}

// NewSnapshot returns a store snapshot on top of the bucket. It is only valid
// during the database transaction the bucket belongs to.
func NewSnapshot(bucket Bucket) store.Snapshot {
	return bucketSnapshot{bucket: bucket}
}

// Get implements store.Readable. It returns a copy of the value so that it
// survives the transaction.
func (s bucketSnapshot) Get(key []byte) ([]byte, error) {
	value := s.bucket.Get(key)
	if value == nil {
		return nil, nil
	}

	return append([]byte{}, value...), nil
}

// Set implements store.Writable.
func (s bucketSnapshot) Set(key, value []byte) error {
	return s.bucket.Set(key, value)
}

// Delete implements store.Writable.
func (s bucketSnapshot) Delete(key []byte) error {
	return s.bucket.Delete(key)
}
