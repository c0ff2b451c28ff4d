package fake

import "go.dedis.ch/votechain/core/store"

// Snapshot is an in-memory state whose operations can be set to fail.
//
// - implements store.Snapshot
type Snapshot struct {
	values map[string][]byte

	ErrRead   error
	ErrWrite  error
	ErrDelete error
}

// NewSnapshot returns an empty state.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		values: make(map[string][]byte),
	}
}

// NewBadSnapshot returns an empty state that fails every operation.
func NewBadSnapshot() *Snapshot {
	snap := NewSnapshot()
	snap.ErrRead = fakeErr
	snap.ErrWrite = fakeErr
	snap.ErrDelete = fakeErr

	return snap
}

// Len returns the number of keys set.
func (snap *Snapshot) Len() int {
	return len(snap.values)
}

// Get implements store.Readable.
func (snap *Snapshot) Get(key []byte) ([]byte, error) {
	if snap.ErrRead != nil {
		return nil, snap.ErrRead
	}

	return snap.values[string(key)], nil
}

// Set implements store.Writable.
func (snap *Snapshot) Set(key, value []byte) error {
	if snap.ErrWrite != nil {
		return snap.ErrWrite
	}

	snap.values[string(key)] = value

	return nil
}

// Delete implements store.Writable.
func (snap *Snapshot) Delete(key []byte) error {
	if snap.ErrDelete != nil {
		return snap.ErrDelete
	}

	delete(snap.values, string(key))

	return nil
}

var _ store.Snapshot = (*Snapshot)(nil)
