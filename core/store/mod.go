// Package store defines the primitives used by the contracts to read and write
// the state of the ledger.
package store

// Readable is the read access to the state. A missing key has a nil value.
type Readable interface {
	Get(key []byte) ([]byte, error)
}

// Writable is the write access to the state.
type Writable interface {
	Set(key []byte, value []byte) error

	Delete(key []byte) error
}

// Snapshot is a view of the state that a contract can update. The writes are
// only visible through the snapshot until the ledger applies them.
type Snapshot interface {
	Readable
	Writable
}

// Transaction is implemented by the databases that can notify the end of an
// atomic update.
type Transaction interface {
	// OnCommit registers a callback executed once the update is durable.
	OnCommit(func())
}
