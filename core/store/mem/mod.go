// Package mem implements an in-memory overlay on top of a readable store.
//
// The overlay keeps its own updates and only reads the parent for the keys it
// does not know. It records every key that is read or written so that a
// simulation can report the storage footprint of an execution.
package mem

import (
	"encoding/hex"
	"sort"

	"go.dedis.ch/votechain/core/store"
	"go.dedis.ch/votechain/core/txn"
	"golang.org/x/xerrors"
)

// Overlay is an in-memory snapshot on top of a parent store. Writes are only
// applied to the overlay until they are flushed.
//
// - implements store.Snapshot
type Overlay struct {
	parent  store.Readable
	updates map[string][]byte
	deleted map[string]struct{}
	reads   map[string]struct{}
	writes  map[string]struct{}
}

// NewOverlay creates a new empty overlay on top of the parent. A nil parent is
// treated as an empty store.
func NewOverlay(parent store.Readable) *Overlay {
	return &Overlay{
		parent:  parent,
		updates: make(map[string][]byte),
		deleted: make(map[string]struct{}),
		reads:   make(map[string]struct{}),
		writes:  make(map[string]struct{}),
	}
}

// Get implements store.Readable. It returns the value of the overlay if the key
// has been updated, otherwise the parent's value.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	str := string(key)

	if _, found := o.writes[str]; !found {
		o.reads[str] = struct{}{}
	}

	if _, found := o.deleted[str]; found {
		return nil, nil
	}

	value, found := o.updates[str]
	if found {
		return value, nil
	}

	if o.parent == nil {
		return nil, nil
	}

	value, err := o.parent.Get(key)
	if err != nil {
		return nil, xerrors.Errorf("parent: %v", err)
	}

	return value, nil
}

// Set implements store.Writable.
func (o *Overlay) Set(key, value []byte) error {
	str := string(key)

	o.updates[str] = value
	delete(o.deleted, str)
	o.touch(str)

	return nil
}

// Delete implements store.Writable.
func (o *Overlay) Delete(key []byte) error {
	str := string(key)

	delete(o.updates, str)
	o.deleted[str] = struct{}{}
	o.touch(str)

	return nil
}

// Footprint returns the hex-encoded keys that have been read and written. A key
// that is written is not reported as a read.
func (o *Overlay) Footprint() txn.Footprint {
	return txn.NewFootprint(hexKeys(o.reads), hexKeys(o.writes))
}

// Flush applies the updates of the overlay to the store, in key order.
func (o *Overlay) Flush(w store.Writable) error {
	keys := make([]string, 0, len(o.writes))
	for key := range o.writes {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		var err error

		if _, found := o.deleted[key]; found {
			err = w.Delete([]byte(key))
		} else {
			err = w.Set([]byte(key), o.updates[key])
		}

		if err != nil {
			return xerrors.Errorf("failed to write key %x: %v", key, err)
		}
	}

	return nil
}

func (o *Overlay) touch(key string) {
	o.writes[key] = struct{}{}
	delete(o.reads, key)
}

func hexKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, hex.EncodeToString([]byte(key)))
	}

	return keys
}
