// Package pool implements the queue of transactions that have been accepted by
// a ledger but are not yet included in a block.
//
// Transactions are returned in the order they have been added so that the
// nonces of an identity are executed in sequence.
package pool

import (
	"context"
	"fmt"
	"sync"

	"go.dedis.ch/votechain/core/txn"
	"golang.org/x/xerrors"
)

// KeyMaxLength is the maximum length of a transaction identifier.
const KeyMaxLength = 32

// Key is the identifier of a transaction in the queue.
type Key [KeyMaxLength]byte

// String implements fmt.Stringer. It returns the first bytes of the key.
func (k Key) String() string {
	return fmt.Sprintf("%#x", k[:4])
}

func keyOf(id []byte) Key {
	key := Key{}
	copy(key[:], id)

	return key
}

// Config defines when a block can be produced out of the queue.
type Config struct {
	// Min is the number of transactions the queue must hold.
	Min int

	// Max is the maximum number of transactions returned, or no limit when it
	// is zero.
	Max int
}

type waiter struct {
	cfg Config
	ch  chan []txn.Transaction
}

// Queue holds the pending transactions in insertion order. A transaction that
// left the queue cannot be added again.
type Queue struct {
	sync.Mutex

	txs     []txn.Transaction
	pending map[Key]struct{}
	history map[Key]struct{}
	waiters []waiter
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[Key]struct{}),
		history: make(map[Key]struct{}),
	}
}

// Len returns the number of pending transactions.
func (q *Queue) Len() int {
	q.Lock()
	defer q.Unlock()

	return len(q.txs)
}

// GetAll returns the pending transactions in insertion order.
func (q *Queue) GetAll() []txn.Transaction {
	q.Lock()
	defer q.Unlock()

	return q.head(0)
}

// Has returns true if the transaction with this identifier is pending.
func (q *Queue) Has(id []byte) bool {
	q.Lock()
	defer q.Unlock()

	_, found := q.pending[keyOf(id)]
	return found
}

// Pending returns the number of pending transactions signed by the address.
func (q *Queue) Pending(addr txn.Address) int {
	q.Lock()
	defer q.Unlock()

	count := 0

	for _, tx := range q.txs {
		other, err := txn.AddressOf(tx.GetIdentity())
		if err == nil && other == addr {
			count++
		}
	}

	return count
}

// Add appends the transaction and wakes up the waiters that have enough
// transactions.
func (q *Queue) Add(tx txn.Transaction) error {
	id := tx.GetID()
	if len(id) > KeyMaxLength {
		return xerrors.Errorf("tx identifier is too long: %d > %d", len(id), KeyMaxLength)
	}

	key := keyOf(id)

	q.Lock()
	defer q.Unlock()

	_, pending := q.pending[key]
	_, done := q.history[key]
	if pending || done {
		return xerrors.Errorf("tx %v already exists", key)
	}

	q.pending[key] = struct{}{}
	q.txs = append(q.txs, tx)

	remaining := q.waiters[:0]
	for _, w := range q.waiters {
		if w.cfg.Min <= len(q.txs) {
			w.ch <- q.head(w.cfg.Max)
		} else {
			remaining = append(remaining, w)
		}
	}

	q.waiters = remaining

	return nil
}

// Remove takes the transactions out of the queue once they are in a block.
// Nothing is removed if one of them is not pending.
func (q *Queue) Remove(txs ...txn.Transaction) error {
	q.Lock()
	defer q.Unlock()

	for _, tx := range txs {
		key := keyOf(tx.GetID())

		_, found := q.pending[key]
		if !found {
			return xerrors.Errorf("transaction %v not found", key)
		}
	}

	for _, tx := range txs {
		key := keyOf(tx.GetID())

		delete(q.pending, key)
		q.history[key] = struct{}{}
	}

	kept := q.txs[:0]
	for _, tx := range q.txs {
		if _, found := q.pending[keyOf(tx.GetID())]; found {
			kept = append(kept, tx)
		}
	}

	for i := len(kept); i < len(q.txs); i++ {
		q.txs[i] = nil
	}

	q.txs = kept

	return nil
}

// Wait returns the oldest transactions as soon as the queue holds at least
// the minimum, or nil if the context is done or the queue closed.
func (q *Queue) Wait(ctx context.Context, cfg Config) []txn.Transaction {
	q.Lock()

	if len(q.txs) > 0 && len(q.txs) >= cfg.Min {
		txs := q.head(cfg.Max)
		q.Unlock()

		return txs
	}

	ch := make(chan []txn.Transaction, 1)
	q.waiters = append(q.waiters, waiter{cfg: cfg, ch: ch})

	q.Unlock()

	select {
	case txs := <-ch:
		return txs
	case <-ctx.Done():
		q.Lock()
		defer q.Unlock()

		for i, w := range q.waiters {
			if w.ch == ch {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				break
			}
		}

		return nil
	}
}

// Close drops the pending transactions and releases the waiters.
func (q *Queue) Close() {
	q.Lock()
	defer q.Unlock()

	q.txs = nil
	q.pending = make(map[Key]struct{})
	q.history = make(map[Key]struct{})

	for _, w := range q.waiters {
		close(w.ch)
	}

	q.waiters = nil
}

func (q *Queue) head(max int) []txn.Transaction {
	n := len(q.txs)
	if max > 0 && max < n {
		n = max
	}

	return append([]txn.Transaction{}, q.txs[:n]...)
}
