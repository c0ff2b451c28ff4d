// Package chain defines the client of a ledger node.
//
// The client is a thin typed facade over the operations of the node. Every
// operation may fail with a NetworkError, which is transient, or with a
// ProtocolError, which is reported by the node and will not change unless the
// request does.
package chain

import (
	"context"
	"fmt"
	"time"

	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/core/txn/signed"
	"go.dedis.ch/votechain/poll"
)

// AccountState is the state of an account as known by the node.
type AccountState struct {
	Address txn.Address

	// Nonce is the nonce of the next transaction of the account.
	Nonce uint64
}

// SimulationOutcome is the result of a dry run of a transaction. When the
// error is empty, the fee and the footprint are the resources the transaction
// must declare.
type SimulationOutcome struct {
	MinFee    uint64
	Footprint txn.Footprint
	Error     string
}

// Failed returns true if the simulation reported a failure.
func (o SimulationOutcome) Failed() bool {
	return o.Error != ""
}

// SubmissionReceipt is the handle of a submitted transaction.
type SubmissionReceipt struct {
	Hash string
}

// StatusCode is the state of a transaction.
type StatusCode int

const (
	// StatusNotFound means the node does not know the transaction (yet).
	StatusNotFound StatusCode = iota

	// StatusPending means the transaction waits for inclusion.
	StatusPending

	// StatusSuccess means the transaction is included and succeeded.
	StatusSuccess

	// StatusFailed means the transaction is included and failed.
	StatusFailed
)

// String implements fmt.Stringer.
func (c StatusCode) String() string {
	switch c {
	case StatusPending:
		return "Pending"
	case StatusSuccess:
		return "Success"
	case StatusFailed:
		return "Failed"
	default:
		return "NotFound"
	}
}

// TxStatus is the status of a transaction.
type TxStatus struct {
	Code      StatusCode
	Height    uint64
	Timestamp time.Time
	Reason    string
}

// Client is the client of a ledger node.
type Client interface {
	// LoadAccount returns the current state of the account.
	LoadAccount(ctx context.Context, addr txn.Address) (AccountState, error)

	// Simulate runs the transaction without persisting anything.
	Simulate(ctx context.Context, tx *signed.Transaction) (SimulationOutcome, error)

	// Submit sends the signed transaction. It does not wait for its
	// inclusion.
	Submit(ctx context.Context, tx *signed.Transaction) (SubmissionReceipt, error)

	// GetStatus returns the status of the transaction.
	GetStatus(ctx context.Context, hash string) (TxStatus, error)
}

// EventSource gives access to the confirmed vote events of a poll.
type EventSource interface {
	// Events returns the events of the poll starting at the index, and the
	// index to use for the next call.
	Events(ctx context.Context, pollID uint64, from uint64) ([]poll.VoteEvent, uint64, error)
}

// NetworkError is a transient failure to reach the node.
type NetworkError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the cause of the error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProtocolError is a failure reported by the node. The code is zero when the
// failure is an on-chain outcome rather than a refused request.
type ProtocolError struct {
	Op     string
	Code   int
	Reason string
}

// Error implements error.
func (e *ProtocolError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s failed on-chain: %s", e.Op, e.Reason)
	}

	return fmt.Sprintf("node refused %s (%d): %s", e.Op, e.Code, e.Reason)
}

// NonceClient adapts a client to the nonce source of a transaction manager.
//
// - implements signed.Client
type NonceClient struct {
	Client
}

// GetNonce implements signed.Client. It loads the account and returns its
// nonce.
func (c NonceClient) GetNonce(ctx context.Context, addr txn.Address) (uint64, error) {
	state, err := c.LoadAccount(ctx, addr)
	if err != nil {
		return 0, err
	}

	return state.Nonce, nil
}
