// Package local implements a chain client that calls a ledger of the same
// process.
package local

import (
	"context"
	"encoding/hex"
	"time"

	"go.dedis.ch/votechain/chain"
	"go.dedis.ch/votechain/contracts/vote"
	"go.dedis.ch/votechain/core/ledger"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/core/txn/signed"
	"go.dedis.ch/votechain/poll"
	"golang.org/x/xerrors"
)

// Client is a chain client for an in-process ledger.
//
// - implements chain.Client
// - implements chain.EventSource
type Client struct {
	ledger *ledger.Ledger
}

// NewClient returns a client of the ledger.
func NewClient(l *ledger.Ledger) Client {
	return Client{ledger: l}
}

// LoadAccount implements chain.Client. The nonce accounts for the transactions
// waiting in the pool.
func (c Client) LoadAccount(ctx context.Context, addr txn.Address) (chain.AccountState, error) {
	if ctx.Err() != nil {
		return chain.AccountState{}, &chain.NetworkError{Op: "account", Err: ctx.Err()}
	}

	nonce, err := c.ledger.GetPendingNonce(addr)
	if err != nil {
		return chain.AccountState{}, &chain.NetworkError{Op: "account", Err: err}
	}

	return chain.AccountState{Address: addr, Nonce: nonce}, nil
}

// Simulate implements chain.Client.
func (c Client) Simulate(ctx context.Context, tx *signed.Transaction) (chain.SimulationOutcome, error) {
	if ctx.Err() != nil {
		return chain.SimulationOutcome{}, &chain.NetworkError{Op: "simulate", Err: ctx.Err()}
	}

	sim, err := c.ledger.Simulate(tx)
	if err != nil {
		return chain.SimulationOutcome{}, convert("simulate", err)
	}

	return chain.SimulationOutcome{
		MinFee:    sim.MinFee,
		Footprint: sim.Footprint,
		Error:     sim.Error,
	}, nil
}

// Submit implements chain.Client.
func (c Client) Submit(ctx context.Context, tx *signed.Transaction) (chain.SubmissionReceipt, error) {
	if ctx.Err() != nil {
		return chain.SubmissionReceipt{}, &chain.NetworkError{Op: "submit", Err: ctx.Err()}
	}

	err := c.ledger.Submit(tx)
	if err != nil {
		return chain.SubmissionReceipt{}, convert("submit", err)
	}

	return chain.SubmissionReceipt{Hash: txn.HexID(tx)}, nil
}

// GetStatus implements chain.Client.
func (c Client) GetStatus(ctx context.Context, hash string) (chain.TxStatus, error) {
	if ctx.Err() != nil {
		return chain.TxStatus{}, &chain.NetworkError{Op: "status", Err: ctx.Err()}
	}

	id, err := hex.DecodeString(hash)
	if err != nil {
		return chain.TxStatus{}, &chain.ProtocolError{Op: "status", Code: 400, Reason: "malformed hash"}
	}

	status, err := c.ledger.GetStatus(id)
	if err != nil {
		return chain.TxStatus{}, &chain.NetworkError{Op: "status", Err: err}
	}

	return ConvertStatus(status), nil
}

// Events implements chain.EventSource.
func (c Client) Events(ctx context.Context, pollID uint64, from uint64) ([]poll.VoteEvent, uint64, error) {
	if ctx.Err() != nil {
		return nil, from, &chain.NetworkError{Op: "events", Err: ctx.Err()}
	}

	events, err := c.ledger.Events(vote.Topic(pollID), from, 0)
	if err != nil {
		return nil, from, &chain.NetworkError{Op: "events", Err: err}
	}

	return ConvertEvents(events, from)
}

// ConvertStatus returns the chain status of a ledger status.
func ConvertStatus(status ledger.Status) chain.TxStatus {
	res := chain.TxStatus{
		Height:    status.Height,
		Timestamp: status.Timestamp,
		Reason:    status.Reason,
	}

	switch status.Code {
	case ledger.StatusPending:
		res.Code = chain.StatusPending
	case ledger.StatusSuccess:
		res.Code = chain.StatusSuccess
	case ledger.StatusFailed:
		res.Code = chain.StatusFailed
	default:
		res.Code = chain.StatusNotFound
	}

	return res
}

// ConvertEvents decodes the vote records of the ledger events. It returns the
// index that follows the last event.
func ConvertEvents(events []ledger.Event, from uint64) ([]poll.VoteEvent, uint64, error) {
	res := make([]poll.VoteEvent, 0, len(events))
	next := from

	for _, event := range events {
		rec, err := vote.DecodeRecord(event.Index, event.Data)
		if err != nil {
			return nil, from, &chain.ProtocolError{Op: "events", Code: 500, Reason: err.Error()}
		}

		res = append(res, poll.NewVoteEvent(rec.Voter, rec.OptionID,
			time.Unix(0, rec.Timestamp), rec.TxHash))

		next = rec.Index + 1
	}

	return res, next, nil
}

func convert(op string, err error) error {
	var rejected ledger.RejectedError
	if xerrors.As(err, &rejected) {
		return &chain.ProtocolError{Op: op, Code: 400, Reason: rejected.Reason}
	}

	return &chain.NetworkError{Op: op, Err: err}
}
