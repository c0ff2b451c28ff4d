// Package rpc implements the HTTP interface of a ledger node, and the chain
// client that uses it.
//
// Requests and responses are JSON documents. Transaction envelopes are carried
// as base64 strings. A failure is answered with a JSON document holding the
// reason: 4xx when the node refuses the request, 5xx when it cannot serve it.
package rpc

import (
	"time"

	"go.dedis.ch/votechain/chain"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/poll"
)

// Backend is what the server exposes.
type Backend interface {
	chain.Client
	chain.EventSource
}

// errorJSON is the body of a failed request.
type errorJSON struct {
	Error string `json:"error"`
}

type accountJSON struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

// envelopeJSON is the body of the requests that carry a transaction.
type envelopeJSON struct {
	Envelope []byte `json:"envelope"`
}

type simulationJSON struct {
	MinFee uint64   `json:"minFee"`
	Reads  []string `json:"reads,omitempty"`
	Writes []string `json:"writes,omitempty"`
	Error  string   `json:"error,omitempty"`
}

type receiptJSON struct {
	Hash string `json:"hash"`
}

type statusJSON struct {
	Code      string `json:"code"`
	Height    uint64 `json:"height,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type eventJSON struct {
	ID        string `json:"id"`
	Voter     string `json:"voter"`
	OptionID  uint32 `json:"option"`
	Timestamp int64  `json:"timestamp"`
	TxHash    string `json:"txHash"`
}

type eventsJSON struct {
	Events []eventJSON `json:"events"`
	Next   uint64      `json:"next"`
}

var statusCodes = map[string]chain.StatusCode{
	chain.StatusNotFound.String(): chain.StatusNotFound,
	chain.StatusPending.String():  chain.StatusPending,
	chain.StatusSuccess.String():  chain.StatusSuccess,
	chain.StatusFailed.String():   chain.StatusFailed,
}

func encodeStatus(status chain.TxStatus) statusJSON {
	m := statusJSON{
		Code:   status.Code.String(),
		Height: status.Height,
		Reason: status.Reason,
	}

	if !status.Timestamp.IsZero() {
		m.Timestamp = status.Timestamp.UnixNano()
	}

	return m
}

func decodeStatus(m statusJSON) (chain.TxStatus, bool) {
	code, found := statusCodes[m.Code]
	if !found {
		return chain.TxStatus{}, false
	}

	status := chain.TxStatus{
		Code:   code,
		Height: m.Height,
		Reason: m.Reason,
	}

	if m.Timestamp != 0 {
		status.Timestamp = time.Unix(0, m.Timestamp)
	}

	return status, true
}

func encodeEvent(ev poll.VoteEvent) eventJSON {
	return eventJSON{
		ID:        ev.ID,
		Voter:     ev.Voter.String(),
		OptionID:  ev.OptionID,
		Timestamp: ev.Timestamp.UnixNano(),
		TxHash:    ev.TxHash,
	}
}

func decodeEvent(m eventJSON) poll.VoteEvent {
	return poll.VoteEvent{
		ID:        m.ID,
		Voter:     txn.Address(m.Voter),
		OptionID:  m.OptionID,
		Timestamp: time.Unix(0, m.Timestamp),
		TxHash:    m.TxHash,
	}
}
