package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.dedis.ch/votechain/chain"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/core/txn/signed"
	"go.dedis.ch/votechain/poll"
	"golang.org/x/xerrors"
)

// Client is a chain client that talks to the HTTP server of a node.
//
// - implements chain.Client
// - implements chain.EventSource
type Client struct {
	base string
	http *http.Client
}

// ClientOption is the type of option to create a client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used to send the requests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.http = c
	}
}

// NewClient returns a client of the node at the base URL, for instance
// http://127.0.0.1:8080.
func NewClient(base string, opts ...ClientOption) *Client {
	client := &Client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// LoadAccount implements chain.Client.
func (c *Client) LoadAccount(ctx context.Context, addr txn.Address) (chain.AccountState, error) {
	var m accountJSON

	err := c.do(ctx, "account", http.MethodGet, "/accounts/"+url.PathEscape(addr.String()), nil, &m)
	if err != nil {
		return chain.AccountState{}, err
	}

	return chain.AccountState{Address: txn.Address(m.Address), Nonce: m.Nonce}, nil
}

// Simulate implements chain.Client.
func (c *Client) Simulate(ctx context.Context, tx *signed.Transaction) (chain.SimulationOutcome, error) {
	body, err := encodeTx(tx)
	if err != nil {
		return chain.SimulationOutcome{}, &chain.ProtocolError{Op: "simulate", Code: 400, Reason: err.Error()}
	}

	var m simulationJSON

	err = c.do(ctx, "simulate", http.MethodPost, "/transactions/simulate", body, &m)
	if err != nil {
		return chain.SimulationOutcome{}, err
	}

	return chain.SimulationOutcome{
		MinFee:    m.MinFee,
		Footprint: txn.NewFootprint(m.Reads, m.Writes),
		Error:     m.Error,
	}, nil
}

// Submit implements chain.Client.
func (c *Client) Submit(ctx context.Context, tx *signed.Transaction) (chain.SubmissionReceipt, error) {
	body, err := encodeTx(tx)
	if err != nil {
		return chain.SubmissionReceipt{}, &chain.ProtocolError{Op: "submit", Code: 400, Reason: err.Error()}
	}

	var m receiptJSON

	err = c.do(ctx, "submit", http.MethodPost, "/transactions", body, &m)
	if err != nil {
		return chain.SubmissionReceipt{}, err
	}

	return chain.SubmissionReceipt{Hash: m.Hash}, nil
}

// GetStatus implements chain.Client.
func (c *Client) GetStatus(ctx context.Context, hash string) (chain.TxStatus, error) {
	var m statusJSON

	err := c.do(ctx, "status", http.MethodGet, "/transactions/"+url.PathEscape(hash), nil, &m)
	if err != nil {
		return chain.TxStatus{}, err
	}

	status, ok := decodeStatus(m)
	if !ok {
		return chain.TxStatus{}, &chain.ProtocolError{
			Op:     "status",
			Code:   http.StatusOK,
			Reason: fmt.Sprintf("unknown status '%s'", m.Code),
		}
	}

	return status, nil
}

// Events implements chain.EventSource.
func (c *Client) Events(ctx context.Context, pollID uint64, from uint64) ([]poll.VoteEvent, uint64, error) {
	var m eventsJSON

	path := fmt.Sprintf("/polls/%d/events?from=%d", pollID, from)

	err := c.do(ctx, "events", http.MethodGet, path, nil, &m)
	if err != nil {
		return nil, from, err
	}

	events := make([]poll.VoteEvent, len(m.Events))
	for i, ev := range m.Events {
		events[i] = decodeEvent(ev)
	}

	return events, m.Next, nil
}

// do sends the request and decodes the response. Transport failures and
// server errors are network errors, while refused requests are protocol
// errors.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, v interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return &chain.NetworkError{Op: op, Err: xerrors.Errorf("failed to create request: %v", err)}
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &chain.NetworkError{Op: op, Err: err}
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &chain.NetworkError{Op: op, Err: xerrors.Errorf("failed to read response: %v", err)}
	}

	if resp.StatusCode >= 500 {
		return &chain.NetworkError{
			Op:  op,
			Err: xerrors.Errorf("server error %d: %s", resp.StatusCode, reason(data)),
		}
	}

	if resp.StatusCode >= 400 {
		return &chain.ProtocolError{Op: op, Code: resp.StatusCode, Reason: reason(data)}
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return &chain.ProtocolError{
			Op:     op,
			Code:   resp.StatusCode,
			Reason: fmt.Sprintf("malformed response: %v", err),
		}
	}

	return nil
}

func encodeTx(tx *signed.Transaction) ([]byte, error) {
	envelope, err := tx.Serialize()
	if err != nil {
		return nil, xerrors.Errorf("failed to encode tx: %v", err)
	}

	return json.Marshal(envelopeJSON{Envelope: envelope})
}

// reason extracts the reason of a failure from the body, or returns the body
// itself if it is not the expected document.
func reason(data []byte) string {
	var m errorJSON

	err := json.Unmarshal(data, &m)
	if err != nil || m.Error == "" {
		return strings.TrimSpace(string(data))
	}

	return m.Error
}
