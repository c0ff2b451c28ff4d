// Package wallet defines the session with the wallet that holds the key of a
// voter.
//
// A wallet is an opaque and trusted signer. The errors it returns are never
// retried by the callers: a rejection or an unavailability is final for the
// operation that asked for it.
package wallet

import (
	"context"

	"go.dedis.ch/votechain/core/txn"
	"golang.org/x/xerrors"
)

var (
	// ErrUserRejected is returned when the owner of the wallet refuses a
	// request.
	ErrUserRejected = xerrors.New("user rejected the request")

	// ErrNotConnected is returned when a request needs an account but the
	// session is not connected.
	ErrNotConnected = xerrors.New("wallet is not connected")

	// ErrUnavailable is returned when the wallet cannot be reached or cannot
	// access its key.
	ErrUnavailable = xerrors.New("wallet is unavailable")
)

// Session is the session of a voter with a wallet.
type Session interface {
	// CurrentAddress returns the address of the connected account, if any.
	CurrentAddress() (txn.Address, bool)

	// Connect asks the wallet to connect an account. It may block until the
	// owner approves it, or until the context is done.
	Connect(ctx context.Context) (txn.Address, error)

	// Sign takes an unsigned transaction envelope and returns the signed
	// envelope.
	Sign(ctx context.Context, envelope []byte) ([]byte, error)
}
