// Package local implements a wallet session that keeps the key of the voter in
// a file.
//
// The key is generated the first time the wallet is connected. Every request
// goes through an approver, which can be an interactive prompt for a CLI or an
// automatic approval for tests and scripts.
package local

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/core/txn/signed"
	"go.dedis.ch/votechain/crypto"
	"go.dedis.ch/votechain/crypto/ed25519"
	"go.dedis.ch/votechain/crypto/loader"
	"go.dedis.ch/votechain/wallet"
	"golang.org/x/xerrors"
)

// RequestKind is the kind of request submitted to the approver.
type RequestKind int

const (
	// ConnectRequest is the request to connect the account.
	ConnectRequest RequestKind = iota

	// SignRequest is the request to sign a transaction.
	SignRequest
)

// Request is a request that the owner of the wallet must approve.
type Request struct {
	Kind    RequestKind
	Address txn.Address
	Summary string
}

// Approver decides if a request can be executed.
type Approver interface {
	Approve(ctx context.Context, req Request) (bool, error)
}

// AutoApprover is an approver that approves every request.
//
// - implements local.Approver
type AutoApprover struct{}

// Approve implements local.Approver. It always approves.
func (AutoApprover) Approve(context.Context, Request) (bool, error) {
	return true, nil
}

// PromptApprover asks the question on the output and reads a yes/no answer
// from the input. A single goroutine reads the input, so the answer to a
// cancelled prompt goes to the next one.
//
// - implements local.Approver
type PromptApprover struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
}

// NewPromptApprover returns an approver that prompts on the output and reads
// the answers from the input.
func NewPromptApprover(in io.Reader, out io.Writer) *PromptApprover {
	return &PromptApprover{
		in:    in,
		out:   out,
		lines: make(chan string),
	}
}

// Approve implements local.Approver. Only an answer starting with y is an
// approval. The end of the input is a refusal.
func (p *PromptApprover) Approve(ctx context.Context, req Request) (bool, error) {
	p.once.Do(func() {
		go p.read()
	})

	verb := "connect"
	if req.Kind == SignRequest {
		verb = "sign"
	}

	fmt.Fprintf(p.out, "Allow to %s with %s? %s [y/N] ", verb, req.Address, req.Summary)

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return false, nil
		}

		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y"), nil
	}
}

func (p *PromptApprover) read() {
	defer close(p.lines)

	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}
}

// Session is a wallet session backed by a key file.
//
// - implements wallet.Session
type Session struct {
	sync.Mutex

	loader   loader.Loader
	approver Approver
	txFac    signed.TransactionFactory
	logger   zerolog.Logger

	// signing serializes the signatures.
	signing sync.Mutex

	signer  crypto.Signer
	address txn.Address
	online  bool
}

// Option is the type of option to create a session.
type Option func(*Session)

// WithApprover sets the approver of the requests.
func WithApprover(a Approver) Option {
	return func(s *Session) {
		s.approver = a
	}
}

// NewSession creates a new session that loads the key with the loader.
func NewSession(l loader.Loader, opts ...Option) *Session {
	s := &Session{
		loader:   l,
		approver: AutoApprover{},
		txFac:    signed.NewTransactionFactory(),
		logger:   votechain.Logger.With().Str("component", "wallet").Logger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CurrentAddress implements wallet.Session. It returns the address of the
// account if the session is connected.
func (s *Session) CurrentAddress() (txn.Address, bool) {
	s.Lock()
	defer s.Unlock()

	return s.address, s.online
}

// Connect implements wallet.Session. It loads the key, or creates it, and asks
// the approver before connecting the account.
func (s *Session) Connect(ctx context.Context) (txn.Address, error) {
	signer, err := s.loadSigner()
	if err != nil {
		return "", xerrors.Errorf("%v: %w", err, wallet.ErrUnavailable)
	}

	addr, err := txn.AddressOf(signer.GetPublicKey())
	if err != nil {
		return "", xerrors.Errorf("%v: %w", err, wallet.ErrUnavailable)
	}

	ok, err := s.approver.Approve(ctx, Request{Kind: ConnectRequest, Address: addr})
	if err != nil {
		return "", xerrors.Errorf("approver: %w", err)
	}

	if !ok {
		return "", wallet.ErrUserRejected
	}

	s.Lock()
	s.address = addr
	s.online = true
	s.Unlock()

	s.logger.Info().Str("address", addr.String()).Msg("wallet connected")

	return addr, nil
}

// Disconnect forgets the connected account.
func (s *Session) Disconnect() {
	s.Lock()
	s.online = false
	s.Unlock()
}

// Sign implements wallet.Session. It decodes the envelope, asks the approver
// and returns the signed envelope. Signatures are never produced concurrently.
func (s *Session) Sign(ctx context.Context, envelope []byte) ([]byte, error) {
	s.Lock()
	signer, addr, online := s.signer, s.address, s.online
	s.Unlock()

	if !online {
		return nil, wallet.ErrNotConnected
	}

	s.signing.Lock()
	defer s.signing.Unlock()

	tx, err := s.txFac.TransactionOf(envelope)
	if err != nil {
		return nil, xerrors.Errorf("invalid envelope: %v", err)
	}

	if !tx.GetIdentity().Equal(signer.GetPublicKey()) {
		return nil, xerrors.Errorf("envelope identity %v is not the connected account", tx.GetIdentity())
	}

	summary := fmt.Sprintf("(tx %s, nonce %d, fee %d)", txn.HexID(tx)[:16], tx.GetNonce(), tx.GetFee())

	ok, err := s.approver.Approve(ctx, Request{Kind: SignRequest, Address: addr, Summary: summary})
	if err != nil {
		return nil, xerrors.Errorf("approver: %w", err)
	}

	if !ok {
		return nil, wallet.ErrUserRejected
	}

	err = tx.Sign(signer)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, wallet.ErrUnavailable)
	}

	data, err := tx.Serialize()
	if err != nil {
		return nil, xerrors.Errorf("failed to encode envelope: %v", err)
	}

	s.logger.Debug().Str("tx", txn.HexID(tx)).Msg("transaction signed")

	return data, nil
}

func (s *Session) loadSigner() (crypto.Signer, error) {
	s.Lock()
	defer s.Unlock()

	if s.signer != nil {
		return s.signer, nil
	}

	data, err := s.loader.LoadOrCreate(generator{})
	if err != nil {
		return nil, xerrors.Errorf("failed to load key: %v", err)
	}

	signer, err := ed25519.NewSignerFromBytes(data)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal signer: %v", err)
	}

	s.signer = signer

	return signer, nil
}

// generator creates a new private key.
//
// - implements loader.Generator
type generator struct{}

// Generate implements loader.Generator. It returns the marshaled private key
// of a new signer.
func (generator) Generate() ([]byte, error) {
	signer := ed25519.NewSigner()

	data, err := signer.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal signer: %v", err)
	}

	return data, nil
}
