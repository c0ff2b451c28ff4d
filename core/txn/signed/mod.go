// Package signed is an implementation of the transaction abstraction.
//
// It uses a signature to make sure the identity owns the transaction. The nonce
// is a monotonically increasing number that is used to prevent a replay attack
// of an existing transaction. The fee and the footprint are part of the digest
// so that a signature commits to them.
package signed

import (
	"context"
	"encoding/binary"
	"io"
	"sort"

	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/crypto"
	"golang.org/x/xerrors"
)

// Transaction is a signed transaction using a nonce to protect itself against
// replay attack.
//
// - implements txn.Transaction
type Transaction struct {
	nonce     uint64
	args      map[string][]byte
	pubkey    crypto.PublicKey
	fee       uint64
	footprint txn.Footprint
	sig       crypto.Signature
	hash      []byte
}

type template struct {
	Transaction

	hashFactory crypto.HashFactory
}

// TransactionOption is the type of options to create a transaction.
type TransactionOption func(*template)

// WithArg is an option to set an argument with the key and the value.
func WithArg(key string, value []byte) TransactionOption {
	return func(tmpl *template) {
		tmpl.args[key] = value
	}
}

// WithFee is an option to set the fee and the footprint of the transaction.
func WithFee(fee uint64, fp txn.Footprint) TransactionOption {
	return func(tmpl *template) {
		tmpl.fee = fee
		tmpl.footprint = fp
	}
}

// WithSignature is an option to set a valid signature. The signature will be
// verified against the identity.
func WithSignature(sig crypto.Signature) TransactionOption {
	return func(tmpl *template) {
		tmpl.sig = sig
	}
}

// WithHashFactory is an option to set a different hash factory when creating a
// transaction.
func WithHashFactory(f crypto.HashFactory) TransactionOption {
	return func(tmpl *template) {
		tmpl.hashFactory = f
	}
}

// NewTransaction creates a new transaction with the provided nonce.
func NewTransaction(nonce uint64, pk crypto.PublicKey, opts ...TransactionOption) (*Transaction, error) {
	tmpl := template{
		Transaction: Transaction{
			nonce:  nonce,
			pubkey: pk,
			args:   make(map[string][]byte),
		},
		hashFactory: crypto.NewSha256Factory(),
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	h := tmpl.hashFactory.New()
	err := tmpl.Fingerprint(h)
	if err != nil {
		return nil, xerrors.Errorf("couldn't fingerprint tx: %v", err)
	}

	tmpl.hash = h.Sum(nil)

	if tmpl.sig != nil {
		err := tmpl.pubkey.Verify(tmpl.hash, tmpl.sig)
		if err != nil {
			return nil, xerrors.Errorf("invalid signature: %v", err)
		}
	}

	return &tmpl.Transaction, nil
}

// GetID implements txn.Transaction. It returns the ID of the transaction.
func (t *Transaction) GetID() []byte {
	return t.hash
}

// GetNonce implements txn.Transaction. It returns the nonce of the transaction.
func (t *Transaction) GetNonce() uint64 {
	return t.nonce
}

// GetIdentity implements txn.Transaction. It returns the public key of the
// creator.
func (t *Transaction) GetIdentity() crypto.PublicKey {
	return t.pubkey
}

// GetSignature returns the signature of the transaction, or nil if it is not
// signed yet.
func (t *Transaction) GetSignature() crypto.Signature {
	return t.sig
}

// GetFee implements txn.Transaction. It returns the fee of the transaction.
func (t *Transaction) GetFee() uint64 {
	return t.fee
}

// GetFootprint implements txn.Transaction. It returns the footprint of the
// transaction.
func (t *Transaction) GetFootprint() txn.Footprint {
	return t.footprint
}

// GetArgs returns the list of arguments available.
func (t *Transaction) GetArgs() []string {
	args := make([]string, 0, len(t.args))
	for key := range t.args {
		args = append(args, key)
	}

	sort.Strings(args)

	return args
}

// GetArg implements txn.Transaction. It returns the value of the argument if it
// is set, otherwise nil.
func (t *Transaction) GetArg(key string) []byte {
	return t.args[key]
}

// Assemble returns a copy of the transaction that carries the fee and the
// footprint. The copy is unsigned as the digest changes.
func (t *Transaction) Assemble(fee uint64, fp txn.Footprint) (*Transaction, error) {
	opts := make([]TransactionOption, 0, len(t.args)+1)
	for key, value := range t.args {
		opts = append(opts, WithArg(key, value))
	}

	opts = append(opts, WithFee(fee, fp))

	tx, err := NewTransaction(t.nonce, t.pubkey, opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to assemble: %v", err)
	}

	return tx, nil
}

// Sign signs the transaction and stores the signature.
func (t *Transaction) Sign(signer crypto.Signer) error {
	if len(t.hash) == 0 {
		return xerrors.New("missing digest in transaction")
	}

	if !signer.GetPublicKey().Equal(t.pubkey) {
		return xerrors.New("mismatch signer and identity")
	}

	sig, err := signer.Sign(t.hash)
	if err != nil {
		return xerrors.Errorf("signer: %v", err)
	}

	t.sig = sig

	return nil
}

// Fingerprint implements serde.Fingerprinter. It writes a deterministic binary
// representation of the transaction.
func (t *Transaction) Fingerprint(w io.Writer) error {
	buffer := make([]byte, 16)
	binary.LittleEndian.PutUint64(buffer, t.nonce)
	binary.LittleEndian.PutUint64(buffer[8:], t.fee)

	_, err := w.Write(buffer)
	if err != nil {
		return xerrors.Errorf("couldn't write nonce: %v", err)
	}

	// Sort the argument to deterministically write them to the hash.
	for _, key := range t.GetArgs() {
		_, err = w.Write(append([]byte(key), t.args[key]...))
		if err != nil {
			return xerrors.Errorf("couldn't write arg: %v", err)
		}
	}

	for _, key := range append(append([]string{}, t.footprint.Reads...), t.footprint.Writes...) {
		_, err = w.Write([]byte(key))
		if err != nil {
			return xerrors.Errorf("couldn't write footprint: %v", err)
		}
	}

	if t.pubkey == nil {
		return xerrors.New("missing public key")
	}

	buffer, err = t.pubkey.MarshalBinary()
	if err != nil {
		return xerrors.Errorf("failed to marshal public key: %v", err)
	}

	_, err = w.Write(buffer)
	if err != nil {
		return xerrors.Errorf("couldn't write public key: %v", err)
	}

	return nil
}

// Client is the interface the manager is using to get the nonce of an identity.
// It allows a local implementation, or through a network client.
type Client interface {
	GetNonce(ctx context.Context, addr txn.Address) (uint64, error)
}

// TransactionManager is a manager to create unsigned transactions for a given
// identity. The nonce is never cached: every transaction is built from the
// nonce the client returns at that moment, as a stale nonce would invalidate
// the transaction.
type TransactionManager struct {
	client  Client
	pubkey  crypto.PublicKey
	hashFac crypto.HashFactory
}

// NewManager creates a new transaction manager.
func NewManager(pubkey crypto.PublicKey, client Client) *TransactionManager {
	return &TransactionManager{
		client:  client,
		pubkey:  pubkey,
		hashFac: crypto.NewSha256Factory(),
	}
}

// Make fetches the current nonce of the identity and creates a transaction
// populated with the arguments.
func (mgr *TransactionManager) Make(ctx context.Context, args ...txn.Arg) (*Transaction, error) {
	addr, err := txn.AddressOf(mgr.pubkey)
	if err != nil {
		return nil, xerrors.Errorf("invalid identity: %v", err)
	}

	nonce, err := mgr.client.GetNonce(ctx, addr)
	if err != nil {
		return nil, xerrors.Errorf("client: %w", err)
	}

	votechain.Logger.Debug().
		Str("address", addr.String()).
		Uint64("nonce", nonce).
		Msg("manager synchronized")

	opts := make([]TransactionOption, len(args), len(args)+1)
	for i, arg := range args {
		opts[i] = WithArg(arg.Key, arg.Value)
	}

	opts = append(opts, WithHashFactory(mgr.hashFac))

	tx, err := NewTransaction(nonce, mgr.pubkey, opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to create tx: %v", err)
	}

	return tx, nil
}
