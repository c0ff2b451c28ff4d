package signed

import (
	"encoding/json"

	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/crypto"
	"go.dedis.ch/votechain/crypto/ed25519"
	"golang.org/x/xerrors"
)

// envelopeJSON is the wire representation of a transaction. Byte slices are
// base64-encoded by the JSON encoder.
type envelopeJSON struct {
	Nonce     uint64
	Args      map[string][]byte
	PublicKey []byte
	Fee       uint64
	Reads     []string `json:",omitempty"`
	Writes    []string `json:",omitempty"`
	Signature []byte   `json:",omitempty"`
}

// Serialize returns the binary envelope of the transaction, signed or not.
func (t *Transaction) Serialize() ([]byte, error) {
	pubkey, err := t.pubkey.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal public key: %v", err)
	}

	m := envelopeJSON{
		Nonce:     t.nonce,
		Args:      t.args,
		PublicKey: pubkey,
		Fee:       t.fee,
		Reads:     t.footprint.Reads,
		Writes:    t.footprint.Writes,
	}

	if t.sig != nil {
		m.Signature, err = t.sig.MarshalBinary()
		if err != nil {
			return nil, xerrors.Errorf("failed to marshal signature: %v", err)
		}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode: %v", err)
	}

	return data, nil
}

// TransactionFactory is a factory to deserialize transaction envelopes.
type TransactionFactory struct {
	pubkeyFac crypto.PublicKeyFactory
	sigFac    crypto.SignatureFactory
}

// NewTransactionFactory returns a new factory for transactions signed with
// Ed25519 keys.
func NewTransactionFactory() TransactionFactory {
	return TransactionFactory{
		pubkeyFac: ed25519.NewPublicKeyFactory(),
		sigFac:    ed25519.NewSignatureFactory(),
	}
}

// TransactionOf populates the transaction from the envelope. When the envelope
// carries a signature, it is verified against the identity.
func (f TransactionFactory) TransactionOf(data []byte) (*Transaction, error) {
	m := envelopeJSON{}

	err := json.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode: %v", err)
	}

	pubkey, err := f.pubkeyFac.FromBytes(m.PublicKey)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode public key: %v", err)
	}

	opts := []TransactionOption{
		WithFee(m.Fee, txn.NewFootprint(m.Reads, m.Writes)),
	}

	for key, value := range m.Args {
		opts = append(opts, WithArg(key, value))
	}

	if len(m.Signature) > 0 {
		sig, err := f.sigFac.SignatureOf(m.Signature)
		if err != nil {
			return nil, xerrors.Errorf("failed to decode signature: %v", err)
		}

		opts = append(opts, WithSignature(sig))
	}

	tx, err := NewTransaction(m.Nonce, pubkey, opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to create tx: %v", err)
	}

	return tx, nil
}
