package signed

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/crypto/ed25519"
	"go.dedis.ch/votechain/internal/testing/fake"
)

func TestTransaction_New(t *testing.T) {
	signer := ed25519.NewSigner()

	tx, err := NewTransaction(0, signer.GetPublicKey())
	require.NoError(t, err)
	require.NotNil(t, tx)

	require.NoError(t, tx.Sign(signer))

	tx, err = NewTransaction(0, signer.GetPublicKey(), WithSignature(tx.GetSignature()))
	require.NoError(t, err)
	require.NotNil(t, tx.GetSignature())

	_, err = NewTransaction(0, fake.PublicKey{}, WithHashFactory(fake.NewHashFactory(fake.NewBadHash())))
	require.EqualError(t, err, fake.Err("couldn't fingerprint tx: couldn't write nonce"))

	_, err = NewTransaction(1, signer.GetPublicKey(), WithSignature(tx.GetSignature()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid signature: schnorr verify failed: ")

	_, err = NewTransaction(1, nil)
	require.EqualError(t, err, "couldn't fingerprint tx: missing public key")
}

func TestTransaction_Getters(t *testing.T) {
	fp := txn.NewFootprint([]string{"aa"}, []string{"bb"})

	tx, err := NewTransaction(123, fake.PublicKey{},
		WithArg("B", []byte{2}), WithArg("A", []byte{1}), WithFee(42, fp))
	require.NoError(t, err)

	require.Len(t, tx.GetID(), 32)
	require.Equal(t, uint64(123), tx.GetNonce())
	require.Equal(t, fake.PublicKey{}, tx.GetIdentity())
	require.Equal(t, []string{"A", "B"}, tx.GetArgs())
	require.Equal(t, []byte{1}, tx.GetArg("A"))
	require.Nil(t, tx.GetArg("C"))
	require.Equal(t, uint64(42), tx.GetFee())
	require.Equal(t, fp, tx.GetFootprint())
	require.Nil(t, tx.GetSignature())
}

func TestTransaction_Fingerprint(t *testing.T) {
	tx, err := NewTransaction(2, fake.PublicKey{}, WithArg("A", []byte{1}),
		WithFee(3, txn.NewFootprint([]string{"r"}, []string{"w"})))
	require.NoError(t, err)

	buffer := new(bytes.Buffer)

	err = tx.Fingerprint(buffer)
	require.NoError(t, err)
	require.Equal(t,
		"\x02\x00\x00\x00\x00\x00\x00\x00\x03\x00\x00\x00\x00\x00\x00\x00A\x01rwPK",
		buffer.String())

	err = tx.Fingerprint(fake.NewBadHash())
	require.EqualError(t, err, fake.Err("couldn't write nonce"))

	err = tx.Fingerprint(fake.NewBadHashWithDelay(1))
	require.EqualError(t, err, fake.Err("couldn't write arg"))

	err = tx.Fingerprint(fake.NewBadHashWithDelay(2))
	require.EqualError(t, err, fake.Err("couldn't write footprint"))

	err = tx.Fingerprint(fake.NewBadHashWithDelay(4))
	require.EqualError(t, err, fake.Err("couldn't write public key"))

	tx.pubkey = fake.NewBadPublicKey()
	err = tx.Fingerprint(buffer)
	require.EqualError(t, err, fake.Err("failed to marshal public key"))
}

func TestTransaction_FeeChangesDigest(t *testing.T) {
	tx, err := NewTransaction(0, fake.PublicKey{}, WithArg("A", []byte{1}))
	require.NoError(t, err)

	assembled, err := tx.Assemble(10, txn.NewFootprint(nil, []string{"k"}))
	require.NoError(t, err)

	require.NotEqual(t, tx.GetID(), assembled.GetID())
	require.Equal(t, tx.GetNonce(), assembled.GetNonce())
	require.Equal(t, tx.GetArg("A"), assembled.GetArg("A"))
	require.Equal(t, uint64(10), assembled.GetFee())
	require.Equal(t, []string{"k"}, assembled.GetFootprint().Writes)
}

func TestTransaction_Sign(t *testing.T) {
	signer := ed25519.NewSigner()

	tx, err := NewTransaction(0, signer.GetPublicKey())
	require.NoError(t, err)

	err = tx.Sign(signer)
	require.NoError(t, err)
	require.NoError(t, signer.GetPublicKey().Verify(tx.GetID(), tx.GetSignature()))

	err = tx.Sign(ed25519.NewSigner())
	require.EqualError(t, err, "mismatch signer and identity")

	tx.hash = nil
	err = tx.Sign(signer)
	require.EqualError(t, err, "missing digest in transaction")

	tx, err = NewTransaction(0, fake.PublicKey{})
	require.NoError(t, err)

	err = tx.Sign(fake.NewBadSigner())
	require.EqualError(t, err, fake.Err("signer"))
}

func TestTransaction_Envelope(t *testing.T) {
	signer := ed25519.NewSigner()

	tx, err := NewTransaction(7, signer.GetPublicKey(), WithArg("A", []byte("value")),
		WithFee(100, txn.NewFootprint([]string{"01"}, []string{"02", "03"})))
	require.NoError(t, err)

	fac := NewTransactionFactory()

	// Unsigned envelope.
	data, err := tx.Serialize()
	require.NoError(t, err)

	decoded, err := fac.TransactionOf(data)
	require.NoError(t, err)
	require.Equal(t, tx.GetID(), decoded.GetID())
	require.Nil(t, decoded.GetSignature())

	// Signed envelope.
	require.NoError(t, tx.Sign(signer))

	data, err = tx.Serialize()
	require.NoError(t, err)

	decoded, err = fac.TransactionOf(data)
	require.NoError(t, err)
	require.Equal(t, tx.GetID(), decoded.GetID())
	require.True(t, tx.GetSignature().Equal(decoded.GetSignature()))
	require.Equal(t, uint64(100), decoded.GetFee())

	_, err = fac.TransactionOf([]byte("{"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to decode: ")

	_, err = fac.TransactionOf([]byte(`{"PublicKey":"AAAA"}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to decode public key: ")

	// A signature on a different payload must be refused.
	tampered, err := NewTransaction(8, signer.GetPublicKey(), WithSignature(tx.GetSignature()))
	require.Error(t, err)
	require.Nil(t, tampered)

	tx.pubkey = fake.NewBadPublicKey()
	_, err = tx.Serialize()
	require.EqualError(t, err, fake.Err("failed to marshal public key"))
}

func TestManager_Make(t *testing.T) {
	signer := ed25519.NewSigner()
	client := &fakeClient{nonce: 5}

	mgr := NewManager(signer.GetPublicKey(), client)

	tx, err := mgr.Make(context.Background(), txn.Arg{Key: "A", Value: []byte{1}})
	require.NoError(t, err)
	require.Equal(t, uint64(5), tx.GetNonce())
	require.Equal(t, []byte{1}, tx.GetArg("A"))

	// The nonce is fetched for every transaction.
	client.nonce = 9
	tx, err = mgr.Make(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(9), tx.GetNonce())
	require.Equal(t, 2, client.calls)

	client.err = fake.GetError()
	_, err = mgr.Make(context.Background())
	require.EqualError(t, err, fake.Err("client"))

	mgr = NewManager(fake.NewBadPublicKey(), client)
	_, err = mgr.Make(context.Background())
	require.EqualError(t, err, fake.Err("invalid identity: failed to marshal public key"))

	mgr = NewManager(fake.PublicKey{}, &fakeClient{})
	mgr.hashFac = fake.NewHashFactory(fake.NewBadHash())
	_, err = mgr.Make(context.Background())
	require.EqualError(t, err,
		fake.Err("failed to create tx: couldn't fingerprint tx: couldn't write nonce"))
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeClient struct {
	nonce uint64
	calls int
	err   error
}

func (c *fakeClient) GetNonce(context.Context, txn.Address) (uint64, error) {
	c.calls++
	return c.nonce, c.err
}
