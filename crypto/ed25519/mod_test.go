package ed25519

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/sign/schnorr"
)

func TestPublicKey_New(t *testing.T) {
	point := suite.Point().Pick(suite.RandomStream())
	pointBuf, err := point.MarshalBinary()
	require.NoError(t, err)

	pubKey, err := NewPublicKey(pointBuf)
	require.NoError(t, err)
	require.True(t, pubKey.GetPoint().Equal(point))

	_, err = NewPublicKey([]byte{})
	require.EqualError(t, err, "couldn't unmarshal point: invalid Ed25519 curve point")
}

func TestPublicKey_MarshalText(t *testing.T) {
	signer := NewSigner()

	text, err := signer.GetPublicKey().MarshalText()
	require.NoError(t, err)
	require.Regexp(t, "^schnorr:[0-9a-f]{64}$", string(text))

	_, err = PublicKey{}.MarshalText()
	require.EqualError(t, err, "couldn't marshal: missing point")

	require.Equal(t, "schnorr:malformed_point", PublicKey{}.String())
	require.Len(t, signer.GetPublicKey().(PublicKey).String(), len(textPrefix)+16)
}

func TestPublicKey_Verify(t *testing.T) {
	privKey := suite.Scalar().Pick(suite.RandomStream())
	pk := PublicKey{point: suite.Point().Mul(privKey, nil)}

	msg := []byte("hello")
	signature, err := schnorr.Sign(suite, privKey, msg)
	require.NoError(t, err)

	require.NoError(t, pk.Verify(msg, Signature{data: signature}))

	err = pk.Verify([]byte("bye"), Signature{data: signature})
	require.EqualError(t, err, "schnorr verify failed: schnorr: invalid signature")

	err = pk.Verify(msg, nil)
	require.EqualError(t, err, "invalid signature type '<nil>'")
}

func TestPublicKey_Equal(t *testing.T) {
	signer := NewSigner()

	require.True(t, signer.GetPublicKey().Equal(signer.GetPublicKey()))
	require.False(t, signer.GetPublicKey().Equal(NewSigner().GetPublicKey()))
	require.False(t, signer.GetPublicKey().Equal(PublicKey{}))
	require.False(t, signer.GetPublicKey().Equal("nope"))
}

func TestSignature_Equal(t *testing.T) {
	sig := NewSignature([]byte{1, 2, 3})

	require.True(t, sig.Equal(NewSignature([]byte{1, 2, 3})))
	require.False(t, sig.Equal(NewSignature([]byte{1, 2})))
	require.False(t, sig.Equal(nil))
}

func TestFactories(t *testing.T) {
	signer := NewSigner()

	data, err := signer.GetPublicKey().MarshalBinary()
	require.NoError(t, err)

	pk, err := signer.GetPublicKeyFactory().FromBytes(data)
	require.NoError(t, err)
	require.True(t, pk.Equal(signer.GetPublicKey()))

	_, err = NewPublicKeyFactory().FromBytes(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to unmarshal the key")

	sig, err := signer.GetSignatureFactory().SignatureOf([]byte{1})
	require.NoError(t, err)
	require.Equal(t, NewSignature([]byte{1}), sig)

	_, err = NewSignatureFactory().SignatureOf(nil)
	require.EqualError(t, err, "empty signature")
}

func TestSigner_MarshalRoundTrip(t *testing.T) {
	signer := NewSigner()

	data, err := signer.MarshalBinary()
	require.NoError(t, err)

	restored, err := NewSignerFromBytes(data)
	require.NoError(t, err)
	require.True(t, restored.GetPublicKey().Equal(signer.GetPublicKey()))

	sig, err := restored.Sign([]byte("42"))
	require.NoError(t, err)
	require.NoError(t, signer.GetPublicKey().Verify([]byte("42"), sig))

	_, err = NewSignerFromBytes([]byte{1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't unmarshal scalar")
}
