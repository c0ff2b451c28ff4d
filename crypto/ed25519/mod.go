// Package ed25519 implements the cryptographic primitives for the Edwards 25519
// elliptic curve.
//
// The signatures are created using the Schnorr algorithm. A signer can be
// marshaled so that a wallet can store its key on the disk.
package ed25519

import (
	"bytes"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/suites"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/votechain/crypto"
	"golang.org/x/xerrors"
)

// Algorithm is the name of the curve used for the schnorr signature.
const Algorithm = "CURVE-ED25519"

// textPrefix is prepended to the hexadecimal text representation of a public
// key.
const textPrefix = "schnorr:"

var suite = suites.MustFind("Ed25519")

// PublicKey is the public key adapter to the Kyber Ed25519 public key.
//
// - implements crypto.PublicKey
type PublicKey struct {
	point kyber.Point
}

// NewPublicKey returns a new public key from the data.
func NewPublicKey(data []byte) (PublicKey, error) {
	point := suite.Point()
	err := point.UnmarshalBinary(data)
	if err != nil {
		return PublicKey{}, xerrors.Errorf("couldn't unmarshal point: %v", err)
	}

	return PublicKey{point: point}, nil
}

// NewPublicKeyFromPoint creates a new public key from an existing point.
func NewPublicKeyFromPoint(point kyber.Point) PublicKey {
	return PublicKey{point: point}
}

// MarshalBinary implements encoding.BinaryMarshaler. It produces a slice of
// bytes representing the public key.
func (pk PublicKey) MarshalBinary() ([]byte, error) {
	if pk.point == nil {
		return nil, xerrors.New("missing point")
	}

	return pk.point.MarshalBinary()
}

// MarshalText implements encoding.TextMarshaler. It returns a text
// representation of the public key.
func (pk PublicKey) MarshalText() ([]byte, error) {
	buffer, err := pk.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal: %v", err)
	}

	return []byte(fmt.Sprintf("%s%x", textPrefix, buffer)), nil
}

// Verify implements crypto.PublicKey. It returns nil if the signature matches
// the message for this public key.
func (pk PublicKey) Verify(msg []byte, sig crypto.Signature) error {
	signature, ok := sig.(Signature)
	if !ok {
		return xerrors.Errorf("invalid signature type '%T'", sig)
	}

	err := schnorr.Verify(suite, pk.point, msg, signature.data)
	if err != nil {
		return xerrors.Errorf("schnorr verify failed: %v", err)
	}

	return nil
}

// Equal implements crypto.PublicKey. It returns true if the other public key
// is the same.
func (pk PublicKey) Equal(other interface{}) bool {
	pubkey, ok := other.(PublicKey)
	if !ok || pubkey.point == nil || pk.point == nil {
		return false
	}

	return pubkey.point.Equal(pk.point)
}

// GetPoint returns the kyber.point.
func (pk PublicKey) GetPoint() kyber.Point {
	return pk.point
}

// String implements fmt.Stringer. It returns a short string representation of
// the point.
func (pk PublicKey) String() string {
	buffer, err := pk.MarshalText()
	if err != nil {
		return textPrefix + "malformed_point"
	}

	// Output only the prefix and 16 characters of the buffer in hexadecimal.
	return string(buffer)[:len(textPrefix)+16]
}

// Signature is the adapter of the Kyber Schnorr signature.
//
// - implements crypto.Signature
type Signature struct {
	data []byte
}

// NewSignature returns a new signature from the data.
func NewSignature(data []byte) Signature {
	return Signature{data: data}
}

// MarshalBinary implements encoding.BinaryMarshaler. It returns a slice of
// bytes representing the signature.
func (sig Signature) MarshalBinary() ([]byte, error) {
	return sig.data, nil
}

// Equal implements crypto.Signature. It returns true if both signatures are the
// same.
func (sig Signature) Equal(other crypto.Signature) bool {
	otherSig, ok := other.(Signature)
	if !ok {
		return false
	}

	return bytes.Equal(sig.data, otherSig.data)
}

// publicKeyFactory creates public keys of the Ed25519 curve.
//
// - implements crypto.PublicKeyFactory
type publicKeyFactory struct{}

// NewPublicKeyFactory returns a new instance of the factory.
func NewPublicKeyFactory() crypto.PublicKeyFactory {
	return publicKeyFactory{}
}

// FromBytes implements crypto.PublicKeyFactory. It returns the public key
// unmarshaled from the bytes.
func (f publicKeyFactory) FromBytes(data []byte) (crypto.PublicKey, error) {
	pubkey, err := NewPublicKey(data)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal the key: %v", err)
	}

	return pubkey, nil
}

// signatureFactory creates Schnorr signatures.
//
// - implements crypto.SignatureFactory
type signatureFactory struct{}

// NewSignatureFactory returns a new instance of the factory.
func NewSignatureFactory() crypto.SignatureFactory {
	return signatureFactory{}
}

// SignatureOf implements crypto.SignatureFactory. It returns the signature
// associated to the data.
func (f signatureFactory) SignatureOf(data []byte) (crypto.Signature, error) {
	if len(data) == 0 {
		return nil, xerrors.New("empty signature")
	}

	return Signature{data: data}, nil
}

// Signer implements a signer that is creating Schnorr signatures using the
// private key of the Ed25519 elliptic curve.
//
// - implements crypto.Signer
type Signer struct {
	keyPair *key.Pair
}

// NewSigner returns a new random schnorr signer.
func NewSigner() Signer {
	return Signer{
		keyPair: key.NewKeyPair(suite),
	}
}

// NewSignerFromBytes restores a signer from the marshaled private key.
func NewSignerFromBytes(data []byte) (Signer, error) {
	scalar := suite.Scalar()
	err := scalar.UnmarshalBinary(data)
	if err != nil {
		return Signer{}, xerrors.Errorf("couldn't unmarshal scalar: %v", err)
	}

	kp := &key.Pair{
		Private: scalar,
		Public:  suite.Point().Mul(scalar, nil),
	}

	return Signer{keyPair: kp}, nil
}

// GetPublicKeyFactory implements crypto.Signer. It returns the public key
// factory for schnorr signatures.
func (s Signer) GetPublicKeyFactory() crypto.PublicKeyFactory {
	return publicKeyFactory{}
}

// GetSignatureFactory implements crypto.Signer. It returns the signature
// factory for schnorr signatures.
func (s Signer) GetSignatureFactory() crypto.SignatureFactory {
	return signatureFactory{}
}

// GetPublicKey implements crypto.Signer. It returns the public key of the
// signer that can be used to verify signatures.
func (s Signer) GetPublicKey() crypto.PublicKey {
	return PublicKey{point: s.keyPair.Public}
}

// MarshalBinary implements encoding.BinaryMarshaler. It returns the private
// key of the signer.
func (s Signer) MarshalBinary() ([]byte, error) {
	data, err := s.keyPair.Private.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal private key: %v", err)
	}

	return data, nil
}

// Sign implements crypto.Signer. It signs the message in parameter and returns
// the signature, or an error if it cannot sign.
func (s Signer) Sign(msg []byte) (crypto.Signature, error) {
	sig, err := schnorr.Sign(suite, s.keyPair.Private, msg)
	if err != nil {
		return nil, xerrors.Errorf("couldn't make schnorr signature: %v", err)
	}

	return Signature{data: sig}, nil
}
