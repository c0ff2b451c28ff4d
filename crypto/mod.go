// Package crypto defines the cryptographic primitives used to sign and verify
// transactions.
package crypto

import (
	"encoding"
	"hash"
)

// HashFactory is an interface to produce a hash digest.
type HashFactory interface {
	New() hash.Hash
}

// PublicKey is a public identity that can be used to verify a signature.
type PublicKey interface {
	encoding.BinaryMarshaler
	encoding.TextMarshaler

	// Verify returns nil if the signature matches the message, otherwise an
	// error.
	Verify(msg []byte, signature Signature) error

	// Equal returns true when both public keys are the same.
	Equal(other interface{}) bool
}

// PublicKeyFactory is a factory to create public keys.
type PublicKeyFactory interface {
	FromBytes(data []byte) (PublicKey, error)
}

// Signature is a verifiable element for a unique message.
type Signature interface {
	encoding.BinaryMarshaler

	Equal(other Signature) bool
}

// SignatureFactory is a factory to create signatures.
type SignatureFactory interface {
	SignatureOf(data []byte) (Signature, error)
}

// Signer provides the primitives to sign and verify signatures.
type Signer interface {
	encoding.BinaryMarshaler

	GetPublicKeyFactory() PublicKeyFactory

	GetSignatureFactory() SignatureFactory

	GetPublicKey() PublicKey

	Sign(msg []byte) (Signature, error)
}
