// Package fake provides the fakes of the crypto primitives and of the state
// store used by the unit tests, with switches to make them fail.
package fake

import (
	"fmt"
	"hash"

	"go.dedis.ch/votechain/crypto"
	"golang.org/x/xerrors"
)

var fakeErr = xerrors.New("fake error")

// GetError returns the fake error.
func GetError() error {
	return fakeErr
}

// Err returns the expected message of an error wrapping the fake error.
func Err(msg string) string {
	return fmt.Sprintf("%s: %v", msg, fakeErr)
}

// Hash is a fake implementation of hash.Hash.
type Hash struct {
	hash.Hash
	delay int
	err   error
}

// NewBadHash returns a fake hash that returns an error on the first write.
func NewBadHash() *Hash {
	return &Hash{err: fakeErr}
}

// NewBadHashWithDelay returns a fake hash that returns an error after a
// certain amount of writes.
func NewBadHashWithDelay(delay int) *Hash {
	return &Hash{err: fakeErr, delay: delay}
}

// Write implements hash.Hash.
func (h *Hash) Write(in []byte) (int, error) {
	if h.delay > 0 {
		h.delay--
		return 0, nil
	}

	return 0, h.err
}

// Sum implements hash.Hash.
func (h *Hash) Sum([]byte) []byte {
	return []byte{}
}

// HashFactory is a fake implementation of crypto.HashFactory.
//
// - implements crypto.HashFactory
type HashFactory struct {
	hash *Hash
}

// NewHashFactory returns a new instance of the hash factory.
func NewHashFactory(h *Hash) HashFactory {
	return HashFactory{hash: h}
}

// New implements crypto.HashFactory.
func (f HashFactory) New() hash.Hash {
	return f.hash
}

// Signature is a fake implementation of crypto.Signature.
//
// - implements crypto.Signature
type Signature struct {
	err error
}

// Equal implements crypto.Signature.
func (s Signature) Equal(o crypto.Signature) bool {
	_, ok := o.(Signature)
	return ok
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s Signature) MarshalBinary() ([]byte, error) {
	return []byte("{}"), s.err
}

// PublicKey is a fake implementation of crypto.PublicKey.
//
// - implements crypto.PublicKey
type PublicKey struct {
	err       error
	verifyErr error
}

// NewBadPublicKey returns a new fake public key that returns error when
// appropriate.
func NewBadPublicKey() PublicKey {
	return PublicKey{
		err:       fakeErr,
		verifyErr: fakeErr,
	}
}

// Verify implements crypto.PublicKey.
func (pk PublicKey) Verify([]byte, crypto.Signature) error {
	return pk.verifyErr
}

// Equal implements crypto.PublicKey.
func (pk PublicKey) Equal(other interface{}) bool {
	_, ok := other.(PublicKey)
	return ok
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (pk PublicKey) MarshalBinary() ([]byte, error) {
	return []byte("PK"), pk.err
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte("fake:504b"), pk.err
}

// String implements fmt.Stringer.
func (pk PublicKey) String() string {
	return "fake.PublicKey"
}

// Signer is a fake implementation of the crypto.Signer interface.
//
// - implements crypto.Signer
type Signer struct {
	signatureFactory crypto.SignatureFactory
	err              error
}

// NewBadSigner returns a fake signer that will return an error when
// appropriate.
func NewBadSigner() Signer {
	return Signer{err: fakeErr}
}

// GetPublicKeyFactory implements crypto.Signer.
func (s Signer) GetPublicKeyFactory() crypto.PublicKeyFactory {
	return PublicKeyFactory{}
}

// GetSignatureFactory implements crypto.Signer.
func (s Signer) GetSignatureFactory() crypto.SignatureFactory {
	return s.signatureFactory
}

// GetPublicKey implements crypto.Signer.
func (s Signer) GetPublicKey() crypto.PublicKey {
	return PublicKey{}
}

// Sign implements crypto.Signer.
func (s Signer) Sign([]byte) (crypto.Signature, error) {
	return Signature{}, s.err
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s Signer) MarshalBinary() ([]byte, error) {
	return []byte("SIGNER"), s.err
}

// PublicKeyFactory is a fake implementation of crypto.PublicKeyFactory.
//
// - implements crypto.PublicKeyFactory
type PublicKeyFactory struct {
	err error
}

// FromBytes implements crypto.PublicKeyFactory.
func (f PublicKeyFactory) FromBytes([]byte) (crypto.PublicKey, error) {
	return PublicKey{}, f.err
}
