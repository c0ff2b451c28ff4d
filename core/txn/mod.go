// Package txn defines the abstraction of transactions.
//
// A transaction is a smart contract input. It is uniquely identifiable via a
// digest and it is ordered per identity with the nonce that acts as a sequence
// number. Before it can be accepted by a ledger, a transaction must carry the
// fee and the footprint that a simulation computed for it.
package txn

import (
	"encoding/hex"
	"sort"
	"strings"

	"go.dedis.ch/votechain/crypto"
	"golang.org/x/xerrors"
)

// Transaction is what triggers a smart contract execution by passing it as part
// of the input.
type Transaction interface {
	// GetID returns the unique identifier for the transaction.
	GetID() []byte

	// GetNonce returns the nonce of the transaction which corresponds to the
	// sequence number of a unique identity.
	GetNonce() uint64

	// GetIdentity returns the identity that created the transaction.
	GetIdentity() crypto.PublicKey

	// GetArg is a getter for the arguments of the transaction.
	GetArg(key string) []byte

	// GetFee returns the fee the identity is willing to pay.
	GetFee() uint64

	// GetFootprint returns the storage keys the transaction is allowed to
	// touch.
	GetFootprint() Footprint
}

// Arg is a generic argument that can be stored in a transaction.
type Arg struct {
	Key   string
	Value []byte
}

// Footprint is the set of storage keys a transaction reads and writes. Keys are
// hex-encoded.
type Footprint struct {
	Reads  []string
	Writes []string
}

// NewFootprint returns a footprint with deduplicated and sorted keys.
func NewFootprint(reads, writes []string) Footprint {
	return Footprint{
		Reads:  normalize(reads),
		Writes: normalize(writes),
	}
}

// Len returns the number of keys in the footprint.
func (fp Footprint) Len() int {
	return len(fp.Reads) + len(fp.Writes)
}

// Covers returns true if every key of the other footprint is part of this one.
func (fp Footprint) Covers(other Footprint) bool {
	return contains(fp.Reads, other.Reads) && contains(fp.Writes, other.Writes)
}

// Address is the textual identity of an account, as produced by the text
// marshaling of its public key.
type Address string

// AddressOf returns the address of the public key.
func AddressOf(pk crypto.PublicKey) (Address, error) {
	if pk == nil {
		return "", xerrors.New("missing public key")
	}

	text, err := pk.MarshalText()
	if err != nil {
		return "", xerrors.Errorf("failed to marshal public key: %v", err)
	}

	return Address(text), nil
}

// PublicKey returns the public key encoded in the address.
func (a Address) PublicKey(fac crypto.PublicKeyFactory) (crypto.PublicKey, error) {
	idx := strings.LastIndexByte(string(a), ':')

	data, err := hex.DecodeString(string(a)[idx+1:])
	if err != nil {
		return nil, xerrors.Errorf("malformed address '%s': %v", a, err)
	}

	pk, err := fac.FromBytes(data)
	if err != nil {
		return nil, xerrors.Errorf("invalid public key: %v", err)
	}

	return pk, nil
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}

// HexID returns the hexadecimal representation of the transaction identifier,
// which is the transaction hash as reported by ledgers.
func HexID(tx Transaction) string {
	return hex.EncodeToString(tx.GetID())
}

func normalize(keys []string) []string {
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}

	res := make([]string, 0, len(set))
	for key := range set {
		res = append(res, key)
	}

	sort.Strings(res)

	return res
}

func contains(set, keys []string) bool {
	for _, key := range keys {
		idx := sort.SearchStrings(set, key)
		if idx >= len(set) || set[idx] != key {
			return false
		}
	}

	return true
}
