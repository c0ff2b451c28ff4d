// Package poll defines the read model of a poll: its options and the vote
// events confirmed by the ledger.
package poll

import (
	"sort"
	"time"

	"go.dedis.ch/votechain/core/txn"
	"golang.org/x/xerrors"
)

// ErrUnknownOption is returned when a vote refers to an option that is not
// part of the poll.
var ErrUnknownOption = xerrors.New("unknown option")

// VoteOption is a choice of the poll.
type VoteOption struct {
	ID    uint32
	Label string
}

// Options is the ordered set of options of a poll.
type Options struct {
	list []VoteOption
}

// NewOptions returns the set of options sorted by identifier. It fails if an
// identifier is zero or duplicated, or if a label is empty.
func NewOptions(opts ...VoteOption) (Options, error) {
	seen := make(map[uint32]struct{}, len(opts))

	for _, opt := range opts {
		if opt.ID == 0 {
			return Options{}, xerrors.Errorf("option '%s' has a zero identifier", opt.Label)
		}

		if opt.Label == "" {
			return Options{}, xerrors.Errorf("option %d has an empty label", opt.ID)
		}

		if _, found := seen[opt.ID]; found {
			return Options{}, xerrors.Errorf("option %d is duplicated", opt.ID)
		}

		seen[opt.ID] = struct{}{}
	}

	list := append([]VoteOption{}, opts...)
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return Options{list: list}, nil
}

// Len returns the number of options.
func (o Options) Len() int {
	return len(o.list)
}

// Get returns the option with the identifier, if it exists.
func (o Options) Get(id uint32) (VoteOption, bool) {
	idx := sort.Search(len(o.list), func(i int) bool { return o.list[i].ID >= id })
	if idx < len(o.list) && o.list[idx].ID == id {
		return o.list[idx], true
	}

	return VoteOption{}, false
}

// All returns the options sorted by identifier.
func (o Options) All() []VoteOption {
	return append([]VoteOption{}, o.list...)
}

// IDs returns the identifiers sorted in ascending order.
func (o Options) IDs() []uint32 {
	ids := make([]uint32, len(o.list))
	for i, opt := range o.list {
		ids[i] = opt.ID
	}

	return ids
}

// VoteEvent is a vote that the ledger has confirmed. The identifier is derived
// from the transaction hash.
type VoteEvent struct {
	ID        string
	Voter     txn.Address
	OptionID  uint32
	Timestamp time.Time
	TxHash    string
}

// NewVoteEvent creates the event of a confirmed vote.
func NewVoteEvent(voter txn.Address, option uint32, ts time.Time, hash string) VoteEvent {
	return VoteEvent{
		ID:        hash,
		Voter:     voter,
		OptionID:  option,
		Timestamp: ts,
		TxHash:    hash,
	}
}
