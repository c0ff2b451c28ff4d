// Package tally implements the aggregator of the votes of a poll.
//
// The aggregator folds the confirmed vote events into a count per option. It
// remembers the identifier of the events it has folded so that an event
// delivered twice is only counted once.
package tally

import (
	"sort"
	"sync"

	"go.dedis.ch/votechain/poll"
	"golang.org/x/xerrors"
)

// Tally is an immutable view of the counts of a poll. Every option has a cell,
// even at zero.
type Tally struct {
	counts map[uint32]uint64
	total  uint64
}

// Count returns the number of votes for the option.
func (t Tally) Count(id uint32) uint64 {
	return t.counts[id]
}

// Total returns the number of votes.
func (t Tally) Total() uint64 {
	return t.total
}

// Percentage returns the share of the votes of the option, between 0 and 1. It
// is 0 when there is no vote.
func (t Tally) Percentage(id uint32) float64 {
	if t.total == 0 {
		return 0
	}

	return float64(t.counts[id]) / float64(t.total)
}

// Counts returns a copy of the count per option.
func (t Tally) Counts() map[uint32]uint64 {
	counts := make(map[uint32]uint64, len(t.counts))
	for id, count := range t.counts {
		counts[id] = count
	}

	return counts
}

// IDs returns the option identifiers in ascending order.
func (t Tally) IDs() []uint32 {
	ids := make([]uint32, 0, len(t.counts))
	for id := range t.counts {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Aggregator maintains the tally of a poll. It is safe for concurrent use.
type Aggregator struct {
	sync.RWMutex

	options poll.Options
	counts  map[uint32]uint64
	total   uint64
	folded  map[string]struct{}
}

// NewAggregator returns an aggregator with a zero count for every option.
func NewAggregator(options poll.Options) *Aggregator {
	counts := make(map[uint32]uint64, options.Len())
	for _, id := range options.IDs() {
		counts[id] = 0
	}

	return &Aggregator{
		options: options,
		counts:  counts,
		folded:  make(map[string]struct{}),
	}
}

// Fold increments the count of the option of the event. An unknown option is
// refused and leaves the tally unchanged. An event that has already been
// folded is ignored.
func (a *Aggregator) Fold(ev poll.VoteEvent) error {
	a.Lock()
	defer a.Unlock()

	if _, found := a.counts[ev.OptionID]; !found {
		return xerrors.Errorf("event %s: %w", ev.ID, poll.ErrUnknownOption)
	}

	if _, found := a.folded[ev.ID]; found {
		return nil
	}

	a.counts[ev.OptionID]++
	a.total++
	a.folded[ev.ID] = struct{}{}

	return nil
}

// Snapshot returns a copy of the current tally.
func (a *Aggregator) Snapshot() Tally {
	a.RLock()
	defer a.RUnlock()

	counts := make(map[uint32]uint64, len(a.counts))
	for id, count := range a.counts {
		counts[id] = count
	}

	return Tally{counts: counts, total: a.total}
}

// LeadingOption returns the option with the highest count. Ties are broken by
// the lowest identifier. There is no leading option without any vote.
func (a *Aggregator) LeadingOption() (poll.VoteOption, bool) {
	a.RLock()
	defer a.RUnlock()

	if a.total == 0 {
		return poll.VoteOption{}, false
	}

	var best poll.VoteOption
	bestCount := uint64(0)

	// Options are sorted by identifier so the first maximum wins a tie.
	for _, opt := range a.options.All() {
		if a.counts[opt.ID] > bestCount {
			best = opt
			bestCount = a.counts[opt.ID]
		}
	}

	return best, true
}

// Options returns the options of the poll.
func (a *Aggregator) Options() poll.Options {
	return a.options
}
