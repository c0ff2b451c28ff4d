// Package feed implements the log of the vote events of a poll, as displayed to
// the participants.
//
// The feed is ordered by the timestamp the ledger reported for each event, and
// not by the order of arrival. An event that arrives late is inserted at the
// position of its timestamp. Events with the same timestamp keep their order of
// arrival.
package feed

import (
	"sort"
	"sync"

	"go.dedis.ch/votechain/poll"
	"golang.org/x/xerrors"
)

// Feed is the log of vote events. It is safe for concurrent use.
type Feed struct {
	sync.RWMutex

	// events is sorted from the oldest to the most recent.
	events   []poll.VoteEvent
	seen     map[string]struct{}
	capacity int
}

// Option is the type of option to create a feed.
type Option func(*Feed)

// WithCapacity bounds the number of events the feed retains. The oldest events
// are dropped first.
func WithCapacity(capacity int) Option {
	return func(f *Feed) {
		f.capacity = capacity
	}
}

// NewFeed returns an empty feed. It is unbounded by default.
func NewFeed(opts ...Option) *Feed {
	f := &Feed{
		seen: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Append inserts the event at the position of its timestamp. An event that has
// already been appended is ignored.
func (f *Feed) Append(ev poll.VoteEvent) error {
	if ev.ID == "" {
		return xerrors.New("missing event identifier")
	}

	f.Lock()
	defer f.Unlock()

	if _, found := f.seen[ev.ID]; found {
		return nil
	}

	f.seen[ev.ID] = struct{}{}

	// Index of the first event strictly more recent than the new one.
	idx := sort.Search(len(f.events), func(i int) bool {
		return f.events[i].Timestamp.After(ev.Timestamp)
	})

	f.events = append(f.events, poll.VoteEvent{})
	copy(f.events[idx+1:], f.events[idx:])
	f.events[idx] = ev

	if f.capacity > 0 && len(f.events) > f.capacity {
		f.events = append([]poll.VoteEvent{}, f.events[len(f.events)-f.capacity:]...)
	}

	return nil
}

// Recent returns at most n events, the most recent first.
func (f *Feed) Recent(n int) []poll.VoteEvent {
	f.RLock()
	defer f.RUnlock()

	if n > len(f.events) {
		n = len(f.events)
	}

	if n < 0 {
		n = 0
	}

	res := make([]poll.VoteEvent, n)
	for i := 0; i < n; i++ {
		res[i] = f.events[len(f.events)-1-i]
	}

	return res
}

// Len returns the number of events in the feed.
func (f *Feed) Len() int {
	f.RLock()
	defer f.RUnlock()

	return len(f.events)
}
