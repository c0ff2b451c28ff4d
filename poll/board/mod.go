// Package board implements the read model of a poll as presented to a
// participant.
//
// The board receives the votes confirmed by the transaction pipeline and the
// events read back from the ledger. Both paths feed the same aggregator and the
// same feed so that a vote seen twice is only counted once.
package board

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/chain"
	"go.dedis.ch/votechain/poll"
	"go.dedis.ch/votechain/poll/feed"
	"go.dedis.ch/votechain/poll/tally"
	"golang.org/x/xerrors"
)

// Board holds the tally and the feed of a poll.
//
// - implements pipeline.Sink
type Board struct {
	sync.Mutex

	pollID    uint64
	tally     *tally.Aggregator
	feed      *feed.Feed
	callbacks []func(txHash string)
	notified  map[string]struct{}
	logger    zerolog.Logger

	// syncLock serializes the synchronizations so that the next index is
	// consistent with the events that have been applied.
	syncLock sync.Mutex
	next     uint64
}

// Option is the type of option to create a board.
type Option func(*Board)

// WithFeedCapacity bounds the number of events kept in the feed.
func WithFeedCapacity(capacity int) Option {
	return func(b *Board) {
		b.feed = feed.NewFeed(feed.WithCapacity(capacity))
	}
}

// NewBoard creates an empty board for the poll.
func NewBoard(pollID uint64, options poll.Options, opts ...Option) *Board {
	b := &Board{
		pollID:   pollID,
		tally:    tally.NewAggregator(options),
		feed:     feed.NewFeed(),
		notified: make(map[string]struct{}),
		logger: votechain.Logger.With().
			Str("component", "board").
			Uint64("poll", pollID).
			Logger(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// OnVote registers a callback that is called with the transaction hash of
// every vote confirmed by the pipeline.
func (b *Board) OnVote(fn func(txHash string)) {
	b.Lock()
	b.callbacks = append(b.callbacks, fn)
	b.Unlock()
}

// Confirmed implements pipeline.Sink. It applies the event and then calls the
// callbacks once for this event.
func (b *Board) Confirmed(ev poll.VoteEvent) error {
	err := b.apply(ev)
	if err != nil {
		return xerrors.Errorf("failed to apply: %w", err)
	}

	b.Lock()
	_, done := b.notified[ev.ID]
	b.notified[ev.ID] = struct{}{}
	callbacks := append([]func(string){}, b.callbacks...)
	b.Unlock()

	if done {
		return nil
	}

	for _, fn := range callbacks {
		fn(ev.TxHash)
	}

	return nil
}

// Snapshot returns a copy of the current tally.
func (b *Board) Snapshot() tally.Tally {
	return b.tally.Snapshot()
}

// Recent returns at most n events, the most recent first.
func (b *Board) Recent(n int) []poll.VoteEvent {
	return b.feed.Recent(n)
}

// Leading returns the option with the most votes, if any.
func (b *Board) Leading() (poll.VoteOption, bool) {
	return b.tally.LeadingOption()
}

// Sync reads the events of the poll that have been confirmed since the last
// call. It returns the number of events read.
func (b *Board) Sync(ctx context.Context, src chain.EventSource) (int, error) {
	b.syncLock.Lock()
	defer b.syncLock.Unlock()

	events, next, err := src.Events(ctx, b.pollID, b.next)
	if err != nil {
		return 0, xerrors.Errorf("failed to read events: %w", err)
	}

	for _, ev := range events {
		err := b.apply(ev)
		if xerrors.Is(err, poll.ErrUnknownOption) {
			// The ledger has accepted a vote for an option this board is
			// not configured with.
			b.logger.Warn().Err(err).Msg("event ignored")
			continue
		}

		if err != nil {
			return 0, xerrors.Errorf("failed to apply: %v", err)
		}
	}

	b.next = next

	b.logger.Debug().
		Int("events", len(events)).
		Uint64("next", next).
		Msg("synchronized")

	return len(events), nil
}

// Follow synchronizes the board at every interval until the context is done.
// Failures are logged and the next tick tries again.
func (b *Board) Follow(ctx context.Context, src chain.EventSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := b.Sync(ctx, src)
		if err != nil && ctx.Err() == nil {
			b.logger.Warn().Err(err).Msg("synchronization failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Board) apply(ev poll.VoteEvent) error {
	if ev.ID == "" {
		return xerrors.New("missing event identifier")
	}

	err := b.tally.Fold(ev)
	if err != nil {
		return err
	}

	return b.feed.Append(ev)
}
