package board

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/votechain/internal/testing/fake"
	"go.dedis.ch/votechain/poll"
	"golang.org/x/xerrors"
)

func TestBoard_Confirmed(t *testing.T) {
	board := makeBoard(t)

	hashes := []string{}
	board.OnVote(func(hash string) { hashes = append(hashes, hash) })

	calls := 0
	board.OnVote(func(string) { calls++ })

	err := board.Confirmed(makeEvent("H", 2, 10))
	require.NoError(t, err)

	snap := board.Snapshot()
	require.Equal(t, uint64(0), snap.Count(1))
	require.Equal(t, uint64(1), snap.Count(2))
	require.Equal(t, uint64(1), snap.Total())

	recent := board.Recent(1)
	require.Len(t, recent, 1)
	require.Equal(t, "H", recent[0].TxHash)

	leading, found := board.Leading()
	require.True(t, found)
	require.Equal(t, uint32(2), leading.ID)

	require.Equal(t, []string{"H"}, hashes)
	require.Equal(t, 1, calls)

	// The same event delivered twice is applied and notified once.
	err = board.Confirmed(makeEvent("H", 2, 10))
	require.NoError(t, err)
	require.Equal(t, uint64(1), board.Snapshot().Total())
	require.Equal(t, 1, calls)
}

func TestBoard_ConfirmedUnknownOption(t *testing.T) {
	board := makeBoard(t)

	calls := 0
	board.OnVote(func(string) { calls++ })

	err := board.Confirmed(makeEvent("H", 5, 10))
	require.True(t, xerrors.Is(err, poll.ErrUnknownOption))
	require.Equal(t, 0, calls)
	require.Empty(t, board.Recent(10))
	require.Equal(t, uint64(0), board.Snapshot().Total())

	err = board.Confirmed(poll.VoteEvent{OptionID: 1})
	require.EqualError(t, err, "failed to apply: missing event identifier")
}

func TestBoard_Sync(t *testing.T) {
	board := makeBoard(t)

	src := &fakeSource{
		events: []poll.VoteEvent{
			makeEvent("A", 1, 1),
			makeEvent("B", 2, 2),
			makeEvent("C", 9, 3),
		},
	}

	calls := 0
	board.OnVote(func(string) { calls++ })

	n, err := board.Sync(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, uint64(1), board.Snapshot().Count(1))
	require.Equal(t, uint64(1), board.Snapshot().Count(2))
	require.Equal(t, uint64(2), board.Snapshot().Total())
	require.Equal(t, 0, calls)

	// Nothing new since the last call.
	n, err = board.Sync(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, []uint64{0, 3}, src.froms)

	// An event already confirmed by the pipeline is not counted twice.
	require.NoError(t, board.Confirmed(makeEvent("D", 1, 4)))
	src.events = append(src.events, makeEvent("D", 1, 4))

	n, err = board.Sync(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint64(3), board.Snapshot().Total())
	require.Len(t, board.Recent(10), 3)
}

func TestBoard_SyncFailure(t *testing.T) {
	board := makeBoard(t)

	src := &fakeSource{err: fake.GetError()}

	_, err := board.Sync(context.Background(), src)
	require.EqualError(t, err, fake.Err("failed to read events"))
}

func TestBoard_Follow(t *testing.T) {
	board := makeBoard(t)

	src := &fakeSource{events: []poll.VoteEvent{makeEvent("A", 1, 1)}}

	ctx, cancel := context.WithCancel(context.Background())

	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()
		board.Follow(ctx, src, time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return board.Snapshot().Total() == 1
	}, time.Second, time.Millisecond)

	src.Lock()
	src.events = append(src.events, makeEvent("B", 2, 2))
	src.Unlock()

	require.Eventually(t, func() bool {
		return board.Snapshot().Total() == 2
	}, time.Second, time.Millisecond)

	cancel()
	wg.Wait()
}

// -----------------------------------------------------------------------------
// Utility functions

func makeBoard(t *testing.T) *Board {
	options, err := poll.NewOptions(
		poll.VoteOption{ID: 1, Label: "yes"},
		poll.VoteOption{ID: 2, Label: "no"},
	)
	require.NoError(t, err)

	return NewBoard(1, options, WithFeedCapacity(100))
}

func makeEvent(hash string, option uint32, ts int64) poll.VoteEvent {
	return poll.NewVoteEvent("fake:voter", option, time.Unix(ts, 0), hash)
}

type fakeSource struct {
	sync.Mutex

	events []poll.VoteEvent
	froms  []uint64
	err    error
}

func (s *fakeSource) Events(ctx context.Context, pollID uint64, from uint64) ([]poll.VoteEvent, uint64, error) {
	s.Lock()
	defer s.Unlock()

	if s.err != nil {
		return nil, from, s.err
	}

	s.froms = append(s.froms, from)

	if from >= uint64(len(s.events)) {
		return nil, from, nil
	}

	return append([]poll.VoteEvent{}, s.events[from:]...), uint64(len(s.events)), nil
}
