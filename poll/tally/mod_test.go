package tally

import (
	"fmt"
	"sync"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/votechain/poll"
	"golang.org/x/xerrors"
)

func TestAggregator_Fold(t *testing.T) {
	agg := NewAggregator(makeOptions(t))

	snap := agg.Snapshot()
	require.Equal(t, map[uint32]uint64{1: 0, 2: 0}, snap.Counts())
	require.Equal(t, uint64(0), snap.Total())
	require.Equal(t, 0.0, snap.Percentage(1))

	require.NoError(t, agg.Fold(makeEvent("a", 2)))

	snap = agg.Snapshot()
	require.Equal(t, map[uint32]uint64{1: 0, 2: 1}, snap.Counts())
	require.Equal(t, uint64(1), snap.Total())
	require.Equal(t, 1.0, snap.Percentage(2))
	require.Equal(t, 0.0, snap.Percentage(1))
	require.Equal(t, []uint32{1, 2}, snap.IDs())

	require.NoError(t, agg.Fold(makeEvent("b", 1)))
	require.Equal(t, 0.5, agg.Snapshot().Percentage(1))

	// The snapshot is not affected by later folds.
	require.Equal(t, uint64(1), snap.Total())
}

func TestAggregator_FoldUnknownOption(t *testing.T) {
	agg := NewAggregator(makeOptions(t))

	err := agg.Fold(makeEvent("a", 3))
	require.True(t, xerrors.Is(err, poll.ErrUnknownOption))
	require.EqualError(t, err, "event a: unknown option")

	require.Equal(t, uint64(0), agg.Snapshot().Total())
	require.Equal(t, map[uint32]uint64{1: 0, 2: 0}, agg.Snapshot().Counts())

	// The event can still be folded later if it is corrected.
	require.NoError(t, agg.Fold(makeEvent("a", 1)))
	require.Equal(t, uint64(1), agg.Snapshot().Count(1))
}

func TestAggregator_FoldDuplicate(t *testing.T) {
	agg := NewAggregator(makeOptions(t))

	require.NoError(t, agg.Fold(makeEvent("a", 1)))
	require.NoError(t, agg.Fold(makeEvent("a", 1)))

	require.Equal(t, uint64(1), agg.Snapshot().Total())

	// A known identifier does not hide an unknown option.
	err := agg.Fold(makeEvent("a", 3))
	require.True(t, xerrors.Is(err, poll.ErrUnknownOption))
	require.Equal(t, uint64(1), agg.Snapshot().Total())
}

func TestAggregator_LeadingOption(t *testing.T) {
	agg := NewAggregator(makeOptions(t))

	_, found := agg.LeadingOption()
	require.False(t, found)

	for i := 0; i < 3; i++ {
		require.NoError(t, agg.Fold(makeEvent(fmt.Sprintf("b%d", i), 2)))
		require.NoError(t, agg.Fold(makeEvent(fmt.Sprintf("a%d", i), 1)))
	}

	// {1: 3, 2: 3} is a tie broken by the lowest identifier.
	opt, found := agg.LeadingOption()
	require.True(t, found)
	require.Equal(t, poll.VoteOption{ID: 1, Label: "A"}, opt)

	require.NoError(t, agg.Fold(makeEvent("b3", 2)))

	opt, found = agg.LeadingOption()
	require.True(t, found)
	require.Equal(t, uint32(2), opt.ID)
}

func TestAggregator_Counting(t *testing.T) {
	f := func(choices []bool) bool {
		agg := NewAggregator(makeOptions(t))

		expected := map[uint32]uint64{1: 0, 2: 0}

		for i, choice := range choices {
			id := uint32(1)
			if choice {
				id = 2
			}

			expected[id]++

			if agg.Fold(makeEvent(fmt.Sprintf("%d", i), id)) != nil {
				return false
			}
		}

		snap := agg.Snapshot()

		return snap.Total() == uint64(len(choices)) &&
			snap.Count(1) == expected[1] && snap.Count(2) == expected[2]
	}

	require.NoError(t, quick.Check(f, nil))
}

func TestAggregator_Concurrent(t *testing.T) {
	agg := NewAggregator(makeOptions(t))

	wg := sync.WaitGroup{}
	wg.Add(10)

	for i := 0; i < 10; i++ {
		go func(i int) {
			defer wg.Done()

			for j := 0; j < 50; j++ {
				agg.Fold(makeEvent(fmt.Sprintf("%d-%d", i, j), uint32(1+j%2)))
				agg.Snapshot()
				agg.LeadingOption()
			}
		}(i)
	}

	wg.Wait()

	require.Equal(t, uint64(500), agg.Snapshot().Total())
	require.Equal(t, uint64(250), agg.Snapshot().Count(1))
}

// -----------------------------------------------------------------------------
// Utility functions

func makeOptions(t *testing.T) poll.Options {
	opts, err := poll.NewOptions(poll.VoteOption{ID: 1, Label: "A"}, poll.VoteOption{ID: 2, Label: "B"})
	require.NoError(t, err)

	return opts
}

func makeEvent(id string, option uint32) poll.VoteEvent {
	return poll.VoteEvent{ID: id, OptionID: option, TxHash: id}
}
