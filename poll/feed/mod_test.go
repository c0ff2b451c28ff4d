package feed

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/votechain/poll"
)

func TestFeed_Append(t *testing.T) {
	feed := NewFeed()

	require.Empty(t, feed.Recent(5))

	require.NoError(t, feed.Append(makeEvent("a", 1)))
	require.NoError(t, feed.Append(makeEvent("b", 2)))
	require.NoError(t, feed.Append(makeEvent("c", 3)))

	require.Equal(t, []string{"c", "b", "a"}, ids(feed.Recent(10)))
	require.Equal(t, []string{"c"}, ids(feed.Recent(1)))
	require.Empty(t, feed.Recent(0))
	require.Empty(t, feed.Recent(-1))
	require.Equal(t, 3, feed.Len())
}

func TestFeed_AppendLate(t *testing.T) {
	feed := NewFeed()

	feed.Append(makeEvent("a", 1))
	feed.Append(makeEvent("c", 3))

	// An older event is inserted at its timestamp.
	feed.Append(makeEvent("b", 2))
	require.Equal(t, []string{"c", "b", "a"}, ids(feed.Recent(10)))

	// Equal timestamps keep the order of arrival.
	feed.Append(makeEvent("b2", 2))
	require.Equal(t, []string{"c", "b2", "b", "a"}, ids(feed.Recent(10)))

	feed.Append(makeEvent("z", 0))
	require.Equal(t, []string{"c", "b2", "b", "a", "z"}, ids(feed.Recent(10)))
}

func TestFeed_AppendDuplicate(t *testing.T) {
	feed := NewFeed()

	require.NoError(t, feed.Append(makeEvent("a", 1)))
	require.NoError(t, feed.Append(makeEvent("a", 5)))

	require.Equal(t, 1, feed.Len())
	require.Equal(t, time.Unix(1, 0), feed.Recent(1)[0].Timestamp)
}

func TestFeed_AppendMissingID(t *testing.T) {
	feed := NewFeed()

	err := feed.Append(poll.VoteEvent{OptionID: 1})
	require.EqualError(t, err, "missing event identifier")
	require.Equal(t, 0, feed.Len())
}

func TestFeed_Capacity(t *testing.T) {
	feed := NewFeed(WithCapacity(2))

	feed.Append(makeEvent("a", 1))
	feed.Append(makeEvent("b", 2))
	feed.Append(makeEvent("c", 3))

	require.Equal(t, []string{"c", "b"}, ids(feed.Recent(10)))

	// An event older than the retained ones is dropped.
	feed.Append(makeEvent("z", 0))
	require.Equal(t, []string{"c", "b"}, ids(feed.Recent(10)))
}

func TestFeed_RecentIsStable(t *testing.T) {
	feed := NewFeed()

	feed.Append(makeEvent("a", 1))
	feed.Append(makeEvent("b", 2))

	first := feed.Recent(2)
	second := feed.Recent(2)
	require.Equal(t, first, second)

	// Modifying the returned slice does not affect the feed.
	first[0] = poll.VoteEvent{}
	require.Equal(t, second, feed.Recent(2))
}

func TestFeed_Concurrent(t *testing.T) {
	feed := NewFeed()

	wg := sync.WaitGroup{}
	wg.Add(10)

	for i := 0; i < 10; i++ {
		go func(i int) {
			defer wg.Done()

			for j := 0; j < 20; j++ {
				feed.Append(makeEvent(fmt.Sprintf("%d-%d", i, j), int64(j)))
				feed.Recent(5)
			}
		}(i)
	}

	wg.Wait()

	events := feed.Recent(1000)
	require.Len(t, events, 200)

	for i := 1; i < len(events); i++ {
		require.False(t, events[i].Timestamp.After(events[i-1].Timestamp))
	}
}

// -----------------------------------------------------------------------------
// Utility functions

func makeEvent(id string, ts int64) poll.VoteEvent {
	return poll.VoteEvent{ID: id, TxHash: id, OptionID: 1, Timestamp: time.Unix(ts, 0)}
}

func ids(events []poll.VoteEvent) []string {
	res := make([]string, len(events))
	for i, ev := range events {
		res[i] = ev.ID
	}

	return res
}
