package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatcher_Add(t *testing.T) {
	watcher := NewWatcher[string]()

	watcher.Add(newFakeObserver())
	require.Equal(t, 1, watcher.Len())

	obs := newFakeObserver()
	watcher.Add(obs)
	require.Equal(t, 2, watcher.Len())

	watcher.Add(obs)
	require.Equal(t, 2, watcher.Len())
}

func TestWatcher_Remove(t *testing.T) {
	watcher := NewWatcher[string]()
	watcher.Add(newFakeObserver())

	obs := newFakeObserver()
	watcher.Add(obs)
	require.Equal(t, 2, watcher.Len())

	watcher.Remove(obs)
	require.Equal(t, 1, watcher.Len())

	watcher.Remove(obs)
	require.Equal(t, 1, watcher.Len())
}

func TestWatcher_Notify(t *testing.T) {
	watcher := NewWatcher[string]()

	obs := newFakeObserver()
	watcher.Add(obs)

	watcher.Notify("block")
	require.Equal(t, "block", <-obs.ch)

	watcher.Remove(obs)
	watcher.Notify("ignored")
	require.Len(t, obs.ch, 0)
}

func TestWatcher_RemoveWhileNotifying(t *testing.T) {
	watcher := NewWatcher[string]()

	wg := sync.WaitGroup{}
	wg.Add(2)

	go func() {
		defer wg.Done()

		for i := 0; i < 1000; i++ {
			watcher.Notify("block")
		}
	}()

	go func() {
		defer wg.Done()

		for i := 0; i < 1000; i++ {
			obs := discardObserver{id: i}
			watcher.Add(obs)
			watcher.Remove(obs)
		}
	}()

	wg.Wait()
	require.Equal(t, 0, watcher.Len())
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeObserver struct {
	ch chan string
}

func (o fakeObserver) NotifyCallback(evt string) {
	o.ch <- evt
}

func newFakeObserver() fakeObserver {
	return fakeObserver{ch: make(chan string, 1)}
}

type discardObserver struct {
	id int
}

func (discardObserver) NotifyCallback(string) {}
