// Package core implements commonly used tools.
package core

import "sync"

// Observer is the interface to implement to watch events.
type Observer[E any] interface {
	NotifyCallback(event E)
}

// Observable provides primitives to add and remove observers and to notify
// them of new events.
type Observable[E any] interface {
	// Add adds the observer to the list of observers that will be notified of
	// new events.
	Add(observer Observer[E])

	// Remove removes the observer from the list thus stopping it from receiving
	// new events.
	Remove(observer Observer[E])

	// Notify notifies the observers of a new event.
	Notify(event E)
}

// Watcher is an implementation of the Observable interface. Once Remove
// returns, the observer is guaranteed not to be called anymore.
//
// - implements core.Observable
type Watcher[E any] struct {
	sync.RWMutex

	observers map[Observer[E]]struct{}
}

// NewWatcher creates a new empty watcher.
func NewWatcher[E any]() *Watcher[E] {
	return &Watcher[E]{
		observers: make(map[Observer[E]]struct{}),
	}
}

// Add implements core.Observable. It adds the observer to the list of observers
// that will be notified of new events.
func (w *Watcher[E]) Add(observer Observer[E]) {
	w.Lock()
	w.observers[observer] = struct{}{}
	w.Unlock()
}

// Remove implements core.Observable. It removes the observer from the list thus
// stopping it from receiving new events.
func (w *Watcher[E]) Remove(observer Observer[E]) {
	w.Lock()
	delete(w.observers, observer)
	w.Unlock()
}

// Len returns the number of observers.
func (w *Watcher[E]) Len() int {
	w.RLock()
	defer w.RUnlock()

	return len(w.observers)
}

// Notify implements core.Observable. It notifies the whole list of observers
// one after each other.
func (w *Watcher[E]) Notify(event E) {
	w.RLock()
	defer w.RUnlock()

	for obs := range w.observers {
		obs.NotifyCallback(event)
	}
}
