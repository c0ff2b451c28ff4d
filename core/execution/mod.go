// Package execution defines the primitives to execute a transaction against a
// store snapshot.
package execution

import (
	"time"

	"go.dedis.ch/votechain/core/store"
	"go.dedis.ch/votechain/core/txn"
)

// Step is a context of execution. It contains the transaction being executed
// and the block it is included in.
type Step struct {
	Current txn.Transaction

	// Height is the index of the block, or the next block when the execution is
	// a simulation.
	Height uint64

	// Timestamp is the time of the block.
	Timestamp time.Time

	// Log collects the events emitted by the execution. It can be nil when the
	// events are not of interest, like during a simulation.
	Log *EventLog
}

// Emit appends an event to the log of the step, if any.
func (s Step) Emit(topic string, data []byte) {
	if s.Log != nil {
		s.Log.events = append(s.Log.events, Event{Topic: topic, Data: data})
	}
}

// Event is a message emitted by a contract. Events are not part of the state
// and are only kept by the ledger for the successful executions.
type Event struct {
	Topic string
	Data  []byte
}

// EventLog is the list of events emitted during an execution.
type EventLog struct {
	events []Event
}

// GetEvents returns the events in the order of emission.
func (l *EventLog) GetEvents() []Event {
	if l == nil {
		return nil
	}

	return append([]Event{}, l.events...)
}

// Result is the result of a transaction execution.
type Result struct {
	// Accepted is the success state of the transaction.
	Accepted bool

	// Message gives a change to the execution to explain why a transaction has
	// failed.
	Message string
}

// Service is the execution service that defines the primitives to execute a
// transaction.
type Service interface {
	// Execute must apply the transaction to the snapshot and return the result
	// of it.
	Execute(snap store.Snapshot, step Step) (Result, error)
}
