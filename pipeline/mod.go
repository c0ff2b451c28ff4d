// Package pipeline implements the submission of a vote to the ledger.
//
// An attempt goes through the states Building, Simulating, Assembling,
// Signing, Submitting and Confirming, in this order, and ends in exactly one
// terminal state. Only one attempt can be in flight at a time for a pipeline.
// The first five steps run until their natural end even if the caller gives
// up. The confirmation can be abandoned by the caller, and it is bounded by a
// timeout.
//
// Only a vote that reaches Succeeded produces an event for the sink.
package pipeline

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/chain"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/poll"
	"go.dedis.ch/votechain/wallet"
	"golang.org/x/xerrors"
)

// State is the state of an attempt.
type State int

const (
	// Idle is the state before the attempt starts.
	Idle State = iota
	Building
	Simulating
	Assembling
	Signing
	Submitting
	Confirming

	// Succeeded means the ledger included the vote.
	Succeeded

	// Failed means a step failed, or the ledger refused the vote.
	Failed

	// TimedOut means the ledger did not confirm the vote in time. The
	// transaction may still be included later.
	TimedOut

	// Abandoned means the caller stopped waiting for the confirmation.
	Abandoned
)

var stateNames = [...]string{
	"Idle", "Building", "Simulating", "Assembling", "Signing", "Submitting",
	"Confirming", "Succeeded", "Failed", "TimedOut", "Abandoned",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return stateNames[s]
}

// Terminal returns true if no transition can follow the state.
func (s State) Terminal() bool {
	return s >= Succeeded
}

// Kind is the kind of failure of an attempt.
type Kind int

const (
	// KindNone is the kind of errors that are not produced by a pipeline.
	KindNone Kind = iota
	KindBuild
	KindSimulation
	KindAssembly
	KindUserRejected
	KindNotConnected
	KindWalletUnavailable
	KindNetwork
	KindProtocol
	KindAlreadyInFlight
	KindTimedOut
	KindAbandoned
)

var kindNames = [...]string{
	"none", "build", "simulation", "assembly", "user rejected", "not connected",
	"wallet unavailable", "network", "protocol", "already in flight",
	"timed out", "abandoned",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}

	return kindNames[k]
}

var (
	// ErrAlreadyInFlight is the cause of a vote refused because another
	// attempt is not finished.
	ErrAlreadyInFlight = xerrors.New("an attempt is already in flight")

	// ErrTimedOut is the cause of a confirmation that did not arrive in time.
	ErrTimedOut = xerrors.New("confirmation timed out")

	// ErrAbandoned is the cause of a confirmation the caller stopped waiting
	// for.
	ErrAbandoned = xerrors.New("confirmation abandoned")
)

// SimulationError is the cause of a vote that the simulation predicts would
// fail on-chain.
type SimulationError struct {
	Reason string
}

// Error implements error.
func (e SimulationError) Error() string {
	return "simulation failed: " + e.Reason
}

// Error is the error returned when an attempt fails. It carries the kind of
// failure and the state the attempt was in.
type Error struct {
	Kind  Kind
	State State
	Err   error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("attempt failed in %v [%v]: %v", e.State, e.Kind, e.Err)
}

// Unwrap returns the cause of the failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the error, or KindNone if it does not come from a
// pipeline.
func KindOf(err error) Kind {
	var perr *Error
	if xerrors.As(err, &perr) {
		return perr.Kind
	}

	return KindNone
}

// classify returns the kind of a failure of the wallet or the client, or the
// fallback when the cause is something else.
func classify(err error, fallback Kind) Kind {
	switch {
	case xerrors.Is(err, wallet.ErrUserRejected):
		return KindUserRejected
	case xerrors.Is(err, wallet.ErrNotConnected):
		return KindNotConnected
	case xerrors.Is(err, wallet.ErrUnavailable):
		return KindWalletUnavailable
	}

	var netErr *chain.NetworkError
	if xerrors.As(err, &netErr) {
		return KindNetwork
	}

	var protoErr *chain.ProtocolError
	if xerrors.As(err, &protoErr) {
		return KindProtocol
	}

	return fallback
}

// Transition is a change of state of an attempt.
type Transition struct {
	Attempt string
	From    State
	To      State
	Time    time.Time

	// Err is set when the transition leads to a failure.
	Err error
}

// Attempt is the progress of a vote.
type Attempt struct {
	ID        string
	OptionID  uint32
	Voter     txn.Address
	State     State
	StartedAt time.Time
	Hash      string
	LastError error
}

// Receipt is the result of a successful vote.
type Receipt struct {
	Attempt   string
	Hash      string
	Height    uint64
	Timestamp time.Time
}

// Sink receives the votes confirmed by the ledger.
type Sink interface {
	Confirmed(ev poll.VoteEvent) error
}

// Config is the configuration of a pipeline.
type Config struct {
	// PollID is the poll the votes are cast for.
	PollID uint64

	// PollInterval is the delay between two status checks while confirming.
	PollInterval time.Duration

	// ConfirmTimeout bounds the confirmation of an attempt.
	ConfirmTimeout time.Duration
}

const (
	// DefaultPollInterval is the delay between two status checks.
	DefaultPollInterval = 1500 * time.Millisecond

	// DefaultConfirmTimeout is the delay after which an attempt times out.
	DefaultConfirmTimeout = time.Minute

	// watchCapacity is the buffer of the channel of a watcher.
	watchCapacity = 16
)

// defines prometheus metrics
var (
	promAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "votechain_pipeline_attempts_total",
		Help: "total number of attempts by outcome",
	}, []string{"outcome"})

	promSteps = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "votechain_pipeline_step_seconds",
		Help:    "duration of the steps of an attempt",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"state"})

	promInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "votechain_pipeline_in_flight",
		Help: "number of attempts in flight",
	})
)

func init() {
	votechain.PromCollectors = append(votechain.PromCollectors, promAttempts,
		promSteps, promInFlight)
}
