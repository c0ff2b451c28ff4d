// Package ledger implements a development ledger that runs on a single node.
//
// The ledger keeps the accounts, the state of the contracts and the status of
// the transactions in a key/value database. Transactions are accepted in a
// pool after their signature, nonce, fee and footprint are verified. A block
// loop then executes them in order, one block at a time. It is not a
// consensus engine: there is no replication and the blocks are produced by a
// local timer.
package ledger

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/core/txn"
)

// RejectedError is the error returned when a transaction is refused at
// submission time.
type RejectedError struct {
	Reason string
}

func reject(format string, args ...interface{}) RejectedError {
	return RejectedError{Reason: fmt.Sprintf(format, args...)}
}

// Error implements error.
func (e RejectedError) Error() string {
	return "transaction rejected: " + e.Reason
}

// StatusCode is the state of a transaction as known by the ledger.
type StatusCode int

const (
	// StatusNotFound means the ledger has never seen the transaction.
	StatusNotFound StatusCode = iota

	// StatusPending means the transaction is in the pool.
	StatusPending

	// StatusSuccess means the transaction has been included and executed.
	StatusSuccess

	// StatusFailed means the transaction has been included but its execution
	// failed. The state is left untouched apart from the nonce.
	StatusFailed
)

// String implements fmt.Stringer.
func (c StatusCode) String() string {
	switch c {
	case StatusPending:
		return "PENDING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	default:
		return "NOT_FOUND"
	}
}

// Status is the status of a transaction.
type Status struct {
	Code      StatusCode
	Height    uint64
	Timestamp time.Time
	Reason    string
}

// Simulation is the outcome of a dry run. Either the error is set, or the fee
// and the footprint are.
type Simulation struct {
	MinFee    uint64
	Footprint txn.Footprint
	Error     string
}

// Event is an event emitted by a successful transaction, with its position in
// its topic.
type Event struct {
	Index uint64
	Data  []byte
}

// Config is the set of parameters of the ledger.
type Config struct {
	// BlockInterval is the minimum delay between two blocks.
	BlockInterval time.Duration

	// BaseFee is the fee paid by every transaction.
	BaseFee uint64

	// PerKeyFee is the fee paid for every key of the footprint.
	PerKeyFee uint64

	// MaxBlockTxs is the maximum number of transactions in a block, or no
	// limit when it is zero.
	MaxBlockTxs int
}

// Fee returns the minimum fee of a transaction with the given footprint.
func (c Config) Fee(fp txn.Footprint) uint64 {
	return c.BaseFee + c.PerKeyFee*uint64(fp.Len())
}

// defines prometheus metrics
var (
	promBlocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "votechain_ledger_blocks_total",
		Help: "total number of blocks",
	})

	promPool = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "votechain_ledger_pool_length",
		Help: "number of transactions waiting in the pool",
	})

	promTxs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "votechain_ledger_transactions_total",
		Help: "total number of transactions by outcome",
	}, []string{"outcome"})
)

func init() {
	votechain.PromCollectors = append(votechain.PromCollectors, promBlocks,
		promPool, promTxs)
}
