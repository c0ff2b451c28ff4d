package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/core/execution"
	"go.dedis.ch/votechain/core/store"
	"go.dedis.ch/votechain/core/store/kv"
	"go.dedis.ch/votechain/core/store/mem"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/core/txn/pool"
	"go.dedis.ch/votechain/core/txn/signed"
	"golang.org/x/xerrors"
)

var (
	stateBucket    = []byte("state")
	accountsBucket = []byte("accounts")
	txsBucket      = []byte("transactions")
	metaBucket     = []byte("meta")
	eventsBucket   = []byte("events")

	heightKey = []byte("height")
)

// statusJSON is the stored status of an included transaction.
type statusJSON struct {
	Success   bool
	Height    uint64
	Timestamp int64
	Reason    string `json:",omitempty"`
}

// Ledger is the development ledger.
type Ledger struct {
	sync.Mutex

	db     kv.DB
	exec   execution.Service
	pool   *pool.Queue
	config Config
	clock  func() time.Time
	logger zerolog.Logger
}

// Option is the type of option to configure the ledger.
type Option func(*Ledger)

// WithConfig sets the block interval and the fee schedule.
func WithConfig(cfg Config) Option {
	return func(l *Ledger) {
		l.config = cfg
	}
}

// WithClock sets the function used to timestamp the blocks.
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = fn
	}
}

// NewLedger creates a ledger that persists in the database and executes the
// transactions with the service.
func NewLedger(db kv.DB, exec execution.Service, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		db:   db,
		exec: exec,
		pool: pool.NewQueue(),
		config: Config{
			BlockInterval: time.Second,
			BaseFee:       100,
			PerKeyFee:     10,
		},
		clock:  time.Now,
		logger: votechain.Logger.With().Str("component", "ledger").Logger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	err := db.Update(func(tx kv.WritableTx) error {
		for _, name := range [][]byte{stateBucket, accountsBucket, txsBucket, metaBucket, eventsBucket} {
			_, err := tx.GetBucketOrCreate(name)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to create buckets: %v", err)
	}

	return l, nil
}

// GetConfig returns the configuration of the ledger.
func (l *Ledger) GetConfig() Config {
	return l.config
}

// Initialize runs the function on the state inside a single database
// transaction. It is used to install the genesis state of the contracts.
func (l *Ledger) Initialize(fn func(store.Snapshot) error) error {
	return l.db.Update(func(tx kv.WritableTx) error {
		return fn(kv.NewSnapshot(tx.GetBucket(stateBucket)))
	})
}

// View runs the read-only function on the current state.
func (l *Ledger) View(fn func(store.Readable) error) error {
	return l.db.View(func(tx kv.ReadableTx) error {
		return fn(kv.NewSnapshot(tx.GetBucket(stateBucket)))
	})
}

// Height returns the height of the last block.
func (l *Ledger) Height() (uint64, error) {
	var height uint64

	err := l.db.View(func(tx kv.ReadableTx) error {
		height = readUint(tx.GetBucket(metaBucket), heightKey)
		return nil
	})
	if err != nil {
		return 0, xerrors.Errorf("failed to read height: %v", err)
	}

	return height, nil
}

// GetNonce returns the next nonce expected from the account, without counting
// the transactions in the pool.
func (l *Ledger) GetNonce(addr txn.Address) (uint64, error) {
	var nonce uint64

	err := l.db.View(func(tx kv.ReadableTx) error {
		nonce = readUint(tx.GetBucket(accountsBucket), []byte(addr))
		return nil
	})
	if err != nil {
		return 0, xerrors.Errorf("failed to read account: %v", err)
	}

	return nonce, nil
}

// GetPendingNonce returns the next nonce the account can use, which takes the
// transactions in the pool into account.
func (l *Ledger) GetPendingNonce(addr txn.Address) (uint64, error) {
	l.Lock()
	defer l.Unlock()

	nonce, err := l.GetNonce(addr)
	if err != nil {
		return 0, err
	}

	return nonce + uint64(l.pool.Pending(addr)), nil
}

// Simulate executes the transaction on a copy of the state that is discarded
// afterwards. It returns the footprint the execution produced and the fee the
// transaction must pay. A contract failure is reported in the outcome.
func (l *Ledger) Simulate(tx txn.Transaction) (Simulation, error) {
	addr, err := txn.AddressOf(tx.GetIdentity())
	if err != nil {
		return Simulation{}, reject("invalid identity: %v", err)
	}

	var sim Simulation

	err = l.db.View(func(dbtx kv.ReadableTx) error {
		nonce := readUint(dbtx.GetBucket(accountsBucket), []byte(addr))
		if tx.GetNonce() < nonce {
			sim.Error = xerrors.Errorf("nonce %d is already used", tx.GetNonce()).Error()
			return nil
		}

		step := execution.Step{
			Current:   tx,
			Height:    readUint(dbtx.GetBucket(metaBucket), heightKey) + 1,
			Timestamp: l.clock(),
		}

		overlay := mem.NewOverlay(kv.NewSnapshot(dbtx.GetBucket(stateBucket)))

		res, err := l.exec.Execute(overlay, step)
		if err != nil {
			sim.Error = err.Error()
			return nil
		}

		if !res.Accepted {
			sim.Error = res.Message
			return nil
		}

		sim.Footprint = overlay.Footprint()
		sim.MinFee = l.config.Fee(sim.Footprint)

		return nil
	})
	if err != nil {
		return Simulation{}, xerrors.Errorf("failed to read state: %v", err)
	}

	return sim, nil
}

// Submit verifies the transaction and adds it to the pool. A refusal is
// returned as a RejectedError.
func (l *Ledger) Submit(tx *signed.Transaction) error {
	if tx.GetSignature() == nil {
		return reject("missing signature")
	}

	err := tx.GetIdentity().Verify(tx.GetID(), tx.GetSignature())
	if err != nil {
		return reject("invalid signature: %v", err)
	}

	addr, err := txn.AddressOf(tx.GetIdentity())
	if err != nil {
		return reject("invalid identity: %v", err)
	}

	if tx.GetFootprint().Len() == 0 {
		return reject("missing footprint")
	}

	minFee := l.config.Fee(tx.GetFootprint())
	if tx.GetFee() < minFee {
		return reject("insufficient fee: %d < %d", tx.GetFee(), minFee)
	}

	l.Lock()
	defer l.Unlock()

	nonce, err := l.GetNonce(addr)
	if err != nil {
		return err
	}

	expected := nonce + uint64(l.pool.Pending(addr))
	if tx.GetNonce() != expected {
		return reject("sequence conflict: expected nonce %d, got %d", expected, tx.GetNonce())
	}

	err = l.pool.Add(tx)
	if err != nil {
		return reject("%v", err)
	}

	promPool.Set(float64(l.pool.Len()))

	l.logger.Debug().
		Str("tx", txn.HexID(tx)).
		Str("address", addr.String()).
		Uint64("nonce", tx.GetNonce()).
		Msg("transaction accepted in the pool")

	return nil
}

// GetStatus returns the status of the transaction with the given identifier.
func (l *Ledger) GetStatus(id []byte) (Status, error) {
	var stored []byte

	err := l.db.View(func(tx kv.ReadableTx) error {
		value := tx.GetBucket(txsBucket).Get(id)
		if value != nil {
			stored = append([]byte{}, value...)
		}

		return nil
	})
	if err != nil {
		return Status{}, xerrors.Errorf("failed to read status: %v", err)
	}

	if stored != nil {
		var m statusJSON

		err = json.Unmarshal(stored, &m)
		if err != nil {
			return Status{}, xerrors.Errorf("failed to decode status: %v", err)
		}

		status := Status{
			Code:      StatusFailed,
			Height:    m.Height,
			Timestamp: time.Unix(0, m.Timestamp),
			Reason:    m.Reason,
		}

		if m.Success {
			status.Code = StatusSuccess
		}

		return status, nil
	}

	if l.pool.Has(id) {
		return Status{Code: StatusPending}, nil
	}

	return Status{Code: StatusNotFound}, nil
}

// Run produces the blocks until the context is done. It waits for at least
// one transaction in the pool and then for the block interval between two
// blocks.
func (l *Ledger) Run(ctx context.Context) error {
	l.logger.Info().Dur("interval", l.config.BlockInterval).Msg("block loop started")

	for {
		txs := l.pool.Wait(ctx, pool.Config{Min: 1, Max: l.config.MaxBlockTxs})
		if txs == nil {
			l.logger.Info().Msg("block loop stopped")
			return nil
		}

		err := l.commit(txs)
		if err != nil {
			return xerrors.Errorf("failed to commit block: %v", err)
		}

		timer := time.NewTimer(l.config.BlockInterval)

		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info().Msg("block loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Close stops the pool and closes the database.
func (l *Ledger) Close() error {
	l.pool.Close()

	return l.db.Close()
}

// commit executes the transactions in a new block. Every transaction updates
// the nonce of its identity. Only the successful ones update the state.
func (l *Ledger) commit(txs []txn.Transaction) error {
	l.Lock()
	defer l.Unlock()

	accepted := 0

	err := l.db.Update(func(dbtx kv.WritableTx) error {
		meta := dbtx.GetBucket(metaBucket)
		accounts := dbtx.GetBucket(accountsBucket)
		statuses := dbtx.GetBucket(txsBucket)
		events := dbtx.GetBucket(eventsBucket)
		state := kv.NewSnapshot(dbtx.GetBucket(stateBucket))

		height := readUint(meta, heightKey) + 1
		now := l.clock()

		for _, tx := range txs {
			status, log := l.execute(accounts, state, tx, height, now)
			if status.Success {
				accepted++

				err := storeEvents(meta, events, log.GetEvents())
				if err != nil {
					return xerrors.Errorf("failed to store events: %v", err)
				}
			}

			data, err := json.Marshal(status)
			if err != nil {
				return xerrors.Errorf("failed to encode status: %v", err)
			}

			err = statuses.Set(tx.GetID(), data)
			if err != nil {
				return xerrors.Errorf("failed to store status: %v", err)
			}
		}

		err := writeUint(meta, heightKey, height)
		if err != nil {
			return xerrors.Errorf("failed to store height: %v", err)
		}

		dbtx.OnCommit(func() {
			err := l.pool.Remove(txs...)
			if err != nil {
				l.logger.Warn().Err(err).Msg("failed to clean the pool")
			}

			promBlocks.Set(float64(height))
			promPool.Set(float64(l.pool.Len()))

			l.logger.Info().
				Uint64("height", height).
				Int("txs", len(txs)).
				Int("accepted", accepted).
				Msg("block committed")
		})

		return nil
	})
	if err != nil {
		return xerrors.Errorf("database failed: %v", err)
	}

	promTxs.WithLabelValues("accepted").Add(float64(accepted))
	promTxs.WithLabelValues("rejected").Add(float64(len(txs) - accepted))

	return nil
}

func (l *Ledger) execute(accounts kv.Bucket, state store.Snapshot,
	tx txn.Transaction, height uint64, now time.Time) (statusJSON, *execution.EventLog) {

	status := statusJSON{
		Height:    height,
		Timestamp: now.UnixNano(),
	}

	log := &execution.EventLog{}

	addr, err := txn.AddressOf(tx.GetIdentity())
	if err != nil {
		status.Reason = err.Error()
		return status, log
	}

	nonce := readUint(accounts, []byte(addr))
	if nonce != tx.GetNonce() {
		status.Reason = xerrors.Errorf("stale nonce %d, expected %d", tx.GetNonce(), nonce).Error()
		return status, log
	}

	err = writeUint(accounts, []byte(addr), nonce+1)
	if err != nil {
		status.Reason = err.Error()
		return status, log
	}

	overlay := mem.NewOverlay(state)

	step := execution.Step{
		Current:   tx,
		Height:    height,
		Timestamp: now,
		Log:       log,
	}

	res, err := l.exec.Execute(overlay, step)
	if err != nil {
		status.Reason = err.Error()
		return status, log
	}

	if !res.Accepted {
		status.Reason = res.Message
		return status, log
	}

	if !tx.GetFootprint().Covers(overlay.Footprint()) {
		status.Reason = "footprint exceeded"
		return status, log
	}

	err = overlay.Flush(state)
	if err != nil {
		status.Reason = err.Error()
		return status, log
	}

	status.Success = true

	return status, log
}

// Events returns the events of the topic starting at the index, in order of
// emission. At most limit events are returned when limit is positive.
func (l *Ledger) Events(topic string, from uint64, limit int) ([]Event, error) {
	events := []Event{}

	err := l.db.View(func(tx kv.ReadableTx) error {
		prefix := []byte(topic + "/")

		return tx.GetBucket(eventsBucket).Scan(prefix, func(k, v []byte) error {
			if limit > 0 && len(events) >= limit {
				return nil
			}

			index, err := strconv.ParseUint(string(k[len(prefix):]), 16, 64)
			if err != nil || index < from {
				return nil
			}

			events = append(events, Event{Index: index, Data: append([]byte{}, v...)})

			return nil
		})
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to read events: %v", err)
	}

	return events, nil
}

func storeEvents(meta, bucket kv.Bucket, events []execution.Event) error {
	for _, event := range events {
		seqKey := []byte("seq/" + event.Topic)

		index := readUint(meta, seqKey)

		err := bucket.Set(eventKey(event.Topic, index), event.Data)
		if err != nil {
			return err
		}

		err = writeUint(meta, seqKey, index+1)
		if err != nil {
			return err
		}
	}

	return nil
}

func eventKey(topic string, index uint64) []byte {
	return []byte(fmt.Sprintf("%s/%016x", topic, index))
}

func readUint(bucket kv.Bucket, key []byte) uint64 {
	value := bucket.Get(key)
	if len(value) != 8 {
		return 0
	}

	return binary.BigEndian.Uint64(value)
}

func writeUint(bucket kv.Bucket, key []byte, value uint64) error {
	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, value)

	return bucket.Set(key, buffer)
}
