package pipeline

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/chain"
	"go.dedis.ch/votechain/contracts/vote"
	"go.dedis.ch/votechain/core"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/core/txn/signed"
	"go.dedis.ch/votechain/crypto"
	"go.dedis.ch/votechain/crypto/ed25519"
	"go.dedis.ch/votechain/internal/tracing"
	"go.dedis.ch/votechain/poll"
	"go.dedis.ch/votechain/wallet"
	"golang.org/x/xerrors"
)

// Pipeline submits the votes of a wallet session. It is safe for concurrent
// use but refuses a vote while another one is in flight.
type Pipeline struct {
	sync.Mutex

	inFlight  atomic.Bool
	wallet    wallet.Session
	client    chain.Client
	sink      Sink
	config    Config
	watcher   *core.Watcher[Transition]
	tracer    opentracing.Tracer
	clock     func() time.Time
	pubkeyFac crypto.PublicKeyFactory
	txFac     signed.TransactionFactory
	logger    zerolog.Logger

	// last is the current attempt, or the last one to finish.
	last    Attempt
	started bool
}

// Option is the type of option to create a pipeline.
type Option func(*Pipeline)

// WithConfig sets the poll and the timings of the pipeline. Zero durations
// keep the defaults.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		p.config.PollID = cfg.PollID

		if cfg.PollInterval > 0 {
			p.config.PollInterval = cfg.PollInterval
		}

		if cfg.ConfirmTimeout > 0 {
			p.config.ConfirmTimeout = cfg.ConfirmTimeout
		}
	}
}

// WithTracer sets the tracer that receives the spans of the attempts.
func WithTracer(tracer opentracing.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

// WithClock sets the function used to timestamp the transitions.
func WithClock(fn func() time.Time) Option {
	return func(p *Pipeline) {
		p.clock = fn
	}
}

// NewPipeline creates a pipeline that signs with the wallet session and sends
// the transactions to the client. The sink can be nil.
func NewPipeline(w wallet.Session, client chain.Client, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		wallet: w,
		client: client,
		sink:   sink,
		config: Config{
			PollInterval:   DefaultPollInterval,
			ConfirmTimeout: DefaultConfirmTimeout,
		},
		watcher:   core.NewWatcher[Transition](),
		tracer:    opentracing.GlobalTracer(),
		clock:     time.Now,
		pubkeyFac: ed25519.NewPublicKeyFactory(),
		txFac:     signed.NewTransactionFactory(),
		logger:    votechain.Logger.With().Str("component", "pipeline").Logger(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// GetConfig returns the configuration of the pipeline.
func (p *Pipeline) GetConfig() Config {
	return p.config
}

// InFlight returns true if an attempt is not finished.
func (p *Pipeline) InFlight() bool {
	return p.inFlight.Load()
}

// Attempt returns the attempt in flight or the last one to finish. It returns
// false if no attempt has started yet.
func (p *Pipeline) Attempt() (Attempt, bool) {
	p.Lock()
	defer p.Unlock()

	return p.last, p.started
}

// Watch returns a channel that receives the transitions of the attempts until
// the context is done. The channel is closed afterwards. Transitions are queued
// for a slow reader so that the attempts never wait for it. When the context
// ends, the queued transitions are kept if the channel has room.
func (p *Pipeline) Watch(ctx context.Context) <-chan Transition {
	ch := make(chan Transition, watchCapacity)

	obs := newObserver()
	p.watcher.Add(obs)

	go func() {
		defer close(ch)
		defer p.watcher.Remove(obs)

		obs.forward(ctx, ch)
	}()

	return ch
}

// Vote casts a vote for the option and waits for its confirmation. Cancelling
// the context abandons the attempt only once it is confirming.
func (p *Pipeline) Vote(ctx context.Context, option uint32) (Receipt, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		promAttempts.WithLabelValues("Refused").Inc()

		return Receipt{}, &Error{Kind: KindAlreadyInFlight, State: Idle, Err: ErrAlreadyInFlight}
	}

	defer p.inFlight.Store(false)

	promInFlight.Inc()
	defer promInFlight.Dec()

	r := &run{
		Pipeline: p,
		attempt: Attempt{
			ID:        xid.New().String(),
			OptionID:  option,
			State:     Idle,
			StartedAt: p.clock(),
		},
		entered: time.Now(),
	}

	r.logger = p.logger.With().Str("attempt", r.attempt.ID).Logger()

	p.Lock()
	p.last = r.attempt
	p.started = true
	p.Unlock()

	root, rctx := opentracing.StartSpanFromContextWithTracer(ctx, p.tracer, "vote")
	root.SetTag(tracing.AttemptTag, r.attempt.ID)
	root.SetTag("option", option)
	defer root.Finish()

	r.root = root

	receipt, err := r.execute(rctx)
	if err != nil {
		ext.Error.Set(root, true)
		root.LogKV("error", err.Error())
	}

	promAttempts.WithLabelValues(r.attempt.State.String()).Inc()

	return receipt, err
}

// run is the execution of one attempt.
type run struct {
	*Pipeline

	attempt Attempt
	root    opentracing.Span
	entered time.Time
	logger  zerolog.Logger
}

func (r *run) execute(ctx context.Context) (Receipt, error) {
	// The steps until the submission are not interrupted by the caller.
	detached := context.WithoutCancel(ctx)

	tx, err := r.build(detached)
	if err != nil {
		return Receipt{}, err
	}

	outcome, err := r.simulate(detached, tx)
	if err != nil {
		return Receipt{}, err
	}

	tx, err = r.assemble(outcome, tx)
	if err != nil {
		return Receipt{}, err
	}

	tx, err = r.sign(detached, tx)
	if err != nil {
		return Receipt{}, err
	}

	hash, err := r.submit(detached, tx)
	if err != nil {
		return Receipt{}, err
	}

	status, err := r.confirm(ctx, hash)
	if err != nil {
		return Receipt{}, err
	}

	ts := status.Timestamp
	if ts.IsZero() {
		ts = r.clock()
	}

	r.move(Succeeded, nil)

	if r.sink != nil {
		ev := poll.NewVoteEvent(r.attempt.Voter, r.attempt.OptionID, ts, hash)

		err = r.sink.Confirmed(ev)
		if err != nil {
			// The vote is on the ledger whatever the sink does with it.
			r.logger.Error().Err(err).Str("tx", hash).Msg("sink refused the event")
		}
	}

	return Receipt{
		Attempt:   r.attempt.ID,
		Hash:      hash,
		Height:    status.Height,
		Timestamp: ts,
	}, nil
}

func (r *run) build(ctx context.Context) (*signed.Transaction, error) {
	r.move(Building, nil)

	span := r.step(Building)
	defer span.Finish()

	addr, connected := r.wallet.CurrentAddress()
	if !connected {
		return nil, r.fail(span, KindBuild, wallet.ErrNotConnected)
	}

	r.setVoter(addr)

	pubkey, err := addr.PublicKey(r.pubkeyFac)
	if err != nil {
		return nil, r.fail(span, KindBuild, xerrors.Errorf("voter: %v", err))
	}

	// The manager loads the account so that the nonce is fresh.
	mgr := signed.NewManager(pubkey, chain.NonceClient{Client: r.client})

	tx, err := mgr.Make(ctx, vote.Args(addr, r.config.PollID, r.attempt.OptionID)...)
	if err != nil {
		return nil, r.fail(span, classify(err, KindBuild), err)
	}

	span.SetTag("nonce", tx.GetNonce())

	return tx, nil
}

func (r *run) simulate(ctx context.Context, tx *signed.Transaction) (chain.SimulationOutcome, error) {
	r.move(Simulating, nil)

	span := r.step(Simulating)
	defer span.Finish()

	outcome, err := r.client.Simulate(ctx, tx)
	if err != nil {
		return outcome, r.fail(span, classify(err, KindSimulation), err)
	}

	if outcome.Failed() {
		return outcome, r.fail(span, KindSimulation, SimulationError{Reason: outcome.Error})
	}

	return outcome, nil
}

func (r *run) assemble(outcome chain.SimulationOutcome, tx *signed.Transaction) (*signed.Transaction, error) {
	r.move(Assembling, nil)

	span := r.step(Assembling)
	defer span.Finish()

	if outcome.MinFee == 0 {
		return nil, r.fail(span, KindAssembly, xerrors.New("simulation returned no fee"))
	}

	if outcome.Footprint.Len() == 0 {
		return nil, r.fail(span, KindAssembly, xerrors.New("simulation returned no footprint"))
	}

	tx, err := tx.Assemble(outcome.MinFee, outcome.Footprint)
	if err != nil {
		return nil, r.fail(span, KindAssembly, err)
	}

	span.SetTag("fee", outcome.MinFee)

	return tx, nil
}

func (r *run) sign(ctx context.Context, tx *signed.Transaction) (*signed.Transaction, error) {
	r.move(Signing, nil)

	span := r.step(Signing)
	defer span.Finish()

	envelope, err := tx.Serialize()
	if err != nil {
		return nil, r.fail(span, KindAssembly, xerrors.Errorf("failed to encode envelope: %v", err))
	}

	data, err := r.wallet.Sign(ctx, envelope)
	if err != nil {
		return nil, r.fail(span, classify(err, KindWalletUnavailable), err)
	}

	signedTx, err := r.txFac.TransactionOf(data)
	if err != nil {
		return nil, r.fail(span, KindWalletUnavailable,
			xerrors.Errorf("invalid signed envelope: %v", err))
	}

	if signedTx.GetSignature() == nil {
		return nil, r.fail(span, KindWalletUnavailable, xerrors.New("envelope is not signed"))
	}

	// The signature is verified against the identity of the envelope, which
	// must still be the transaction that was assembled.
	if !bytes.Equal(signedTx.GetID(), tx.GetID()) {
		return nil, r.fail(span, KindWalletUnavailable,
			xerrors.New("wallet signed a different transaction"))
	}

	return signedTx, nil
}

func (r *run) submit(ctx context.Context, tx *signed.Transaction) (string, error) {
	r.move(Submitting, nil)

	span := r.step(Submitting)
	defer span.Finish()

	receipt, err := r.client.Submit(ctx, tx)
	if err != nil {
		return "", r.fail(span, classify(err, KindProtocol), err)
	}

	span.SetTag("tx", receipt.Hash)

	r.Lock()
	r.attempt.Hash = receipt.Hash
	r.last = r.attempt
	r.Unlock()

	return receipt.Hash, nil
}

// confirm checks the status of the transaction until the ledger includes it.
// Network failures only fail the current check.
func (r *run) confirm(ctx context.Context, hash string) (chain.TxStatus, error) {
	r.move(Confirming, nil)

	span := r.step(Confirming)
	defer span.Finish()

	cctx, cancel := context.WithTimeout(ctx, r.config.ConfirmTimeout)
	defer cancel()

	checks := 0

	for {
		checks++

		status, err := r.client.GetStatus(cctx, hash)

		switch {
		case err == nil && status.Code == chain.StatusSuccess:
			span.SetTag("checks", checks)
			return status, nil
		case err == nil && status.Code == chain.StatusFailed:
			perr := &chain.ProtocolError{Op: "confirm", Reason: status.Reason}
			return status, r.fail(span, KindProtocol, perr)
		case err == nil:
			r.logger.Debug().Str("tx", hash).Stringer("status", status.Code).Msg("waiting")
		case cctx.Err() != nil:
			// The check has been interrupted by the end of the context.
		case classify(err, KindNone) == KindNetwork:
			r.logger.Warn().Err(err).Str("tx", hash).Msg("status check failed")
		default:
			return status, r.fail(span, classify(err, KindProtocol), err)
		}

		timer := time.NewTimer(r.config.PollInterval)

		select {
		case <-cctx.Done():
			timer.Stop()

			if ctx.Err() != nil {
				return chain.TxStatus{}, r.fail(span, KindAbandoned,
					xerrors.Errorf("tx %s: %w", hash, ErrAbandoned))
			}

			return chain.TxStatus{}, r.fail(span, KindTimedOut,
				xerrors.Errorf("tx %s: %w", hash, ErrTimedOut))
		case <-timer.C:
		}
	}
}

func (r *run) step(state State) opentracing.Span {
	return r.tracer.StartSpan(state.String(), opentracing.ChildOf(r.root.Context()))
}

// fail moves the attempt to the terminal state of the kind of failure, and
// returns the error of the pipeline.
func (r *run) fail(span opentracing.Span, kind Kind, cause error) error {
	err := &Error{Kind: kind, State: r.attempt.State, Err: cause}

	ext.Error.Set(span, true)
	span.LogKV("error", cause.Error())

	switch kind {
	case KindTimedOut:
		r.move(TimedOut, err)
	case KindAbandoned:
		r.move(Abandoned, err)
	default:
		r.move(Failed, err)
	}

	return err
}

func (r *run) setVoter(addr txn.Address) {
	r.Lock()
	r.attempt.Voter = addr
	r.last = r.attempt
	r.Unlock()
}

// move changes the state of the attempt and notifies the observers.
func (r *run) move(to State, err error) {
	now := time.Now()
	from := r.attempt.State

	if from != Idle {
		promSteps.WithLabelValues(from.String()).Observe(now.Sub(r.entered).Seconds())
	}

	r.entered = now

	r.Lock()
	r.attempt.State = to
	if err != nil {
		r.attempt.LastError = err
	}
	r.last = r.attempt
	r.Unlock()

	event := r.logger.Debug()
	if to.Terminal() {
		event = r.logger.Info()
	}

	event.Stringer("from", from).
		Stringer("to", to).
		Uint32("option", r.attempt.OptionID).
		AnErr("error", err).
		Msg("transition")

	r.watcher.Notify(Transition{
		Attempt: r.attempt.ID,
		From:    from,
		To:      to,
		Time:    r.clock(),
		Err:     err,
	})
}

// observer queues the transitions of a watcher. The queue is unbounded and
// emptied by the goroutine of the watcher.
//
// - implements core.Observer
type observer struct {
	sync.Mutex

	queue  []Transition
	signal chan struct{}
}

func newObserver() *observer {
	return &observer{signal: make(chan struct{}, 1)}
}

// NotifyCallback implements core.Observer. It never blocks.
func (obs *observer) NotifyCallback(event Transition) {
	obs.Lock()
	obs.queue = append(obs.queue, event)
	obs.Unlock()

	select {
	case obs.signal <- struct{}{}:
	default:
	}
}

// forward sends the queued transitions to the channel in order until the
// context is done.
func (obs *observer) forward(ctx context.Context, ch chan<- Transition) {
	var batch []Transition

	for {
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				obs.flush(ch, nil)
				return
			case <-obs.signal:
				batch = obs.drain()
			}

			continue
		}

		select {
		case ch <- batch[0]:
			batch = batch[1:]
		case <-ctx.Done():
			obs.flush(ch, batch)
			return
		}
	}
}

// flush moves what is left to the channel without waiting for the reader.
func (obs *observer) flush(ch chan<- Transition, batch []Transition) {
	for _, event := range append(batch, obs.drain()...) {
		select {
		case ch <- event:
		default:
			return
		}
	}
}

func (obs *observer) drain() []Transition {
	obs.Lock()
	defer obs.Unlock()

	events := obs.queue
	obs.queue = nil

	return events
}
