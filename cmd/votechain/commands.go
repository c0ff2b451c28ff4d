package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/chain/local"
	"go.dedis.ch/votechain/chain/rpc"
	"go.dedis.ch/votechain/cli"
	"go.dedis.ch/votechain/config"
	"go.dedis.ch/votechain/contracts/vote"
	"go.dedis.ch/votechain/core/execution/native"
	"go.dedis.ch/votechain/core/ledger"
	"go.dedis.ch/votechain/core/store"
	"go.dedis.ch/votechain/core/store/kv"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/crypto/ed25519"
	"go.dedis.ch/votechain/crypto/loader"
	"go.dedis.ch/votechain/internal/tracing"
	"go.dedis.ch/votechain/pipeline"
	"go.dedis.ch/votechain/poll"
	"go.dedis.ch/votechain/poll/board"
	walletlocal "go.dedis.ch/votechain/wallet/local"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const serviceName = "votechain"

var keyFlag = cli.PathFlag{
	Name:    "key",
	Usage:   "path to the key file of the wallet",
	EnvVars: []string{config.EnvWalletKey},
	Value:   "wallet.key",
}

type app struct {
	in  io.Reader
	out io.Writer
}

func (a app) setCommands(builder cli.Builder) {
	node := builder.SetCommand("node")
	node.SetDescription("Development ledger node")

	start := node.SetSubCommand("start")
	start.SetDescription("Start the node and open the poll if needed")
	start.SetFlags(cli.StringFlag{
		Name:    "listen",
		Usage:   "address to listen on, overrides the configuration",
		EnvVars: []string{config.EnvNodeListen},
	})
	start.SetAction(a.startNode)

	wallet := builder.SetCommand("wallet")
	wallet.SetDescription("Manage the key of the participant")

	create := wallet.SetSubCommand("new")
	create.SetDescription("Create a new key")
	create.SetFlags(keyFlag)
	create.SetAction(a.newWallet)

	show := wallet.SetSubCommand("show")
	show.SetDescription("Print the address of the key")
	show.SetFlags(keyFlag)
	show.SetAction(a.showWallet)

	cast := builder.SetCommand("vote")
	cast.SetDescription("Cast a vote and wait for its confirmation")
	cast.SetFlags(
		cli.IntFlag{
			Name:     "option",
			Usage:    "identifier of the option to vote for",
			Required: true,
		},
		cli.BoolFlag{
			Name:  "yes",
			Usage: "approve the wallet requests without asking",
		},
		cli.PathFlag{
			Name:  "key",
			Usage: "path to the key file of the wallet, overrides the configuration",
		},
	)
	cast.SetAction(a.castVote)

	results := builder.SetCommand("results")
	results.SetDescription("Print the results of the poll")
	results.SetAction(a.showResults)

	feed := builder.SetCommand("feed")
	feed.SetDescription("Print the most recent votes of the poll")
	feed.SetFlags(cli.IntFlag{
		Name:  "limit",
		Usage: "maximum number of votes to print",
		Value: 10,
	})
	feed.SetAction(a.showFeed)
}

func (a app) startNode(ctx context.Context, flags cli.Flags) error {
	cfg, err := config.Load(flags.Path("config"))
	if err != nil {
		return err
	}

	if listen := flags.String("listen"); listen != "" {
		cfg.Node.Listen = listen
	}

	db, err := kv.New(cfg.Node.DB)
	if err != nil {
		return xerrors.Errorf("failed to open database: %v", err)
	}

	exec := native.NewExecution()
	vote.RegisterContract(exec, vote.NewContract())

	l, err := ledger.NewLedger(db, exec, ledger.WithConfig(cfg.LedgerConfig()))
	if err != nil {
		db.Close()
		return xerrors.Errorf("failed to create ledger: %v", err)
	}

	defer l.Close()

	err = openPoll(l, cfg)
	if err != nil {
		return err
	}

	srv := rpc.NewServer(cfg.Node.Listen, local.NewClient(l))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Listen(ctx)
	})

	g.Go(func() error {
		return l.Run(ctx)
	})

	g.Go(func() error {
		select {
		case <-srv.Ready():
			fmt.Fprintf(a.out, "Node of poll %d listening on %s\n", cfg.Poll.ID, srv.GetAddr())
		case <-ctx.Done():
		}

		return nil
	})

	return g.Wait()
}

// openPoll opens the poll of the configuration, unless a previous run of the
// node already did.
func openPoll(l *ledger.Ledger, cfg config.Config) error {
	var exists bool

	err := l.View(func(r store.Readable) error {
		var err error
		exists, err = vote.Exists(r, cfg.Poll.ID)
		return err
	})
	if err != nil {
		return xerrors.Errorf("failed to read poll: %v", err)
	}

	if exists {
		votechain.Logger.Info().Uint64("poll", cfg.Poll.ID).Msg("poll already open")
		return nil
	}

	options, err := cfg.PollOptions()
	if err != nil {
		return err
	}

	err = l.Initialize(func(snap store.Snapshot) error {
		return vote.Open(snap, cfg.Poll.ID, options.IDs())
	})
	if err != nil {
		return xerrors.Errorf("failed to open poll: %v", err)
	}

	votechain.Logger.Info().Uint64("poll", cfg.Poll.ID).Int("options", options.Len()).Msg("poll opened")

	return nil
}

func (a app) newWallet(ctx context.Context, flags cli.Flags) error {
	path := flags.Path("key")

	_, err := os.Stat(path)
	if err == nil {
		return xerrors.Errorf("key file '%s' already exists", path)
	}

	session := walletlocal.NewSession(loader.NewFileLoader(path))

	addr, err := session.Connect(ctx)
	if err != nil {
		return xerrors.Errorf("failed to create key: %v", err)
	}

	fmt.Fprintf(a.out, "Created key %s\nAddress: %s\n", path, addr)

	return nil
}

func (a app) showWallet(ctx context.Context, flags cli.Flags) error {
	data, err := loader.NewFileLoader(flags.Path("key")).Load()
	if err != nil {
		return xerrors.Errorf("failed to load key: %v", err)
	}

	signer, err := ed25519.NewSignerFromBytes(data)
	if err != nil {
		return xerrors.Errorf("invalid key: %v", err)
	}

	addr, err := txn.AddressOf(signer.GetPublicKey())
	if err != nil {
		return xerrors.Errorf("failed to compute address: %v", err)
	}

	fmt.Fprintln(a.out, addr)

	return nil
}

func (a app) castVote(ctx context.Context, flags cli.Flags) error {
	cfg, err := config.Load(flags.Path("config"))
	if err != nil {
		return err
	}

	options, err := cfg.PollOptions()
	if err != nil {
		return err
	}

	choice, found := options.Get(uint32(flags.Int("option")))
	if !found {
		return xerrors.Errorf("option %d: %w", flags.Int("option"), poll.ErrUnknownOption)
	}

	var approver walletlocal.Approver = walletlocal.NewPromptApprover(a.in, a.out)
	if flags.Bool("yes") {
		approver = walletlocal.AutoApprover{}
	}

	key := cfg.Wallet.Key
	if path := flags.Path("key"); path != "" {
		key = path
	}

	session := walletlocal.NewSession(loader.NewFileLoader(key), walletlocal.WithApprover(approver))

	client := rpc.NewClient(cfg.Node.URL)

	b := board.NewBoard(cfg.Poll.ID, options, board.WithFeedCapacity(cfg.Pipeline.FeedCapacity))
	b.OnVote(func(hash string) {
		fmt.Fprintf(a.out, "Vote for %q confirmed in transaction %s\n", choice.Label, hash)
	})

	tracer, err := tracing.GetTracerForService(serviceName)
	if err != nil {
		return xerrors.Errorf("failed to create tracer: %v", err)
	}

	defer func() {
		err := tracing.CloseAll()
		if err != nil {
			votechain.Logger.Warn().Err(err).Msg("failed to close tracers")
		}
	}()

	p := pipeline.NewPipeline(session, client, b,
		pipeline.WithConfig(cfg.PipelineConfig()),
		pipeline.WithTracer(tracer))

	addr, err := session.Connect(ctx)
	if err != nil {
		return xerrors.Errorf("failed to connect wallet: %v", err)
	}

	fmt.Fprintf(a.out, "Voting as %s\n", addr)

	watchCtx, stopWatch := context.WithCancel(ctx)
	transitions := p.Watch(watchCtx)

	done := make(chan struct{})
	go func() {
		defer close(done)

		for tr := range transitions {
			fmt.Fprintf(a.out, "  %v\n", tr.To)
		}
	}()

	receipt, err := p.Vote(ctx, choice.ID)

	stopWatch()
	<-done

	if err != nil {
		return xerrors.Errorf("vote not recorded (%v): %w", pipeline.KindOf(err), err)
	}

	fmt.Fprintf(a.out, "Recorded in block %d at %s\n", receipt.Height, receipt.Timestamp.Format(time.RFC3339))

	_, err = b.Sync(ctx, client)
	if err != nil {
		votechain.Logger.Warn().Err(err).Msg("failed to refresh the results")
	}

	printResults(a.out, cfg, b)

	return nil
}

func (a app) showResults(ctx context.Context, flags cli.Flags) error {
	cfg, b, err := syncBoard(ctx, flags)
	if err != nil {
		return err
	}

	printResults(a.out, cfg, b)

	return nil
}

func (a app) showFeed(ctx context.Context, flags cli.Flags) error {
	cfg, b, err := syncBoard(ctx, flags)
	if err != nil {
		return err
	}

	options, err := cfg.PollOptions()
	if err != nil {
		return err
	}

	events := b.Recent(flags.Int("limit"))
	if len(events) == 0 {
		fmt.Fprintln(a.out, "No vote yet")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, ev := range events {
		opt, _ := options.Get(ev.OptionID)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Timestamp.Format(time.RFC3339), ev.Voter, opt.Label, ev.TxHash)
	}

	return w.Flush()
}

// syncBoard reads every event of the poll from the node.
func syncBoard(ctx context.Context, flags cli.Flags) (config.Config, *board.Board, error) {
	cfg, err := config.Load(flags.Path("config"))
	if err != nil {
		return cfg, nil, err
	}

	options, err := cfg.PollOptions()
	if err != nil {
		return cfg, nil, err
	}

	b := board.NewBoard(cfg.Poll.ID, options, board.WithFeedCapacity(cfg.Pipeline.FeedCapacity))

	_, err = b.Sync(ctx, rpc.NewClient(cfg.Node.URL))
	if err != nil {
		return cfg, nil, xerrors.Errorf("failed to read the poll: %v", err)
	}

	return cfg, b, nil
}

func printResults(out io.Writer, cfg config.Config, b *board.Board) {
	snap := b.Snapshot()

	title := cfg.Poll.Title
	if title == "" {
		title = fmt.Sprintf("Poll %d", cfg.Poll.ID)
	}

	fmt.Fprintf(out, "%s (%d votes)\n", title, snap.Total())

	options, _ := cfg.PollOptions()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, opt := range options.All() {
		fmt.Fprintf(w, "  %d\t%s\t%d\t%.1f%%\n", opt.ID, opt.Label, snap.Count(opt.ID), 100*snap.Percentage(opt.ID))
	}

	w.Flush()

	leading, found := b.Leading()
	if found {
		fmt.Fprintf(out, "Leading: %s\n", leading.Label)
	}
}
