// Package main implements the votechain command line: it runs a development
// ledger node, manages the wallet of a participant, casts a vote and prints
// the results of a poll.
//
//	votechain --config poll.yml node start
//	votechain wallet new
//	votechain --config poll.yml vote --option 2
//	votechain --config poll.yml results
//	votechain --config poll.yml feed --limit 10
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/cli"
	"go.dedis.ch/votechain/cli/ucli"
	"go.dedis.ch/votechain/config"
)

func main() {
	err := run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	return runWithCfg(args, appConfig{Reader: os.Stdin, Writer: os.Stdout})
}

// appConfig defines the input and output of the application, and the channel
// that stops it. Signals are listened to when no channel is provided.
type appConfig struct {
	Channel chan os.Signal
	Reader  io.Reader
	Writer  io.Writer
}

func runWithCfg(args []string, cfg appConfig) error {
	err := config.LoadEnv()
	if err != nil {
		return err
	}

	if cfg.Channel == nil {
		cfg.Channel = make(chan os.Signal, 1)
		signal.Notify(cfg.Channel, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(cfg.Channel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-cfg.Channel:
			votechain.Logger.Info().Msg("stopping")
			cancel()
		case <-ctx.Done():
		}
	}()

	builder := ucli.NewBuilder("votechain", cli.PathFlag{
		Name:    "config",
		Usage:   "path to the configuration of the poll",
		EnvVars: []string{"VOTECHAIN_CONFIG"},
		Value:   "poll.yml",
	})

	builder.SetUsage("cast votes and follow the results of a poll recorded on a ledger")
	builder.SetIO(cfg.Reader, cfg.Writer)

	a := app{in: cfg.Reader, out: cfg.Writer}
	a.setCommands(builder)

	return builder.Build().RunContext(ctx, args)
}
