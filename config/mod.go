// Package config defines the configuration of a poll and of the components
// that take part in it.
//
// The configuration is read from a YAML file. Environment variables prefixed
// with VOTECHAIN_ override the file, and can be set in a .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.dedis.ch/votechain/contracts/vote"
	"go.dedis.ch/votechain/core/ledger"
	"go.dedis.ch/votechain/pipeline"
	"go.dedis.ch/votechain/poll"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// Names of the environment variables that override the configuration.
const (
	EnvNodeURL        = "VOTECHAIN_NODE_URL"
	EnvNodeListen     = "VOTECHAIN_NODE_LISTEN"
	EnvNodeDB         = "VOTECHAIN_NODE_DB"
	EnvWalletKey      = "VOTECHAIN_WALLET_KEY"
	EnvPollID         = "VOTECHAIN_POLL_ID"
	EnvPollInterval   = "VOTECHAIN_PIPELINE_POLL_INTERVAL"
	EnvConfirmTimeout = "VOTECHAIN_PIPELINE_CONFIRM_TIMEOUT"
)

// Poll identifies the poll of the contract.
type Poll struct {
	ID    uint64 `yaml:"id"`
	Title string `yaml:"title"`
}

// Option is a choice of the poll.
type Option struct {
	ID    uint32 `yaml:"id"`
	Label string `yaml:"label"`
}

// Node is the configuration of the ledger node, and how to reach it.
type Node struct {
	URL           string        `yaml:"url"`
	Listen        string        `yaml:"listen"`
	DB            string        `yaml:"db"`
	BlockInterval time.Duration `yaml:"blockInterval"`
	BaseFee       uint64        `yaml:"baseFee"`
	PerKeyFee     uint64        `yaml:"perKeyFee"`
	MaxBlockTxs   int           `yaml:"maxBlockTxs"`
}

// Wallet is the configuration of the local wallet.
type Wallet struct {
	Key string `yaml:"key"`
}

// Pipeline is the configuration of the submission of the votes.
type Pipeline struct {
	PollInterval   time.Duration `yaml:"pollInterval"`
	ConfirmTimeout time.Duration `yaml:"confirmTimeout"`
	FeedCapacity   int           `yaml:"feedCapacity"`
}

// Config is the configuration of a participant, or of a node, of a poll.
type Config struct {
	Contract string   `yaml:"contract"`
	Poll     Poll     `yaml:"poll"`
	Options  []Option `yaml:"options"`
	Node     Node     `yaml:"node"`
	Wallet   Wallet   `yaml:"wallet"`
	Pipeline Pipeline `yaml:"pipeline"`
}

// Default returns the configuration used for the values absent from the file.
func Default() Config {
	return Config{
		Contract: vote.ContractName,
		Poll:     Poll{ID: 1},
		Node: Node{
			URL:           "http://127.0.0.1:8080",
			Listen:        "127.0.0.1:8080",
			DB:            "ledger.db",
			BlockInterval: time.Second,
			BaseFee:       100,
			PerKeyFee:     10,
		},
		Wallet: Wallet{
			Key: "wallet.key",
		},
		Pipeline: Pipeline{
			PollInterval:   pipeline.DefaultPollInterval,
			ConfirmTimeout: pipeline.DefaultConfirmTimeout,
		},
	}
}

// LoadEnv loads the .env files in the environment. The current variables are
// not overridden, and a missing file is ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		err := godotenv.Load(file)
		if err != nil && !os.IsNotExist(err) {
			return xerrors.Errorf("failed to load '%s': %v", file, err)
		}
	}

	return nil
}

// Load reads the configuration file, applies the environment and validates the
// result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, xerrors.Errorf("failed to read config: %v", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, xerrors.Errorf("config '%s': %v", path, err)
	}

	return cfg, nil
}

// Parse decodes the YAML document, applies the environment and validates the
// result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	err := yaml.UnmarshalStrict(data, &cfg)
	if err != nil {
		return Config{}, xerrors.Errorf("failed to decode: %v", err)
	}

	err = cfg.ApplyEnv(os.LookupEnv)
	if err != nil {
		return Config{}, err
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyEnv overrides the values for which the lookup finds a variable.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		EnvNodeURL:    &c.Node.URL,
		EnvNodeListen: &c.Node.Listen,
		EnvNodeDB:     &c.Node.DB,
		EnvWalletKey:  &c.Wallet.Key,
	}

	for name, field := range strs {
		value, found := lookup(name)
		if found {
			*field = value
		}
	}

	if value, found := lookup(EnvPollID); found {
		id, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return xerrors.Errorf("invalid %s: %v", EnvPollID, err)
		}

		c.Poll.ID = id
	}

	durations := map[string]*time.Duration{
		EnvPollInterval:   &c.Pipeline.PollInterval,
		EnvConfirmTimeout: &c.Pipeline.ConfirmTimeout,
	}

	for name, field := range durations {
		value, found := lookup(name)
		if !found {
			continue
		}

		d, err := time.ParseDuration(value)
		if err != nil {
			return xerrors.Errorf("invalid %s: %v", name, err)
		}

		*field = d
	}

	return nil
}

// Validate returns an error if the configuration cannot be used.
func (c Config) Validate() error {
	if c.Contract != vote.ContractName {
		return xerrors.Errorf("unsupported contract '%s'", c.Contract)
	}

	if c.Poll.ID == 0 {
		return xerrors.New("missing poll identifier")
	}

	if len(c.Options) == 0 {
		return xerrors.New("missing options")
	}

	_, err := c.PollOptions()
	if err != nil {
		return err
	}

	if c.Pipeline.PollInterval <= 0 || c.Pipeline.ConfirmTimeout <= 0 {
		return xerrors.New("pipeline durations must be positive")
	}

	if c.Pipeline.FeedCapacity < 0 {
		return xerrors.New("feed capacity must not be negative")
	}

	if c.Node.BlockInterval <= 0 {
		return xerrors.New("block interval must be positive")
	}

	if c.Node.MaxBlockTxs < 0 {
		return xerrors.New("block size must not be negative")
	}

	return nil
}

// PollOptions returns the validated options of the poll.
func (c Config) PollOptions() (poll.Options, error) {
	opts := make([]poll.VoteOption, len(c.Options))
	for i, opt := range c.Options {
		opts[i] = poll.VoteOption{ID: opt.ID, Label: opt.Label}
	}

	options, err := poll.NewOptions(opts...)
	if err != nil {
		return poll.Options{}, xerrors.Errorf("invalid options: %v", err)
	}

	return options, nil
}

// LedgerConfig returns the configuration of the development ledger.
func (c Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		BlockInterval: c.Node.BlockInterval,
		BaseFee:       c.Node.BaseFee,
		PerKeyFee:     c.Node.PerKeyFee,
		MaxBlockTxs:   c.Node.MaxBlockTxs,
	}
}

// PipelineConfig returns the configuration of the submission pipeline.
func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		PollID:         c.Poll.ID,
		PollInterval:   c.Pipeline.PollInterval,
		ConfirmTimeout: c.Pipeline.ConfirmTimeout,
	}
}
