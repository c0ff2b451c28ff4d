package main

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/votechain/pipeline"
	"go.dedis.ch/votechain/poll"
	"golang.org/x/xerrors"
)

const pollTemplate = `
poll:
  id: 4
  title: Lunch
options:
  - id: 1
    label: Pizza
  - id: 2
    label: Sushi
node:
  url: http://%[1]s
  listen: %[1]s
  db: %[2]s
  blockInterval: 10ms
wallet:
  key: %[3]s
pipeline:
  pollInterval: 10ms
  confirmTimeout: 10s
`

func TestVotechain_Scenario(t *testing.T) {
	t.Setenv("JAEGER_DISABLED", "true")

	dir := t.TempDir()
	addr := freeAddr(t)
	key := filepath.Join(dir, "alice.key")

	cfgPath := filepath.Join(dir, "poll.yml")
	content := fmt.Sprintf(pollTemplate, addr, filepath.Join(dir, "ledger.db"), key)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0600))

	sigs := make(chan os.Signal)
	stopped := make(chan error, 1)

	go func() {
		stopped <- runWithCfg([]string{"votechain", "--config", cfgPath, "node", "start"},
			appConfig{Channel: sigs, Writer: io.Discard})
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}

		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 10*time.Millisecond)

	// Create the wallet of Alice.
	out, err := runCmd(t, "", "votechain", "wallet", "new", "--key", key)
	require.NoError(t, err)
	require.Contains(t, out, "Address: schnorr:")

	out, err = runCmd(t, "", "votechain", "wallet", "show", "--key", key)
	require.NoError(t, err)
	alice := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(alice, "schnorr:"))

	_, err = runCmd(t, "", "votechain", "wallet", "new", "--key", key)
	require.EqualError(t, err, fmt.Sprintf("key file '%s' already exists", key))

	// Alice votes with the key of the configuration.
	out, err = runCmd(t, "", "votechain", "--config", cfgPath, "vote", "--option", "2", "--yes")
	require.NoError(t, err)
	require.Contains(t, out, "Voting as "+alice)
	require.Contains(t, out, "Succeeded")
	require.Contains(t, out, `Vote for "Sushi" confirmed in transaction `)
	require.Contains(t, out, "Lunch (1 votes)")
	require.Contains(t, out, "Leading: Sushi")

	// A second vote is refused by the contract.
	_, err = runCmd(t, "", "votechain", "--config", cfgPath, "vote", "--option", "1", "--yes")
	require.Error(t, err)
	require.Equal(t, pipeline.KindSimulation, pipeline.KindOf(err))
	require.Contains(t, err.Error(), "vote not recorded (simulation)")

	// Bob approves the requests of the wallet on the prompt.
	out, err = runCmd(t, "y\ny\n", "votechain", "--config", cfgPath, "vote", "--option", "1",
		"--key", filepath.Join(dir, "bob.key"))
	require.NoError(t, err)
	require.Contains(t, out, "Allow to connect with schnorr:")
	require.Contains(t, out, "Allow to sign with schnorr:")
	require.Contains(t, out, "Lunch (2 votes)")

	out, err = runCmd(t, "", "votechain", "--config", cfgPath, "results")
	require.NoError(t, err)
	require.Contains(t, out, "Lunch (2 votes)")
	require.Contains(t, out, "50.0%")
	require.Contains(t, out, "Leading: Pizza")

	out, err = runCmd(t, "", "votechain", "--config", cfgPath, "feed", "--limit", "1")
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(out, "\n"))
	require.Contains(t, out, "Pizza")
	require.NotContains(t, out, alice)

	out, err = runCmd(t, "", "votechain", "--config", cfgPath, "feed")
	require.NoError(t, err)
	require.Contains(t, out, alice)

	// Simulate a Ctrl+C
	close(sigs)
	require.NoError(t, <-stopped)
}

func TestVotechain_Failures(t *testing.T) {
	dir := t.TempDir()

	_, err := runCmd(t, "", "votechain", "--config", filepath.Join(dir, "missing.yml"), "results")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read config: ")

	cfgPath := filepath.Join(dir, "poll.yml")
	content := fmt.Sprintf(pollTemplate, "127.0.0.1:1", filepath.Join(dir, "ledger.db"), "")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0600))

	_, err = runCmd(t, "", "votechain", "--config", cfgPath, "vote", "--option", "9", "--yes")
	require.True(t, xerrors.Is(err, poll.ErrUnknownOption))

	_, err = runCmd(t, "", "votechain", "--config", cfgPath, "results")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read the poll: ")

	_, err = runCmd(t, "", "votechain", "wallet", "show", "--key", filepath.Join(dir, "none.key"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load key: ")
}

// -----------------------------------------------------------------------------
// Utility functions

func runCmd(t *testing.T, input string, args ...string) (string, error) {
	out := new(bytes.Buffer)

	// The channel is never used so that the signals of the test process are
	// left alone.
	err := runWithCfg(args, appConfig{
		Channel: make(chan os.Signal),
		Reader:  strings.NewReader(input),
		Writer:  out,
	})

	return out.String(), err
}

func freeAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return addr
}
