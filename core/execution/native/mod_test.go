package native

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/votechain/core/execution"
	"go.dedis.ch/votechain/core/store"
	"go.dedis.ch/votechain/core/txn"
	"go.dedis.ch/votechain/internal/testing/fake"
)

func TestService_Execute(t *testing.T) {
	srvc := NewExecution()
	srvc.Set("abc", fakeExec{})
	srvc.Set("bad", fakeExec{err: fake.GetError()})

	step := execution.Step{}
	step.Current = fakeTx{contract: "abc"}

	res, err := srvc.Execute(nil, step)
	require.NoError(t, err)
	require.Equal(t, execution.Result{Accepted: true}, res)

	step.Current = fakeTx{contract: "bad"}
	res, err = srvc.Execute(nil, step)
	require.NoError(t, err)
	require.Equal(t, execution.Result{Message: fake.GetError().Error()}, res)

	srvc.Set("panic", fakeExec{panic: true})

	step.Current = fakeTx{contract: "panic"}
	res, err = srvc.Execute(nil, step)
	require.NoError(t, err)
	require.Equal(t, execution.Result{Message: "contract 'panic' panicked: oops"}, res)

	step.Current = fakeTx{contract: "none"}
	_, err = srvc.Execute(nil, step)
	require.EqualError(t, err, "unknown contract 'none'")
}

func TestService_Set(t *testing.T) {
	srvc := NewExecution()
	srvc.Set("abc", fakeExec{})

	require.PanicsWithError(t, "contract 'abc' already registered", func() {
		srvc.Set("abc", fakeExec{})
	})
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeExec struct {
	err   error
	panic bool
}

func (e fakeExec) Execute(store.Snapshot, execution.Step) error {
	if e.panic {
		panic("oops")
	}

	return e.err
}

type fakeTx struct {
	txn.Transaction
	contract string
}

func (tx fakeTx) GetArg(key string) []byte {
	return []byte(tx.contract)
}
