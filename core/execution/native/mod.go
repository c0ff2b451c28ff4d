// Package native implements the execution of the contracts compiled with the
// node, like the vote contract.
//
// The contract is selected by the ContractArg argument of the transaction.
package native

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/core/execution"
	"go.dedis.ch/votechain/core/store"
	"golang.org/x/xerrors"
)

// ContractArg is the argument of a transaction that names the contract.
const ContractArg = "votechain.Contract"

// Contract is a contract executed natively. It has full access to the
// snapshot, which is discarded by the ledger when the execution fails.
type Contract interface {
	Execute(store.Snapshot, execution.Step) error
}

// Service runs the contracts registered with Set.
//
// - implements execution.Service
type Service struct {
	contracts map[string]Contract
	logger    zerolog.Logger
}

// NewExecution returns a service without any contract.
func NewExecution() *Service {
	return &Service{
		contracts: map[string]Contract{},
		logger:    votechain.Logger.With().Str("component", "native").Logger(),
	}
}

// Set registers the contract under the name. It panics if the name is taken.
func (ns *Service) Set(name string, contract Contract) {
	if _, ok := ns.contracts[name]; ok {
		panic(xerrors.Errorf("contract '%s' already registered", name))
	}

	ns.contracts[name] = contract
}

// Execute implements execution.Service. A failure of the contract, including a
// panic, rejects the transaction without failing the execution.
func (ns *Service) Execute(snap store.Snapshot, step execution.Step) (res execution.Result, err error) {
	name := string(step.Current.GetArg(ContractArg))

	contract := ns.contracts[name]
	if contract == nil {
		return execution.Result{}, xerrors.Errorf("unknown contract '%s'", name)
	}

	defer func() {
		if r := recover(); r != nil {
			ns.logger.Error().Str("contract", name).Interface("panic", r).Msg("contract panicked")

			res = execution.Result{Message: fmt.Sprintf("contract '%s' panicked: %v", name, r)}
			err = nil
		}
	}()

	err = contract.Execute(snap, step)
	if err != nil {
		ns.logger.Debug().Str("contract", name).Err(err).Msg("transaction rejected")

		return execution.Result{Message: err.Error()}, nil
	}

	return execution.Result{Accepted: true}, nil
}
