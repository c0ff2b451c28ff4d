package native

import (
	"encoding/binary"
	"fmt"

	"go.dedis.ch/votechain/core/execution"
	"go.dedis.ch/votechain/core/store"
	"go.dedis.ch/votechain/core/store/mem"
	"go.dedis.ch/votechain/core/txn/signed"
	"go.dedis.ch/votechain/crypto/ed25519"
)

func ExampleService_Execute() {
	srvc := NewExecution()
	srvc.Set("example", exampleContract{})

	snap := mem.NewOverlay(nil)
	signer := ed25519.NewSigner()

	increment := make([]byte, 8)
	binary.LittleEndian.PutUint64(increment, 5)

	opts := []signed.TransactionOption{
		signed.WithArg("increment", increment),
		signed.WithArg(ContractArg, []byte("example")),
	}

	tx, err := signed.NewTransaction(0, signer.GetPublicKey(), opts...)
	if err != nil {
		panic("failed to create transaction: " + err.Error())
	}

	step := execution.Step{
		Current: tx,
	}

	for i := 0; i < 2; i++ {
		res, err := srvc.Execute(snap, step)
		if err != nil {
			panic("failed to execute: " + err.Error())
		}

		if res.Accepted {
			fmt.Println("accepted")
		}
	}

	value, err := snap.Get([]byte("counter"))
	if err != nil {
		panic("store failed: " + err.Error())
	}

	fmt.Println(binary.LittleEndian.Uint64(value))
	fmt.Println(snap.Footprint().Writes)

	// Output: accepted
	// accepted
	// 10
	// [636f756e746572]
}

// exampleContract is an example contract that reads a counter value in the
// store and increase it with the increment in the transaction.
//
// - implements native.Contract
type exampleContract struct{}

// Execute implements native.Contract. It increases the counter with the
// increment in the transaction.
func (exampleContract) Execute(store store.Snapshot, step execution.Step) error {
	value, err := store.Get([]byte("counter"))
	if err != nil {
		return err
	}

	counter := uint64(0)
	if len(value) == 8 {
		counter = binary.LittleEndian.Uint64(value)
	}

	incr := binary.LittleEndian.Uint64(step.Current.GetArg("increment"))

	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, counter+incr)

	return store.Set([]byte("counter"), buffer)
}
