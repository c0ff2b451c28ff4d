// Package vote implements the native contract of a single-choice poll.
//
// A poll is opened at genesis with its list of option identifiers. Every
// identity can vote once per poll, for one of the options. The contract keeps
// the ballot of each voter and the count per option, and it emits a vote event
// on the topic of the poll that readers can replay from the ledger.
package vote

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"go.dedis.ch/votechain"
	"go.dedis.ch/votechain/core/execution"
	"go.dedis.ch/votechain/core/execution/native"
	"go.dedis.ch/votechain/core/store"
	"go.dedis.ch/votechain/core/txn"
	"golang.org/x/xerrors"
)

// commands defines the commands of the vote contract. This interface helps in
// testing the contract.
type commands interface {
	vote(snap store.Snapshot, step execution.Step) error
}

const (
	// ContractName is the name of the contract.
	ContractName = "votechain.Vote"

	// CmdArg is the argument's name to indicate the kind of command we want to
	// run on the contract. Should be one of the Command type.
	CmdArg = "vote:command"

	// VoterArg is the argument's name in the transaction that contains the
	// address of the voter. It must match the identity of the transaction.
	VoterArg = "vote:voter"

	// PollArg is the argument's name in the transaction that contains the
	// decimal identifier of the poll.
	PollArg = "vote:poll"

	// OptionArg is the argument's name in the transaction that contains the
	// decimal identifier of the option.
	OptionArg = "vote:option"
)

// Command defines a type of command for the vote contract.
type Command string

const (
	// CmdVote defines the command to cast a vote.
	CmdVote Command = "VOTE"
)

// Record is a vote event as emitted on the topic of a poll. The index is the
// position of the event in the topic and is set by the reader.
type Record struct {
	Index     uint64 `json:"-"`
	Voter     txn.Address
	OptionID  uint32
	TxHash    string
	Timestamp int64
}

// pollJSON is the stored definition of a poll.
type pollJSON struct {
	Options []uint32
}

// RegisterContract registers the vote contract to the given execution service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Args returns the transaction arguments to cast a vote for the option.
func Args(voter txn.Address, poll uint64, option uint32) []txn.Arg {
	return []txn.Arg{
		{Key: native.ContractArg, Value: []byte(ContractName)},
		{Key: CmdArg, Value: []byte(CmdVote)},
		{Key: VoterArg, Value: []byte(voter)},
		{Key: PollArg, Value: []byte(strconv.FormatUint(poll, 10))},
		{Key: OptionArg, Value: []byte(strconv.FormatUint(uint64(option), 10))},
	}
}

// Contract is the smart contract that counts the votes of the polls.
//
// - implements native.Contract
type Contract struct {
	// cmd provides the commands executions
	cmd commands
}

// NewContract creates a new vote contract.
func NewContract() Contract {
	contract := Contract{}
	contract.cmd = voteCommand{}

	return contract
}

// Execute implements native.Contract. It runs the appropriate command.
func (c Contract) Execute(snap store.Snapshot, step execution.Step) error {
	cmd := step.Current.GetArg(CmdArg)
	if len(cmd) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", CmdArg)
	}

	switch Command(cmd) {
	case CmdVote:
		err := c.cmd.vote(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to VOTE: %v", err)
		}
	default:
		return xerrors.Errorf("unknown command: %s", cmd)
	}

	return nil
}

// Open stores the definition of the poll with its options. It fails if the
// poll already exists.
func Open(snap store.Snapshot, poll uint64, options []uint32) error {
	value, err := snap.Get(pollKey(poll))
	if err != nil {
		return xerrors.Errorf("failed to read poll: %v", err)
	}

	if value != nil {
		return xerrors.Errorf("poll %d already exists", poll)
	}

	if len(options) == 0 {
		return xerrors.New("missing options")
	}

	data, err := json.Marshal(pollJSON{Options: options})
	if err != nil {
		return xerrors.Errorf("failed to encode poll: %v", err)
	}

	err = snap.Set(pollKey(poll), data)
	if err != nil {
		return xerrors.Errorf("failed to store poll: %v", err)
	}

	return nil
}

// Exists returns true if the poll has been opened.
func Exists(r store.Readable, poll uint64) (bool, error) {
	value, err := r.Get(pollKey(poll))
	if err != nil {
		return false, xerrors.Errorf("failed to read poll: %v", err)
	}

	return value != nil, nil
}

// Count returns the number of votes for the option of the poll.
func Count(r store.Readable, poll uint64, option uint32) (uint64, error) {
	return readUint(r, countKey(poll, option))
}

// Topic returns the topic of the vote events of the poll.
func Topic(poll uint64) string {
	return fmt.Sprintf("vote/%d", poll)
}

// DecodeRecord returns the record of the event data at the given index of the
// topic.
func DecodeRecord(index uint64, data []byte) (Record, error) {
	var rec Record

	err := json.Unmarshal(data, &rec)
	if err != nil {
		return Record{}, xerrors.Errorf("failed to decode event %d: %v", index, err)
	}

	rec.Index = index

	return rec, nil
}

// voteCommand implements the commands of the vote contract.
//
// - implements commands
type voteCommand struct{}

// vote implements commands. It performs the VOTE command.
func (voteCommand) vote(snap store.Snapshot, step execution.Step) error {
	voter := txn.Address(step.Current.GetArg(VoterArg))
	if voter == "" {
		return xerrors.Errorf("'%s' not found in tx arg", VoterArg)
	}

	identity, err := txn.AddressOf(step.Current.GetIdentity())
	if err != nil {
		return xerrors.Errorf("invalid identity: %v", err)
	}

	if identity != voter {
		return xerrors.Errorf("voter '%s' does not match the identity", voter)
	}

	poll, err := strconv.ParseUint(string(step.Current.GetArg(PollArg)), 10, 64)
	if err != nil {
		return xerrors.Errorf("invalid poll: %v", err)
	}

	option, err := strconv.ParseUint(string(step.Current.GetArg(OptionArg)), 10, 32)
	if err != nil {
		return xerrors.Errorf("invalid option: %v", err)
	}

	def, err := readPoll(snap, poll)
	if err != nil {
		return err
	}

	if !def.has(uint32(option)) {
		return xerrors.Errorf("invalid option %d", option)
	}

	ballot, err := snap.Get(ballotKey(poll, voter))
	if err != nil {
		return xerrors.Errorf("failed to read ballot: %v", err)
	}

	if ballot != nil {
		return xerrors.New("already voted")
	}

	err = snap.Set(ballotKey(poll, voter), []byte(strconv.FormatUint(option, 10)))
	if err != nil {
		return xerrors.Errorf("failed to store ballot: %v", err)
	}

	err = increment(snap, countKey(poll, uint32(option)))
	if err != nil {
		return xerrors.Errorf("failed to count: %v", err)
	}

	data, err := json.Marshal(Record{
		Voter:     voter,
		OptionID:  uint32(option),
		TxHash:    txn.HexID(step.Current),
		Timestamp: step.Timestamp.UnixNano(),
	})
	if err != nil {
		return xerrors.Errorf("failed to encode event: %v", err)
	}

	step.Emit(Topic(poll), data)

	votechain.Logger.Debug().
		Str("contract", "vote").
		Uint64("poll", poll).
		Uint64("option", option).
		Msgf("%s voted", voter)

	return nil
}

func (p pollJSON) has(option uint32) bool {
	for _, id := range p.Options {
		if id == option {
			return true
		}
	}

	return false
}

func readPoll(r store.Readable, poll uint64) (pollJSON, error) {
	value, err := r.Get(pollKey(poll))
	if err != nil {
		return pollJSON{}, xerrors.Errorf("failed to read poll: %v", err)
	}

	if value == nil {
		return pollJSON{}, xerrors.Errorf("unknown poll %d", poll)
	}

	var def pollJSON
	err = json.Unmarshal(value, &def)
	if err != nil {
		return pollJSON{}, xerrors.Errorf("failed to decode poll: %v", err)
	}

	return def, nil
}

func increment(snap store.Snapshot, key []byte) error {
	value, err := readUint(snap, key)
	if err != nil {
		return err
	}

	buffer := make([]byte, 8)
	binary.BigEndian.PutUint64(buffer, value+1)

	return snap.Set(key, buffer)
}

func readUint(r store.Readable, key []byte) (uint64, error) {
	value, err := r.Get(key)
	if err != nil {
		return 0, xerrors.Errorf("failed to read key '%s': %v", key, err)
	}

	if len(value) != 8 {
		return 0, nil
	}

	return binary.BigEndian.Uint64(value), nil
}

func pollKey(poll uint64) []byte {
	return []byte(fmt.Sprintf("vote/%d", poll))
}

func countKey(poll uint64, option uint32) []byte {
	return []byte(fmt.Sprintf("vote/%d/count/%d", poll, option))
}

func ballotKey(poll uint64, voter txn.Address) []byte {
	return []byte(fmt.Sprintf("vote/%d/ballot/%s", poll, voter))
}
