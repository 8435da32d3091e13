package payment

import "fmt"

// State is the progress of one payment attempt. States are ordered; an
// attempt only ever moves forward one state at a time.
type State int

const (
	Initial State = iota
	GeneratingWitness
	GeneratingProof
	PreparingCalldata
	ConnectingWallet // reserved for an external wallet flow; the pipeline never enters it
	SubmittingTransaction
	Verified
)

var stateNames = [...]string{
	Initial:               "Initial",
	GeneratingWitness:     "Generating witness",
	GeneratingProof:       "Generating proof",
	PreparingCalldata:     "Preparing calldata",
	ConnectingWallet:      "Connecting wallet",
	SubmittingTransaction: "Sending transaction",
	Verified:              "Proof is verified",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// next is the state that follows s on the pipeline path.
func (s State) next() State {
	switch s {
	case PreparingCalldata:
		return SubmittingTransaction
	case Verified:
		return Verified
	default:
		return s + 1
	}
}

// Kind is the operation an attempt performs.
type Kind int

const (
	KindNone Kind = iota
	KindDeposit
	KindClaim
)

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindClaim:
		return "claim"
	default:
		return "none"
	}
}

// Snapshot is an immutable view of a machine.
type Snapshot struct {
	AttemptID    string // unique per attempt; empty before the first attempt
	Kind         Kind
	State        State
	Err          error  // set when the attempt failed in State
	TransferCode string // deposit only, once the record is complete
	Commitment   string
	TxHash       string // last confirmed transaction
}

// Terminal reports whether the attempt has finished, successfully or not.
func (s Snapshot) Terminal() bool {
	return s.State == Verified || s.Err != nil
}
