// Package circuit is the boundary to the proving system.
//
// The pipeline consumes three black boxes defined here:
//
//  1. Executor   - runs the circuit on a witness and returns its raw public
//     outputs plus an opaque witness trace
//  2. Backend    - turns a witness trace into proof bytes and public inputs;
//     must be destroyed after use
//  3. BackendFactory - hands out backends, bounding how many prove at once
//
// A reference implementation over gnark (BN254, MiMC, Groth16) lives in
// gnark.go. Other proving stacks plug in by implementing the interfaces.
package circuit

import (
	"context"
	"encoding/json"
)

// Inputs are the circuit's witness inputs, all base-10 strings.
type Inputs struct {
	PatientSecret string
	Salt          string
	RecipientID   string
	Amount        string
}

// RawExecution is what an executor returns before output parsing.
type RawExecution struct {
	ReturnValue json.RawMessage // circuit return value in whatever shape the executor emits
	Witness     []byte          // opaque witness trace for the prover
}

// Outputs are the circuit's public outputs in the proving field, decimal.
type Outputs struct {
	Commitment    string
	NullifierHash string
}

// Execution is a parsed circuit run.
type Execution struct {
	Outputs Outputs
	Witness []byte
}

// Executor runs the circuit.
type Executor interface {
	Execute(ctx context.Context, in Inputs) (*RawExecution, error)
}

// Options configure a proving run.
type Options struct {
	Mode string // backend-specific proving mode; "" selects the default
}

// Proof is a backend's output.
type Proof struct {
	Bytes        []byte   // opaque proof bytes
	PublicInputs []string // public inputs in circuit order, decimal
}

// Backend generates one proof. Callers must call Destroy when done, on
// success and on failure.
type Backend interface {
	GenerateProof(ctx context.Context, witness []byte, opts Options) (*Proof, error)
	Destroy()
}

// BackendFactory creates backends. NewBackend may block until a proving
// slot is free.
type BackendFactory interface {
	NewBackend(ctx context.Context) (Backend, error)
}

// Run executes the circuit and parses its return value.
func Run(ctx context.Context, exec Executor, in Inputs) (*Execution, error) {
	raw, err := exec.Execute(ctx, in)
	if err != nil {
		return nil, &Error{Code: ErrCodeCircuitExecution, Message: "execute", Cause: err}
	}
	if raw == nil {
		return nil, &Error{Code: ErrCodeCircuitExecution, Message: "circuit did not return any value"}
	}

	out, err := ParseOutputs(raw.ReturnValue)
	if err != nil {
		return nil, err
	}
	return &Execution{Outputs: out, Witness: raw.Witness}, nil
}
