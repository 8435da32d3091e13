package pipeline

import (
	"fmt"

	"github.com/suffix-labs/zkpay/pkg/circuit"
)

// Error codes carried by StageError.
const (
	ErrCodeCircuitExecution       = circuit.ErrCodeCircuitExecution
	ErrCodeUnexpectedOutputFormat = circuit.ErrCodeUnexpectedOutputFormat
	ErrCodeProofGeneration        = circuit.ErrCodeProofGeneration
	ErrCodeInvalidRecord          = "INVALID_RECORD"
	ErrCodeCommitmentMismatch     = "COMMITMENT_MISMATCH"
	ErrCodeCalldata               = "CALLDATA_FAILED"
	ErrCodeSubmission             = "SUBMISSION_FAILED"
	ErrCodeTransactionTimeout     = "TRANSACTION_TIMEOUT"
	ErrCodeTransactionRejected    = "TRANSACTION_REJECTED"
)

// StageError is returned by Deposit and Claim. Stage is the stage that was
// running when the failure happened.
type StageError struct {
	Stage   Stage
	Code    string // One of the ErrCode constants
	Message string // Human-readable error message
	Cause   error  // Underlying error (if any)
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s stage error [%s]: %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s stage error [%s]: %s", e.Stage, e.Code, e.Message)
}

func (e *StageError) Unwrap() error { return e.Cause }

// Is matches errors by code regardless of stage.
func (e *StageError) Is(target error) bool {
	t, ok := target.(*StageError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrCircuitExecution       = &StageError{Code: ErrCodeCircuitExecution, Message: "circuit execution failed"}
	ErrUnexpectedOutputFormat = &StageError{Code: ErrCodeUnexpectedOutputFormat, Message: "unexpected output format"}
	ErrProofGeneration        = &StageError{Code: ErrCodeProofGeneration, Message: "proof generation failed"}
	ErrInvalidRecord          = &StageError{Code: ErrCodeInvalidRecord, Message: "invalid payment record"}
	ErrCommitmentMismatch     = &StageError{Code: ErrCodeCommitmentMismatch, Message: "commitment mismatch - invalid secret"}
	ErrCalldata               = &StageError{Code: ErrCodeCalldata, Message: "calldata assembly failed"}
	ErrSubmission             = &StageError{Code: ErrCodeSubmission, Message: "transaction submission failed"}
	ErrTransactionTimeout     = &StageError{Code: ErrCodeTransactionTimeout, Message: "transaction confirmation timed out"}
	ErrTransactionRejected    = &StageError{Code: ErrCodeTransactionRejected, Message: "transaction rejected"}
)

func stageErr(stage Stage, code, msg string, cause error) error {
	return &StageError{Stage: stage, Code: code, Message: msg, Cause: cause}
}
