package circuit

import "fmt"

// Error codes reported by circuit execution and proving.
const (
	ErrCodeCircuitExecution       = "CIRCUIT_EXECUTION"        // execution produced no usable output
	ErrCodeUnexpectedOutputFormat = "UNEXPECTED_OUTPUT_FORMAT" // output shape not recognised
	ErrCodeProofGeneration        = "PROOF_GENERATION_FAILED"  // prover failed
	ErrCodeBackendDestroyed       = "BACKEND_DESTROYED"        // backend used after Destroy
)

// Error is returned by executors, the output parser and proving backends.
type Error struct {
	Code    string // One of the ErrCode constants
	Message string // Human-readable error message
	Cause   error  // Underlying error (if any)
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("circuit error [%s]: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("circuit error [%s]: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrCircuitExecution       = &Error{Code: ErrCodeCircuitExecution, Message: "circuit execution failed"}
	ErrUnexpectedOutputFormat = &Error{Code: ErrCodeUnexpectedOutputFormat, Message: "unexpected output format"}
	ErrProofGeneration        = &Error{Code: ErrCodeProofGeneration, Message: "proof generation failed"}
	ErrBackendDestroyed       = &Error{Code: ErrCodeBackendDestroyed, Message: "backend already destroyed"}
)
