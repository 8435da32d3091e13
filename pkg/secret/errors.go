package secret

import "fmt"

// Error codes used by the secret record package.
const (
	ErrCodeInvalidTransferCode = "INVALID_TRANSFER_CODE" // transfer code failed to decode
	ErrCodeInvalidRecipient    = "INVALID_RECIPIENT"     // recipient ID is not a numeric string
	ErrCodeIncompleteRecord    = "INCOMPLETE_RECORD"     // commitment or nullifier not yet derived
)

// TransferCodeError is returned when Decode cannot rebuild a record.
//
// The transfer code must be re-obtained from the payer; there is nothing to
// retry locally.
type TransferCodeError struct {
	Message string // Human-readable error message
	Cause   error  // Underlying decode error (if any)
}

func (e *TransferCodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid transfer code: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("invalid transfer code: %s", e.Message)
}

func (e *TransferCodeError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrInvalidTransferCode) match any TransferCodeError.
func (e *TransferCodeError) Is(target error) bool {
	_, ok := target.(*TransferCodeError)
	return ok
}

// RecordError is returned when a record cannot be built or encoded.
type RecordError struct {
	Code    string // ErrCodeInvalidRecipient, ErrCodeIncompleteRecord
	Message string // Human-readable error message
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record error [%s]: %s", e.Code, e.Message)
}

// Is matches RecordErrors by code.
func (e *RecordError) Is(target error) bool {
	t, ok := target.(*RecordError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidTransferCode = &TransferCodeError{Message: "malformed"}
	ErrInvalidRecipient    = &RecordError{Code: ErrCodeInvalidRecipient, Message: "invalid recipient"}
	ErrIncompleteRecord    = &RecordError{Code: ErrCodeIncompleteRecord, Message: "record is not complete"}
)
