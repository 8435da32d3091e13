package field

import "fmt"

// Error codes for field and amount parsing.
const (
	CodeMalformedFieldValue = "MALFORMED_FIELD_VALUE" // not a valid non-negative integer
	CodeInvalidAmount       = "INVALID_AMOUNT"        // amount is not a non-negative decimal
)

// ValueError is returned when a field element or amount fails to parse.
type ValueError struct {
	Code    string // CodeMalformedFieldValue or CodeInvalidAmount
	Value   string // offending input
	Message string // Human-readable error message
}

func (e *ValueError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("field error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("field error [%s]: %s: %q", e.Code, e.Message, e.Value)
}

// Is matches any ValueError with the same code, so callers can write
// errors.Is(err, field.ErrInvalidAmount).
func (e *ValueError) Is(target error) bool {
	t, ok := target.(*ValueError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrMalformedFieldValue = &ValueError{Code: CodeMalformedFieldValue, Message: "malformed field value"}
	ErrInvalidAmount       = &ValueError{Code: CodeInvalidAmount, Message: "invalid amount"}
)

func malformed(value, msg string) error {
	return &ValueError{Code: CodeMalformedFieldValue, Value: value, Message: msg}
}

func invalidAmount(value, msg string) error {
	return &ValueError{Code: CodeInvalidAmount, Value: value, Message: msg}
}
