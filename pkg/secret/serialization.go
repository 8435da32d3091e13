package secret

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/suffix-labs/zkpay/pkg/field"
	"github.com/xeipuuv/gojsonschema"
)

// Transfer code format:
//
//	base64( JSON{patientSecret, salt, therapistId, amount, commitment, nullifierHash} )
//
// Standard base64 with padding keeps the code 8-bit clean and printable for
// clipboard, QR or manual entry.

const recordSchema = `{
  "type": "object",
  "required": ["patientSecret", "salt", "therapistId", "amount", "commitment", "nullifierHash"],
  "properties": {
    "patientSecret": {"type": "string", "pattern": "^[0-9]+$"},
    "salt":          {"type": "string", "pattern": "^[0-9]+$"},
    "therapistId":   {"type": "string", "pattern": "^[0-9]+$"},
    "amount":        {"type": "string", "pattern": "^[0-9]+$"},
    "commitment":    {"type": "string", "pattern": "^0x[0-9a-f]+$"},
    "nullifierHash": {"type": "string", "pattern": "^0x[0-9a-f]+$"}
  }
}`

var schema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchema))
	if err != nil {
		panic(fmt.Sprintf("secret: invalid record schema: %v", err))
	}
	return s
}()

// Encode serializes a complete record into a transfer code.
func Encode(r *Record) (string, error) {
	if r == nil || !r.IsComplete() {
		return "", ErrIncompleteRecord
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode rebuilds a complete record from a transfer code. On any failure it
// returns an error matching ErrInvalidTransferCode and a nil record.
func Decode(code string) (*Record, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(code))
	if err != nil {
		return nil, &TransferCodeError{Message: "not base64", Cause: err}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &TransferCodeError{Message: "not JSON", Cause: err}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, &TransferCodeError{Message: strings.Join(msgs, "; ")}
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &TransferCodeError{Message: "not a record", Cause: err}
	}

	if !field.IsLedgerElement(r.Commitment) {
		return nil, &TransferCodeError{Message: "commitment is not a ledger field element"}
	}
	if !field.IsLedgerElement(r.NullifierHash) {
		return nil, &TransferCodeError{Message: "nullifier hash is not a ledger field element"}
	}

	return &r, nil
}
