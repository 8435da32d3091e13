package circuit

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/suffix-labs/zkpay/pkg/field"
)

// Known return value encodings, tried in this order:
//
//	["c", "n", ...]             plain list
//	{"0": "c", "1": "n", ...}   object keyed by position
//	{"inner": ["c", "n", ...]}  wrapped list
//
// Nothing else is guessed at.

// ParseOutputs extracts (commitment, nullifierHash) from a circuit return
// value. Elements may be JSON strings (decimal or 0x hex) or JSON numbers;
// they are normalised to decimal.
func ParseOutputs(raw json.RawMessage) (Outputs, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Outputs{}, &Error{Code: ErrCodeCircuitExecution, Message: "circuit did not return any value"}
	}

	for _, parse := range []func([]byte) ([]json.RawMessage, bool){
		parseList,
		parsePositional,
		parseInner,
	} {
		elems, ok := parse(trimmed)
		if !ok {
			continue
		}
		return outputsFrom(elems, trimmed)
	}

	return Outputs{}, unexpected(trimmed)
}

func parseList(raw []byte) ([]json.RawMessage, bool) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil || len(list) < 2 {
		return nil, false
	}
	return list[:2], true
}

func parsePositional(raw []byte) ([]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	first, ok0 := obj["0"]
	second, ok1 := obj["1"]
	if !ok0 || !ok1 {
		return nil, false
	}
	return []json.RawMessage{first, second}, true
}

func parseInner(raw []byte) ([]json.RawMessage, bool) {
	var obj struct {
		Inner []json.RawMessage `json:"inner"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj.Inner) < 2 {
		return nil, false
	}
	return obj.Inner[:2], true
}

func outputsFrom(elems []json.RawMessage, raw []byte) (Outputs, error) {
	commitment, err := scalar(elems[0])
	if err != nil {
		return Outputs{}, unexpected(raw)
	}
	nullifier, err := scalar(elems[1])
	if err != nil {
		return Outputs{}, unexpected(raw)
	}
	return Outputs{Commitment: commitment, NullifierHash: nullifier}, nil
}

// scalar accepts a JSON string or number holding a non-negative integer.
func scalar(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return "", err
		}
		s = n.String()
	}
	v, err := field.ParseFieldValue(s)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func unexpected(raw []byte) error {
	const max = 256
	shown := raw
	if len(shown) > max {
		shown = shown[:max]
	}
	return &Error{
		Code:    ErrCodeUnexpectedOutputFormat,
		Message: fmt.Sprintf("unexpected return value format: %s", shown),
	}
}
