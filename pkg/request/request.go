// Package request implements payment request URIs.
//
// A recipient hands a payer a request naming who to pay and, optionally,
// how much, usually as a QR code or link:
//
//	zkpay:<recipientId>?amount=<amount>&label=<label>&message=<message>
//
// The amount is in display units ("0.1"); it is validated and converted to
// smallest units on parse.
package request

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/suffix-labs/zkpay/pkg/field"
)

// Scheme is the URI scheme of payment requests.
const Scheme = "zkpay"

// ErrInvalidRequest is returned for malformed request URIs.
var ErrInvalidRequest = errors.New("invalid payment request")

// Request is a parsed payment request.
type Request struct {
	RecipientID string  // numeric recipient identifier
	Amount      string  // smallest units, empty if the payer chooses
	Label       *string // optional label for the recipient
	Message     *string // optional message to show the payer
}

// Parse parses a payment request URI. The scheme prefix is optional.
func Parse(uri string) (*Request, error) {
	uri = strings.TrimPrefix(uri, Scheme+":")

	recipient, query, _ := strings.Cut(uri, "?")
	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for key := range params {
		switch key {
		case "amount", "label", "message":
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidRequest, key)
		}
		if len(params[key]) > 1 {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidRequest, key)
		}
	}

	if !field.IsDecimal(recipient) {
		return nil, fmt.Errorf("%w: recipient %q is not a numeric identifier", ErrInvalidRequest, recipient)
	}
	req := &Request{RecipientID: recipient}

	if display := params.Get("amount"); display != "" {
		amount, err := field.ParseAmount(display)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		req.Amount = amount
	}
	if label := params.Get("label"); label != "" {
		req.Label = &label
	}
	if message := params.Get("message"); message != "" {
		req.Message = &message
	}
	return req, nil
}

// DisplayAmount is the amount in display units at full precision, or "" if
// unset. Parsing it yields Amount again.
func (r *Request) DisplayAmount() string {
	if r.Amount == "" {
		return ""
	}
	return field.FormatAmountExact(r.Amount)
}

// Encode renders the request as a URI. It is the inverse of Parse.
func (r *Request) Encode() string {
	uri := Scheme + ":" + r.RecipientID

	params := url.Values{}
	if r.Amount != "" {
		params.Add("amount", r.DisplayAmount())
	}
	if r.Label != nil {
		params.Add("label", *r.Label)
	}
	if r.Message != nil {
		params.Add("message", *r.Message)
	}

	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	return uri
}
