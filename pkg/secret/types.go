// Package secret holds the data model of one private payment and its
// transfer encoding.
//
// A Record starts as a draft (private inputs plus the public recipient and
// amount) and becomes complete once the circuit has derived its commitment
// and nullifier hash. The complete record is encoded once into a transfer
// code and handed to the payee out of band.
//
// The transfer code is NOT encrypted. It is a bearer credential: whoever
// holds it can withdraw the payment.
package secret

import (
	"fmt"
	"io"

	"github.com/suffix-labs/zkpay/pkg/field"
)

// Record is the private and public state of one payment.
//
// Field names on the wire match the transfer codes issued by the web
// client.
type Record struct {
	// PatientSecret is the payer's random secret. Private circuit input.
	PatientSecret string `json:"patientSecret"`

	// Salt makes two deposits with equal parameters unlinkable.
	Salt string `json:"salt"`

	// RecipientID is the payee's public numeric identifier.
	RecipientID string `json:"therapistId"`

	// Amount in smallest units (10^-18 of the display unit), base 10.
	Amount string `json:"amount"`

	// Commitment is the ledger-field commitment, 0x hex. Empty on drafts.
	Commitment string `json:"commitment"`

	// NullifierHash is the ledger-field nullifier, 0x hex. Empty on drafts.
	NullifierHash string `json:"nullifierHash"`
}

// NewDraft creates a draft record for recipientID with a display amount such
// as "0.1", drawing a fresh secret and salt.
func NewDraft(recipientID, amountDisplay string) (*Record, error) {
	return NewDraftFrom(nil, recipientID, amountDisplay)
}

// NewDraftFrom is NewDraft with an explicit entropy source. A nil reader
// uses crypto/rand.
func NewDraftFrom(r io.Reader, recipientID, amountDisplay string) (*Record, error) {
	if !field.IsDecimal(recipientID) {
		return nil, &RecordError{
			Code:    ErrCodeInvalidRecipient,
			Message: fmt.Sprintf("recipient ID %q must be a numeric string", recipientID),
		}
	}

	amount, err := field.ParseAmount(amountDisplay)
	if err != nil {
		return nil, err
	}

	random := field.RandomFieldElement
	if r != nil {
		random = func() (string, error) { return field.RandomFieldElementFrom(r) }
	}

	patientSecret, err := random()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	salt, err := random()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	return &Record{
		PatientSecret: patientSecret,
		Salt:          salt,
		RecipientID:   recipientID,
		Amount:        amount,
	}, nil
}

// Finalize stores the circuit's raw commitment and nullifier, reduced into
// the ledger field, on a copy of draft and returns the complete record.
func Finalize(draft *Record, rawCommitment, rawNullifier string) (*Record, error) {
	commitment, err := field.ReduceToLedgerField(rawCommitment)
	if err != nil {
		return nil, fmt.Errorf("commitment: %w", err)
	}
	nullifier, err := field.ReduceToLedgerField(rawNullifier)
	if err != nil {
		return nil, fmt.Errorf("nullifier hash: %w", err)
	}

	complete := *draft
	complete.Commitment = commitment
	complete.NullifierHash = nullifier
	return &complete, nil
}

// IsComplete reports whether both derived values are present.
func (r *Record) IsComplete() bool {
	return r.Commitment != "" && r.NullifierHash != ""
}

// Wipe clears every field. Strings are immutable in Go, so this drops the
// references rather than scrubbing memory.
func (r *Record) Wipe() {
	*r = Record{}
}

// String never prints the private fields.
func (r *Record) String() string {
	return fmt.Sprintf("Record{recipient=%s amount=%s commitment=%s}", r.RecipientID, r.Amount, r.Commitment)
}
