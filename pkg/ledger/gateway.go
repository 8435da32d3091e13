// Package ledger is the boundary to the settlement ledger.
//
// Callers submit contract calls and wait for them to be confirmed or
// rejected. LocalLedger is a single-process ledger persisted in LevelDB
// hosting the verifier and payment contracts, used for development and
// tests.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Contract entry points.
const (
	FnVerify   = "verify_groth16_proof" // verifier: (calldata...)
	FnDeposit  = "deposit"              // payment: (commitment, amount_low, amount_high)
	FnWithdraw = "withdraw"             // payment: (commitment, nullifier_hash, calldata...)
)

// Status of a submitted transaction.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash string
}

// Receipt is the outcome of a transaction.
type Receipt struct {
	Hash   string `json:"hash"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"` // set when rejected
	Height uint64 `json:"height"`
}

// Gateway submits calls and waits for their outcome.
type Gateway interface {
	Submit(ctx context.Context, call Call) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, h TxHandle) (*Receipt, error)
}

var (
	// ErrTransactionTimeout is returned by Await when the confirmation wait
	// exceeds its timeout. The transaction may still land later.
	ErrTransactionTimeout = errors.New("transaction confirmation timed out")

	// ErrUnknownTransaction is returned for handles the ledger never saw.
	ErrUnknownTransaction = errors.New("unknown transaction")

	// ErrClosed is returned after the ledger has been closed.
	ErrClosed = errors.New("ledger closed")
)

// RejectedError carries the ledger's reason for rejecting a transaction.
type RejectedError struct {
	Hash   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction %s rejected: %s", e.Hash, e.Reason)
}

// Await waits for h with an optional timeout (0 disables it). A rejected
// transaction is returned as a *RejectedError alongside its receipt.
func Await(ctx context.Context, gw Gateway, h TxHandle, timeout time.Duration) (*Receipt, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r, err := gw.AwaitConfirmation(waitCtx, h)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %s", ErrTransactionTimeout, timeout, h.Hash)
		}
		return nil, err
	}
	if r.Status == StatusRejected {
		return r, &RejectedError{Hash: r.Hash, Reason: r.Reason}
	}
	return r, nil
}
