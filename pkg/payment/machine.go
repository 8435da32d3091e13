// Package payment sequences the proof pipeline for a single payment and
// exposes its progress.
//
// A Machine runs one attempt at a time. Deposit and Claim block until the
// attempt is terminal; other goroutines observe progress with Subscribe and
// may abandon the attempt with Reset. A reset never interrupts the running
// pipeline, whose result is discarded when it arrives.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/suffix-labs/zkpay/pkg/identity"
	"github.com/suffix-labs/zkpay/pkg/pipeline"
	"github.com/suffix-labs/zkpay/pkg/secret"
	"go.uber.org/zap"
)

var (
	// ErrAttemptInFlight is returned when an attempt is started while
	// another one is running.
	ErrAttemptInFlight = errors.New("a payment attempt is already in flight")

	// ErrNotReset is returned when an attempt is started from a terminal
	// state. Call Reset first.
	ErrNotReset = errors.New("payment machine must be reset before a new attempt")

	// ErrNotVerified is returned when the party starting an attempt has not
	// passed identity verification.
	ErrNotVerified = errors.New("identity not verified")

	// ErrAbandoned is returned to the caller of an attempt that was reset
	// while it ran.
	ErrAbandoned = errors.New("payment attempt was reset")
)

// Runner executes the pipeline. *pipeline.Pipeline implements it.
type Runner interface {
	Deposit(ctx context.Context, draft *secret.Record, hooks pipeline.Hooks) (*pipeline.DepositResult, error)
	Claim(ctx context.Context, record *secret.Record, hooks pipeline.Hooks) (*pipeline.ClaimResult, error)
}

// IdentityGate reports whether a party is verified. *identity.Verifier
// implements it.
type IdentityGate interface {
	IsVerified(role identity.Role) bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithIdentity requires the patient to be verified before deposits and the
// recipient before claims.
func WithIdentity(gate IdentityGate) Option {
	return func(m *Machine) { m.gate = gate }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// subscriberBuffer is the channel capacity of each subscriber. Slow
// subscribers lose the oldest snapshots.
const subscriberBuffer = 16

// Machine is the state machine of one logical payment.
type Machine struct {
	runner Runner
	gate   IdentityGate
	logger *zap.Logger

	mu      sync.Mutex
	gen     uint64 // bumped by every begin and Reset
	running bool
	snap    Snapshot

	// Held between completion and Reset.
	record   *secret.Record
	calldata []string

	subs map[chan Snapshot]struct{}
}

// NewMachine creates a machine in the Initial state.
func NewMachine(runner Runner, opts ...Option) *Machine {
	m := &Machine{
		runner: runner,
		logger: zap.NewNop(),
		subs:   make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Record returns a copy of the record held by the last attempt, or nil.
func (m *Machine) Record() *secret.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return nil
	}
	r := *m.record
	return &r
}

// Calldata returns the contract arguments built by the last attempt.
func (m *Machine) Calldata() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calldata...)
}

// Subscribe returns a channel receiving a snapshot after every change, and
// a function that cancels the subscription and closes the channel.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}
}

// Deposit creates a fresh record for recipientID and amount (display units,
// e.g. "0.1") and runs the deposit pipeline. On success the snapshot
// carries the transfer code for the recipient.
func (m *Machine) Deposit(ctx context.Context, recipientID, amount string) (Snapshot, error) {
	gen, err := m.begin(KindDeposit, identity.RolePatient)
	if err != nil {
		return m.Snapshot(), err
	}

	m.advance(gen, GeneratingWitness)
	draft, err := secret.NewDraft(recipientID, amount)
	if err != nil {
		return m.finish(gen, err, nil)
	}
	res, err := m.runner.Deposit(ctx, draft, m.hooks(gen))
	draft.Wipe()

	return m.finish(gen, err, func() {
		if res == nil || res.Record == nil {
			return
		}
		m.record = res.Record
		m.calldata = res.Calldata
		m.snap.TransferCode = res.TransferCode
		m.snap.Commitment = res.Record.Commitment
		if res.DepositTx != nil {
			m.snap.TxHash = res.DepositTx.Hash
		}
	})
}

// Claim decodes a transfer code and runs the claim pipeline.
func (m *Machine) Claim(ctx context.Context, transferCode string) (Snapshot, error) {
	gen, err := m.begin(KindClaim, identity.RoleRecipient)
	if err != nil {
		return m.Snapshot(), err
	}

	record, err := secret.Decode(transferCode)
	if err != nil {
		return m.finish(gen, err, nil)
	}
	res, err := m.runner.Claim(ctx, record, m.hooks(gen))

	return m.finish(gen, err, func() {
		m.record = record
		m.snap.Commitment = record.Commitment
		if res != nil {
			m.calldata = res.Calldata
			if res.WithdrawTx != nil {
				m.snap.TxHash = res.WithdrawTx.Hash
			}
		}
	})
}

// Reset abandons any attempt, discards held secrets and calldata, and
// returns to Initial.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	m.running = false
	if m.record != nil {
		m.record.Wipe()
		m.record = nil
	}
	m.calldata = nil
	m.snap = Snapshot{}
	m.notify()
}

// Close cancels all subscriptions.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *Machine) begin(kind Kind, role identity.Role) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return 0, ErrAttemptInFlight
	}
	if m.snap.State != Initial || m.snap.Err != nil {
		return 0, ErrNotReset
	}
	if m.gate != nil && !m.gate.IsVerified(role) {
		return 0, fmt.Errorf("%w: %s", ErrNotVerified, role)
	}

	m.gen++
	m.running = true
	m.snap = Snapshot{AttemptID: uuid.NewString(), Kind: kind, State: Initial}
	m.logger.Info("payment attempt started",
		zap.String("attempt", m.snap.AttemptID),
		zap.Stringer("kind", kind),
	)
	m.notify()
	return m.gen, nil
}

func (m *Machine) hooks(gen uint64) pipeline.Hooks {
	return pipeline.HookFunc(func(stage pipeline.Stage) {
		switch stage {
		case pipeline.StageWitness:
			m.advance(gen, GeneratingWitness)
		case pipeline.StageProof:
			m.advance(gen, GeneratingProof)
		case pipeline.StageCalldata:
			m.advance(gen, PreparingCalldata)
		case pipeline.StageSubmit:
			m.advance(gen, SubmittingTransaction)
		}
	})
}

// advance moves attempt gen to st. Repeating the current state is a no-op;
// anything but the next state is refused.
func (m *Machine) advance(gen uint64, st State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || !m.running || st == m.snap.State {
		return
	}
	if st != m.snap.State.next() {
		m.logger.Error("refusing out of order transition",
			zap.Stringer("from", m.snap.State),
			zap.Stringer("to", st),
		)
		return
	}
	m.snap.State = st
	m.notify()
}

// finish records the outcome of attempt gen. apply runs under the lock
// before the outcome is published; it is skipped for abandoned attempts.
func (m *Machine) finish(gen uint64, err error, apply func()) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		m.logger.Info("discarding result of abandoned attempt", zap.NamedError("result", err))
		return m.snap, ErrAbandoned
	}

	if apply != nil {
		apply()
	}
	m.running = false
	log := m.logger.With(zap.String("attempt", m.snap.AttemptID), zap.Stringer("state", m.snap.State))
	if err != nil {
		m.snap.Err = err
		log.Warn("payment attempt failed", zap.Error(err))
	} else {
		m.snap.State = Verified
		log.Info("payment attempt verified", zap.String("tx", m.snap.TxHash))
	}
	m.notify()
	return m.snap, err
}

// notify must be called with m.mu held.
func (m *Machine) notify() {
	for ch := range m.subs {
		select {
		case ch <- m.snap:
			continue
		default:
		}
		// Full: drop the oldest snapshot to make room.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- m.snap:
		default:
		}
	}
}
