// Package pipeline runs the proof pipeline for one payment.
//
// Both entry points share the same stages, strictly in order:
//
//  1. witness  - execute the circuit; on claims also check the commitment
//  2. proof    - generate a proof from the witness trace
//  3. calldata - encode the proof for the ledger
//  4. submit   - submit the contract calls and wait for confirmation
//
// Deposit derives and finalizes a fresh record during the witness stage.
// Claim recomputes the commitment and nullifier hash from a decoded record
// and refuses to prove anything if either does not match.
package pipeline

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/suffix-labs/zkpay/pkg/calldata"
	"github.com/suffix-labs/zkpay/pkg/circuit"
	"github.com/suffix-labs/zkpay/pkg/field"
	"github.com/suffix-labs/zkpay/pkg/ledger"
	"github.com/suffix-labs/zkpay/pkg/secret"
	"go.uber.org/zap"
)

// Stage identifies a pipeline stage.
type Stage int

const (
	StageWitness Stage = iota + 1
	StageProof
	StageCalldata
	StageSubmit
)

func (s Stage) String() string {
	switch s {
	case StageWitness:
		return "witness"
	case StageProof:
		return "proof"
	case StageCalldata:
		return "calldata"
	case StageSubmit:
		return "submit"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Hooks is notified before each stage starts.
type Hooks interface {
	Advance(stage Stage)
}

// HookFunc adapts a function to Hooks.
type HookFunc func(stage Stage)

func (f HookFunc) Advance(stage Stage) { f(stage) }

// Encoder builds ledger calldata. *calldata.Encoder implements it.
type Encoder interface {
	Init(ctx context.Context) error
	Build(proof []byte, publicInputs []string, vk []byte) ([]string, error)
}

// Contracts are the ledger addresses the pipeline calls.
type Contracts struct {
	Verifier string
	Payment  string
}

// Config wires the pipeline's collaborators. VerifyingKey is shared
// read-only by every run.
type Config struct {
	Executor       circuit.Executor
	Backends       circuit.BackendFactory
	Encoder        Encoder
	Gateway        ledger.Gateway
	VerifyingKey   []byte
	Contracts      Contracts
	ConfirmTimeout time.Duration // 0 waits until ctx is done
	ProofMode      string
}

// DepositResult is the outcome of a deposit.
type DepositResult struct {
	Record       *secret.Record
	TransferCode string
	Calldata     []string // contract arguments, prefix stripped
	VerifyTx     *ledger.Receipt
	DepositTx    *ledger.Receipt
}

// ClaimResult is the outcome of a claim.
type ClaimResult struct {
	Calldata   []string
	WithdrawTx *ledger.Receipt
}

// Pipeline runs deposits and claims. It holds no per-run state and is safe
// for concurrent use.
type Pipeline struct {
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
}

// New validates cfg and creates a pipeline. logger and metrics may be nil.
func New(cfg Config, logger *zap.Logger, metrics *Metrics) (*Pipeline, error) {
	switch {
	case cfg.Executor == nil:
		return nil, errors.New("pipeline: executor required")
	case cfg.Backends == nil:
		return nil, errors.New("pipeline: proving backend factory required")
	case cfg.Encoder == nil:
		return nil, errors.New("pipeline: calldata encoder required")
	case cfg.Gateway == nil:
		return nil, errors.New("pipeline: ledger gateway required")
	case len(cfg.VerifyingKey) == 0:
		return nil, errors.New("pipeline: verifying key required")
	case cfg.Contracts.Verifier == "" || cfg.Contracts.Payment == "":
		return nil, errors.New("pipeline: contract addresses required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		var err error
		if metrics, err = NewMetrics(nil); err != nil {
			return nil, err
		}
	}
	return &Pipeline{cfg: cfg, logger: logger, metrics: metrics}, nil
}

// Deposit turns draft into a complete record, proves it and locks the
// amount under the record's commitment.
//
// Once the witness stage has succeeded the returned result carries the
// record and transfer code even when a later stage fails, so the caller
// can check whether a timed-out deposit landed after all.
func (p *Pipeline) Deposit(ctx context.Context, draft *secret.Record, hooks Hooks) (*DepositResult, error) {
	if err := checkInputs(draft); err != nil {
		return nil, stageErr(StageWitness, ErrCodeInvalidRecord, "invalid draft", err)
	}

	res := &DepositResult{}
	var exec *circuit.Execution
	err := p.run(hooks, StageWitness, func() error {
		var err error
		if exec, err = p.execute(ctx, draft); err != nil {
			return err
		}
		if res.Record, err = secret.Finalize(draft, exec.Outputs.Commitment, exec.Outputs.NullifierHash); err != nil {
			return stageErr(StageWitness, ErrCodeUnexpectedOutputFormat, "finalize record", err)
		}
		if res.TransferCode, err = secret.Encode(res.Record); err != nil {
			return stageErr(StageWitness, ErrCodeInvalidRecord, "encode transfer code", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log := p.logger.With(zap.String("commitment", res.Record.Commitment))
	log.Info("deposit commitment derived")

	args, err := p.proveAndEncode(ctx, hooks, exec.Witness)
	if err != nil {
		return res, err
	}
	res.Calldata = args

	err = p.run(hooks, StageSubmit, func() error {
		var err error
		res.VerifyTx, err = p.submit(ctx, ledger.Call{
			Contract: p.cfg.Contracts.Verifier,
			Function: ledger.FnVerify,
			Args:     args,
		})
		if err != nil {
			return err
		}
		log.Info("proof verified on ledger", zap.String("tx", res.VerifyTx.Hash))

		low, high, err := ledger.SplitU256(res.Record.Amount)
		if err != nil {
			return stageErr(StageSubmit, ErrCodeInvalidRecord, "amount", err)
		}
		res.DepositTx, err = p.submit(ctx, ledger.Call{
			Contract: p.cfg.Contracts.Payment,
			Function: ledger.FnDeposit,
			Args:     []string{res.Record.Commitment, low, high},
		})
		return err
	})
	if err != nil {
		return res, err
	}
	log.Info("deposit confirmed", zap.String("tx", res.DepositTx.Hash))
	return res, nil
}

// Claim proves knowledge of record's private inputs and withdraws the
// deposit locked under its commitment.
func (p *Pipeline) Claim(ctx context.Context, record *secret.Record, hooks Hooks) (*ClaimResult, error) {
	if err := checkInputs(record); err != nil {
		return nil, stageErr(StageWitness, ErrCodeInvalidRecord, "invalid record", err)
	}
	if !record.IsComplete() || !field.IsLedgerElement(record.Commitment) || !field.IsLedgerElement(record.NullifierHash) {
		return nil, stageErr(StageWitness, ErrCodeInvalidRecord, "record has no valid commitment", secret.ErrIncompleteRecord)
	}

	var exec *circuit.Execution
	err := p.run(hooks, StageWitness, func() error {
		var err error
		if exec, err = p.execute(ctx, record); err != nil {
			return err
		}
		if err := bindOutput("commitment", exec.Outputs.Commitment, record.Commitment); err != nil {
			return err
		}
		return bindOutput("nullifier hash", exec.Outputs.NullifierHash, record.NullifierHash)
	})
	if err != nil {
		return nil, err
	}

	args, err := p.proveAndEncode(ctx, hooks, exec.Witness)
	if err != nil {
		return nil, err
	}

	res := &ClaimResult{Calldata: args}
	err = p.run(hooks, StageSubmit, func() error {
		var err error
		res.WithdrawTx, err = p.submit(ctx, ledger.Call{
			Contract: p.cfg.Contracts.Payment,
			Function: ledger.FnWithdraw,
			Args:     append([]string{record.Commitment, record.NullifierHash}, args...),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("withdrawal confirmed",
		zap.String("commitment", record.Commitment),
		zap.String("tx", res.WithdrawTx.Hash),
	)
	return res, nil
}

// run notifies hooks, times fn and counts its failure.
func (p *Pipeline) run(hooks Hooks, stage Stage, fn func() error) error {
	if hooks != nil {
		hooks.Advance(stage)
	}
	start := time.Now()
	err := fn()
	p.metrics.observe(stage, start)
	if err != nil {
		p.metrics.fail(stage)
		p.logger.Warn("pipeline stage failed", zap.Stringer("stage", stage), zap.Error(err))
	}
	return err
}

func (p *Pipeline) execute(ctx context.Context, r *secret.Record) (*circuit.Execution, error) {
	exec, err := circuit.Run(ctx, p.cfg.Executor, circuit.Inputs{
		PatientSecret: r.PatientSecret,
		Salt:          r.Salt,
		RecipientID:   r.RecipientID,
		Amount:        r.Amount,
	})
	if err == nil {
		return exec, nil
	}
	if errors.Is(err, circuit.ErrUnexpectedOutputFormat) {
		return nil, stageErr(StageWitness, ErrCodeUnexpectedOutputFormat, "parse circuit output", err)
	}
	return nil, stageErr(StageWitness, ErrCodeCircuitExecution, "execute circuit", err)
}

// bindOutput compares a recomputed circuit output with the value the record
// claims, in constant time. Any difference means the record was not
// produced from these private inputs.
func bindOutput(name, rawComputed, claimed string) error {
	computed, err := field.ReduceToLedgerField(rawComputed)
	if err != nil {
		return stageErr(StageWitness, ErrCodeUnexpectedOutputFormat, "reduce "+name, err)
	}
	n, err := field.ParseFieldValue(claimed)
	if err != nil {
		return stageErr(StageWitness, ErrCodeInvalidRecord, "claimed "+name, err)
	}
	if subtle.ConstantTimeCompare([]byte(computed), []byte(field.FormatLedger(n))) != 1 {
		return stageErr(StageWitness, ErrCodeCommitmentMismatch, name+" mismatch - invalid secret", nil)
	}
	return nil
}

func (p *Pipeline) proveAndEncode(ctx context.Context, hooks Hooks, witness []byte) ([]string, error) {
	var proof *circuit.Proof
	err := p.run(hooks, StageProof, func() error {
		var err error
		proof, err = p.prove(ctx, witness)
		return err
	})
	if err != nil {
		return nil, err
	}

	var args []string
	err = p.run(hooks, StageCalldata, func() error {
		if err := p.cfg.Encoder.Init(ctx); err != nil {
			return stageErr(StageCalldata, ErrCodeCalldata, "initialize encoder", err)
		}
		full, err := p.cfg.Encoder.Build(proof.Bytes, proof.PublicInputs, p.cfg.VerifyingKey)
		if err != nil {
			return stageErr(StageCalldata, ErrCodeCalldata, "build calldata", err)
		}
		if args, err = calldata.StripPrefix(full); err != nil {
			return stageErr(StageCalldata, ErrCodeCalldata, "strip calldata prefix", err)
		}
		return nil
	})
	return args, err
}

// prove generates one proof. The backend is destroyed on every path.
func (p *Pipeline) prove(ctx context.Context, witness []byte) (*circuit.Proof, error) {
	backend, err := p.cfg.Backends.NewBackend(ctx)
	if err != nil {
		return nil, stageErr(StageProof, ErrCodeProofGeneration, "create proving backend", err)
	}
	defer backend.Destroy()

	proof, err := backend.GenerateProof(ctx, witness, circuit.Options{Mode: p.cfg.ProofMode})
	if err != nil {
		return nil, stageErr(StageProof, ErrCodeProofGeneration, "generate proof", err)
	}
	if proof == nil || len(proof.Bytes) == 0 {
		return nil, stageErr(StageProof, ErrCodeProofGeneration, "backend returned an empty proof", nil)
	}
	return proof, nil
}

func (p *Pipeline) submit(ctx context.Context, call ledger.Call) (*ledger.Receipt, error) {
	h, err := p.cfg.Gateway.Submit(ctx, call)
	if err != nil {
		return nil, stageErr(StageSubmit, ErrCodeSubmission, "submit "+call.Function, err)
	}
	p.logger.Debug("transaction submitted", zap.String("function", call.Function), zap.String("tx", h.Hash))

	r, err := ledger.Await(ctx, p.cfg.Gateway, h, p.cfg.ConfirmTimeout)
	var rejected *ledger.RejectedError
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, ledger.ErrTransactionTimeout):
		return nil, stageErr(StageSubmit, ErrCodeTransactionTimeout, call.Function, err)
	case errors.As(err, &rejected):
		return r, stageErr(StageSubmit, ErrCodeTransactionRejected, call.Function, err)
	default:
		return nil, stageErr(StageSubmit, ErrCodeSubmission, "await "+call.Function, err)
	}
}

// checkInputs validates the private and public circuit inputs of r.
func checkInputs(r *secret.Record) error {
	if r == nil {
		return secret.ErrIncompleteRecord
	}
	for _, in := range []struct{ name, value string }{
		{"patient secret", r.PatientSecret},
		{"salt", r.Salt},
		{"recipient ID", r.RecipientID},
	} {
		if !field.IsDecimal(in.value) {
			return fmt.Errorf("%s is not a decimal integer", in.name)
		}
	}
	return field.ValidateAmount(r.Amount)
}
