package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/suffix-labs/zkpay/pkg/circuit"
	"github.com/suffix-labs/zkpay/pkg/field"
	"github.com/suffix-labs/zkpay/pkg/ledger"
	"github.com/suffix-labs/zkpay/pkg/secret"
	"go.uber.org/zap"
)

var (
	testVK        = []byte("vk")
	testContracts = Contracts{Verifier: "0xverifier", Payment: "0xpayment"}
	// Raw outputs larger than the ledger modulus, so reduction is visible.
	rawCommitment = "3618502788666131213697322783095070105623107215331596699973092056135872020490"
	rawNullifier  = "42"
	fullCalldata  = []string{"0x3", "0x1", "0x2", "0x3"}
)

type fixture struct {
	exec     *mockExecutor
	factory  *mockFactory
	backend  *mockBackend
	encoder  *mockEncoder
	gateway  *mockGateway
	registry *prometheus.Registry
	p        *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		exec:     new(mockExecutor),
		factory:  new(mockFactory),
		backend:  new(mockBackend),
		encoder:  new(mockEncoder),
		gateway:  new(mockGateway),
		registry: prometheus.NewRegistry(),
	}
	metrics, err := NewMetrics(f.registry)
	require.NoError(t, err)

	f.p, err = New(Config{
		Executor:     f.exec,
		Backends:     f.factory,
		Encoder:      f.encoder,
		Gateway:      f.gateway,
		VerifyingKey: testVK,
		Contracts:    testContracts,
	}, zap.NewNop(), metrics)
	require.NoError(t, err)
	return f
}

func (f *fixture) executes(commitment, nullifier string) {
	ret, _ := json.Marshal([]string{commitment, nullifier})
	f.exec.On("Execute", mock.Anything, mock.Anything).
		Return(&circuit.RawExecution{ReturnValue: ret, Witness: []byte("witness")}, nil)
}

func (f *fixture) proves() {
	f.factory.On("NewBackend", mock.Anything).Return(f.backend, nil)
	f.backend.On("GenerateProof", mock.Anything, []byte("witness"), circuit.Options{}).
		Return(&circuit.Proof{Bytes: []byte{1, 2}, PublicInputs: []string{"1", "2", "3", "4"}}, nil)
	f.backend.On("Destroy").Return()
}

func (f *fixture) encodes() {
	f.encoder.On("Init", mock.Anything).Return(nil)
	f.encoder.On("Build", []byte{1, 2}, []string{"1", "2", "3", "4"}, testVK).Return(fullCalldata, nil)
}

func (f *fixture) confirms(function, hash string) {
	f.gateway.On("Submit", mock.Anything, mock.MatchedBy(func(c ledger.Call) bool { return c.Function == function })).
		Return(ledger.TxHandle{Hash: hash}, nil)
	f.gateway.On("AwaitConfirmation", mock.Anything, ledger.TxHandle{Hash: hash}).
		Return(&ledger.Receipt{Hash: hash, Status: ledger.StatusConfirmed}, nil)
}

func (f *fixture) assertAll(t *testing.T) {
	f.exec.AssertExpectations(t)
	f.factory.AssertExpectations(t)
	f.backend.AssertExpectations(t)
	f.encoder.AssertExpectations(t)
	f.gateway.AssertExpectations(t)
}

type stageRecorder []Stage

func (r *stageRecorder) Advance(s Stage) { *r = append(*r, s) }

func testDraft(t *testing.T) *secret.Record {
	t.Helper()
	draft, err := secret.NewDraft("111", "0.1")
	require.NoError(t, err)
	return draft
}

func TestDepositHappyPath(t *testing.T) {
	f := newFixture(t)
	f.executes(rawCommitment, rawNullifier)
	f.proves()
	f.encodes()
	f.confirms(ledger.FnVerify, "0xv")
	f.confirms(ledger.FnDeposit, "0xd")

	var stages stageRecorder
	draft := testDraft(t)
	res, err := f.p.Deposit(context.Background(), draft, &stages)
	require.NoError(t, err)

	assert.Equal(t, stageRecorder{StageWitness, StageProof, StageCalldata, StageSubmit}, stages)
	assert.Equal(t, fullCalldata[1:], res.Calldata)
	assert.Equal(t, "0xv", res.VerifyTx.Hash)
	assert.Equal(t, "0xd", res.DepositTx.Hash)

	wantCommitment, err := field.ReduceToLedgerField(rawCommitment)
	require.NoError(t, err)
	assert.Equal(t, wantCommitment, res.Record.Commitment)
	assert.Equal(t, "0x2a", res.Record.NullifierHash)
	assert.Empty(t, draft.Commitment, "draft must not be mutated")

	decoded, err := secret.Decode(res.TransferCode)
	require.NoError(t, err)
	assert.Equal(t, res.Record, decoded)

	f.gateway.AssertCalled(t, "Submit", mock.Anything, ledger.Call{
		Contract: testContracts.Verifier,
		Function: ledger.FnVerify,
		Args:     fullCalldata[1:],
	})
	f.gateway.AssertCalled(t, "Submit", mock.Anything, ledger.Call{
		Contract: testContracts.Payment,
		Function: ledger.FnDeposit,
		Args:     []string{wantCommitment, "0x16345785d8a0000", "0x0"},
	})
	f.assertAll(t)

	assert.Equal(t, 4, testutil.CollectAndCount(f.p.metrics.duration))
	assert.Equal(t, 0, testutil.CollectAndCount(f.p.metrics.failures))
}

func TestDepositCircuitFailure(t *testing.T) {
	f := newFixture(t)
	f.exec.On("Execute", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	var stages stageRecorder
	res, err := f.p.Deposit(context.Background(), testDraft(t), &stages)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCircuitExecution)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageWitness, se.Stage)
	assert.Equal(t, stageRecorder{StageWitness}, stages)
	f.factory.AssertNotCalled(t, "NewBackend", mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.p.metrics.failures.WithLabelValues("witness")))
}

func TestDepositUnexpectedOutput(t *testing.T) {
	f := newFixture(t)
	f.exec.On("Execute", mock.Anything, mock.Anything).
		Return(&circuit.RawExecution{ReturnValue: json.RawMessage(`{"commitment":"1"}`)}, nil)

	_, err := f.p.Deposit(context.Background(), testDraft(t), nil)
	assert.ErrorIs(t, err, ErrUnexpectedOutputFormat)
	assert.ErrorIs(t, err, circuit.ErrUnexpectedOutputFormat)
}

func TestDepositRejectsInvalidDraft(t *testing.T) {
	f := newFixture(t)
	draft := testDraft(t)
	draft.Amount = "1.5"

	_, err := f.p.Deposit(context.Background(), draft, nil)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	f.exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)

	_, err = f.p.Deposit(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestBackendDestroyedOnFailure(t *testing.T) {
	f := newFixture(t)
	f.executes(rawCommitment, rawNullifier)
	f.factory.On("NewBackend", mock.Anything).Return(f.backend, nil)
	f.backend.On("GenerateProof", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("out of memory"))
	f.backend.On("Destroy").Return().Once()

	var stages stageRecorder
	_, err := f.p.Deposit(context.Background(), testDraft(t), &stages)
	assert.ErrorIs(t, err, ErrProofGeneration)
	assert.Equal(t, stageRecorder{StageWitness, StageProof}, stages)
	f.backend.AssertExpectations(t)
	f.encoder.AssertNotCalled(t, "Build", mock.Anything, mock.Anything, mock.Anything)
}

func TestBackendDestroyedOnSuccess(t *testing.T) {
	f := newFixture(t)
	f.executes(rawCommitment, rawNullifier)
	f.proves()
	f.encoder.On("Init", mock.Anything).Return(nil)
	f.encoder.On("Build", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("bad proof layout"))

	var stages stageRecorder
	res, err := f.p.Deposit(context.Background(), testDraft(t), &stages)
	assert.ErrorIs(t, err, ErrCalldata)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.TransferCode)
	assert.Equal(t, stageRecorder{StageWitness, StageProof, StageCalldata}, stages)
	f.backend.AssertNumberOfCalls(t, "Destroy", 1)
}

func TestCalldataInitFailure(t *testing.T) {
	f := newFixture(t)
	f.executes(rawCommitment, rawNullifier)
	f.proves()
	f.encoder.On("Init", mock.Anything).Return(errors.New("no wasm"))

	_, err := f.p.Deposit(context.Background(), testDraft(t), nil)
	assert.ErrorIs(t, err, ErrCalldata)
	f.encoder.AssertNotCalled(t, "Build", mock.Anything, mock.Anything, mock.Anything)
}

func TestDepositTimeout(t *testing.T) {
	f := newFixture(t)
	f.executes(rawCommitment, rawNullifier)
	f.proves()
	f.encodes()
	f.gateway.On("Submit", mock.Anything, mock.Anything).Return(ledger.TxHandle{Hash: "0xv"}, nil)
	f.gateway.On("AwaitConfirmation", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)
	f.p.cfg.ConfirmTimeout = 1

	var stages stageRecorder
	res, err := f.p.Deposit(context.Background(), testDraft(t), &stages)
	assert.ErrorIs(t, err, ErrTransactionTimeout)
	assert.ErrorIs(t, err, ledger.ErrTransactionTimeout)
	assert.Equal(t, StageSubmit, stages[len(stages)-1])
	require.NotNil(t, res)
	assert.True(t, res.Record.IsComplete())
}

func TestDepositRejected(t *testing.T) {
	f := newFixture(t)
	f.executes(rawCommitment, rawNullifier)
	f.proves()
	f.encodes()
	f.confirms(ledger.FnVerify, "0xv")
	f.gateway.On("Submit", mock.Anything, mock.MatchedBy(func(c ledger.Call) bool { return c.Function == ledger.FnDeposit })).
		Return(ledger.TxHandle{Hash: "0xd"}, nil)
	f.gateway.On("AwaitConfirmation", mock.Anything, ledger.TxHandle{Hash: "0xd"}).
		Return(&ledger.Receipt{Hash: "0xd", Status: ledger.StatusRejected, Reason: "commitment already exists"}, nil)

	_, err := f.p.Deposit(context.Background(), testDraft(t), nil)
	assert.ErrorIs(t, err, ErrTransactionRejected)
	assert.Contains(t, err.Error(), "commitment already exists")
}

func TestClaimHappyPath(t *testing.T) {
	f := newFixture(t)
	f.executes(rawCommitment, rawNullifier)
	f.proves()
	f.encodes()
	f.confirms(ledger.FnWithdraw, "0xw")

	record, err := secret.Finalize(testDraft(t), rawCommitment, rawNullifier)
	require.NoError(t, err)

	var stages stageRecorder
	res, err := f.p.Claim(context.Background(), record, &stages)
	require.NoError(t, err)
	assert.Equal(t, stageRecorder{StageWitness, StageProof, StageCalldata, StageSubmit}, stages)
	assert.Equal(t, "0xw", res.WithdrawTx.Hash)

	f.gateway.AssertCalled(t, "Submit", mock.Anything, ledger.Call{
		Contract: testContracts.Payment,
		Function: ledger.FnWithdraw,
		Args:     append([]string{record.Commitment, record.NullifierHash}, fullCalldata[1:]...),
	})
	f.assertAll(t)
}

func TestClaimCommitmentMismatchStopsBeforeProving(t *testing.T) {
	f := newFixture(t)
	f.executes("12345", rawNullifier)

	record, err := secret.Finalize(testDraft(t), rawCommitment, rawNullifier)
	require.NoError(t, err)

	var stages stageRecorder
	_, err = f.p.Claim(context.Background(), record, &stages)
	assert.ErrorIs(t, err, ErrCommitmentMismatch)
	assert.Equal(t, stageRecorder{StageWitness}, stages)
	f.factory.AssertNotCalled(t, "NewBackend", mock.Anything)
}

func TestClaimNullifierMismatchStopsBeforeProving(t *testing.T) {
	f := newFixture(t)
	f.executes(rawCommitment, rawNullifier)

	record, err := secret.Finalize(testDraft(t), rawCommitment, rawNullifier)
	require.NoError(t, err)
	record.NullifierHash = "0x1234"

	var stages stageRecorder
	_, err = f.p.Claim(context.Background(), record, &stages)
	assert.ErrorIs(t, err, ErrCommitmentMismatch)
	assert.Contains(t, err.Error(), "nullifier hash mismatch")
	assert.Equal(t, stageRecorder{StageWitness}, stages)
	f.factory.AssertNotCalled(t, "NewBackend", mock.Anything)
	f.gateway.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestClaimAcceptsNonCanonicalCommitment(t *testing.T) {
	f := newFixture(t)
	f.executes("42", rawNullifier)
	f.proves()
	f.encodes()
	f.confirms(ledger.FnWithdraw, "0xw")

	record, err := secret.Finalize(testDraft(t), "1", rawNullifier)
	require.NoError(t, err)
	record.Commitment = "0x002A"

	_, err = f.p.Claim(context.Background(), record, nil)
	assert.NoError(t, err)
}

func TestClaimRequiresCompleteRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Claim(context.Background(), testDraft(t), nil)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.ErrorIs(t, err, secret.ErrIncompleteRecord)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Error(t, err)

	f := newFixture(t)
	cfg := f.p.cfg
	cfg.VerifyingKey = nil
	_, err = New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestMetricsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
