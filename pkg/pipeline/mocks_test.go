package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/suffix-labs/zkpay/pkg/circuit"
	"github.com/suffix-labs/zkpay/pkg/ledger"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, in circuit.Inputs) (*circuit.RawExecution, error) {
	args := m.Called(ctx, in)
	raw, _ := args.Get(0).(*circuit.RawExecution)
	return raw, args.Error(1)
}

type mockFactory struct {
	mock.Mock
}

func (m *mockFactory) NewBackend(ctx context.Context) (circuit.Backend, error) {
	args := m.Called(ctx)
	b, _ := args.Get(0).(circuit.Backend)
	return b, args.Error(1)
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) GenerateProof(ctx context.Context, witness []byte, opts circuit.Options) (*circuit.Proof, error) {
	args := m.Called(ctx, witness, opts)
	p, _ := args.Get(0).(*circuit.Proof)
	return p, args.Error(1)
}

func (m *mockBackend) Destroy() {
	m.Called()
}

type mockEncoder struct {
	mock.Mock
}

func (m *mockEncoder) Init(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockEncoder) Build(proof []byte, publicInputs []string, vk []byte) ([]string, error) {
	args := m.Called(proof, publicInputs, vk)
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Submit(ctx context.Context, call ledger.Call) (ledger.TxHandle, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(ledger.TxHandle), args.Error(1)
}

func (m *mockGateway) AwaitConfirmation(ctx context.Context, h ledger.TxHandle) (*ledger.Receipt, error) {
	args := m.Called(ctx, h)
	r, _ := args.Get(0).(*ledger.Receipt)
	return r, args.Error(1)
}
