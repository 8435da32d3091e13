package circuit

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keysOnce sync.Once
	keys     *Keys
	keysErr  error
)

func testKeys(t *testing.T) *Keys {
	t.Helper()
	keysOnce.Do(func() { keys, keysErr = Setup() })
	require.NoError(t, keysErr)
	return keys
}

func testInputs() Inputs {
	return Inputs{
		PatientSecret: "123456789012345678901234567890",
		Salt:          "987654321098765432109876543210",
		RecipientID:   "111",
		Amount:        "100000000000000000",
	}
}

func TestExecuteDeterministic(t *testing.T) {
	exec := NewMiMCExecutor()

	a, err := Run(context.Background(), exec, testInputs())
	require.NoError(t, err)
	b, err := Run(context.Background(), exec, testInputs())
	require.NoError(t, err)

	assert.Equal(t, a.Outputs, b.Outputs)
	assert.NotEqual(t, a.Outputs.Commitment, a.Outputs.NullifierHash)
	assert.NotEmpty(t, a.Witness)
}

func TestExecuteSaltChangesCommitment(t *testing.T) {
	exec := NewMiMCExecutor()

	in := testInputs()
	a, err := Run(context.Background(), exec, in)
	require.NoError(t, err)

	in.Salt = "1"
	b, err := Run(context.Background(), exec, in)
	require.NoError(t, err)

	assert.NotEqual(t, a.Outputs.Commitment, b.Outputs.Commitment)
	assert.NotEqual(t, a.Outputs.NullifierHash, b.Outputs.NullifierHash)
}

func TestExecuteNullifierIgnoresPublicFields(t *testing.T) {
	exec := NewMiMCExecutor()

	in := testInputs()
	a, err := Run(context.Background(), exec, in)
	require.NoError(t, err)

	in.Amount = "1"
	b, err := Run(context.Background(), exec, in)
	require.NoError(t, err)

	assert.NotEqual(t, a.Outputs.Commitment, b.Outputs.Commitment)
	assert.Equal(t, a.Outputs.NullifierHash, b.Outputs.NullifierHash)
}

func TestExecuteRejectsBadInputs(t *testing.T) {
	exec := NewMiMCExecutor()

	in := testInputs()
	in.Amount = "abc"
	_, err := Run(context.Background(), exec, in)
	assert.ErrorIs(t, err, ErrCircuitExecution)

	in = testInputs()
	in.Salt = ecc.BN254.ScalarField().String()
	_, err = Run(context.Background(), exec, in)
	assert.ErrorIs(t, err, ErrCircuitExecution)
}

func TestCircuitSatisfiedByExecutorOutputs(t *testing.T) {
	exec := NewMiMCExecutor()
	in := testInputs()
	res, err := Run(context.Background(), exec, in)
	require.NoError(t, err)

	commitment, _ := new(big.Int).SetString(res.Outputs.Commitment, 10)
	nullifier, _ := new(big.Int).SetString(res.Outputs.NullifierHash, 10)

	assignment := &PaymentCircuit{
		PatientSecret: in.PatientSecret,
		Salt:          in.Salt,
		RecipientID:   in.RecipientID,
		Amount:        in.Amount,
		Commitment:    commitment,
		NullifierHash: nullifier,
	}
	assert.NoError(t, test.IsSolved(&PaymentCircuit{}, assignment, ecc.BN254.ScalarField()))

	assignment.Commitment = new(big.Int).Add(commitment, big.NewInt(1))
	assert.Error(t, test.IsSolved(&PaymentCircuit{}, assignment, ecc.BN254.ScalarField()))
}

func TestGroth16ProveAndDestroy(t *testing.T) {
	k := testKeys(t)
	assert.NotEmpty(t, k.VerifyingKey())
	assert.Greater(t, k.Constraints(), 0)

	in := testInputs()
	res, err := Run(context.Background(), NewMiMCExecutor(), in)
	require.NoError(t, err)

	factory := NewGroth16Factory(k, NewPool(1))
	backend, err := factory.NewBackend(context.Background())
	require.NoError(t, err)

	proof, err := backend.GenerateProof(context.Background(), res.Witness, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, proof.Bytes)
	assert.Equal(t, []string{in.RecipientID, in.Amount, res.Outputs.Commitment, res.Outputs.NullifierHash}, proof.PublicInputs)

	backend.Destroy()
	backend.Destroy()

	_, err = backend.GenerateProof(context.Background(), res.Witness, Options{})
	assert.ErrorIs(t, err, ErrBackendDestroyed)

	// The slot was released, so a second backend is available immediately.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	again, err := factory.NewBackend(ctx)
	require.NoError(t, err)
	again.Destroy()
}

func TestGroth16RejectsGarbageWitness(t *testing.T) {
	factory := NewGroth16Factory(testKeys(t), NewPool(1))
	backend, err := factory.NewBackend(context.Background())
	require.NoError(t, err)
	defer backend.Destroy()

	_, err = backend.GenerateProof(context.Background(), []byte{1, 2, 3}, Options{})
	assert.ErrorIs(t, err, ErrProofGeneration)

	_, err = backend.GenerateProof(context.Background(), nil, Options{Mode: "plonk"})
	assert.ErrorIs(t, err, ErrProofGeneration)
}

func TestPoolBlocksWhenFull(t *testing.T) {
	pool := NewPool(1)
	require.NoError(t, pool.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Acquire(ctx), context.DeadlineExceeded)

	pool.Release()
	assert.NoError(t, pool.Acquire(context.Background()))
	pool.Release()

	assert.GreaterOrEqual(t, NewPool(0).Size(), 1)
}
