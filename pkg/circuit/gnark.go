package circuit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	nativemimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/rs/zerolog"
)

// PaymentCircuit binds a payment's private inputs to its public commitment
// and nullifier hash:
//
//	Commitment    = MiMC(secret, salt, recipient, amount)
//	NullifierHash = MiMC(secret, salt)
//
// Public inputs, in order: RecipientID, Amount, Commitment, NullifierHash.
type PaymentCircuit struct {
	PatientSecret frontend.Variable
	Salt          frontend.Variable

	RecipientID   frontend.Variable `gnark:",public"`
	Amount        frontend.Variable `gnark:",public"`
	Commitment    frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
}

// Define declares the circuit constraints.
func (c *PaymentCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	h.Write(c.PatientSecret, c.Salt, c.RecipientID, c.Amount)
	api.AssertIsEqual(h.Sum(), c.Commitment)

	h.Reset()
	h.Write(c.PatientSecret, c.Salt)
	api.AssertIsEqual(h.Sum(), c.NullifierHash)

	return nil
}

// Keys is the compiled circuit and its Groth16 keys. Built once at process
// start and shared read-only by every pipeline run.
type Keys struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey

	vkBytes []byte
}

// Setup compiles PaymentCircuit and runs a Groth16 setup.
//
// The setup is local and therefore only suitable for development ledgers; a
// production deployment loads keys from a ceremony instead.
func Setup() (*Keys, error) {
	gnarklogger.Set(zerolog.Nop())

	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &PaymentCircuit{})
	if err != nil {
		return nil, fmt.Errorf("failed to compile circuit: %w", err)
	}

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup failed: %w", err)
	}

	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize verifying key: %w", err)
	}

	return &Keys{ccs: ccs, pk: pk, vk: vk, vkBytes: buf.Bytes()}, nil
}

// VerifyingKey returns the serialized verifying key blob.
func (k *Keys) VerifyingKey() []byte {
	return bytes.Clone(k.vkBytes)
}

// Constraints returns the number of constraints in the compiled circuit.
func (k *Keys) Constraints() int {
	return k.ccs.GetNbConstraints()
}

// ============================================================================
// Executor
// ============================================================================

// MiMCExecutor computes the circuit's outputs natively with gnark-crypto's
// MiMC, which matches the in-circuit hash, and builds the full witness.
type MiMCExecutor struct{}

// NewMiMCExecutor returns the reference executor.
func NewMiMCExecutor() *MiMCExecutor {
	return &MiMCExecutor{}
}

// Execute implements Executor. The return value is a plain JSON list
// [commitment, nullifierHash] of decimal strings.
func (e *MiMCExecutor) Execute(ctx context.Context, in Inputs) (*RawExecution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := scalarInput("patientSecret", in.PatientSecret)
	if err != nil {
		return nil, err
	}
	salt, err := scalarInput("salt", in.Salt)
	if err != nil {
		return nil, err
	}
	recipient, err := scalarInput("recipientId", in.RecipientID)
	if err != nil {
		return nil, err
	}
	amount, err := scalarInput("amount", in.Amount)
	if err != nil {
		return nil, err
	}

	commitment := mimcHash(secret, salt, recipient, amount)
	nullifier := mimcHash(secret, salt)

	assignment := &PaymentCircuit{
		PatientSecret: secret,
		Salt:          salt,
		RecipientID:   recipient,
		Amount:        amount,
		Commitment:    commitment,
		NullifierHash: nullifier,
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("failed to build witness: %w", err)
	}
	trace, err := w.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize witness: %w", err)
	}

	ret, err := json.Marshal([]string{commitment.String(), nullifier.String()})
	if err != nil {
		return nil, err
	}

	return &RawExecution{ReturnValue: ret, Witness: trace}, nil
}

// scalarInput parses a decimal input and rejects values the circuit would
// silently reduce.
func scalarInput(name, value string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("input %s is not a non-negative decimal integer", name)
	}
	if n.Cmp(ecc.BN254.ScalarField()) >= 0 {
		return nil, fmt.Errorf("input %s exceeds the proving field", name)
	}
	return n, nil
}

func mimcHash(values ...*big.Int) *big.Int {
	h := nativemimc.NewMiMC()
	for _, v := range values {
		var e fr.Element
		e.SetBigInt(v)
		b := e.Bytes()
		h.Write(b[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// ============================================================================
// Groth16 backend
// ============================================================================

// Groth16Factory hands out Groth16 backends, one proving slot each.
type Groth16Factory struct {
	keys *Keys
	pool *Pool
}

// NewGroth16Factory creates a factory sharing keys across backends.
func NewGroth16Factory(keys *Keys, pool *Pool) *Groth16Factory {
	return &Groth16Factory{keys: keys, pool: pool}
}

// NewBackend blocks until a proving slot is free.
func (f *Groth16Factory) NewBackend(ctx context.Context) (Backend, error) {
	if err := f.pool.Acquire(ctx); err != nil {
		return nil, err
	}
	return &groth16Backend{keys: f.keys, release: f.pool.Release}, nil
}

type groth16Backend struct {
	keys *Keys

	mu        sync.Mutex
	destroyed bool
	release   func()
}

// GenerateProof proves and self-verifies. It returns either a complete
// verified proof or an error; there is no partial result.
func (b *groth16Backend) GenerateProof(ctx context.Context, trace []byte, opts Options) (*Proof, error) {
	b.mu.Lock()
	destroyed := b.destroyed
	b.mu.Unlock()
	if destroyed {
		return nil, ErrBackendDestroyed
	}
	if opts.Mode != "" && opts.Mode != "groth16" {
		return nil, &Error{Code: ErrCodeProofGeneration, Message: fmt.Sprintf("unsupported mode %q", opts.Mode)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return nil, proofErr("allocate witness", err)
	}
	if err := full.UnmarshalBinary(trace); err != nil {
		return nil, proofErr("decode witness", err)
	}

	proof, err := groth16.Prove(b.keys.ccs, b.keys.pk, full)
	if err != nil {
		return nil, proofErr("prove", err)
	}

	public, err := full.Public()
	if err != nil {
		return nil, proofErr("extract public witness", err)
	}
	if err := groth16.Verify(proof, b.keys.vk, public); err != nil {
		return nil, proofErr("self-verify", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, proofErr("serialize proof", err)
	}

	vec, ok := public.Vector().(fr.Vector)
	if !ok {
		return nil, proofErr("public witness", fmt.Errorf("unexpected vector type %T", public.Vector()))
	}
	inputs := make([]string, len(vec))
	for i := range vec {
		inputs[i] = vec[i].String()
	}

	return &Proof{Bytes: buf.Bytes(), PublicInputs: inputs}, nil
}

// Destroy releases the proving slot. Safe to call more than once.
func (b *groth16Backend) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.release()
}

func proofErr(msg string, cause error) error {
	return &Error{Code: ErrCodeProofGeneration, Message: msg, Cause: cause}
}

// ============================================================================
// Verification
// ============================================================================

// Verify checks serialized Groth16 proof bytes against a serialized
// verifying key and the decimal public inputs in circuit order.
func Verify(vkBytes, proofBytes []byte, publicInputs []string) error {
	if len(publicInputs) != 4 {
		return fmt.Errorf("expected 4 public inputs, got %d", len(publicInputs))
	}

	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return fmt.Errorf("failed to read verifying key: %w", err)
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("failed to read proof: %w", err)
	}

	assignment := &PaymentCircuit{
		RecipientID:   publicInputs[0],
		Amount:        publicInputs[1],
		Commitment:    publicInputs[2],
		NullifierHash: publicInputs[3],
	}
	public, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("failed to build public witness: %w", err)
	}

	return groth16.Verify(proof, vk, public)
}
