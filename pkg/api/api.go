// Package api is the high-level entry point for applications.
//
// Open wires every component from a config.Config:
//
//  1. circuit   - compiles the payment circuit and runs Groth16 setup
//  2. prover    - a pool bounding concurrent proofs
//  3. calldata  - the encoder, initialized once at startup
//  4. ledger    - the local ledger hosting the verifier and payment contracts
//  5. pipeline  - the proof pipeline over all of the above
//  6. identity  - the attestation verifier gating deposits and claims
//
// Each payment is then driven by its own payment.Machine from NewPayment.
// The remaining functions are stateless helpers over the codecs.
package api

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/suffix-labs/zkpay/pkg/calldata"
	"github.com/suffix-labs/zkpay/pkg/circuit"
	"github.com/suffix-labs/zkpay/pkg/config"
	"github.com/suffix-labs/zkpay/pkg/field"
	"github.com/suffix-labs/zkpay/pkg/identity"
	"github.com/suffix-labs/zkpay/pkg/ledger"
	"github.com/suffix-labs/zkpay/pkg/payment"
	"github.com/suffix-labs/zkpay/pkg/pipeline"
	"github.com/suffix-labs/zkpay/pkg/request"
	"github.com/suffix-labs/zkpay/pkg/secret"
	"go.uber.org/zap"
)

// Node is a running set of components sharing one verifying key.
type Node struct {
	Config   *config.Config
	Keys     *circuit.Keys
	Ledger   *ledger.LocalLedger
	Pipeline *pipeline.Pipeline
	Identity *identity.Verifier
	Registry *prometheus.Registry

	logger *zap.Logger
}

// ============================================================================
// Lifecycle
// ============================================================================

// Open sets up the circuit and starts the local ledger. logger may be nil.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keys, err := circuit.Setup()
	if err != nil {
		return nil, fmt.Errorf("circuit setup: %w", err)
	}
	pool := circuit.NewPool(cfg.ProverWorkers)
	logger.Info("circuit ready",
		zap.Int("constraints", keys.Constraints()),
		zap.Int("prover_slots", pool.Size()),
	)

	encoder := calldata.NewEncoder()
	if err := encoder.Init(ctx); err != nil {
		return nil, fmt.Errorf("calldata init: %w", err)
	}

	attestation, err := loadAttestationKey(cfg.AttestationKeyPath)
	if err != nil {
		return nil, err
	}
	verifier := identity.NewVerifier(identity.Config{
		Key:       attestation,
		Issuer:    cfg.AttestationIssuer,
		AllowSkip: cfg.AllowSkipVerification,
	})

	account, err := cfg.AccountPrivateKey()
	if err != nil {
		return nil, err
	}
	l, err := ledger.OpenLocal(ledger.LocalConfig{
		Path:            cfg.LedgerPath,
		VerifierAddress: cfg.VerifierAddress,
		PaymentAddress:  cfg.PaymentAddress,
		VerifyingKey:    keys.VerifyingKey(),
		Verify:          circuit.Verify,
		Account:         account,
		BlockTime:       cfg.BlockTime,
	}, logger.Named("ledger"))
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := pipeline.NewMetrics(registry)
	if err != nil {
		l.Close()
		return nil, err
	}
	p, err := pipeline.New(pipeline.Config{
		Executor:     circuit.NewMiMCExecutor(),
		Backends:     circuit.NewGroth16Factory(keys, pool),
		Encoder:      encoder,
		Gateway:      l,
		VerifyingKey: keys.VerifyingKey(),
		Contracts: pipeline.Contracts{
			Verifier: cfg.VerifierAddress,
			Payment:  cfg.PaymentAddress,
		},
		ConfirmTimeout: cfg.ConfirmTimeout,
	}, logger.Named("pipeline"), metrics)
	if err != nil {
		l.Close()
		return nil, err
	}

	return &Node{
		Config:   cfg,
		Keys:     keys,
		Ledger:   l,
		Pipeline: p,
		Identity: verifier,
		Registry: registry,
		logger:   logger,
	}, nil
}

// Close stops the ledger.
func (n *Node) Close() error {
	return n.Ledger.Close()
}

// NewPayment returns a state machine for one payment, gated on identity
// verification.
func (n *Node) NewPayment() *payment.Machine {
	return payment.NewMachine(n.Pipeline,
		payment.WithIdentity(n.Identity),
		payment.WithLogger(n.logger.Named("payment")),
	)
}

// VerifyParty attests role with token, or skips verification when token is
// empty and skipping is allowed.
func (n *Node) VerifyParty(role identity.Role, token string) (identity.State, error) {
	if token == "" {
		return n.Identity.Skip(role)
	}
	return n.Identity.Attest(role, token)
}

func loadAttestationKey(path string) (any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attestation key: %w", err)
	}
	return identity.ParsePublicKeyPEM(data)
}

// ============================================================================
// Helpers
// ============================================================================

// ParsePaymentRequest parses a zkpay: payment request URI.
func ParsePaymentRequest(uri string) (*request.Request, error) {
	return request.Parse(uri)
}

// DecodeTransferCode decodes a transfer code into its record.
func DecodeTransferCode(code string) (*secret.Record, error) {
	return secret.Decode(code)
}

// ParseAmount converts a display amount to smallest units.
func ParseAmount(display string) (string, error) {
	return field.ParseAmount(display)
}

// FormatAmount renders smallest units for display.
func FormatAmount(smallest string) string {
	return field.FormatAmount(smallest)
}
