// Package config loads process configuration from the environment.
//
// Values come from ZKPAY_* environment variables, optionally seeded from
// .env files. Nothing here is global: Load returns a Config that callers
// pass to constructors.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/suffix-labs/zkpay/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment variable names.
const (
	EnvVerifierAddress   = "ZKPAY_VERIFIER_ADDRESS"
	EnvPaymentAddress    = "ZKPAY_PAYMENT_ADDRESS"
	EnvAccountKey        = "ZKPAY_ACCOUNT_KEY"
	EnvLedgerPath        = "ZKPAY_LEDGER_PATH"
	EnvConfirmTimeout    = "ZKPAY_CONFIRM_TIMEOUT"
	EnvBlockTime         = "ZKPAY_BLOCK_TIME"
	EnvProverWorkers     = "ZKPAY_PROVER_WORKERS"
	EnvLogLevel          = "ZKPAY_LOG_LEVEL"
	EnvLogDevelopment    = "ZKPAY_LOG_DEVELOPMENT"
	EnvAllowSkip         = "ZKPAY_ALLOW_SKIP_VERIFICATION"
	EnvAttestationKey    = "ZKPAY_ATTESTATION_KEY"
	EnvAttestationIssuer = "ZKPAY_ATTESTATION_ISSUER"
)

// Defaults.
const (
	DefaultVerifierAddress = "zkpay-verifier"
	DefaultPaymentAddress  = "zkpay-payment"
	DefaultConfirmTimeout  = 60 * time.Second
	DefaultLogLevel        = "info"
)

// Config is the process configuration. It is read-only after Load.
type Config struct {
	VerifierAddress string
	PaymentAddress  string

	// AccountKey is the hex secp256k1 key that signs ledger calls. Empty
	// generates a throwaway key.
	AccountKey string

	// LedgerPath is the local ledger's LevelDB directory. Empty keeps the
	// ledger in memory.
	LedgerPath string

	ConfirmTimeout time.Duration
	BlockTime      time.Duration

	// ProverWorkers bounds concurrent proofs; 0 sizes by CPU count.
	ProverWorkers int

	LogLevel       string
	LogDevelopment bool

	// AllowSkipVerification enables identity verification bypass. Never set
	// in production.
	AllowSkipVerification bool

	// AttestationKeyPath is a PEM public key for identity attestation tokens.
	AttestationKeyPath string
	AttestationIssuer  string
}

// Load reads the given .env files (missing files are ignored; no files
// means ".env") and then the environment. Variables already set in the
// environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := &Config{
		VerifierAddress:    getenv(EnvVerifierAddress, DefaultVerifierAddress),
		PaymentAddress:     getenv(EnvPaymentAddress, DefaultPaymentAddress),
		AccountKey:         os.Getenv(EnvAccountKey),
		LedgerPath:         os.Getenv(EnvLedgerPath),
		LogLevel:           getenv(EnvLogLevel, DefaultLogLevel),
		AttestationKeyPath: os.Getenv(EnvAttestationKey),
		AttestationIssuer:  os.Getenv(EnvAttestationIssuer),
	}

	var err error
	if cfg.ConfirmTimeout, err = durationEnv(EnvConfirmTimeout, DefaultConfirmTimeout); err != nil {
		return nil, err
	}
	if cfg.BlockTime, err = durationEnv(EnvBlockTime, 0); err != nil {
		return nil, err
	}
	if cfg.ProverWorkers, err = intEnv(EnvProverWorkers, 0); err != nil {
		return nil, err
	}
	if cfg.LogDevelopment, err = boolEnv(EnvLogDevelopment); err != nil {
		return nil, err
	}
	if cfg.AllowSkipVerification, err = boolEnv(EnvAllowSkip); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that Load cannot check while parsing.
func (c *Config) Validate() error {
	if c.VerifierAddress == "" || c.PaymentAddress == "" {
		return errors.New("config: contract addresses must not be empty")
	}
	if c.VerifierAddress == c.PaymentAddress {
		return errors.New("config: verifier and payment contracts must differ")
	}
	if c.AccountKey != "" {
		if _, err := ledger.ParsePrivateKeyHex(c.AccountKey); err != nil {
			return fmt.Errorf("config: %s: %w", EnvAccountKey, err)
		}
	}
	if c.ConfirmTimeout < 0 || c.BlockTime < 0 {
		return errors.New("config: durations must not be negative")
	}
	if c.ProverWorkers < 0 {
		return fmt.Errorf("config: %s must not be negative", EnvProverWorkers)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %s: %w", EnvLogLevel, err)
	}
	return nil
}

// AccountPrivateKey parses AccountKey, generating a fresh key when unset.
func (c *Config) AccountPrivateKey() (*ledger.PrivateKey, error) {
	if c.AccountKey == "" {
		return ledger.GeneratePrivateKey()
	}
	return ledger.ParsePrivateKeyHex(c.AccountKey)
}

// NewLogger builds a zap logger at level. Development loggers are
// human-readable; production loggers emit JSON.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}
