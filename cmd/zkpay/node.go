package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/suffix-labs/zkpay/pkg/api"
	"github.com/suffix-labs/zkpay/pkg/config"
	"github.com/suffix-labs/zkpay/pkg/identity"
	"github.com/suffix-labs/zkpay/pkg/payment"
	"go.uber.org/zap"
)

// Global flags.
const (
	flagEnvFile  = "env-file"
	flagLogLevel = "log-level"
	flagLedger   = "ledger"
)

func addGlobalFlags(c *cobra.Command) {
	flags := c.PersistentFlags()
	flags.StringSlice(flagEnvFile, nil, ".env files to load (default .env)")
	flags.String(flagLogLevel, "", "log level (overrides "+config.EnvLogLevel+")")
	flags.String(flagLedger, "", "local ledger directory (overrides "+config.EnvLedgerPath+")")
}

// loadConfig loads the environment and applies flag overrides.
func loadConfig(c *cobra.Command) (*config.Config, *zap.Logger, error) {
	flags := c.Flags()
	envFiles, err := flags.GetStringSlice(flagEnvFile)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, nil, err
	}

	if v, _ := flags.GetString(flagLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := flags.GetString(flagLedger); v != "" {
		cfg.LedgerPath = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// withNode opens a node, verifies role and runs fn with a fresh payment.
func withNode(c *cobra.Command, role identity.Role, token string, fn func(ctx context.Context, m *payment.Machine) (payment.Snapshot, error)) (payment.Snapshot, error) {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return payment.Snapshot{}, err
	}
	defer logger.Sync()

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	node, err := api.Open(ctx, cfg, logger)
	if err != nil {
		return payment.Snapshot{}, err
	}
	defer node.Close()

	if _, err := node.VerifyParty(role, token); err != nil {
		return payment.Snapshot{}, fmt.Errorf("%s verification: %w", role, err)
	}

	m := node.NewPayment()
	defer m.Close()
	done := printProgress(c.ErrOrStderr(), m)
	snap, err := fn(ctx, m)
	m.Close()
	<-done
	return snap, err
}

// printProgress prints every state change until the machine is closed.
func printProgress(w io.Writer, m *payment.Machine) <-chan struct{} {
	ch, _ := m.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for snap := range ch {
			switch {
			case snap.Err != nil:
				fmt.Fprintf(w, "[FAIL] %s: %v\n", snap.State, snap.Err)
			case snap.State == payment.Verified:
				fmt.Fprintf(w, "[ OK ] %s\n", snap.State)
			case snap.State != payment.Initial:
				fmt.Fprintf(w, "[ .. ] %s\n", snap.State)
			}
		}
	}()
	return done
}
