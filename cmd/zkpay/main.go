// zkpay CLI - private payments with commitments and nullifiers
//
// A payer deposits an amount under a commitment and hands the printed
// transfer code to the recipient, who claims it with a zero-knowledge proof.
// Deposits and claims run against a local ledger; set ZKPAY_LEDGER_PATH (or
// --ledger) so both commands see the same state.
//
// Example usage:
//
//	# Deposit 0.1 for recipient 111
//	zkpay deposit --recipient 111 --amount 0.1 --ledger ./ledger
//
//	# Claim it
//	zkpay claim --ledger ./ledger <transfer-code>
//
//	# Inspect a transfer code without claiming
//	zkpay decode <transfer-code>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "v0.1.0"

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "zkpay",
		Short:         "Private payments with zero-knowledge proofs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(root)

	root.AddCommand(
		depositCommand(),
		claimCommand(),
		decodeCommand(),
		amountCommand(),
		requestCommand(),
		versionCommand(),
	)
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			out := c.OutOrStdout()
			fmt.Fprintln(out, "zkpay", version)
			fmt.Fprintln(out, "Groth16 over BN254 with MiMC commitments")
		},
	}
}
