package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/suffix-labs/zkpay/pkg/api"
	"github.com/suffix-labs/zkpay/pkg/field"
	"github.com/suffix-labs/zkpay/pkg/identity"
	"github.com/suffix-labs/zkpay/pkg/payment"
)

const flagAttestation = "attestation"

func depositCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit an amount for a recipient and print the transfer code",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			flags := c.Flags()
			recipient, _ := flags.GetString("recipient")
			amount, _ := flags.GetString("amount")
			token, _ := flags.GetString(flagAttestation)
			uri, _ := flags.GetString("request")

			if uri != "" {
				req, err := api.ParsePaymentRequest(uri)
				if err != nil {
					return err
				}
				recipient = req.RecipientID
				if amount == "" {
					amount = req.DisplayAmount()
				}
			}
			if recipient == "" || amount == "" {
				return errors.New("--recipient and --amount (or --request) are required")
			}

			snap, err := withNode(c, identity.RolePatient, token, func(ctx context.Context, m *payment.Machine) (payment.Snapshot, error) {
				return m.Deposit(ctx, recipient, amount)
			})
			if snap.TransferCode != "" {
				out := c.OutOrStdout()
				fmt.Fprintln(out, "commitment:   ", snap.Commitment)
				fmt.Fprintln(out, "transfer code:", snap.TransferCode)
				fmt.Fprintln(c.ErrOrStderr(), "Anyone holding the transfer code can claim the payment. Share it privately.")
			}
			return err
		},
	}
	flags := c.Flags()
	flags.String("recipient", "", "numeric recipient identifier")
	flags.String("amount", "", "amount in display units, e.g. 0.1")
	flags.String("request", "", "zkpay: payment request URI")
	flags.String(flagAttestation, "", "identity attestation token (empty skips, if allowed)")
	return c
}

func claimCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "claim <transfer-code>",
		Short: "Claim a payment with its transfer code",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			token, _ := c.Flags().GetString(flagAttestation)
			snap, err := withNode(c, identity.RoleRecipient, token, func(ctx context.Context, m *payment.Machine) (payment.Snapshot, error) {
				return m.Claim(ctx, args[0])
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), "withdrawal:", snap.TxHash)
			return nil
		},
	}
	c.Flags().String(flagAttestation, "", "identity attestation token (empty skips, if allowed)")
	return c
}

func decodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <transfer-code>",
		Short: "Show the public fields of a transfer code",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			r, err := api.DecodeTransferCode(args[0])
			if err != nil {
				return err
			}
			out := c.OutOrStdout()
			fmt.Fprintln(out, "recipient:     ", r.RecipientID)
			fmt.Fprintf(out, "amount:         %s (%s smallest units)\n", field.FormatAmount(r.Amount), r.Amount)
			fmt.Fprintln(out, "commitment:    ", r.Commitment)
			fmt.Fprintln(out, "nullifier hash:", r.NullifierHash)
			return nil
		},
	}
}
