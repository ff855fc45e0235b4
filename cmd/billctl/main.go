package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/akylbek/payment-system/bill-reconciler/internal/gateway"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "billctl",
		Short:   "billctl - operator tools for bill payment reconciliation",
		Version: Version,
	}

	rootCmd.PersistentFlags().String("server-key", os.Getenv("MIDTRANS_SERVER_KEY"), "Gateway server key")
	rootCmd.PersistentFlags().Bool("production", false, "Use the production gateway")

	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(signCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Interpret a gateway notification body (\"-\" reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			var opts []gateway.InterpreterOption
			if verify, _ := cmd.Flags().GetBool("verify"); verify {
				key, _ := cmd.Flags().GetString("server-key")
				if key == "" {
					return fmt.Errorf("--verify needs --server-key or MIDTRANS_SERVER_KEY")
				}
				opts = append(opts, gateway.WithServerKey(key))
			}

			event, err := gateway.NewInterpreter(opts...).Parse(raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), event)
		},
	}

	cmd.Flags().Bool("verify", false, "Verify the notification signature")

	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [order-id]",
		Short: "Query the gateway for an order's state and amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("server-key")
			production, _ := cmd.Flags().GetBool("production")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			client, err := gateway.NewClient(key, production)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			status, err := client.QueryStatus(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"order_id": args[0],
				"state":    status.State,
				"amount":   status.Amount,
				"settled":  status.State.IsSuccess(),
			})
		},
	}

	cmd.Flags().Duration("timeout", 10*time.Second, "Request timeout")

	return cmd
}

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Compute the signature_key for a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("server-key")
			orderID, _ := cmd.Flags().GetString("order-id")
			statusCode, _ := cmd.Flags().GetString("status-code")
			grossAmount, _ := cmd.Flags().GetString("gross-amount")
			if key == "" || orderID == "" || grossAmount == "" {
				return fmt.Errorf("--server-key, --order-id and --gross-amount are required")
			}
			fmt.Fprintln(cmd.OutOrStdout(), gateway.Signature(orderID, statusCode, grossAmount, key))
			return nil
		},
	}

	cmd.Flags().String("order-id", "", "Order id")
	cmd.Flags().String("status-code", "200", "Gateway status code")
	cmd.Flags().String("gross-amount", "", "Gross amount as sent by the gateway, e.g. 150000.00")

	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
