package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	OutputFormat string
	MetricsAddr  string
}

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:   "sendtag",
	Short: "Price and confirm Send Tags",
	Long: `sendtag prices pending Send Tags and walks a checkout from wallet checks
through payment to backend confirmation.

Configuration is read from SENDTAG_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch globalFlags.OutputFormat {
		case "json", "text":
			return nil
		default:
			return fmt.Errorf("unknown output format %q", globalFlags.OutputFormat)
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalFlags.OutputFormat, "output", "o", "text", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&globalFlags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(priceCmd, quoteCmd, checkoutCmd, tagCmd, receiptsCmd)
}

// render writes v as JSON, or calls text for the text format.
func render(w io.Writer, v any, text func(io.Writer)) error {
	if globalFlags.OutputFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
