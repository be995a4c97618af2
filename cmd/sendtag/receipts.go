package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/vitwit/sendtag/types"
)

// receiptsCmd lists the payments the backend has already consumed.
var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "List the account's consumed payment receipts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newSendtag()
		if err != nil {
			return err
		}
		defer st.Close()

		receipts, err := st.Receipts(context.Background())
		if err != nil {
			return err
		}
		return printReceipts(cmd.OutOrStdout(), st.Config().Network, receipts)
	},
}

func printReceipts(w io.Writer, network types.Network, receipts []types.Receipt) error {
	return render(w, receipts, func(w io.Writer) {
		if len(receipts) == 0 {
			fmt.Fprintln(w, "no receipts")
			return
		}
		for _, r := range receipts {
			fmt.Fprintln(w, network.TxURL(r.Hash.Hex()))
		}
	})
}
