package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitwit/sendtag/pricing"
	"github.com/vitwit/sendtag/types"
	"github.com/vitwit/sendtag/utils"
)

var priceFlags struct {
	confirmed []string
}

// priceCmd prices tag names locally, in the order given.
var priceCmd = &cobra.Command{
	Use:   "price TAG...",
	Short: "Price pending tags without contacting the backend",
	Example: `  sendtag price ab abcdef abcdefg
  sendtag price sixlet --confirmed longname`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > types.MaxTagsPerAccount {
			return fmt.Errorf("at most %d tags per account", types.MaxTagsPerAccount)
		}
		now := time.Now()
		pending := make([]types.Tag, 0, len(args))
		for i, name := range args {
			if err := utils.ValidateTagName(name); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			pending = append(pending, types.Tag{
				Name:      name,
				Status:    types.TagStatusPending,
				CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			})
		}
		confirmed := make([]types.Tag, 0, len(priceFlags.confirmed))
		for _, name := range priceFlags.confirmed {
			confirmed = append(confirmed, types.Tag{Name: name, Status: types.TagStatusConfirmed})
		}

		return printQuote(cmd.OutOrStdout(), pricing.Price(pending, confirmed))
	},
}

// quoteCmd prices the account's pending tags as stored by the backend.
var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price the account's pending tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newSendtag()
		if err != nil {
			return err
		}
		defer st.Close()

		q, err := st.Quote(context.Background())
		if err != nil {
			return err
		}
		return printQuote(cmd.OutOrStdout(), q)
	},
}

func init() {
	priceCmd.Flags().StringSliceVar(&priceFlags.confirmed, "confirmed", nil, "tags the account already owns")
}

func printQuote(w io.Writer, q types.PriceQuote) error {
	return render(w, q, func(w io.Writer) {
		for _, p := range q.PerTag {
			label := pricing.FormatEther(p.Wei) + " ETH"
			if p.IsFree {
				label = "free"
			}
			fmt.Fprintf(w, "%-20s %s\n", p.Name, label)
		}
		fmt.Fprintf(w, "%-20s %s ETH\n", "total", pricing.FormatEther(q.TotalWei))
	})
}
