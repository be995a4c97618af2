package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/vitwit/sendtag"
	"github.com/vitwit/sendtag/checkout"
	"github.com/vitwit/sendtag/logger"
	"github.com/vitwit/sendtag/metrics"
	"github.com/vitwit/sendtag/pricing"
	"github.com/vitwit/sendtag/types"
)

var checkoutFlags struct {
	verify  bool
	noPay   bool
	timeout time.Duration
}

// checkoutCmd runs a checkout to completion.
var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Pay for and confirm the account's pending tags",
	Long: `checkout connects the configured key, checks the network and the verified
address, pays the quoted amount to the revenue address and confirms the tags.

With --no-pay the payment is expected from another wallet; the command waits
for the deposit to appear on chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newSendtag()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, checkoutFlags.timeout)
		defer cancel()

		go st.WatchHeads(ctx)

		co := st.Checkout()
		if err := co.Open(ctx, checkoutFlags.verify); err != nil {
			return finish(cmd.OutOrStdout(), st, err)
		}
		return finish(cmd.OutOrStdout(), st, drive(ctx, co))
	},
}

func init() {
	checkoutCmd.Flags().BoolVar(&checkoutFlags.verify, "verify", false, "verify the wallet address even with no pending tags")
	checkoutFlags.timeout = 10 * time.Minute
	checkoutCmd.Flags().DurationVar(&checkoutFlags.timeout, "timeout", checkoutFlags.timeout, "give up after this long")
	checkoutCmd.Flags().BoolVar(&checkoutFlags.noPay, "no-pay", false, "wait for a payment sent from another wallet")
}

// drive performs the user action each phase asks for until the session
// reaches a terminal phase.
func drive(ctx context.Context, co *checkout.Coordinator) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		s := co.Session()
		var err error
		switch s.Phase {
		case checkout.PhaseNeedsWalletConnection:
			err = co.Connect(ctx)
		case checkout.PhaseNeedsNetworkSwitch:
			err = co.SwitchNetwork(ctx)
		case checkout.PhaseNeedsAddressVerification:
			err = co.VerifyAddress(ctx)
		case checkout.PhaseAwaitingPayment:
			if s.CanConfirm() && !checkoutFlags.noPay {
				err = co.Pay(ctx)
			}
		default:
			if s.Phase.Terminal() {
				return nil
			}
		}
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func finish(w io.Writer, st *sendtag.Sendtag, runErr error) error {
	s := st.Checkout().Session()
	network := st.Config().Network
	err := render(w, s, func(w io.Writer) {
		fmt.Fprintf(w, "session  %s\n", s.ID)
		fmt.Fprintf(w, "phase    %s\n", s.Phase)
		fmt.Fprintf(w, "total    %s ETH\n", pricing.FormatEther(s.Total()))
		if s.SentTxHash != nil {
			fmt.Fprintf(w, "tx       %s\n", network.TxURL(s.SentTxHash.Hex()))
		}
		if s.Phase == checkout.PhaseAddressMismatch {
			fmt.Fprintf(w, "verified %s\n", network.AddressURL(s.VerifiedAddress.Hex()))
		}
		if s.LastError != nil {
			fmt.Fprintf(w, "error    %s (%s)\n", s.LastError.Message, s.LastError.Code)
		}
	})
	if runErr != nil {
		return runErr
	}
	if err != nil {
		return err
	}
	if s.Phase != checkout.PhaseConfirmed && s.Phase != checkout.PhaseNothingToConfirm {
		return fmt.Errorf("checkout ended in %s", s.Phase)
	}
	return nil
}

// newSendtag builds the checkout from the environment.
func newSendtag() (*sendtag.Sendtag, error) {
	cfg, err := types.LoadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.NewZapLogger(cfg.LogLevel)
	opts := []sendtag.Option{
		sendtag.WithLogger(log),
		sendtag.WithTimeout(cfg.DefaultTimeout),
	}
	if cfg.EnableMetrics || globalFlags.MetricsAddr != "" {
		opts = append(opts, sendtag.WithMetrics(metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer)))
	}
	if globalFlags.MetricsAddr != "" {
		serveMetrics(globalFlags.MetricsAddr, log)
	}
	return sendtag.New(cfg, opts...)
}

func serveMetrics(addr string, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", map[string]any{"addr": addr, "error": err})
		}
	}()
}
