// Package sendtag wires the Send Tag checkout: pricing, wallet and chain
// checks, deposit reconciliation and backend confirmation.
package sendtag

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/sendtag/cache"
	"github.com/vitwit/sendtag/checkout"
	"github.com/vitwit/sendtag/clients"
	"github.com/vitwit/sendtag/confirmation"
	"github.com/vitwit/sendtag/logger"
	"github.com/vitwit/sendtag/metrics"
	"github.com/vitwit/sendtag/pricing"
	"github.com/vitwit/sendtag/reconciler"
	"github.com/vitwit/sendtag/types"
	"github.com/vitwit/sendtag/verification"
)

// TopicTagsConfirmed is published with a checkout.Session once the backend
// confirms the pending tags.
const TopicTagsConfirmed = "sendtag:tags_confirmed"

// Version information
const Version = "1.0.0"

// ChainClient is the chain access the checkout needs. *clients.EVMClient implements it.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	FilterDeposits(ctx context.Context, sender common.Address, fromBlock uint64) ([]types.DepositEvent, error)
	WaitForTransaction(ctx context.Context, txHash common.Hash, confirmations uint64) (*gethtypes.Receipt, error)
	SubscribeHeads(ctx context.Context) <-chan uint64
	Close()
}

// Sendtag is the main struct that provides the checkout
type Sendtag struct {
	config      *types.Config
	chain       ChainClient
	backend     *clients.BackendClient
	receipts    *cache.ReceiptCache
	coordinator *checkout.Coordinator

	bus     evbus.Bus
	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration
}

// freshBackend always loads receipts from the backend before a payment step
// and keeps the cache current for other readers.
type freshBackend struct {
	*clients.BackendClient
	receipts *cache.ReceiptCache
}

func (b freshBackend) Receipts(ctx context.Context) ([]types.Receipt, error) {
	return b.receipts.Refresh(ctx)
}

// New dials the configured RPC endpoint and backend and assembles a checkout.
func New(config *types.Config, opts ...Option) (*Sendtag, error) {
	if config == nil {
		return nil, types.NewError(types.ErrConfigError, "config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	evm, err := clients.NewEVMClient(config.Network, config.RPCUrl, config.Revenue())
	if err != nil {
		return nil, fmt.Errorf("failed to create EVM client for %s: %w", config.Network, err)
	}
	evm.SetPollInterval(config.PollInterval)

	wallet, err := clients.NewKeyWallet(config.HexSeed, evm)
	if err != nil {
		evm.Close()
		return nil, &types.SendtagError{Code: types.ErrConfigError, Message: err.Error()}
	}

	s, err := assemble(config, evm, wallet, nil, opts...)
	if err != nil {
		evm.Close()
		return nil, err
	}
	evm.SetLogger(s.logger)
	return s, nil
}

// assemble builds the checkout over the given chain and wallet. A nil
// httpClient uses one with the configured timeout.
func assemble(config *types.Config, chain ChainClient, wallet checkout.Wallet, httpClient *http.Client, opts ...Option) (*Sendtag, error) {
	s := &Sendtag{
		config:  config,
		chain:   chain,
		timeout: config.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.NewZapLogger(config.LogLevel)
	}
	s.metrics = metrics.OrNoop(s.metrics)
	if s.bus == nil {
		s.bus = evbus.New()
	}

	backend, err := clients.NewBackendClient(config.BackendURL, config.BackendToken, s.timeout, httpClient)
	if err != nil {
		return nil, err
	}
	s.backend = backend

	receipts, err := cache.NewReceiptCache(backend, config.ReceiptCacheTTL, s.logger)
	if err != nil {
		return nil, err
	}
	s.receipts = receipts

	if err := s.bus.Subscribe(TopicTagsConfirmed, func(checkout.Session) {
		s.receipts.Invalidate()
	}); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", TopicTagsConfirmed, err)
	}

	s.coordinator = checkout.NewCoordinator(
		checkout.Config{
			ChainID:       config.ChainID(),
			Revenue:       config.Revenue(),
			Confirmations: checkout.DefaultConfirmations,
		},
		wallet,
		chain,
		freshBackend{BackendClient: backend, receipts: receipts},
		verification.NewVerifier(backend, config.AppName, s.logger),
		reconciler.New(chain, config.DeploymentBlock,
			reconciler.WithLogger(s.logger),
			reconciler.WithMetrics(s.metrics),
		),
		confirmation.NewSubmitter(backend,
			confirmation.WithLogger(s.logger),
			confirmation.WithMetrics(s.metrics),
		),
		checkout.WithLogger(s.logger),
		checkout.WithMetrics(s.metrics),
		checkout.WithOnConfirmed(func(session checkout.Session) {
			s.bus.Publish(TopicTagsConfirmed, session)
		}),
	)
	return s, nil
}

// Checkout returns the session coordinator.
func (s *Sendtag) Checkout() *checkout.Coordinator {
	return s.coordinator
}

// Backend returns the reservation service client.
func (s *Sendtag) Backend() *clients.BackendClient {
	return s.backend
}

// Config returns the configuration the checkout was built with.
func (s *Sendtag) Config() *types.Config {
	return s.config
}

// OnConfirmed subscribes fn to confirmed checkouts.
func (s *Sendtag) OnConfirmed(fn func(checkout.Session)) error {
	return s.bus.Subscribe(TopicTagsConfirmed, fn)
}

// Quote loads the account's tags and prices the pending ones.
func (s *Sendtag) Quote(ctx context.Context) (types.PriceQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tags, err := s.backend.Tags(ctx)
	if err != nil {
		return types.PriceQuote{}, err
	}
	pending, confirmed := types.SplitTags(tags)
	return pricing.Quote(pending, confirmed), nil
}

// Receipts returns the account's consumed payment receipts, served from the
// cache when possible.
func (s *Sendtag) Receipts(ctx context.Context) ([]types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.receipts.Receipts(ctx)
}

// WatchHeads feeds new chain heads to the checkout until ctx is done.
func (s *Sendtag) WatchHeads(ctx context.Context) {
	for head := range s.chain.SubscribeHeads(ctx) {
		if err := s.coordinator.OnNewHead(ctx, head); err != nil {
			s.logger.Warn("checkout head handling failed", map[string]any{"head": head, "error": err})
		}
	}
}

// Close releases the chain connection and cache.
func (s *Sendtag) Close() {
	s.chain.Close()
	if err := s.receipts.Close(); err != nil {
		s.logger.Warn("close receipt cache", map[string]any{"error": err})
	}
	if z, ok := s.logger.(interface{ Sync() error }); ok {
		_ = z.Sync()
	}
}
