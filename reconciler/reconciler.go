// Package reconciler discovers tag payments from deposit events emitted by the
// revenue address. A payment may be sent from a wallet this process never sees
// (another device, another wallet app), so the send call's return value alone
// cannot be relied on.
package reconciler

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/sendtag/logger"
	"github.com/vitwit/sendtag/metrics"
	"github.com/vitwit/sendtag/types"
)

// DepositSource queries the chain's log index for deposits made by sender.
type DepositSource interface {
	FilterDeposits(ctx context.Context, sender common.Address, fromBlock uint64) ([]types.DepositEvent, error)
}

// Request describes the payment being looked for.
type Request struct {
	Account       common.Address
	ExpectedWei   *big.Int
	KnownReceipts []common.Hash
}

// Reconciler matches deposit events against an expected payment.
type Reconciler struct {
	source    DepositSource
	fromBlock uint64
	logger    logger.Logger
	metrics   metrics.Recorder

	mu       sync.Mutex
	lastHead uint64
}

type Option func(*Reconciler)

func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// New creates a reconciler reading deposits from fromBlock onward.
func New(source DepositSource, fromBlock uint64, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:    source,
		fromBlock: fromBlock,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logger.OrNoop(r.logger)
	r.metrics = metrics.OrNoop(r.metrics)
	return r
}

// Lookup queries deposits once and returns the first unconsumed match.
// No match is not an error.
func (r *Reconciler) Lookup(ctx context.Context, req Request) (common.Hash, bool, error) {
	if req.ExpectedWei == nil || req.ExpectedWei.Sign() <= 0 {
		return common.Hash{}, false, nil
	}

	start := time.Now()
	events, err := r.source.FilterDeposits(ctx, req.Account, r.fromBlock)
	r.metrics.ObserveLatency(metrics.DepositLookup, time.Since(start), map[string]string{"outcome": outcomeLabel(err)})
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("filter deposits: %w", err)
	}

	hash, ok := Match(events, req)
	if ok {
		r.metrics.IncCounter(metrics.DepositMatched, map[string]string{"phase": "awaiting_payment"})
		r.logger.Info("matched deposit event", map[string]any{
			"sender": req.Account.Hex(),
			"value":  req.ExpectedWei.String(),
			"tx":     hash.Hex(),
		})
	}
	return hash, ok, nil
}

// OnHead runs Lookup at most once per new chain head. Heads at or below the
// last evaluated one are ignored.
func (r *Reconciler) OnHead(ctx context.Context, head uint64, req Request) (common.Hash, bool, error) {
	r.mu.Lock()
	if head <= r.lastHead {
		r.mu.Unlock()
		return common.Hash{}, false, nil
	}
	r.lastHead = head
	r.mu.Unlock()

	return r.Lookup(ctx, req)
}

// Reset forgets the last evaluated head.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.lastHead = 0
	r.mu.Unlock()
}

// Watch evaluates every head received on heads until a match is found or ctx
// is done. Query errors are logged and retried on the next head.
func (r *Reconciler) Watch(ctx context.Context, heads <-chan uint64, req Request) (common.Hash, error) {
	for {
		select {
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		case head, ok := <-heads:
			if !ok {
				return common.Hash{}, fmt.Errorf("head stream closed")
			}
			hash, found, err := r.OnHead(ctx, head, req)
			if err != nil {
				r.logger.Warn("deposit lookup failed", map[string]any{"head": head, "error": err})
				continue
			}
			if found {
				return hash, nil
			}
		}
	}
}

// Match returns the first event, in index order, sent by req.Account with
// exactly req.ExpectedWei whose hash is not a known receipt.
func Match(events []types.DepositEvent, req Request) (common.Hash, bool) {
	if req.ExpectedWei == nil {
		return common.Hash{}, false
	}
	known := make(map[common.Hash]struct{}, len(req.KnownReceipts))
	for _, h := range req.KnownReceipts {
		known[h] = struct{}{}
	}

	for _, ev := range events {
		if ev.Sender != req.Account {
			continue
		}
		if ev.Value == nil || ev.Value.Cmp(req.ExpectedWei) != 0 {
			continue
		}
		if _, used := known[ev.TransactionHash]; used {
			continue
		}
		return ev.TransactionHash, true
	}
	return common.Hash{}, false
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
