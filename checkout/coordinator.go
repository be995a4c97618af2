// Package checkout drives a tag payment from wallet checks through on-chain
// payment to the backend confirmation.
//
// Every handler is synchronous: it advances the session as far as it can and
// returns. Collaborator calls are made without holding the session lock. The
// epoch advances on Close and whenever a handler restarts the flow, and results
// computed under an older epoch are dropped.
package checkout

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/vitwit/sendtag/confirmation"
	"github.com/vitwit/sendtag/logger"
	"github.com/vitwit/sendtag/metrics"
	"github.com/vitwit/sendtag/pricing"
	"github.com/vitwit/sendtag/reconciler"
	"github.com/vitwit/sendtag/types"
	"github.com/vitwit/sendtag/verification"
)

// DefaultConfirmations is the number of blocks a payment needs before it is submitted.
const DefaultConfirmations = 2

const installWalletMessage = "Please install a web3 wallet like MetaMask."

// Wallet is the user's wallet session.
type Wallet interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Account() common.Address
	ChainID(ctx context.Context) (int64, error)
	SwitchChain(ctx context.Context, chainID int64) error
	SignMessage(ctx context.Context, message string) (string, error)
	SendTransaction(ctx context.Context, to common.Address, value *big.Int) (common.Hash, error)
}

// Chain is the configured RPC endpoint.
type Chain interface {
	ChainID(ctx context.Context) (*big.Int, error)
	WaitForTransaction(ctx context.Context, txHash common.Hash, confirmations uint64) (*gethtypes.Receipt, error)
}

// Backend loads the account's tags and consumed receipts.
type Backend interface {
	Tags(ctx context.Context) ([]types.Tag, error)
	Receipts(ctx context.Context) ([]types.Receipt, error)
}

// AddressVerifier checks and proves ownership of the paying address.
type AddressVerifier interface {
	Binding(ctx context.Context, connected common.Address) (verification.Binding, common.Address, error)
	Verify(ctx context.Context, signer verification.Signer, address common.Address) error
}

// DepositWatcher finds payments in the revenue address's deposit events.
type DepositWatcher interface {
	Lookup(ctx context.Context, req reconciler.Request) (common.Hash, bool, error)
	OnHead(ctx context.Context, head uint64, req reconciler.Request) (common.Hash, bool, error)
	Reset()
}

// Submitter confirms the pending tags with the backend.
type Submitter interface {
	Submit(ctx context.Context, req confirmation.Request) (confirmation.Outcome, error)
}

// Config holds the chain settings the session checks against.
type Config struct {
	ChainID       int64
	Revenue       common.Address
	Confirmations uint64
}

type state struct {
	id                string
	phase             Phase
	needsVerification bool
	account           common.Address
	verified          common.Address
	pending           []types.Tag
	quote             types.PriceQuote
	known             []common.Hash
	sentTx            *common.Hash
	awaitingLookup    bool
	confirmAttempts   int
	closeable         bool
	lastErr           *types.ErrorInfo
}

func idleState() state {
	return state{phase: PhaseIdle, closeable: true, quote: pricing.Price(nil, nil)}
}

// Coordinator owns a single checkout session.
type Coordinator struct {
	wallet    Wallet
	chain     Chain
	backend   Backend
	verifier  AddressVerifier
	watcher   DepositWatcher
	submitter Submitter
	cfg       Config

	logger      logger.Logger
	metrics     metrics.Recorder
	onConfirmed func(Session)

	mu    sync.Mutex
	epoch uint64
	s     state
}

type Option func(*Coordinator)

func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Coordinator) {
		c.metrics = r
	}
}

// WithOnConfirmed registers fn to run after the backend confirms the tags.
func WithOnConfirmed(fn func(Session)) Option {
	return func(c *Coordinator) {
		c.onConfirmed = fn
	}
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(
	cfg Config,
	wallet Wallet,
	chain Chain,
	backend Backend,
	verifier AddressVerifier,
	watcher DepositWatcher,
	submitter Submitter,
	opts ...Option,
) *Coordinator {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = DefaultConfirmations
	}
	c := &Coordinator{
		wallet:    wallet,
		chain:     chain,
		backend:   backend,
		verifier:  verifier,
		watcher:   watcher,
		submitter: submitter,
		cfg:       cfg,
		s:         idleState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrNoop(c.logger)
	c.metrics = metrics.OrNoop(c.metrics)
	return c
}

// Session returns a snapshot of the current session.
func (c *Coordinator) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Open starts a session. needsVerification keeps the session open for address
// verification even when no tags are pending.
func (c *Coordinator) Open(ctx context.Context, needsVerification bool) error {
	c.mu.Lock()
	if c.s.phase != PhaseIdle || c.s.id != "" {
		err := invalidState("open", c.s.phase)
		c.mu.Unlock()
		return err
	}
	c.epoch++
	c.s = idleState()
	c.s.id = uuid.NewString()
	c.s.needsVerification = needsVerification
	epoch, id := c.epoch, c.s.id
	c.mu.Unlock()

	c.logger.Info("checkout opened", map[string]any{"session": id, "needsVerification": needsVerification})

	tags, err := c.backend.Tags(ctx)
	var (
		stop error
		done bool
	)
	if !c.commit(epoch, func() {
		if err != nil {
			stop = c.failLocked(fmt.Errorf("load tags: %w", err), types.ErrBackend, true)
			return
		}
		pending, confirmed := types.SplitTags(tags)
		c.s.pending = pending
		c.s.quote = pricing.Quote(pending, confirmed)
		if len(pending) == 0 && !needsVerification {
			c.setPhaseLocked(PhaseNothingToConfirm)
			done = true
		}
	}) || done {
		return nil
	}
	if stop != nil {
		return stop
	}
	return c.evaluate(ctx, epoch)
}

// Connect asks the wallet to connect and re-checks the preconditions.
func (c *Coordinator) Connect(ctx context.Context) error {
	epoch, err := c.begin("connect", PhaseNeedsWalletConnection)
	if err != nil {
		return err
	}
	if err := c.wallet.Connect(ctx); err != nil {
		return c.walletFailure(epoch, err)
	}
	return c.evaluate(ctx, epoch)
}

// SwitchNetwork asks the wallet to move to the configured chain.
func (c *Coordinator) SwitchNetwork(ctx context.Context) error {
	epoch, err := c.begin("switch network", PhaseNeedsNetworkSwitch)
	if err != nil {
		return err
	}
	if err := c.wallet.SwitchChain(ctx, c.cfg.ChainID); err != nil {
		return c.walletFailure(epoch, err)
	}
	return c.evaluate(ctx, epoch)
}

// VerifyAddress signs the ownership message with the connected account and
// submits it to the backend.
func (c *Coordinator) VerifyAddress(ctx context.Context) error {
	epoch, err := c.begin("verify address", PhaseNeedsAddressVerification)
	if err != nil {
		return err
	}
	account := c.wallet.Account()
	if err := c.verifier.Verify(ctx, c.wallet, account); err != nil {
		c.commit(epoch, func() {
			c.s.lastErr = types.NewErrorInfo(err, types.ErrBackend, true)
		})
		return err
	}
	return c.evaluate(ctx, epoch)
}

// OnWalletChanged re-checks the preconditions after a connect, disconnect,
// account or network change. It is ignored once a payment is under way.
func (c *Coordinator) OnWalletChanged(ctx context.Context) error {
	c.mu.Lock()
	if !c.s.phase.beforePayment() || !c.s.closeable || c.s.sentTx != nil {
		c.mu.Unlock()
		return nil
	}
	c.s.lastErr = nil
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	return c.evaluate(ctx, epoch)
}

// OnTagsChanged reloads the tags and recomputes the quote before payment.
func (c *Coordinator) OnTagsChanged(ctx context.Context) error {
	c.mu.Lock()
	if (c.s.phase != PhaseReady && c.s.phase != PhaseAwaitingPayment) || !c.s.closeable || c.s.sentTx != nil {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	return c.enterReady(ctx, epoch)
}

// Pay sends the quoted amount to the revenue address. The session cannot be
// closed while the send is in flight or once a hash exists. After a retry that
// discarded a payment hash, Pay waits until a head lookup has run.
func (c *Coordinator) Pay(ctx context.Context) error {
	c.mu.Lock()
	if c.s.phase != PhaseAwaitingPayment || !c.s.closeable || c.s.sentTx != nil || c.s.awaitingLookup {
		err := invalidState("pay", c.s.phase)
		c.mu.Unlock()
		return err
	}
	c.s.closeable = false
	c.s.lastErr = nil
	value := new(big.Int).Set(c.s.quote.TotalWei)
	epoch, id := c.epoch, c.s.id
	c.mu.Unlock()

	hash, err := c.wallet.SendTransaction(ctx, c.cfg.Revenue, value)
	if err != nil {
		werr := walletError(err)
		c.commit(epoch, func() {
			if c.s.sentTx == nil {
				c.s.closeable = true
			}
			c.s.lastErr = types.NewErrorInfo(werr, types.ErrWallet, true)
		})
		c.logger.Warn("payment not sent", map[string]any{"session": id, "error": err})
		return werr
	}

	c.metrics.IncCounter(metrics.PaymentSent, map[string]string{"phase": string(PhaseAwaitingPayment)})
	return c.onHash(ctx, epoch, hash, "wallet")
}

// OnNewHead checks the deposit events at most once per head while the payment
// is awaited.
func (c *Coordinator) OnNewHead(ctx context.Context, head uint64) error {
	c.mu.Lock()
	if c.s.phase != PhaseAwaitingPayment || c.s.sentTx != nil {
		c.mu.Unlock()
		return nil
	}
	req := c.depositRequestLocked()
	epoch := c.epoch
	c.mu.Unlock()

	hash, found, err := c.watcher.OnHead(ctx, head, req)
	if err != nil {
		c.logger.Warn("deposit lookup failed", map[string]any{"head": head, "error": err})
		return nil
	}
	if !found {
		c.commit(epoch, func() { c.s.awaitingLookup = false })
		return nil
	}
	return c.onHash(ctx, epoch, hash, "reconciler")
}

// Close resets the session to idle. It returns false, changing nothing, while
// the session is not closeable.
func (c *Coordinator) Close() bool {
	c.mu.Lock()
	if !c.s.closeable {
		c.mu.Unlock()
		return false
	}
	id, phase := c.s.id, c.s.phase
	c.epoch++
	c.s = idleState()
	c.mu.Unlock()

	c.watcher.Reset()
	c.logger.Info("checkout closed", map[string]any{"session": id, "phase": string(phase)})
	return true
}

// Retry restarts a failed session with a fresh attempt budget.
func (c *Coordinator) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.s.phase != PhaseFailed {
		err := invalidState("retry", c.s.phase)
		c.mu.Unlock()
		return err
	}
	c.s.confirmAttempts = 0
	c.s.awaitingLookup = c.s.sentTx != nil
	c.s.sentTx = nil
	c.s.lastErr = nil
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	c.watcher.Reset()
	return c.evaluate(ctx, epoch)
}

// evaluate walks the preconditions in order and stops at the first unmet one.
func (c *Coordinator) evaluate(ctx context.Context, epoch uint64) error {
	rpcID, err := c.chain.ChainID(ctx)
	var stop error
	if !c.commit(epoch, func() {
		switch {
		case err != nil:
			stop = c.failLocked(fmt.Errorf("rpc chain id: %w", err), types.ErrNetworkError, true)
		case rpcID.Int64() != c.cfg.ChainID:
			stop = c.haltLocked(PhaseInvariantViolation, &types.SendtagError{
				Code:    types.ErrInvariantViolation,
				Message: fmt.Sprintf("RPC chain id %d does not match configured chain id %d", rpcID.Int64(), c.cfg.ChainID),
			})
		default:
			c.setPhaseLocked(PhaseCheckingWallet)
		}
	}) {
		return nil
	}
	if stop != nil {
		return stop
	}

	connected := c.wallet.IsConnected()
	account := c.wallet.Account()
	if !c.commit(epoch, func() {
		c.s.account = account
		if !connected {
			c.setPhaseLocked(PhaseNeedsWalletConnection)
			return
		}
		c.setPhaseLocked(PhaseCheckingNetwork)
	}) || !connected {
		return nil
	}

	walletChain, err := c.wallet.ChainID(ctx)
	onChain := err == nil && walletChain == c.cfg.ChainID
	if !c.commit(epoch, func() {
		if !onChain {
			if err != nil {
				c.s.lastErr = types.NewErrorInfo(walletError(err), types.ErrWallet, true)
			}
			c.setPhaseLocked(PhaseNeedsNetworkSwitch)
			return
		}
		c.setPhaseLocked(PhaseCheckingAddressBinding)
	}) || !onChain {
		return nil
	}

	binding, saved, err := c.verifier.Binding(ctx, account)
	proceed := false
	if !c.commit(epoch, func() {
		switch {
		case err != nil:
			stop = c.failLocked(err, types.ErrBackend, true)
		case binding == verification.BindingMismatch:
			c.s.verified = saved
			stop = c.haltLocked(PhaseAddressMismatch, &types.SendtagError{
				Code:    types.ErrAddressMismatch,
				Message: fmt.Sprintf("Connected address %s does not match verified address %s", account.Hex(), saved.Hex()),
				Data:    map[string]string{"verified": saved.Hex(), "connected": account.Hex()},
			})
		case binding == verification.BindingNone:
			c.setPhaseLocked(PhaseNeedsAddressVerification)
		default:
			c.s.verified = saved
			proceed = true
		}
	}) {
		return nil
	}
	if stop != nil || !proceed {
		return stop
	}
	return c.enterReady(ctx, epoch)
}

// enterReady reloads the tags and receipts, recomputes the quote and moves to
// payment or, when nothing is owed, straight to submission. Whether anything is
// pending is decided here from the freshly loaded tags.
func (c *Coordinator) enterReady(ctx context.Context, epoch uint64) error {
	if !c.commit(epoch, func() { c.setPhaseLocked(PhaseReady) }) {
		return nil
	}

	tags, err := c.backend.Tags(ctx)
	var receipts []types.Receipt
	if err == nil {
		receipts, err = c.backend.Receipts(ctx)
	}

	var (
		stop error
		free bool
		wait bool
		req  reconciler.Request
	)
	if !c.commit(epoch, func() {
		if err != nil {
			stop = c.failLocked(fmt.Errorf("reload tags: %w", err), types.ErrBackend, true)
			return
		}
		pending, confirmed := types.SplitTags(tags)
		c.s.pending = pending
		c.s.quote = pricing.Quote(pending, confirmed)
		c.s.known = types.ReceiptHashes(receipts)
		switch {
		case len(pending) == 0:
			c.s.closeable = true
			c.setPhaseLocked(PhaseNothingToConfirm)
		case c.s.quote.IsFree():
			free = true
		default:
			c.setPhaseLocked(PhaseAwaitingPayment)
			req = c.depositRequestLocked()
			wait = true
		}
	}) {
		return nil
	}
	if stop != nil {
		return stop
	}
	if free {
		return c.submit(ctx, epoch)
	}
	if !wait {
		return nil
	}

	hash, found, err := c.watcher.Lookup(ctx, req)
	if err != nil {
		c.logger.Warn("deposit lookup failed", map[string]any{"error": err})
		return nil
	}
	if !found {
		return nil
	}
	return c.onHash(ctx, epoch, hash, "reconciler")
}

// onHash accepts the first payment hash, waits for it to be confirmed on
// chain and submits it. Later hashes are ignored.
func (c *Coordinator) onHash(ctx context.Context, epoch uint64, hash common.Hash, source string) error {
	accepted := false
	var id string
	if !c.commit(epoch, func() {
		id = c.s.id
		if c.s.sentTx != nil || c.s.phase != PhaseAwaitingPayment {
			return
		}
		h := hash
		c.s.sentTx = &h
		c.s.closeable = false
		c.s.awaitingLookup = false
		c.setPhaseLocked(PhaseAwaitingChainConfirm)
		accepted = true
	}) {
		return nil
	}
	if !accepted {
		c.logger.Debug("ignoring payment hash", map[string]any{"session": id, "tx": hash.Hex(), "source": source})
		return nil
	}
	c.logger.Info("payment hash obtained", map[string]any{"session": id, "tx": hash.Hex(), "source": source})

	_, err := c.chain.WaitForTransaction(ctx, hash, c.cfg.Confirmations)
	var stop error
	if !c.commit(epoch, func() {
		if err != nil {
			stop = c.failLocked(fmt.Errorf("wait for %s: %w", hash.Hex(), err), types.ErrNetworkError, true)
		}
	}) {
		return nil
	}
	if stop != nil {
		return stop
	}
	return c.submit(ctx, epoch)
}

// submit makes one confirmation attempt. A retryable failure resets the
// attempt-scoped state and runs the flow again from ready.
func (c *Coordinator) submit(ctx context.Context, epoch uint64) error {
	var req confirmation.Request
	if !c.commit(epoch, func() {
		c.setPhaseLocked(PhaseSubmittingConfirmation)
		c.s.confirmAttempts++
		req = confirmation.Request{
			IsFree:  c.s.quote.IsFree(),
			TxHash:  c.s.sentTx,
			Attempt: c.s.confirmAttempts,
		}
	}) {
		return nil
	}

	outcome, err := c.submitter.Submit(ctx, req)

	var (
		stop      error
		confirmed bool
		snapshot  Session
	)
	if !c.commit(epoch, func() {
		switch outcome {
		case confirmation.OutcomeConfirmed:
			c.s.closeable = true
			c.s.lastErr = nil
			c.setPhaseLocked(PhaseConfirmed)
			confirmed = true
			snapshot = c.snapshotLocked()
		case confirmation.OutcomeRetry:
			c.s.lastErr = types.NewErrorInfo(err, types.ErrNotYetIndexed, true)
			c.s.sentTx = nil
		default:
			if confirmation.IsNotYetIndexed(err, req.TxHash) {
				err = &types.SendtagError{Code: types.ErrNotYetIndexed, Message: err.Error()}
			}
			stop = c.failLocked(err, types.ErrBackend, true)
		}
	}) {
		return nil
	}

	switch {
	case confirmed:
		c.metrics.IncCounter(metrics.ConfirmSuccess, map[string]string{"phase": string(PhaseConfirmed)})
		c.logger.Info("checkout confirmed", map[string]any{"session": snapshot.ID, "attempts": snapshot.ConfirmAttempts})
		if c.onConfirmed != nil {
			c.onConfirmed(snapshot)
		}
		return nil
	case stop != nil:
		c.metrics.IncCounter(metrics.ConfirmFailure, map[string]string{"phase": string(PhaseFailed)})
		return stop
	}

	c.watcher.Reset()
	return c.enterReady(ctx, epoch)
}

// commit runs fn under the lock unless the session was closed or the flow
// restarted since epoch.
func (c *Coordinator) commit(epoch uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	fn()
	return true
}

// begin checks that a user action is allowed in the current phase.
func (c *Coordinator) begin(action string, allowed Phase) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.phase != allowed {
		return 0, invalidState(action, c.s.phase)
	}
	c.s.lastErr = nil
	c.epoch++
	return c.epoch, nil
}

func (c *Coordinator) walletFailure(epoch uint64, err error) error {
	werr := walletError(err)
	c.commit(epoch, func() {
		c.s.lastErr = types.NewErrorInfo(werr, types.ErrWallet, true)
	})
	return werr
}

func (c *Coordinator) setPhaseLocked(p Phase) {
	if c.s.phase == p {
		return
	}
	c.logger.Debug("phase transition", map[string]any{"session": c.s.id, "from": string(c.s.phase), "to": string(p)})
	c.s.phase = p
	c.metrics.IncCounter(metrics.PhaseTransition, map[string]string{"phase": string(p)})
}

// failLocked moves to failed. The session becomes closeable.
func (c *Coordinator) failLocked(err error, fallback string, retryable bool) error {
	c.s.lastErr = types.NewErrorInfo(err, fallback, retryable)
	c.s.closeable = true
	c.logger.Error("checkout failed", map[string]any{"session": c.s.id, "phase": string(c.s.phase), "error": err})
	c.setPhaseLocked(PhaseFailed)
	return err
}

// haltLocked stops in a dead end that Retry does not leave.
func (c *Coordinator) haltLocked(p Phase, err *types.SendtagError) error {
	c.s.lastErr = types.NewErrorInfo(err, err.Code, false)
	c.s.closeable = true
	c.logger.Warn("checkout halted", map[string]any{"session": c.s.id, "phase": string(p), "error": err})
	c.setPhaseLocked(p)
	return err
}

func (c *Coordinator) depositRequestLocked() reconciler.Request {
	return reconciler.Request{
		Account:       c.s.account,
		ExpectedWei:   new(big.Int).Set(c.s.quote.TotalWei),
		KnownReceipts: append([]common.Hash(nil), c.s.known...),
	}
}

func (c *Coordinator) snapshotLocked() Session {
	s := Session{
		ID:                c.s.id,
		Phase:             c.s.phase,
		Pending:           append([]types.Tag(nil), c.s.pending...),
		Quote:             c.s.quote,
		ConfirmAttempts:   c.s.confirmAttempts,
		Closeable:         c.s.closeable,
		Account:           c.s.account,
		VerifiedAddress:   c.s.verified,
		NeedsVerification: c.s.needsVerification,
		AwaitingLookup:    c.s.awaitingLookup,
	}
	if c.s.sentTx != nil {
		h := *c.s.sentTx
		s.SentTxHash = &h
	}
	if c.s.lastErr != nil {
		e := *c.s.lastErr
		s.LastError = &e
	}
	return s
}

// walletError maps wallet failures to user-facing messages.
func walletError(err error) error {
	if types.ErrorCode(err) != "" {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "Connector not found") {
		msg = installWalletMessage
	}
	return &types.SendtagError{
		Code:    types.ErrWallet,
		Message: msg,
		Data:    err.Error(),
	}
}

func invalidState(action string, phase Phase) error {
	return &types.SendtagError{
		Code:    types.ErrInvalidState,
		Message: fmt.Sprintf("cannot %s in phase %s", action, phase),
	}
}
