package checkout

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/sendtag/types"
)

// Phase is a checkout session state.
type Phase string

const (
	PhaseIdle                     Phase = "idle"
	PhaseCheckingWallet           Phase = "checking_wallet"
	PhaseNeedsWalletConnection    Phase = "needs_wallet_connection"
	PhaseCheckingNetwork          Phase = "checking_network"
	PhaseNeedsNetworkSwitch       Phase = "needs_network_switch"
	PhaseCheckingAddressBinding   Phase = "checking_address_binding"
	PhaseNeedsAddressVerification Phase = "needs_address_verification"
	PhaseReady                    Phase = "ready"
	PhaseAwaitingPayment          Phase = "awaiting_payment"
	PhaseAwaitingChainConfirm     Phase = "awaiting_chain_confirmation"
	PhaseSubmittingConfirmation   Phase = "submitting_confirmation"
	PhaseConfirmed                Phase = "confirmed"
	PhaseFailed                   Phase = "failed"

	PhaseNothingToConfirm   Phase = "nothing_to_confirm"
	PhaseAddressMismatch    Phase = "address_mismatch"
	PhaseInvariantViolation Phase = "invariant_violation"
)

// Terminal reports whether no further progress happens without a user action
// that restarts the flow.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseConfirmed, PhaseFailed, PhaseNothingToConfirm, PhaseAddressMismatch, PhaseInvariantViolation:
		return true
	}
	return false
}

// beforePayment reports whether wallet events may re-run the precondition checks.
func (p Phase) beforePayment() bool {
	switch p {
	case PhaseCheckingWallet, PhaseNeedsWalletConnection,
		PhaseCheckingNetwork, PhaseNeedsNetworkSwitch,
		PhaseCheckingAddressBinding, PhaseNeedsAddressVerification, PhaseAddressMismatch,
		PhaseReady, PhaseAwaitingPayment:
		return true
	}
	return false
}

// Session is a point-in-time view of the checkout for a UI collaborator.
type Session struct {
	ID                string           `json:"id"`
	Phase             Phase            `json:"phase"`
	Pending           []types.Tag      `json:"pending"`
	Quote             types.PriceQuote `json:"quote"`
	SentTxHash        *common.Hash     `json:"sentTxHash,omitempty"`
	ConfirmAttempts   int              `json:"confirmAttempts"`
	Closeable         bool             `json:"closeable"`
	LastError         *types.ErrorInfo `json:"lastError,omitempty"`
	Account           common.Address   `json:"account"`
	VerifiedAddress   common.Address   `json:"verifiedAddress"`
	NeedsVerification bool             `json:"needsVerification"`
	AwaitingLookup    bool             `json:"awaitingLookup"`
}

// CanConfirm reports whether the pay control is actionable.
func (s Session) CanConfirm() bool {
	return s.Phase == PhaseAwaitingPayment && s.Closeable && s.SentTxHash == nil && !s.AwaitingLookup
}

// Total returns the quoted amount in wei.
func (s Session) Total() *big.Int {
	if s.Quote.TotalWei == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(s.Quote.TotalWei)
}
