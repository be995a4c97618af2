// Package verification proves ownership of the wallet address an account pays from.
// An account can bind a single address and the binding cannot be changed.
package verification

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/sendtag/logger"
	"github.com/vitwit/sendtag/types"
	"github.com/vitwit/sendtag/utils"
)

// Signer signs a personal message with the connected wallet
type Signer interface {
	SignMessage(ctx context.Context, message string) (string, error)
}

// Registry is the backend's per-account verified address store
type Registry interface {
	ChainAddresses(ctx context.Context) ([]types.ChainAddress, error)
	VerifyAddress(ctx context.Context, address common.Address, signature string) error
}

// Binding is the relation between the connected address and the verified one.
type Binding int

const (
	// BindingNone means the account has not verified an address yet.
	BindingNone Binding = iota
	BindingMatch
	BindingMismatch
)

func (b Binding) String() string {
	switch b {
	case BindingNone:
		return "none"
	case BindingMatch:
		return "match"
	default:
		return "mismatch"
	}
}

// OwnershipMessage is the message signed to prove ownership of address.
func OwnershipMessage(address common.Address, appName string) string {
	return fmt.Sprintf("I am the owner of the address: %s.\n\n%s", address.Hex(), appName)
}

// CheckBinding compares the connected address against the account's verified one.
// Only the first address counts; accounts are limited to one.
func CheckBinding(addrs []types.ChainAddress, connected common.Address) (Binding, common.Address) {
	if len(addrs) == 0 {
		return BindingNone, common.Address{}
	}
	saved := addrs[0].Address
	if saved == connected {
		return BindingMatch, saved
	}
	return BindingMismatch, saved
}

type Verifier struct {
	registry Registry
	appName  string
	logger   logger.Logger
}

// NewVerifier creates a verifier that submits signatures to registry
func NewVerifier(registry Registry, appName string, l logger.Logger) *Verifier {
	return &Verifier{
		registry: registry,
		appName:  appName,
		logger:   logger.OrNoop(l),
	}
}

// Binding loads the account's verified addresses and checks connected against them.
func (v *Verifier) Binding(ctx context.Context, connected common.Address) (Binding, common.Address, error) {
	addrs, err := v.registry.ChainAddresses(ctx)
	if err != nil {
		return BindingNone, common.Address{}, fmt.Errorf("load chain addresses: %w", err)
	}
	b, saved := CheckBinding(addrs, connected)
	return b, saved, nil
}

// Verify signs the ownership message for address and submits it to the backend.
// The signature is checked locally first so a wrong account is reported as a
// wallet error instead of a backend rejection.
func (v *Verifier) Verify(ctx context.Context, signer Signer, address common.Address) error {
	msg := OwnershipMessage(address, v.appName)

	signature, err := signer.SignMessage(ctx, msg)
	if err != nil {
		return &types.SendtagError{
			Code:    types.ErrWallet,
			Message: err.Error(),
		}
	}

	ok, err := utils.VerifyPersonalMessage(msg, signature, address)
	if err != nil || !ok {
		return &types.SendtagError{
			Code:    types.ErrWallet,
			Message: fmt.Sprintf("signature was not produced by %s", address.Hex()),
		}
	}

	if err := v.registry.VerifyAddress(ctx, address, signature); err != nil {
		v.logger.Warn("address verification rejected", map[string]any{"address": address.Hex(), "error": err})
		return err
	}

	v.logger.Info("address verified", map[string]any{"address": address.Hex()})
	return nil
}
