package clients

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/sendtag/utils"
)

// ErrConnectorNotFound is returned by Connect when no signing key is configured.
var ErrConnectorNotFound = errors.New("Connector not found")

// ErrNotConnected is returned by wallet operations before Connect.
var ErrNotConnected = errors.New("wallet not connected")

// valueSender broadcasts native-value transfers. *EVMClient implements it.
type valueSender interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SendValue(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int) (common.Hash, error)
}

// KeyWallet is a wallet session backed by a local private key. Its network is
// whatever chain the RPC endpoint serves.
type KeyWallet struct {
	key    *ecdsa.PrivateKey
	sender valueSender

	mu        sync.RWMutex
	connected bool
}

// NewKeyWallet creates a wallet from a hex private key. An empty key yields a
// wallet whose Connect fails with ErrConnectorNotFound.
func NewKeyWallet(hexKey string, sender valueSender) (*KeyWallet, error) {
	w := &KeyWallet{sender: sender}
	if hexKey == "" {
		return w, nil
	}
	key, err := utils.PrivateKeyFromHex(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	w.key = key
	return w, nil
}

// Connect opens the session.
func (w *KeyWallet) Connect(context.Context) error {
	if w.key == nil {
		return ErrConnectorNotFound
	}
	w.mu.Lock()
	w.connected = true
	w.mu.Unlock()
	return nil
}

// Disconnect closes the session.
func (w *KeyWallet) Disconnect() {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()
}

func (w *KeyWallet) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Account returns the connected address, or the zero address when disconnected.
func (w *KeyWallet) Account() common.Address {
	if !w.IsConnected() {
		return common.Address{}
	}
	return utils.AddressFromPrivateKey(w.key)
}

// ChainID returns the chain the wallet transacts on.
func (w *KeyWallet) ChainID(ctx context.Context) (int64, error) {
	id, err := w.sender.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("wallet chain id: %w", err)
	}
	return id.Int64(), nil
}

// SwitchChain succeeds only when chainID is the chain already served, since
// the key wallet cannot change RPC endpoints.
func (w *KeyWallet) SwitchChain(ctx context.Context, chainID int64) error {
	current, err := w.ChainID(ctx)
	if err != nil {
		return err
	}
	if current != chainID {
		return fmt.Errorf("chain %d is not configured for this wallet (serving %d)", chainID, current)
	}
	return nil
}

// SignMessage signs message with the personal_sign prefix.
func (w *KeyWallet) SignMessage(_ context.Context, message string) (string, error) {
	if !w.IsConnected() {
		return "", ErrNotConnected
	}
	return utils.SignPersonalMessage(message, w.key)
}

// SendTransaction transfers value wei to to and returns the transaction hash.
func (w *KeyWallet) SendTransaction(ctx context.Context, to common.Address, value *big.Int) (common.Hash, error) {
	if !w.IsConnected() {
		return common.Hash{}, ErrNotConnected
	}
	return w.sender.SendValue(ctx, w.key, to, value)
}
