package clients

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vitwit/sendtag/logger"
	"github.com/vitwit/sendtag/types"
)

// ----------------- SafeReceived ABI -----------------
const safeReceivedABI = `[{
	"anonymous": false,
	"inputs": [
	  {"indexed": true,  "name": "sender", "type": "address"},
	  {"indexed": false, "name": "value",  "type": "uint256"}
	],
	"name": "SafeReceived",
	"type": "event"
}]`

var safeReceivedTopic = crypto.Keccak256Hash([]byte("SafeReceived(address,uint256)"))

const defaultPollInterval = 4 * time.Second

// EVMClient reads the revenue address's deposits and submits native-value payments.
type EVMClient struct {
	network      types.Network
	rpcURL       string
	client       rpcBackend
	revenue      common.Address
	depositABI   abi.ABI
	pollInterval time.Duration
	logger       logger.Logger
}

// NewEVMClient dials rpcURL. Deposits are read from the revenue address.
func NewEVMClient(network types.Network, rpcURL string, revenue common.Address) (*EVMClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}
	c, err := newEVMClient(network, client, revenue)
	if err != nil {
		client.Close()
		return nil, err
	}
	c.rpcURL = rpcURL
	return c, nil
}

func newEVMClient(network types.Network, client rpcBackend, revenue common.Address) (*EVMClient, error) {
	parsed, err := abi.JSON(strings.NewReader(safeReceivedABI))
	if err != nil {
		return nil, fmt.Errorf("parse SafeReceived abi: %w", err)
	}
	return &EVMClient{
		network:      network,
		client:       client,
		revenue:      revenue,
		depositABI:   parsed,
		pollInterval: defaultPollInterval,
		logger:       logger.NoopLogger{},
	}, nil
}

// SetPollInterval sets how often heads and receipts are polled.
func (e *EVMClient) SetPollInterval(d time.Duration) {
	if d > 0 {
		e.pollInterval = d
	}
}

func (e *EVMClient) SetLogger(l logger.Logger) {
	e.logger = logger.OrNoop(l)
}

// GetNetwork returns the configured network
func (e *EVMClient) GetNetwork() types.Network {
	return e.network
}

// Revenue returns the revenue collection address
func (e *EVMClient) Revenue() common.Address {
	return e.revenue
}

// Close closes the RPC connection.
func (e *EVMClient) Close() {
	e.client.Close()
}

// ChainID returns the chain id reported by the RPC node.
func (e *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	return e.client.ChainID(ctx)
}

// BlockNumber returns the latest block number.
func (e *EVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	return e.client.BlockNumber(ctx)
}

// FilterDeposits returns SafeReceived events at the revenue address sent by
// sender, from fromBlock onward, in log index order.
func (e *EVMClient) FilterDeposits(ctx context.Context, sender common.Address, fromBlock uint64) ([]types.DepositEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{e.revenue},
		Topics: [][]common.Hash{
			{safeReceivedTopic},
			{common.BytesToHash(sender.Bytes())},
		},
	}

	logs, err := e.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get logs: %w", err)
	}

	events := make([]types.DepositEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := e.decodeDeposit(l)
		if err != nil {
			e.logger.Warn("skipping malformed SafeReceived log", map[string]any{"tx": l.TxHash.Hex(), "error": err})
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (e *EVMClient) decodeDeposit(l gethtypes.Log) (types.DepositEvent, error) {
	if len(l.Topics) < 2 || l.Topics[0] != safeReceivedTopic {
		return types.DepositEvent{}, errors.New("unexpected topics")
	}
	values, err := e.depositABI.Unpack("SafeReceived", l.Data)
	if err != nil {
		return types.DepositEvent{}, err
	}
	if len(values) != 1 {
		return types.DepositEvent{}, fmt.Errorf("expected 1 value, got %d", len(values))
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return types.DepositEvent{}, fmt.Errorf("value is %T", values[0])
	}
	return types.DepositEvent{
		Sender:          common.BytesToAddress(l.Topics[1].Bytes()),
		Value:           value,
		TransactionHash: l.TxHash,
		BlockNumber:     l.BlockNumber,
	}, nil
}

// WaitForTransaction polls until txHash is mined with at least confirmations
// blocks (the inclusion block counts as one) or ctx is done.
func (e *EVMClient) WaitForTransaction(ctx context.Context, txHash common.Hash, confirmations uint64) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return receipt, &types.SendtagError{
					Code:    types.ErrNetworkError,
					Message: fmt.Sprintf("transaction %s reverted", txHash.Hex()),
				}
			}
			head, err := e.client.BlockNumber(ctx)
			if err != nil {
				e.logger.Warn("block number failed", map[string]any{"error": err})
			} else if head+1 >= receipt.BlockNumber.Uint64()+confirmations {
				return receipt, nil
			}
		case errors.Is(err, ethereum.NotFound):
		default:
			return nil, fmt.Errorf("transaction receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubscribeHeads polls the latest block number and emits each new head.
// The channel is closed when ctx is done.
func (e *EVMClient) SubscribeHeads(ctx context.Context) <-chan uint64 {
	heads := make(chan uint64, 1)
	go func() {
		defer close(heads)
		ticker := time.NewTicker(e.pollInterval)
		defer ticker.Stop()

		var last uint64
		for {
			head, err := e.client.BlockNumber(ctx)
			if err != nil {
				e.logger.Warn("poll head failed", map[string]any{"error": err})
			} else if head > last {
				last = head
				select {
				case heads <- head:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return heads
}

// SendValue signs and broadcasts an EIP-1559 transfer of value wei from key to to.
func (e *EVMClient) SendValue(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	chainID, err := e.client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain id: %w", err)
	}
	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := e.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	e.logger.Info("payment broadcast", map[string]any{
		"from":  from.Hex(),
		"to":    to.Hex(),
		"value": value.String(),
		"tx":    signed.Hash().Hex(),
	})
	return signed.Hash(), nil
}
