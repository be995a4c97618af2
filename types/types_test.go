package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTags(t *testing.T) {
	tags := []Tag{
		{Name: "a", Status: TagStatusPending},
		{Name: "b", Status: TagStatusConfirmed},
		{Name: "c", Status: TagStatusPending},
	}

	pending, confirmed := SplitTags(tags)

	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].Name)
	assert.Equal(t, "c", pending[1].Name)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "b", confirmed[0].Name)
}

func TestTagExpired(t *testing.T) {
	created := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tag := Tag{Name: "abc", Status: TagStatusPending, CreatedAt: created}

	assert.Equal(t, created.Add(30*time.Minute), tag.ExpiresAt())
	assert.False(t, tag.Expired(created.Add(29*time.Minute)))
	assert.True(t, tag.Expired(created.Add(30*time.Minute)))

	tag.Status = TagStatusConfirmed
	assert.False(t, tag.Expired(created.Add(time.Hour)))
}

func TestNetwork(t *testing.T) {
	id, err := NetworkBase.ChainID()
	require.NoError(t, err)
	assert.Equal(t, int64(8453), id)

	_, err = Network("polygon").ChainID()
	assert.Equal(t, ErrConfigError, ErrorCode(err))

	assert.True(t, NetworkBaseSepolia.IsTestnet())
	assert.False(t, NetworkBase.IsTestnet())
	assert.Equal(t, "https://basescan.org/tx/0x01", NetworkBase.TxURL("0x01"))
	assert.Equal(t, "0x01", NetworkLocalnet.TxURL("0x01"))
}

func TestErrorCodeAndInfo(t *testing.T) {
	wrapped := fmt.Errorf("confirm: %w", NewError(ErrNotYetIndexed, "Transaction too new."))
	assert.Equal(t, ErrNotYetIndexed, ErrorCode(wrapped))
	assert.Equal(t, "", ErrorCode(errors.New("plain")))

	info := NewErrorInfo(errors.New("plain"), ErrBackend, true)
	assert.Equal(t, &ErrorInfo{Code: ErrBackend, Message: "plain", Retryable: true}, info)
	assert.Nil(t, NewErrorInfo(nil, ErrBackend, false))
}

func validConfig() *Config {
	return &Config{
		Network:         NetworkBase,
		RPCUrl:          "https://mainnet.base.org",
		BackendURL:      "https://api.send.app",
		RevenueAddress:  "0x71fa02bb11e4b119bEDbeeD2f119F62048245301",
		DeploymentBlock: DefaultDeploymentBlock,
		AppName:         "Send",
		PollInterval:    time.Second,
		DefaultTimeout:  time.Second,
		ReceiptCacheTTL: time.Minute,
		LogLevel:        "info",
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
	assert.Equal(t, int64(8453), validConfig().ChainID())

	cfg := validConfig()
	cfg.RevenueAddress = "0x123"
	assert.Equal(t, ErrConfigError, ErrorCode(cfg.Validate()))

	cfg = validConfig()
	cfg.Network = "polygon"
	assert.Equal(t, ErrConfigError, ErrorCode(cfg.Validate()))

	cfg = validConfig()
	cfg.LogLevel = "trace"
	assert.Error(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("SENDTAG_RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("SENDTAG_BACKEND_URL", "http://127.0.0.1:3000")
	t.Setenv("SENDTAG_REVENUE_ADDRESS", "0x71fa02bb11e4b119bEDbeeD2f119F62048245301")
	t.Setenv("SENDTAG_NETWORK", "base-sepolia")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, NetworkBaseSepolia, cfg.Network)
	assert.Equal(t, uint64(DefaultDeploymentBlock), cfg.DeploymentBlock)
	assert.Equal(t, 4*time.Second, cfg.PollInterval)
	assert.Equal(t, "Send", cfg.AppName)
}
