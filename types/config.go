package types

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// DefaultDeploymentBlock is the block the revenue safe was created in.
const DefaultDeploymentBlock = 17993814

// Config contains global configuration for the sendtag checkout.
//
// Pricing constants are fixed in the pricing package and are intentionally not
// part of the configuration.
type Config struct {
	Network         Network       `env:"SENDTAG_NETWORK"          envDefault:"base"       validate:"required"`
	RPCUrl          string        `env:"SENDTAG_RPC_URL"                                  validate:"required,url"`
	BackendURL      string        `env:"SENDTAG_BACKEND_URL"                              validate:"required,url"`
	BackendToken    string        `env:"SENDTAG_BACKEND_TOKEN"`
	RevenueAddress  string        `env:"SENDTAG_REVENUE_ADDRESS"                          validate:"required,eth_addr"`
	DeploymentBlock uint64        `env:"SENDTAG_DEPLOYMENT_BLOCK" envDefault:"17993814"`
	AppName         string        `env:"SENDTAG_APP_NAME"         envDefault:"Send"       validate:"required"`
	HexSeed         string        `env:"SENDTAG_PRIVATE_KEY"`
	PollInterval    time.Duration `env:"SENDTAG_POLL_INTERVAL"    envDefault:"4s"         validate:"gt=0"`
	DefaultTimeout  time.Duration `env:"SENDTAG_TIMEOUT"          envDefault:"30s"        validate:"gt=0"`
	ReceiptCacheTTL time.Duration `env:"SENDTAG_RECEIPT_TTL"      envDefault:"5m"         validate:"gt=0"`
	LogLevel        string        `env:"SENDTAG_LOG_LEVEL"        envDefault:"info"       validate:"oneof=debug info warn error"`
	EnableMetrics   bool          `env:"SENDTAG_ENABLE_METRICS"   envDefault:"false"`
}

var configValidator = validator.New()

// LoadConfig loads configuration from environment variables and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, &SendtagError{
			Code:    ErrConfigError,
			Message: fmt.Sprintf("parse env: %v", err),
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and that the network is known.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return &SendtagError{
			Code:    ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	if _, err := c.Network.ChainID(); err != nil {
		return err
	}
	return nil
}

// ChainID returns the configured chain id. Validate must have passed.
func (c *Config) ChainID() int64 {
	id, _ := c.Network.ChainID()
	return id
}

// Revenue returns the revenue collection address.
func (c *Config) Revenue() common.Address {
	return common.HexToAddress(c.RevenueAddress)
}
