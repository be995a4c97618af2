package types

import "fmt"

// Network represents the EVM network payments are collected on
type Network string

const (
	NetworkMainnet     Network = "mainnet"
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
	NetworkLocalnet    Network = "localnet"
)

var networkChainIDs = map[Network]int64{
	NetworkMainnet:     1,
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
	NetworkLocalnet:    1337,
}

var networkExplorers = map[Network]string{
	NetworkMainnet:     "https://etherscan.io",
	NetworkBase:        "https://basescan.org",
	NetworkBaseSepolia: "https://sepolia.basescan.org",
}

// ChainID returns the chain id of a known network.
func (n Network) ChainID() (int64, error) {
	id, ok := networkChainIDs[n]
	if !ok {
		return 0, &SendtagError{
			Code:    ErrConfigError,
			Message: fmt.Sprintf("unsupported network: %s", n),
		}
	}
	return id, nil
}

func (n Network) IsTestnet() bool {
	return n == NetworkBaseSepolia || n == NetworkLocalnet
}

// TxURL links a transaction on the network's block explorer, or returns the hash when there is none.
func (n Network) TxURL(hash string) string {
	if base, ok := networkExplorers[n]; ok {
		return base + "/tx/" + hash
	}
	return hash
}

// AddressURL links an address on the network's block explorer.
func (n Network) AddressURL(addr string) string {
	if base, ok := networkExplorers[n]; ok {
		return base + "/address/" + addr
	}
	return addr
}

func (n Network) String() string {
	return string(n)
}
