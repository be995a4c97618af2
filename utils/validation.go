package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitwit/sendtag/types"
)

const (
	MinTagLength = 1
	MaxTagLength = 20
)

var (
	tagNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	hexPattern     = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

// ValidateTagName checks a Send Tag name: English alphabet, numbers and underscore, 1-20 characters.
func ValidateTagName(name string) error {
	if len(name) < MinTagLength || len(name) > MaxTagLength {
		return &types.SendtagError{
			Code:    types.ErrInvalidTag,
			Message: fmt.Sprintf("tag must be between %d and %d characters", MinTagLength, MaxTagLength),
		}
	}
	if !tagNamePattern.MatchString(name) {
		return &types.SendtagError{
			Code:    types.ErrInvalidTag,
			Message: "Only English alphabet, numbers, and underscore",
		}
	}
	return nil
}

// ValidateAmount checks if an amount string is a valid non-negative decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ValidateBigInt checks if a string is a valid big integer
func ValidateBigInt(value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}

	bigInt, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid big integer format")
	}

	return bigInt, nil
}

// ValidateTransactionHash validates an EVM transaction hash (0x + 64 hex).
func ValidateTransactionHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	if !strings.HasPrefix(hash, "0x") {
		return fmt.Errorf("transaction hash must start with 0x")
	}
	if len(hash) != 66 {
		return fmt.Errorf("transaction hash must be 66 characters long")
	}
	if !isHexString(hash[2:]) {
		return fmt.Errorf("transaction hash must be valid hex")
	}
	return nil
}

func isHexString(s string) bool {
	return hexPattern.MatchString(s)
}
