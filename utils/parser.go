package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/sendtag/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ParseTags parses and validates the account's tags from a backend response body.
func ParseTags(data []byte) ([]types.Tag, error) {
	var tags []types.Tag
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, &types.SendtagError{
			Code:    types.ErrBackend,
			Message: fmt.Sprintf("failed to parse tags: %v", err),
		}
	}

	for i := range tags {
		if err := validate.Struct(tags[i]); err != nil {
			return nil, &types.SendtagError{
				Code:    types.ErrBackend,
				Message: fmt.Sprintf("validation failed: %v", err),
			}
		}
	}

	return tags, nil
}

// ParseReceipts parses the account's payment receipts.
func ParseReceipts(data []byte) ([]types.Receipt, error) {
	var receipts []types.Receipt
	if err := json.Unmarshal(data, &receipts); err != nil {
		return nil, &types.SendtagError{
			Code:    types.ErrBackend,
			Message: fmt.Sprintf("failed to parse receipts: %v", err),
		}
	}
	return receipts, nil
}

// ParseChainAddresses parses the account's verified chain addresses.
func ParseChainAddresses(data []byte) ([]types.ChainAddress, error) {
	var addrs []types.ChainAddress
	if err := json.Unmarshal(data, &addrs); err != nil {
		return nil, &types.SendtagError{
			Code:    types.ErrBackend,
			Message: fmt.Sprintf("failed to parse chain addresses: %v", err),
		}
	}
	return addrs, nil
}
