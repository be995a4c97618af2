// Package pricing prices pending Send Tags against the account's confirmed tags.
//
// | Tag length | Cost to confirm                     |
// |------------|-------------------------------------|
// | 6+         | first one free, 0.01 ETH after      |
// | 5          | 0.01 ETH                            |
// | 4          | 0.02 ETH                            |
// | 1-3        | 0.03 ETH                            |
//
// The free tag is a one-time promotion. It is consumed once any confirmed tag
// is 6 characters or longer.
package pricing

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vitwit/sendtag/types"
)

// PromoMinLength is the minimum byte length of a tag eligible for the promotion.
const PromoMinLength = 6

var weiPerEther = decimal.New(1, 18)

var (
	tierLong   = mustEtherToWei("0.01") // length >= 5
	tierFour   = mustEtherToWei("0.02") // length == 4
	tierShort  = mustEtherToWei("0.03") // length 1-3
	zeroAmount = big.NewInt(0)
)

// TagLengthToWei returns the base price of a tag with the given byte length.
func TagLengthToWei(length int) *big.Int {
	switch {
	case length >= 5:
		return new(big.Int).Set(tierLong)
	case length == 4:
		return new(big.Int).Set(tierFour)
	default:
		return new(big.Int).Set(tierShort)
	}
}

// PromotionAvailable reports whether the free long tag has not been used yet.
func PromotionAvailable(confirmed []types.Tag) bool {
	for _, t := range confirmed {
		if len(t.Name) >= PromoMinLength {
			return false
		}
	}
	return true
}

// Price scans pending in the given order. The first tag of PromoMinLength or
// more is free while the promotion is available; every other tag pays its tier.
func Price(pending []types.Tag, confirmed []types.Tag) types.PriceQuote {
	eligible := PromotionAvailable(confirmed)
	total := new(big.Int)
	perTag := make([]types.TagPrice, 0, len(pending))

	for _, tag := range pending {
		price := types.TagPrice{Name: tag.Name}
		if len(tag.Name) >= PromoMinLength && eligible {
			price.Wei = new(big.Int).Set(zeroAmount)
			price.IsFree = true
			eligible = false
		} else {
			price.Wei = TagLengthToWei(len(tag.Name))
		}
		total.Add(total, price.Wei)
		perTag = append(perTag, price)
	}

	return types.PriceQuote{TotalWei: total, PerTag: perTag}
}

// Quote prices pending in creation order, oldest first. Tags created at the
// same instant keep their input order.
func Quote(pending []types.Tag, confirmed []types.Tag) types.PriceQuote {
	return Price(SortByCreation(pending), confirmed)
}

// SortByCreation returns a copy of tags ordered by CreatedAt ascending.
func SortByCreation(tags []types.Tag) []types.Tag {
	sorted := make([]types.Tag, len(tags))
	copy(sorted, tags)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted
}

// PriceOf returns the price of name within quote.
func PriceOf(name string, quote types.PriceQuote) (types.TagPrice, bool) {
	for _, p := range quote.PerTag {
		if p.Name == name {
			return p, true
		}
	}
	return types.TagPrice{}, false
}

// IsFree reports whether name is the free tag of quote.
func IsFree(name string, quote types.PriceQuote) bool {
	p, ok := PriceOf(name, quote)
	return ok && p.IsFree
}

// FormatEther renders a wei amount in ether without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerEther).String()
}

// EtherToWei converts a decimal ether string into wei.
func EtherToWei(ether string) (*big.Int, error) {
	d, err := decimal.NewFromString(ether)
	if err != nil {
		return nil, err
	}
	return d.Mul(weiPerEther).BigInt(), nil
}

func mustEtherToWei(ether string) *big.Int {
	wei, err := EtherToWei(ether)
	if err != nil {
		panic(err)
	}
	return wei
}
