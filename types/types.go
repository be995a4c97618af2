package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TagStatus represents the lifecycle state of a Send Tag
type TagStatus string

const (
	TagStatusPending   TagStatus = "pending"
	TagStatusConfirmed TagStatus = "confirmed"
)

const (
	// MaxTagsPerAccount is enforced by the reservation service; assumed true here.
	MaxTagsPerAccount = 5

	// ReservationTTL is how long a pending tag is held before someone else may claim it.
	ReservationTTL = 30 * time.Minute
)

// Tag is a short human-readable alias reserved by an account.
type Tag struct {
	Name      string    `json:"name" validate:"required,min=1,max=20"`
	CreatedAt time.Time `json:"created_at"`
	Status    TagStatus `json:"status" validate:"required,oneof=pending confirmed"`
}

// ExpiresAt returns when a pending reservation lapses.
func (t Tag) ExpiresAt() time.Time {
	return t.CreatedAt.Add(ReservationTTL)
}

// Expired reports whether a pending reservation has lapsed at now.
// Confirmed tags never expire.
func (t Tag) Expired(now time.Time) bool {
	return t.Status == TagStatusPending && !now.Before(t.ExpiresAt())
}

// SplitTags separates tags into pending and confirmed, preserving input order.
func SplitTags(tags []Tag) (pending, confirmed []Tag) {
	for _, t := range tags {
		switch t.Status {
		case TagStatusPending:
			pending = append(pending, t)
		case TagStatusConfirmed:
			confirmed = append(confirmed, t)
		}
	}
	return pending, confirmed
}

// TagPrice is the price of a single tag inside a quote.
type TagPrice struct {
	Name   string   `json:"name"`
	Wei    *big.Int `json:"wei"`
	IsFree bool     `json:"isFree"`
}

// PriceQuote is derived from the pending and confirmed tag sets and never persisted.
type PriceQuote struct {
	TotalWei *big.Int   `json:"totalWei"`
	PerTag   []TagPrice `json:"perTag"`
}

// IsFree reports whether nothing is owed for the quote.
func (q PriceQuote) IsFree() bool {
	return q.TotalWei == nil || q.TotalWei.Sign() == 0
}

// Receipt is a payment receipt already known to the backend for the account.
type Receipt struct {
	Hash common.Hash `json:"hash"`
}

// ReceiptHashes flattens receipts into their hashes.
func ReceiptHashes(receipts []Receipt) []common.Hash {
	hashes := make([]common.Hash, 0, len(receipts))
	for _, r := range receipts {
		hashes = append(hashes, r.Hash)
	}
	return hashes
}

// DepositEvent is a SafeReceived log emitted by the revenue address.
type DepositEvent struct {
	Sender          common.Address `json:"sender"`
	Value           *big.Int       `json:"value"`
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockNumber     uint64         `json:"blockNumber"`
}

// ChainAddress is an on-chain address the account has proven ownership of.
type ChainAddress struct {
	Address   common.Address `json:"address"`
	ChainID   int64          `json:"chain_id"`
	CreatedAt time.Time      `json:"created_at"`
}
