// Package model defines the core domain types shared across the exchange.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Company is a tradable entity with a unique name and a per-unit price.
// The price is mutated only through the reprice path, which also overwrites
// the price of every share the company has issued.
type Company struct {
	ID        int64           `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Price     decimal.Decimal `json:"price" db:"price"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// User holds a cash balance. The balance is mutated only through the
// deposit path; valid operations never leave it negative.
type User struct {
	ID        int64           `json:"id" db:"id"`
	Username  string          `json:"username" db:"username"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Share is one indivisible unit of a company. OwnerID nil means the share
// is free (in the company pool, available for acquisition). CompanyID is
// immutable after issuance; shares are never deleted. The ID doubles as the
// creation sequence number: free-share allocation always takes the lowest
// IDs first.
type Share struct {
	ID        int64           `json:"id" db:"id"`
	CompanyID int64           `json:"company_id" db:"company_id"`
	OwnerID   *int64          `json:"owner_id" db:"owner_id"`
	Price     decimal.Decimal `json:"price" db:"price"`
}

// Free reports whether the share has no owner.
func (s *Share) Free() bool { return s.OwnerID == nil }

// Trade record kinds.
const (
	TradeAcquire = "acquire"
	TradeSell    = "sell"
	TradeGrant   = "grant"
)

// TradeRecord is an immutable journal entry for a share transfer.
// Once appended, these are never modified or deleted.
type TradeRecord struct {
	ID        string          `json:"id" db:"id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	CompanyID int64           `json:"company_id" db:"company_id"`
	Kind      string          `json:"kind" db:"kind"` // "acquire", "sell" or "grant"
	Quantity  int64           `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	CashDelta decimal.Decimal `json:"cash_delta" db:"cash_delta"` // signed: debit negative, credit positive
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}
