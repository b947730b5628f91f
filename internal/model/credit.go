package model

import (
	"time"
)

// Balance is the maintained projection of the ledger for one (account, kind)
// pair. It is a cache of SUM(ledger_entries.amount); the ledger is the source
// of truth.
type Balance struct {
	AccountID string     `db:"account_id" json:"accountId"`
	Kind      CreditKind `db:"kind" json:"kind"`
	Amount    int64      `db:"amount" json:"amount"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}

// LedgerEntry is an immutable record of one balance change. Entries are
// append-only and never mutated after the initial write.
type LedgerEntry struct {
	ID            string       `db:"id" json:"id"`
	AccountID     string       `db:"account_id" json:"accountId"`
	Kind          CreditKind   `db:"kind" json:"kind"`
	Amount        int64        `db:"amount" json:"amount"`
	BalanceAfter  int64        `db:"balance_after" json:"balanceAfter"`
	Reason        LedgerReason `db:"reason" json:"reason"`
	CorrelationID *string      `db:"correlation_id" json:"correlationId,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
}

type AppendEntryParams struct {
	AccountID     string
	Kind          CreditKind
	Amount        int64
	BalanceAfter  int64
	Reason        LedgerReason
	CorrelationID *string
}

// CreditGrant tracks a block of credits issued with an expiry. Grants exist
// only for expirable credit; the balances projection remains the billing
// source of truth, so a grant's remaining counter may exceed the live balance
// when other grants were consumed out of order.
type CreditGrant struct {
	ID            string     `db:"id" json:"id"`
	AccountID     string     `db:"account_id" json:"accountId"`
	Kind          CreditKind `db:"kind" json:"kind"`
	InitialAmount int64      `db:"initial_amount" json:"initialAmount"`
	Remaining     int64      `db:"remaining" json:"remaining"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
	SweptAt       *time.Time `db:"swept_at" json:"sweptAt,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}

type CreateGrantParams struct {
	AccountID string
	Kind      CreditKind
	Amount    int64
	ExpiresAt *time.Time
}
