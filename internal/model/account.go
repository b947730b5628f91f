package model

import (
	"time"
)

type Account struct {
	ID           string      `db:"id" json:"id"`
	Email        string      `db:"email" json:"email"`
	Tier         AccountTier `db:"tier" json:"tier"`
	APITokenHash *string     `db:"api_token_hash" json:"-"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updatedAt"`
	DisabledAt   *time.Time  `db:"disabled_at" json:"disabledAt,omitempty"`
}

type CreateAccountParams struct {
	Email        string
	Tier         AccountTier
	APITokenHash string
}
