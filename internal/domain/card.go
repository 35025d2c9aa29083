package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	CardStatusActive   = "active"
	CardStatusInactive = "inactive"
)

// Card is a debit card drawing directly on its linked account.
// Only the masked number and a hash of the verification code are persisted.
type Card struct {
	ID             uuid.UUID `json:"id"`
	AccountID      uuid.UUID `json:"account_id"`
	UserID         uuid.UUID `json:"user_id"`
	CardholderName string    `json:"cardholder_name"`
	MaskedNumber   string    `json:"masked_number"`
	Last4          string    `json:"last4"`
	ExpiryMonth    int       `json:"expiry_month"`
	ExpiryYear     int       `json:"expiry_year"`
	CVVHash        string    `json:"-"`
	Status         string    `json:"status"`
	IsLocked       bool      `json:"is_locked"`
	DailyLimit     int64     `json:"daily_limit"`   // in cents
	MonthlyLimit   int64     `json:"monthly_limit"` // in cents, 0 means unlimited
	DailySpent     int64     `json:"daily_spent"`
	MonthlySpent   int64     `json:"monthly_spent"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CardTransaction is the card-level record of a purchase.
type CardTransaction struct {
	ID              uuid.UUID `json:"id"`
	CardID          uuid.UUID `json:"card_id"`
	AccountID       uuid.UUID `json:"account_id"`
	Amount          int64     `json:"amount"` // in cents, positive
	Merchant        string    `json:"merchant"`
	Location        string    `json:"location"`
	TransactionType string    `json:"transaction_type"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// CardTransactionRequest is the input to the card transaction processor.
type CardTransactionRequest struct {
	CardID          uuid.UUID
	Amount          int64 // in cents
	Merchant        string
	Location        string
	TransactionType string
	UserID          uuid.UUID
}

// CardTransactionResult pairs the card record with the resulting account balance.
type CardTransactionResult struct {
	Transaction CardTransaction `json:"transaction"`
	NewBalance  int64           `json:"new_balance"`
}

// IssueCardRequest is the input to card issuance.
type IssueCardRequest struct {
	AccountID      uuid.UUID
	CardholderName string
	UserID         uuid.UUID
}
