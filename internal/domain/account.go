/**
 * @description
 * Core models for users and accounts as stored in the banking-service database.
 *
 * @notes
 * - Balances are int64 cents to avoid floating-point drift on money.
 * - Accounts are owned through UserID only; no other owner reference is consulted.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountType is the product an account was opened as.
type AccountType string

const (
	CheckingAccount AccountType = "checking"
	SavingsAccount  AccountType = "savings"
	BusinessAccount AccountType = "business"
)

// Valid reports whether t is a product the bank offers.
func (t AccountType) Valid() bool {
	switch t {
	case CheckingAccount, SavingsAccount, BusinessAccount:
		return true
	}
	return false
}

const (
	AccountStatusPending = "pending"
	AccountStatusActive  = "active"
	AccountStatusFrozen  = "frozen"
	AccountStatusClosed  = "closed"
)

// User is the subset of a customer record the service needs.
type User struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"external_id"` // identity provider subject
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Account is a customer deposit account.
type Account struct {
	ID            uuid.UUID   `json:"id"`
	UserID        uuid.UUID   `json:"user_id"`
	AccountNumber string      `json:"account_number"`
	Type          AccountType `json:"account_type"`
	Balance       int64       `json:"balance"` // in cents
	Status        string      `json:"status"`
	RoutingNumber string      `json:"routing_number"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// IsActive reports whether the account may send or receive money.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// OpenAccountRequest is the DTO for opening a new account.
type OpenAccountRequest struct {
	AccountType AccountType `json:"accountType"`
}

// DepositRequest is the DTO for crediting an owned account.
type DepositRequest struct {
	AccountID   uuid.UUID `json:"accountId"`
	Amount      int64     `json:"-"`
	Description string    `json:"description"`
}
