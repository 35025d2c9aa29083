/**
 * @description
 * This file defines the `Repository` and `Tx` interfaces, the contract for all data
 * access required by the banking-service. Reads that do not move money go through
 * Repository directly; every balance mutation runs inside WithinTx so the balance
 * change and its ledger rows commit together or not at all.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
)

// MaxTransactionPage is the largest ledger page any listing returns.
const MaxTransactionPage = 200

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	FindUserIDByExternalID(ctx context.Context, externalID string) (uuid.UUID, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error

	// Account methods
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	ListAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	UpdateAccountStatus(ctx context.Context, accountID uuid.UUID, status string) (*domain.Account, error)

	// Ledger methods
	ListTransactionsByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error)
	FindTransactionsByTransferID(ctx context.Context, transferID uuid.UUID) ([]domain.Transaction, error)

	// Card methods
	FindCardByID(ctx context.Context, cardID uuid.UUID) (*domain.Card, error)
	ListCardsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Card, error)
	CreateCard(ctx context.Context, card *domain.Card) error
	SetCardLocked(ctx context.Context, cardID uuid.UUID, locked bool) (*domain.Card, error)
	ListCardTransactions(ctx context.Context, cardID uuid.UUID) ([]domain.CardTransaction, error)
	ResetCardDailySpend(ctx context.Context) (int64, error)
	ResetCardMonthlySpend(ctx context.Context) (int64, error)

	// WithinTx runs fn in a single database transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside WithinTx.
type Tx interface {
	// LockAccounts locks the given accounts in id order and returns them keyed by id.
	// Any missing id yields domain.ErrAccountNotFound.
	LockAccounts(ctx context.Context, accountIDs ...uuid.UUID) (map[uuid.UUID]*domain.Account, error)
	// AdjustBalance applies a signed delta. A delta that would leave the balance
	// negative changes nothing and returns domain.ErrInsufficientFunds.
	AdjustBalance(ctx context.Context, accountID uuid.UUID, delta int64) (int64, error)
	InsertTransactions(ctx context.Context, txs ...*domain.Transaction) error

	LockCard(ctx context.Context, cardID uuid.UUID) (*domain.Card, error)
	InsertCardTransaction(ctx context.Context, ct *domain.CardTransaction) error
	AddCardSpend(ctx context.Context, cardID uuid.UUID, amount int64) error

	// LockTransfer returns the ledger rows of a transfer with their rows locked.
	LockTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.Transaction, error)
	UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, fromStatus, toStatus string) (int64, error)
}
