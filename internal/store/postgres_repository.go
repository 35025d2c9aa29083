/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for users, accounts, the transaction ledger and cards.
 *
 * @notes
 * - Not-found conditions are reported with the domain sentinels so callers can
 *   classify them without importing pgx.
 * - Money-moving statements only exist on pgTx; the pool never mutates a balance.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/banking-service/internal/domain"
)

// ErrDuplicateAccountNumber is returned when a generated account number collides.
var ErrDuplicateAccountNumber = errors.New("account number already exists")

const uniqueViolation = "23505"

const accountColumns = `id, user_id, account_number, account_type, balance, status, routing_number, created_at, updated_at`

const transactionColumns = `id, account_id, user_id, transfer_id, type, amount, status, description, reference, metadata, created_at`

const cardColumns = `id, account_id, user_id, cardholder_name, masked_number, last4, expiry_month, expiry_year,
	cvv_hash, status, is_locked, daily_limit, monthly_limit, daily_spent, monthly_spent, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID, &account.UserID, &account.AccountNumber, &account.Type, &account.Balance,
		&account.Status, &account.RoutingNumber, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func scanCard(row pgx.Row) (*domain.Card, error) {
	var card domain.Card
	err := row.Scan(
		&card.ID, &card.AccountID, &card.UserID, &card.CardholderName, &card.MaskedNumber, &card.Last4,
		&card.ExpiryMonth, &card.ExpiryYear, &card.CVVHash, &card.Status, &card.IsLocked,
		&card.DailyLimit, &card.MonthlyLimit, &card.DailySpent, &card.MonthlySpent,
		&card.CreatedAt, &card.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var metadata []byte
		err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.UserID, &tx.TransferID, &tx.Type, &tx.Amount,
			&tx.Status, &tx.Description, &tx.Reference, &metadata, &tx.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			tx.Metadata = metadata
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// FindUserIDByExternalID resolves the internal UUID from the identity provider subject.
func (r *PostgresRepository) FindUserIDByExternalID(ctx context.Context, externalID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE external_id = $1", externalID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, domain.ErrUserNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// FindUserByEmail retrieves a user by email, case-insensitively.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, external_id, email, full_name, created_at FROM users WHERE lower(email) = lower(btrim($1))`
	err := r.db.QueryRow(ctx, query, email).Scan(&user.ID, &user.ExternalID, &user.Email, &user.FullName, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts an enrolled user.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, external_id, email, full_name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, user.ID, user.ExternalID, user.Email, user.FullName).Scan(&user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Validation("user is already enrolled")
		}
		return err
	}
	return nil
}

// FindAccountByID retrieves an account by its internal id.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, accountID))
}

// FindAccountByNumber retrieves an account by its display number.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = btrim($1)`
	return scanAccount(r.db.QueryRow(ctx, query, accountNumber))
}

// ListAccountsByUserID returns every account the user owns, oldest first.
func (r *PostgresRepository) ListAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// CreateAccount inserts a new account record.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, user_id, account_number, account_type, balance, status, routing_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		account.ID,
		account.UserID,
		account.AccountNumber,
		account.Type,
		account.Balance,
		account.Status,
		account.RoutingNumber,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAccountNumber
		}
		return err
	}
	return nil
}

// UpdateAccountStatus transitions an account and returns the updated record.
func (r *PostgresRepository) UpdateAccountStatus(ctx context.Context, accountID uuid.UUID, status string) (*domain.Account, error) {
	query := `UPDATE accounts SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING ` + accountColumns
	return scanAccount(r.db.QueryRow(ctx, query, status, accountID))
}

// ListTransactionsByAccountID returns ledger rows for an account, newest first.
func (r *PostgresRepository) ListTransactionsByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > MaxTransactionPage {
		limit = MaxTransactionPage
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// FindTransactionsByTransferID returns every ledger row written for one transfer.
func (r *PostgresRepository) FindTransactionsByTransferID(ctx context.Context, transferID uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transfer_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, transferID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// FindCardByID retrieves a card by id.
func (r *PostgresRepository) FindCardByID(ctx context.Context, cardID uuid.UUID) (*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = $1`
	return scanCard(r.db.QueryRow(ctx, query, cardID))
}

// ListCardsByUserID returns the user's cards, newest first.
func (r *PostgresRepository) ListCardsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *card)
	}
	return cards, rows.Err()
}

// CreateCard inserts an issued card. Only the masked number and CVV hash are stored.
func (r *PostgresRepository) CreateCard(ctx context.Context, card *domain.Card) error {
	query := `
		INSERT INTO cards (
			id, account_id, user_id, cardholder_name, masked_number, last4, expiry_month, expiry_year,
			cvv_hash, status, is_locked, daily_limit, monthly_limit
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		card.ID,
		card.AccountID,
		card.UserID,
		card.CardholderName,
		card.MaskedNumber,
		card.Last4,
		card.ExpiryMonth,
		card.ExpiryYear,
		card.CVVHash,
		card.Status,
		card.IsLocked,
		card.DailyLimit,
		card.MonthlyLimit,
	).Scan(&card.CreatedAt, &card.UpdatedAt)
}

// SetCardLocked sets the lock flag and returns the updated card.
func (r *PostgresRepository) SetCardLocked(ctx context.Context, cardID uuid.UUID, locked bool) (*domain.Card, error) {
	query := `UPDATE cards SET is_locked = $1, updated_at = NOW() WHERE id = $2 RETURNING ` + cardColumns
	return scanCard(r.db.QueryRow(ctx, query, locked, cardID))
}

// ListCardTransactions returns card-level rows for a card, newest first.
func (r *PostgresRepository) ListCardTransactions(ctx context.Context, cardID uuid.UUID) ([]domain.CardTransaction, error) {
	query := `
		SELECT id, card_id, account_id, amount, merchant, location, transaction_type, status, created_at
		FROM card_transactions
		WHERE card_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.CardTransaction
	for rows.Next() {
		var ct domain.CardTransaction
		err := rows.Scan(&ct.ID, &ct.CardID, &ct.AccountID, &ct.Amount, &ct.Merchant, &ct.Location,
			&ct.TransactionType, &ct.Status, &ct.CreatedAt)
		if err != nil {
			return nil, err
		}
		items = append(items, ct)
	}
	return items, rows.Err()
}

// ResetCardDailySpend zeroes every card's daily counter.
func (r *PostgresRepository) ResetCardDailySpend(ctx context.Context) (int64, error) {
	result, err := r.db.Exec(ctx, `UPDATE cards SET daily_spent = 0, updated_at = NOW() WHERE daily_spent <> 0`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ResetCardMonthlySpend zeroes every card's monthly counter.
func (r *PostgresRepository) ResetCardMonthlySpend(ctx context.Context) (int64, error) {
	result, err := r.db.Exec(ctx, `UPDATE cards SET monthly_spent = 0, updated_at = NOW() WHERE monthly_spent <> 0`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// WithinTx runs fn in one database transaction.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

// LockAccounts takes row locks in ascending id order so concurrent transfers
// touching the same pair of accounts cannot deadlock.
func (t *pgTx) LockAccounts(ctx context.Context, accountIDs ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	ids := append([]uuid.UUID(nil), accountIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	locked := make(map[uuid.UUID]*domain.Account, len(ids))
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	for _, id := range ids {
		if _, ok := locked[id]; ok {
			continue
		}
		account, err := scanAccount(t.tx.QueryRow(ctx, query, id))
		if err != nil {
			return nil, err
		}
		locked[id] = account
	}
	return locked, nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, accountID uuid.UUID, delta int64) (int64, error) {
	var balance int64
	query := `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance
	`
	err := t.tx.QueryRow(ctx, query, accountID, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
				return 0, err
			}
			if !exists {
				return 0, domain.ErrAccountNotFound
			}
			return 0, domain.ErrInsufficientFunds
		}
		return 0, err
	}
	return balance, nil
}

func (t *pgTx) InsertTransactions(ctx context.Context, txs ...*domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, account_id, user_id, transfer_id, type, amount, status, description, reference, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	for _, tx := range txs {
		var metadata []byte
		if len(tx.Metadata) > 0 {
			metadata = tx.Metadata
		}
		err := t.tx.QueryRow(ctx, query,
			tx.ID,
			tx.AccountID,
			tx.UserID,
			tx.TransferID,
			tx.Type,
			tx.Amount,
			tx.Status,
			tx.Description,
			tx.Reference,
			metadata,
		).Scan(&tx.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert %s transaction: %w", tx.Type, err)
		}
	}
	return nil
}

func (t *pgTx) LockCard(ctx context.Context, cardID uuid.UUID) (*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = $1 FOR UPDATE`
	return scanCard(t.tx.QueryRow(ctx, query, cardID))
}

func (t *pgTx) InsertCardTransaction(ctx context.Context, ct *domain.CardTransaction) error {
	query := `
		INSERT INTO card_transactions (id, card_id, account_id, amount, merchant, location, transaction_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	return t.tx.QueryRow(ctx, query,
		ct.ID, ct.CardID, ct.AccountID, ct.Amount, ct.Merchant, ct.Location, ct.TransactionType, ct.Status,
	).Scan(&ct.CreatedAt)
}

func (t *pgTx) AddCardSpend(ctx context.Context, cardID uuid.UUID, amount int64) error {
	query := `
		UPDATE cards
		SET daily_spent = daily_spent + $2, monthly_spent = monthly_spent + $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := t.tx.Exec(ctx, query, cardID, amount)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrCardNotFound
	}
	return nil
}

func (t *pgTx) LockTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transfer_id = $1 ORDER BY created_at ASC, id ASC FOR UPDATE`
	rows, err := t.tx.Query(ctx, query, transferID)
	if err != nil {
		return nil, err
	}
	txs, err := collectTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, domain.ErrTransferNotFound
	}
	return txs, nil
}

// UpdateTransferStatus moves every row of a transfer that is still in fromStatus.
func (t *pgTx) UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, fromStatus, toStatus string) (int64, error) {
	query := `UPDATE transactions SET status = $1, updated_at = NOW() WHERE transfer_id = $2 AND status = $3`
	result, err := t.tx.Exec(ctx, query, toStatus, transferID, fromStatus)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
