package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store"
	"go.uber.org/zap"
)

const accountNumberAttempts = 5

// EnrollUser creates the customer record for an identity provider subject.
func (s *Service) EnrollUser(ctx context.Context, externalID, email, fullName string) (*domain.User, error) {
	externalID = strings.TrimSpace(externalID)
	email = strings.TrimSpace(email)
	fullName = strings.TrimSpace(fullName)
	if externalID == "" {
		return nil, domain.Validation("subject is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.Validation("a valid email is required")
	}
	if fullName == "" {
		return nil, domain.Validation("fullName is required")
	}

	user := &domain.User{ID: uuid.New(), ExternalID: externalID, Email: email, FullName: fullName}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, classifyStoreError("enroll user", err)
	}
	s.logger.Info("user enrolled", zap.String("user_id", user.ID.String()))
	return user, nil
}

// OpenAccount creates a pending account with a zero balance.
func (s *Service) OpenAccount(ctx context.Context, userID uuid.UUID, accountType domain.AccountType) (*domain.Account, error) {
	accountType = domain.AccountType(strings.ToLower(strings.TrimSpace(string(accountType))))
	if accountType == "" {
		accountType = domain.CheckingAccount
	}
	if !accountType.Valid() {
		return nil, domain.Validation("unsupported account type %q", accountType)
	}

	account := &domain.Account{
		ID:            uuid.New(),
		UserID:        userID,
		Type:          accountType,
		Balance:       0,
		Status:        domain.AccountStatusPending,
		RoutingNumber: s.routingNumber,
	}

	for attempt := 1; ; attempt++ {
		number, err := randomDigits(s.random, 10)
		if err != nil {
			return nil, domain.Downstream("failed to generate account number", err)
		}
		// Leading zeros read badly on statements.
		if number[0] == '0' {
			number = "1" + number[1:]
		}
		account.AccountNumber = number

		err = s.repo.CreateAccount(ctx, account)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrDuplicateAccountNumber) && attempt < accountNumberAttempts {
			continue
		}
		return nil, classifyStoreError("open account", err)
	}

	s.logger.Info("account opened",
		zap.String("user_id", userID.String()),
		zap.String("account_id", account.ID.String()),
		zap.String("account_type", string(account.Type)),
	)
	s.events.emit(ctx, domain.EventAccountOpened, domain.AccountEvent{
		AccountID: account.ID,
		UserID:    userID,
		Status:    account.Status,
		Timestamp: s.now(),
	})
	return account, nil
}

// ActivateAccount moves a pending or frozen account to active. Activating an
// active account is a no-op; closed accounts stay closed.
func (s *Service) ActivateAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, classifyStoreError("find account", err)
	}
	switch account.Status {
	case domain.AccountStatusActive:
		return account, nil
	case domain.AccountStatusClosed:
		return nil, domain.Validation("closed accounts cannot be activated")
	}

	updated, err := s.repo.UpdateAccountStatus(ctx, accountID, domain.AccountStatusActive)
	if err != nil {
		return nil, classifyStoreError("activate account", err)
	}
	s.logger.Info("account activated", zap.String("account_id", accountID.String()), zap.String("previous_status", account.Status))
	return updated, nil
}

// ListAccounts returns the caller's accounts.
func (s *Service) ListAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	accounts, err := s.repo.ListAccountsByUserID(ctx, userID)
	if err != nil {
		return nil, classifyStoreError("list accounts", err)
	}
	return accounts, nil
}

// ListAccountTransactions returns a page of ledger rows for an account the caller owns.
func (s *Service) ListAccountTransactions(ctx context.Context, userID, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, classifyStoreError("find account", err)
	}
	if account.UserID != userID {
		return nil, domain.ErrAccountNotOwned
	}
	txs, err := s.repo.ListTransactionsByAccountID(ctx, accountID, limit, offset)
	if err != nil {
		return nil, classifyStoreError("list transactions", err)
	}
	return txs, nil
}

// Deposit credits an active account the caller owns and appends a completed
// deposit row in the same transaction.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, req domain.DepositRequest) (*domain.Transaction, int64, error) {
	if req.AccountID == uuid.Nil {
		return nil, 0, domain.Validation("accountId is required")
	}
	if req.Amount <= 0 {
		return nil, 0, domain.ErrInvalidAmount
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Deposit"
	}
	row := &domain.Transaction{
		ID:          uuid.New(),
		AccountID:   req.AccountID,
		UserID:      userID,
		Type:        domain.TxDeposit,
		Amount:      req.Amount,
		Status:      domain.TxStatusCompleted,
		Description: description,
	}
	row.Reference = shortRef("DEP", row.ID)

	var newBalance int64
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		accounts, err := tx.LockAccounts(ctx, req.AccountID)
		if err != nil {
			return err
		}
		account := accounts[req.AccountID]
		if account.UserID != userID {
			return domain.ErrAccountNotOwned
		}
		if !account.IsActive() {
			return domain.ErrAccountNotActive
		}
		newBalance, err = tx.AdjustBalance(ctx, account.ID, req.Amount)
		if err != nil {
			return err
		}
		return tx.InsertTransactions(ctx, row)
	})
	if err != nil {
		return nil, 0, classifyStoreError("deposit", err)
	}

	s.logger.Info("deposit completed",
		zap.String("user_id", userID.String()),
		zap.String("account_id", req.AccountID.String()),
		zap.Int64("amount", req.Amount),
	)
	s.events.emit(ctx, domain.EventDepositCompleted, domain.AccountEvent{
		AccountID: req.AccountID,
		UserID:    userID,
		Amount:    req.Amount,
		Status:    domain.TxStatusCompleted,
		Timestamp: s.now(),
	})
	return row, newBalance, nil
}

func ownedAccount(account *domain.Account, userID uuid.UUID) error {
	if account.UserID != userID {
		return domain.ErrAccountNotOwned
	}
	if account.Status == domain.AccountStatusClosed {
		return fmt.Errorf("account %s: %w", account.AccountNumber, domain.ErrAccountNotActive)
	}
	return nil
}
