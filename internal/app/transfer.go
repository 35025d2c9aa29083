package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store"
	"go.uber.org/zap"
)

// ProcessTransfer validates a transfer request and dispatches it to the strategy
// for its type. Nothing is mutated unless every check passes.
func (s *Service) ProcessTransfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	fromID, err := s.validateTransfer(&req)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(
		zap.String("user_id", req.UserID.String()),
		zap.String("transfer_type", string(req.TransferType)),
		zap.Int64("amount", req.Amount),
	)

	var result *domain.TransferResult
	if req.TransferType == domain.TransferInternal {
		result, err = s.internalTransfer(ctx, fromID, req)
	} else {
		result, err = s.externalTransfer(ctx, fromID, req)
	}
	if err != nil {
		logger.Info("transfer rejected", zap.String("outcome", string(domain.KindOf(err))), zap.Error(err))
		return nil, err
	}

	logger.Info("transfer recorded",
		zap.String("transfer_id", result.TransferID.String()),
		zap.String("outcome", result.Status),
		zap.Int64("fee", result.Fee),
	)
	return result, nil
}

func (s *Service) validateTransfer(req *domain.TransferRequest) (uuid.UUID, error) {
	req.FromAccount = strings.TrimSpace(req.FromAccount)
	req.ToAccount = strings.TrimSpace(req.ToAccount)
	req.Description = strings.TrimSpace(req.Description)

	if req.FromAccount == "" || req.ToAccount == "" || req.UserID == uuid.Nil {
		return uuid.Nil, domain.Validation("fromAccount, toAccount, amount and user_id are required")
	}
	if req.Amount <= 0 {
		return uuid.Nil, domain.ErrInvalidAmount
	}

	switch req.TransferType {
	case domain.TransferInternal, domain.TransferACH, domain.TransferWire:
	case domain.TransferInternational:
		req.SwiftCode = strings.ToUpper(strings.TrimSpace(req.SwiftCode))
		req.Country = strings.TrimSpace(req.Country)
		if req.SwiftCode == "" || req.Country == "" {
			return uuid.Nil, domain.Validation("swiftCode and country are required for international transfers")
		}
	default:
		return uuid.Nil, domain.Validation("unsupported transfer type %q", req.TransferType)
	}

	fromID, err := uuid.Parse(req.FromAccount)
	if err != nil {
		return uuid.Nil, domain.Validation("fromAccount must be an account id")
	}
	return fromID, nil
}

// internalTransfer moves money between two accounts of the same owner and settles
// synchronously with a balanced pair of ledger rows.
func (s *Service) internalTransfer(ctx context.Context, fromID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error) {
	toID, err := uuid.Parse(req.ToAccount)
	if err != nil {
		return nil, domain.Validation("toAccount must be an account id for transfers between accounts")
	}
	if toID == fromID {
		return nil, domain.ErrSameAccount
	}

	transferID := uuid.New()
	reference := shortRef("TRF", transferID)
	description := req.Description
	if description == "" {
		description = "Transfer between accounts"
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		accounts, err := tx.LockAccounts(ctx, fromID, toID)
		if err != nil {
			return err
		}
		source, dest := accounts[fromID], accounts[toID]
		if source.UserID != req.UserID {
			return domain.ErrAccountNotOwned
		}
		if dest.UserID != req.UserID {
			return &domain.Error{Kind: domain.KindAuthorization, Message: "destination account does not belong to user"}
		}
		if !source.IsActive() || !dest.IsActive() {
			return domain.ErrAccountNotActive
		}
		if source.Balance < req.Amount {
			return domain.ErrInsufficientFunds
		}

		if _, err := tx.AdjustBalance(ctx, source.ID, -req.Amount); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, dest.ID, req.Amount); err != nil {
			return err
		}

		return tx.InsertTransactions(ctx,
			&domain.Transaction{
				ID:          uuid.New(),
				AccountID:   source.ID,
				UserID:      req.UserID,
				TransferID:  &transferID,
				Type:        domain.TxTransferOut,
				Amount:      -req.Amount,
				Status:      domain.TxStatusCompleted,
				Description: fmt.Sprintf("%s to %s", description, dest.AccountNumber),
				Reference:   reference,
			},
			&domain.Transaction{
				ID:          uuid.New(),
				AccountID:   dest.ID,
				UserID:      req.UserID,
				TransferID:  &transferID,
				Type:        domain.TxTransferIn,
				Amount:      req.Amount,
				Status:      domain.TxStatusCompleted,
				Description: fmt.Sprintf("%s from %s", description, source.AccountNumber),
				Reference:   reference,
			},
		)
	})
	if err != nil {
		return nil, classifyStoreError("internal transfer", err)
	}

	s.events.emit(ctx, domain.EventTransferCompleted, domain.TransferEvent{
		TransferID:    transferID,
		UserID:        req.UserID,
		FromAccountID: fromID,
		ToAccount:     req.ToAccount,
		TransferType:  req.TransferType,
		Amount:        req.Amount,
		Status:        domain.TxStatusCompleted,
		Timestamp:     s.now(),
	})

	return &domain.TransferResult{
		TransferID: transferID,
		Status:     domain.TxStatusCompleted,
		Message:    "Transfer completed successfully",
		Reference:  reference,
	}, nil
}

// externalTransfer debits amount plus fee and records a pending principal row and
// a completed fee row. Settlement arrives later through the settlement consumer.
func (s *Service) externalTransfer(ctx context.Context, fromID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error) {
	fee := s.fees.FeeFor(req.TransferType)
	required := req.Amount + fee

	transferID := uuid.New()
	reference := shortRef(referencePrefix(req.TransferType), transferID)
	metadata := &domain.TransferMetadata{
		ToAccount:     req.ToAccount,
		RecipientName: strings.TrimSpace(req.RecipientName),
		BankName:      strings.TrimSpace(req.BankName),
		RoutingNumber: strings.TrimSpace(req.RoutingNumber),
		SwiftCode:     req.SwiftCode,
		Country:       req.Country,
		Fee:           fee,
	}
	rawMetadata, err := json.Marshal(metadata)
	if err != nil {
		return nil, domain.Downstream("failed to encode transfer metadata", err)
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("%s to %s", transferLabel(req.TransferType), recipientLabel(metadata))
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		accounts, err := tx.LockAccounts(ctx, fromID)
		if err != nil {
			return err
		}
		source := accounts[fromID]
		if source.UserID != req.UserID {
			return domain.ErrAccountNotOwned
		}
		if !source.IsActive() {
			return domain.ErrAccountNotActive
		}
		if source.Balance < required {
			return domain.ErrInsufficientFunds
		}

		if _, err := tx.AdjustBalance(ctx, source.ID, -required); err != nil {
			return err
		}

		rows := []*domain.Transaction{{
			ID:          uuid.New(),
			AccountID:   source.ID,
			UserID:      req.UserID,
			TransferID:  &transferID,
			Type:        req.TransferType.LedgerType(),
			Amount:      -req.Amount,
			Status:      domain.TxStatusPending,
			Description: description,
			Reference:   reference,
			Metadata:    rawMetadata,
		}}
		if fee > 0 {
			rows = append(rows, &domain.Transaction{
				ID:          uuid.New(),
				AccountID:   source.ID,
				UserID:      req.UserID,
				TransferID:  &transferID,
				Type:        domain.TxFee,
				Amount:      -fee,
				Status:      domain.TxStatusCompleted,
				Description: transferLabel(req.TransferType) + " fee",
				Reference:   reference,
			})
		}
		return tx.InsertTransactions(ctx, rows...)
	})
	if err != nil {
		return nil, classifyStoreError("external transfer", err)
	}

	s.events.emit(ctx, domain.EventExternalTransferInitiated, domain.TransferEvent{
		TransferID:    transferID,
		UserID:        req.UserID,
		FromAccountID: fromID,
		ToAccount:     req.ToAccount,
		TransferType:  req.TransferType,
		Amount:        req.Amount,
		Fee:           fee,
		Status:        domain.TxStatusPending,
		Metadata:      metadata,
		Timestamp:     s.now(),
	})

	return &domain.TransferResult{
		TransferID: transferID,
		Status:     domain.TxStatusPending,
		Message:    transferLabel(req.TransferType) + " initiated and pending settlement",
		Fee:        fee,
		Reference:  reference,
	}, nil
}

func referencePrefix(t domain.TransferType) string {
	switch t {
	case domain.TransferWire:
		return "WIRE"
	case domain.TransferInternational:
		return "INTL"
	default:
		return "ACH"
	}
}

func transferLabel(t domain.TransferType) string {
	switch t {
	case domain.TransferWire:
		return "Wire transfer"
	case domain.TransferInternational:
		return "International transfer"
	case domain.TransferACH:
		return "ACH transfer"
	default:
		return "Transfer"
	}
}

func recipientLabel(m *domain.TransferMetadata) string {
	if m.RecipientName != "" {
		return m.RecipientName
	}
	return m.ToAccount
}

// classifyStoreError passes classified errors through and wraps anything else
// as a downstream failure.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindDownstream {
		return err
	}
	return domain.Downstream(op+" failed", err)
}
