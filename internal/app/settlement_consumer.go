package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store"
	"go.uber.org/zap"
)

// SettlementConsumer applies out-of-band settlement results to pending external
// transfers. Completion marks the principal row completed; failure marks it failed
// and credits amount plus fee back with a reversal row, in one transaction.
type SettlementConsumer struct {
	repo   store.Repository
	events eventEmitter
	logger *zap.Logger
	now    func() time.Time
}

func NewSettlementConsumer(repo store.Repository, publisher Publisher, exchange string, logger *zap.Logger) *SettlementConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementConsumer{
		repo:   repo,
		events: eventEmitter{publisher: publisher, exchange: exchange, logger: logger},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Bindings maps the settlement routing keys to handlers for rabbitmq.Consumer.
func (c *SettlementConsumer) Bindings() map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		domain.EventSettlementCompleted: c.handlerFor(domain.TxStatusCompleted),
		domain.EventSettlementFailed:    c.handlerFor(domain.TxStatusFailed),
	}
}

func (c *SettlementConsumer) handlerFor(defaultStatus string) func([]byte) bool {
	return func(body []byte) bool {
		return c.HandleMessage(body, defaultStatus)
	}
}

// HandleMessage returns false only for errors worth retrying. Malformed payloads
// and unknown transfers are acknowledged and dropped.
func (c *SettlementConsumer) HandleMessage(body []byte, defaultStatus string) bool {
	var event domain.SettlementEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("failed to unmarshal settlement payload", zap.Error(err))
		return true
	}
	if event.TransferID == uuid.Nil {
		c.logger.Warn("settlement event missing transfer id")
		return true
	}
	if strings.TrimSpace(event.Status) == "" {
		event.Status = defaultStatus
	}
	if status := normalizeSettlementStatus(event.Status); isTerminalSettlement(status) && status != defaultStatus {
		c.logger.Error("settlement status contradicts routing key; dropping",
			zap.String("transfer_id", event.TransferID.String()),
			zap.String("body_status", event.Status),
			zap.String("routing_status", defaultStatus),
		)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		c.logger.Error("settlement processing error", zap.String("transfer_id", event.TransferID.String()), zap.Error(err))
		return false
	}
	return true
}

func (c *SettlementConsumer) processEvent(ctx context.Context, event domain.SettlementEvent) error {
	status := normalizeSettlementStatus(event.Status)
	if !isTerminalSettlement(status) {
		c.logger.Info("ignoring non-terminal settlement status",
			zap.String("transfer_id", event.TransferID.String()),
			zap.String("status", event.Status),
		)
		return nil
	}

	var principal *domain.Transaction
	var applied bool
	err := c.repo.WithinTx(ctx, func(tx store.Tx) error {
		rows, err := tx.LockTransfer(ctx, event.TransferID)
		if err != nil {
			return err
		}
		principal = principalRow(rows)
		if principal == nil || principal.Status != domain.TxStatusPending {
			return nil
		}

		if _, err := tx.UpdateTransferStatus(ctx, event.TransferID, domain.TxStatusPending, status); err != nil {
			return fmt.Errorf("update transfer status: %w", err)
		}
		applied = true
		if status == domain.TxStatusCompleted {
			return nil
		}

		refund := -principal.Amount + feeTotal(rows)
		if _, err := tx.AdjustBalance(ctx, principal.AccountID, refund); err != nil {
			return fmt.Errorf("refund source account: %w", err)
		}
		description := "Reversal of failed transfer"
		if reason := strings.TrimSpace(event.Reason); reason != "" {
			description += ": " + reason
		}
		return tx.InsertTransactions(ctx, &domain.Transaction{
			ID:          uuid.New(),
			AccountID:   principal.AccountID,
			UserID:      principal.UserID,
			TransferID:  &event.TransferID,
			Type:        domain.TxReversal,
			Amount:      refund,
			Status:      domain.TxStatusCompleted,
			Description: description,
			Reference:   shortRef("REV", event.TransferID),
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrTransferNotFound) {
			c.logger.Warn("no transfer found for settlement; acknowledging", zap.String("transfer_id", event.TransferID.String()))
			return nil
		}
		return err
	}

	if !applied {
		c.logger.Info("settlement already applied", zap.String("transfer_id", event.TransferID.String()))
		return nil
	}
	c.logger.Info("settlement applied",
		zap.String("transfer_id", event.TransferID.String()),
		zap.String("outcome", status),
	)
	if status == domain.TxStatusCompleted {
		c.events.emit(ctx, domain.EventTransferCompleted, domain.TransferEvent{
			TransferID:    event.TransferID,
			UserID:        principal.UserID,
			FromAccountID: principal.AccountID,
			Amount:        -principal.Amount,
			Status:        domain.TxStatusCompleted,
			Timestamp:     c.now(),
		})
	}
	return nil
}

func principalRow(rows []domain.Transaction) *domain.Transaction {
	for i := range rows {
		switch rows[i].Type {
		case domain.TxTransferOut, domain.TxWireTransfer, domain.TxInternationalTransfer:
			row := rows[i]
			return &row
		}
	}
	return nil
}

func feeTotal(rows []domain.Transaction) int64 {
	var total int64
	for _, row := range rows {
		if row.Type == domain.TxFee {
			total += -row.Amount
		}
	}
	return total
}

func isTerminalSettlement(status string) bool {
	return status == domain.TxStatusCompleted || status == domain.TxStatusFailed
}

func normalizeSettlementStatus(status string) string {
	status = strings.TrimSpace(strings.ToLower(status))
	switch status {
	case "successful", "success", "settled", "completed":
		return domain.TxStatusCompleted
	case "failed", "failure", "rejected", "returned":
		return domain.TxStatusFailed
	default:
		return status
	}
}
