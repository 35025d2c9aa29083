package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the service exchange.
const (
	EventTransferCompleted         = "transfer.completed"
	EventExternalTransferInitiated = "transfer.external.initiated"
	EventSettlementCompleted       = "transfer.settlement.completed"
	EventSettlementFailed          = "transfer.settlement.failed"
	EventCardTransactionApproved   = "card.transaction.approved"
	EventBulkImportCompleted       = "bulk.import.completed"
	EventAccountOpened             = "account.opened"
	EventDepositCompleted          = "deposit.completed"
)

// TransferEvent is published after a transfer commits.
type TransferEvent struct {
	TransferID    uuid.UUID         `json:"transfer_id"`
	UserID        uuid.UUID         `json:"user_id"`
	FromAccountID uuid.UUID         `json:"from_account_id"`
	ToAccount     string            `json:"to_account"`
	TransferType  TransferType      `json:"transfer_type"`
	Amount        int64             `json:"amount"`
	Fee           int64             `json:"fee"`
	Status        string            `json:"status"`
	Metadata      *TransferMetadata `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// CardTransactionEvent is published after a card purchase commits.
type CardTransactionEvent struct {
	CardTransactionID uuid.UUID `json:"card_transaction_id"`
	CardID            uuid.UUID `json:"card_id"`
	AccountID         uuid.UUID `json:"account_id"`
	Amount            int64     `json:"amount"`
	Merchant          string    `json:"merchant"`
	Timestamp         time.Time `json:"timestamp"`
}

// BulkImportEvent summarizes a finished import for downstream reporting.
type BulkImportEvent struct {
	BatchID    uuid.UUID `json:"batch_id"`
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Timestamp  time.Time `json:"timestamp"`
}

// AccountEvent is published when an account is opened or funded.
type AccountEvent struct {
	AccountID uuid.UUID `json:"account_id"`
	UserID    uuid.UUID `json:"user_id"`
	Amount    int64     `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
