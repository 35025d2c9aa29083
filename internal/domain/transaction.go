package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TransactionType names the kind of ledger movement.
type TransactionType string

const (
	TxDeposit               TransactionType = "deposit"
	TxWithdrawal            TransactionType = "withdrawal"
	TxTransferIn            TransactionType = "transfer_in"
	TxTransferOut           TransactionType = "transfer_out"
	TxFee                   TransactionType = "fee"
	TxWireTransfer          TransactionType = "wire_transfer"
	TxInternationalTransfer TransactionType = "international_transfer"
	TxAdjustment            TransactionType = "adjustment"
	TxInterest              TransactionType = "interest"
	TxBonus                 TransactionType = "bonus"
	TxRefund                TransactionType = "refund"
	TxCredit                TransactionType = "credit"
	TxDebit                 TransactionType = "debit"
	TxReversal              TransactionType = "reversal"
)

const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Transaction is one append-only ledger row against a single account.
// Amount is signed: credits are positive, debits negative.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   uuid.UUID       `json:"account_id"`
	UserID      uuid.UUID       `json:"user_id"`
	TransferID  *uuid.UUID      `json:"transfer_id,omitempty"`
	Type        TransactionType `json:"type"`
	Amount      int64           `json:"amount"` // in cents, signed
	Status      string          `json:"status"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TransferMetadata is the side payload stored with external transfer rows.
type TransferMetadata struct {
	ToAccount     string `json:"to_account,omitempty"`
	RecipientName string `json:"recipient_name,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	RoutingNumber string `json:"routing_number,omitempty"`
	SwiftCode     string `json:"swift_code,omitempty"`
	Country       string `json:"country,omitempty"`
	Fee           int64  `json:"fee,omitempty"`
}
