package domain

import (
	"strings"

	"github.com/google/uuid"
)

// TransferType selects the settlement strategy for a transfer.
type TransferType string

const (
	TransferInternal      TransferType = "between_accounts"
	TransferACH           TransferType = "ach"
	TransferWire          TransferType = "wire_transfer"
	TransferInternational TransferType = "international"
)

// NormalizeTransferType maps the aliases clients send onto the four strategies.
// Unknown values are returned lower-cased and fail validation later.
func NormalizeTransferType(raw string) TransferType {
	typ := strings.TrimSpace(strings.ToLower(raw))
	switch typ {
	case "between_accounts", "internal", "book":
		return TransferInternal
	case "ach", "domestic":
		return TransferACH
	case "wire_transfer", "wire":
		return TransferWire
	case "international", "international_transfer", "swift":
		return TransferInternational
	default:
		return TransferType(typ)
	}
}

// IsExternal reports whether the transfer leaves the bank and settles out of band.
func (t TransferType) IsExternal() bool {
	return t == TransferACH || t == TransferWire || t == TransferInternational
}

// LedgerType is the transaction type written for the principal leg of an external transfer.
func (t TransferType) LedgerType() TransactionType {
	switch t {
	case TransferWire:
		return TxWireTransfer
	case TransferInternational:
		return TxInternationalTransfer
	default:
		return TxTransferOut
	}
}

// FeeSchedule holds the flat fees charged per external transfer type, in cents.
type FeeSchedule struct {
	ACH           int64
	Wire          int64
	International int64
}

// DefaultFeeSchedule is $2 ACH, $25 wire, $45 international.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{ACH: 200, Wire: 2500, International: 4500}
}

// FeeFor returns the fee for a transfer type. Internal transfers are free.
func (f FeeSchedule) FeeFor(t TransferType) int64 {
	switch t {
	case TransferACH:
		return f.ACH
	case TransferWire:
		return f.Wire
	case TransferInternational:
		return f.International
	default:
		return 0
	}
}

// TransferRequest is the validated input to the transfer orchestrator.
type TransferRequest struct {
	FromAccount   string
	TransferType  TransferType
	ToAccount     string
	Amount        int64 // in cents
	Description   string
	RecipientName string
	BankName      string
	RoutingNumber string
	SwiftCode     string
	Country       string
	UserID        uuid.UUID
}

// TransferResult is returned to the caller once the transfer has been recorded.
type TransferResult struct {
	TransferID uuid.UUID `json:"transfer_id"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	Fee        int64     `json:"fee,omitempty"` // in cents
	Reference  string    `json:"reference"`
}

// SettlementEvent is delivered by the payment rail when an external transfer settles.
type SettlementEvent struct {
	TransferID uuid.UUID `json:"transfer_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
}
