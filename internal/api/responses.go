package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
)

// Amounts leave the service as fixed two-decimal dollar strings.
func dollars(cents int64) string {
	return domain.FromCents(cents).StringFixed(2)
}

type accountView struct {
	ID            uuid.UUID `json:"id"`
	AccountNumber string    `json:"account_number"`
	AccountType   string    `json:"account_type"`
	Balance       string    `json:"balance"`
	Status        string    `json:"status"`
	RoutingNumber string    `json:"routing_number"`
	CreatedAt     time.Time `json:"created_at"`
}

func newAccountView(a domain.Account) accountView {
	return accountView{
		ID:            a.ID,
		AccountNumber: a.AccountNumber,
		AccountType:   string(a.Type),
		Balance:       dollars(a.Balance),
		Status:        a.Status,
		RoutingNumber: a.RoutingNumber,
		CreatedAt:     a.CreatedAt,
	}
}

type transactionView struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   uuid.UUID       `json:"account_id"`
	TransferID  *uuid.UUID      `json:"transfer_id,omitempty"`
	Type        string          `json:"transaction_type"`
	Amount      string          `json:"amount"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	Reference   string          `json:"reference_number"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func newTransactionView(t domain.Transaction) transactionView {
	return transactionView{
		ID:          t.ID,
		AccountID:   t.AccountID,
		TransferID:  t.TransferID,
		Type:        string(t.Type),
		Amount:      dollars(t.Amount),
		Status:      t.Status,
		Description: t.Description,
		Reference:   t.Reference,
		Metadata:    t.Metadata,
		CreatedAt:   t.CreatedAt,
	}
}

type cardView struct {
	ID             uuid.UUID `json:"id"`
	AccountID      uuid.UUID `json:"account_id"`
	CardholderName string    `json:"cardholder_name"`
	CardNumber     string    `json:"card_number"`
	Last4          string    `json:"last4"`
	ExpiryMonth    int       `json:"expiry_month"`
	ExpiryYear     int       `json:"expiry_year"`
	Status         string    `json:"status"`
	IsLocked       bool      `json:"is_locked"`
	DailyLimit     string    `json:"daily_limit"`
	MonthlyLimit   string    `json:"monthly_limit"`
	DailySpent     string    `json:"daily_spent"`
	MonthlySpent   string    `json:"monthly_spent"`
	CreatedAt      time.Time `json:"created_at"`
}

func newCardView(c domain.Card) cardView {
	return cardView{
		ID:             c.ID,
		AccountID:      c.AccountID,
		CardholderName: c.CardholderName,
		CardNumber:     c.MaskedNumber,
		Last4:          c.Last4,
		ExpiryMonth:    c.ExpiryMonth,
		ExpiryYear:     c.ExpiryYear,
		Status:         c.Status,
		IsLocked:       c.IsLocked,
		DailyLimit:     dollars(c.DailyLimit),
		MonthlyLimit:   dollars(c.MonthlyLimit),
		DailySpent:     dollars(c.DailySpent),
		MonthlySpent:   dollars(c.MonthlySpent),
		CreatedAt:      c.CreatedAt,
	}
}

type cardTransactionView struct {
	ID              uuid.UUID `json:"id"`
	CardID          uuid.UUID `json:"card_id"`
	AccountID       uuid.UUID `json:"account_id"`
	Amount          string    `json:"amount"`
	Merchant        string    `json:"merchant"`
	Location        string    `json:"location"`
	TransactionType string    `json:"transaction_type"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

func newCardTransactionView(t domain.CardTransaction) cardTransactionView {
	return cardTransactionView{
		ID:              t.ID,
		CardID:          t.CardID,
		AccountID:       t.AccountID,
		Amount:          dollars(t.Amount),
		Merchant:        t.Merchant,
		Location:        t.Location,
		TransactionType: t.TransactionType,
		Status:          t.Status,
		CreatedAt:       t.CreatedAt,
	}
}

type transferResponse struct {
	Success    bool      `json:"success"`
	TransferID uuid.UUID `json:"transfer_id"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	Fee        string    `json:"fee,omitempty"`
	Reference  string    `json:"reference"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusForKind maps an error kind onto its HTTP status code.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
