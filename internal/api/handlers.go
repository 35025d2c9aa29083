/**
 * @description
 * This file contains the HTTP handlers for the banking-service's API endpoints.
 * Handlers parse incoming requests, resolve the caller to an internal user id, call
 * the application service and write the HTTP response.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/shopspring/decimal: Dollar amounts in request bodies.
 * - go.uber.org/zap: Structured logging.
 * - internal/app, internal/domain: For service logic, models, and error kinds.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/banking-service/internal/app"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store"
	"go.uber.org/zap"
)

const (
	maxBodyBytes           = 1 << 20
	maxBulkBodyBytes       = 10 << 20
	defaultTransactionPage = 50
)

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
	logger  *zap.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{service: service, logger: logger}
}

type enrollRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

type depositRequest struct {
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type transferRequest struct {
	FromAccount   string          `json:"fromAccount"`
	TransferType  string          `json:"transferType"`
	ToAccount     string          `json:"toAccount"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	RecipientName string          `json:"recipientName"`
	BankName      string          `json:"bankName"`
	RoutingNumber string          `json:"routingNumber"`
	SwiftCode     string          `json:"swiftCode"`
	Country       string          `json:"country"`
}

type issueCardRequest struct {
	AccountID      string `json:"accountId"`
	CardholderName string `json:"cardholderName"`
}

type cardTransactionRequest struct {
	CardID          string          `json:"cardId"`
	Amount          decimal.Decimal `json:"amount"`
	Merchant        string          `json:"merchant"`
	Location        string          `json:"location"`
	TransactionType string          `json:"transactionType"`
}

type bulkImportRequest struct {
	CSVData string `json:"csvData"`
}

// resolveUser maps the token subject to the internal user id. It writes the error
// response itself and reports false when the request cannot continue.
func (h *Handlers) resolveUser(w http.ResponseWriter, r *http.Request, endpoint string) (uuid.UUID, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return uuid.Nil, false
	}
	userID, err := h.service.ResolveInternalUserID(r.Context(), id.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			h.logger.Info("request rejected",
				zap.String("endpoint", endpoint),
				zap.String("outcome", "reject"),
				zap.String("reason", "user_resolution_failed"),
				zap.String("subject", id.Subject),
			)
			writeError(w, http.StatusNotFound, "User not found")
			return uuid.Nil, false
		}
		h.writeServiceError(w, endpoint, err)
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, endpoint string, limit int64, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Info("request rejected",
			zap.String("endpoint", endpoint),
			zap.String("outcome", "reject"),
			zap.String("reason", "invalid_json"),
			zap.Error(err),
		)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeServiceError maps a classified error onto a status code. Downstream
// failures are logged and answered with a generic message.
func (h *Handlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindDownstream {
		h.logger.Error("request failed", zap.String("endpoint", endpoint), zap.String("outcome", "error"), zap.Error(err))
	} else {
		h.logger.Info("request rejected", zap.String("endpoint", endpoint), zap.String("outcome", string(kind)), zap.Error(err))
	}
	writeError(w, statusForKind(kind), domain.PublicMessage(err))
}

func parseUUIDParam(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return value, nil
}

// EnrollUserHandler creates the internal user record for the token subject.
func (h *Handlers) EnrollUserHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	var req enrollRequest
	if !h.decode(w, r, "enroll_user", maxBodyBytes, &req) {
		return
	}

	user, err := h.service.EnrollUser(r.Context(), id.Subject, req.Email, req.FullName)
	if err != nil {
		h.writeServiceError(w, "enroll_user", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "user": user})
}

// OpenAccountHandler opens a pending account for the caller.
func (h *Handlers) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r, "open_account")
	if !ok {
		return
	}
	var req domain.OpenAccountRequest
	if !h.decode(w, r, "open_account", maxBodyBytes, &req) {
		return
	}

	account, err := h.service.OpenAccount(r.Context(), userID, req.AccountType)
	if err != nil {
		h.writeServiceError(w, "open_account", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "account": newAccountView(*account)})
}

// ListAccountsHandler lists the caller's accounts.
func (h *Handlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r, "list_accounts")
	if !ok {
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "list_accounts", err)
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, newAccountView(a))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "accounts": views})
}

// ListAccountTransactionsHandler returns a page of ledger rows for an owned account.
func (h *Handlers) ListAccountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r, "list_account_transactions")
	if !ok {
		return
	}
	accountID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "account ID")
	if !ok {
		return
	}
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), defaultTransactionPage)
	if err != nil || limit == 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > store.MaxTransactionPage {
		limit = store.MaxTransactionPage
	}
	offset, err := parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset "+err.Error())
		return
	}

	txs, err := h.service.ListAccountTransactions(r.Context(), userID, accountID, limit, offset)
	if err != nil {
		h.writeServiceError(w, "list_account_transactions", err)
		return
	}
	views := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		views = append(views, newTransactionView(t))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transactions": views})
}

// DepositHandler credits an owned account.
func (h *Handlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r, "deposit")
	if !ok {
		return
	}
	var body depositRequest
	if !h.decode(w, r, "deposit", maxBodyBytes, &body) {
		return
	}
	accountID, ok := parseUUIDParam(w, body.AccountID, "accountId")
	if !ok {
		return
	}
	amount, err := domain.ToCents(body.Amount)
	if err != nil {
		h.writeServiceError(w, "deposit", err)
		return
	}

	tx, balance, err := h.service.Deposit(r.Context(), userID, domain.DepositRequest{
		AccountID:   accountID,
		Amount:      amount,
		Description: body.Description,
	})
	if err != nil {
		h.writeServiceError(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":     true,
		"transaction": newTransactionView(*tx),
		"new_balance": dollars(balance),
	})
}

// TransferHandler runs the transfer orchestrator for the caller.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r, "transfer")
	if !ok {
		return
	}
	var body transferRequest
	if !h.decode(w, r, "transfer", maxBodyBytes, &body) {
		return
	}
	amount, err := domain.ToCents(body.Amount)
	if err != nil {
		h.writeServiceError(w, "transfer", err)
		return
	}

	result, err := h.service.ProcessTransfer(r.Context(), domain.TransferRequest{
		FromAccount:   body.FromAccount,
		TransferType:  domain.NormalizeTransferType(body.TransferType),
		ToAccount:     body.ToAccount,
		Amount:        amount,
		Description:   body.Description,
		RecipientName: body.RecipientName,
		BankName:      body.BankName,
		RoutingNumber: body.RoutingNumber,
		SwiftCode:     body.SwiftCode,
		Country:       body.Country,
		UserID:        userID,
	})
	if err != nil {
		h.writeServiceError(w, "transfer", err)
		return
	}

	resp := transferResponse{
		Success:    true,
		TransferID: result.TransferID,
		Status:     result.Status,
		Message:    result.Message,
		Reference:  result.Reference,
	}
	if result.Fee > 0 {
		resp.Fee = dollars(result.Fee)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// IssueCardHandler issues a debit card on an owned account.
func (h *Handlers) IssueCardHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r, "issue_card")
	if !ok {
		return
	}
	var body issueCardRequest
	if !h.decode(w, r, "issue_card", maxBodyBytes, &body) {
		return
	}
	accountID, ok := parseUUIDParam(w, body.AccountID, "accountId")
	if !ok {
		return
	}

	card, err := h.service.IssueCard(r.Context(), domain.IssueCardRequest{
		AccountID:      accountID,
		CardholderName: body.CardholderName,
		UserID:         userID,
	})
	if err != nil {
		h.writeServiceError(w, "issue_card", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "card": newCardView(*card)})
}

// ListCardsHandler lists the caller's cards.
func (h *Handlers) ListCardsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r, "list_cards")
	if !ok {
		return
	}
	cards, err := h.service.ListCards(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "list_cards", err)
		return
	}
	views := make([]cardView, 0, len(cards))
	for _, c := range cards {
		views = append(views, newCardView(c))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "cards": views})
}

// LockCardHandler locks a card.
func (h *Handlers) LockCardHandler(w http.ResponseWriter, r *http.Request) {
	h.setCardLock(w, r, true)
}

// UnlockCardHandler unlocks a card.
func (h *Handlers) UnlockCardHandler(w http.ResponseWriter, r *http.Request) {
	h.setCardLock(w, r, false)
}

func (h *Handlers) setCardLock(w http.ResponseWriter, r *http.Request, locked bool) {
	endpoint := "unlock_card"
	if locked {
		endpoint = "lock_card"
	}
	userID, ok := h.resolveUser(w, r, endpoint)
	if !ok {
		return
	}
	cardID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "card ID")
	if !ok {
		return
	}

	card, err := h.service.SetCardLock(r.Context(), userID, cardID, locked)
	if err != nil {
		h.writeServiceError(w, endpoint, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "card": newCardView(*card)})
}

// CardTransactionHandler authorizes and records a card purchase.
func (h *Handlers) CardTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r, "card_transaction")
	if !ok {
		return
	}
	var body cardTransactionRequest
	if !h.decode(w, r, "card_transaction", maxBodyBytes, &body) {
		return
	}
	cardID, ok := parseUUIDParam(w, body.CardID, "cardId")
	if !ok {
		return
	}
	amount, err := domain.ToCents(body.Amount)
	if err != nil {
		h.writeServiceError(w, "card_transaction", err)
		return
	}

	result, err := h.service.ProcessCardTransaction(r.Context(), domain.CardTransactionRequest{
		CardID:          cardID,
		Amount:          amount,
		Merchant:        body.Merchant,
		Location:        body.Location,
		TransactionType: body.TransactionType,
		UserID:          userID,
	})
	if err != nil {
		h.writeServiceError(w, "card_transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":     true,
		"transaction": newCardTransactionView(result.Transaction),
		"new_balance": dollars(result.NewBalance),
	})
}

// ListCardTransactionsHandler lists card-level rows for an owned card.
func (h *Handlers) ListCardTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUser(w, r, "list_card_transactions")
	if !ok {
		return
	}
	raw := r.URL.Query().Get("cardId")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "cardId is required")
		return
	}
	cardID, ok := parseUUIDParam(w, raw, "cardId")
	if !ok {
		return
	}

	items, err := h.service.ListCardTransactions(r.Context(), userID, cardID)
	if err != nil {
		h.writeServiceError(w, "list_card_transactions", err)
		return
	}
	views := make([]cardTransactionView, 0, len(items))
	for _, t := range items {
		views = append(views, newCardTransactionView(t))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transactions": views})
}

// BulkImportHandler applies a CSV batch of ledger adjustments. Admin only.
func (h *Handlers) BulkImportHandler(w http.ResponseWriter, r *http.Request) {
	var body bulkImportRequest
	if !h.decode(w, r, "bulk_import", maxBulkBodyBytes, &body) {
		return
	}

	result, err := h.service.ImportTransactions(r.Context(), body.CSVData)
	if err != nil {
		h.writeServiceError(w, "bulk_import", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ActivateAccountHandler activates a pending or frozen account. Admin only.
func (h *Handlers) ActivateAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "account ID")
	if !ok {
		return
	}
	account, err := h.service.ActivateAccount(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, "activate_account", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "account": newAccountView(*account)})
}
