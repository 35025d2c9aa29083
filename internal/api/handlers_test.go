package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
)

func TestHealth(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, request{method: http.MethodGet, path: "/health"})
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "healthy" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestTransferHandler_InternalTransferWithDecimalAmount(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	from := s.account("1000000001", 50000)
	to := s.account("1000000002", 10000)

	rec := s.do(t, request{
		method:  http.MethodPost,
		path:    "/transfers",
		subject: "user_primary",
		body: map[string]interface{}{
			"fromAccount":  from.ID.String(),
			"toAccount":    to.ID.String(),
			"transferType": "internal",
			"amount":       "150.25",
			"description":  "rent",
		},
	})
	expectStatus(t, rec, http.StatusCreated)

	body := decodeBody(t, rec)
	if body["success"] != true || body["status"] != "completed" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["fee"]; ok {
		t.Fatalf("internal transfer should not report a fee: %v", body)
	}
	if _, err := uuid.Parse(body["transfer_id"].(string)); err != nil {
		t.Fatalf("transfer_id is not a uuid: %v", body["transfer_id"])
	}
	if got := s.balance(t, from.ID); got != 34975 {
		t.Fatalf("expected source balance 34975, got %d", got)
	}
	if got := s.balance(t, to.ID); got != 25025 {
		t.Fatalf("expected destination balance 25025, got %d", got)
	}
}

func TestTransferHandler_ExternalTransferReportsFee(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	from := s.account("1000000001", 200000)

	rec := s.do(t, request{
		method:  http.MethodPost,
		path:    "/transfers",
		subject: "user_primary",
		body: map[string]interface{}{
			"fromAccount":   from.ID.String(),
			"toAccount":     "987654321",
			"transferType":  "WIRE",
			"amount":        1000,
			"recipientName": "Grace Hopper",
			"bankName":      "First Bank",
			"routingNumber": "021000089",
		},
	})
	expectStatus(t, rec, http.StatusCreated)

	body := decodeBody(t, rec)
	if body["status"] != "pending" {
		t.Fatalf("expected pending status, got %v", body["status"])
	}
	if body["fee"] != "25.00" {
		t.Fatalf("expected fee 25.00, got %v", body["fee"])
	}
	if got := s.balance(t, from.ID); got != 200000-100000-2500 {
		t.Fatalf("unexpected source balance %d", got)
	}
}

func TestTransferHandler_ErrorStatusMapping(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	from := s.account("1000000001", 90000)
	to := s.account("1000000002", 0)
	stranger := s.mem.AddUser(domain.User{ExternalID: "user_other", Email: "b@x.com", FullName: "Other"})
	foreign := s.accountFor(stranger.ID, "1000000003", 50000)

	tests := []struct {
		name    string
		subject string
		body    interface{}
		status  int
		message string
	}{
		{
			name:    "insufficient funds",
			subject: "user_primary",
			body:    map[string]interface{}{"fromAccount": from.ID.String(), "toAccount": to.ID.String(), "transferType": "internal", "amount": 1000},
			status:  http.StatusPaymentRequired,
			message: "insufficient funds",
		},
		{
			name:    "sub-cent amount",
			subject: "user_primary",
			body:    map[string]interface{}{"fromAccount": from.ID.String(), "toAccount": to.ID.String(), "transferType": "internal", "amount": "1.001"},
			status:  http.StatusBadRequest,
		},
		{
			name:    "amount that would wrap int64",
			subject: "user_primary",
			body:    map[string]interface{}{"fromAccount": from.ID.String(), "toAccount": to.ID.String(), "transferType": "internal", "amount": "184467440737095517.16"},
			status:  http.StatusBadRequest,
			message: "amount 184467440737095517.16 exceeds the maximum of 1000000000000.00",
		},
		{
			name:    "missing amount",
			subject: "user_primary",
			body:    map[string]interface{}{"fromAccount": from.ID.String(), "toAccount": to.ID.String(), "transferType": "internal"},
			status:  http.StatusBadRequest,
			message: "amount must be greater than zero",
		},
		{
			name:    "foreign source",
			subject: "user_primary",
			body:    map[string]interface{}{"fromAccount": foreign.ID.String(), "toAccount": to.ID.String(), "transferType": "internal", "amount": 10},
			status:  http.StatusForbidden,
		},
		{
			name:    "unknown destination",
			subject: "user_primary",
			body:    map[string]interface{}{"fromAccount": from.ID.String(), "toAccount": uuid.NewString(), "transferType": "internal", "amount": 10},
			status:  http.StatusNotFound,
		},
		{
			name:    "caller without user record",
			subject: "user_unenrolled",
			body:    map[string]interface{}{"fromAccount": from.ID.String(), "toAccount": to.ID.String(), "transferType": "internal", "amount": 10},
			status:  http.StatusNotFound,
			message: "User not found",
		},
		{
			name:    "malformed body",
			subject: "user_primary",
			body:    "{not json",
			status:  http.StatusBadRequest,
			message: "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, request{method: http.MethodPost, path: "/transfers", subject: tt.subject, body: tt.body})
			expectStatus(t, rec, tt.status)
			body := decodeBody(t, rec)
			if tt.message != "" && body["error"] != tt.message {
				t.Fatalf("expected error %q, got %v", tt.message, body["error"])
			}
		})
	}

	if got := s.balance(t, from.ID); got != 90000 {
		t.Fatalf("rejected transfers must not move money, balance %d", got)
	}
}

func TestTransferHandler_RequiresAuthentication(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, request{method: http.MethodPost, path: "/transfers", body: map[string]interface{}{}})
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestAccountLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, request{
		method:  http.MethodPost,
		path:    "/users/enroll",
		subject: "user_new",
		body:    map[string]interface{}{"email": "new@x.com", "fullName": "New Customer"},
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = s.do(t, request{
		method:  http.MethodPost,
		path:    "/accounts",
		subject: "user_new",
		body:    map[string]interface{}{"accountType": "savings"},
	})
	expectStatus(t, rec, http.StatusCreated)
	account := decodeBody(t, rec)["account"].(map[string]interface{})
	if account["status"] != domain.AccountStatusPending || account["balance"] != "0.00" {
		t.Fatalf("unexpected new account %v", account)
	}
	accountID := account["id"].(string)

	rec = s.do(t, request{
		method:  http.MethodPost,
		path:    "/deposits",
		subject: "user_new",
		body:    map[string]interface{}{"accountId": accountID, "amount": 20},
	})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, request{
		method:  http.MethodPost,
		path:    "/admin/accounts/" + accountID + "/activate",
		headers: map[string]string{internalAPIKeyHeader: testInternalKey},
	})
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, request{
		method:  http.MethodPost,
		path:    "/deposits",
		subject: "user_new",
		body:    map[string]interface{}{"accountId": accountID, "amount": "20.50", "description": "paycheck"},
	})
	expectStatus(t, rec, http.StatusCreated)
	if got := decodeBody(t, rec)["new_balance"]; got != "20.50" {
		t.Fatalf("expected new_balance 20.50, got %v", got)
	}

	rec = s.do(t, request{method: http.MethodGet, path: "/accounts", subject: "user_new"})
	expectStatus(t, rec, http.StatusOK)
	accounts := decodeBody(t, rec)["accounts"].([]interface{})
	if len(accounts) != 1 {
		t.Fatalf("expected one account, got %d", len(accounts))
	}

	rec = s.do(t, request{method: http.MethodGet, path: "/accounts/" + accountID + "/transactions", subject: "user_new"})
	expectStatus(t, rec, http.StatusOK)
	txs := decodeBody(t, rec)["transactions"].([]interface{})
	if len(txs) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(txs))
	}
	row := txs[0].(map[string]interface{})
	if row["transaction_type"] != "deposit" || row["amount"] != "20.50" {
		t.Fatalf("unexpected ledger row %v", row)
	}

	rec = s.do(t, request{method: http.MethodGet, path: "/accounts/" + accountID + "/transactions", subject: "user_primary"})
	expectStatus(t, rec, http.StatusForbidden)
}

func TestListAccountTransactionsHandler_RejectsBadPaging(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	account := s.account("1000000001", 0)

	for _, query := range []string{"?limit=0", "?limit=abc", "?offset=-1", "?limit=-5"} {
		rec := s.do(t, request{method: http.MethodGet, path: "/accounts/" + account.ID.String() + "/transactions" + query, subject: "user_primary"})
		expectStatus(t, rec, http.StatusBadRequest)
	}

	rec := s.do(t, request{method: http.MethodGet, path: "/accounts/not-a-uuid/transactions", subject: "user_primary"})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestCardFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	account := s.account("1000000001", 50000)

	rec := s.do(t, request{
		method:  http.MethodPost,
		path:    "/cards",
		subject: "user_primary",
		body:    map[string]interface{}{"accountId": account.ID.String(), "cardholderName": "ada lovelace"},
	})
	expectStatus(t, rec, http.StatusCreated)
	if strings.Contains(strings.ToLower(rec.Body.String()), "cvv") {
		t.Fatalf("card response must not expose verification code: %s", rec.Body.String())
	}
	card := decodeBody(t, rec)["card"].(map[string]interface{})
	if !strings.HasPrefix(card["card_number"].(string), "**** **** **** ") {
		t.Fatalf("expected masked card number, got %v", card["card_number"])
	}
	if card["daily_limit"] != "1000.00" {
		t.Fatalf("expected daily_limit 1000.00, got %v", card["daily_limit"])
	}
	cardID := card["id"].(string)

	rec = s.do(t, request{
		method:  http.MethodPost,
		path:    "/card-transactions",
		subject: "user_primary",
		body:    map[string]interface{}{"cardId": cardID, "amount": 25.99, "merchant": "Coffee Co"},
	})
	expectStatus(t, rec, http.StatusCreated)
	body := decodeBody(t, rec)
	if body["new_balance"] != "474.01" {
		t.Fatalf("expected new_balance 474.01, got %v", body["new_balance"])
	}

	rec = s.do(t, request{method: http.MethodPost, path: "/cards/" + cardID + "/lock", subject: "user_primary"})
	expectStatus(t, rec, http.StatusOK)
	if decodeBody(t, rec)["card"].(map[string]interface{})["is_locked"] != true {
		t.Fatal("expected card to be locked")
	}

	rec = s.do(t, request{
		method:  http.MethodPost,
		path:    "/card-transactions",
		subject: "user_primary",
		body:    map[string]interface{}{"cardId": cardID, "amount": 5},
	})
	expectStatus(t, rec, http.StatusBadRequest)
	if got := decodeBody(t, rec)["error"]; got != "card is locked" {
		t.Fatalf("expected locked decline, got %v", got)
	}

	rec = s.do(t, request{method: http.MethodPost, path: "/cards/" + cardID + "/unlock", subject: "user_primary"})
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, request{method: http.MethodGet, path: "/card-transactions?cardId=" + cardID, subject: "user_primary"})
	expectStatus(t, rec, http.StatusOK)
	if txs := decodeBody(t, rec)["transactions"].([]interface{}); len(txs) != 1 {
		t.Fatalf("expected one card transaction, got %d", len(txs))
	}

	rec = s.do(t, request{method: http.MethodGet, path: "/card-transactions", subject: "user_primary"})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, request{method: http.MethodGet, path: "/cards", subject: "user_primary"})
	expectStatus(t, rec, http.StatusOK)
	if cards := decodeBody(t, rec)["cards"].([]interface{}); len(cards) != 1 {
		t.Fatalf("expected one card, got %d", len(cards))
	}
}

func TestBulkImportHandler_AdminAccess(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	account := s.account("111", 2000)
	payload := map[string]interface{}{"csvData": "email,account_number,type,amount,description\na@x.com,111,deposit,50,test\n"}

	tests := []struct {
		name    string
		subject string
		role    string
		headers map[string]string
		status  int
	}{
		{name: "no credentials", status: http.StatusUnauthorized},
		{name: "wrong internal key", headers: map[string]string{internalAPIKeyHeader: "nope"}, status: http.StatusUnauthorized},
		{name: "customer token", subject: "user_primary", status: http.StatusForbidden},
		{name: "admin token", subject: "user_admin", role: "admin", status: http.StatusOK},
		{name: "internal key", headers: map[string]string{internalAPIKeyHeader: testInternalKey}, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, request{
				method:  http.MethodPost,
				path:    "/bulk-transactions",
				subject: tt.subject,
				role:    tt.role,
				headers: tt.headers,
				body:    payload,
			})
			expectStatus(t, rec, tt.status)
			if tt.status != http.StatusOK {
				return
			}
			body := decodeBody(t, rec)
			if body["total"] != float64(1) || body["successful"] != float64(1) || body["failed"] != float64(0) {
				t.Fatalf("unexpected summary %v", body)
			}
		})
	}

	if got := s.balance(t, account.ID); got != 2000+5000+5000 {
		t.Fatalf("expected two successful imports, balance %d", got)
	}
}

func TestBulkImportHandler_RejectsBadHeader(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, request{
		method:  http.MethodPost,
		path:    "/bulk-transactions",
		headers: map[string]string{internalAPIKeyHeader: testInternalKey},
		body:    map[string]interface{}{"csvData": "email,amount\na@x.com,5\n"},
	})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestActivateAccountHandler_NotFound(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(t, request{
		method:  http.MethodPost,
		path:    "/admin/accounts/" + uuid.NewString() + "/activate",
		headers: map[string]string{internalAPIKeyHeader: testInternalKey},
	})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindValidation, http.StatusBadRequest},
		{domain.KindAuthorization, http.StatusForbidden},
		{domain.KindInsufficientFunds, http.StatusPaymentRequired},
		{domain.KindNotFound, http.StatusNotFound},
		{domain.KindDownstream, http.StatusInternalServerError},
		{domain.ErrorKind("unknown"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForKind(tt.kind); got != tt.want {
			t.Fatalf("statusForKind(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
