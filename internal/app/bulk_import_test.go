package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store"
	"go.uber.org/zap"
)

func TestImportTransactionsAppliesDepositRow(t *testing.T) {
	f := newFixture(t)
	account := f.account("111", 2000)

	csvData := "email,account_number,type,amount,description\na@x.com,111,deposit,50,test"
	result, err := f.svc.ImportTransactions(context.Background(), csvData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 1 || result.Successful != 1 || result.Failed != 0 {
		t.Fatalf("unexpected summary %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected no row errors, got %+v", result.Errors)
	}
	if got := f.balance(t, account.ID); got != 7000 {
		t.Fatalf("expected balance 7000, got %d", got)
	}

	rows := f.mem.Transactions()
	if len(rows) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(rows))
	}
	if rows[0].Type != domain.TxDeposit || rows[0].Amount != 5000 || rows[0].Description != "test" {
		t.Fatalf("unexpected ledger row %+v", rows[0])
	}
	if !strings.HasPrefix(rows[0].Reference, "BULK-") || !strings.HasSuffix(rows[0].Reference, "-2") {
		t.Fatalf("expected BULK reference ending in the row number, got %q", rows[0].Reference)
	}
	if keys := f.publisher.routingKeys(); len(keys) != 1 || keys[0] != domain.EventBulkImportCompleted {
		t.Fatalf("expected bulk import event, got %v", keys)
	}
}

func TestImportTransactionsReportsUnknownTypeWithRowData(t *testing.T) {
	f := newFixture(t)
	account := f.account("111", 2000)

	csvData := "email,account_number,type,amount,description\na@x.com,111,transfer,50,x"
	result, err := f.svc.ImportTransactions(context.Background(), csvData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 1 || result.Successful != 0 || result.Failed != 1 {
		t.Fatalf("unexpected summary %+v", result)
	}
	rowErr := result.Errors[0]
	if rowErr.Row != 2 {
		t.Fatalf("expected row 2, got %d", rowErr.Row)
	}
	if rowErr.Data["type"] != "transfer" || rowErr.Data["email"] != "a@x.com" {
		t.Fatalf("expected offending row data, got %v", rowErr.Data)
	}
	if f.balance(t, account.ID) != 2000 || len(f.mem.Transactions()) != 0 {
		t.Fatal("expected nothing applied for a rejected row")
	}
}

func TestImportTransactionsContinuesPastFailingRows(t *testing.T) {
	f := newFixture(t)
	other := f.mem.AddUser(domain.User{ExternalID: "user_other", Email: "b@x.com"})
	mine := f.account("111", 10000)
	f.accountFor(other.ID, "222", 10000)

	csvData := strings.Join([]string{
		"Email,Account_Number,Type,Amount,Description",
		"a@x.com,111,deposit,25.50,paycheck",
		"a@x.com,111,withdrawal,500,too much",
		"",
		"missing@x.com,111,deposit,1,unknown user",
		"a@x.com,999,deposit,1,unknown account",
		"a@x.com,222,deposit,1,not mine",
		"a@x.com,111,fee,abc,bad amount",
		"a@x.com,111,fee,0.001,sub-cent",
		"A@X.com,111,Fee,5,monthly fee",
	}, "\n")

	result, err := f.svc.ImportTransactions(context.Background(), csvData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 8 || result.Successful != 2 || result.Failed != 6 {
		t.Fatalf("unexpected summary %+v", result)
	}

	wantRows := []int{3, 5, 6, 7, 8, 9}
	if len(result.Errors) != len(wantRows) {
		t.Fatalf("expected %d row errors, got %+v", len(wantRows), result.Errors)
	}
	for i, row := range wantRows {
		if result.Errors[i].Row != row {
			t.Fatalf("error %d: expected row %d, got %d", i, row, result.Errors[i].Row)
		}
	}
	if result.Errors[0].Message != domain.ErrInsufficientFunds.Message {
		t.Fatalf("expected overdraft message, got %q", result.Errors[0].Message)
	}
	if result.Errors[3].Message != domain.ErrAccountNotOwned.Message {
		t.Fatalf("expected ownership message, got %q", result.Errors[3].Message)
	}

	// 10000 + 2550 - 500
	if got := f.balance(t, mine.ID); got != 12050 {
		t.Fatalf("expected balance 12050, got %d", got)
	}
	if rows := f.mem.Transactions(); len(rows) != 2 {
		t.Fatalf("expected two ledger rows, got %d", len(rows))
	}
}

func TestImportTransactionsRejectsBadHeader(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ImportTransactions(context.Background(), "email,account_number,amount\na@x.com,111,5")
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "type") || !strings.Contains(err.Error(), "description") {
		t.Fatalf("expected missing columns to be named, got %q", err.Error())
	}

	if _, err := f.svc.ImportTransactions(context.Background(), "   "); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for empty input, got %v", err)
	}
}

func TestImportTransactionsAcceptsByteOrderMark(t *testing.T) {
	f := newFixture(t)
	account := f.account("111", 0)

	csvData := "\ufeffemail,account_number,type,amount,description\na@x.com,111,interest,1.25,"
	result, err := f.svc.ImportTransactions(context.Background(), csvData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Successful != 1 {
		t.Fatalf("expected row applied, got %+v", result)
	}
	if got := f.balance(t, account.ID); got != 125 {
		t.Fatalf("expected balance 125, got %d", got)
	}
	if rows := f.mem.Transactions(); rows[0].Description != "Bulk interest" {
		t.Fatalf("expected default description, got %q", rows[0].Description)
	}
}

func TestImportTransactionsRollsBackRowWhenLedgerInsertFails(t *testing.T) {
	f := newFixture(t)
	account := f.account("111", 2000)
	svc := NewService(&failingLedgerRepo{Repository: f.mem}, f.publisher, Options{}, zap.NewNop())

	result, err := svc.ImportTransactions(context.Background(), "email,account_number,type,amount,description\na@x.com,111,deposit,50,test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failed != 1 || result.Successful != 0 {
		t.Fatalf("unexpected summary %+v", result)
	}
	if result.Errors[0].Message != "Internal server error" {
		t.Fatalf("expected internal error to be masked, got %q", result.Errors[0].Message)
	}
	if got := f.balance(t, account.ID); got != 2000 {
		t.Fatalf("expected balance rolled back, got %d", got)
	}
}

func TestImportTransactionsStopsWhenContextCancelled(t *testing.T) {
	f := newFixture(t)
	f.account("111", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.svc.ImportTransactions(ctx, "email,account_number,type,amount,description\na@x.com,111,deposit,50,test")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if result == nil || result.Total != 0 {
		t.Fatalf("expected empty partial result, got %+v", result)
	}
}

func TestImportTransactionsRejectsAmountsBeyondTheCeiling(t *testing.T) {
	f := newFixture(t)
	account := f.account("111", 2000)

	csvData := "email,account_number,type,amount,description\n" +
		"a@x.com,111,deposit,184467440737095517.16,wraps to a dollar\n" +
		"a@x.com,111,withdrawal,1e30,wraps negative\n"
	result, err := f.svc.ImportTransactions(context.Background(), csvData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 2 || result.Successful != 0 || result.Failed != 2 {
		t.Fatalf("unexpected summary %+v", result)
	}
	for _, rowErr := range result.Errors {
		if !strings.Contains(rowErr.Message, "exceeds the maximum") {
			t.Fatalf("row %d: unexpected message %q", rowErr.Row, rowErr.Message)
		}
	}
	if got := f.balance(t, account.ID); got != 2000 {
		t.Fatalf("expected balance unchanged, got %d", got)
	}
	if rows := f.mem.Transactions(); len(rows) != 0 {
		t.Fatalf("expected no ledger rows, got %+v", rows)
	}
}

// closingRepo closes the account after the unlocked lookup and before the row
// transaction takes its lock.
type closingRepo struct {
	store.Repository
	accountID uuid.UUID
}

func (r *closingRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if _, err := r.Repository.UpdateAccountStatus(ctx, r.accountID, domain.AccountStatusClosed); err != nil {
		return err
	}
	return r.Repository.WithinTx(ctx, fn)
}

func TestImportTransactionsRechecksStatusUnderLock(t *testing.T) {
	f := newFixture(t)
	account := f.account("111", 2000)
	svc := NewService(&closingRepo{Repository: f.mem, accountID: account.ID}, f.publisher, Options{}, zap.NewNop())

	result, err := svc.ImportTransactions(context.Background(), "email,account_number,type,amount,description\na@x.com,111,deposit,50,late close")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failed != 1 || result.Successful != 0 {
		t.Fatalf("unexpected summary %+v", result)
	}
	if result.Errors[0].Message != "account is not active" {
		t.Fatalf("expected inactive account error, got %q", result.Errors[0].Message)
	}
	if got := f.balance(t, account.ID); got != 2000 {
		t.Fatalf("expected balance unchanged, got %d", got)
	}
}
