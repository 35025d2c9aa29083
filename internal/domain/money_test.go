package domain

import (
	"errors"
	"testing"
)

func TestParseCents(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr error
	}{
		{raw: "50", want: 5000},
		{raw: "12.75", want: 1275},
		{raw: "0.01", want: 1},
		{raw: "1.5", want: 150},
		{raw: "0", wantErr: ErrInvalidAmount},
		{raw: "-3", wantErr: ErrInvalidAmount},
		{raw: "1.001"},
		{raw: "ten"},
		{raw: "1000000000000", want: MaxAmountCents},
		{raw: "1000000000000.01"},
		{raw: "184467440737095517.16"},
		{raw: "92233720368547758.08"},
		{raw: "1e30"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseCents(tt.raw)
			if tt.want != 0 {
				if err != nil || got != tt.want {
					t.Fatalf("ParseCents(%q) = %d, %v; want %d", tt.raw, got, err, tt.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error for %q", tt.raw)
			}
			if KindOf(err) != KindValidation {
				t.Fatalf("expected validation kind, got %q", KindOf(err))
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFromCents(t *testing.T) {
	if got := FromCents(34975).StringFixed(2); got != "349.75" {
		t.Fatalf("unexpected dollars %q", got)
	}
	if got := FromCents(-2500).StringFixed(2); got != "-25.00" {
		t.Fatalf("unexpected dollars %q", got)
	}
}

func TestBulkEffect(t *testing.T) {
	credits := []TransactionType{TxDeposit, TxInterest, TxBonus, TxRefund, TxAdjustment}
	for _, typ := range credits {
		if BulkEffect(typ) != 1 {
			t.Fatalf("expected %s to credit", typ)
		}
	}
	for _, typ := range []TransactionType{TxWithdrawal, TxFee} {
		if BulkEffect(typ) != -1 {
			t.Fatalf("expected %s to debit", typ)
		}
	}
	for _, typ := range []TransactionType{TxTransferIn, TxReversal, "gift"} {
		if BulkEffect(typ) != 0 {
			t.Fatalf("expected %s to be rejected", typ)
		}
	}
}
