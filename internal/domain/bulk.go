package domain

// BulkImportError describes one rejected CSV row.
type BulkImportError struct {
	Row     int               `json:"row"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data"`
}

// BulkImportResult summarizes a batch. Total counts data rows, blank lines excluded.
type BulkImportResult struct {
	Total      int               `json:"total"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Errors     []BulkImportError `json:"errors"`
}

// BulkImportColumns are the required CSV header columns.
var BulkImportColumns = []string{"email", "account_number", "type", "amount", "description"}

// BulkEffect returns +1 for credit types, -1 for debit types and 0 for anything else.
func BulkEffect(t TransactionType) int64 {
	switch t {
	case TxDeposit, TxInterest, TxBonus, TxRefund, TxAdjustment:
		return 1
	case TxWithdrawal, TxFee:
		return -1
	default:
		return 0
	}
}
