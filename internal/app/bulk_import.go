package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store"
	"go.uber.org/zap"
)

// ImportTransactions applies a CSV batch row by row. Each row commits or rolls
// back on its own; a failing row is reported and the batch continues. Row numbers
// are file line numbers, so the first data row is row 2.
func (s *Service) ImportTransactions(ctx context.Context, csvData string) (*domain.BulkImportResult, error) {
	if strings.TrimSpace(csvData) == "" {
		return nil, domain.Validation("csvData is required")
	}

	reader := csv.NewReader(strings.NewReader(csvData))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, domain.Validation("CSV must start with a header row")
	}
	columns, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New()
	logger := s.logger.With(zap.String("batch_id", batchID.String()))
	result := &domain.BulkImportResult{Errors: []domain.BulkImportError{}}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, domain.Downstream("failed to read CSV", err)
			}
			result.Total++
			result.Failed++
			result.Errors = append(result.Errors, domain.BulkImportError{
				Row:     parseErr.Line,
				Message: "malformed CSV row: " + parseErr.Err.Error(),
				Data:    map[string]string{},
			})
			continue
		}
		if isBlankRecord(record) {
			continue
		}
		line, _ := reader.FieldPos(0)

		if err := ctx.Err(); err != nil {
			logger.Warn("bulk import interrupted", zap.Int("processed", result.Total), zap.Error(err))
			return result, domain.Downstream("bulk import interrupted", err)
		}

		result.Total++
		data := rowData(header, record)
		if err := s.importRow(ctx, batchID, line, columns, record); err != nil {
			if domain.KindOf(err) == domain.KindDownstream {
				logger.Error("bulk import row failed", zap.Int("row", line), zap.Error(err))
			}
			result.Failed++
			result.Errors = append(result.Errors, domain.BulkImportError{
				Row:     line,
				Message: domain.PublicMessage(err),
				Data:    data,
			})
			continue
		}
		result.Successful++
	}

	logger.Info("bulk import finished",
		zap.Int("total", result.Total),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
	)
	s.events.emit(ctx, domain.EventBulkImportCompleted, domain.BulkImportEvent{
		BatchID:    batchID,
		Total:      result.Total,
		Successful: result.Successful,
		Failed:     result.Failed,
		Timestamp:  s.now(),
	})
	return result, nil
}

func (s *Service) importRow(ctx context.Context, batchID uuid.UUID, line int, columns map[string]int, record []string) error {
	field := func(name string) string {
		idx := columns[name]
		if idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	email := field("email")
	accountNumber := field("account_number")
	if email == "" || accountNumber == "" {
		return domain.Validation("email and account_number are required")
	}

	txType := domain.TransactionType(strings.ToLower(field("type")))
	effect := domain.BulkEffect(txType)
	if effect == 0 {
		return domain.Validation("unrecognized transaction type %q", field("type"))
	}

	amount, err := domain.ParseCents(field("amount"))
	if err != nil {
		return err
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	account, err := s.repo.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return err
	}
	if err := ownedAccount(account, user.ID); err != nil {
		return err
	}

	description := field("description")
	if description == "" {
		description = "Bulk " + string(txType)
	}

	return s.repo.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockAccounts(ctx, account.ID)
		if err != nil {
			return err
		}
		if err := ownedAccount(locked[account.ID], user.ID); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, account.ID, effect*amount); err != nil {
			return err
		}
		return tx.InsertTransactions(ctx, &domain.Transaction{
			ID:          uuid.New(),
			AccountID:   account.ID,
			UserID:      user.ID,
			Type:        txType,
			Amount:      effect * amount,
			Status:      domain.TxStatusCompleted,
			Description: description,
			Reference:   fmt.Sprintf("%s-%d", shortRef("BULK", batchID), line),
		})
	})
}

func headerIndex(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = normalizeColumn(name)
		if _, seen := columns[name]; !seen {
			columns[name] = i
		}
	}

	var missing []string
	for _, required := range domain.BulkImportColumns {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, domain.Validation("CSV header is missing required columns: %s", strings.Join(missing, ", "))
	}
	return columns, nil
}

func rowData(header, record []string) map[string]string {
	data := make(map[string]string, len(header))
	for i, name := range header {
		name = normalizeColumn(name)
		if i < len(record) {
			data[name] = strings.TrimSpace(record[i])
		} else {
			data[name] = ""
		}
	}
	return data
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
}
