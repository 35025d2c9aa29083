package app

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	cardNumberPrefix  = "4"
	cardNumberLength  = 16
	cardValidityYears = 3
	defaultCardTxType = "purchase"
)

// IssueCard creates a debit card on an account the caller owns. The full card
// number and verification code are generated here and never stored or returned.
func (s *Service) IssueCard(ctx context.Context, req domain.IssueCardRequest) (*domain.Card, error) {
	name := strings.Join(strings.Fields(req.CardholderName), " ")
	if req.AccountID == uuid.Nil || name == "" {
		return nil, domain.Validation("accountId and cardholderName are required")
	}
	if len(name) > 26 {
		return nil, domain.Validation("cardholderName must be at most 26 characters")
	}

	account, err := s.repo.FindAccountByID(ctx, req.AccountID)
	if err != nil {
		return nil, classifyStoreError("find account", err)
	}
	if err := ownedAccount(account, req.UserID); err != nil {
		return nil, err
	}

	payload, err := randomDigits(s.random, cardNumberLength-len(cardNumberPrefix)-1)
	if err != nil {
		return nil, domain.Downstream("failed to generate card number", err)
	}
	payload = cardNumberPrefix + payload
	number := payload + string(luhnCheckDigit(payload))

	cvv, err := randomDigits(s.random, 3)
	if err != nil {
		return nil, domain.Downstream("failed to generate card verification code", err)
	}
	cvvHash, err := bcrypt.GenerateFromPassword([]byte(cvv), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.Downstream("failed to hash card verification code", err)
	}

	now := s.now()
	last4 := number[len(number)-4:]
	card := &domain.Card{
		ID:             uuid.New(),
		AccountID:      account.ID,
		UserID:         req.UserID,
		CardholderName: strings.ToUpper(name),
		MaskedNumber:   "**** **** **** " + last4,
		Last4:          last4,
		ExpiryMonth:    int(now.Month()),
		ExpiryYear:     now.Year() + cardValidityYears,
		CVVHash:        string(cvvHash),
		Status:         domain.CardStatusActive,
		DailyLimit:     s.cardDefaults.DailyLimit,
		MonthlyLimit:   s.cardDefaults.MonthlyLimit,
	}
	if err := s.repo.CreateCard(ctx, card); err != nil {
		return nil, classifyStoreError("issue card", err)
	}

	s.logger.Info("card issued",
		zap.String("user_id", req.UserID.String()),
		zap.String("card_id", card.ID.String()),
		zap.String("last4", last4),
	)
	return card, nil
}

// ListCards returns the caller's cards in masked form.
func (s *Service) ListCards(ctx context.Context, userID uuid.UUID) ([]domain.Card, error) {
	cards, err := s.repo.ListCardsByUserID(ctx, userID)
	if err != nil {
		return nil, classifyStoreError("list cards", err)
	}
	return cards, nil
}

// SetCardLock locks or unlocks a card the caller owns.
func (s *Service) SetCardLock(ctx context.Context, userID, cardID uuid.UUID, locked bool) (*domain.Card, error) {
	card, err := s.repo.FindCardByID(ctx, cardID)
	if err != nil {
		return nil, classifyStoreError("find card", err)
	}
	if card.UserID != userID {
		return nil, domain.ErrCardNotOwned
	}
	if card.IsLocked == locked {
		return card, nil
	}
	updated, err := s.repo.SetCardLocked(ctx, cardID, locked)
	if err != nil {
		return nil, classifyStoreError("update card lock", err)
	}
	s.logger.Info("card lock changed", zap.String("card_id", cardID.String()), zap.Bool("locked", locked))
	return updated, nil
}

// ListCardTransactions returns card-level rows for a card the caller owns.
func (s *Service) ListCardTransactions(ctx context.Context, userID, cardID uuid.UUID) ([]domain.CardTransaction, error) {
	card, err := s.repo.FindCardByID(ctx, cardID)
	if err != nil {
		return nil, classifyStoreError("find card", err)
	}
	if card.UserID != userID {
		return nil, domain.ErrCardNotOwned
	}
	items, err := s.repo.ListCardTransactions(ctx, cardID)
	if err != nil {
		return nil, classifyStoreError("list card transactions", err)
	}
	return items, nil
}

// ProcessCardTransaction authorizes and records a card purchase. The card row and
// the linked account are locked, limits are checked against the running daily and
// monthly spend, and the card row, account debit and ledger row commit together.
func (s *Service) ProcessCardTransaction(ctx context.Context, req domain.CardTransactionRequest) (*domain.CardTransactionResult, error) {
	if req.CardID == uuid.Nil || req.UserID == uuid.Nil {
		return nil, domain.Validation("cardId and amount are required")
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	txType := strings.ToLower(strings.TrimSpace(req.TransactionType))
	if txType == "" {
		txType = defaultCardTxType
	}
	merchant := strings.TrimSpace(req.Merchant)
	location := strings.TrimSpace(req.Location)

	cardTx := &domain.CardTransaction{
		ID:              uuid.New(),
		CardID:          req.CardID,
		Amount:          req.Amount,
		Merchant:        merchant,
		Location:        location,
		TransactionType: txType,
		Status:          domain.TxStatusCompleted,
	}

	var newBalance int64
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		card, err := tx.LockCard(ctx, req.CardID)
		if err != nil {
			return err
		}
		if err := authorizeCard(card, req); err != nil {
			return err
		}

		accounts, err := tx.LockAccounts(ctx, card.AccountID)
		if err != nil {
			return err
		}
		account := accounts[card.AccountID]
		if !account.IsActive() {
			return domain.ErrAccountNotActive
		}
		if account.Balance < req.Amount {
			return domain.ErrInsufficientFunds
		}

		cardTx.AccountID = account.ID
		if err := tx.InsertCardTransaction(ctx, cardTx); err != nil {
			return err
		}
		newBalance, err = tx.AdjustBalance(ctx, account.ID, -req.Amount)
		if err != nil {
			return err
		}
		if err := tx.AddCardSpend(ctx, card.ID, req.Amount); err != nil {
			return err
		}

		metadata, err := json.Marshal(map[string]string{
			"card_id":  card.ID.String(),
			"last4":    card.Last4,
			"merchant": merchant,
			"location": location,
		})
		if err != nil {
			return err
		}
		return tx.InsertTransactions(ctx, &domain.Transaction{
			ID:          uuid.New(),
			AccountID:   account.ID,
			UserID:      req.UserID,
			Type:        domain.TxDebit,
			Amount:      -req.Amount,
			Status:      domain.TxStatusCompleted,
			Description: cardDescription(merchant),
			Reference:   shortRef("CARD", cardTx.ID),
			Metadata:    metadata,
		})
	})
	if err != nil {
		s.logger.Info("card transaction declined",
			zap.String("card_id", req.CardID.String()),
			zap.String("outcome", string(domain.KindOf(err))),
			zap.Error(err),
		)
		return nil, classifyStoreError("card transaction", err)
	}

	s.logger.Info("card transaction approved",
		zap.String("card_id", req.CardID.String()),
		zap.Int64("amount", req.Amount),
	)
	s.events.emit(ctx, domain.EventCardTransactionApproved, domain.CardTransactionEvent{
		CardTransactionID: cardTx.ID,
		CardID:            cardTx.CardID,
		AccountID:         cardTx.AccountID,
		Amount:            cardTx.Amount,
		Merchant:          merchant,
		Timestamp:         s.now(),
	})

	return &domain.CardTransactionResult{Transaction: *cardTx, NewBalance: newBalance}, nil
}

func authorizeCard(card *domain.Card, req domain.CardTransactionRequest) error {
	if card.UserID != req.UserID {
		return domain.ErrCardNotOwned
	}
	if card.Status != domain.CardStatusActive {
		return domain.ErrCardInactive
	}
	if card.IsLocked {
		return domain.ErrCardLocked
	}
	if req.Amount > card.DailyLimit || card.DailySpent+req.Amount > card.DailyLimit {
		return domain.ErrDailyLimitExceeded
	}
	if card.MonthlyLimit > 0 && card.MonthlySpent+req.Amount > card.MonthlyLimit {
		return domain.ErrMonthlyLimitExceeds
	}
	return nil
}

func cardDescription(merchant string) string {
	if merchant == "" {
		return "Card purchase"
	}
	return "Card purchase at " + merchant
}
