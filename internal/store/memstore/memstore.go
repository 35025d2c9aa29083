// Package memstore is an in-memory implementation of store.Repository used for
// local runs without PostgreSQL and by tests.
//
// WithinTx holds the store lock for the duration of the callback and works on a
// copy of the state, which replaces the live state only when the callback
// succeeds. Transactions are therefore serialized and all-or-nothing.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store"
)

type state struct {
	users            map[uuid.UUID]domain.User
	accounts         map[uuid.UUID]domain.Account
	cards            map[uuid.UUID]domain.Card
	transactions     []domain.Transaction
	cardTransactions []domain.CardTransaction
}

func newState() *state {
	return &state{
		users:    make(map[uuid.UUID]domain.User),
		accounts: make(map[uuid.UUID]domain.Account),
		cards:    make(map[uuid.UUID]domain.Card),
	}
}

func (s *state) clone() *state {
	out := &state{
		users:            make(map[uuid.UUID]domain.User, len(s.users)),
		accounts:         make(map[uuid.UUID]domain.Account, len(s.accounts)),
		cards:            make(map[uuid.UUID]domain.Card, len(s.cards)),
		transactions:     append([]domain.Transaction(nil), s.transactions...),
		cardTransactions: append([]domain.CardTransaction(nil), s.cardTransactions...),
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.cards {
		out.cards[k] = v
	}
	return out
}

// Store is a mutex-guarded in-memory repository.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// AddUser seeds a user, assigning an id when none is set.
func (s *Store) AddUser(user domain.User) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.state.users[user.ID] = user
	return user
}

// AddAccount seeds an account, assigning an id when none is set.
func (s *Store) AddAccount(account domain.Account) domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = s.now()
		account.UpdatedAt = account.CreatedAt
	}
	s.state.accounts[account.ID] = account
	return account
}

// AddCard seeds a card, assigning an id when none is set.
func (s *Store) AddCard(card domain.Card) domain.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = s.now()
		card.UpdatedAt = card.CreatedAt
	}
	s.state.cards[card.ID] = card
	return card
}

// Transactions returns a copy of every ledger row in insertion order.
func (s *Store) Transactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Transaction(nil), s.state.transactions...)
}

// CardTransactions returns a copy of every card-level row in insertion order.
func (s *Store) CardTransactions() []domain.CardTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CardTransaction(nil), s.state.cardTransactions...)
}

func (s *Store) FindUserIDByExternalID(ctx context.Context, externalID string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.state.users {
		if user.ExternalID == externalID {
			return user.ID, nil
		}
	}
	return uuid.Nil, domain.ErrUserNotFound
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.TrimSpace(email)
	for _, user := range s.state.users {
		if strings.EqualFold(user.Email, email) {
			u := user
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.users {
		if existing.ExternalID == user.ExternalID || strings.EqualFold(existing.Email, user.Email) {
			return domain.Validation("user is already enrolled")
		}
	}
	user.CreatedAt = s.now()
	s.state.users[user.ID] = *user
	return nil
}

func (s *Store) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.state.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

func (s *Store) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accountNumber = strings.TrimSpace(accountNumber)
	for _, account := range s.state.accounts {
		if account.AccountNumber == accountNumber {
			a := account
			return &a, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (s *Store) ListAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var accounts []domain.Account
	for _, account := range s.state.accounts {
		if account.UserID == userID {
			accounts = append(accounts, account)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.accounts {
		if existing.AccountNumber == account.AccountNumber {
			return store.ErrDuplicateAccountNumber
		}
	}
	account.CreatedAt = s.now()
	account.UpdatedAt = account.CreatedAt
	s.state.accounts[account.ID] = *account
	return nil
}

func (s *Store) UpdateAccountStatus(ctx context.Context, accountID uuid.UUID, status string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.state.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	account.Status = status
	account.UpdatedAt = s.now()
	s.state.accounts[accountID] = account
	return &account, nil
}

func (s *Store) ListTransactionsByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > store.MaxTransactionPage {
		limit = store.MaxTransactionPage
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Transaction
	for i := len(s.state.transactions) - 1; i >= 0; i-- {
		if s.state.transactions[i].AccountID == accountID {
			matched = append(matched, s.state.transactions[i])
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (s *Store) FindTransactionsByTransferID(ctx context.Context, transferID uuid.UUID) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transferRows(s.state, transferID), nil
}

func (s *Store) FindCardByID(ctx context.Context, cardID uuid.UUID) (*domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.state.cards[cardID]
	if !ok {
		return nil, domain.ErrCardNotFound
	}
	return &card, nil
}

func (s *Store) ListCardsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cards []domain.Card
	for _, card := range s.state.cards {
		if card.UserID == userID {
			cards = append(cards, card)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].CreatedAt.After(cards[j].CreatedAt) })
	return cards, nil
}

func (s *Store) CreateCard(ctx context.Context, card *domain.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card.CreatedAt = s.now()
	card.UpdatedAt = card.CreatedAt
	s.state.cards[card.ID] = *card
	return nil
}

func (s *Store) SetCardLocked(ctx context.Context, cardID uuid.UUID, locked bool) (*domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.state.cards[cardID]
	if !ok {
		return nil, domain.ErrCardNotFound
	}
	card.IsLocked = locked
	card.UpdatedAt = s.now()
	s.state.cards[cardID] = card
	return &card, nil
}

func (s *Store) ListCardTransactions(ctx context.Context, cardID uuid.UUID) ([]domain.CardTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []domain.CardTransaction
	for i := len(s.state.cardTransactions) - 1; i >= 0; i-- {
		if s.state.cardTransactions[i].CardID == cardID {
			items = append(items, s.state.cardTransactions[i])
		}
	}
	return items, nil
}

func (s *Store) ResetCardDailySpend(ctx context.Context) (int64, error) {
	return s.resetSpend(func(c *domain.Card) *int64 { return &c.DailySpent })
}

func (s *Store) ResetCardMonthlySpend(ctx context.Context) (int64, error) {
	return s.resetSpend(func(c *domain.Card) *int64 { return &c.MonthlySpent })
}

func (s *Store) resetSpend(counter func(*domain.Card) *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, card := range s.state.cards {
		spent := counter(&card)
		if *spent == 0 {
			continue
		}
		*spent = 0
		card.UpdatedAt = s.now()
		s.state.cards[id] = card
		n++
	}
	return n, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{state: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func transferRows(st *state, transferID uuid.UUID) []domain.Transaction {
	var rows []domain.Transaction
	for _, tx := range st.transactions {
		if tx.TransferID != nil && *tx.TransferID == transferID {
			rows = append(rows, tx)
		}
	}
	return rows
}

type memTx struct {
	state *state
	now   func() time.Time
}

func (t *memTx) LockAccounts(ctx context.Context, accountIDs ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	locked := make(map[uuid.UUID]*domain.Account, len(accountIDs))
	for _, id := range accountIDs {
		account, ok := t.state.accounts[id]
		if !ok {
			return nil, domain.ErrAccountNotFound
		}
		locked[id] = &account
	}
	return locked, nil
}

func (t *memTx) AdjustBalance(ctx context.Context, accountID uuid.UUID, delta int64) (int64, error) {
	account, ok := t.state.accounts[accountID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	if account.Balance+delta < 0 {
		return 0, domain.ErrInsufficientFunds
	}
	account.Balance += delta
	account.UpdatedAt = t.now()
	t.state.accounts[accountID] = account
	return account.Balance, nil
}

func (t *memTx) InsertTransactions(ctx context.Context, txs ...*domain.Transaction) error {
	for _, tx := range txs {
		if _, ok := t.state.accounts[tx.AccountID]; !ok {
			return domain.ErrAccountNotFound
		}
		tx.CreatedAt = t.now()
		t.state.transactions = append(t.state.transactions, *tx)
	}
	return nil
}

func (t *memTx) LockCard(ctx context.Context, cardID uuid.UUID) (*domain.Card, error) {
	card, ok := t.state.cards[cardID]
	if !ok {
		return nil, domain.ErrCardNotFound
	}
	return &card, nil
}

func (t *memTx) InsertCardTransaction(ctx context.Context, ct *domain.CardTransaction) error {
	ct.CreatedAt = t.now()
	t.state.cardTransactions = append(t.state.cardTransactions, *ct)
	return nil
}

func (t *memTx) AddCardSpend(ctx context.Context, cardID uuid.UUID, amount int64) error {
	card, ok := t.state.cards[cardID]
	if !ok {
		return domain.ErrCardNotFound
	}
	card.DailySpent += amount
	card.MonthlySpent += amount
	card.UpdatedAt = t.now()
	t.state.cards[cardID] = card
	return nil
}

func (t *memTx) LockTransfer(ctx context.Context, transferID uuid.UUID) ([]domain.Transaction, error) {
	rows := transferRows(t.state, transferID)
	if len(rows) == 0 {
		return nil, domain.ErrTransferNotFound
	}
	return rows, nil
}

func (t *memTx) UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, fromStatus, toStatus string) (int64, error) {
	var n int64
	for i := range t.state.transactions {
		tx := &t.state.transactions[i]
		if tx.TransferID != nil && *tx.TransferID == transferID && tx.Status == fromStatus {
			tx.Status = toStatus
			n++
		}
	}
	return n, nil
}
