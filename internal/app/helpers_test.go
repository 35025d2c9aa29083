package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store"
	"github.com/transfa/banking-service/internal/store/memstore"
	"go.uber.org/zap"
)

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *publisherStub) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

type fixture struct {
	svc       *Service
	mem       *memstore.Store
	publisher *publisherStub
	user      domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memstore.New()
	publisher := &publisherStub{}
	svc := NewService(mem, publisher, Options{
		Fees:          domain.DefaultFeeSchedule(),
		RoutingNumber: "021000021",
		Exchange:      "banking_events",
		CardDefaults:  CardDefaults{DailyLimit: 100000, MonthlyLimit: 500000},
	}, zap.NewNop())
	user := mem.AddUser(domain.User{ExternalID: "user_primary", Email: "a@x.com", FullName: "Ada Lovelace"})
	return &fixture{svc: svc, mem: mem, publisher: publisher, user: user}
}

func (f *fixture) account(number string, balance int64) domain.Account {
	return f.accountFor(f.user.ID, number, balance)
}

func (f *fixture) accountFor(userID uuid.UUID, number string, balance int64) domain.Account {
	return f.mem.AddAccount(domain.Account{
		UserID:        userID,
		AccountNumber: number,
		Type:          domain.CheckingAccount,
		Balance:       balance,
		Status:        domain.AccountStatusActive,
		RoutingNumber: "021000021",
	})
}

func (f *fixture) balance(t *testing.T, accountID uuid.UUID) int64 {
	t.Helper()
	account, err := f.mem.FindAccountByID(context.Background(), accountID)
	if err != nil {
		t.Fatalf("find account %s: %v", accountID, err)
	}
	return account.Balance
}

var errLedgerDown = errors.New("ledger unavailable")

// failingLedgerRepo lets balance updates through but fails every ledger insert,
// so tests can observe that the balance change is rolled back with it.
type failingLedgerRepo struct {
	store.Repository
}

func (r *failingLedgerRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Repository.WithinTx(ctx, func(tx store.Tx) error {
		return fn(&failingLedgerTx{Tx: tx})
	})
}

type failingLedgerTx struct {
	store.Tx
}

func (t *failingLedgerTx) InsertTransactions(ctx context.Context, txs ...*domain.Transaction) error {
	return errLedgerDown
}
