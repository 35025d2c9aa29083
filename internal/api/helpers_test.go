package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/app"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store/memstore"
	"go.uber.org/zap"
)

const (
	testSubjectHeader = "X-Test-Subject"
	testRoleHeader    = "X-Test-Role"
	testInternalKey   = "internal-secret"
)

// headerAuth stands in for the bearer token middleware: the caller's identity is
// taken from test headers.
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := r.Header.Get(testSubjectHeader)
		if subject == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		ctx := ContextWithIdentity(r.Context(), Identity{Subject: subject, Role: r.Header.Get(testRoleHeader)})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type limiterStub struct {
	mu    sync.Mutex
	count int
	err   error
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, 0, l.err
	}
	l.count++
	return l.count, 42, nil
}

type idempotencyEntry struct {
	done        bool
	fingerprint string
	response    app.StoredResponse
}

// memoryIdempotencyStore mirrors the Redis store's reserve/complete/release states.
type memoryIdempotencyStore struct {
	mu       sync.Mutex
	entries     map[string]*idempotencyEntry
	beginErr    error
	completeErr error
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{entries: make(map[string]*idempotencyEntry)}
}

func (s *memoryIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string) (*app.StoredResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beginErr != nil {
		return nil, false, s.beginErr
	}
	entry, ok := s.entries[scope+"|"+key]
	if !ok {
		s.entries[scope+"|"+key] = &idempotencyEntry{fingerprint: fingerprint}
		return nil, true, nil
	}
	if entry.fingerprint != "" && fingerprint != "" && entry.fingerprint != fingerprint {
		return nil, false, app.ErrIdempotencyKeyReused
	}
	if entry.done {
		resp := entry.response
		return &resp, false, nil
	}
	return nil, false, nil
}

func (s *memoryIdempotencyStore) Complete(ctx context.Context, scope, key, fingerprint string, resp app.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	s.entries[scope+"|"+key] = &idempotencyEntry{done: true, fingerprint: fingerprint, response: resp}
	return nil
}

func (s *memoryIdempotencyStore) Release(ctx context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, scope+"|"+key)
	return nil
}

func (s *memoryIdempotencyStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type testServer struct {
	handler http.Handler
	mem     *memstore.Store
	user    domain.User
	limiter *limiterStub
	idem    *memoryIdempotencyStore
}

type serverOptions struct {
	rateLimit int
	limiter   *limiterStub
	idem      *memoryIdempotencyStore
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	mem := memstore.New()
	svc := app.NewService(mem, nil, app.Options{
		Fees:          domain.DefaultFeeSchedule(),
		RoutingNumber: "021000021",
		Exchange:      "banking_events",
		CardDefaults:  app.CardDefaults{DailyLimit: 100000, MonthlyLimit: 500000},
	}, zap.NewNop())
	user := mem.AddUser(domain.User{ExternalID: "user_primary", Email: "a@x.com", FullName: "Ada Lovelace"})

	var limiter RateLimiter
	if opts.limiter != nil {
		limiter = opts.limiter
	}
	var idem IdempotencyStore
	if opts.idem != nil {
		idem = opts.idem
	}
	router := NewRouter(NewHandlers(svc, zap.NewNop()), RouterConfig{
		AdminRole:         "admin",
		InternalAPIKey:    testInternalKey,
		RequestTimeout:    5 * time.Second,
		TransferRateLimit: opts.rateLimit,
	}, headerAuth, limiter, idem, zap.NewNop())

	return &testServer{handler: router, mem: mem, user: user, limiter: opts.limiter, idem: opts.idem}
}

func (s *testServer) account(number string, balance int64) domain.Account {
	return s.accountFor(s.user.ID, number, balance)
}

func (s *testServer) accountFor(userID uuid.UUID, number string, balance int64) domain.Account {
	return s.mem.AddAccount(domain.Account{
		UserID:        userID,
		AccountNumber: number,
		Type:          domain.CheckingAccount,
		Balance:       balance,
		Status:        domain.AccountStatusActive,
		RoutingNumber: "021000021",
	})
}

func (s *testServer) balance(t *testing.T, accountID uuid.UUID) int64 {
	t.Helper()
	account, err := s.mem.FindAccountByID(context.Background(), accountID)
	if err != nil {
		t.Fatalf("find account %s: %v", accountID, err)
	}
	return account.Balance
}

type request struct {
	method  string
	path    string
	body    interface{}
	subject string
	role    string
	headers map[string]string
}

func (s *testServer) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	switch b := req.body.(type) {
	case nil:
	case string:
		body.WriteString(b)
	default:
		if err := json.NewEncoder(&body).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(req.method, req.path, &body)
	r.Header.Set("Content-Type", "application/json")
	if req.subject != "" {
		r.Header.Set(testSubjectHeader, req.subject)
	}
	if req.role != "" {
		r.Header.Set(testRoleHeader, req.role)
	}
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, r)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}
