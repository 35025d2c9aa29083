/**
 * @description
 * This file contains the core business logic for the banking-service. The `Service`
 * struct orchestrates all money movement: transfers, deposits, card purchases and
 * bulk imports, plus the account and card lifecycle around them.
 *
 * Key features:
 * - Every balance change and its ledger rows are written in one repository transaction.
 * - Failures are classified with domain error kinds so the API can map them to status codes.
 * - Events are published after commit on a best-effort basis.
 *
 * @dependencies
 * - github.com/google/uuid: For UUID generation.
 * - go.uber.org/zap: Structured logging.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"crypto/rand"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/banking-service/internal/domain"
	"github.com/transfa/banking-service/internal/store"
	"go.uber.org/zap"
)

// Publisher is satisfied by the RabbitMQ and Kafka producers.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// CardDefaults are applied to newly issued cards.
type CardDefaults struct {
	DailyLimit   int64 // in cents
	MonthlyLimit int64 // in cents, 0 means unlimited
}

// Options carries the static configuration the service needs.
type Options struct {
	Fees          domain.FeeSchedule
	RoutingNumber string
	Exchange      string
	CardDefaults  CardDefaults
}

// Service provides the core business logic for accounts and money movement.
type Service struct {
	repo          store.Repository
	events        eventEmitter
	fees          domain.FeeSchedule
	routingNumber string
	cardDefaults  CardDefaults
	logger        *zap.Logger
	now           func() time.Time
	random        io.Reader
}

// NewService creates a new banking service instance.
func NewService(repo store.Repository, publisher Publisher, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:          repo,
		events:        eventEmitter{publisher: publisher, exchange: opts.Exchange, logger: logger},
		fees:          opts.Fees,
		routingNumber: opts.RoutingNumber,
		cardDefaults:  opts.CardDefaults,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		random:        rand.Reader,
	}
}

// ResolveInternalUserID converts an identity provider subject into the internal
// user id. Accounts and cards are only ever keyed by that id.
func (s *Service) ResolveInternalUserID(ctx context.Context, externalID string) (uuid.UUID, error) {
	return s.repo.FindUserIDByExternalID(ctx, externalID)
}

type eventEmitter struct {
	publisher Publisher
	exchange  string
	logger    *zap.Logger
}

// emit publishes outside the caller's cancellation so a client disconnect after
// commit does not drop the event. Failures are logged only.
func (e eventEmitter) emit(ctx context.Context, routingKey string, event interface{}) {
	if e.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := e.publisher.Publish(pubCtx, e.exchange, routingKey, event); err != nil {
		e.logger.Warn("event publish failed",
			zap.String("routing_key", routingKey),
			zap.String("exchange", e.exchange),
			zap.Error(err),
		)
	}
}

func shortRef(prefix string, id uuid.UUID) string {
	return prefix + "-" + strings.ToUpper(id.String()[:8])
}
