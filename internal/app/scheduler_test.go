package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transfa/banking-service/internal/domain"
	"go.uber.org/zap"
)

type spendResetterStub struct {
	daily, monthly int
	err            error
}

func (s *spendResetterStub) ResetCardDailySpend(ctx context.Context) (int64, error) {
	s.daily++
	return 3, s.err
}

func (s *spendResetterStub) ResetCardMonthlySpend(ctx context.Context) (int64, error) {
	s.monthly++
	return 3, s.err
}

func TestJobsResetCardSpend(t *testing.T) {
	f := newFixture(t)
	account := f.account("1000000001", 0)
	card := f.card(account, func(c *domain.Card) {
		c.DailySpent = 1200
		c.MonthlySpent = 9000
	})
	jobs := NewJobs(f.mem, zap.NewNop())

	jobs.ResetDailyCardSpend()
	stored, _ := f.mem.FindCardByID(context.Background(), card.ID)
	if stored.DailySpent != 0 || stored.MonthlySpent != 9000 {
		t.Fatalf("expected only daily spend reset, got %d/%d", stored.DailySpent, stored.MonthlySpent)
	}

	jobs.ResetMonthlyCardSpend()
	stored, _ = f.mem.FindCardByID(context.Background(), card.ID)
	if stored.MonthlySpent != 0 {
		t.Fatalf("expected monthly spend reset, got %d", stored.MonthlySpent)
	}
}

func TestJobsLogAndSwallowStoreErrors(t *testing.T) {
	stub := &spendResetterStub{err: errors.New("db down")}
	jobs := NewJobs(stub, zap.NewNop())

	jobs.ResetDailyCardSpend()
	jobs.ResetMonthlyCardSpend()
	if stub.daily != 1 || stub.monthly != 1 {
		t.Fatalf("expected one call each, got %d/%d", stub.daily, stub.monthly)
	}
}

func TestSchedulerStart(t *testing.T) {
	jobs := NewJobs(&spendResetterStub{}, zap.NewNop())

	scheduler := NewScheduler(jobs, zap.NewNop(), Schedules{DailyReset: "0 0 * * *", MonthlyReset: "0 0 1 * *"})
	if err := scheduler.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitStopped(t, scheduler)

	partial := NewScheduler(jobs, zap.NewNop(), Schedules{DailyReset: "not a schedule", MonthlyReset: "0 0 1 * *"})
	if err := partial.Start(); err != nil {
		t.Fatalf("expected one valid job to be enough, got %v", err)
	}
	waitStopped(t, partial)

	none := NewScheduler(jobs, zap.NewNop(), Schedules{DailyReset: "bad", MonthlyReset: "also bad"})
	if err := none.Start(); !errors.Is(err, errNoJobsScheduled) {
		t.Fatalf("expected errNoJobsScheduled, got %v", err)
	}
	waitStopped(t, none)
}

func waitStopped(t *testing.T, s *Scheduler) {
	t.Helper()
	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
