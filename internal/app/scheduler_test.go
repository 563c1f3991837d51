package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

type tickLockStub struct {
	mu      sync.Mutex
	acquire bool
	err     error
	names   []string
	lastTTL time.Duration
}

func (s *tickLockStub) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.lastTTL = ttl
	return s.acquire, s.err
}

func newSchedulerFixture(t *testing.T, lock TickLock) (*Scheduler, *store.MemoryRepository, domain.Loan) {
	t.Helper()
	repo := store.NewMemoryRepository()
	loan := seedLoan(repo, "1000000.00", "7.5", domain.LoanStatusActive)
	accrual := newTestAccrual(repo, time.Minute, nil)
	return NewScheduler(accrual, lock, discardLogger()), repo, loan
}

func remaining(t *testing.T, repo *store.MemoryRepository, loan domain.Loan) string {
	t.Helper()
	got, err := repo.GetLoan(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("load loan: %v", err)
	}
	return got.RemainingAmount.StringFixed(domain.MoneyPlaces)
}

func TestSchedulerTickRunsWhenLeaseAcquired(t *testing.T) {
	lock := &tickLockStub{acquire: true}
	scheduler, repo, loan := newSchedulerFixture(t, lock)

	scheduler.runTick()

	if got := remaining(t, repo, loan); got != "1000000.14" {
		t.Fatalf("expected one tick of interest, got %s", got)
	}
	if len(lock.names) != 1 || lock.lastTTL != 2*time.Minute {
		t.Fatalf("expected one lease request with a two interval ttl, got %v ttl=%s", lock.names, lock.lastTTL)
	}
}

func TestSchedulerTickSkipsWithoutLease(t *testing.T) {
	for name, lock := range map[string]*tickLockStub{
		"held elsewhere": {acquire: false},
		"lock error":     {err: errors.New("redis: connection refused")},
	} {
		t.Run(name, func(t *testing.T) {
			scheduler, repo, loan := newSchedulerFixture(t, lock)
			scheduler.runTick()
			if got := remaining(t, repo, loan); got != "1000000.00" {
				t.Fatalf("expected no accrual, got %s", got)
			}
		})
	}
}

func TestSchedulerWithoutLockAlwaysRuns(t *testing.T) {
	scheduler, repo, loan := newSchedulerFixture(t, nil)

	scheduler.runTick()
	scheduler.runTick()

	if got := remaining(t, repo, loan); got != "1000000.28" {
		t.Fatalf("expected two ticks of interest, got %s", got)
	}
}

func TestSchedulerTickSwallowsAccrualErrors(t *testing.T) {
	accrual := newTestAccrual(failingLoansRepo{}, time.Minute, nil)
	scheduler := NewScheduler(accrual, nil, discardLogger())

	// Must not panic or propagate.
	scheduler.runTick()
}

func TestSchedulerStopCancelsJobContext(t *testing.T) {
	scheduler, repo, loan := newSchedulerFixture(t, nil)
	scheduler.Start()

	select {
	case <-scheduler.Stop().Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if scheduler.ctx.Err() == nil {
		t.Fatalf("expected job context to be cancelled after stop")
	}

	// Only the startup run accrued; ticks after shutdown are ignored.
	scheduler.runTick()
	if got := remaining(t, repo, loan); got != "1000000.14" {
		t.Fatalf("expected only the startup accrual after stop, got %s", got)
	}
}

func TestSchedulerStartAccruesImmediately(t *testing.T) {
	lock := &tickLockStub{acquire: true}
	scheduler, repo, loan := newSchedulerFixture(t, lock)
	scheduler.Start()
	// The first cron tick is a full minute away, so only the startup run can accrue here.
	deadline := time.After(5 * time.Second)
	for remaining(t, repo, loan) != "1000000.14" {
		select {
		case <-deadline:
			t.Fatalf("expected accrual right after start, got %s", remaining(t, repo, loan))
		case <-time.After(10 * time.Millisecond):
		}
	}

	select {
	case <-scheduler.Stop().Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	lock.mu.Lock()
	defer lock.mu.Unlock()
	if len(lock.names) != 1 {
		t.Fatalf("expected one lease request for the startup run, got %v", lock.names)
	}
}
