/**
 * @description
 * Interest accrual: one pass over every loan, growing the remaining amount of each
 * active loan by one interval of simple interest and persisting the changed loans as a
 * single batch.
 *
 * @notes
 * - All loans are loaded and filtered in-process. That is fine at demo scale; a large
 *   book would need a status-indexed, paged query.
 * - A batch that hits a version conflict (for example a payment committed mid-pass) is
 *   dropped whole and recomputed from fresh reads, up to maxCommitAttempts times.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/metrics"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

// DefaultAccrualInterval is used when no interval is configured.
const DefaultAccrualInterval = time.Minute

// InterestAccrual applies interest to all active loans.
type InterestAccrual struct {
	repo     store.Repository
	interval time.Duration
	events   *eventEmitter
	logger   *slog.Logger
	now      func() time.Time
}

// NewInterestAccrual creates an accrual job for the given tick interval.
func NewInterestAccrual(repo store.Repository, interval time.Duration, publisher rabbitmq.Publisher, exchange string, logger *slog.Logger) *InterestAccrual {
	if interval <= 0 {
		interval = DefaultAccrualInterval
	}
	logger = logger.With("component", "interest_accrual")
	return &InterestAccrual{
		repo:     repo,
		interval: interval,
		events:   newEventEmitter(publisher, exchange, logger),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Interval returns the tick interval interest is computed for.
func (a *InterestAccrual) Interval() time.Duration {
	return a.interval
}

// ProcessOnce runs a single accrual pass and returns how many loans were updated.
func (a *InterestAccrual) ProcessOnce(ctx context.Context) (updated int, err error) {
	err = retryOnConflict(ctx, a.logger, "accrue_interest", func() error {
		updated, err = a.processOnce(ctx)
		return err
	})
	return updated, err
}

func (a *InterestAccrual) processOnce(ctx context.Context) (int, error) {
	loans, err := a.repo.GetAllLoans(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: load loans: %w", domain.ErrPersistence, err)
	}

	now := a.now()
	changed := make([]*domain.Loan, 0, len(loans))
	for i := range loans {
		if loans[i].AccrueInterest(a.interval, now) {
			changed = append(changed, &loans[i])
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}

	ok, err := a.repo.SaveAll(ctx, store.ChangeSet{Loans: changed})
	if err != nil {
		return 0, fmt.Errorf("%w: save accrued loans: %w", domain.ErrPersistence, err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: accrued loans were not written", domain.ErrPersistence)
	}

	metrics.AccrualLoansUpdated.Add(float64(len(changed)))
	a.events.emit(ctx, domain.EventLoanInterestAccrued, domain.InterestAccruedEvent{
		LoansUpdated: len(changed),
		Interval:     a.interval.String(),
		OccurredAt:   now,
	})
	return len(changed), nil
}
