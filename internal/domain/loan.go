/**
 * @description
 * Loan entity, its lifecycle and the two rules that move its remaining amount:
 * payments reduce it, interest accrual grows it.
 *
 * @notes
 * - Rate and term are fixed at creation from the principal tier table.
 * - InterestRate is an annual percentage (5.0 means 5% APR). Accrual converts it to a
 *   per-minute rate over a 365 day year.
 * - Defaulted is a valid status but nothing transitions a loan into it yet.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "active"
	LoanStatusPaidOff   LoanStatus = "paid_off"
	LoanStatusDefaulted LoanStatus = "defaulted"
)

// MinutesPerYear assumes a 365 day year with no leap adjustment.
const MinutesPerYear = 525600

// interestPrecision is the number of decimal places kept for unrounded interest.
const interestPrecision int32 = 16

var (
	secondsPerYear = decimal.NewFromInt(MinutesPerYear * 60)
	hundred        = decimal.NewFromInt(100)
)

// Loan is money lent by the bank's lender account to a borrower account.
type Loan struct {
	ID                   uuid.UUID       `json:"id"`
	Principal            decimal.Decimal `json:"principal"`
	RemainingAmount      decimal.Decimal `json:"remaining_amount"`
	InterestRate         decimal.Decimal `json:"interest_rate"`
	TermInMonths         int             `json:"term_in_months"`
	BorrowerAccountID    uuid.UUID       `json:"borrower_account_id"`
	LenderAccountID      uuid.UUID       `json:"lender_account_id"`
	StartDate            time.Time       `json:"start_date"`
	NextInterestUpdate   time.Time       `json:"next_interest_update"`
	Status               LoanStatus      `json:"status"`
	InitialTransactionID *uuid.UUID      `json:"initial_transaction_id,omitempty"`
	Version              int64           `json:"version"`
}

// LoanTier is the rate and term bracket a principal falls into.
type LoanTier struct {
	MaxPrincipal decimal.Decimal
	InterestRate decimal.Decimal
	TermInMonths int
}

var loanTiers = []LoanTier{
	{MaxPrincipal: decimal.NewFromInt(1_000), InterestRate: decimal.RequireFromString("3.5"), TermInMonths: 12},
	{MaxPrincipal: decimal.NewFromInt(10_000), InterestRate: decimal.RequireFromString("5.0"), TermInMonths: 36},
}

var topLoanTier = LoanTier{InterestRate: decimal.RequireFromString("7.5"), TermInMonths: 60}

// TierFor returns the tier for principal. Bounds are inclusive.
func TierFor(principal decimal.Decimal) LoanTier {
	for _, tier := range loanTiers {
		if principal.LessThanOrEqual(tier.MaxPrincipal) {
			return tier
		}
	}
	return topLoanTier
}

// IsActive reports whether the loan still accepts payments and accrues interest.
func (l *Loan) IsActive() bool {
	return l.Status == LoanStatusActive
}

// ApplyPayment reduces the remaining amount by amount and pays the loan off when it
// reaches zero. Payments larger than the remaining amount are rejected so the excess
// never leaves the borrower's account.
func (l *Loan) ApplyPayment(amount decimal.Decimal) error {
	if !l.IsActive() {
		return fmt.Errorf("%w: loan %s is %s", ErrInvalidState, l.ID, l.Status)
	}
	if amount.GreaterThan(l.RemainingAmount) {
		return fmt.Errorf("%w: payment %s exceeds remaining amount %s",
			ErrInvalidArgument, amount.StringFixed(MoneyPlaces), l.RemainingAmount.StringFixed(MoneyPlaces))
	}

	remaining := RoundMoney(l.RemainingAmount.Sub(amount))
	if !remaining.IsPositive() {
		remaining = decimal.Zero
		l.Status = LoanStatusPaidOff
	}
	l.RemainingAmount = remaining
	return nil
}

// InterestFor returns the unrounded simple interest owed on the remaining amount for
// interval. The numerator stays exact and is divided once, so any result with a
// finite decimal expansion (every exact half cent included) is represented exactly.
func (l *Loan) InterestFor(interval time.Duration) decimal.Decimal {
	seconds := decimal.NewFromInt(int64(interval / time.Second))
	return l.RemainingAmount.Mul(l.InterestRate).Mul(seconds).
		DivRound(hundred.Mul(secondsPerYear), interestPrecision)
}

// AccrueInterest grows the remaining amount by one interval of interest and reports
// whether the loan was eligible. Only active loans with something left to pay and a
// positive rate accrue.
func (l *Loan) AccrueInterest(interval time.Duration, now time.Time) bool {
	if !l.IsActive() || !l.RemainingAmount.IsPositive() || !l.InterestRate.IsPositive() {
		return false
	}

	l.RemainingAmount = RoundMoney(l.RemainingAmount.Add(l.InterestFor(interval)))
	l.NextInterestUpdate = now.Add(interval)
	return true
}
