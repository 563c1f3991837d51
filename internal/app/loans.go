/**
 * @description
 * This file contains the loan engine. Loans are funded from, and repaid to, a single
 * lender account owned by the bank; that account is resolved once at startup and handed
 * to the service.
 *
 * @notes
 * - Disbursement and loan creation are one unit of work. The disbursement transaction id
 *   is generated before anything is written so the loan can reference it in the same
 *   commit.
 * - Payments above the remaining amount are rejected before any money moves.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/metrics"
	"github.com/transfa/ledger-service/internal/store"
)

const (
	LoanDisbursementDescription   = "Loan disbursement"
	DefaultLoanPaymentDescription = "Loan payment"
)

// LoanService creates loans and applies payments against them.
type LoanService struct {
	ledger          *Ledger
	repo            store.Repository
	lenderAccountID uuid.UUID
	logger          *slog.Logger
}

// NewLoanService creates a loan engine bound to a lender account.
func NewLoanService(ledger *Ledger, lenderAccountID uuid.UUID, logger *slog.Logger) *LoanService {
	return &LoanService{
		ledger:          ledger,
		repo:            ledger.repo,
		lenderAccountID: lenderAccountID,
		logger:          logger.With("component", "loans"),
	}
}

// LenderAccountID returns the account loans are funded from.
func (s *LoanService) LenderAccountID() uuid.UUID {
	return s.lenderAccountID
}

// RequestLoan disburses principal from the lender to the borrower and opens a loan.
func (s *LoanService) RequestLoan(ctx context.Context, borrowerAccountID uuid.UUID, principal decimal.Decimal) (loan *domain.Loan, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("request_loan", started, err) }()

	err = retryOnConflict(ctx, s.logger, "request_loan", func() error {
		loan, err = s.requestLoanOnce(ctx, borrowerAccountID, principal)
		return err
	})
	return loan, err
}

func (s *LoanService) requestLoanOnce(ctx context.Context, borrowerAccountID uuid.UUID, principal decimal.Decimal) (*domain.Loan, error) {
	principal, err := domain.NormalizeAmount(principal)
	if err != nil {
		return nil, err
	}

	borrower, err := s.repo.GetAccount(ctx, borrowerAccountID)
	if err != nil {
		return nil, lookupError("borrower account", err)
	}
	lender, err := s.lenderAccount(ctx)
	if err != nil {
		return nil, err
	}
	if lender.ID == borrower.ID {
		return nil, fmt.Errorf("%w: the lender account cannot borrow", domain.ErrInvalidArgument)
	}

	txID := uuid.New()
	tx, err := s.ledger.move(lender, borrower, principal, domain.TransactionTypeTransfer, LoanDisbursementDescription, txID)
	if err != nil {
		s.logger.Warn("lender cannot fund loan", "lender_account_id", lender.ID, "principal", principal.StringFixed(domain.MoneyPlaces))
		return nil, err
	}

	now := s.ledger.now()
	tier := domain.TierFor(principal)
	loan := &domain.Loan{
		ID:                   uuid.New(),
		Principal:            principal,
		RemainingAmount:      principal,
		InterestRate:         tier.InterestRate,
		TermInMonths:         tier.TermInMonths,
		BorrowerAccountID:    borrower.ID,
		LenderAccountID:      lender.ID,
		StartDate:            now,
		NextInterestUpdate:   now.AddDate(0, 1, 0),
		Status:               domain.LoanStatusActive,
		InitialTransactionID: &txID,
	}

	if err := s.ledger.commit(ctx, store.ChangeSet{
		Accounts:        []*domain.Account{lender, borrower},
		NewTransactions: []*domain.Transaction{tx},
		NewLoans:        []*domain.Loan{loan},
	}); err != nil {
		s.logger.Error("loan disbursement commit failed", "borrower_account_id", borrower.ID, "error", err)
		return nil, err
	}

	s.logger.Info("loan disbursed",
		"loan_id", loan.ID,
		"borrower_account_id", borrower.ID,
		"principal", principal.StringFixed(domain.MoneyPlaces),
		"interest_rate", tier.InterestRate.String(),
		"term_months", tier.TermInMonths,
	)
	s.ledger.events.emit(ctx, domain.EventTransactionCreated, domain.NewTransactionCreatedEvent(tx))
	s.ledger.events.emit(ctx, domain.EventLoanDisbursed, loanEvent(loan, principal, &txID, now))
	return loan, nil
}

// PayLoan moves amount from the sender account to the lender and reduces the loan.
func (s *LoanService) PayLoan(ctx context.Context, loanID uuid.UUID, senderAccountID uuid.UUID, amount decimal.Decimal, description string) (err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("pay_loan", started, err) }()

	return retryOnConflict(ctx, s.logger, "pay_loan", func() error {
		return s.payLoanOnce(ctx, loanID, senderAccountID, amount, description)
	})
}

func (s *LoanService) payLoanOnce(ctx context.Context, loanID uuid.UUID, senderAccountID uuid.UUID, amount decimal.Decimal, description string) error {
	amount, err := domain.NormalizeAmount(amount)
	if err != nil {
		return err
	}

	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return lookupError("loan", err)
	}
	if !loan.IsActive() {
		return fmt.Errorf("%w: loan %s is %s", domain.ErrInvalidState, loan.ID, loan.Status)
	}

	sender, err := s.repo.GetAccount(ctx, senderAccountID)
	if err != nil {
		return lookupError("sender account", err)
	}
	lender, err := s.repo.GetAccount(ctx, loan.LenderAccountID)
	if err != nil {
		return lookupError("loan lender account", err)
	}
	if sender.ID == lender.ID {
		return fmt.Errorf("%w: the lender account cannot repay its own loan", domain.ErrInvalidArgument)
	}

	// Validate against the loan before touching balances.
	if err := loan.ApplyPayment(amount); err != nil {
		return err
	}

	tx, err := s.ledger.move(sender, lender, amount, domain.TransactionTypePayment, withDefault(description, DefaultLoanPaymentDescription), uuid.New())
	if err != nil {
		return err
	}

	if err := s.ledger.commit(ctx, store.ChangeSet{
		Accounts:        []*domain.Account{sender, lender},
		NewTransactions: []*domain.Transaction{tx},
		Loans:           []*domain.Loan{loan},
	}); err != nil {
		s.logger.Error("loan payment commit failed", "loan_id", loan.ID, "sender_account_id", sender.ID, "error", err)
		return err
	}

	s.logger.Info("loan payment applied",
		"loan_id", loan.ID,
		"amount", amount.StringFixed(domain.MoneyPlaces),
		"remaining", loan.RemainingAmount.StringFixed(domain.MoneyPlaces),
		"status", loan.Status,
	)
	now := s.ledger.now()
	s.ledger.events.emit(ctx, domain.EventTransactionCreated, domain.NewTransactionCreatedEvent(tx))
	s.ledger.events.emit(ctx, domain.EventLoanPaymentReceived, loanEvent(loan, amount, &tx.ID, now))
	if loan.Status == domain.LoanStatusPaidOff {
		s.ledger.events.emit(ctx, domain.EventLoanPaidOff, loanEvent(loan, amount, &tx.ID, now))
	}
	return nil
}

// GetLoan returns a single loan.
func (s *LoanService) GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, lookupError("loan", err)
	}
	return loan, nil
}

// ListLoansByAccount returns the loans borrowed by an account.
func (s *LoanService) ListLoansByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Loan, error) {
	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, lookupError("account", err)
	}
	loans, err := s.repo.ListLoansByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list loans: %w", domain.ErrPersistence, err)
	}
	return loans, nil
}

// lenderAccount loads the configured lender. A missing lender is a configuration
// problem, not a customer error.
func (s *LoanService) lenderAccount(ctx context.Context) (*domain.Account, error) {
	if s.lenderAccountID == uuid.Nil {
		return nil, fmt.Errorf("%w: lender account is not configured", domain.ErrConfig)
	}
	lender, err := s.repo.GetAccount(ctx, s.lenderAccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: lender account %s: %w", domain.ErrConfig, s.lenderAccountID, err)
		}
		return nil, lookupError("lender account", err)
	}
	return lender, nil
}

func loanEvent(loan *domain.Loan, amount decimal.Decimal, txID *uuid.UUID, at time.Time) domain.LoanEvent {
	return domain.LoanEvent{
		LoanID:            loan.ID,
		BorrowerAccountID: loan.BorrowerAccountID,
		Status:            loan.Status,
		RemainingAmount:   loan.RemainingAmount,
		Amount:            amount,
		TransactionID:     txID,
		OccurredAt:        at,
	}
}
