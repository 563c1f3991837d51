package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

type loanFixture struct {
	*fixture
	lender   domain.Account
	borrower domain.Account
	loans    *LoanService
}

func newLoanFixture(t *testing.T, lenderBalance string) *loanFixture {
	t.Helper()
	f := newFixture(t)
	lender := f.account(t, "BG00BANK0001", lenderBalance)
	borrower := f.account(t, "BG00CUST0001", "0.00")
	return &loanFixture{
		fixture:  f,
		lender:   lender,
		borrower: borrower,
		loans:    NewLoanService(f.ledger, lender.ID, discardLogger()),
	}
}

func TestRequestLoanTiers(t *testing.T) {
	tests := []struct {
		principal string
		rate      string
		term      int
	}{
		{principal: "500", rate: "3.5", term: 12},
		{principal: "5000", rate: "5.0", term: 36},
		{principal: "50000", rate: "7.5", term: 60},
	}

	for _, tc := range tests {
		t.Run(tc.principal, func(t *testing.T) {
			f := newLoanFixture(t, "1000000.00")
			loan, err := f.loans.RequestLoan(context.Background(), f.borrower.ID, dec(tc.principal))
			if err != nil {
				t.Fatalf("request loan failed: %v", err)
			}
			if !loan.InterestRate.Equal(dec(tc.rate)) || loan.TermInMonths != tc.term {
				t.Fatalf("expected %s%%/%d months, got %s%%/%d", tc.rate, tc.term, loan.InterestRate, loan.TermInMonths)
			}
		})
	}
}

func TestRequestLoanDisbursesAtomically(t *testing.T) {
	f := newLoanFixture(t, "10000.00")

	loan, err := f.loans.RequestLoan(context.Background(), f.borrower.ID, dec("2500"))
	if err != nil {
		t.Fatalf("request loan failed: %v", err)
	}

	if loan.Status != domain.LoanStatusActive || !loan.RemainingAmount.Equal(dec("2500")) || !loan.Principal.Equal(dec("2500")) {
		t.Fatalf("unexpected loan: %+v", loan)
	}
	if loan.LenderAccountID != f.lender.ID || loan.BorrowerAccountID != f.borrower.ID {
		t.Fatalf("unexpected loan parties: %+v", loan)
	}
	if !loan.NextInterestUpdate.Equal(fixedNow.AddDate(0, 1, 0)) {
		t.Fatalf("expected next interest update one month out, got %s", loan.NextInterestUpdate)
	}
	if !f.balance(t, f.lender.ID).Equal(dec("7500.00")) || !f.balance(t, f.borrower.ID).Equal(dec("2500.00")) {
		t.Fatalf("unexpected balances after disbursement")
	}
	if f.counter.calls() != 1 {
		t.Fatalf("expected disbursement and loan creation in one commit, got %d", f.counter.calls())
	}

	if loan.InitialTransactionID == nil {
		t.Fatalf("expected the loan to reference its disbursement transaction")
	}
	txs, err := f.repo.ListTransactionsByAccount(context.Background(), f.borrower.ID)
	if err != nil || len(txs) != 1 {
		t.Fatalf("expected exactly one disbursement transaction, got %d (err=%v)", len(txs), err)
	}
	if txs[0].ID != *loan.InitialTransactionID || txs[0].Description != LoanDisbursementDescription || txs[0].Type != domain.TransactionTypeTransfer {
		t.Fatalf("unexpected disbursement transaction: %+v", txs[0])
	}

	stored, err := f.loans.GetLoan(context.Background(), loan.ID)
	if err != nil || stored.Version != 1 {
		t.Fatalf("expected persisted loan with version 1, got %+v (err=%v)", stored, err)
	}

	keys := f.publisher.routingKeys()
	if len(keys) != 2 || keys[1] != domain.EventLoanDisbursed {
		t.Fatalf("expected transaction and disbursement events, got %v", keys)
	}
}

func TestRequestLoanRejections(t *testing.T) {
	f := newLoanFixture(t, "100.00")

	if _, err := f.loans.RequestLoan(context.Background(), f.borrower.ID, dec("0")); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := f.loans.RequestLoan(context.Background(), uuid.New(), dec("10")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.loans.RequestLoan(context.Background(), f.lender.ID, dec("10")); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected lender self-loan to be rejected, got %v", err)
	}
	if _, err := f.loans.RequestLoan(context.Background(), f.borrower.ID, dec("100.01")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient lender funds, got %v", err)
	}
	if f.counter.calls() != 0 {
		t.Fatalf("expected no commits for rejected requests")
	}
}

func TestRequestLoanWithMissingLenderIsConfigError(t *testing.T) {
	f := newFixture(t)
	borrower := f.account(t, "BG00CUST0001", "0.00")

	for name, lenderID := range map[string]uuid.UUID{"unset": uuid.Nil, "deleted": uuid.New()} {
		t.Run(name, func(t *testing.T) {
			loans := NewLoanService(f.ledger, lenderID, discardLogger())
			_, err := loans.RequestLoan(context.Background(), borrower.ID, dec("10"))
			if !errors.Is(err, domain.ErrConfig) {
				t.Fatalf("expected config error, got %v", err)
			}
			if domain.IsBusinessRejection(err) {
				t.Fatalf("config errors must not be business rejections")
			}
		})
	}
}

func TestPayLoanPartialAndPayoff(t *testing.T) {
	f := newLoanFixture(t, "10000.00")
	loan, err := f.loans.RequestLoan(context.Background(), f.borrower.ID, dec("100.00"))
	if err != nil {
		t.Fatalf("request loan failed: %v", err)
	}

	if err := f.loans.PayLoan(context.Background(), loan.ID, f.borrower.ID, dec("40.00"), ""); err != nil {
		t.Fatalf("partial payment failed: %v", err)
	}
	partial, _ := f.loans.GetLoan(context.Background(), loan.ID)
	if !partial.RemainingAmount.Equal(dec("60.00")) || partial.Status != domain.LoanStatusActive {
		t.Fatalf("unexpected loan after partial payment: %+v", partial)
	}

	lenderBefore := f.balance(t, f.lender.ID)
	borrowerBefore := f.balance(t, f.borrower.ID)
	if err := f.loans.PayLoan(context.Background(), loan.ID, f.borrower.ID, dec("60.00"), "final"); err != nil {
		t.Fatalf("final payment failed: %v", err)
	}
	paid, _ := f.loans.GetLoan(context.Background(), loan.ID)
	if !paid.RemainingAmount.IsZero() || paid.Status != domain.LoanStatusPaidOff {
		t.Fatalf("expected paid off loan, got %+v", paid)
	}

	lenderAfter := f.balance(t, f.lender.ID)
	borrowerAfter := f.balance(t, f.borrower.ID)
	if !lenderAfter.Add(borrowerAfter).Equal(lenderBefore.Add(borrowerBefore)) {
		t.Fatalf("payment must conserve money")
	}
	if !borrowerAfter.Equal(borrowerBefore.Sub(dec("60.00"))) {
		t.Fatalf("expected borrower debited by 60.00, got %s -> %s", borrowerBefore, borrowerAfter)
	}

	txs, _ := f.repo.ListTransactionsByAccount(context.Background(), f.borrower.ID)
	if txs[0].Type != domain.TransactionTypePayment || txs[0].Description != "final" {
		t.Fatalf("unexpected payment transaction: %+v", txs[0])
	}
	if txs[1].Description != DefaultLoanPaymentDescription {
		t.Fatalf("expected default payment description, got %q", txs[1].Description)
	}

	keys := f.publisher.routingKeys()
	if keys[len(keys)-1] != domain.EventLoanPaidOff {
		t.Fatalf("expected loan.paid_off as the last event, got %v", keys)
	}

	if err := f.loans.PayLoan(context.Background(), loan.ID, f.borrower.ID, dec("1.00"), ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state for a paid off loan, got %v", err)
	}
}

func TestPayLoanRejectsOverpayment(t *testing.T) {
	f := newLoanFixture(t, "10000.00")
	loan, err := f.loans.RequestLoan(context.Background(), f.borrower.ID, dec("100.00"))
	if err != nil {
		t.Fatalf("request loan failed: %v", err)
	}
	commits := f.counter.calls()

	err = f.loans.PayLoan(context.Background(), loan.ID, f.borrower.ID, dec("150.00"), "")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected overpayment to be rejected, got %v", err)
	}
	stored, _ := f.loans.GetLoan(context.Background(), loan.ID)
	if !stored.RemainingAmount.Equal(dec("100.00")) || stored.Status != domain.LoanStatusActive {
		t.Fatalf("expected loan untouched, got %+v", stored)
	}
	if !f.balance(t, f.borrower.ID).Equal(dec("100.00")) || f.counter.calls() != commits {
		t.Fatalf("expected no money to move on a rejected overpayment")
	}
}

func TestPayLoanRejections(t *testing.T) {
	f := newLoanFixture(t, "10000.00")
	loan, err := f.loans.RequestLoan(context.Background(), f.borrower.ID, dec("500.00"))
	if err != nil {
		t.Fatalf("request loan failed: %v", err)
	}
	poor := f.account(t, "BG00POOR0001", "1.00")

	if err := f.loans.PayLoan(context.Background(), uuid.New(), f.borrower.ID, dec("1"), ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected loan not found, got %v", err)
	}
	if err := f.loans.PayLoan(context.Background(), loan.ID, uuid.New(), dec("1"), ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected sender not found, got %v", err)
	}
	if err := f.loans.PayLoan(context.Background(), loan.ID, poor.ID, dec("2"), ""); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := f.loans.PayLoan(context.Background(), loan.ID, f.borrower.ID, dec("-5"), ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	defaulted := domain.Loan{
		ID:                uuid.New(),
		RemainingAmount:   dec("10"),
		BorrowerAccountID: f.borrower.ID,
		LenderAccountID:   f.lender.ID,
		Status:            domain.LoanStatusDefaulted,
	}
	f.repo.SeedLoan(defaulted)
	if err := f.loans.PayLoan(context.Background(), defaulted.ID, f.borrower.ID, dec("1"), ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state for a defaulted loan, got %v", err)
	}
}

func TestPayLoanConflictsWithConcurrentAccrual(t *testing.T) {
	f := newLoanFixture(t, "10000.00")
	loan, err := f.loans.RequestLoan(context.Background(), f.borrower.ID, dec("1000.00"))
	if err != nil {
		t.Fatalf("request loan failed: %v", err)
	}

	// A payment that read the loan before an accrual commit must not overwrite it.
	stale, _ := f.repo.GetLoan(context.Background(), loan.ID)
	accrual := NewInterestAccrual(f.repo, domain.MinutesPerYear*time.Minute, nil, "", discardLogger())
	if _, err := accrual.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("accrual failed: %v", err)
	}

	if err := stale.ApplyPayment(dec("100")); err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	err = f.loans.ledger.commit(context.Background(), store.ChangeSet{Loans: []*domain.Loan{stale}})
	if !errors.Is(err, domain.ErrPersistence) || !domain.IsRetryable(err) {
		t.Fatalf("expected retryable persistence error, got %v", err)
	}

	current, _ := f.loans.GetLoan(context.Background(), loan.ID)
	if !current.RemainingAmount.Equal(dec("1035.00")) {
		t.Fatalf("expected accrued amount to survive, got %s", current.RemainingAmount)
	}
}

func TestListLoansByAccount(t *testing.T) {
	f := newLoanFixture(t, "10000.00")
	if _, err := f.loans.RequestLoan(context.Background(), f.borrower.ID, dec("100")); err != nil {
		t.Fatalf("request loan failed: %v", err)
	}
	if _, err := f.loans.RequestLoan(context.Background(), f.borrower.ID, dec("200")); err != nil {
		t.Fatalf("request loan failed: %v", err)
	}

	loans, err := f.loans.ListLoansByAccount(context.Background(), f.borrower.ID)
	if err != nil || len(loans) != 2 {
		t.Fatalf("expected two loans, got %d (err=%v)", len(loans), err)
	}
	if _, err := f.loans.ListLoansByAccount(context.Background(), uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
