package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys for events published after a ledger change commits.
const (
	EventTransactionCreated  = "transaction.created"
	EventLoanDisbursed       = "loan.disbursed"
	EventLoanPaymentReceived = "loan.payment.received"
	EventLoanPaidOff         = "loan.paid_off"
	EventLoanInterestAccrued = "loan.interest.accrued"
)

// TransactionCreatedEvent mirrors a freshly committed ledger entry.
type TransactionCreatedEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	FromAccountID *uuid.UUID      `json:"from_account_id,omitempty"`
	ToAccountID   *uuid.UUID      `json:"to_account_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LoanEvent describes a change to a single loan.
type LoanEvent struct {
	LoanID            uuid.UUID       `json:"loan_id"`
	BorrowerAccountID uuid.UUID       `json:"borrower_account_id"`
	Status            LoanStatus      `json:"status"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
	Amount            decimal.Decimal `json:"amount,omitempty"`
	TransactionID     *uuid.UUID      `json:"transaction_id,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

// InterestAccruedEvent summarizes one accrual tick.
type InterestAccruedEvent struct {
	LoansUpdated int       `json:"loans_updated"`
	Interval     string    `json:"interval"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewTransactionCreatedEvent builds the event payload for tx.
func NewTransactionCreatedEvent(tx *Transaction) TransactionCreatedEvent {
	return TransactionCreatedEvent{
		TransactionID: tx.ID,
		Type:          tx.Type,
		Amount:        tx.Amount,
		FromAccountID: tx.FromAccountID,
		ToAccountID:   tx.ToAccountID,
		CreatedAt:     tx.CreatedAt,
	}
}
