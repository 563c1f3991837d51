/**
 * @description
 * Core ledger entities: bank accounts and the append-only transaction records that
 * explain every balance they hold.
 *
 * @notes
 * - Balances are fixed-point decimals kept at two places; the non-negative rule is
 *   enforced by the ledger before a mutation, not by the store.
 * - Version is an optimistic concurrency stamp. The store only writes an account when
 *   the version it was read with is still current.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a customer or system owned bank account.
type Account struct {
	ID            uuid.UUID       `json:"id"`
	IBAN          string          `json:"iban"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	UserID        uuid.UUID       `json:"user_id"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
}

// CanCover reports whether the balance covers amount without going negative.
func (a *Account) CanCover(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypePayment    TransactionType = "payment"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer, TransactionTypePayment:
		return true
	}
	return false
}

// Transaction is an immutable ledger entry. Deposits have no source account and
// withdrawals have no destination account.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	Type          TransactionType `json:"type"`
	FromAccountID *uuid.UUID      `json:"from_account_id,omitempty"`
	ToAccountID   *uuid.UUID      `json:"to_account_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Involves reports whether the transaction moved money into or out of accountID.
func (t *Transaction) Involves(accountID uuid.UUID) bool {
	return (t.FromAccountID != nil && *t.FromAccountID == accountID) ||
		(t.ToAccountID != nil && *t.ToAccountID == accountID)
}
