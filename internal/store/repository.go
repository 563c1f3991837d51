/**
 * @description
 * This file defines the `Repository` interface, the contract between the ledger engines
 * and whatever holds accounts, cards, loans and transactions. Reads return copies the
 * caller may mutate freely; nothing reaches storage until it is handed back through
 * `SaveAll` as part of a `ChangeSet`.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: Entity identifiers.
 * - internal/domain: The service's domain models.
 *
 * @notes
 * - `SaveAll` is all-or-nothing. Versioned rows are written only when their stored
 *   version still equals the version on the entity; otherwise nothing in the change set
 *   is written and `ErrConflict` is returned.
 * - On success the Version of every saved entity is advanced in place.
 */

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound      = fmt.Errorf("account %w", domain.ErrNotFound)
	ErrDebitCardNotFound    = fmt.Errorf("debit card %w", domain.ErrNotFound)
	ErrLoanNotFound         = fmt.Errorf("loan %w", domain.ErrNotFound)
	ErrConflict             = domain.ErrConflict
	ErrDuplicateTransaction = fmt.Errorf("%w: transaction already recorded", domain.ErrConflict)
)

// Repository defines the set of methods the engines use to read and persist state.
type Repository interface {
	// Account methods
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetAccountByIBAN(ctx context.Context, iban string) (*domain.Account, error)
	GetAccountsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)

	// Debit card methods
	GetDebitCard(ctx context.Context, id uuid.UUID) (*domain.DebitCard, error)

	// Loan methods
	GetLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error)
	GetAllLoans(ctx context.Context) ([]domain.Loan, error)
	ListLoansByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Loan, error)

	// Transaction history, newest first
	ListTransactionsByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error)

	// SaveAll commits a change set atomically. The boolean reports whether anything was
	// written.
	SaveAll(ctx context.Context, changes ChangeSet) (bool, error)

	Ping(ctx context.Context) error
}

// ChangeSet is one unit of work. New* slices are inserted; the others are updated under
// their optimistic version.
type ChangeSet struct {
	Accounts        []*domain.Account
	NewTransactions []*domain.Transaction
	NewLoans        []*domain.Loan
	Loans           []*domain.Loan
	NewCards        []*domain.DebitCard
	Cards           []*domain.DebitCard
}

// IsEmpty reports whether the change set carries no writes.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Accounts) == 0 &&
		len(c.NewTransactions) == 0 &&
		len(c.NewLoans) == 0 &&
		len(c.Loans) == 0 &&
		len(c.NewCards) == 0 &&
		len(c.Cards) == 0
}

// bumpVersions advances the version stamp of every updated or inserted entity after a
// successful commit.
func (c ChangeSet) bumpVersions() {
	for _, a := range c.Accounts {
		a.Version++
	}
	for _, l := range c.Loans {
		l.Version++
	}
	for _, l := range c.NewLoans {
		l.Version = 1
	}
	for _, card := range c.Cards {
		card.Version++
	}
	for _, card := range c.NewCards {
		card.Version = 1
	}
}
