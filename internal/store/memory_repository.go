/**
 * @description
 * In-process implementation of the `Repository` interface. It backs local runs
 * (STORE_DRIVER=memory) and the engine tests, and follows the same optimistic version
 * rules as the PostgreSQL implementation.
 *
 * @notes
 * - Every read hands out a copy; stored entities are only replaced inside `SaveAll`.
 * - `SaveAll` validates the whole change set before applying any of it.
 */

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

// MemoryRepository keeps all state in maps guarded by a single mutex.
type MemoryRepository struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]domain.Account
	cards        map[uuid.UUID]domain.DebitCard
	loans        map[uuid.UUID]domain.Loan
	transactions map[uuid.UUID]domain.Transaction
	txOrder      []uuid.UUID
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:     make(map[uuid.UUID]domain.Account),
		cards:        make(map[uuid.UUID]domain.DebitCard),
		loans:        make(map[uuid.UUID]domain.Loan),
		transactions: make(map[uuid.UUID]domain.Transaction),
	}
}

// SeedAccount stores an account as-is. Intended for bootstrapping and tests.
func (r *MemoryRepository) SeedAccount(account domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.ID] = account
}

// SeedDebitCard stores a card as-is.
func (r *MemoryRepository) SeedDebitCard(card domain.DebitCard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cards[card.ID] = card
}

// SeedLoan stores a loan as-is.
func (r *MemoryRepository) SeedLoan(loan domain.Loan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loans[loan.ID] = loan
}

// TransactionCount returns the number of recorded ledger entries.
func (r *MemoryRepository) TransactionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transactions)
}

func (r *MemoryRepository) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok || account.DeletedAt != nil {
		return nil, ErrAccountNotFound
	}
	return &account, nil
}

func (r *MemoryRepository) GetAccountByIBAN(ctx context.Context, iban string) (*domain.Account, error) {
	iban = strings.TrimSpace(iban)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, account := range r.accounts {
		if account.IBAN == iban && account.DeletedAt == nil {
			found := account
			return &found, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (r *MemoryRepository) GetAccountsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	accounts := make([]domain.Account, 0)
	for _, account := range r.accounts {
		if account.UserID == userID && account.DeletedAt == nil {
			accounts = append(accounts, account)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

func (r *MemoryRepository) GetDebitCard(ctx context.Context, id uuid.UUID) (*domain.DebitCard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[id]
	if !ok {
		return nil, ErrDebitCardNotFound
	}
	return &card, nil
}

func (r *MemoryRepository) GetLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loan, ok := r.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	return &loan, nil
}

func (r *MemoryRepository) GetAllLoans(ctx context.Context) ([]domain.Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loans := make([]domain.Loan, 0, len(r.loans))
	for _, loan := range r.loans {
		loans = append(loans, loan)
	}
	sortLoans(loans)
	return loans, nil
}

func (r *MemoryRepository) ListLoansByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Loan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loans := make([]domain.Loan, 0)
	for _, loan := range r.loans {
		if loan.BorrowerAccountID == accountID {
			loans = append(loans, loan)
		}
	}
	sortLoans(loans)
	return loans, nil
}

func (r *MemoryRepository) ListTransactionsByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	txs := make([]domain.Transaction, 0)
	for i := len(r.txOrder) - 1; i >= 0; i-- {
		tx := r.transactions[r.txOrder[i]]
		if tx.Involves(accountID) {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (r *MemoryRepository) SaveAll(ctx context.Context, changes ChangeSet) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if changes.IsEmpty() {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validate(changes); err != nil {
		return false, err
	}

	for _, account := range changes.Accounts {
		stored := *account
		stored.Version++
		r.accounts[account.ID] = stored
	}
	for _, loan := range changes.NewLoans {
		stored := *loan
		stored.Version = 1
		r.loans[loan.ID] = stored
	}
	for _, loan := range changes.Loans {
		stored := *loan
		stored.Version++
		r.loans[loan.ID] = stored
	}
	for _, card := range changes.NewCards {
		stored := *card
		stored.Version = 1
		r.cards[card.ID] = stored
	}
	for _, card := range changes.Cards {
		stored := *card
		stored.Version++
		r.cards[card.ID] = stored
	}
	for _, tx := range changes.NewTransactions {
		r.transactions[tx.ID] = *tx
		r.txOrder = append(r.txOrder, tx.ID)
	}

	changes.bumpVersions()
	return true, nil
}

func (r *MemoryRepository) validate(changes ChangeSet) error {
	for _, account := range changes.Accounts {
		stored, ok := r.accounts[account.ID]
		if !ok || stored.DeletedAt != nil {
			return ErrAccountNotFound
		}
		if stored.Version != account.Version {
			return fmt.Errorf("%w: account %s", ErrConflict, account.ID)
		}
	}
	for _, loan := range changes.Loans {
		stored, ok := r.loans[loan.ID]
		if !ok {
			return ErrLoanNotFound
		}
		if stored.Version != loan.Version {
			return fmt.Errorf("%w: loan %s", ErrConflict, loan.ID)
		}
	}
	for _, loan := range changes.NewLoans {
		if _, exists := r.loans[loan.ID]; exists {
			return fmt.Errorf("%w: loan %s already exists", ErrConflict, loan.ID)
		}
	}
	for _, card := range changes.Cards {
		stored, ok := r.cards[card.ID]
		if !ok {
			return ErrDebitCardNotFound
		}
		if stored.Version != card.Version {
			return fmt.Errorf("%w: debit card %s", ErrConflict, card.ID)
		}
	}
	for _, card := range changes.NewCards {
		if _, exists := r.cards[card.ID]; exists {
			return fmt.Errorf("%w: debit card %s already exists", ErrConflict, card.ID)
		}
	}
	seen := make(map[uuid.UUID]struct{}, len(changes.NewTransactions))
	for _, tx := range changes.NewTransactions {
		if _, exists := r.transactions[tx.ID]; exists {
			return ErrDuplicateTransaction
		}
		if _, dup := seen[tx.ID]; dup {
			return ErrDuplicateTransaction
		}
		seen[tx.ID] = struct{}{}
	}
	return nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func sortLoans(loans []domain.Loan) {
	sort.Slice(loans, func(i, j int) bool {
		return loans[i].StartDate.Before(loans[j].StartDate)
	})
}
