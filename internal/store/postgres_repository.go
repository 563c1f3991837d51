/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Every `SaveAll` runs inside one database transaction; versioned rows are updated with
 * a `version = $n` predicate so a concurrent writer turns into `ErrConflict` instead of a
 * lost update.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Money values, exchanged with PostgreSQL as numeric text.
 * - internal/domain: The domain models persisted here.
 *
 * @notes
 * - Expected tables: accounts, debit_cards, loans, transactions. Money columns are
 *   NUMERIC(18,2) and every versioned table has a BIGINT version column.
 * - loans.initial_transaction_id references transactions(id), and the account columns
 *   of transactions, loans and debit_cards reference accounts(id). Writes are ordered
 *   so every referenced row exists first.
 * - Numeric columns are selected as text and parsed into decimals to avoid float drift.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
)

const (
	accountColumns = `id, iban, account_number, balance::text, user_id, version, created_at, deleted_at`
	cardColumns    = `id, card_number, holder_name, expiration_date, card_type, account_id, owner_id, pin_hash, cvv, version`
	loanColumns    = `id, principal::text, remaining_amount::text, interest_rate::text, term_in_months,
		borrower_account_id, lender_account_id, start_date, next_interest_update, status,
		initial_transaction_id, version`
	transactionColumns = `id, amount::text, description, transaction_type, from_account_id, to_account_id, created_at`
)

const uniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetAccount retrieves a live account by id.
func (r *PostgresRepository) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 AND deleted_at IS NULL`
	account, err := scanAccount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// GetAccountByIBAN retrieves a live account by its IBAN.
func (r *PostgresRepository) GetAccountByIBAN(ctx context.Context, iban string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE iban = btrim($1) AND deleted_at IS NULL`
	account, err := scanAccount(r.db.QueryRow(ctx, query, iban))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// GetAccountsByUser lists the live accounts owned by a user, oldest first.
func (r *PostgresRepository) GetAccountsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// GetDebitCard retrieves a debit card by id.
func (r *PostgresRepository) GetDebitCard(ctx context.Context, id uuid.UUID) (*domain.DebitCard, error) {
	var card domain.DebitCard
	var cardType string
	query := `SELECT ` + cardColumns + ` FROM debit_cards WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&card.ID,
		&card.CardNumber,
		&card.HolderName,
		&card.ExpirationDate,
		&cardType,
		&card.AccountID,
		&card.OwnerID,
		&card.PINHash,
		&card.CVV,
		&card.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDebitCardNotFound
		}
		return nil, err
	}
	card.Type = domain.CardType(cardType)
	return &card, nil
}

// GetLoan retrieves a loan by id.
func (r *PostgresRepository) GetLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	loan, err := scanLoan(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return loan, nil
}

// GetAllLoans returns every loan regardless of status.
func (r *PostgresRepository) GetAllLoans(ctx context.Context) ([]domain.Loan, error) {
	return r.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY start_date ASC`)
}

// ListLoansByAccount returns the loans borrowed by an account.
func (r *PostgresRepository) ListLoansByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Loan, error) {
	return r.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE borrower_account_id = $1 ORDER BY start_date ASC`, accountID)
}

func (r *PostgresRepository) queryLoans(ctx context.Context, query string, args ...any) ([]domain.Loan, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	loans := make([]domain.Loan, 0)
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, *loan)
	}
	return loans, rows.Err()
}

// ListTransactionsByAccount returns the ledger entries touching an account, newest first.
func (r *PostgresRepository) ListTransactionsByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0)
	for rows.Next() {
		var tx domain.Transaction
		var amount, txType string
		if err := rows.Scan(&tx.ID, &amount, &tx.Description, &txType, &tx.FromAccountID, &tx.ToAccountID, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid transaction amount %q: %w", amount, err)
		}
		tx.Type = domain.TransactionType(txType)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// SaveAll writes a change set inside a single database transaction.
func (r *PostgresRepository) SaveAll(ctx context.Context, changes ChangeSet) (bool, error) {
	if changes.IsEmpty() {
		return false, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := writeChangeSet(ctx, tx, changes); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	changes.bumpVersions()
	return true, nil
}

// changeWriter is the part of pgx.Tx that writeChangeSet needs.
type changeWriter interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// writeChangeSet issues the statements of a change set in foreign key order: accounts,
// transactions, loans (which reference their disbursement transaction), then cards.
func writeChangeSet(ctx context.Context, w changeWriter, changes ChangeSet) error {
	for _, account := range changes.Accounts {
		tag, err := w.Exec(ctx, `
			UPDATE accounts
			SET balance = $2::numeric, version = version + 1
			WHERE id = $1 AND version = $3 AND deleted_at IS NULL
		`, account.ID, account.Balance.StringFixed(domain.MoneyPlaces), account.Version)
		if err != nil {
			return fmt.Errorf("failed to update account %s: %w", account.ID, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("%w: account %s", ErrConflict, account.ID)
		}
	}

	if len(changes.NewTransactions) > 0 {
		batch := &pgx.Batch{}
		for _, t := range changes.NewTransactions {
			batch.Queue(`
				INSERT INTO transactions (id, amount, description, transaction_type, from_account_id, to_account_id, created_at)
				VALUES ($1, $2::numeric, $3, $4, $5, $6, $7)
			`, t.ID, t.Amount.StringFixed(domain.MoneyPlaces), t.Description, string(t.Type),
				t.FromAccountID, t.ToAccountID, t.CreatedAt)
		}
		results := w.SendBatch(ctx, batch)
		for range changes.NewTransactions {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return mapInsertError("transaction", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to record transactions: %w", err)
		}
	}

	for _, loan := range changes.NewLoans {
		_, err := w.Exec(ctx, `
			INSERT INTO loans (
				id, principal, remaining_amount, interest_rate, term_in_months,
				borrower_account_id, lender_account_id, start_date, next_interest_update,
				status, initial_transaction_id, version
			) VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5, $6, $7, $8, $9, $10, $11, 1)
		`, loan.ID, loan.Principal.String(), loan.RemainingAmount.String(), loan.InterestRate.String(),
			loan.TermInMonths, loan.BorrowerAccountID, loan.LenderAccountID, loan.StartDate,
			loan.NextInterestUpdate, string(loan.Status), loan.InitialTransactionID)
		if err != nil {
			return mapInsertError(fmt.Sprintf("loan %s", loan.ID), err)
		}
	}

	for _, loan := range changes.Loans {
		tag, err := w.Exec(ctx, `
			UPDATE loans
			SET remaining_amount = $2::numeric, next_interest_update = $3, status = $4, version = version + 1
			WHERE id = $1 AND version = $5
		`, loan.ID, loan.RemainingAmount.String(), loan.NextInterestUpdate, string(loan.Status), loan.Version)
		if err != nil {
			return fmt.Errorf("failed to update loan %s: %w", loan.ID, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("%w: loan %s", ErrConflict, loan.ID)
		}
	}

	for _, card := range changes.NewCards {
		_, err := w.Exec(ctx, `
			INSERT INTO debit_cards (
				id, card_number, holder_name, expiration_date, card_type, account_id, owner_id, pin_hash, cvv, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
		`, card.ID, card.CardNumber, card.HolderName, card.ExpirationDate, string(card.Type),
			card.AccountID, card.OwnerID, card.PINHash, card.CVV)
		if err != nil {
			return mapInsertError(fmt.Sprintf("debit card %s", card.ID), err)
		}
	}

	for _, card := range changes.Cards {
		tag, err := w.Exec(ctx, `
			UPDATE debit_cards
			SET pin_hash = $2, version = version + 1
			WHERE id = $1 AND version = $3
		`, card.ID, card.PINHash, card.Version)
		if err != nil {
			return fmt.Errorf("failed to update debit card %s: %w", card.ID, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("%w: debit card %s", ErrConflict, card.ID)
		}
	}

	return nil
}

// Ping checks that the pool can reach the database.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var balance string
	err := row.Scan(
		&account.ID,
		&account.IBAN,
		&account.AccountNumber,
		&balance,
		&account.UserID,
		&account.Version,
		&account.CreatedAt,
		&account.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if account.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("invalid balance %q for account %s: %w", balance, account.ID, err)
	}
	return &account, nil
}

func scanLoan(row rowScanner) (*domain.Loan, error) {
	var loan domain.Loan
	var principal, remaining, rate, status string
	err := row.Scan(
		&loan.ID,
		&principal,
		&remaining,
		&rate,
		&loan.TermInMonths,
		&loan.BorrowerAccountID,
		&loan.LenderAccountID,
		&loan.StartDate,
		&loan.NextInterestUpdate,
		&status,
		&loan.InitialTransactionID,
		&loan.Version,
	)
	if err != nil {
		return nil, err
	}
	loan.Status = domain.LoanStatus(status)
	if loan.Principal, err = decimal.NewFromString(principal); err != nil {
		return nil, fmt.Errorf("invalid principal %q for loan %s: %w", principal, loan.ID, err)
	}
	if loan.RemainingAmount, err = decimal.NewFromString(remaining); err != nil {
		return nil, fmt.Errorf("invalid remaining amount %q for loan %s: %w", remaining, loan.ID, err)
	}
	if loan.InterestRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("invalid interest rate %q for loan %s: %w", rate, loan.ID, err)
	}
	return &loan, nil
}

func mapInsertError(subject string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if subject == "transaction" {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("%w: %s already exists", ErrConflict, subject)
	}
	return fmt.Errorf("failed to insert %s: %w", subject, err)
}
