/**
 * @description
 * This file contains the ledger engine: the rules for every operation that moves money
 * between accounts or in and out of the bank. Each operation reads what it needs,
 * validates, mutates in memory and commits everything, including the single transaction
 * record it produces, through one `SaveAll` call.
 *
 * Key features:
 * - Transfer between accounts identified by sender id and receiver IBAN.
 * - Debit card deposits and withdrawals guarded by PIN and a per-operation ceiling.
 * - The internal transfer primitive reused by the loan engine for disbursements and
 *   payments.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Money arithmetic.
 * - internal/store: Reads and the atomic `SaveAll` commit.
 * - internal/metrics, pkg/rabbitmq: Operation metrics and post-commit events.
 *
 * @notes
 * - Balance checks happen before any mutation, so a rejected operation leaves the
 *   in-memory copies untouched as well.
 * - A commit that loses a version check is retried from fresh reads a bounded number
 *   of times before `ErrConflict` reaches the caller.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/metrics"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

const (
	DefaultDepositDescription    = "Deposit via debit card"
	DefaultWithdrawalDescription = "Withdrawal via debit card"
)

// CardOperationLimit is the ceiling for a single debit card deposit or withdrawal.
var CardOperationLimit = decimal.NewFromInt(1000)

// Ledger applies balance-changing operations.
type Ledger struct {
	repo   store.Repository
	events *eventEmitter
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a new ledger engine. A nil publisher falls back to a no-op.
func NewLedger(repo store.Repository, publisher rabbitmq.Publisher, exchange string, logger *slog.Logger) *Ledger {
	logger = logger.With("component", "ledger")
	return &Ledger{
		repo:   repo,
		events: newEventEmitter(publisher, exchange, logger),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Transfer moves amount from the sender account to the account holding receiverIBAN.
func (l *Ledger) Transfer(ctx context.Context, senderAccountID uuid.UUID, receiverIBAN string, amount decimal.Decimal, description string) (tx *domain.Transaction, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("transfer", started, err) }()

	err = retryOnConflict(ctx, l.logger, "transfer", func() error {
		tx, err = l.transferOnce(ctx, senderAccountID, receiverIBAN, amount, description)
		return err
	})
	return tx, err
}

func (l *Ledger) transferOnce(ctx context.Context, senderAccountID uuid.UUID, receiverIBAN string, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	amount, err := domain.NormalizeAmount(amount)
	if err != nil {
		return nil, err
	}
	receiverIBAN = strings.TrimSpace(receiverIBAN)
	if receiverIBAN == "" {
		return nil, fmt.Errorf("%w: receiver IBAN is required", domain.ErrInvalidArgument)
	}

	sender, err := l.repo.GetAccount(ctx, senderAccountID)
	if err != nil {
		return nil, lookupError("sender account", err)
	}
	receiver, err := l.repo.GetAccountByIBAN(ctx, receiverIBAN)
	if err != nil {
		return nil, lookupError("receiver account", err)
	}
	if sender.ID == receiver.ID {
		return nil, fmt.Errorf("%w: cannot transfer to the same account", domain.ErrInvalidArgument)
	}

	tx, err := l.move(sender, receiver, amount, domain.TransactionTypeTransfer, description, uuid.New())
	if err != nil {
		return nil, err
	}

	if err := l.commit(ctx, store.ChangeSet{
		Accounts:        []*domain.Account{sender, receiver},
		NewTransactions: []*domain.Transaction{tx},
	}); err != nil {
		l.logger.Error("transfer commit failed", "sender_account_id", sender.ID, "receiver_account_id", receiver.ID, "error", err)
		return nil, err
	}

	l.logger.Info("transfer completed", "transaction_id", tx.ID, "sender_account_id", sender.ID, "receiver_account_id", receiver.ID, "amount", amount.StringFixed(domain.MoneyPlaces))
	l.events.emit(ctx, domain.EventTransactionCreated, domain.NewTransactionCreatedEvent(tx))
	return tx, nil
}

// Deposit credits the account linked to a debit card.
func (l *Ledger) Deposit(ctx context.Context, debitCardID uuid.UUID, pin string, amount decimal.Decimal, description string) (tx *domain.Transaction, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("deposit", started, err) }()

	err = retryOnConflict(ctx, l.logger, "deposit", func() error {
		tx, err = l.depositOnce(ctx, debitCardID, pin, amount, description)
		return err
	})
	return tx, err
}

func (l *Ledger) depositOnce(ctx context.Context, debitCardID uuid.UUID, pin string, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	card, account, amount, err := l.authorizeCard(ctx, debitCardID, pin, amount)
	if err != nil {
		return nil, err
	}

	account.Balance = domain.RoundMoney(account.Balance.Add(amount))
	to := account.ID
	tx := &domain.Transaction{
		ID:          uuid.New(),
		Amount:      amount,
		Description: withDefault(description, DefaultDepositDescription),
		Type:        domain.TransactionTypeDeposit,
		ToAccountID: &to,
		CreatedAt:   l.now(),
	}

	if err := l.commit(ctx, cardChangeSet(card, account, tx)); err != nil {
		l.logger.Error("deposit commit failed", "debit_card_id", debitCardID, "account_id", account.ID, "error", err)
		return nil, err
	}

	l.logger.Info("deposit completed", "transaction_id", tx.ID, "account_id", account.ID, "amount", amount.StringFixed(domain.MoneyPlaces))
	l.events.emit(ctx, domain.EventTransactionCreated, domain.NewTransactionCreatedEvent(tx))
	return tx, nil
}

// Withdraw debits the account linked to a debit card.
func (l *Ledger) Withdraw(ctx context.Context, debitCardID uuid.UUID, pin string, amount decimal.Decimal, description string) (tx *domain.Transaction, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("withdraw", started, err) }()

	err = retryOnConflict(ctx, l.logger, "withdraw", func() error {
		tx, err = l.withdrawOnce(ctx, debitCardID, pin, amount, description)
		return err
	})
	return tx, err
}

func (l *Ledger) withdrawOnce(ctx context.Context, debitCardID uuid.UUID, pin string, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	card, account, amount, err := l.authorizeCard(ctx, debitCardID, pin, amount)
	if err != nil {
		return nil, err
	}
	if !account.CanCover(amount) {
		return nil, fmt.Errorf("%w: balance %s is below %s", domain.ErrInsufficientFunds,
			account.Balance.StringFixed(domain.MoneyPlaces), amount.StringFixed(domain.MoneyPlaces))
	}

	account.Balance = domain.RoundMoney(account.Balance.Sub(amount))
	from := account.ID
	tx := &domain.Transaction{
		ID:            uuid.New(),
		Amount:        amount,
		Description:   withDefault(description, DefaultWithdrawalDescription),
		Type:          domain.TransactionTypeWithdrawal,
		FromAccountID: &from,
		CreatedAt:     l.now(),
	}

	if err := l.commit(ctx, cardChangeSet(card, account, tx)); err != nil {
		l.logger.Error("withdrawal commit failed", "debit_card_id", debitCardID, "account_id", account.ID, "error", err)
		return nil, err
	}

	l.logger.Info("withdrawal completed", "transaction_id", tx.ID, "account_id", account.ID, "amount", amount.StringFixed(domain.MoneyPlaces))
	l.events.emit(ctx, domain.EventTransactionCreated, domain.NewTransactionCreatedEvent(tx))
	return tx, nil
}

// ListTransactions returns the ledger history of an account, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	if _, err := l.repo.GetAccount(ctx, accountID); err != nil {
		return nil, lookupError("account", err)
	}
	txs, err := l.repo.ListTransactionsByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %w", domain.ErrPersistence, err)
	}
	return txs, nil
}

// authorizeCard runs the checks shared by deposits and withdrawals and returns the card
// (with an upgraded PIN hash when one is due) and its linked account.
func (l *Ledger) authorizeCard(ctx context.Context, debitCardID uuid.UUID, pin string, amount decimal.Decimal) (*domain.DebitCard, *domain.Account, decimal.Decimal, error) {
	amount, err := domain.NormalizeAmount(amount)
	if err != nil {
		return nil, nil, amount, err
	}
	if amount.GreaterThan(CardOperationLimit) {
		return nil, nil, amount, fmt.Errorf("%w: maximum amount per card operation is %s", domain.ErrLimitExceeded, CardOperationLimit)
	}

	card, err := l.repo.GetDebitCard(ctx, debitCardID)
	if err != nil {
		return nil, nil, amount, lookupError("debit card", err)
	}
	ok, needsUpgrade := VerifyPIN(card.PINHash, pin)
	if !ok {
		l.logger.Warn("pin verification failed", "debit_card_id", card.ID)
		return nil, nil, amount, fmt.Errorf("%w: invalid pin", domain.ErrAuthFailed)
	}

	account, err := l.repo.GetAccount(ctx, card.AccountID)
	if err != nil {
		return nil, nil, amount, lookupError("card account", err)
	}

	if !needsUpgrade {
		return nil, account, amount, nil
	}
	upgraded, err := HashPIN(pin)
	if err != nil {
		// Keep the legacy hash; the operation itself is still authorized.
		l.logger.Warn("failed to upgrade legacy pin hash", "debit_card_id", card.ID, "error", err)
		return nil, account, amount, nil
	}
	card.PINHash = upgraded
	return card, account, amount, nil
}

// move applies amount from one account to another in memory and returns the matching
// transaction. Nothing is persisted.
func (l *Ledger) move(from, to *domain.Account, amount decimal.Decimal, txType domain.TransactionType, description string, txID uuid.UUID) (*domain.Transaction, error) {
	if !from.CanCover(amount) {
		return nil, fmt.Errorf("%w: balance %s is below %s", domain.ErrInsufficientFunds,
			from.Balance.StringFixed(domain.MoneyPlaces), amount.StringFixed(domain.MoneyPlaces))
	}

	from.Balance = domain.RoundMoney(from.Balance.Sub(amount))
	to.Balance = domain.RoundMoney(to.Balance.Add(amount))

	fromID, toID := from.ID, to.ID
	return &domain.Transaction{
		ID:            txID,
		Amount:        amount,
		Description:   strings.TrimSpace(description),
		Type:          txType,
		FromAccountID: &fromID,
		ToAccountID:   &toID,
		CreatedAt:     l.now(),
	}, nil
}

// commit hands a change set to the store and classifies failures as persistence errors.
func (l *Ledger) commit(ctx context.Context, changes store.ChangeSet) error {
	ok, err := l.repo.SaveAll(ctx, changes)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if !ok {
		return fmt.Errorf("%w: no changes were written", domain.ErrPersistence)
	}
	return nil
}

func cardChangeSet(card *domain.DebitCard, account *domain.Account, tx *domain.Transaction) store.ChangeSet {
	changes := store.ChangeSet{
		Accounts:        []*domain.Account{account},
		NewTransactions: []*domain.Transaction{tx},
	}
	if card != nil {
		changes.Cards = []*domain.DebitCard{card}
	}
	return changes
}

// lookupError keeps not-found results as business rejections and turns anything else
// into a persistence failure.
func lookupError(subject string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s: %w", subject, err)
	}
	return fmt.Errorf("%w: load %s: %w", domain.ErrPersistence, subject, err)
}

func withDefault(description, fallback string) string {
	if trimmed := strings.TrimSpace(description); trimmed != "" {
		return trimmed
	}
	return fallback
}
