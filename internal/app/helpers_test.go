package app

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	pinHashCost = bcrypt.MinCost
	os.Exit(m.Run())
}

var fixedNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

// countingRepo wraps a real repository and counts or fails SaveAll calls. beforeSave,
// when set, runs ahead of each call with its 1-based number.
type countingRepo struct {
	store.Repository
	mu         sync.Mutex
	saveCalls  int
	saveErr    error
	saveNoop   bool
	beforeSave func(call int)
}

func (r *countingRepo) SaveAll(ctx context.Context, changes store.ChangeSet) (bool, error) {
	r.mu.Lock()
	r.saveCalls++
	call, saveErr, saveNoop, hook := r.saveCalls, r.saveErr, r.saveNoop, r.beforeSave
	r.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if saveErr != nil {
		return false, saveErr
	}
	if saveNoop {
		return false, nil
	}
	return r.Repository.SaveAll(ctx, changes)
}

func (r *countingRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveCalls
}

type fixture struct {
	repo      *store.MemoryRepository
	counter   *countingRepo
	publisher *recordingPublisher
	ledger    *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := store.NewMemoryRepository()
	counter := &countingRepo{Repository: repo}
	publisher := &recordingPublisher{}
	ledger := NewLedger(counter, publisher, "", discardLogger())
	ledger.now = func() time.Time { return fixedNow }
	return &fixture{repo: repo, counter: counter, publisher: publisher, ledger: ledger}
}

func (f *fixture) account(t *testing.T, iban, balance string) domain.Account {
	t.Helper()
	account := domain.Account{
		ID:            uuid.New(),
		IBAN:          iban,
		AccountNumber: iban[len(iban)-4:],
		Balance:       dec(balance),
		UserID:        uuid.New(),
		CreatedAt:     fixedNow,
	}
	f.repo.SeedAccount(account)
	return account
}

func (f *fixture) card(t *testing.T, accountID uuid.UUID, pinHash string) domain.DebitCard {
	t.Helper()
	card := domain.DebitCard{
		ID:             uuid.New(),
		CardNumber:     "4000 0000 0000 0002",
		HolderName:     "Test Holder",
		ExpirationDate: fixedNow.AddDate(4, 0, 0),
		Type:           domain.CardTypeVisa,
		AccountID:      accountID,
		PINHash:        pinHash,
		CVV:            "123",
	}
	f.repo.SeedDebitCard(card)
	return card
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	account, err := f.repo.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("load account %s: %v", id, err)
	}
	return account.Balance
}

func mustHashPIN(t *testing.T, pin string) string {
	t.Helper()
	hash, err := HashPIN(pin)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	return hash
}

func legacyPINHash(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return base64.StdEncoding.EncodeToString(sum[:])
}
