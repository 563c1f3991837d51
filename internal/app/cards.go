/**
 * @description
 * Debit card issuance and PIN management. Cards are the credential deposits and
 * withdrawals authenticate with, so issuing one is a ledger concern even though it
 * moves no money.
 *
 * @notes
 * - Card numbers are 16 random digits printed in groups of four. They are not Luhn
 *   valid; the cards never leave the demo bank.
 * - Expiry is the last second of the month four years after issuance, in UTC.
 */

package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

const cardValidityYears = 4

// IssueCardRequest carries the fields needed to issue a card.
type IssueCardRequest struct {
	AccountID  uuid.UUID
	HolderName string
	Type       domain.CardType
	PIN        string
}

// CardService issues debit cards and rotates their PINs.
type CardService struct {
	repo   store.Repository
	logger *slog.Logger
	now    func() time.Time
	random io.Reader
}

// NewCardService creates a card service.
func NewCardService(repo store.Repository, logger *slog.Logger) *CardService {
	return &CardService{
		repo:   repo,
		logger: logger.With("component", "cards"),
		now:    func() time.Time { return time.Now().UTC() },
		random: rand.Reader,
	}
}

// IssueCard creates a card linked to an existing account. The card is owned by the
// account's user.
func (s *CardService) IssueCard(ctx context.Context, req IssueCardRequest) (*domain.DebitCard, error) {
	holder := strings.TrimSpace(req.HolderName)
	if holder == "" {
		return nil, fmt.Errorf("%w: holder name is required", domain.ErrInvalidArgument)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unsupported card type %q", domain.ErrInvalidArgument, req.Type)
	}

	account, err := s.repo.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, lookupError("card account", err)
	}

	pinHash, err := HashPIN(req.PIN)
	if err != nil {
		return nil, err
	}
	number, err := s.cardNumber()
	if err != nil {
		return nil, fmt.Errorf("failed to generate card number: %w", err)
	}
	cvv, err := randomInRange(s.random, 100, 999)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cvv: %w", err)
	}

	card := &domain.DebitCard{
		ID:             uuid.New(),
		CardNumber:     number,
		HolderName:     holder,
		ExpirationDate: cardExpiry(s.now()),
		Type:           req.Type,
		AccountID:      account.ID,
		OwnerID:        account.UserID,
		PINHash:        pinHash,
		CVV:            fmt.Sprintf("%03d", cvv),
	}

	ok, err := s.repo.SaveAll(ctx, store.ChangeSet{NewCards: []*domain.DebitCard{card}})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no changes were written", domain.ErrPersistence)
	}

	s.logger.Info("debit card issued", "debit_card_id", card.ID, "account_id", account.ID, "type", card.Type)
	return card, nil
}

// ChangePIN replaces the PIN of a card after checking the current one.
func (s *CardService) ChangePIN(ctx context.Context, cardID uuid.UUID, currentPIN, newPIN string) error {
	card, err := s.repo.GetDebitCard(ctx, cardID)
	if err != nil {
		return lookupError("debit card", err)
	}
	if ok, _ := VerifyPIN(card.PINHash, currentPIN); !ok {
		s.logger.Warn("pin change rejected", "debit_card_id", card.ID)
		return fmt.Errorf("%w: invalid pin", domain.ErrAuthFailed)
	}

	hash, err := HashPIN(newPIN)
	if err != nil {
		return err
	}
	card.PINHash = hash

	ok, err := s.repo.SaveAll(ctx, store.ChangeSet{Cards: []*domain.DebitCard{card}})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if !ok {
		return fmt.Errorf("%w: no changes were written", domain.ErrPersistence)
	}

	s.logger.Info("debit card pin changed", "debit_card_id", card.ID)
	return nil
}

func (s *CardService) cardNumber() (string, error) {
	var b strings.Builder
	for i := 0; i < 16; i++ {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		digit, err := randomInRange(s.random, 0, 9)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + digit))
	}
	return b.String(), nil
}

// cardExpiry returns 23:59:59 UTC on the last day of the month four years after issued.
func cardExpiry(issued time.Time) time.Time {
	issued = issued.UTC()
	firstOfNext := time.Date(issued.Year()+cardValidityYears, issued.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.Add(-time.Second)
}

func randomInRange(r io.Reader, lo, hi int64) (int64, error) {
	n, err := rand.Int(r, big.NewInt(hi-lo+1))
	if err != nil {
		return 0, err
	}
	return lo + n.Int64(), nil
}
