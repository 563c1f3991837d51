package domain

import (
	"time"

	"github.com/google/uuid"
)

// CardType is the payment network of a debit card.
type CardType string

const (
	CardTypeVisa            CardType = "visa"
	CardTypeMasterCard      CardType = "mastercard"
	CardTypeAmericanExpress CardType = "american_express"
	CardTypeDiscover        CardType = "discover"
)

// Valid reports whether t is a supported network.
func (t CardType) Valid() bool {
	switch t {
	case CardTypeVisa, CardTypeMasterCard, CardTypeAmericanExpress, CardTypeDiscover:
		return true
	}
	return false
}

// DebitCard authorizes deposits and withdrawals against its linked account.
// PINHash never holds the PIN itself.
type DebitCard struct {
	ID             uuid.UUID `json:"id"`
	CardNumber     string    `json:"card_number"`
	HolderName     string    `json:"holder_name"`
	ExpirationDate time.Time `json:"expiration_date"`
	Type           CardType  `json:"type"`
	AccountID      uuid.UUID `json:"account_id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	PINHash        string    `json:"-"`
	CVV            string    `json:"-"`
	Version        int64     `json:"version"`
}
