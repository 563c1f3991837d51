package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// ResolveLenderAccount picks the account loans are funded from. An explicit account id
// wins; otherwise the bank user must own exactly one live account. Any other outcome is
// a configuration error so the service refuses to start with an ambiguous lender.
func ResolveLenderAccount(ctx context.Context, repo store.Repository, lenderAccountID, bankUserID uuid.UUID) (uuid.UUID, error) {
	if lenderAccountID != uuid.Nil {
		account, err := repo.GetAccount(ctx, lenderAccountID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: lender account %s: %w", domain.ErrConfig, lenderAccountID, err)
		}
		return account.ID, nil
	}

	if bankUserID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: neither LENDER_ACCOUNT_ID nor BANK_USER_ID is set", domain.ErrConfig)
	}

	accounts, err := repo.GetAccountsByUser(ctx, bankUserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: load accounts of bank user %s: %w", domain.ErrConfig, bankUserID, err)
	}
	switch len(accounts) {
	case 0:
		return uuid.Nil, fmt.Errorf("%w: bank user %s owns no accounts", domain.ErrConfig, bankUserID)
	case 1:
		return accounts[0].ID, nil
	default:
		return uuid.Nil, fmt.Errorf("%w: bank user %s owns %d accounts; set LENDER_ACCOUNT_ID", domain.ErrConfig, bankUserID, len(accounts))
	}
}
