package app

import (
	"context"
	"log/slog"

	"github.com/transfa/ledger-service/internal/domain"
)

// maxCommitAttempts bounds how often an operation re-reads and recommits after losing
// an optimistic version check to a concurrent writer.
const maxCommitAttempts = 3

// retryOnConflict runs op until it succeeds, fails with anything other than a version
// conflict, or runs out of attempts. op must load fresh state on every call.
func retryOnConflict(ctx context.Context, logger *slog.Logger, operation string, op func() error) error {
	var err error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		err = op()
		if err == nil || !domain.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		logger.Warn("version conflict; retrying with fresh state", "operation", operation, "attempt", attempt)
	}
	return err
}
