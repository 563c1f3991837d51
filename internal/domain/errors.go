/**
 * @description
 * Error taxonomy shared by the ledger, loan and accrual components.
 *
 * @notes
 * - Operations wrap these sentinels with fmt.Errorf("%w: ...") so callers can branch
 *   with errors.Is while still getting a readable message.
 * - Business rejections (insufficient funds, bad PIN, limits, lifecycle state) are kept
 *   apart from operational failures (configuration, persistence).
 */

package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrLimitExceeded     = errors.New("limit exceeded")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidState      = errors.New("invalid state")
	ErrConfig            = errors.New("configuration error")
	ErrPersistence       = errors.New("persistence failure")

	// ErrConflict reports that a row changed between read and write. It is always
	// returned wrapped in ErrPersistence by the engines and is safe to retry.
	ErrConflict = errors.New("concurrent modification")
)

var businessRejections = []error{
	ErrNotFound,
	ErrInsufficientFunds,
	ErrAuthFailed,
	ErrLimitExceeded,
	ErrInvalidArgument,
	ErrInvalidState,
}

// IsBusinessRejection reports whether err is a rule rejection that should be shown to the
// customer rather than raised as an operational alert.
func IsBusinessRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPersistence) || errors.Is(err, ErrConfig) {
		return false
	}
	for _, target := range businessRejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the operation failed only because of a concurrent write.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
