package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/transfa/ledger-service/internal/domain"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: "ok"},
		{err: fmt.Errorf("%w: %w", domain.ErrPersistence, domain.ErrConflict), want: "conflict"},
		{err: domain.ErrPersistence, want: "persistence_error"},
		{err: fmt.Errorf("%w: lender", domain.ErrConfig), want: "config_error"},
		{err: fmt.Errorf("%w: bad pin", domain.ErrAuthFailed), want: "auth_failed"},
		{err: domain.ErrInsufficientFunds, want: "insufficient_funds"},
		{err: errors.New("boom"), want: "error"},
	}
	for _, tc := range tests {
		if got := Outcome(tc.err); got != tc.want {
			t.Fatalf("Outcome(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestObserveOperationCountsByOutcome(t *testing.T) {
	counter := LedgerOperations.WithLabelValues("metrics_test_op", "limit_exceeded")
	before := testutil.ToFloat64(counter)

	ObserveOperation("metrics_test_op", time.Now(), domain.ErrLimitExceeded)

	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Fatalf("expected counter to increase by 1, got %v -> %v", before, got)
	}
}
