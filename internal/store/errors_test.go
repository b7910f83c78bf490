package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestStorageErrTagsOnlyRetryableFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "connection failure",
			err:       &pgconn.PgError{Code: "08006", Message: "connection failure"},
			retryable: true,
		},
		{
			name:      "server shutdown",
			err:       &pgconn.PgError{Code: "57P01", Message: "terminating connection"},
			retryable: true,
		},
		{
			name:      "too many connections",
			err:       &pgconn.PgError{Code: "53300", Message: "too many connections"},
			retryable: true,
		},
		{
			name:      "unique violation",
			err:       &pgconn.PgError{Code: "23505", Message: "duplicate key"},
			retryable: false,
		},
		{
			name:      "foreign key violation",
			err:       &pgconn.PgError{Code: "23503", Message: "violates foreign key"},
			retryable: false,
		},
		{
			name:      "driver-level failure",
			err:       fmt.Errorf("dial tcp: connection refused"),
			retryable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := storageErr("save document", tt.err)
			if got := errors.Is(wrapped, ErrStorageUnavailable); got != tt.retryable {
				t.Errorf("ErrStorageUnavailable tag = %v, want %v (%v)", got, tt.retryable, wrapped)
			}
		})
	}
}

func TestRetryDoesNotRetryConstraintViolations(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return storageErr("create view object", &pgconn.PgError{Code: "23505", Message: "duplicate key"})
	})
	if errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("constraint violation tagged retryable: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
