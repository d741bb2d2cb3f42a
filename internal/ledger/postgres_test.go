package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestUniqueViolationMapsToDuplicatePosting(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "transactions_client_tx_id_kind_key"}
	if !isUniqueViolation(dup) {
		t.Fatal("expected SQLSTATE 23505 to be classified as a unique violation")
	}
	if !isUniqueViolation(fmt.Errorf("insert transaction: %w", dup)) {
		t.Fatal("expected wrapped unique violations to be detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violations must not map to duplicates")
	}
	if isUniqueViolation(errors.New("connection reset")) {
		t.Fatal("plain errors must not map to duplicates")
	}
}
