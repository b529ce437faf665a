package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// movementKeySpace namespaces the deterministic keys of generated movements.
var movementKeySpace = uuid.MustParse("5f0e8a3c-7d2b-4c61-9a57-2f1d3b6c8e40")

// IdempotencyKey derives the stable key of one side effect. The same triggering
// event always yields the same key, so retries collapse onto a single row.
func IdempotencyKey(sourceType string, sourceID int64, event, lineRef string) uuid.UUID {
	name := fmt.Sprintf("%s:%d:%s:%s",
		strings.ToUpper(strings.TrimSpace(sourceType)),
		sourceID,
		strings.ToUpper(strings.TrimSpace(event)),
		strings.TrimSpace(lineRef))
	return uuid.NewSHA1(movementKeySpace, []byte(name))
}

// IsUniqueViolation reports whether err is a PostgreSQL unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsSerializationFailure reports whether err is a serialization failure or deadlock.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
