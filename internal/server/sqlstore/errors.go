package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// classify maps driver errors onto the common sentinels so callers can
// tell a unique-constraint race or a missing row from a generic failure.
func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrorNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", common.ErrConflict, pgErr.ConstraintName)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", common.ErrConflict, liteErr)
		case sqlite3.SQLITE_CONSTRAINT:
			// primary result code only, when extended codes are off
			if strings.Contains(liteErr.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%w: %v", common.ErrConflict, liteErr)
			}
		}
	}

	return err
}
