// Package sqlstore is the generic credential store: parameterized create,
// read, update and remove over a relational schema. Values are always bound
// as query arguments; table and column identifiers are checked against an
// allow-list pattern before they are spliced into SQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/dbx"
)

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrEmptyPredicate    = errors.New("empty predicate")
	ErrNoFields          = errors.New("no fields")
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Dialect selects the bind-parameter syntax of the target database.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// DialectForDriver maps a database/sql driver name to its Dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return 0, fmt.Errorf("unsupported database driver %q", driver)
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d == DialectSQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// Field is a single column/value pair.
type Field struct {
	Column string
	Value  any
}

// F is shorthand for building a Field.
func F(column string, value any) Field {
	return Field{Column: column, Value: value}
}

// Fields is an ordered set of column assignments.
type Fields []Field

// Predicate is an ordered set of column equalities joined with AND.
// An empty predicate is rejected rather than matching every row.
type Predicate []Field

// Where is shorthand for building a Predicate.
func Where(fields ...Field) Predicate {
	return Predicate(fields)
}

// Store builds and runs statements for one dialect. It holds no
// connection: every call receives the DBTX it must run on, which is the
// caller's transaction for multi-step operations.
type Store struct {
	dialect Dialect
}

// New returns a Store for the dialect.
func New(d Dialect) *Store {
	return &Store{dialect: d}
}

// Dialect reports the store's dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Create inserts one row. When returning is non-empty the value of that
// column is read back (e.g. the generated id) and returned as a string.
func (s *Store) Create(ctx context.Context, db dbx.DBTX, table string, fields Fields, returning string) (string, error) {
	query, args, err := s.buildInsert(table, fields, returning)
	if err != nil {
		return "", common.NewStorageError("insert "+table, err)
	}

	if returning == "" {
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return "", common.NewStorageError("insert "+table, classify(err))
		}
		return "", nil
	}

	var id string
	if err := db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", common.NewStorageError("insert "+table, classify(err))
	}
	return id, nil
}

// Read selects columns from rows matching where. When orderBy is set the
// rows come back sorted by it, which callers use to keep insertion order.
// The caller owns the returned rows and must close them.
func (s *Store) Read(ctx context.Context, db dbx.DBTX, table string, columns []string, where Predicate, orderBy string) (*sql.Rows, error) {
	query, args, err := s.buildSelect(table, columns, where, orderBy)
	if err != nil {
		return nil, common.NewStorageError("select "+table, err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.NewStorageError("select "+table, classify(err))
	}
	return rows, nil
}

// Update assigns set on rows matching where and returns the affected count.
func (s *Store) Update(ctx context.Context, db dbx.DBTX, table string, set Fields, where Predicate) (int64, error) {
	query, args, err := s.buildUpdate(table, set, where)
	if err != nil {
		return 0, common.NewStorageError("update "+table, err)
	}
	return s.exec(ctx, db, "update "+table, query, args)
}

// Remove deletes rows matching where and returns the affected count.
func (s *Store) Remove(ctx context.Context, db dbx.DBTX, table string, where Predicate) (int64, error) {
	query, args, err := s.buildDelete(table, where)
	if err != nil {
		return 0, common.NewStorageError("delete "+table, err)
	}
	return s.exec(ctx, db, "delete "+table, query, args)
}

func (s *Store) exec(ctx context.Context, db dbx.DBTX, op, query string, args []any) (int64, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, common.NewStorageError(op, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, common.NewStorageError(op, err)
	}
	return n, nil
}

func (s *Store) buildInsert(table string, fields Fields, returning string) (string, []any, error) {
	if err := checkIdentifiers(table, returning); err != nil {
		return "", nil, err
	}
	if len(fields) == 0 {
		return "", nil, ErrNoFields
	}

	cols := make([]string, 0, len(fields))
	marks := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for i, f := range fields {
		if err := checkIdentifiers(f.Column); err != nil {
			return "", nil, err
		}
		cols = append(cols, f.Column)
		marks = append(marks, s.dialect.Placeholder(i+1))
		args = append(args, f.Value)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	if returning != "" {
		query += " RETURNING " + returning
	}
	return query, args, nil
}

func (s *Store) buildSelect(table string, columns []string, where Predicate, orderBy string) (string, []any, error) {
	if err := checkIdentifiers(table, orderBy); err != nil {
		return "", nil, err
	}
	if len(columns) == 0 {
		return "", nil, ErrNoFields
	}
	if err := checkIdentifiers(columns...); err != nil {
		return "", nil, err
	}

	cond, args, err := s.buildWhere(where, 1)
	if err != nil {
		return "", nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(columns, ", "), table, cond)
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}
	return query, args, nil
}

func (s *Store) buildUpdate(table string, set Fields, where Predicate) (string, []any, error) {
	if err := checkIdentifiers(table); err != nil {
		return "", nil, err
	}
	if len(set) == 0 {
		return "", nil, ErrNoFields
	}

	assignments := make([]string, 0, len(set))
	args := make([]any, 0, len(set)+len(where))
	for i, f := range set {
		if err := checkIdentifiers(f.Column); err != nil {
			return "", nil, err
		}
		assignments = append(assignments, f.Column+" = "+s.dialect.Placeholder(i+1))
		args = append(args, f.Value)
	}

	cond, condArgs, err := s.buildWhere(where, len(set)+1)
	if err != nil {
		return "", nil, err
	}
	args = append(args, condArgs...)

	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(assignments, ", "), cond), args, nil
}

func (s *Store) buildDelete(table string, where Predicate) (string, []any, error) {
	if err := checkIdentifiers(table); err != nil {
		return "", nil, err
	}
	cond, args, err := s.buildWhere(where, 1)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", table, cond), args, nil
}

// buildWhere renders where starting at bind parameter number first.
func (s *Store) buildWhere(where Predicate, first int) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, ErrEmptyPredicate
	}

	parts := make([]string, 0, len(where))
	args := make([]any, 0, len(where))
	for i, f := range where {
		if err := checkIdentifiers(f.Column); err != nil {
			return "", nil, err
		}
		parts = append(parts, f.Column+" = "+s.dialect.Placeholder(first+i))
		args = append(args, f.Value)
	}
	return strings.Join(parts, " AND "), args, nil
}

// checkIdentifiers validates non-empty names; empty strings are skipped so
// optional identifiers (RETURNING, ORDER BY) can be passed through.
func checkIdentifiers(names ...string) error {
	for _, n := range names {
		if n == "" {
			continue
		}
		if !identifierPattern.MatchString(n) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, n)
		}
	}
	return nil
}
