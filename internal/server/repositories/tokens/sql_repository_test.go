package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/server/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T, d sqlstore.Dialect) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLRepository(db, sqlstore.New(d)), mock
}

var tokenColumns = []string{"user_id", "token", "expires_at", "created_at"}

func TestCreate_StoresExpiryInUTC(t *testing.T) {
	repo, mock := newRepo(t, sqlstore.DialectPostgres)

	loc := time.FixedZone("X", 3*3600)
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, loc)

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+tokens\s*\(user_id,\s*token,\s*expires_at,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)$`).
		WithArgs("u-1", "tok", exp.UTC(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), "u-1", "tok", exp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFind(t *testing.T) {
	repo, mock := newRepo(t, sqlstore.DialectSQLite)

	exp := time.Now().Add(time.Hour)
	mock.ExpectQuery(`(?s)^SELECT\s+user_id,\s*token,\s*expires_at,\s*created_at\s+FROM\s+tokens\s+WHERE\s+token\s*=\s*\?\s+ORDER\s+BY\s+created_at$`).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(tokenColumns).AddRow("u-1", "tok", exp, time.Now()))

	got, err := repo.Find(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)
	assert.True(t, got.Live(time.Now()))
}

func TestFind_NotFound(t *testing.T) {
	repo, mock := newRepo(t, sqlstore.DialectPostgres)

	mock.ExpectQuery(`FROM\s+tokens`).WithArgs("nope").WillReturnRows(sqlmock.NewRows(tokenColumns))

	_, err := repo.Find(context.Background(), "nope")
	assert.True(t, errors.Is(err, common.ErrorNotFound))
}

func TestListByUser_KeepsOrder(t *testing.T) {
	repo, mock := newRepo(t, sqlstore.DialectPostgres)

	now := time.Now()
	mock.ExpectQuery(`FROM\s+tokens\s+WHERE\s+user_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow("u-1", "first", now, now).
			AddRow("u-1", "second", now, now.Add(time.Second)))

	list, err := repo.ListByUser(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Token)
	assert.Equal(t, "second", list[1].Token)
}

func TestDeleteByUser_ReportsCount(t *testing.T) {
	repo, mock := newRepo(t, sqlstore.DialectPostgres)

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+tokens\s+WHERE\s+user_id\s*=\s*\$1$`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteByUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestDelete_NotFound(t *testing.T) {
	repo, mock := newRepo(t, sqlstore.DialectPostgres)

	mock.ExpectExec(`DELETE\s+FROM\s+tokens`).WithArgs("tok").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.True(t, errors.Is(repo.Delete(context.Background(), "tok"), common.ErrorNotFound))
}
