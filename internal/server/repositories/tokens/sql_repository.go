package tokens

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/dbx"
	"github.com/dmitrijs2005/passkeeper/internal/server/models"
	"github.com/dmitrijs2005/passkeeper/internal/server/sqlstore"
)

const table = "tokens"

var columns = []string{"user_id", "token", "expires_at", "created_at"}

type SQLRepository struct {
	db    dbx.DBTX
	store *sqlstore.Store
}

func NewSQLRepository(db dbx.DBTX, store *sqlstore.Store) *SQLRepository {
	return &SQLRepository{db: db, store: store}
}

func (r *SQLRepository) Create(ctx context.Context, userID string, token string, expiresAt time.Time) error {
	_, err := r.store.Create(ctx, r.db, table, sqlstore.Fields{
		sqlstore.F("user_id", userID),
		sqlstore.F("token", token),
		sqlstore.F("expires_at", expiresAt.UTC()),
		sqlstore.F("created_at", time.Now().UTC()),
	}, "")
	return err
}

func (r *SQLRepository) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	list, err := r.list(ctx, sqlstore.Where(sqlstore.F("token", token)))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, common.ErrorNotFound
	}
	return &list[0], nil
}

func (r *SQLRepository) ListByUser(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	return r.list(ctx, sqlstore.Where(sqlstore.F("user_id", userID)))
}

func (r *SQLRepository) Delete(ctx context.Context, token string) error {
	n, err := r.store.Remove(ctx, r.db, table, sqlstore.Where(sqlstore.F("token", token)))
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	return r.store.Remove(ctx, r.db, table, sqlstore.Where(sqlstore.F("user_id", userID)))
}

func (r *SQLRepository) list(ctx context.Context, where sqlstore.Predicate) ([]models.RefreshToken, error) {
	rows, err := r.store.Read(ctx, r.db, table, columns, where, "created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, common.NewStorageError("select "+table, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("select "+table, err)
	}
	return out, nil
}

func scanToken(rows *sql.Rows) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := rows.Scan(&t.UserID, &t.Token, &t.Expires, &t.CreatedAt)
	return t, err
}
