package masterpasswords

import (
	"context"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/dbx"
	"github.com/dmitrijs2005/passkeeper/internal/server/models"
	"github.com/dmitrijs2005/passkeeper/internal/server/sqlstore"
)

const table = "masterpassword"

type SQLRepository struct {
	db    dbx.DBTX
	store *sqlstore.Store
}

func NewSQLRepository(db dbx.DBTX, store *sqlstore.Store) *SQLRepository {
	return &SQLRepository{db: db, store: store}
}

func (r *SQLRepository) Create(ctx context.Context, userID string, hash string) error {
	_, err := r.store.Create(ctx, r.db, table, sqlstore.Fields{
		sqlstore.F("user_id", userID),
		sqlstore.F("master_password_hash", hash),
		sqlstore.F("created_at", time.Now().UTC()),
	}, "")
	return err
}

func (r *SQLRepository) GetByUserID(ctx context.Context, userID string) (*models.MasterCredential, error) {
	rows, err := r.store.Read(ctx, r.db, table,
		[]string{"user_id", "master_password_hash", "created_at"},
		sqlstore.Where(sqlstore.F("user_id", userID)), "created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, common.NewStorageError("select "+table, err)
		}
		return nil, common.ErrorNotFound
	}

	m := &models.MasterCredential{}
	if err := rows.Scan(&m.UserID, &m.MasterPasswordHash, &m.CreatedAt); err != nil {
		return nil, common.NewStorageError("select "+table, err)
	}
	return m, nil
}

func (r *SQLRepository) UpdateHash(ctx context.Context, userID string, hash string) error {
	n, err := r.store.Update(ctx, r.db, table,
		sqlstore.Fields{sqlstore.F("master_password_hash", hash)},
		sqlstore.Where(sqlstore.F("user_id", userID)))
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
