package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/dbx"
	"github.com/dmitrijs2005/passkeeper/internal/server/models"
	"github.com/dmitrijs2005/passkeeper/internal/server/sqlstore"
	"github.com/google/uuid"
)

const table = "users"

var columns = []string{"id", "username", "email", "password_hash", "created_at"}

// SQLRepository implements Repository over dbx.DBTX (satisfied by *sql.DB
// or a transaction).
type SQLRepository struct {
	db    dbx.DBTX
	store *sqlstore.Store
}

// NewSQLRepository constructs a repository bound to the given DBTX.
func NewSQLRepository(db dbx.DBTX, store *sqlstore.Store) *SQLRepository {
	return &SQLRepository{db: db, store: store}
}

func (r *SQLRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	id, err := r.store.Create(ctx, r.db, table, sqlstore.Fields{
		sqlstore.F("id", user.ID),
		sqlstore.F("username", user.Username),
		sqlstore.F("email", user.Email),
		sqlstore.F("password_hash", user.PasswordHash),
		sqlstore.F("created_at", user.CreatedAt),
	}, "id")
	if err != nil {
		return nil, err
	}

	user.ID = id
	return user, nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, sqlstore.Where(sqlstore.F("id", id)))
}

func (r *SQLRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, sqlstore.Where(sqlstore.F("username", username)))
}

func (r *SQLRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, sqlstore.Where(sqlstore.F("email", email)))
}

func (r *SQLRepository) UpdateUsername(ctx context.Context, id string, username string) error {
	return r.update(ctx, id, sqlstore.F("username", username))
}

func (r *SQLRepository) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	return r.update(ctx, id, sqlstore.F("password_hash", hash))
}

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	n, err := r.store.Remove(ctx, r.db, table, sqlstore.Where(sqlstore.F("id", id)))
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLRepository) update(ctx context.Context, id string, f sqlstore.Field) error {
	n, err := r.store.Update(ctx, r.db, table, sqlstore.Fields{f}, sqlstore.Where(sqlstore.F("id", id)))
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// getOne returns the first matching row in insertion order.
func (r *SQLRepository) getOne(ctx context.Context, where sqlstore.Predicate) (*models.User, error) {
	rows, err := r.store.Read(ctx, r.db, table, columns, where, "created_at")
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

	user, err := scanUser(rows)
	if err != nil {
		return nil, common.NewStorageError("select "+table, err)
	}
	return user, nil
}

func scanUser(rows *sql.Rows) (*models.User, error) {
	u := &models.User{}
	if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}
