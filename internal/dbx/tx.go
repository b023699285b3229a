package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoActiveTransaction = errors.New("no active transaction")
	ErrTransactionActive   = errors.New("transaction already active")
	ErrTransactionDone     = errors.New("transaction already finished")
)

// TxState is the lifecycle position of a Tx.
type TxState int

const (
	TxIdle TxState = iota
	TxActive
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	}
	return fmt.Sprintf("TxState(%d)", int(s))
}

// TxManager hands out transactions from a connection pool.
type TxManager struct {
	db             *sql.DB
	acquireTimeout time.Duration
}

// NewTxManager returns a manager over db. A positive acquireTimeout bounds
// how long Begin waits for a free connection; zero waits for ctx only.
func NewTxManager(db *sql.DB, acquireTimeout time.Duration) *TxManager {
	return &TxManager{db: db, acquireTimeout: acquireTimeout}
}

// DB exposes the pool for non-transactional reads.
func (m *TxManager) DB() *sql.DB {
	return m.db
}

// NewTx returns an idle transaction handle bound to the manager's pool.
func (m *TxManager) NewTx() *Tx {
	return &Tx{db: m.db, acquireTimeout: m.acquireTimeout}
}

// Begin acquires a connection and starts a transaction on it.
func (m *TxManager) Begin(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx := m.NewTx()
	if err := tx.Begin(ctx, opts); err != nil {
		return nil, err
	}
	return tx, nil
}

// WithTx runs fn inside a transaction: commit on nil error, rollback on
// error or panic. Panics are rethrown after the rollback.
func (m *TxManager) WithTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := m.Begin(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// Tx is a single-use transaction handle: Idle -> Active -> Committed or
// RolledBack. Nesting is not supported.
type Tx struct {
	db             *sql.DB
	acquireTimeout time.Duration
	conn           *sql.Conn
	tx             *sql.Tx
	state          TxState
}

// State reports where the handle is in its lifecycle.
func (t *Tx) State() TxState {
	return t.state
}

// Begin starts the transaction. Calling it on a handle that is not idle
// fails with ErrTransactionActive or ErrTransactionDone.
func (t *Tx) Begin(ctx context.Context, opts *sql.TxOptions) error {
	switch t.state {
	case TxActive:
		return ErrTransactionActive
	case TxCommitted, TxRolledBack:
		return ErrTransactionDone
	}

	beginCtx := ctx
	if t.acquireTimeout > 0 {
		var cancel context.CancelFunc
		beginCtx, cancel = context.WithTimeout(ctx, t.acquireTimeout)
		defer cancel()
	}

	// The acquire deadline only applies while waiting for a connection:
	// database/sql rolls a transaction back when the context given to
	// BeginTx is cancelled.
	conn, err := t.db.Conn(beginCtx)
	if err != nil {
		return fmt.Errorf("begin transaction: acquire connection: %w", err)
	}
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("begin transaction: %w", err)
	}

	t.conn = conn
	t.tx = tx
	t.state = TxActive
	return nil
}

// Commit commits the transaction and releases its connection. The handle
// is finished even if the driver reports an error.
func (t *Tx) Commit() error {
	if err := t.requireActive(); err != nil {
		return err
	}
	t.state = TxCommitted
	err := t.tx.Commit()
	t.release()
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction and releases its connection.
func (t *Tx) Rollback() error {
	if err := t.requireActive(); err != nil {
		return err
	}
	t.state = TxRolledBack
	err := t.tx.Rollback()
	t.release()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// release hands the connection back to the pool once the transaction ended.
func (t *Tx) release() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *Tx) requireActive() error {
	switch t.state {
	case TxIdle:
		return ErrNoActiveTransaction
	case TxCommitted, TxRolledBack:
		return ErrTransactionDone
	}
	return nil
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := t.requireActive(); err != nil {
		return nil, err
	}
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := t.requireActive(); err != nil {
		return nil, err
	}
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext panics on a handle that was never begun; after the
// transaction ended Scan reports sql.ErrTxDone.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if t.tx == nil {
		panic(ErrNoActiveTransaction)
	}
	return t.tx.QueryRowContext(ctx, query, args...)
}
