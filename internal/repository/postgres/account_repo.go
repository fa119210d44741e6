package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/mirrorsms/server/internal/errs"
	"github.com/mirrorsms/server/internal/model"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// Create inserts the account and its empty sync state in one transaction.
// The sync token is minted here so a freshly registered device always has
// an epoch to sync against.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const insAccount = `
INSERT INTO accounts (id, username, pwd_hash, salt_auth, device_id)
VALUES ($1, $2, $3, $4, $5)`
	if _, err = tx.Exec(ctx, insAccount, a.ID, a.Username, a.PwdHash, a.SaltAuth, a.DeviceID); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		return err
	}

	token, err := uuid.NewV4()
	if err != nil {
		return err
	}
	const insState = `INSERT INTO sync_state (account_id, sync_token) VALUES ($1, $2)`
	if _, err = tx.Exec(ctx, insState, a.ID, token); err != nil {
		return err
	}
	return nil
}

// GetByID selects an account by ID.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const q = `
SELECT id, username, pwd_hash, salt_auth, device_id, created_at, last_login_at
FROM accounts WHERE id=$1`
	return r.scanAccount(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByUsername selects an account by username.
func (r *AccountRepo) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	const q = `
SELECT id, username, pwd_hash, salt_auth, device_id, created_at, last_login_at
FROM accounts WHERE username=$1`
	return r.scanAccount(r.db.Pool.QueryRow(ctx, q, username))
}

// TouchLogin records the login time.
func (r *AccountRepo) TouchLogin(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE accounts SET last_login_at=now() WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id)
	return err
}

func (r *AccountRepo) scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var lastLogin *time.Time
	err := row.Scan(&a.ID, &a.Username, &a.PwdHash, &a.SaltAuth, &a.DeviceID, &a.CreatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	if lastLogin != nil {
		a.LastLoginAt = *lastLogin
	}
	return &a, nil
}
