package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mirrorsms/server/internal/errs"
	"github.com/mirrorsms/server/internal/model"
)

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a refresh token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

// Store inserts a new refresh token record.
func (r *TokenRepo) Store(ctx context.Context, t *model.RefreshToken) error {
	const q = `
INSERT INTO refresh_tokens (token_hash, account_id, device_id, expires_at)
VALUES ($1,$2,$3,$4)`
	_, err := r.db.Pool.Exec(ctx, q, t.TokenHash, t.AccountID, t.DeviceID, t.ExpiresAt)
	return err
}

// Consume marks the token used in a single conditional update, so of two
// racing refresh calls only the first one wins; the loser observes an
// already-consumed token and fails closed.
func (r *TokenRepo) Consume(ctx context.Context, tokenHash []byte) (*model.RefreshToken, error) {
	const q = `
UPDATE refresh_tokens SET consumed_at=now()
WHERE token_hash=$1 AND consumed_at IS NULL AND expires_at > now()
RETURNING account_id, device_id, expires_at`
	t := model.RefreshToken{TokenHash: tokenHash}
	err := r.db.Pool.QueryRow(ctx, q, tokenHash).Scan(&t.AccountID, &t.DeviceID, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrUnauthorized
		}
		return nil, err
	}
	return &t, nil
}

// Revoke removes a token. Unknown tokens are a no-op.
func (r *TokenRepo) Revoke(ctx context.Context, tokenHash []byte) error {
	const q = `DELETE FROM refresh_tokens WHERE token_hash=$1`
	_, err := r.db.Pool.Exec(ctx, q, tokenHash)
	return err
}
