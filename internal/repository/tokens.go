package repository

import (
	"context"

	"github.com/mirrorsms/server/internal/model"
)

// TokenRepository stores refresh tokens by hash. Raw tokens never reach
// the database.
type TokenRepository interface {
	// Store inserts a new refresh token record.
	Store(ctx context.Context, t *model.RefreshToken) error

	// Consume atomically marks the token used and returns its record. A
	// token that is unknown, expired, or already consumed fails with
	// errs.ErrUnauthorized; only the first of two racing calls succeeds.
	Consume(ctx context.Context, tokenHash []byte) (*model.RefreshToken, error)

	// Revoke removes a token (logout). Unknown tokens are a no-op.
	Revoke(ctx context.Context, tokenHash []byte) error
}
