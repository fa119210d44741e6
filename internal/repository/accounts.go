// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/mirrorsms/server/internal/model"
)

// AccountRepository provides access to registered accounts.
type AccountRepository interface {
	// Create inserts a new account and its empty sync state.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByUsername loads an account by username.
	GetByUsername(ctx context.Context, username string) (*model.Account, error)
	// TouchLogin records a successful login time.
	TouchLogin(ctx context.Context, id uuid.UUID) error
}
