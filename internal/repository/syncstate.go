package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mirrorsms/server/internal/model"
)

// SyncStateRepository owns the per-account sync coordination record.
type SyncStateRepository interface {
	// Get loads the sync state for an account.
	Get(ctx context.Context, accountID uuid.UUID) (*model.SyncState, error)

	// Begin atomically sets sync_in_progress for the account and returns the
	// state with SyncStartedAt acting as the run token for Commit/Abort.
	// It fails with errs.ErrSyncInProgress when another run holds the flag
	// and the flag is younger than staleAfter; an older flag is force-cleared
	// so a crashed run cannot lock the account forever.
	Begin(ctx context.Context, accountID uuid.UUID, staleAfter time.Duration) (*model.SyncState, error)

	// Commit applies the run's summary for the run identified by startedAt:
	// message counters, watermarks and (for a completing full sync) token
	// rotation. A final summary clears sync_in_progress; a non-final one
	// keeps the flag held for the run's remaining batches. A commit whose
	// run token no longer matches (the flag was force-cleared and taken
	// over) fails with errs.ErrSyncInProgress.
	Commit(ctx context.Context, accountID uuid.UUID, startedAt time.Time, sum model.SyncSummary) (*model.SyncState, error)

	// Abort clears sync_in_progress without advancing any watermark.
	Abort(ctx context.Context, accountID uuid.UUID, startedAt time.Time) error
}
