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

// SyncStateRepo implements SyncStateRepository using PostgreSQL. The
// sync_in_progress flag is the only explicit mutual-exclusion point in the
// system; Begin/Commit/Abort all operate on it with single conditional
// updates so two racing runs cannot both win.
type SyncStateRepo struct{ db *DB }

// NewSyncStateRepo constructs a sync state repository.
func NewSyncStateRepo(db *DB) *SyncStateRepo { return &SyncStateRepo{db: db} }

// Get loads the sync state for an account.
func (r *SyncStateRepo) Get(ctx context.Context, accountID uuid.UUID) (*model.SyncState, error) {
	const q = `
SELECT sync_token, last_full_sync, last_incremental_sync,
       total_messages, total_conversations, sync_in_progress, sync_started_at
FROM sync_state WHERE account_id=$1`
	st := model.SyncState{AccountID: accountID}
	var lastFull, lastInc, startedAt *time.Time
	err := r.db.Pool.QueryRow(ctx, q, accountID).Scan(
		&st.SyncToken, &lastFull, &lastInc,
		&st.TotalMessages, &st.TotalConversations, &st.SyncInProgress, &startedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	applyTimes(&st, lastFull, lastInc, startedAt)
	return &st, nil
}

// Begin is the compare-and-set on sync_in_progress. The staleness guard
// lets a new run take over a flag older than staleAfter, trading strict
// mutual exclusion for liveness after a crashed run.
func (r *SyncStateRepo) Begin(ctx context.Context, accountID uuid.UUID, staleAfter time.Duration) (*model.SyncState, error) {
	const q = `
UPDATE sync_state
SET sync_in_progress=true, sync_started_at=now()
WHERE account_id=$1
  AND (sync_in_progress=false OR sync_started_at < now() - $2::interval)
RETURNING sync_token, last_full_sync, last_incremental_sync,
          total_messages, total_conversations, sync_started_at`
	st := model.SyncState{AccountID: accountID, SyncInProgress: true}
	var lastFull, lastInc, startedAt *time.Time
	err := r.db.Pool.QueryRow(ctx, q, accountID, staleAfter).Scan(
		&st.SyncToken, &lastFull, &lastInc,
		&st.TotalMessages, &st.TotalConversations, &startedAt,
	)
	if err == nil {
		applyTimes(&st, lastFull, lastInc, startedAt)
		return &st, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// Zero rows: either the account is unknown or another run holds a
	// fresh flag. Distinguish so callers can map the status correctly.
	if _, gerr := r.Get(ctx, accountID); gerr != nil {
		return nil, gerr
	}
	return nil, errs.ErrSyncInProgress
}

// Commit applies the summary for the run identified by startedAt. A
// non-final batch keeps the flag held so the run spans its remaining
// batches; the final batch clears it. The run token check means a run
// whose flag was force-cleared and re-acquired cannot clobber the
// successor's state.
func (r *SyncStateRepo) Commit(ctx context.Context, accountID uuid.UUID, startedAt time.Time, sum model.SyncSummary) (*model.SyncState, error) {
	newToken, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	const q = `
UPDATE sync_state SET
  sync_in_progress = CASE WHEN $6 THEN false ELSE sync_in_progress END,
  sync_started_at = CASE WHEN $6 THEN NULL ELSE sync_started_at END,
  total_messages = CASE WHEN $3 THEN $4::bigint ELSE total_messages + $4::bigint END,
  total_conversations = CASE WHEN $3 THEN $5::bigint ELSE total_conversations END,
  last_full_sync = CASE WHEN $6 AND $7 = 'full' THEN now() ELSE last_full_sync END,
  last_incremental_sync = CASE WHEN $6 AND $7 = 'incremental' THEN now() ELSE last_incremental_sync END,
  sync_token = CASE WHEN $6 AND $7 = 'full' THEN $8::uuid ELSE sync_token END
WHERE account_id=$1 AND sync_in_progress AND sync_started_at=$2
RETURNING sync_token, last_full_sync, last_incremental_sync, total_messages, total_conversations`
	st := model.SyncState{AccountID: accountID}
	var lastFull, lastInc *time.Time
	err = r.db.Pool.QueryRow(ctx, q,
		accountID, startedAt,
		sum.ResetMessages, sum.MessagesAdded, sum.ConversationsSet,
		sum.Final, string(sum.Kind), newToken,
	).Scan(&st.SyncToken, &lastFull, &lastInc, &st.TotalMessages, &st.TotalConversations)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrSyncInProgress
		}
		return nil, err
	}
	applyTimes(&st, lastFull, lastInc, nil)
	return &st, nil
}

// Abort clears the flag without touching counters or watermarks. A run
// whose flag was already taken over has nothing left to clear.
func (r *SyncStateRepo) Abort(ctx context.Context, accountID uuid.UUID, startedAt time.Time) error {
	const q = `
UPDATE sync_state SET sync_in_progress=false, sync_started_at=NULL
WHERE account_id=$1 AND sync_in_progress AND sync_started_at=$2`
	_, err := r.db.Pool.Exec(ctx, q, accountID, startedAt)
	return err
}

func applyTimes(st *model.SyncState, lastFull, lastInc, startedAt *time.Time) {
	if lastFull != nil {
		st.LastFullSyncAt = *lastFull
	}
	if lastInc != nil {
		st.LastIncrementalSyncAt = *lastInc
	}
	if startedAt != nil {
		st.SyncStartedAt = *startedAt
	}
}
