package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mirrorsms/server/internal/errs"
	"github.com/mirrorsms/server/internal/model"
	"github.com/mirrorsms/server/internal/relay"
	"github.com/mirrorsms/server/internal/repository"
)

// FullSyncBatch is one slice of the device's complete snapshot. The device
// streams the snapshot in numbered batches; conversations ride along only
// in the first one.
type FullSyncBatch struct {
	Conversations []model.Conversation
	Messages      []model.Message
	BatchNumber   int
	TotalBatches  int
}

// IncrementalDelta is a bounded device delta scoped to a sync token epoch.
type IncrementalDelta struct {
	Conversations []model.Conversation
	NewMessages   []model.Message
	StatusUpdates []model.StatusPatch
}

// SyncStatus is the caller-facing view of an account's sync state plus the
// progress of a run currently executing, if any.
type SyncStatus struct {
	State    model.SyncState
	Progress *model.SyncProgress // nil when no run is executing
}

// SyncService coordinates full and incremental mailbox synchronization.
type SyncService interface {
	// FullSync applies one batch of a full snapshot. The completing batch
	// rotates the sync token and sets lastFullSyncAt.
	FullSync(ctx context.Context, accountID uuid.UUID, batch FullSyncBatch) (*model.SyncState, error)
	// IncrementalSync applies a delta against the presented token epoch.
	// A mismatched token fails with ErrStaleToken and mutates nothing.
	IncrementalSync(ctx context.Context, accountID uuid.UUID, token uuid.UUID, delta IncrementalDelta) (*model.SyncState, error)
	// Status reports the stored sync state and any in-flight run progress.
	Status(ctx context.Context, accountID uuid.UUID) (*SyncStatus, error)
}

type SyncServiceImpl struct {
	states     repository.SyncStateRepository
	mirror     repository.MirrorRepository
	events     *relay.Relay
	staleAfter time.Duration

	mu       sync.Mutex
	progress map[uuid.UUID]model.SyncProgress
}

// NewSyncService constructs SyncService. staleAfter is the liveness
// timeout after which a stuck sync flag is force-cleared.
func NewSyncService(
	states repository.SyncStateRepository,
	mirror repository.MirrorRepository,
	events *relay.Relay,
	staleAfter time.Duration,
) *SyncServiceImpl {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &SyncServiceImpl{
		states:     states,
		mirror:     mirror,
		events:     events,
		staleAfter: staleAfter,
		progress:   make(map[uuid.UUID]model.SyncProgress),
	}
}

// FullSync applies one snapshot batch via upserts only; there is no
// destructive clear-then-fill window, so a concurrent reader never sees an
// empty mailbox mid-sync.
func (s *SyncServiceImpl) FullSync(ctx context.Context, accountID uuid.UUID, batch FullSyncBatch) (st *model.SyncState, err error) {
	if batch.TotalBatches < 1 || batch.BatchNumber < 1 || batch.BatchNumber > batch.TotalBatches {
		return nil, fmt.Errorf("%w: bad batch numbering %d/%d", errs.ErrValidation, batch.BatchNumber, batch.TotalBatches)
	}

	first := batch.BatchNumber == 1
	final := batch.BatchNumber == batch.TotalBatches

	var run *model.SyncState
	if first {
		s.resetProgress(accountID)
		s.setStage(accountID, model.StageAuthenticating, 0, batch.TotalBatches)
		run, err = s.states.Begin(ctx, accountID, s.staleAfter)
	} else {
		// Continuation batch: the flag is normally still held by this run;
		// re-acquire if a liveness timeout cleared it mid-run.
		run, err = s.states.Get(ctx, accountID)
		if err == nil && !run.SyncInProgress {
			run, err = s.states.Begin(ctx, accountID, s.staleAfter)
		}
	}
	if err != nil {
		s.setStage(accountID, model.StageError, batch.BatchNumber, batch.TotalBatches)
		return nil, err
	}
	defer func() {
		if err != nil {
			s.setStage(accountID, model.StageError, batch.BatchNumber, batch.TotalBatches)
			_ = s.states.Abort(ctx, accountID, run.SyncStartedAt)
		}
	}()

	if first {
		s.setStage(accountID, model.StageSyncingConversations, 0, len(batch.Conversations))
		for i := range batch.Conversations {
			c := batch.Conversations[i]
			c.AccountID = accountID
			if err = s.mirror.UpsertConversation(ctx, &c); err != nil {
				return nil, err
			}
			s.setStage(accountID, model.StageSyncingConversations, i+1, len(batch.Conversations))
		}
	}

	s.setStage(accountID, model.StageSyncingMessages, batch.BatchNumber, batch.TotalBatches)
	for i := range batch.Messages {
		batch.Messages[i].AccountID = accountID
	}
	res, err := s.mirror.ApplyBatch(ctx, accountID, batch.Messages, nil)
	if err != nil {
		return nil, err
	}
	if final {
		// Attachment bytes are fetched lazily; this stage covers the
		// metadata already written with the final message batch.
		s.setStage(accountID, model.StageUploadingAttachments, batch.BatchNumber, batch.TotalBatches)
	}

	sum := model.SyncSummary{
		Kind:             model.SyncFull,
		MessagesAdded:    int64(len(res.NewMessages)),
		ConversationsSet: int64(len(batch.Conversations)),
		ResetMessages:    first,
		Final:            final,
	}
	st, err = s.states.Commit(ctx, accountID, run.SyncStartedAt, sum)
	if err != nil {
		return nil, err
	}
	if final {
		s.setStage(accountID, model.StageComplete, batch.TotalBatches, batch.TotalBatches)
	}
	return st, nil
}

// IncrementalSync verifies the token epoch, applies the whole delta in one
// transaction, then advances the watermark with the commit so the
// watermark never outruns applied data. Each applied mutation publishes a
// relay event for the owning account.
func (s *SyncServiceImpl) IncrementalSync(ctx context.Context, accountID uuid.UUID, token uuid.UUID, delta IncrementalDelta) (st *model.SyncState, err error) {
	cur, err := s.states.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	// Refuse before any mutation: deltas computed against an old epoch
	// cannot be partially reconciled.
	if token != cur.SyncToken {
		return nil, errs.ErrStaleToken
	}

	run, err := s.states.Begin(ctx, accountID, s.staleAfter)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = s.states.Abort(ctx, accountID, run.SyncStartedAt)
		}
	}()
	// The epoch could have rotated between Get and Begin; re-check under
	// the flag.
	if token != run.SyncToken {
		err = errs.ErrStaleToken
		return nil, err
	}

	for i := range delta.Conversations {
		c := delta.Conversations[i]
		c.AccountID = accountID
		if err = s.mirror.UpsertConversation(ctx, &c); err != nil {
			return nil, err
		}
	}
	for i := range delta.NewMessages {
		delta.NewMessages[i].AccountID = accountID
	}
	res, err := s.mirror.ApplyBatch(ctx, accountID, delta.NewMessages, delta.StatusUpdates)
	if err != nil {
		return nil, err
	}

	sum := model.SyncSummary{
		Kind:          model.SyncIncremental,
		MessagesAdded: int64(len(res.NewMessages)),
		Final:         true,
	}
	st, err = s.states.Commit(ctx, accountID, run.SyncStartedAt, sum)
	if err != nil {
		return nil, err
	}

	for _, m := range res.NewMessages {
		s.events.Publish(accountID, relay.NewMessage{Message: m})
	}
	for _, p := range res.PatchedMessages {
		s.events.Publish(accountID, relay.MessageStatusChanged{MessageIDs: []int64{p.MessageID}, Patch: p})
	}
	for i := range delta.Conversations {
		c := delta.Conversations[i]
		c.AccountID = accountID
		s.events.Publish(accountID, relay.ConversationUpdated{Conversation: c})
	}
	return st, nil
}

// Status reports stored state plus in-flight run progress.
func (s *SyncServiceImpl) Status(ctx context.Context, accountID uuid.UUID) (*SyncStatus, error) {
	st, err := s.states.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := &SyncStatus{State: *st}
	if st.SyncInProgress {
		if p, ok := s.getProgress(accountID); ok {
			out.Progress = &p
		}
	}
	return out, nil
}

// setStage records progress for an account's running sync. Stages are
// monotonic per run: a report lower than what a client already observed is
// discarded.
func (s *SyncServiceImpl) setStage(accountID uuid.UUID, stage model.SyncStage, current, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.progress[accountID]; ok && stage < p.Stage {
		return
	}
	s.progress[accountID] = model.SyncProgress{Stage: stage, Current: current, Total: total}
}

func (s *SyncServiceImpl) resetProgress(accountID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progress, accountID)
}

func (s *SyncServiceImpl) getProgress(accountID uuid.UUID) (model.SyncProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[accountID]
	return p, ok
}
