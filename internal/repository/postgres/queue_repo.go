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

// QueueRepo implements QueueRepository using PostgreSQL. Rows are kept
// after confirmation for audit and idempotence.
type QueueRepo struct{ db *DB }

// NewQueueRepo constructs a queue repository.
func NewQueueRepo(db *DB) *QueueRepo { return &QueueRepo{db: db} }

// Enqueue persists a new outbound message.
func (r *QueueRepo) Enqueue(ctx context.Context, q *model.QueuedMessage) error {
	const ins = `
INSERT INTO queued_messages (id, account_id, conversation_id, addresses, body, picked_up, sent)
VALUES ($1,$2,$3,$4,$5,false,false)`
	var convID *int64
	if q.ConversationID != 0 {
		convID = &q.ConversationID
	}
	_, err := r.db.Pool.Exec(ctx, ins, q.ID, q.AccountID, convID, q.Addresses, q.Body)
	return err
}

// FetchPending marks all unsent rows picked up and returns them oldest
// first. Mark-and-return is one statement so a crash between the two
// cannot strand a row half-delivered; re-fetching rows that were picked
// up but never confirmed is the documented at-least-once contract.
func (r *QueueRepo) FetchPending(ctx context.Context, accountID uuid.UUID) ([]model.QueuedMessage, error) {
	const q = `
WITH picked AS (
  UPDATE queued_messages SET picked_up=true
  WHERE account_id=$1 AND sent=false
  RETURNING id, conversation_id, addresses, body, created_at
)
SELECT id, conversation_id, addresses, body, created_at
FROM picked ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.QueuedMessage
	for rows.Next() {
		qm := model.QueuedMessage{AccountID: accountID, PickedUp: true}
		var convID *int64
		var createdAt time.Time
		if err = rows.Scan(&qm.ID, &convID, &qm.Addresses, &qm.Body, &createdAt); err != nil {
			return nil, err
		}
		if convID != nil {
			qm.ConversationID = *convID
		}
		qm.CreatedAt = createdAt
		out = append(out, qm)
	}
	return out, rows.Err()
}

// ConfirmSent marks the row sent. An already-sent row is a no-op success
// so retried confirmations after a network blip do not fail the device.
func (r *QueueRepo) ConfirmSent(ctx context.Context, accountID, queueID uuid.UUID, deviceMessageID int64) (*model.QueuedMessage, error) {
	const upd = `
UPDATE queued_messages SET sent=true, device_message_id=$3
WHERE account_id=$1 AND id=$2 AND sent=false
RETURNING conversation_id, addresses, body, created_at`
	qm := model.QueuedMessage{ID: queueID, AccountID: accountID, PickedUp: true, Sent: true, DeviceMessageID: deviceMessageID}
	var convID *int64
	err := r.db.Pool.QueryRow(ctx, upd, accountID, queueID, deviceMessageID).
		Scan(&convID, &qm.Addresses, &qm.Body, &qm.CreatedAt)
	if err == nil {
		if convID != nil {
			qm.ConversationID = *convID
		}
		return &qm, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Either already confirmed (idempotent success) or unknown id.
	const sel = `
SELECT conversation_id, addresses, body, created_at, device_message_id
FROM queued_messages WHERE account_id=$1 AND id=$2 AND sent=true`
	var devID *int64
	err = r.db.Pool.QueryRow(ctx, sel, accountID, queueID).
		Scan(&convID, &qm.Addresses, &qm.Body, &qm.CreatedAt, &devID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if convID != nil {
		qm.ConversationID = *convID
	}
	if devID != nil {
		qm.DeviceMessageID = *devID
	}
	return &qm, nil
}
