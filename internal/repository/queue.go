package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/mirrorsms/server/internal/model"
)

// QueueRepository is the durable outbound message queue. Rows are never
// deleted; the queue id is the idempotency key end-to-end.
type QueueRepository interface {
	// Enqueue persists a new outbound message with pickedUp=false, sent=false.
	Enqueue(ctx context.Context, q *model.QueuedMessage) error

	// FetchPending returns all unsent rows for the account ordered by
	// creation time and marks them picked up. Re-fetching not-yet-confirmed
	// rows is the documented at-least-once contract.
	FetchPending(ctx context.Context, accountID uuid.UUID) ([]model.QueuedMessage, error)

	// ConfirmSent marks a row sent and records the device message id.
	// Confirming an already-sent row is a no-op success. Unknown ids fail
	// with errs.ErrNotFound.
	ConfirmSent(ctx context.Context, accountID, queueID uuid.UUID, deviceMessageID int64) (*model.QueuedMessage, error)
}
