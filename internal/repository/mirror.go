package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/mirrorsms/server/internal/model"
)

// ApplyResult reports what a batch upsert actually changed, so callers can
// count and publish only real mutations.
type ApplyResult struct {
	NewMessages     []model.Message     // rows that did not exist before
	PatchedMessages []model.StatusPatch // status patches that landed on existing rows
}

// MirrorRepository is the durable server-side copy of a device mailbox.
// All upserts are idempotent: applying the same payload twice yields the
// same stored state, and a payload older (by device date) than the stored
// row is rejected as a late duplicate.
type MirrorRepository interface {
	// UpsertConversation creates or updates a conversation and replaces its
	// recipient set wholesale. lastMessageDate only ever advances.
	UpsertConversation(ctx context.Context, c *model.Conversation) error

	// ApplyBatch applies new messages and status patches in one transaction:
	// either the whole batch lands or none of it. Conversation
	// last_message_date is advanced for every affected thread.
	ApplyBatch(ctx context.Context, accountID uuid.UUID, msgs []model.Message, patches []model.StatusPatch) (ApplyResult, error)

	// GetMessage returns a single mirrored message.
	GetMessage(ctx context.Context, accountID uuid.UUID, messageID int64) (*model.Message, error)

	// GetConversation returns a single conversation without recipients.
	GetConversation(ctx context.Context, accountID uuid.UUID, conversationID int64) (*model.Conversation, error)

	// CountConversations reports how many conversations the account mirrors.
	CountConversations(ctx context.Context, accountID uuid.UUID) (int64, error)
}
