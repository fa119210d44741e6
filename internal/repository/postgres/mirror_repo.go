package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/mirrorsms/server/internal/errs"
	"github.com/mirrorsms/server/internal/model"
	"github.com/mirrorsms/server/internal/repository"
)

// MirrorRepo implements MirrorRepository using PostgreSQL. Device ids are
// the only identity; the mirror never mints ids of its own.
type MirrorRepo struct{ db *DB }

// NewMirrorRepo constructs a mirror repository.
func NewMirrorRepo(db *DB) *MirrorRepo { return &MirrorRepo{db: db} }

// UpsertConversation creates or updates a conversation and replaces its
// recipient set wholesale. The upsert never deletes the conversation row,
// so a concurrent reader can never observe a vanished thread mid-sync.
func (r *MirrorRepo) UpsertConversation(ctx context.Context, c *model.Conversation) (err error) {
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

	const up = `
INSERT INTO conversations (id, account_id, name, archived, blocked, pinned, last_message_date)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (account_id, id) DO UPDATE SET
  name=EXCLUDED.name, archived=EXCLUDED.archived, blocked=EXCLUDED.blocked,
  pinned=EXCLUDED.pinned,
  last_message_date=GREATEST(conversations.last_message_date, EXCLUDED.last_message_date)`
	if _, err = tx.Exec(ctx, up, c.ID, c.AccountID, c.Name, c.Archived, c.Blocked, c.Pinned, c.LastMessageDate); err != nil {
		return err
	}

	const del = `DELETE FROM recipients WHERE account_id=$1 AND conversation_id=$2`
	if _, err = tx.Exec(ctx, del, c.AccountID, c.ID); err != nil {
		return err
	}
	const ins = `
INSERT INTO recipients (account_id, conversation_id, address, contact_name)
VALUES ($1,$2,$3,$4)`
	for _, rcpt := range c.Recipients {
		if _, err = tx.Exec(ctx, ins, c.AccountID, c.ID, rcpt.Address, rcpt.ContactName); err != nil {
			return err
		}
	}
	return nil
}

// ApplyBatch applies new messages and status patches in one transaction.
// A message payload whose device date is older than the stored row is a
// late duplicate and is silently dropped; applying the same batch twice
// yields the same stored state.
func (r *MirrorRepo) ApplyBatch(
	ctx context.Context, accountID uuid.UUID, msgs []model.Message, patches []model.StatusPatch,
) (res repository.ApplyResult, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return repository.ApplyResult{}, err
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

	const up = `
INSERT INTO messages (id, account_id, conversation_id, address, body, kind, date, date_sent, read, seen, is_me, delivery_status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (account_id, id) DO UPDATE SET
  conversation_id=EXCLUDED.conversation_id, address=EXCLUDED.address, body=EXCLUDED.body,
  kind=EXCLUDED.kind, date=EXCLUDED.date, date_sent=EXCLUDED.date_sent,
  read=EXCLUDED.read, seen=EXCLUDED.seen, is_me=EXCLUDED.is_me,
  delivery_status=EXCLUDED.delivery_status
WHERE messages.date <= EXCLUDED.date
RETURNING (xmax = 0) AS inserted`
	const insAttach = `
INSERT INTO attachments (id, account_id, message_id, mime_type, size_bytes)
VALUES ($1,$2,$3,$4,$5)`

	lastDates := make(map[int64]int64) // conversation id -> max message date in batch
	for i := range msgs {
		m := msgs[i]
		var inserted bool
		scanErr := tx.QueryRow(ctx, up,
			m.ID, accountID, m.ConversationID, m.Address, m.Body, string(m.Kind),
			m.Date, m.DateSent, m.Read, m.Seen, m.IsMe, m.DeliveryStatus,
		).Scan(&inserted)
		switch {
		case scanErr == nil:
		case errors.Is(scanErr, pgx.ErrNoRows):
			// late duplicate; stored row is newer
			continue
		default:
			return repository.ApplyResult{}, scanErr
		}
		if d, ok := lastDates[m.ConversationID]; !ok || m.Date > d {
			lastDates[m.ConversationID] = m.Date
		}
		if !inserted {
			continue
		}
		res.NewMessages = append(res.NewMessages, m)
		for _, a := range m.Attachments {
			id := a.ID
			if id.IsNil() {
				if id, err = uuid.NewV4(); err != nil {
					return repository.ApplyResult{}, err
				}
			}
			if _, err = tx.Exec(ctx, insAttach, id, accountID, m.ID, a.MimeType, a.SizeBytes); err != nil {
				return repository.ApplyResult{}, err
			}
		}
	}

	const patch = `
UPDATE messages SET read=$3, seen=$4, delivery_status=$5
WHERE account_id=$1 AND id=$2`
	for _, p := range patches {
		tag, execErr := tx.Exec(ctx, patch, accountID, p.MessageID, p.Read, p.Seen, p.DeliveryStatus)
		if execErr != nil {
			return repository.ApplyResult{}, execErr
		}
		// Patches for unknown ids are skipped: the row will arrive with a
		// later delta and carry the status with it.
		if tag.RowsAffected() > 0 {
			res.PatchedMessages = append(res.PatchedMessages, p)
		}
	}

	const touch = `
UPDATE conversations SET last_message_date=GREATEST(last_message_date, $3)
WHERE account_id=$1 AND id=$2`
	for convID, maxDate := range lastDates {
		if _, err = tx.Exec(ctx, touch, accountID, convID, maxDate); err != nil {
			return repository.ApplyResult{}, err
		}
	}
	return res, nil
}

// GetMessage returns a single mirrored message without attachments.
func (r *MirrorRepo) GetMessage(ctx context.Context, accountID uuid.UUID, messageID int64) (*model.Message, error) {
	const q = `
SELECT id, conversation_id, address, body, kind, date, date_sent, read, seen, is_me, delivery_status
FROM messages WHERE account_id=$1 AND id=$2`
	m := model.Message{AccountID: accountID}
	var kind string
	err := r.db.Pool.QueryRow(ctx, q, accountID, messageID).Scan(
		&m.ID, &m.ConversationID, &m.Address, &m.Body, &kind,
		&m.Date, &m.DateSent, &m.Read, &m.Seen, &m.IsMe, &m.DeliveryStatus,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	m.Kind = model.MessageKind(kind)
	return &m, nil
}

// GetConversation returns a single conversation without recipients.
func (r *MirrorRepo) GetConversation(ctx context.Context, accountID uuid.UUID, conversationID int64) (*model.Conversation, error) {
	const q = `
SELECT id, name, archived, blocked, pinned, last_message_date
FROM conversations WHERE account_id=$1 AND id=$2`
	c := model.Conversation{AccountID: accountID}
	err := r.db.Pool.QueryRow(ctx, q, accountID, conversationID).Scan(
		&c.ID, &c.Name, &c.Archived, &c.Blocked, &c.Pinned, &c.LastMessageDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CountConversations reports how many conversations the account mirrors.
func (r *MirrorRepo) CountConversations(ctx context.Context, accountID uuid.UUID) (int64, error) {
	const q = `SELECT COUNT(*) FROM conversations WHERE account_id=$1`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, accountID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
