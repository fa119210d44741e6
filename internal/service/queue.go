package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/mirrorsms/server/internal/errs"
	"github.com/mirrorsms/server/internal/model"
	"github.com/mirrorsms/server/internal/relay"
	"github.com/mirrorsms/server/internal/repository"
)

// QueueService is the outbound handoff: the web client enqueues, the
// device picks up and confirms.
type QueueService interface {
	// Enqueue validates and persists a send request, returning its queue id.
	Enqueue(ctx context.Context, accountID uuid.UUID, conversationID int64, addresses []string, body string) (uuid.UUID, error)
	// FetchPending returns all unsent items for the device, marking them
	// picked up. Redelivery of unconfirmed items is at-least-once; the
	// device dedupes by queue id.
	FetchPending(ctx context.Context, accountID uuid.UUID) ([]model.QueuedMessage, error)
	// ConfirmSent marks an item sent and links it to the device message id.
	// Confirming an already-sent item succeeds without effect.
	ConfirmSent(ctx context.Context, accountID, queueID uuid.UUID, deviceMessageID int64) error
}

type QueueServiceImpl struct {
	queue      repository.QueueRepository
	mirror     repository.MirrorRepository
	events     *relay.Relay
	maxBodyLen int
}

// NewQueueService constructs QueueService with a body length bound.
func NewQueueService(queue repository.QueueRepository, mirror repository.MirrorRepository, events *relay.Relay, maxBodyLen int) *QueueServiceImpl {
	if maxBodyLen <= 0 {
		maxBodyLen = 10000
	}
	return &QueueServiceImpl{queue: queue, mirror: mirror, events: events, maxBodyLen: maxBodyLen}
}

// Enqueue rejects invalid input before any mutation. A conversation id,
// when given, must refer to a mirrored thread.
func (s *QueueServiceImpl) Enqueue(ctx context.Context, accountID uuid.UUID, conversationID int64, addresses []string, body string) (uuid.UUID, error) {
	if len(addresses) == 0 {
		return uuid.Nil, fmt.Errorf("%w: empty addresses", errs.ErrValidation)
	}
	for _, a := range addresses {
		if a == "" {
			return uuid.Nil, fmt.Errorf("%w: empty address", errs.ErrValidation)
		}
	}
	if body == "" {
		return uuid.Nil, fmt.Errorf("%w: empty body", errs.ErrValidation)
	}
	if len(body) > s.maxBodyLen {
		return uuid.Nil, fmt.Errorf("%w: body exceeds %d bytes", errs.ErrValidation, s.maxBodyLen)
	}
	if conversationID != 0 {
		if _, err := s.mirror.GetConversation(ctx, accountID, conversationID); err != nil {
			return uuid.Nil, err
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	qm := &model.QueuedMessage{
		ID:             id,
		AccountID:      accountID,
		ConversationID: conversationID,
		Addresses:      addresses,
		Body:           body,
	}
	if err := s.queue.Enqueue(ctx, qm); err != nil {
		return uuid.Nil, err
	}
	// Nudge a connected device-side poller instead of letting the item
	// wait out the poll interval.
	s.events.Publish(accountID, relay.QueueNotify{QueueID: id})
	return id, nil
}

// FetchPending delegates to the repository's mark-and-return.
func (s *QueueServiceImpl) FetchPending(ctx context.Context, accountID uuid.UUID) ([]model.QueuedMessage, error) {
	return s.queue.FetchPending(ctx, accountID)
}

// ConfirmSent marks the queue row sent and, when the mirror already holds
// the device's copy of the message, announces MESSAGE_SENT to web
// sessions. If the mirror copy has not arrived yet it will come with the
// next incremental sync, linked by deviceMessageId.
func (s *QueueServiceImpl) ConfirmSent(ctx context.Context, accountID, queueID uuid.UUID, deviceMessageID int64) error {
	qm, err := s.queue.ConfirmSent(ctx, accountID, queueID, deviceMessageID)
	if err != nil {
		return err
	}
	msg, err := s.mirror.GetMessage(ctx, accountID, qm.DeviceMessageID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	s.events.Publish(accountID, relay.MessageSent{
		QueueID:         queueID,
		DeviceMessageID: qm.DeviceMessageID,
		Message:         *msg,
	})
	return nil
}
