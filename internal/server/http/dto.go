// Package httpserver exposes the sync, queue and auth HTTP API plus the
// websocket push channel.
package httpserver

import (
	"time"

	"github.com/mirrorsms/server/internal/model"
	"github.com/mirrorsms/server/internal/relay"
	"github.com/mirrorsms/server/internal/service"
)

// --- auth ---

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

type registerResponse struct {
	AccountID string `json:"accountId"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokensResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	AccountID    string    `json:"accountId,omitempty"`
}

// --- sync ---

type recipientDTO struct {
	Address     string `json:"address"`
	ContactName string `json:"contactName,omitempty"`
}

type conversationDTO struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name,omitempty"`
	Archived        bool           `json:"archived"`
	Blocked         bool           `json:"blocked"`
	Pinned          bool           `json:"pinned"`
	LastMessageDate int64          `json:"lastMessageDate,omitempty"`
	Recipients      []recipientDTO `json:"recipients"`
}

type attachmentDTO struct {
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

type messageDTO struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversationId"`
	Address        string          `json:"address"`
	Body           string          `json:"body,omitempty"`
	Kind           string          `json:"type"`
	Date           int64           `json:"date"`
	DateSent       int64           `json:"dateSent,omitempty"`
	Read           bool            `json:"read"`
	Seen           bool            `json:"seen"`
	IsMe           bool            `json:"isMe"`
	DeliveryStatus int             `json:"deliveryStatus,omitempty"`
	Attachments    []attachmentDTO `json:"attachments,omitempty"`
}

type statusUpdateDTO struct {
	ID             int64 `json:"id"`
	Read           bool  `json:"read"`
	Seen           bool  `json:"seen"`
	DeliveryStatus int   `json:"deliveryStatus,omitempty"`
}

type fullSyncRequest struct {
	Conversations []conversationDTO `json:"conversations"`
	Messages      []messageDTO      `json:"messages"`
	BatchNumber   int               `json:"batchNumber"`
	TotalBatches  int               `json:"totalBatches"`
}

type incrementalSyncRequest struct {
	SyncToken     string            `json:"syncToken"`
	NewMessages   []messageDTO      `json:"newMessages"`
	StatusUpdates []statusUpdateDTO `json:"statusUpdates"`
	Conversations []conversationDTO `json:"conversations"`
	// Accepted for wire compatibility with the device; deletes are not
	// mirrored.
	DeletedMessageIDs []int64 `json:"deletedMessageIds"`
}

type syncResponse struct {
	Success       bool   `json:"success"`
	SyncToken     string `json:"syncToken"`
	TotalMessages int64  `json:"totalMessages"`
}

type syncProgressDTO struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

type syncStatusResponse struct {
	SyncInProgress      bool             `json:"syncInProgress"`
	LastFullSync        *time.Time       `json:"lastFullSync,omitempty"`
	LastIncrementalSync *time.Time       `json:"lastIncrementalSync,omitempty"`
	MessageCount        int64            `json:"messageCount"`
	ConversationCount   int64            `json:"conversationCount"`
	Progress            *syncProgressDTO `json:"progress,omitempty"`
}

// --- queue ---

type enqueueRequest struct {
	ConversationID int64    `json:"conversationId,omitempty"`
	Addresses      []string `json:"addresses"`
	Body           string   `json:"body"`
}

type enqueueResponse struct {
	QueueID string `json:"queueId"`
}

type queuedMessageDTO struct {
	ID             string   `json:"id"`
	ConversationID int64    `json:"conversationId,omitempty"`
	Addresses      []string `json:"addresses"`
	Body           string   `json:"body"`
}

type fetchQueueResponse struct {
	QueuedMessages []queuedMessageDTO `json:"queuedMessages"`
}

type confirmRequest struct {
	QueueID         string `json:"queueId"`
	DeviceMessageID int64  `json:"deviceMessageId"`
}

type okResponse struct {
	Success bool `json:"success"`
}

// --- events ---

type eventEnvelope struct {
	Type    relay.EventKind `json:"type"`
	Payload any             `json:"payload"`
}

type messageSentPayload struct {
	QueueID         string     `json:"queueId"`
	DeviceMessageID int64      `json:"deviceMessageId"`
	Message         messageDTO `json:"message"`
}

type statusChangedPayload struct {
	MessageIDs []int64         `json:"messageIds"`
	Updates    statusUpdateDTO `json:"updates"`
}

type queueNotifyPayload struct {
	QueueID string `json:"queueId"`
}

// --- conversions ---

func (d conversationDTO) toModel() model.Conversation {
	c := model.Conversation{
		ID:              d.ID,
		Name:            d.Name,
		Archived:        d.Archived,
		Blocked:         d.Blocked,
		Pinned:          d.Pinned,
		LastMessageDate: d.LastMessageDate,
	}
	for _, r := range d.Recipients {
		c.Recipients = append(c.Recipients, model.Recipient{Address: r.Address, ContactName: r.ContactName})
	}
	return c
}

func conversationsToModel(dtos []conversationDTO) []model.Conversation {
	out := make([]model.Conversation, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toModel())
	}
	return out
}

func (d messageDTO) toModel() model.Message {
	m := model.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Address:        d.Address,
		Body:           d.Body,
		Kind:           model.MessageKind(d.Kind),
		Date:           d.Date,
		DateSent:       d.DateSent,
		Read:           d.Read,
		Seen:           d.Seen,
		IsMe:           d.IsMe,
		DeliveryStatus: d.DeliveryStatus,
	}
	for _, a := range d.Attachments {
		m.Attachments = append(m.Attachments, model.Attachment{MimeType: a.MimeType, SizeBytes: a.SizeBytes})
	}
	return m
}

func messagesToModel(dtos []messageDTO) []model.Message {
	out := make([]model.Message, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toModel())
	}
	return out
}

func statusUpdatesToModel(dtos []statusUpdateDTO) []model.StatusPatch {
	out := make([]model.StatusPatch, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, model.StatusPatch{
			MessageID:      d.ID,
			Read:           d.Read,
			Seen:           d.Seen,
			DeliveryStatus: d.DeliveryStatus,
		})
	}
	return out
}

func messageToDTO(m model.Message) messageDTO {
	d := messageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Address:        m.Address,
		Body:           m.Body,
		Kind:           string(m.Kind),
		Date:           m.Date,
		DateSent:       m.DateSent,
		Read:           m.Read,
		Seen:           m.Seen,
		IsMe:           m.IsMe,
		DeliveryStatus: m.DeliveryStatus,
	}
	for _, a := range m.Attachments {
		d.Attachments = append(d.Attachments, attachmentDTO{MimeType: a.MimeType, SizeBytes: a.SizeBytes})
	}
	return d
}

func conversationToDTO(c model.Conversation) conversationDTO {
	d := conversationDTO{
		ID:              c.ID,
		Name:            c.Name,
		Archived:        c.Archived,
		Blocked:         c.Blocked,
		Pinned:          c.Pinned,
		LastMessageDate: c.LastMessageDate,
	}
	for _, r := range c.Recipients {
		d.Recipients = append(d.Recipients, recipientDTO{Address: r.Address, ContactName: r.ContactName})
	}
	return d
}

func queuedToDTO(q model.QueuedMessage) queuedMessageDTO {
	return queuedMessageDTO{
		ID:             q.ID.String(),
		ConversationID: q.ConversationID,
		Addresses:      q.Addresses,
		Body:           q.Body,
	}
}

func statusToResponse(st *service.SyncStatus) syncStatusResponse {
	resp := syncStatusResponse{
		SyncInProgress:    st.State.SyncInProgress,
		MessageCount:      st.State.TotalMessages,
		ConversationCount: st.State.TotalConversations,
	}
	if !st.State.LastFullSyncAt.IsZero() {
		t := st.State.LastFullSyncAt
		resp.LastFullSync = &t
	}
	if !st.State.LastIncrementalSyncAt.IsZero() {
		t := st.State.LastIncrementalSyncAt
		resp.LastIncrementalSync = &t
	}
	if st.Progress != nil {
		resp.Progress = &syncProgressDTO{
			Stage:   st.Progress.Stage.String(),
			Current: st.Progress.Current,
			Total:   st.Progress.Total,
		}
	}
	return resp
}

// eventToEnvelope maps a relay event to its wire envelope.
func eventToEnvelope(ev relay.Event) eventEnvelope {
	env := eventEnvelope{Type: ev.Kind()}
	switch e := ev.(type) {
	case relay.NewMessage:
		env.Payload = messageToDTO(e.Message)
	case relay.MessageSent:
		env.Payload = messageSentPayload{
			QueueID:         e.QueueID.String(),
			DeviceMessageID: e.DeviceMessageID,
			Message:         messageToDTO(e.Message),
		}
	case relay.MessageStatusChanged:
		env.Payload = statusChangedPayload{
			MessageIDs: e.MessageIDs,
			Updates: statusUpdateDTO{
				Read:           e.Patch.Read,
				Seen:           e.Patch.Seen,
				DeliveryStatus: e.Patch.DeliveryStatus,
			},
		}
	case relay.ConversationUpdated:
		env.Payload = conversationToDTO(e.Conversation)
	case relay.QueueNotify:
		env.Payload = queueNotifyPayload{QueueID: e.QueueID.String()}
	}
	return env
}
