// Package relay is the in-process pub/sub that fans mailbox mutations out
// to connected web sessions. Delivery is best-effort and at-most-once per
// session: there is no durable backlog, and a session that cannot keep up
// is dropped so a slow consumer never backpressures a sync or queue
// mutation.
package relay

import (
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/mirrorsms/server/internal/model"
)

// EventKind tags the event union for wire encoding.
type EventKind string

const (
	KindNewMessage           EventKind = "NEW_MESSAGE"
	KindMessageSent          EventKind = "MESSAGE_SENT"
	KindMessageStatusChanged EventKind = "MESSAGE_STATUS_CHANGED"
	KindConversationUpdated  EventKind = "CONVERSATION_UPDATED"
	KindQueueNotify          EventKind = "QUEUE_NOTIFY"
)

// Event is the tagged union of relay payloads; one concrete type per kind.
type Event interface {
	Kind() EventKind
}

// NewMessage announces a message the device synced into the mirror.
type NewMessage struct {
	Message model.Message
}

// MessageSent announces a queued message the device confirmed as sent.
type MessageSent struct {
	QueueID         uuid.UUID
	DeviceMessageID int64
	Message         model.Message
}

// MessageStatusChanged announces read/seen/delivery patches.
type MessageStatusChanged struct {
	MessageIDs []int64
	Patch      model.StatusPatch
}

// ConversationUpdated announces conversation metadata changes.
type ConversationUpdated struct {
	Conversation model.Conversation
}

// QueueNotify nudges a device-side poller that new outbound work exists,
// so it need not wait out its poll interval.
type QueueNotify struct {
	QueueID uuid.UUID
}

func (NewMessage) Kind() EventKind           { return KindNewMessage }
func (MessageSent) Kind() EventKind          { return KindMessageSent }
func (MessageStatusChanged) Kind() EventKind { return KindMessageStatusChanged }
func (ConversationUpdated) Kind() EventKind  { return KindConversationUpdated }
func (QueueNotify) Kind() EventKind          { return KindQueueNotify }

// Subscription is one connected session's event feed. The channel closes
// when the subscription is cancelled or dropped for falling behind.
type Subscription struct {
	C chan Event

	accountID uuid.UUID
	relay     *Relay
	once      sync.Once
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.relay.drop(s)
}

// Relay fans events out per account. Publish order per account follows the
// mutation order of the underlying stores; no cross-account ordering exists.
type Relay struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[*Subscription]struct{}

	buffer int
}

// New constructs a relay. buffer is the per-subscription channel depth
// before a session is considered too slow and dropped.
func New(buffer int) *Relay {
	if buffer <= 0 {
		buffer = 64
	}
	return &Relay{
		subs:   make(map[uuid.UUID]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a session for an account's events.
func (r *Relay) Subscribe(accountID uuid.UUID) *Subscription {
	s := &Subscription{
		C:         make(chan Event, r.buffer),
		accountID: accountID,
		relay:     r,
	}
	r.mu.Lock()
	set, ok := r.subs[accountID]
	if !ok {
		set = make(map[*Subscription]struct{})
		r.subs[accountID] = set
	}
	set[s] = struct{}{}
	r.mu.Unlock()
	return s
}

// Publish delivers the event to every live subscriber of the account.
// It never blocks: a subscriber with a full buffer is dropped.
func (r *Relay) Publish(accountID uuid.UUID, ev Event) {
	r.mu.RLock()
	var slow []*Subscription
	for s := range r.subs[accountID] {
		select {
		case s.C <- ev:
		default:
			slow = append(slow, s)
		}
	}
	r.mu.RUnlock()
	for _, s := range slow {
		r.drop(s)
	}
}

// Subscribers reports how many sessions are attached for an account.
func (r *Relay) Subscribers(accountID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[accountID])
}

// CloseAll detaches every subscription and closes its channel. Called at
// shutdown so event streams end before the listener stops accepting.
func (r *Relay) CloseAll() {
	r.mu.Lock()
	var all []*Subscription
	for _, set := range r.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	r.subs = make(map[uuid.UUID]map[*Subscription]struct{})
	r.mu.Unlock()
	for _, s := range all {
		s.once.Do(func() { close(s.C) })
	}
}

func (r *Relay) drop(s *Subscription) {
	r.mu.Lock()
	if set, ok := r.subs[s.accountID]; ok {
		if _, live := set[s]; live {
			delete(set, s)
			if len(set) == 0 {
				delete(r.subs, s.accountID)
			}
		}
	}
	r.mu.Unlock()
	s.once.Do(func() { close(s.C) })
}
