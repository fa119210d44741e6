// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access/refresh tokens.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry (for diagnostics)
}

// Account represents one registered user bound to a single device.
type Account struct {
	ID          uuid.UUID // PK
	Username    string    // unique
	PwdHash     []byte    // Argon2id(password, SaltAuth)
	SaltAuth    []byte    // per-account auth salt
	DeviceID    string    // the one bound device, unique across accounts
	CreatedAt   time.Time
	LastLoginAt time.Time
}

// SyncKind distinguishes full and incremental sync runs.
type SyncKind string

const (
	SyncFull        SyncKind = "full"
	SyncIncremental SyncKind = "incremental"
)

// SyncState is the per-account sync coordination record. It is the only
// mutable point sync executors contend on.
type SyncState struct {
	AccountID             uuid.UUID
	SyncToken             uuid.UUID // rotated on full sync only
	LastFullSyncAt        time.Time // zero if never
	LastIncrementalSyncAt time.Time // zero if never
	TotalMessages         int64
	TotalConversations    int64
	SyncInProgress        bool
	SyncStartedAt         time.Time // set while SyncInProgress
}

// SyncSummary carries the counters a committing sync run reports.
type SyncSummary struct {
	Kind             SyncKind
	MessagesAdded    int64
	ConversationsSet int64 // full sync first batch: conversation count in snapshot
	ResetMessages    bool  // full sync first batch restarts the message counter
	Final            bool  // last batch: sets the watermark, full sync rotates the token
}

// Recipient is one address participating in a conversation. Recipients
// carry no independent lifecycle; they are replaced wholesale per upsert.
type Recipient struct {
	Address     string
	ContactName string // empty if unresolved
}

// Conversation mirrors one device thread. Identity is the device thread
// id; the mirror never mints its own conversation ids.
type Conversation struct {
	ID              int64 // device thread id
	AccountID       uuid.UUID
	Name            string
	Archived        bool
	Blocked         bool
	Pinned          bool
	LastMessageDate int64 // device epoch millis, advances monotonically
	Recipients      []Recipient
}

// MessageKind is the transport the device used for a message.
type MessageKind string

const (
	KindSMS MessageKind = "sms"
	KindMMS MessageKind = "mms"
)

// Message mirrors one device message. Immutable after creation except
// Read, Seen and DeliveryStatus.
type Message struct {
	ID             int64 // device message id
	ConversationID int64
	AccountID      uuid.UUID
	Address        string
	Body           string
	Kind           MessageKind
	Date           int64 // device epoch millis; ordering key with ID
	DateSent       int64 // zero if unknown
	Read           bool
	Seen           bool
	IsMe           bool
	DeliveryStatus int
	Attachments    []Attachment
}

// Attachment is MMS part metadata. Bytes are fetched lazily by the web
// client and never travel with sync payloads.
type Attachment struct {
	ID        uuid.UUID
	MessageID int64
	MimeType  string
	SizeBytes int64
}

// StatusPatch is the only mutation an incremental sync may apply to an
// existing message row.
type StatusPatch struct {
	MessageID      int64
	Read           bool
	Seen           bool
	DeliveryStatus int
}

// QueuedMessage is one outbound send request awaiting device handoff.
// Rows are never deleted on success; QueueID is the idempotency key
// end-to-end.
type QueuedMessage struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	ConversationID  int64 // zero when the web client started a new thread
	Addresses       []string
	Body            string
	CreatedAt       time.Time
	PickedUp        bool
	Sent            bool
	DeviceMessageID int64 // set on confirm
}

// SyncStage is one step of a full sync run. Stages are strictly ordered;
// a run never reports a stage lower than one it already reported.
type SyncStage int

const (
	StageAuthenticating SyncStage = iota
	StageSyncingConversations
	StageSyncingMessages
	StageUploadingAttachments
	StageComplete
	StageError
)

// String returns the wire name of a stage.
func (s SyncStage) String() string {
	switch s {
	case StageAuthenticating:
		return "AUTHENTICATING"
	case StageSyncingConversations:
		return "SYNCING_CONVERSATIONS"
	case StageSyncingMessages:
		return "SYNCING_MESSAGES"
	case StageUploadingAttachments:
		return "UPLOADING_ATTACHMENTS"
	case StageComplete:
		return "COMPLETE"
	case StageError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// SyncProgress is a point-in-time stage report for percentage display.
type SyncProgress struct {
	Stage   SyncStage
	Current int
	Total   int
}

// RefreshToken is a single-use rotation record. The raw token never
// touches the database; only its hash is stored.
type RefreshToken struct {
	TokenHash  []byte
	AccountID  uuid.UUID
	DeviceID   string
	ExpiresAt  time.Time
	ConsumedAt time.Time // zero until used
}
