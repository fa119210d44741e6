package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/mirrorsms/server/internal/errs"
	"github.com/mirrorsms/server/internal/model"
	"github.com/mirrorsms/server/internal/relay"
	"github.com/mirrorsms/server/internal/service"
)

type fakeAuth struct {
	accountID uuid.UUID

	registerErr error
	loginErr    error
	refreshErr  error
	authErr     error
}

var _ service.AuthService = (*fakeAuth)(nil)

func (f *fakeAuth) Register(context.Context, string, string, string) (string, error) {
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return f.accountID.String(), nil
}
func (f *fakeAuth) Login(context.Context, string, string, string, string) (model.Tokens, model.Account, error) {
	if f.loginErr != nil {
		return model.Tokens{}, model.Account{}, f.loginErr
	}
	return model.Tokens{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: time.Now().Add(time.Hour)},
		model.Account{ID: f.accountID}, nil
}
func (f *fakeAuth) Refresh(context.Context, string) (model.Tokens, error) {
	if f.refreshErr != nil {
		return model.Tokens{}, f.refreshErr
	}
	return model.Tokens{AccessToken: "acc2", RefreshToken: "ref2"}, nil
}
func (f *fakeAuth) Logout(context.Context, string) error { return nil }
func (f *fakeAuth) Authorize(token string) (uuid.UUID, error) {
	if f.authErr != nil {
		return uuid.Nil, f.authErr
	}
	if token != "good" {
		return uuid.Nil, errs.ErrUnauthorized
	}
	return f.accountID, nil
}

type fakeSync struct {
	st      model.SyncState
	fullErr error
	incErr  error

	gotFull capturedSync
}

type capturedSync struct {
	Batch service.FullSyncBatch
	Token uuid.UUID
}

var _ service.SyncService = (*fakeSync)(nil)

func (f *fakeSync) FullSync(_ context.Context, _ uuid.UUID, batch service.FullSyncBatch) (*model.SyncState, error) {
	if f.fullErr != nil {
		return nil, f.fullErr
	}
	f.gotFull.Batch = batch
	c := f.st
	return &c, nil
}
func (f *fakeSync) IncrementalSync(_ context.Context, _ uuid.UUID, token uuid.UUID, _ service.IncrementalDelta) (*model.SyncState, error) {
	if f.incErr != nil {
		return nil, f.incErr
	}
	f.gotFull.Token = token
	c := f.st
	return &c, nil
}
func (f *fakeSync) Status(context.Context, uuid.UUID) (*service.SyncStatus, error) {
	return &service.SyncStatus{State: f.st}, nil
}

type fakeQueueSvc struct {
	id         uuid.UUID
	enqueueErr error
	confirmErr error
	pending    []model.QueuedMessage
}

var _ service.QueueService = (*fakeQueueSvc)(nil)

func (f *fakeQueueSvc) Enqueue(context.Context, uuid.UUID, int64, []string, string) (uuid.UUID, error) {
	if f.enqueueErr != nil {
		return uuid.Nil, f.enqueueErr
	}
	return f.id, nil
}
func (f *fakeQueueSvc) FetchPending(context.Context, uuid.UUID) ([]model.QueuedMessage, error) {
	return f.pending, nil
}
func (f *fakeQueueSvc) ConfirmSent(context.Context, uuid.UUID, uuid.UUID, int64) error {
	return f.confirmErr
}

func newTestServer(auth *fakeAuth, sync *fakeSync, queue *fakeQueueSvc) http.Handler {
	return New(auth, sync, queue, relay.New(0), zap.NewNop()).Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_AuthFlow(t *testing.T) {
	t.Parallel()

	accountID := uuid.Must(uuid.NewV4())
	auth := &fakeAuth{accountID: accountID}
	h := newTestServer(auth, &fakeSync{}, &fakeQueueSvc{})

	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", registerRequest{
		Username: "alice", Password: "pw", DeviceID: "device-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: want 201, got %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", loginRequest{Username: "alice", Password: "pw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: want 200, got %d", rec.Code)
	}
	var tok tokensResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if tok.AccessToken == "" || tok.AccountID != accountID.String() {
		t.Fatalf("bad login payload: %+v", tok)
	}

	auth.registerErr = errs.ErrAlreadyExists
	rec = doJSON(t, h, http.MethodPost, "/api/auth/register", "", registerRequest{Username: "alice"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: want 409, got %d", rec.Code)
	}

	auth.loginErr = errs.ErrRateLimited
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", loginRequest{Username: "alice"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("rate limited login: want 429, got %d", rec.Code)
	}

	auth.refreshErr = errs.ErrUnauthorized
	rec = doJSON(t, h, http.MethodPost, "/api/auth/refresh", "", refreshRequest{RefreshToken: "spent"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: want 401, got %d", rec.Code)
	}
}

func TestServer_RequireAuth(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeAuth{accountID: uuid.Must(uuid.NewV4())}, &fakeSync{}, &fakeQueueSvc{})

	rec := doJSON(t, h, http.MethodGet, "/api/sync/status", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: want 401, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/sync/status", "bad", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: want 401, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/sync/status", "good", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("good token: want 200, got %d: %s", rec.Code, rec.Body)
	}
}

func TestServer_FullSync_WireShape(t *testing.T) {
	t.Parallel()

	token := uuid.Must(uuid.NewV4())
	sync := &fakeSync{st: model.SyncState{SyncToken: token, TotalMessages: 2}}
	h := newTestServer(&fakeAuth{accountID: uuid.Must(uuid.NewV4())}, sync, &fakeQueueSvc{})

	req := fullSyncRequest{
		Conversations: []conversationDTO{{ID: 1, Name: "Alice", Recipients: []recipientDTO{{Address: "+15551234"}}}},
		Messages: []messageDTO{
			{ID: 10, ConversationID: 1, Body: "hi", Kind: "sms", Date: 1000},
			{ID: 11, ConversationID: 1, Kind: "mms", Date: 2000, Attachments: []attachmentDTO{{MimeType: "image/png", SizeBytes: 10}}},
		},
		BatchNumber:  1,
		TotalBatches: 1,
	}
	rec := doJSON(t, h, http.MethodPost, "/api/sync/full", "good", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("full sync: want 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp syncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.SyncToken != token.String() || resp.TotalMessages != 2 {
		t.Fatalf("bad response: %+v", resp)
	}

	got := sync.gotFull.Batch
	if len(got.Messages) != 2 || got.Messages[1].Kind != model.KindMMS {
		t.Fatalf("batch not converted: %+v", got)
	}
	if len(got.Messages[1].Attachments) != 1 {
		t.Fatalf("attachments dropped in conversion")
	}

	sync.fullErr = errs.ErrSyncInProgress
	rec = doJSON(t, h, http.MethodPost, "/api/sync/full", "good", req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("concurrent sync: want 409, got %d", rec.Code)
	}
}

func TestServer_IncrementalSync_TokenHandling(t *testing.T) {
	t.Parallel()

	token := uuid.Must(uuid.NewV4())
	sync := &fakeSync{st: model.SyncState{SyncToken: token}}
	h := newTestServer(&fakeAuth{accountID: uuid.Must(uuid.NewV4())}, sync, &fakeQueueSvc{})

	rec := doJSON(t, h, http.MethodPost, "/api/sync/incremental", "good", incrementalSyncRequest{SyncToken: "not-a-uuid"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed token: want 400, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/sync/incremental", "good", incrementalSyncRequest{SyncToken: token.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("incremental: want 200, got %d: %s", rec.Code, rec.Body)
	}
	if sync.gotFull.Token != token {
		t.Fatalf("token not passed through")
	}

	sync.incErr = errs.ErrStaleToken
	rec = doJSON(t, h, http.MethodPost, "/api/sync/incremental", "good", incrementalSyncRequest{SyncToken: token.String()})
	if rec.Code != http.StatusGone {
		t.Fatalf("stale token: want 410, got %d", rec.Code)
	}
}

func TestServer_QueueEndpoints(t *testing.T) {
	t.Parallel()

	queueID := uuid.Must(uuid.NewV4())
	queue := &fakeQueueSvc{
		id: queueID,
		pending: []model.QueuedMessage{
			{ID: queueID, ConversationID: 1, Addresses: []string{"+15551234"}, Body: "hi"},
		},
	}
	h := newTestServer(&fakeAuth{accountID: uuid.Must(uuid.NewV4())}, &fakeSync{}, queue)

	rec := doJSON(t, h, http.MethodPost, "/api/messages/send", "good", enqueueRequest{
		Addresses: []string{"+15551234"}, Body: "hi",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("send: want 202, got %d: %s", rec.Code, rec.Body)
	}
	var enq enqueueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &enq); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if enq.QueueID != queueID.String() {
		t.Fatalf("bad queue id: %s", enq.QueueID)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/queue/", "good", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch queue: want 200, got %d", rec.Code)
	}
	var fq fetchQueueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &fq); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fq.QueuedMessages) != 1 || fq.QueuedMessages[0].ID != queueID.String() {
		t.Fatalf("bad queue payload: %+v", fq)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/queue/confirm", "good", confirmRequest{
		QueueID: queueID.String(), DeviceMessageID: 500,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: want 200, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/queue/confirm", "good", confirmRequest{QueueID: "garbage"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad queue id: want 400, got %d", rec.Code)
	}

	queue.confirmErr = errs.ErrNotFound
	rec = doJSON(t, h, http.MethodPost, "/api/queue/confirm", "good", confirmRequest{QueueID: queueID.String()})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown queue id: want 404, got %d", rec.Code)
	}

	queue.enqueueErr = errs.ErrValidation
	rec = doJSON(t, h, http.MethodPost, "/api/messages/send", "good", enqueueRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid send: want 400, got %d", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeAuth{}, &fakeSync{}, &fakeQueueSvc{})
	rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: want 200, got %d", rec.Code)
	}
}
