package httpserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/mirrorsms/server/internal/model"
	"github.com/mirrorsms/server/internal/relay"
)

func TestServer_EventsWebsocket(t *testing.T) {
	t.Parallel()

	accountID := uuid.Must(uuid.NewV4())
	events := relay.New(8)
	s := New(&fakeAuth{accountID: accountID}, &fakeSync{}, &fakeQueueSvc{}, events, zap.NewNop())

	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// browsers cannot set headers on upgrade, so the token rides the query
	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/events?token=good"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// subscription is registered during the upgrade handler; wait for it
	deadline := time.Now().Add(time.Second)
	for events.Subscribers(accountID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	events.Publish(accountID, relay.NewMessage{
		Message: model.Message{ID: 42, ConversationID: 1, Body: "hi", Kind: model.KindSMS, Date: 1000},
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != string(relay.KindNewMessage) {
		t.Fatalf("want NEW_MESSAGE, got %s", env.Type)
	}
	var msg messageDTO
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.ID != 42 || msg.Body != "hi" || msg.Kind != "sms" {
		t.Fatalf("bad payload: %+v", msg)
	}
}

func TestServer_EventsWebsocket_ClosedStreamAsksClientToRetry(t *testing.T) {
	t.Parallel()

	accountID := uuid.Must(uuid.NewV4())
	events := relay.New(8)
	s := New(&fakeAuth{accountID: accountID}, &fakeSync{}, &fakeQueueSvc{}, events, zap.NewNop())

	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/events?token=good"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(time.Second)
	for events.Subscribers(accountID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Ending the subscription feed must close the socket with a retryable
	// status, not a shutdown-specific one.
	events.CloseAll()

	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatalf("want close after feed ends")
	}
	if got := websocket.CloseStatus(err); got != websocket.StatusTryAgainLater {
		t.Fatalf("close status = %v, want %v", got, websocket.StatusTryAgainLater)
	}
}

func TestServer_EventsWebsocket_RejectsBadToken(t *testing.T) {
	t.Parallel()

	s := New(&fakeAuth{accountID: uuid.Must(uuid.NewV4())}, &fakeSync{}, &fakeQueueSvc{}, relay.New(0), zap.NewNop())
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/events?token=bad"
	if _, _, err := websocket.Dial(ctx, wsURL, nil); err == nil {
		t.Fatalf("want dial failure for bad token")
	}
}
