package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/mirrorsms/server/internal/errs"
)

const wsWriteTimeout = 5 * time.Second

// handleEvents upgrades the connection and streams relay events for the
// authenticated account until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromCtx(r.Context())
	if !ok {
		s.writeError(w, errs.ErrUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.events.Subscribe(accountID)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Read loop only detects disconnects; clients send nothing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-sub.C:
			if !ok {
				// Dropped for falling behind, or the relay is closing.
				// Either way the client should reconnect.
				_ = conn.Close(websocket.StatusTryAgainLater, "event stream closed")
				return
			}
			data, err := json.Marshal(eventToEnvelope(ev))
			if err != nil {
				s.log.Error("marshal event", zap.Error(err))
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				_ = conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}
