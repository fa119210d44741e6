package httpserver

import (
	"fmt"
	"net/http"

	"github.com/gofrs/uuid/v5"

	"github.com/mirrorsms/server/internal/errs"
)

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromCtx(r.Context())
	if !ok {
		s.writeError(w, errs.ErrUnauthorized)
		return
	}

	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	queueID, err := s.queue.Enqueue(r.Context(), accountID, req.ConversationID, req.Addresses, req.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, enqueueResponse{QueueID: queueID.String()})
}

func (s *Server) handleFetchQueue(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromCtx(r.Context())
	if !ok {
		s.writeError(w, errs.ErrUnauthorized)
		return
	}

	items, err := s.queue.FetchPending(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := fetchQueueResponse{QueuedMessages: make([]queuedMessageDTO, 0, len(items))}
	for _, q := range items {
		resp.QueuedMessages = append(resp.QueuedMessages, queuedToDTO(q))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfirmSent(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromCtx(r.Context())
	if !ok {
		s.writeError(w, errs.ErrUnauthorized)
		return
	}

	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	queueID, err := uuid.FromString(req.QueueID)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: bad queue id", errs.ErrValidation))
		return
	}

	if err := s.queue.ConfirmSent(r.Context(), accountID, queueID, req.DeviceMessageID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{Success: true})
}
