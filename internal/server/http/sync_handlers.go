package httpserver

import (
	"fmt"
	"net/http"

	"github.com/gofrs/uuid/v5"

	"github.com/mirrorsms/server/internal/errs"
	"github.com/mirrorsms/server/internal/service"
)

func (s *Server) handleFullSync(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromCtx(r.Context())
	if !ok {
		s.writeError(w, errs.ErrUnauthorized)
		return
	}

	var req fullSyncRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	st, err := s.sync.FullSync(r.Context(), accountID, service.FullSyncBatch{
		Conversations: conversationsToModel(req.Conversations),
		Messages:      messagesToModel(req.Messages),
		BatchNumber:   req.BatchNumber,
		TotalBatches:  req.TotalBatches,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, syncResponse{
		Success:       true,
		SyncToken:     st.SyncToken.String(),
		TotalMessages: st.TotalMessages,
	})
}

func (s *Server) handleIncrementalSync(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromCtx(r.Context())
	if !ok {
		s.writeError(w, errs.ErrUnauthorized)
		return
	}

	var req incrementalSyncRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	token, err := uuid.FromString(req.SyncToken)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: bad sync token", errs.ErrValidation))
		return
	}

	st, err := s.sync.IncrementalSync(r.Context(), accountID, token, service.IncrementalDelta{
		Conversations: conversationsToModel(req.Conversations),
		NewMessages:   messagesToModel(req.NewMessages),
		StatusUpdates: statusUpdatesToModel(req.StatusUpdates),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, syncResponse{
		Success:       true,
		SyncToken:     st.SyncToken.String(),
		TotalMessages: st.TotalMessages,
	})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromCtx(r.Context())
	if !ok {
		s.writeError(w, errs.ErrUnauthorized)
		return
	}

	st, err := s.sync.Status(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusToResponse(st))
}
