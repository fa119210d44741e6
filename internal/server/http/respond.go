package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/mirrorsms/server/internal/errs"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", zap.Error(err))
	}
}

// writeError maps service sentinels to HTTP statuses. Anything unmapped is a
// 500 with the detail kept out of the body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, errs.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, errs.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errs.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, errs.ErrAlreadyExists):
		status, msg = http.StatusConflict, "already exists"
	case errors.Is(err, errs.ErrSyncInProgress):
		status, msg = http.StatusConflict, "sync already in progress"
	case errors.Is(err, errs.ErrStaleToken):
		status, msg = http.StatusGone, "sync token is stale, full sync required"
	case errors.Is(err, errs.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, "too many attempts"
	default:
		s.log.Error("request failed", zap.Error(err))
	}

	s.writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode request body: %v", errs.ErrValidation, err)
	}
	return nil
}
