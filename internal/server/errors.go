package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// ErrorBody is the JSON error shape of every endpoint.
type ErrorBody struct {
	Code    string `json:"code" example:"FileNotFound"`
	Message string `json:"message"`
}

// statusError is ErrorBody as a huma.StatusError.
type statusError struct {
	ErrorBody
	status int
}

func (e *statusError) Error() string  { return e.Message }
func (e *statusError) GetStatus() int { return e.status }

// toStatusError maps err to a status and body. Errors outside the storage
// taxonomy become 500 InternalError.
func toStatusError(err error) *statusError {
	var fe *fserr.Error
	if errors.As(err, &fe) {
		status := fe.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return &statusError{ErrorBody: ErrorBody{Code: fe.Code, Message: fe.Message}, status: status}
	}
	return &statusError{
		ErrorBody: ErrorBody{Code: fserr.ErrInternal.Code, Message: fserr.ErrInternal.Message},
		status:    http.StatusInternalServerError,
	}
}

func (s *Server) logFailure(ctx context.Context, se *statusError, err error) {
	if se.status >= http.StatusInternalServerError {
		s.logger.ErrorContext(ctx, "Request failed", "code", se.Code, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "Request rejected", "code", se.Code, "error", err)
}

// apiError converts err for a Huma handler.
func (s *Server) apiError(ctx context.Context, err error) error {
	se := toStatusError(err)
	s.logFailure(ctx, se, err)
	return se
}

// writeError writes err as a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := toStatusError(err)
	s.logFailure(r.Context(), se, err)
	writeJSON(w, se.status, se.ErrorBody)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Writing response failed", "error", err)
	}
}
