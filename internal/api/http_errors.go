package api

import (
	"errors"
	"net/http"

	"github.com/djinnbot/djinnbot/internal/core"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func httpStatusForError(err error) int {
	switch core.GetCategory(err) {
	case core.ErrCatValidation:
		return http.StatusBadRequest
	case core.ErrCatNotFound:
		return http.StatusNotFound
	case core.ErrCatConflict:
		return http.StatusConflict
	case core.ErrCatAuth:
		return http.StatusUnauthorized
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout
	case core.ErrCatNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps a domain error onto the HTTP contract. Internal causes
// are not leaked to clients.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := httpStatusForError(err)

	var domErr *core.DomainError
	if !errors.As(err, &domErr) {
		domErr = core.ErrInternal("internal error", nil)
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		respondJSON(w, status, errorBody{Error: errorDetail{
			Code:    "INTERNAL",
			Message: "internal error",
		}})
		return
	}
	respondJSON(w, status, errorBody{Error: errorDetail{
		Code:    domErr.Code,
		Message: domErr.Message,
		Details: domErr.Details,
	}})
}
