package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"smartdine/internal/apperr"
	"smartdine/internal/services/auth"
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Entity    string `json:"entity,omitempty"`
	ID        string `json:"id,omitempty"`
	Current   string `json:"current,omitempty"`
	Requested string `json:"requested,omitempty"`
	Operation string `json:"operation,omitempty"`
	Field     string `json:"field,omitempty"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindConflict, apperr.KindInvalidTransition, apperr.KindState, apperr.KindImmutableState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a service error. Storage failures are reported without
// their cause.
func (s *Server) writeError(c *gin.Context, action string, err error) {
	requestID := requestIDOf(c)

	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInvalidToken) {
		abort(c, http.StatusUnauthorized, err.Error())
		return
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Storage(err)
	}

	status := statusFor(appErr.Kind)
	resp := errorResponse{
		Error:     appErr.Error(),
		Kind:      appErr.Kind.String(),
		Entity:    appErr.Entity,
		ID:        appErr.ID,
		Current:   appErr.Current,
		Requested: appErr.Requested,
		Operation: appErr.Operation,
		Field:     appErr.Field,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(action+"_failed", "Request failed", requestID, err, nil)
		resp = errorResponse{
			Error:     "internal server error",
			Kind:      appErr.Kind.String(),
			Timestamp: resp.Timestamp,
			RequestID: requestID,
		}
	}
	c.AbortWithStatusJSON(status, resp)
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error:     message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestIDOf(c),
	})
}

func badRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, message)
}
