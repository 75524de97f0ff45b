package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edifylabs/edify-backend/internal/core"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps the service error taxonomy onto HTTP statuses.
func RespondServiceError(c *gin.Context, err error) {
	switch {
	case core.IsNotFound(err):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, core.ErrImmutableEvent):
		RespondError(c, http.StatusConflict, "immutable_event", err)
	case core.IsConflict(err):
		RespondError(c, http.StatusConflict, "conflict", err)
	case errors.Is(err, core.ErrInvalidScope):
		RespondError(c, http.StatusBadRequest, "invalid_scope", err)
	case errors.Is(err, core.ErrStorageUnavailable):
		RespondError(c, http.StatusServiceUnavailable, "storage_unavailable", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
