package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketplace-chat/internal/domain"
)

// errorCode traduce errores del dominio a status HTTP y a un codigo estable para el cliente.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidParticipants),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidMessageKind):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrNotAParticipant):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrMessageNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrStorage),
		errors.Is(err, domain.ErrChannelDisconnected):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError escribe el error; los transitorios y desconocidos se loguean como Error.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status, code := errorCode(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", zap.Error(err))
	} else {
		logger.Debug(op+" rejected", zap.Error(err))
	}
	body := gin.H{"error": err.Error(), "code": code}
	if domain.IsTransient(err) {
		body["retryable"] = true
	}
	c.JSON(status, body)
}
