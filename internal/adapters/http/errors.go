package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/app/turn"
	"github.com/dkeye/securecall/internal/domain"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorTable = []errorMapping{
	{domain.ErrUnauthorized, http.StatusForbidden, "FORBIDDEN"},
	{domain.ErrCallNotFound, http.StatusNotFound, "CALL_NOT_FOUND"},
	{domain.ErrUnknownParticipant, http.StatusNotFound, "PARTICIPANT_NOT_FOUND"},
	{domain.ErrCallEnded, http.StatusGone, "CALL_ENDED"},
	{domain.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{domain.ErrDuplicateParticipant, http.StatusConflict, "DUPLICATE_PARTICIPANT"},
	{domain.ErrInvalidCallType, http.StatusBadRequest, "INVALID_CALL_TYPE"},
	{domain.ErrNoCallees, http.StatusBadRequest, "NO_CALLEES"},
	{domain.ErrTooManyParticipants, http.StatusBadRequest, "TOO_MANY_PARTICIPANTS"},
	{domain.ErrUserIDEmpty, http.StatusBadRequest, "INVALID_USER"},
	{domain.ErrUserIDTooLong, http.StatusBadRequest, "INVALID_USER"},
	{domain.ErrDeviceTooLong, http.StatusBadRequest, "INVALID_DEVICE"},
	{domain.ErrKeyDerivation, http.StatusUnprocessableEntity, "KEY_DERIVATION_FAILED"},
	{domain.ErrKeyAgreementMissing, http.StatusUnprocessableEntity, "KEY_AGREEMENT_MISSING"},
	{domain.ErrRelayUnavailable, http.StatusServiceUnavailable, "RELAY_UNAVAILABLE"},
	{turn.ErrNoSecret, http.StatusServiceUnavailable, "TURN_DISABLED"},
}

func statusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST", "message": msg})
}
