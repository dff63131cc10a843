package http

import (
	"errors"
	nethttp "net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/coachrtc/internal/adapters/ws"
	"github.com/dkeye/coachrtc/internal/app/call"
	"github.com/dkeye/coachrtc/internal/app/chat"
	"github.com/dkeye/coachrtc/internal/app/orch"
	"github.com/dkeye/coachrtc/internal/auth"
	"github.com/dkeye/coachrtc/internal/domain"
)

// statusOf maps core errors to HTTP status codes.
func statusOf(err error) int {
	var reqErr *domain.RequestError
	switch {
	case errors.As(err, &reqErr):
		return nethttp.StatusBadGateway
	case errors.Is(err, domain.ErrNoCall), errors.Is(err, chat.ErrNoOlderHistory):
		return nethttp.StatusNotFound
	case errors.Is(err, domain.ErrCallInProgress),
		errors.Is(err, domain.ErrCallState),
		errors.Is(err, call.ErrPeerNotReady),
		errors.Is(err, orch.ErrNoIdentity):
		return nethttp.StatusConflict
	case errors.Is(err, domain.ErrMessageEmpty),
		errors.Is(err, domain.ErrMessageTypeWrong),
		errors.Is(err, domain.ErrTokenEmpty),
		errors.Is(err, domain.ErrUserIDEmpty),
		errors.Is(err, domain.ErrUserIDTooLong),
		errors.Is(err, domain.ErrRoleUnknown),
		errors.Is(err, auth.ErrInvalidToken):
		return nethttp.StatusBadRequest
	case errors.Is(err, ws.ErrNotOpen),
		errors.Is(err, call.ErrMachineClosed),
		errors.Is(err, call.ErrEngineClosed):
		return nethttp.StatusServiceUnavailable
	}
	return nethttp.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var reqErr *domain.RequestError
	if errors.As(err, &reqErr) && reqErr.Status != 0 {
		body["backend_status"] = reqErr.Status
	}
	c.AbortWithStatusJSON(statusOf(err), body)
}
