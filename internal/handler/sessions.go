package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/response"
	"github.com/smartwords/api/internal/service"
)

type SessionHandler struct {
	sessions *service.SessionService
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Start(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req service.StartSessionCommand
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.sessions.Start(c.Request.Context(), id.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

func (h *SessionHandler) Get(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sessionID, ok := pathUUID(c, "id", apperr.CodeInvalidSessionID)
	if !ok {
		return
	}

	view, err := h.sessions.Get(c.Request.Context(), id.UserID, sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

func (h *SessionHandler) Finish(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sessionID, ok := pathUUID(c, "id", apperr.CodeInvalidSessionID)
	if !ok {
		return
	}
	var req service.FinishSessionCommand
	if !bindOptionalJSON(c, &req) {
		return
	}

	res, err := h.sessions.Finish(c.Request.Context(), id.UserID, sessionID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

func (h *SessionHandler) SubmitAttempt(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sessionID, ok := pathUUID(c, "id", apperr.CodeInvalidSessionID)
	if !ok {
		return
	}
	var req service.SubmitAttemptCommand
	if !bindJSON(c, &req) {
		return
	}

	attempt, err := h.sessions.SubmitAttempt(c.Request.Context(), id.UserID, sessionID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, attempt)
}

func (h *SessionHandler) Rate(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	sessionID, ok := pathUUID(c, "id", apperr.CodeInvalidSessionID)
	if !ok {
		return
	}
	var req service.RateSessionCommand
	if !bindJSON(c, &req) {
		return
	}

	rating, err := h.sessions.Rate(c.Request.Context(), id.UserID, sessionID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rating)
}
