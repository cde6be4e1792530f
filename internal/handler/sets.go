package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/response"
	"github.com/smartwords/api/internal/service"
)

type SetHandler struct {
	sets *service.SetService
}

func NewSetHandler(sets *service.SetService) *SetHandler {
	return &SetHandler{sets: sets}
}

func (h *SetHandler) Create(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req service.CreateSetCommand
	if !bindJSON(c, &req) {
		return
	}

	set, err := h.sets.Create(c.Request.Context(), id.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, set)
}

func (h *SetHandler) List(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var q service.ListSetsQuery
	if !bindQuery(c, &q) {
		return
	}

	page, err := h.sets.List(c.Request.Context(), id.UserID, q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, page)
}

func (h *SetHandler) Get(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	setID, ok := pathUUID(c, "id", apperr.CodeInvalidSetID)
	if !ok {
		return
	}

	set, err := h.sets.Get(c.Request.Context(), id.UserID, setID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, set)
}

func (h *SetHandler) Update(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	setID, ok := pathUUID(c, "id", apperr.CodeInvalidSetID)
	if !ok {
		return
	}
	var req service.UpdateSetCommand
	if !bindJSON(c, &req) {
		return
	}

	set, err := h.sets.Update(c.Request.Context(), id.UserID, setID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, set)
}

func (h *SetHandler) Delete(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	setID, ok := pathUUID(c, "id", apperr.CodeInvalidSetID)
	if !ok {
		return
	}

	if err := h.sets.Delete(c.Request.Context(), id.UserID, setID); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SetHandler) AddWords(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	setID, ok := pathUUID(c, "id", apperr.CodeInvalidSetID)
	if !ok {
		return
	}
	var req service.AddWordsCommand
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.sets.AddWords(c.Request.Context(), id.UserID, setID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

func (h *SetHandler) UpdateWord(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	setID, ok := pathUUID(c, "id", apperr.CodeInvalidSetID)
	if !ok {
		return
	}
	wordID, ok := pathUUID(c, "wordId", apperr.CodeInvalidWordID)
	if !ok {
		return
	}
	var req service.UpdateWordCommand
	if !bindJSON(c, &req) {
		return
	}

	word, err := h.sets.UpdateWord(c.Request.Context(), id.UserID, setID, wordID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, word)
}

func (h *SetHandler) DeleteWord(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	setID, ok := pathUUID(c, "id", apperr.CodeInvalidSetID)
	if !ok {
		return
	}
	wordID, ok := pathUUID(c, "wordId", apperr.CodeInvalidWordID)
	if !ok {
		return
	}

	res, err := h.sets.DeleteWord(c.Request.Context(), id.UserID, setID, wordID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}
