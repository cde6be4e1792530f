package handler

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/middleware"
	"github.com/smartwords/api/internal/response"
	"github.com/smartwords/api/internal/service"
)

const (
	IdempotencyKeyHeader = "X-Idempotency-Key"

	maxHeaderLen = 255
)

type GenerationHandler struct {
	generation *service.GenerationService
	log        *logger.Logger
}

func NewGenerationHandler(generation *service.GenerationService, baseLog *logger.Logger) *GenerationHandler {
	return &GenerationHandler{generation: generation, log: baseLog.With("handler", "generation")}
}

func (h *GenerationHandler) Generate(c *gin.Context) {
	start := time.Now()
	id, ok := identity(c)
	if !ok {
		return
	}
	setID, ok := pathUUID(c, "id", apperr.CodeInvalidSetID)
	if !ok {
		return
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if key == "" || len(key) > maxHeaderLen {
		response.Error(c, apperr.Validation(apperr.CodeMissingIdempotency, "X-Idempotency-Key header is required (1-255 characters)"))
		return
	}
	requestID := c.GetHeader(middleware.RequestIDHeader)
	if len(requestID) > maxHeaderLen {
		response.Error(c, apperr.Validation(apperr.CodeInvalidRequestID, "X-Request-Id must be at most 255 characters"))
		return
	}

	var req service.GenerateCommand
	if !bindOptionalJSON(c, &req) {
		return
	}

	res, err := h.generation.Trigger(c.Request.Context(), id.UserID, setID, req, key)
	if err != nil {
		ae := apperr.From(err)
		middleware.RecordGeneration(ae.Code, time.Since(start))
		if ae.Kind == apperr.KindUpstream {
			h.log.Warn("generation failed upstream",
				"set_id", setID.String(),
				"request_id", requestID,
				"code", ae.Code,
				"error", err,
			)
		}
		response.Error(c, err)
		return
	}

	outcome := "created"
	if res.Replayed {
		outcome = "replayed"
	}
	middleware.RecordGeneration(outcome, time.Since(start))
	h.log.Info("generation served",
		"set_id", setID.String(),
		"generation_id", res.GenerationID.String(),
		"request_id", requestID,
		"outcome", outcome,
	)
	response.OK(c, res)
}
