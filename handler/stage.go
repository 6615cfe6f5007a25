package handler

import (
	"context"
	"net/http"

	"github.com/andyc1997/kyc-agent/backend/model"
	"github.com/andyc1997/kyc-agent/backend/pkg/logger"
	"github.com/andyc1997/kyc-agent/backend/service"
	"github.com/gin-gonic/gin"
)

type StageHandler struct {
	orchestrator *service.Orchestrator
}

func NewStageHandler(orchestrator *service.Orchestrator) *StageHandler {
	return &StageHandler{orchestrator: orchestrator}
}

// Run invokes one pipeline stage for one case. A stage that already
// completed returns the cached locator without touching the collaborator.
func (h *StageHandler) Run(c *gin.Context) {
	stage, ok := model.ParseStage(c.Param("stage"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown stage"})
		return
	}

	var req service.StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	req.ClientKey = c.Param("key")

	ctx := context.WithValue(c.Request.Context(), logger.ClientKeyKey, req.ClientKey)
	outcome, err := h.orchestrator.RunStage(ctx, stage, req)
	if err != nil {
		logger.WithContext(ctx).Error("stage run failed", "stage", stage, "error", err)
		c.JSON(storeStatus(err), gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if outcome.Kind == service.OutcomeFailed {
		status = http.StatusBadGateway
	}
	c.JSON(status, outcome)
}
