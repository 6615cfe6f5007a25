package handler

import (
	"errors"
	"net/http"

	"github.com/andyc1997/kyc-agent/backend/pkg/logger"
	"github.com/andyc1997/kyc-agent/backend/service"
	"github.com/gin-gonic/gin"
)

type ReportHandler struct {
	store        *service.CaseStore
	consolidator *service.Consolidator
	reports      *service.ReportService
}

func NewReportHandler(store *service.CaseStore, consolidator *service.Consolidator, reports *service.ReportService) *ReportHandler {
	return &ReportHandler{
		store:        store,
		consolidator: consolidator,
		reports:      reports,
	}
}

// Generate consolidates a completed case into one narrative and renders
// the final report documents. All four stages must be Completed first.
func (h *ReportHandler) Generate(c *gin.Context) {
	key := c.Param("key")

	table, err := h.store.LoadAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Case table unavailable"})
		return
	}

	rec := table.Find(key)
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Case not found"})
		return
	}
	if !rec.AllCompleted() {
		c.JSON(http.StatusConflict, gin.H{"error": "Case has incomplete stages"})
		return
	}

	log := logger.WithContext(c.Request.Context()).With("client_key", key)

	narrative, err := h.consolidator.BuildNarrative(c.Request.Context(), rec)
	if err != nil {
		log.Error("consolidation failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrIncompleteCase) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	loc, err := h.reports.GenerateReport(c.Request.Context(), key, narrative)
	if err != nil {
		log.Error("report generation failed", "error", err)

		status := http.StatusBadGateway
		var renderErr *service.RenderError
		switch {
		case errors.Is(err, service.ErrTemplateMissing), errors.Is(err, service.ErrDataMissing), errors.As(err, &renderErr):
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client_key": key,
		"bucket":     loc.Bucket,
		"object":     loc.Object,
	})
}
