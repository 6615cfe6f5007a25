package handler

import (
	"errors"
	"net/http"

	"github.com/andyc1997/kyc-agent/backend/model"
	"github.com/andyc1997/kyc-agent/backend/service"
	"github.com/gin-gonic/gin"
)

type CaseHandler struct {
	store *service.CaseStore
}

func NewCaseHandler(store *service.CaseStore) *CaseHandler {
	return &CaseHandler{store: store}
}

type CreateCaseRequest struct {
	ClientKey string `json:"client_key" binding:"required"`
}

// Create opens a case for a client key, or returns the existing one.
// Creation is first-writer-wins: a concurrent create for the same key
// can be overwritten by a later whole-table save (known limitation).
func (h *CaseHandler) Create(c *gin.Context) {
	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	table, err := h.store.LoadAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Case table unavailable"})
		return
	}

	created, rec := table.CreateIfAbsent(req.ClientKey)
	if created {
		if err := h.store.SaveAll(c.Request.Context(), table); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to save case table"})
			return
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"created": created,
		"record":  caseView(rec),
	})
}

// List returns all case records
func (h *CaseHandler) List(c *gin.Context) {
	table, err := h.store.LoadAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Case table unavailable"})
		return
	}

	result := make([]gin.H, len(table.Records))
	for i, rec := range table.Records {
		result[i] = caseView(rec)
	}
	c.JSON(http.StatusOK, gin.H{"cases": result})
}

// Get returns a single case record
func (h *CaseHandler) Get(c *gin.Context) {
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

	c.JSON(http.StatusOK, caseView(rec))
}

// caseView flattens a record for API responses
func caseView(rec *model.CaseRecord) gin.H {
	stages := gin.H{}
	for _, stage := range model.Stages {
		state := rec.Stage(stage)
		view := gin.H{"status": state.Status}
		if state.Completed() {
			view["bucket"] = state.Locator.Bucket
			view["object"] = state.Locator.Object
		}
		stages[string(stage)] = view
	}

	view := gin.H{
		"client_key": rec.ClientKey,
		"stages":     stages,
		"completed":  rec.AllCompleted(),
	}
	if rec.Score != "" {
		view["score"] = rec.Score
	}
	return view
}

// storeStatus maps a store error to an HTTP status
func storeStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
