package handlers

import (
	"net/http"
	"time"

	"waste-ops-service/database"
	"waste-ops-service/middleware"
	"waste-ops-service/models"
	"waste-ops-service/rabbitmq"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// SubmitReportRequest is a citizen submission. Image is base64 in JSON.
type SubmitReportRequest struct {
	Image       []byte   `json:"image" binding:"required"`
	Longitude   float64  `json:"longitude"`
	Latitude    float64  `json:"latitude"`
	Accuracy    *float64 `json:"accuracy,omitempty"`
	Address     string   `json:"address"`
	Description string   `json:"description" binding:"required"`

	// Classifier output accompanies the submission. Confidence is optional
	// and may legitimately be 0; absent means the classifier gave none.
	WasteType  models.WasteType `json:"waste_type" binding:"required"`
	Severity   float64          `json:"severity"`
	Confidence *float64         `json:"confidence,omitempty"`
}

// SubmitReport files a new report for the authenticated citizen.
func (h *Handlers) SubmitReport(c *gin.Context) {
	var req SubmitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Invalid submit request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	report, err := h.db.SubmitReport(c.Request.Context(), &database.SubmitReportArgs{
		CitizenID: middleware.CallerID(c),
		Classification: models.Classification{
			WasteType:  req.WasteType,
			Severity:   req.Severity,
			Confidence: req.Confidence,
		},
		Address:     req.Address,
		Longitude:   req.Longitude,
		Latitude:    req.Latitude,
		Accuracy:    req.Accuracy,
		Description: req.Description,
		Image:       req.Image,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	rabbitmq.EmitReportEvent(h.publisher, rabbitmq.RouteReportSubmitted, report, time.Now())
	c.JSON(http.StatusCreated, report)
}

// GetReport returns one report.
func (h *Handlers) GetReport(c *gin.Context) {
	seq, ok := seqParam(c)
	if !ok {
		return
	}
	report, err := h.db.GetReport(c.Request.Context(), seq)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListMyReports returns the authenticated citizen's submissions.
func (h *Handlers) ListMyReports(c *gin.Context) {
	reports, err := h.db.ListReportsByCitizen(c.Request.Context(), middleware.CallerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

// ListAgentReports returns reports assigned to an agent, filtered by status.
func (h *Handlers) ListAgentReports(c *gin.Context) {
	agentID := c.Param("agent_id")
	status := models.ReportStatus(c.DefaultQuery("status", string(models.ReportAssigned)))
	reports, err := h.db.ListReportsByAgent(c.Request.Context(), agentID, status)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

// AssignRequest names the agent a report or id set goes to.
type AssignRequest struct {
	AgentID   string  `json:"agent_id" binding:"required"`
	AgentName string  `json:"agent_name"`
	Seqs      []int64 `json:"seqs,omitempty"`
}

// AssignReport moves one report to the assigned state.
func (h *Handlers) AssignReport(c *gin.Context) {
	seq, ok := seqParam(c)
	if !ok {
		return
	}
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.db.AssignReport(c.Request.Context(), seq, req.AgentID, req.AgentName, time.Now()); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq, "status": models.ReportAssigned})
}

// BulkAssign assigns every still-pending report among the given ids to one
// agent and reports how many were actually modified.
func (h *Handlers) BulkAssign(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	modified, err := h.db.BulkAssign(c.Request.Context(), req.Seqs, req.AgentID, req.AgentName, time.Now())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requested": len(req.Seqs),
		"assigned":  modified,
	})
}

// StartWork moves an assigned report to in_progress for its agent.
func (h *Handlers) StartWork(c *gin.Context) {
	seq, ok := seqParam(c)
	if !ok {
		return
	}
	if err := h.db.StartWork(c.Request.Context(), seq, middleware.CallerID(c), time.Now()); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq, "status": models.ReportInProgress})
}

// CompleteWorkRequest carries the resolution evidence.
type CompleteWorkRequest struct {
	Notes          string   `json:"notes" binding:"required"`
	AfterImages    []string `json:"after_images,omitempty"`
	ActualQuantity *float64 `json:"actual_quantity,omitempty"`
}

// CompleteWork resolves a report and credits the filing citizen.
func (h *Handlers) CompleteWork(c *gin.Context) {
	seq, ok := seqParam(c)
	if !ok {
		return
	}
	var req CompleteWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	now := time.Now()
	err := h.db.CompleteWork(c.Request.Context(), seq, middleware.CallerID(c),
		req.Notes, req.AfterImages, req.ActualQuantity, now)
	if err != nil {
		respondErr(c, err)
		return
	}

	rabbitmq.EmitReportEvent(h.publisher, rabbitmq.RouteReportResolved,
		&models.Report{Seq: seq, Status: models.ReportResolved}, now)
	c.JSON(http.StatusOK, gin.H{"seq": seq, "status": models.ReportResolved})
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectReport rejects a pending or assigned report.
func (h *Handlers) RejectReport(c *gin.Context) {
	seq, ok := seqParam(c)
	if !ok {
		return
	}
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rejection reason is required"})
		return
	}
	if err := h.db.RejectReport(c.Request.Context(), seq, req.Reason); err != nil {
		respondErr(c, err)
		return
	}

	rabbitmq.EmitReportEvent(h.publisher, rabbitmq.RouteReportRejected,
		&models.Report{Seq: seq, Status: models.ReportRejected}, time.Now())
	c.JSON(http.StatusOK, gin.H{"seq": seq, "status": models.ReportRejected})
}

// ValidateReport marks a report audited. Independent of lifecycle state.
func (h *Handlers) ValidateReport(c *gin.Context) {
	seq, ok := seqParam(c)
	if !ok {
		return
	}
	if err := h.db.ValidateReport(c.Request.Context(), seq, middleware.CallerID(c), time.Now()); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq, "is_validated": true})
}

// DeleteReport is the explicit admin delete.
func (h *Handlers) DeleteReport(c *gin.Context) {
	seq, ok := seqParam(c)
	if !ok {
		return
	}
	if err := h.db.DeleteReport(c.Request.Context(), seq); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq, "deleted": true})
}
