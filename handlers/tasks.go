package handlers

import (
	"errors"
	"net/http"
	"time"

	"waste-ops-service/database"
	"waste-ops-service/middleware"
	"waste-ops-service/models"
	"waste-ops-service/rabbitmq"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// CreateTaskRequest is the admin's task creation payload.
type CreateTaskRequest struct {
	ReportSeq        int64                `json:"report_seq" binding:"required"`
	AgentID          string               `json:"agent_id" binding:"required"`
	Title            string               `json:"title" binding:"required"`
	Description      string               `json:"description"`
	DueDate          *time.Time           `json:"due_date,omitempty"`
	EstimatedMinutes *int                 `json:"estimated_minutes,omitempty"`
	Instructions     []models.Instruction `json:"instructions,omitempty"`
	Equipment        []string             `json:"equipment,omitempty"`
	BeforeImages     []string             `json:"before_images,omitempty"`
}

// CreateTask creates a work order for an agent and moves the linked report
// to assigned in the same transaction.
func (h *Handlers) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Invalid create task request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	task, err := h.db.CreateTask(c.Request.Context(), &database.CreateTaskArgs{
		ReportSeq:        req.ReportSeq,
		AgentID:          req.AgentID,
		AdminID:          middleware.CallerID(c),
		Title:            req.Title,
		Description:      req.Description,
		DueDate:          req.DueDate,
		EstimatedMinutes: req.EstimatedMinutes,
		Instructions:     req.Instructions,
		Equipment:        req.Equipment,
		BeforeImages:     req.BeforeImages,
	}, time.Now())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// GetTask returns one task.
func (h *Handlers) GetTask(c *gin.Context) {
	task, err := h.db.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ListMyTasks returns the authenticated agent's work queue.
func (h *Handlers) ListMyTasks(c *gin.Context) {
	status := models.TaskStatus(c.DefaultQuery("status", string(models.TaskAssigned)))
	tasks, err := h.db.ListTasksByAgent(c.Request.Context(), middleware.CallerID(c), status)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

// StartTask moves an assigned task to in_progress.
func (h *Handlers) StartTask(c *gin.Context) {
	taskID := c.Param("id")
	if err := h.db.StartTask(c.Request.Context(), taskID, middleware.CallerID(c), time.Now()); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": taskID, "status": models.TaskInProgress})
}

// CompleteTaskRequest carries the completion evidence.
type CompleteTaskRequest struct {
	Notes          string   `json:"notes" binding:"required"`
	AfterImages    []string `json:"after_images,omitempty"`
	ActualQuantity *float64 `json:"actual_quantity,omitempty"`
}

// CompleteTask completes a task, then resolves the linked report. The two
// are separate aggregates: if the report step fails after the task commit,
// the response says so and the agent retries the report completion alone.
func (h *Handlers) CompleteTask(c *gin.Context) {
	taskID := c.Param("id")
	agentID := middleware.CallerID(c)

	var req CompleteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	now := time.Now()
	task, err := h.db.CompleteTask(c.Request.Context(), taskID, agentID, req.Notes, req.AfterImages, now)
	if err != nil {
		respondErr(c, err)
		return
	}
	rabbitmq.EmitTaskEvent(h.publisher, rabbitmq.RouteTaskCompleted, task, now)

	err = h.db.CompleteWork(c.Request.Context(), task.ReportSeq, agentID,
		req.Notes, req.AfterImages, req.ActualQuantity, now)
	switch {
	case err == nil:
		rabbitmq.EmitReportEvent(h.publisher, rabbitmq.RouteReportResolved,
			&models.Report{Seq: task.ReportSeq, Status: models.ReportResolved}, now)
		c.JSON(http.StatusOK, gin.H{
			"id":            taskID,
			"status":        models.TaskCompleted,
			"report_seq":    task.ReportSeq,
			"report_status": models.ReportResolved,
		})
	case errors.Is(err, models.ErrInvalidTransition):
		// The report moved on without us, for example an admin rejected or
		// resolved it meanwhile. Report its actual state, not a guess.
		report, getErr := h.db.GetReport(c.Request.Context(), task.ReportSeq)
		if getErr != nil || !report.Status.IsTerminal() {
			log.Errorf("Task %s completed but report %d is in flux: %v", taskID, task.ReportSeq, err)
			c.JSON(http.StatusAccepted, gin.H{
				"id":            taskID,
				"status":        models.TaskCompleted,
				"report_seq":    task.ReportSeq,
				"report_status": "unresolved",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":            taskID,
			"status":        models.TaskCompleted,
			"report_seq":    task.ReportSeq,
			"report_status": report.Status,
		})
	default:
		// Task committed, report didn't follow. Surface the partial state.
		log.Errorf("Task %s completed but report %d resolution failed: %v", taskID, task.ReportSeq, err)
		c.JSON(http.StatusAccepted, gin.H{
			"id":            taskID,
			"status":        models.TaskCompleted,
			"report_seq":    task.ReportSeq,
			"report_status": "unresolved",
		})
	}
}

// CancelTask cancels a non-terminal task with a reason.
func (h *Handlers) CancelTask(c *gin.Context) {
	taskID := c.Param("id")
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cancellation reason is required"})
		return
	}
	if err := h.db.CancelTask(c.Request.Context(), taskID, req.Reason); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": taskID, "status": models.TaskCancelled})
}

// VerifyTaskRequest is the admin sign-off payload.
type VerifyTaskRequest struct {
	Notes string `json:"notes"`
}

// VerifyTask records the admin verification on a completed task.
func (h *Handlers) VerifyTask(c *gin.Context) {
	taskID := c.Param("id")
	var req VerifyTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	err := h.db.VerifyTaskCompletion(c.Request.Context(), taskID, middleware.CallerID(c), req.Notes, time.Now())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": taskID, "verified": true})
}

// InstructionStepRequest toggles one checklist step.
type InstructionStepRequest struct {
	Step        int  `json:"step" binding:"required"`
	IsCompleted bool `json:"is_completed"`
}

// UpdateInstructionStep flips one instruction's completion flag.
func (h *Handlers) UpdateInstructionStep(c *gin.Context) {
	taskID := c.Param("id")
	var req InstructionStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	err := h.db.UpdateInstructionStep(c.Request.Context(), taskID, middleware.CallerID(c), req.Step, req.IsCompleted)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": taskID, "step": req.Step, "is_completed": req.IsCompleted})
}
