package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/cncmate/internal/models"
)

// ── Jobs ──────────────────────────────────────────────────────────────────────

func (s *Server) handleJobList(c *gin.Context) {
	jobs, err := s.store.RecentJobs(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

// handleJobCreate schedules a job. The operator defaults to the caller.
func (s *Server) handleJobCreate(c *gin.Context) {
	var body struct {
		JobNumber         string `json:"jobNumber" binding:"required"`
		Description       string `json:"description" binding:"required"`
		MachineID         string `json:"machineId" binding:"required"`
		OperatorID        string `json:"operatorId"`
		EstimatedDuration *int   `json:"estimatedDuration"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetMachine(ctx, body.MachineID); err != nil {
		respondError(c, err)
		return
	}
	if body.OperatorID == "" {
		body.OperatorID = c.GetString(ctxUserID)
	}
	j := &models.Job{
		JobNumber:         body.JobNumber,
		Description:       body.Description,
		MachineID:         body.MachineID,
		OperatorID:        body.OperatorID,
		EstimatedDuration: body.EstimatedDuration,
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": j})
}

func (s *Server) handleJobProgress(c *gin.Context) {
	var body struct {
		Progress *int `json:"progress" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || *body.Progress < 0 || *body.Progress > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "progress must be 0-100"})
		return
	}
	if err := s.store.UpdateJobProgress(c.Request.Context(), c.Param("id"), *body.Progress); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleJobStatus(c *gin.Context) {
	var body struct {
		Status models.JobStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || !body.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job status"})
		return
	}
	if err := s.store.UpdateJobStatus(c.Request.Context(), c.Param("id"), body.Status, s.now()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ── Defects ───────────────────────────────────────────────────────────────────

func (s *Server) handleDefectList(c *gin.Context) {
	defects, err := s.store.RecentDefects(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": defects})
}

// handleDefectCreate records a defect reported by the caller.
func (s *Server) handleDefectCreate(c *gin.Context) {
	var body struct {
		Type        string          `json:"type" binding:"required"`
		Severity    models.Severity `json:"severity" binding:"required"`
		Description string          `json:"description" binding:"required"`
		MachineID   string          `json:"machineId" binding:"required"`
		JobID       *string         `json:"jobId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !body.Severity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity"})
		return
	}
	d := &models.Defect{
		Type:         body.Type,
		Severity:     body.Severity,
		Description:  body.Description,
		MachineID:    body.MachineID,
		JobID:        body.JobID,
		ReportedByID: c.GetString(ctxUserID),
	}
	if err := s.store.CreateDefect(c.Request.Context(), d); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": d})
}

func (s *Server) handleDefectResolve(c *gin.Context) {
	if err := s.store.ResolveDefect(c.Request.Context(), c.Param("id"), s.now()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ── Alerts ────────────────────────────────────────────────────────────────────

func (s *Server) handleAlertList(c *gin.Context) {
	alerts, err := s.store.ActiveAlerts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts})
}

func (s *Server) handleAlertCreate(c *gin.Context) {
	var body struct {
		Type        models.AlertType `json:"type" binding:"required"`
		Title       string           `json:"title" binding:"required"`
		Description string           `json:"description" binding:"required"`
		Severity    models.Severity  `json:"severity" binding:"required"`
		MachineID   *string          `json:"machineId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !body.Type.Valid() || !body.Severity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert type or severity"})
		return
	}
	a := &models.Alert{
		Type:        body.Type,
		Title:       body.Title,
		Description: body.Description,
		Severity:    body.Severity,
		MachineID:   body.MachineID,
	}
	if err := s.store.CreateAlert(c.Request.Context(), a); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": a})
}

func (s *Server) handleAlertDismiss(c *gin.Context) {
	if err := s.store.DismissAlert(c.Request.Context(), c.Param("id"), s.now()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleShiftReports(c *gin.Context) {
	reports, err := s.store.ShiftReports(c.Request.Context(), queryLimit(c, 30))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reports})
}
