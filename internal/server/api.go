// Package server provides the CNCMate Gin-based REST API.
// Routes are split into two groups:
//   - Control-plane (control_port): JWT-protected; serves the dashboard, /ws and the REST API.
//   - Data-plane    (data_port):    Bearer-token-protected; receives agent telemetry.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vesaa/cncmate/internal/metrics"
	"github.com/vesaa/cncmate/internal/models"
	"github.com/vesaa/cncmate/internal/realtime"
	"github.com/vesaa/cncmate/internal/store"
	"github.com/vesaa/cncmate/internal/telemetry"
)

// Ingestor is the write side of the telemetry path.
type Ingestor interface {
	Submit(ctx context.Context, s telemetry.Sample) error
	ApplyStatus(ctx context.Context, machineID string, status models.MachineStatus) error
}

// CommandSender delivers operator commands to a machine.
type CommandSender interface {
	Publish(ctx context.Context, machineID, command string, value any) error
}

type Options struct {
	Auth          *Auth
	AgentToken    string
	WS            realtime.WSOptions
	WSRequireAuth bool
	Metrics       *metrics.Metrics
}

// Server holds the dependencies shared by every handler.
type Server struct {
	store    *store.Store
	hub      *realtime.Hub
	ingest   Ingestor
	commands CommandSender
	auth     *Auth
	opts     Options
	upgrader websocket.Upgrader
	now      func() time.Time
}

func New(st *store.Store, hub *realtime.Hub, ingest Ingestor, opts Options) *Server {
	if opts.Auth == nil {
		opts.Auth = NewAuth("", 0)
	}
	return &Server{
		store:  st,
		hub:    hub,
		ingest: ingest,
		auth:   opts.Auth,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard may be served from another origin; access is
			// gated by ws_require_auth instead.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// SetCommandSender enables POST /api/machines/:id/command.
func (s *Server) SetCommandSender(cs CommandSender) {
	s.commands = cs
}

// RegisterControlRoutes wires up the control-plane API on the given engine.
//
//	Public:   POST /api/login, GET /api/health, GET /ws, GET /metrics
//	Protected (JWT): all other /api/* routes
func (s *Server) RegisterControlRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// ── Public endpoints ──────────────────────────────────────────────────────
	api.POST("/login", s.handleLogin)

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC(), "connections": s.hub.Len()})
	})

	r.GET("/ws", s.handleWS)
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	// ── JWT-protected endpoints ───────────────────────────────────────────────
	auth := api.Group("/", s.auth.JWTMiddleware())
	manage := RequireRole(models.RoleSupervisor, models.RoleOwner)
	{
		auth.GET("/auth/user", s.handleCurrentUser)
		auth.GET("/dashboard/stats", s.handleDashboardStats)
		auth.GET("/dashboard/snapshot", s.handleDashboardSnapshot)

		// Machines
		auth.GET("/machines", s.handleMachineList)
		auth.POST("/machines", manage, s.handleMachineCreate)
		auth.GET("/machines/:id", s.handleMachineGet)
		auth.GET("/machines/:id/jobs", s.handleMachineJobs)
		auth.PATCH("/machines/:id/status", s.handleMachineStatus)
		auth.PATCH("/machines/:id/assign", manage, s.handleMachineAssign)
		auth.POST("/machines/:id/command", s.handleMachineCommand)

		// Production records
		auth.GET("/jobs", s.handleJobList)
		auth.POST("/jobs", s.handleJobCreate)
		auth.PATCH("/jobs/:id/progress", s.handleJobProgress)
		auth.PATCH("/jobs/:id/status", s.handleJobStatus)

		auth.GET("/defects", s.handleDefectList)
		auth.POST("/defects", s.handleDefectCreate)
		auth.PATCH("/defects/:id/resolve", s.handleDefectResolve)

		auth.GET("/alerts", s.handleAlertList)
		auth.POST("/alerts", s.handleAlertCreate)
		auth.PATCH("/alerts/:id/dismiss", s.handleAlertDismiss)

		auth.GET("/shift-reports", s.handleShiftReports)
	}
}

// RegisterDataRoutes wires up the data-plane API on the given engine.
// All routes require a valid Bearer agent token.
func (s *Server) RegisterDataRoutes(r *gin.Engine) {
	api := r.Group("/api", AgentTokenMiddleware(s.opts.AgentToken))
	{
		api.POST("/telemetry", s.handleTelemetryIngest)
	}

	// Data-plane health (no auth, used by load-balancers and k8s probes)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// respondError maps store and telemetry errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, telemetry.ErrInvalidStatus),
		errors.Is(err, telemetry.ErrInvalidValue),
		errors.Is(err, telemetry.ErrUnknownMetric):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, telemetry.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telemetry service is not running"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// queryLimit reads ?limit= clamped to [1,500].
func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, 500)
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// handleLogin accepts username + password and returns a signed JWT.
//
//	POST /api/login
//	Body: { "username": "admin", "password": "admin" }
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	u, err := s.store.GetUserByUsername(c.Request.Context(), body.Username)
	if err != nil || !CheckPassword(u.PasswordHash, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.auth.GenerateJWT(u)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(s.auth.ttl.Seconds()),
		"type":       "Bearer",
		"user":       u,
	})
}

func (s *Server) handleCurrentUser(c *gin.Context) {
	u, err := s.store.GetUser(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": u})
}

func (s *Server) handleDashboardStats(c *gin.Context) {
	stats, err := s.store.DashboardStats(c.Request.Context(), s.now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) handleDashboardSnapshot(c *gin.Context) {
	snap, err := s.store.Snapshot(c.Request.Context(), s.now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

func (s *Server) handleMachineList(c *gin.Context) {
	machines, err := s.store.ListMachines(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": machines})
}

func (s *Server) handleMachineGet(c *gin.Context) {
	m, err := s.store.GetMachine(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": m})
}

func (s *Server) handleMachineCreate(c *gin.Context) {
	var body struct {
		ID     string               `json:"id"`
		Name   string               `json:"name" binding:"required"`
		Type   string               `json:"type" binding:"required"`
		Status models.MachineStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Status != "" && !body.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	m := &models.Machine{ID: body.ID, Name: body.Name, Type: body.Type, Status: body.Status}
	if err := s.store.CreateMachine(c.Request.Context(), m); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": m})
}

func (s *Server) handleMachineJobs(c *gin.Context) {
	jobs, err := s.store.JobsByMachine(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

// handleMachineStatus routes a manual status change through the applier so
// it is persisted and broadcast in order with live telemetry.
//
//	PATCH /api/machines/:id/status
//	Body: { "status": "maintenance" }
func (s *Server) handleMachineStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}
	status, err := telemetry.NormalizeStatus(body.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	id := c.Param("id")
	if _, err := s.store.GetMachine(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	if err := s.ingest.ApplyStatus(c.Request.Context(), id, status); err != nil {
		respondError(c, err)
		return
	}
	log.Printf("[api] %s set %s to %s", c.GetString(ctxUsername), id, status)
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": status})
}

func (s *Server) handleMachineAssign(c *gin.Context) {
	var body struct {
		OperatorID *string `json:"operatorId"`
		JobID      *string `json:"jobId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.AssignMachine(c.Request.Context(), c.Param("id"), body.OperatorID, body.JobID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleMachineCommand publishes an operator command to the machine.
//
//	POST /api/machines/:id/command
//	Body: { "command": "set_rpm", "value": 1800 }
func (s *Server) handleMachineCommand(c *gin.Context) {
	if s.commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "machine commands require mqtt_enabled"})
		return
	}
	var body struct {
		Command string `json:"command" binding:"required"`
		Value   any    `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command required"})
		return
	}
	id := c.Param("id")
	if _, err := s.store.GetMachine(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	if err := s.commands.Publish(c.Request.Context(), id, body.Command, body.Value); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "command": body.Command})
}

// handleTelemetryIngest accepts samples from an agent (data-plane only).
// Every metric is validated before any is queued, so a bad request changes
// nothing.
//
//	POST /api/telemetry
//	Body: { "machineId": "machine-001", "metrics": { "temperature": 41.2, "status": "running" } }
func (s *Server) handleTelemetryIngest(c *gin.Context) {
	var payload struct {
		MachineID string         `json:"machineId" binding:"required"`
		Metrics   map[string]any `json:"metrics" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for metric, v := range payload.Metrics {
		if _, err := telemetry.Normalize(metric, v); err != nil {
			respondError(c, err)
			return
		}
	}

	now := s.now()
	accepted := 0
	// Fixed order keeps a request's samples in a predictable sequence.
	for _, metric := range telemetry.MetricNames {
		v, ok := payload.Metrics[metric]
		if !ok {
			continue
		}
		err := s.ingest.Submit(c.Request.Context(), telemetry.Sample{
			MachineID: payload.MachineID,
			Metric:    metric,
			Value:     v,
			At:        now,
			Source:    "agent",
		})
		if err != nil {
			respondError(c, err)
			return
		}
		accepted++
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}
