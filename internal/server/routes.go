package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/logbook"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/engine"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.GET("/pipeline", s.handlePipeline)
	api.GET("/runs", s.handleRuns)
	api.GET("/runs/:id", s.handleRun)
	api.GET("/runs/:id/jobs/:name", s.handleJob)
	api.GET("/runs/:id/artifacts", s.handleArtifacts)
	api.GET("/runs/:id/log", s.handleRunLog)
	api.POST("/runs", s.handleStartRun)
	api.POST("/runs/:id/approve", s.handleApprove)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "boltci",
		"uptime":  time.Since(s.started).String(),
	})
}

// handleReady reports whether the server could start a run right now, which
// comes down to the pipeline definition being loadable.
func (s *Server) handleReady(c *gin.Context) {
	if _, err := s.loadDef(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handlePipeline(c *gin.Context) {
	def, err := s.loadDef()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pipeline":  def,
		"workflows": def.WorkflowNames(),
	})
}

func (s *Server) handleRuns(c *gin.Context) {
	runs, err := s.engine.Runs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// viewRun resolves the :id parameter, treating "latest" as the current run.
func (s *Server) viewRun(c *gin.Context) (engine.State, bool) {
	id := c.Param("id")
	var (
		state engine.State
		err   error
	)
	if id == "latest" {
		state, err = s.engine.View()
	} else {
		state, err = s.engine.ViewRun(id)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrRunNotFound) || errors.Is(err, engine.ErrStateNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return engine.State{}, false
	}
	return state, true
}

func (s *Server) handleRun(c *gin.Context) {
	state, ok := s.viewRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleJob(c *gin.Context) {
	state, ok := s.viewRun(c)
	if !ok {
		return
	}
	name := c.Param("name")
	node, found := state.JobStatusFor(name)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job " + name})
		return
	}
	response := gin.H{"run_id": state.RunID, "job": node}
	if result, ok := state.Jobs[name]; ok {
		response["result"] = result
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleArtifacts(c *gin.Context) {
	state, ok := s.viewRun(c)
	if !ok {
		return
	}
	manifest, err := s.store.Manifest(state.RunID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, manifest)
}

func (s *Server) handleRunLog(c *gin.Context) {
	state, ok := s.viewRun(c)
	if !ok {
		return
	}
	lines := 100
	if raw := c.Query("lines"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lines must be a positive integer"})
			return
		}
		lines = parsed
	}
	book, err := logbook.ForRun(s.cfg, state.RunID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	tail, total := book.Tail(lines)
	c.JSON(http.StatusOK, gin.H{
		"run_id": state.RunID,
		"lines":  tail,
		"total":  total,
	})
}

type startRunRequest struct {
	Workflow    string   `json:"workflow"`
	Jobs        []string `json:"jobs"`
	MaxParallel *int     `json:"max_parallel"`
}

func (s *Server) handleStartRun(c *gin.Context) {
	if s.driveBusy() {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}
	var req startRunRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	def, err := s.loadDef()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	maxParallel := s.cfg.MaxParallel()
	if req.MaxParallel != nil {
		maxParallel = *req.MaxParallel
	}
	overrides := &engine.RuntimeOverrides{MaxParallel: &maxParallel}
	if len(req.Jobs) > 0 {
		overrides.Targets = &req.Jobs
	}

	state, err := s.engine.Start(engine.StartRequest{
		Definition: def,
		Workflow:   req.Workflow,
		Runtime:    overrides,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.drive()
	c.JSON(http.StatusAccepted, state)
}

type approveRequest struct {
	Job string `json:"job"`
	By  string `json:"by"`
}

func (s *Server) handleApprove(c *gin.Context) {
	current, err := s.engine.View()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrStateNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if id := c.Param("id"); id != "latest" && id != current.RunID {
		c.JSON(http.StatusConflict, gin.H{"error": "run " + id + " is not the current run"})
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, err := s.engine.Approve(engine.ApproveRequest{Job: req.Job, By: req.By})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.drive()
	c.JSON(http.StatusOK, state)
}
