// Package server exposes the runner's pipeline, run history, and run
// controls over HTTP for dashboards and tooling.
package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/artifact"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/observability"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/run/engine"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/step"
)

// DefinitionLoader supplies the pipeline definition runs are started from.
type DefinitionLoader func() (pipeline.Definition, error)

// Server wires the status API. One server drives at most one run at a time;
// starting a second while one is actively executing is a conflict.
type Server struct {
	cfg     *config.Config
	engine  *engine.Engine
	store   *artifact.Store
	runner  engine.JobRunner
	loadDef DefinitionLoader
	log     zerolog.Logger
	router  *gin.Engine
	started time.Time

	// kick wakes the pump loop; buffering one wakeup means an approval
	// landing while the driver winds down is never lost.
	kick    chan struct{}
	mu      sync.Mutex
	driving bool
}

// Option customizes the server.
type Option func(*Server)

// WithLogger sets the structured logger used by handlers and middleware.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithJobRunner overrides how claimed jobs execute, mostly for tests.
func WithJobRunner(runner engine.JobRunner) Option {
	return func(s *Server) { s.runner = runner }
}

// WithDefinitionLoader overrides where run definitions come from, e.g. a
// command-aware loader.
func WithDefinitionLoader(loader DefinitionLoader) Option {
	return func(s *Server) { s.loadDef = loader }
}

// New builds the API server over the project's engine and configuration.
func New(cfg *config.Config, eng *engine.Engine, opts ...Option) *Server {
	observability.RegisterMetrics()

	s := &Server{
		cfg:     cfg,
		engine:  eng,
		store:   artifact.NewStore(cfg),
		log:     zerolog.Nop(),
		started: time.Now(),
		kick:    make(chan struct{}, 1),
	}
	s.loadDef = func() (pipeline.Definition, error) {
		return pipeline.LoadFile(cfg.PipelinePath())
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = step.NewRunner(cfg, step.WithLogger(s.log))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(s.log))
	router.Use(observability.RequestMetrics())
	router.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.Runner.Server.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = router.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s.router = router
	s.registerRoutes()
	go s.pumpLoop()
	return s
}

// Router returns the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve blocks on the configured listen address.
func (s *Server) Serve() error {
	addr := strings.TrimSpace(s.cfg.Runner.Server.Addr)
	if addr == "" {
		addr = ":9090"
	}
	s.log.Info().Str("addr", addr).Msg("status api listening")
	return s.router.Run(addr)
}

// drive schedules a pump iteration. Extra wakeups collapse into the one
// buffered slot.
func (s *Server) drive() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// driveBusy reports whether a pump iteration is running or pending.
func (s *Server) driveBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driving || len(s.kick) > 0
}

func (s *Server) pumpLoop() {
	for range s.kick {
		s.mu.Lock()
		s.driving = true
		s.mu.Unlock()

		s.pumpOnce()

		s.mu.Lock()
		s.driving = false
		s.mu.Unlock()
	}
}

func (s *Server) pumpOnce() {
	driver, err := engine.NewDriver(s.engine, s.runner, s.log)
	if err != nil {
		s.log.Error().Err(err).Msg("driver construction failed")
		return
	}
	state, err := driver.ResumeRun(context.Background(), engine.ResumeRequest{})
	if err != nil {
		s.log.Error().Err(err).Msg("background run failed")
		return
	}
	s.log.Info().
		Str("run_id", state.RunID).
		Str("status", string(state.Status)).
		Msg("background run settled")
}

func normalizeOrigins(origins []string) []string {
	cleaned := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cleaned = append(cleaned, origin)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{"http://localhost:3000"}
	}
	return cleaned
}
