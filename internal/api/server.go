// Package api is the HTTP facade over ops: schedule CRUD, run-now, KPI,
// ingestion, a status snapshot and a server-sent event stream.
package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tracksched/internal/eventbus"
	"tracksched/internal/ops"
	"tracksched/internal/schedule"
	"tracksched/pkg/logx"
)

const (
	headerRequestID   = "X-Request-Id"
	defaultAddr       = ":8080"
	readHeaderTimeout = 10 * time.Second
)

type Config struct {
	Addr        string
	RunNowRPS   float64
	RunNowBurst int
	Pprof       bool
}

type Deps struct {
	Ops *ops.Service
	Bus eventbus.Bus
	// Status returns the engine and scheduler snapshots for /status.
	Status func() any
	Log    logx.Logger
}

type Server struct {
	cfg    Config
	ops    *ops.Service
	bus    eventbus.Bus
	status func() any
	log    logx.Logger

	limMu   sync.RWMutex
	limiter *rate.Limiter

	router *gin.Engine
	srv    *http.Server
}

var registerOnce sync.Once

// registerValidators adds the "hhmm" binding rule (24-hour "HH:MM").
func registerValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
				_, err := schedule.ParseClock(fl.Field().String())
				return err == nil
			})
		}
	})
}

func New(cfg Config, d Deps) *Server {
	registerValidators()
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	bus := d.Bus
	if bus == nil {
		bus = eventbus.Nop()
	}
	status := d.Status
	if status == nil {
		status = func() any { return gin.H{} }
	}
	s := &Server{
		cfg:     cfg,
		ops:     d.Ops,
		bus:     bus,
		status:  status,
		log:     d.Log.With(logx.Component("api")),
		limiter: newLimiter(cfg.RunNowRPS, cfg.RunNowBurst),
	}
	s.router = s.setUpRouter()
	return s
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), max(burst, 1))
}

// SetRunNowLimit swaps the run-now limiter in place.
func (s *Server) SetRunNowLimit(rps float64, burst int) {
	s.limMu.Lock()
	s.limiter = newLimiter(rps, burst)
	s.limMu.Unlock()
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string { return s.cfg.Addr }

// Serve listens until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr), logx.Bool("pprof", s.cfg.Pprof))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}

func (s *Server) setUpRouter() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), s.accessLog(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, envelope{OK: false, Error: "not found"})
	})
	if s.cfg.Pprof {
		pprof.Register(r)
	}

	v1 := r.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/events", s.handleEvents)

	sch := v1.Group("/schedules")
	sch.GET("", s.handleListSchedules)
	sch.POST("", s.handleCreateSchedule)
	sch.GET("/:id", s.handleGetSchedule)
	sch.PUT("/:id", s.handleEditSchedule)
	sch.DELETE("/:id", s.handleDeleteSchedule)
	sch.POST("/:id/enabled", s.handleSetEnabled)
	sch.POST("/:id/run", s.runNowLimit(), s.handleRunSchedule)

	v1.GET("/jobs", s.handleListJobs)
	v1.POST("/jobs/:name/run", s.runNowLimit(), s.handleRunJob)

	v1.GET("/kpi", s.handleKPI)
	v1.POST("/sweep", s.handleSweep)

	v1.GET("/websites", s.handleListWebsites)
	v1.PUT("/websites", s.handleUpsertWebsite)
	v1.POST("/ingest/request-logs", s.handleIngestRequestLog)
	v1.POST("/ingest/trace-reports", s.handleIngestTraceReport)
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		c.Header(headerRequestID, id)
		c.Set(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
			logx.String("ip", c.ClientIP()),
			logx.String("rid", c.GetString(headerRequestID)),
		}
		if status >= http.StatusInternalServerError {
			s.log.Warn("http.request", fields...)
			return
		}
		s.log.Debug("http.request", fields...)
	}
}

func (s *Server) runNowLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.limMu.RLock()
		lim := s.limiter
		s.limMu.RUnlock()
		if !lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, envelope{OK: false, Error: "run-now rate limit exceeded"})
			return
		}
		c.Next()
	}
}
