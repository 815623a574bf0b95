// Package httpapi serves the health, status and metrics endpoints of
// `ocimp watch`, plus a POST hook that queues an import.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nagimport/ocimp/internal/importer"
	"github.com/nagimport/ocimp/internal/metrics"
	"github.com/nagimport/ocimp/internal/watch"
)

// Loop is the part of watch.Loop the API drives.
type Loop interface {
	Trigger(reason string) bool
	Status() watch.Status
}

// Results reports the latest result per dump kind.
type Results interface {
	Last() map[importer.Mode]*importer.Result
}

type Server struct {
	engine  *gin.Engine
	loop    Loop
	results Results
	log     *zap.Logger
	version string
	started time.Time
}

func New(loop Loop, results Results, m *metrics.Collector, log *zap.Logger, version string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log))

	s := &Server{engine: engine, loop: loop, results: results, log: log, version: version, started: time.Now()}
	engine.GET("/healthz", s.healthz)
	engine.GET("/status", s.status)
	engine.POST("/import", s.trigger)
	if m != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("http server starting", zap.String("listen", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

type resultView struct {
	RunID      string         `json:"run_id"`
	Mode       string         `json:"mode"`
	Statements int64          `json:"statements"`
	Written    int            `json:"written"`
	Errors     int            `json:"errors"`
	Skipped    int            `json:"skipped"`
	Purged     int64          `json:"purged"`
	Duration   string         `json:"duration"`
	PerType    map[string]int `json:"per_type,omitempty"`
}

func viewOf(r *importer.Result) resultView {
	v := resultView{
		RunID:      r.RunID,
		Mode:       string(r.Mode),
		Statements: r.Statements,
		Written:    r.Written,
		Errors:     r.Errors,
		Skipped:    r.Skipped,
		Purged:     r.Purged,
		Duration:   r.Duration.String(),
	}
	if len(r.PerType) > 0 {
		v.PerType = make(map[string]int, len(r.PerType))
		for t, n := range r.PerType {
			v.PerType[t.String()] = n
		}
	}
	return v
}

func (s *Server) status(c *gin.Context) {
	st := s.loop.Status()
	body := gin.H{
		"running": st.Running,
		"runs":    st.Runs,
	}
	if !st.LastRun.IsZero() {
		body["last_run"] = st.LastRun.UTC().Format(time.RFC3339)
	}
	if st.LastErr != nil {
		body["last_error"] = st.LastErr.Error()
	}

	if s.results != nil {
		last := s.results.Last()
		modes := make([]string, 0, len(last))
		for m := range last {
			modes = append(modes, string(m))
		}
		sort.Strings(modes)
		views := make([]resultView, 0, len(modes))
		for _, m := range modes {
			if r := last[importer.Mode(m)]; r != nil {
				views = append(views, viewOf(r))
			}
		}
		body["results"] = views
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) trigger(c *gin.Context) {
	if !s.loop.Trigger("api") {
		c.JSON(http.StatusConflict, gin.H{"queued": false, "error": "an import is already queued"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
