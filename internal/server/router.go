// Package server exposes the registry, incident log and briefing over HTTP.
package server

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/workshop/internal/briefing"
	"github.com/loykin/workshop/internal/healer"
	"github.com/loykin/workshop/internal/incident"
	"github.com/loykin/workshop/internal/metrics"
	"github.com/loykin/workshop/internal/registry"
)

// Services is the registry surface served over HTTP.
type Services interface {
	GetAll() []registry.View
	Get(id string) (registry.View, error)
	StartService(ctx context.Context, id string) (registry.StartResult, error)
	StopService(ctx context.Context, id string) error
	RestartService(ctx context.Context, id string) (int, error)
	StartGroup(ctx context.Context, group string) (map[string]registry.GroupOutcome, error)
	StopGroup(ctx context.Context, group string) (map[string]registry.GroupOutcome, error)
	CheckHealth(ctx context.Context, id string) (registry.HealthResult, error)
	CheckAll(ctx context.Context, concurrency int)
	Reload() error
	RunningCount() int
	TotalCount() int
}

type Incidents interface {
	GetIncidents(ctx context.Context, q incident.Query) []incident.Incident
	Annotate(ctx context.Context, id, note string) bool
}

type Briefer interface {
	Generate(ctx context.Context, now time.Time) briefing.Briefing
}

type Healing interface {
	Sessions() []healer.Session
}

type Options struct {
	BasePath string
	Version  string
	// Concurrency bounds a refresh cycle started over HTTP.
	Concurrency int
	// Metrics mounts /metrics at the root.
	Metrics bool
}

// Router serves the workshop API.
//
//	GET  {base}/health                   daemon status
//	POST {base}/health/refresh           queue a full health cycle
//	GET  {base}/services                 all services
//	GET  {base}/services/:id             one service
//	POST {base}/services/:id/start|stop|restart
//	GET  {base}/services/:id/health      probe now
//	POST {base}/groups/:group/start|stop
//	GET  {base}/incidents?limit=&app=    newest first
//	POST {base}/incidents/:id/annotate   {"note": "..."}
//	GET  {base}/briefing
//	GET  {base}/healing                  in-flight recovery sessions
//	POST {base}/registry/reload
type Router struct {
	svc       Services
	incidents Incidents
	briefer   Briefer
	healing   Healing
	opts      Options
	started   time.Time
}

// NewRouter builds a router. healing may be nil when self-healing is off.
func NewRouter(svc Services, incidents Incidents, briefer Briefer, healing Healing, opts Options) *Router {
	opts.BasePath = sanitizeBase(opts.BasePath)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Router{svc: svc, incidents: incidents, briefer: briefer, healing: healing, opts: opts, started: time.Now()}
}

func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestLog())
	if r.opts.Metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	api := g.Group(r.opts.BasePath)
	api.GET("/health", r.handleHealth)
	api.POST("/health/refresh", r.handleRefresh)

	svc := api.Group("/services")
	svc.GET("", r.handleList)
	svc.GET("/:id", r.withID(r.handleGet))
	svc.POST("/:id/start", r.withID(r.handleStart))
	svc.POST("/:id/stop", r.withID(r.handleStop))
	svc.POST("/:id/restart", r.withID(r.handleRestart))
	svc.GET("/:id/health", r.withID(r.handleCheck))

	api.POST("/groups/:group/start", r.handleGroup(true))
	api.POST("/groups/:group/stop", r.handleGroup(false))

	api.GET("/incidents", r.handleIncidents)
	api.POST("/incidents/:id/annotate", r.handleAnnotate)
	api.GET("/briefing", r.handleBriefing)
	api.GET("/healing", r.handleHealing)
	api.POST("/registry/reload", r.handleReload)
	return g
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}

func (r *Router) withID(h func(*gin.Context, string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !isSafeName(id) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service id"})
			return
		}
		h(c, id)
	}
}

type healthResp struct {
	Status          string  `json:"status"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Version         string  `json:"version"`
	ServicesRunning int     `json:"services_running"`
	ServicesTotal   int     `json:"services_total"`
}

func (r *Router) handleHealth(c *gin.Context) {
	up := math.Round(time.Since(r.started).Seconds()*10) / 10
	writeJSON(c, http.StatusOK, healthResp{
		Status:          "operational",
		UptimeSeconds:   up,
		Version:         r.opts.Version,
		ServicesRunning: r.svc.RunningCount(),
		ServicesTotal:   r.svc.TotalCount(),
	})
}

func (r *Router) handleRefresh(c *gin.Context) {
	go r.svc.CheckAll(context.WithoutCancel(c.Request.Context()), r.opts.Concurrency)
	writeJSON(c, http.StatusAccepted, gin.H{"status": "refresh_queued"})
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.svc.GetAll())
}

func (r *Router) handleGet(c *gin.Context, id string) {
	v, err := r.svc.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handleStart(c *gin.Context, id string) {
	res, err := r.svc.StartService(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleStop(c *gin.Context, id string) {
	if err := r.svc.StopService(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": registry.StatusStopped})
}

func (r *Router) handleRestart(c *gin.Context, id string) {
	// restart waits the settle delay; a dropped client must not abort it halfway
	n, err := r.svc.RestartService(context.WithoutCancel(c.Request.Context()), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "restarting", "attempt": n})
}

func (r *Router) handleCheck(c *gin.Context, id string) {
	res, err := r.svc.CheckHealth(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleGroup(start bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		group := c.Param("group")
		if !isSafeName(group) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid group"})
			return
		}
		var (
			out map[string]registry.GroupOutcome
			err error
		)
		if start {
			out, err = r.svc.StartGroup(c.Request.Context(), group)
		} else {
			out, err = r.svc.StopGroup(c.Request.Context(), group)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, out)
	}
}

func (r *Router) handleIncidents(c *gin.Context) {
	q := incident.Query{AppID: c.Query("app")}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		q.Limit = n
	}
	writeJSON(c, http.StatusOK, r.incidents.GetIncidents(c.Request.Context(), q))
}

type annotateReq struct {
	Note string `json:"note"`
}

func (r *Router) handleAnnotate(c *gin.Context) {
	id := c.Param("id")
	var req annotateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "no note provided"})
		return
	}
	if !r.incidents.Annotate(c.Request.Context(), id, note) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "incident " + id + " not found", Status: "not_found"})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "annotated", "incident_id": id, "note": note})
}

func (r *Router) handleBriefing(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.briefer.Generate(c.Request.Context(), time.Now()))
}

func (r *Router) handleHealing(c *gin.Context) {
	if r.healing == nil {
		writeJSON(c, http.StatusOK, []healer.Session{})
		return
	}
	writeJSON(c, http.StatusOK, r.healing.Sessions())
}

func (r *Router) handleReload(c *gin.Context) {
	if err := r.svc.Reload(); err != nil {
		writeJSON(c, http.StatusUnprocessableEntity, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "reloaded", "services": r.svc.TotalCount()})
}
