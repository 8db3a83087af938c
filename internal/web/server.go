// Package web serves the read-only operator API: current component
// statuses, alert history, recovery history, the latest report and the
// Prometheus scrape endpoint.
package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vigil/internal/report"
	"vigil/internal/store"
)

const defaultListLimit = 100

type Server struct {
	repo     *store.Repository
	reporter *report.Generator
	log      *slog.Logger
}

func NewServer(repo *store.Repository, reporter *report.Generator, logger *slog.Logger) *Server {
	return &Server{repo: repo, reporter: reporter, log: logger}
}

func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/alerts", s.handleAlerts)
	api.GET("/recoveries", s.handleRecoveries)
	api.GET("/report", s.handleReport)
	return r
}

func (s *Server) handleStatus(c *gin.Context) {
	statuses, err := s.repo.LatestStatuses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load statuses failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"components": statuses})
}

func (s *Server) handleAlerts(c *gin.Context) {
	ctx := c.Request.Context()
	limit := intQuery(c, "limit", defaultListLimit)
	if c.Query("unresolved") == "1" {
		out, err := s.repo.UnresolvedAlerts(ctx, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load alerts failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": out})
		return
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	out, err := s.repo.RecentAlerts(ctx, since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load alerts failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": out})
}

func (s *Server) handleRecoveries(c *gin.Context) {
	out, err := s.repo.RecentRecoveries(c.Request.Context(), intQuery(c, "limit", defaultListLimit))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load recoveries failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recoveries": out})
}

func (s *Server) handleReport(c *gin.Context) {
	rep, ok := s.reporter.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report generated yet"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

func intQuery(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
