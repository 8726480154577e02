// Package adminapi exposes the minimal operator-facing HTTP surface:
// liveness/readiness checks, Prometheus scraping, and a pause/resume
// trigger for batches. This is not the researcher/participant REST API,
// which is out of scope for the engine.
package adminapi

import (
	"context"
	stdsql "database/sql"
	"net/http"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/batch"
	"github.com/codeready-toolchain/studyengine/pkg/statuscache"
	"github.com/codeready-toolchain/studyengine/pkg/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the admin routes onto a gin.Engine.
type Server struct {
	client *ent.Client
	db     *stdsql.DB
	cache  *statuscache.Cache
	deps   map[string]store.Pinger
	router *gin.Engine
}

// New constructs a Server and registers its routes. cache may be nil; the
// pause/resume handlers skip cache invalidation when it is. deps are pinged
// by /ready alongside the database (e.g. {"redis": cache, "blobstore": blobs});
// nil or absent entries are skipped.
func New(client *ent.Client, db *stdsql.DB, cache *statuscache.Cache, deps map[string]store.Pinger) *Server {
	router := gin.Default()
	s := &Server{client: client, db: db, cache: cache, deps: deps, router: router}

	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/admin/batches/:id/pause", s.handlePause)
	router.POST("/admin/batches/:id/resume", s.handleResume)

	return s
}

// Router returns the underlying gin.Engine for callers that want to add
// their own routes or run it themselves (e.g. under a custom http.Server
// for graceful shutdown).
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server on addr, blocking until it exits.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	hs, err := store.Health(ctx, s.db, s.deps)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unready",
			"error":  err.Error(),
		})
		return
	}
	if hs.Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": hs.Status, "dependencies": hs.Dependencies})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "dependencies": hs.Dependencies})
}

func (s *Server) handlePause(c *gin.Context) {
	s.transitionBatch(c, batch.StatusPAUSED, statuscache.StatusPaused)
}

func (s *Server) handleResume(c *gin.Context) {
	s.transitionBatch(c, batch.StatusRUNNING, statuscache.StatusRunning)
}

func (s *Server) transitionBatch(c *gin.Context, target batch.Status, cached statuscache.Status) {
	id := c.Param("id")

	b, err := s.client.Batch.Get(c.Request.Context(), id)
	if err != nil {
		if ent.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if isTerminalBatchStatus(b.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": "batch is already terminal"})
		return
	}

	if err := s.client.Batch.UpdateOneID(id).SetStatus(target).Exec(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.cache != nil {
		_ = s.cache.Set(c.Request.Context(), id, cached)
	}

	c.JSON(http.StatusOK, gin.H{"batchId": id, "status": string(target)})
}

func isTerminalBatchStatus(s batch.Status) bool {
	switch s {
	case batch.StatusCOMPLETE, batch.StatusFAILED, batch.StatusDELETING:
		return true
	default:
		return false
	}
}
