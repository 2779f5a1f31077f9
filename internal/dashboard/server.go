// Package dashboard serves the processed-mail log over HTTP.
package dashboard

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mixelka/mailtriage/internal/notifier"
	"github.com/mixelka/mailtriage/pkg/models"
)

//go:embed static/index.html
var indexHTML []byte

const sseKeepAlive = 25 * time.Second

// Store is the read and delete side of the audit log
type Store interface {
	ListRecords(ctx context.Context) ([]*models.ProcessedRecord, error)
	CountRecords(ctx context.Context) (int, error)
	CountByCategory(ctx context.Context) (map[models.Category]int, error)
	DeleteRecord(ctx context.Context, id string) (bool, error)
}

// Signals is the part of the notifier the dashboard uses
type Signals interface {
	Subscribe() (<-chan notifier.Signal, func())
	Refresh()
}

// Deps dependencies of the dashboard
type Deps struct {
	Store   Store
	Signals Signals
	Logger  *slog.Logger
}

// Server is the dashboard HTTP server
type Server struct {
	store   Store
	signals Signals
	logger  *slog.Logger
	engine  *gin.Engine
}

// New creates the dashboard and its routes
func New(deps Deps) *Server {
	s := &Server{
		store:   deps.Store,
		signals: deps.Signals,
		logger:  deps.Logger.With("component", "dashboard"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.handleIndex)
	api := r.Group("/api")
	{
		api.GET("/emails", s.handleListEmails)
		api.GET("/stats", s.handleStats)
		api.DELETE("/delete/:id", s.handleDelete)
		api.POST("/refresh", s.handleRefresh)
		api.GET("/events", s.handleEvents)
	}

	s.engine = r
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// Open event streams end with ctx
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve dashboard: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down dashboard: %w", err)
	}
	s.logger.Info("dashboard stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) handleListEmails(c *gin.Context) {
	records, err := s.store.ListRecords(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list records", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list emails"})
		return
	}
	if records == nil {
		records = []*models.ProcessedRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()

	total, err := s.store.CountRecords(ctx)
	if err != nil {
		s.logger.Error("failed to count records", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	categories, err := s.store.CountByCategory(ctx)
	if err != nil {
		s.logger.Error("failed to count categories", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":      total,
		"categories": categories,
	})
}

func (s *Server) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid id"})
		return
	}

	deleted, err := s.store.DeleteRecord(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("failed to delete record", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Delete failed"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
		return
	}

	s.logger.Info("record deleted", "id", id)
	s.signals.Refresh()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleRefresh(c *gin.Context) {
	s.signals.Refresh()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleEvents streams notifier signals as server-sent events
func (s *Server) handleEvents(c *gin.Context) {
	signals, unsubscribe := s.signals.Subscribe()
	defer unsubscribe()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", "ok")
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case sig, ok := <-signals:
			if !ok {
				return false
			}
			c.SSEvent(string(sig), string(sig))
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", "")
			return true
		}
	})
}
