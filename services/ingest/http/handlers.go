package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/osvatech/bus-telemetry/services/ingest/models"
	"github.com/osvatech/bus-telemetry/services/ingest/pipeline"
)

var requiredFields = []string{"bus_line", "latitude", "longitude"}

// handleIngest accepts one telemetry report from a field device.
// POST /data
func (s *Server) handleIngest(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)

	var report models.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	receipt, err := s.ingestor.Ingest(ctx, report)
	if err != nil {
		s.renderIngestError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"location_id": receipt.LocationID,
		"message":     "telemetry stored",
		"timestamp":   receipt.ObservedAt.Format(time.RFC3339),
	})
}

func (s *Server) renderIngestError(c *gin.Context, err error) {
	var ingErr *pipeline.Error
	if !errors.As(err, &ingErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	switch ingErr.Code {
	case pipeline.CodeMissingField:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    ingErr.Message,
			"required": requiredFields,
		})
	case pipeline.CodeInvalidLine, pipeline.CodeInvalidCoordinates:
		c.JSON(http.StatusBadRequest, gin.H{"error": ingErr.Message})
	case pipeline.CodeAnomalyRejected:
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "anomaly detected: movement not plausible",
			"tip":   "check the GPS sensor",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// handleHealth probes the storage backend.
// GET /health
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "disconnected",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStats returns aggregate telemetry counts.
// GET /stats
func (s *Server) handleStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}
