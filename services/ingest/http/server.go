package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/osvatech/bus-telemetry/services/ingest/config"
	"github.com/osvatech/bus-telemetry/services/ingest/models"
	"github.com/osvatech/bus-telemetry/services/ingest/pipeline"
)

// Store is the slice of the persistence layer the HTTP surface needs
// directly (health probe and aggregates). Ingestion goes through the
// pipeline instead.
type Store interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (models.Stats, error)
}

// Ingestor processes one telemetry report end to end.
type Ingestor interface {
	Ingest(ctx context.Context, report models.Report) (pipeline.Receipt, error)
}

// Server bundles router and dependencies for the ingestion API.
type Server struct {
	cfg      config.Config
	store    Store
	ingestor Ingestor
	engine   *gin.Engine
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, store Store, ingestor Ingestor) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())
	engine.Use(corsMiddleware())
	engine.Use(requestIDMiddleware())

	server := &Server{cfg: cfg, store: store, ingestor: ingestor, engine: engine}
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	// Liveness only; does not touch the database.
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Health probes stay unauthenticated so orchestration can reach them.
	s.engine.GET("/health", s.handleHealth)

	protected := s.engine.Group("/")
	if s.cfg.BearerToken != "" {
		protected.Use(bearerAuthMiddleware(s.cfg.BearerToken))
	}
	protected.POST("/data", s.handleIngest)
	protected.GET("/stats", s.handleStats)

	// Versioned aliases for newer firmware builds.
	v1 := protected.Group("/api/v1")
	{
		v1.POST("/data", s.handleIngest)
		v1.GET("/stats", s.handleStats)
	}
}

func bearerAuthMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token != expected {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
