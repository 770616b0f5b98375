package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jphoke/mailtls-assessor/pkg/queue"
)

// HostRequest submits a host for assessment.
type HostRequest struct {
	Host     string `json:"host" binding:"required"`
	Priority int    `json:"priority"`
}

// HostResponse acknowledges a queued host.
type HostResponse struct {
	ID   string `json:"id"`
	Host string `json:"host"`
}

type prioritizedProducer interface {
	EnqueuePriority(ctx context.Context, host string, priority int) (queue.Item, error)
}

// Server serves the HTTP side of the assessor.
type Server struct {
	health   func(ctx context.Context) (map[string]string, bool)
	producer queue.Producer
	stream   http.Handler
	registry *prometheus.Registry
	logger   zerolog.Logger
}

func newRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	{
		api.GET("/health", s.healthCheck)
		api.POST("/hosts", s.enqueueHost)
		if s.stream != nil {
			api.GET("/results/stream", gin.WrapH(s.stream))
		}
	}
	return r
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, ok := s.health(ctx)
	body := gin.H{"status": "healthy"}
	for k, v := range status {
		body[k] = v
	}
	if !ok {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) enqueueHost(c *gin.Context) {
	var req HostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	host, err := queue.NormalizeHost(req.Host)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid host: " + err.Error()})
		return
	}

	var item queue.Item
	if p, ok := s.producer.(prioritizedProducer); ok && req.Priority > 0 {
		item, err = p.EnqueuePriority(c.Request.Context(), host, req.Priority)
	} else {
		item, err = s.producer.Enqueue(c.Request.Context(), host)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("host", host).Msg("failed to queue host")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue host"})
		return
	}
	c.JSON(http.StatusAccepted, HostResponse{ID: item.ID, Host: item.Host})
}
