package server

import (
	"log/slog"
	"net/http"
	"time"

	chat "github.com/kirides/chat-relay"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-metrics"
)

type Deps struct {
	Broker *chat.Broker
	Tasks  *chat.Supervisor
	// Metrics is optional; /metrics answers 404 without it.
	Metrics *metrics.InmemSink
	// Gateway is optional; /ws is only routed when it is set.
	Gateway *Gateway
	Logger  *slog.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(logKeyCategory, "http")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": deps.Broker.Peers()})
	})

	if deps.Tasks != nil {
		r.GET("/tasks", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"tasks": deps.Tasks.Running()})
		})
	}

	if deps.Metrics != nil {
		r.GET("/metrics", func(c *gin.Context) {
			summary, err := deps.Metrics.DisplayMetrics(c.Writer, c.Request)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, summary)
		})
	}

	if deps.Gateway != nil {
		r.GET("/ws", deps.Gateway.Handle)
	}

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}
