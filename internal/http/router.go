// Package http builds the gateway's HTTP surface: health, the device
// websocket endpoint, and the operational API.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/saker-ai/device-gateway/internal/command"
	appconfig "github.com/saker-ai/device-gateway/internal/config"
	"github.com/saker-ai/device-gateway/internal/device"
	"github.com/saker-ai/device-gateway/internal/ws"
)

// NewRouter executes the newRouter function.
func NewRouter(cfg appconfig.Config, wsHandler *ws.Handler, registry *device.Registry, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ws", func(c *gin.Context) {
		wsHandler.Handle(c.Writer, c.Request)
	})

	api := router.Group("/api")
	api.GET("/devices", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"devices": registry.Devices()})
	})
	api.POST("/devices/:id/commands", postCommand(registry))
	api.GET("/voices", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"voices": appconfig.ScanVoiceProfiles(cfg.VoiceProfilesDir)})
	})

	return router
}

type commandRequest struct {
	Command    string         `json:"command" binding:"required"`
	Parameters map[string]any `json:"parameters"`
	Priority   int            `json:"priority"`
}

func postCommand(registry *device.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req commandRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		cmd := command.New(req.Command, req.Parameters, req.Priority)
		outcome, err := registry.SendCommand(c.Request.Context(), c.Param("id"), cmd)
		if err != nil {
			if errors.Is(err, device.ErrUnknownDevice) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown device"})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, outcome)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
