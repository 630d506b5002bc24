// Package ws accepts device websocket connections and feeds their traffic
// into the device registry.
package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/device-gateway/internal/device"
)

// Handler represents a handler.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	registry *device.Registry
	monitor  *device.HeartbeatMonitor
}

// NewHandler executes the newHandler function.
func NewHandler(logger *zap.Logger, registry *device.Registry, monitor *device.HeartbeatMonitor) *Handler {
	return &Handler{
		logger:   logger,
		registry: registry,
		monitor:  monitor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades the request and runs the connection's read loop until
// the device disconnects or the heartbeat monitor declares it dead.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := device.NewConnection(wsConn)
	conn.SetRemoteAddr(wsConn.RemoteAddr().String())
	wsConn.SetPongHandler(func(string) error {
		conn.MarkPong()
		return nil
	})

	h.logger.Info("ws connection opened", zap.String("remote_addr", wsConn.RemoteAddr().String()))

	go h.monitor.Watch(ctx, conn, func(reason string) {
		h.logger.Warn("forcing disconnect",
			zap.String("device_id", conn.DeviceID()),
			zap.String("reason", reason),
		)
		conn.Close()
	})

	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			h.logger.Debug("ws connection closed",
				zap.String("device_id", conn.DeviceID()),
				zap.Error(err),
			)
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.registry.HandleMessage(ctx, conn, data)
	}

	h.registry.HandleDisconnect(conn)
	h.logger.Info("ws connection closed", zap.String("device_id", conn.DeviceID()))
}
