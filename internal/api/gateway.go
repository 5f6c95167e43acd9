package api

import (
	"context"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/hearthline-chat/hearthline-server/internal/gateway"
)

// GatewayHandler serves the WebSocket upgrade endpoint for the real-time gateway.
type GatewayHandler struct {
	pipeline *gateway.Pipeline
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(pipeline *gateway.Pipeline) *GatewayHandler {
	return &GatewayHandler{pipeline: pipeline}
}

// Upgrade handles GET /api/v1/gateway. It upgrades the HTTP connection to a WebSocket and hands it to the Pipeline,
// which drives the connection through handshake, onboarding, and the long-running send/receive/heartbeat loops.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		h.pipeline.HandleConnection(context.Background(), conn.Conn)
	})(c)
}
