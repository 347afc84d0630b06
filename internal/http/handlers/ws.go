package handlers

import (
	"log/slog"
	"net/http"

	"github.com/andresmv/credithub/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	hub      *ws.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *ws.Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser origin enforcement happens at the CORS layer; the
			// socket itself carries no privileged operations.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the connection and runs the session until the client
// disconnects or the server shuts down.
func (h *WSHandler) Serve(ctx *gin.Context) {
	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.WarnContext(ctx.Request.Context(), "ws.upgrade_failed",
			"remote_addr", ctx.ClientIP(), "error", err)
		return
	}

	h.hub.ServeConn(ctx.Request.Context(), conn)
}
