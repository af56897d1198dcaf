package handler

import (
	"bioinsight-be/internal/pkg/logger"
	internalWS "bioinsight-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
)

// SessionLookup reports whether a session is live.
type SessionLookup func(sessionID string) bool

// StreamHandler upgrades /ws/sessions/:id to the session's frame stream.
type StreamHandler struct {
	hub       *internalWS.Hub
	exists    SessionLookup
	jwtSecret string
	logger    logger.ILogger
}

func NewStreamHandler(hub *internalWS.Hub, exists SessionLookup, jwtSecret string, log logger.ILogger) *StreamHandler {
	return &StreamHandler{hub: hub, exists: exists, jwtSecret: jwtSecret, logger: log}
}

func (h *StreamHandler) RegisterRoutes(app fiber.Router) {
	app.Get("/ws/sessions/:id", h.ServeWs)
}

func (h *StreamHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	if h.jwtSecret != "" {
		// Browsers cannot set headers on a websocket handshake
		tokenStr := c.Query("token")
		if tokenStr == "" {
			authHeader := c.Get("Authorization")
			if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
				tokenStr = authHeader[7:]
			}
		}
		if tokenStr == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing token (Query 'token' or Header 'Authorization')")
		}
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return []byte(h.jwtSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			h.logger.Warn("STREAM", "Invalid token in websocket handshake", map[string]interface{}{"error": err})
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
		}
	}

	sessionID := c.Params("id")
	if !h.exists(sessionID) {
		return fiber.NewError(fiber.StatusNotFound, "session not found")
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("STREAM", "Starting websocket session", map[string]interface{}{"session_id": sessionID})
		internalWS.ServeWs(h.hub, conn, sessionID)
		h.logger.Info("STREAM", "Websocket session ended", map[string]interface{}{"session_id": sessionID})
	})(c)
}
