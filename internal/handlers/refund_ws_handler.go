package handlers

import (
	"errors"
	"strings"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/services"
	refundws "github.com/Jokecross/saasmoneyV2/internal/websocket"
	"github.com/Jokecross/saasmoneyV2/pkg/utils"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// RefundSocketHandler serves the live refund channel. Browsers cannot set
// headers on an upgrade, so the token may come in the query string.
type RefundSocketHandler struct {
	service   *services.RefundService
	hub       *refundws.Hub
	jwtSecret string
}

func NewRefundSocketHandler(service *services.RefundService, hub *refundws.Hub, jwtSecret string) *RefundSocketHandler {
	return &RefundSocketHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

func (h *RefundSocketHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}
	if claims.Role != models.RoleStudent && claims.Role != models.RoleAdmin {
		return forbidden(c)
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *RefundSocketHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)
	client := refundws.NewClient(h.hub, conn, userID, role)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service)
}

func (h *RefundSocketHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}
