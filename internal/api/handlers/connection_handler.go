package handlers

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	config "github.com/plugflow/plugflow/configs"
	"github.com/plugflow/plugflow/internal/service"
	"github.com/plugflow/plugflow/pkg/utils"
)

type ConnectionHandler struct {
	cs  service.ConnectionService
	cfg config.Config
}

func NewConnectionHandler(cs service.ConnectionService, cfg config.Config) *ConnectionHandler {
	return &ConnectionHandler{
		cs:  cs,
		cfg: cfg,
	}
}

// Connect redirects to the platform's authorization page. The state
// carries the caller's session token so the callback can identify them.
func (h *ConnectionHandler) Connect(c *fiber.Ctx) error {
	authURL := h.cs.GetAuthURL(c.Context(), c.Params("platform"), c.Query("state"))
	if authURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported platform",
		})
	}
	return c.Redirect(authURL)
}

func (h *ConnectionHandler) CallbackHandler(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	platformName := c.Params("platform")

	claims, err := utils.ValidateToken(h.cfg.SecretKey, state)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	err = h.cs.ConnectCallback(c.Context(), userID, platformName, code)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "something went wrong",
		})
	}

	redirectURL := fmt.Sprintf("%s/dashboard/connections", h.cfg.FrontendURL)
	return c.Redirect(redirectURL, fiber.StatusTemporaryRedirect)
}

// ConnectBluesky takes an identifier and app password in the request
// body; there is no redirect dance for this platform.
func (h *ConnectionHandler) ConnectBluesky(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var body struct {
		Identifier  string `json:"identifier"`
		AppPassword string `json:"app_password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	err := h.cs.ConnectBluesky(c.Context(), userID, body.Identifier, body.AppPassword)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *ConnectionHandler) ListConnections(c *fiber.Ctx) error {
	userID := GetUserID(c)

	connections, err := h.cs.List(c.Context(), userID)
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch connections",
		})
	}

	return c.Status(fiber.StatusOK).JSON(connections)
}

func (h *ConnectionHandler) DeleteConnection(c *fiber.Ctx) error {
	userID := GetUserID(c)
	connectionId := c.QueryInt("id", 0)

	err := h.cs.Delete(c.Context(), userID, int64(connectionId))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to delete connection",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
