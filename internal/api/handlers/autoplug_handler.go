package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/plugflow/plugflow/internal/service"
)

type AutoPlugHandler struct {
	s service.AutoPlugService
}

func NewAutoPlugHandler(service service.AutoPlugService) *AutoPlugHandler {
	return &AutoPlugHandler{s: service}
}

func (h *AutoPlugHandler) ListPlugs(c *fiber.Ctx) error {
	userId := GetUserID(c)
	postId := c.QueryInt("post_id", 0)

	plugs, err := h.s.ListByPost(c.Context(), userId, int64(postId))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list plugs",
		})
	}

	return c.Status(fiber.StatusOK).JSON(plugs)
}

func (h *AutoPlugHandler) RemovePlug(c *fiber.Ctx) error {
	userId := GetUserID(c)
	plugId := c.QueryInt("id", 0)

	err := h.s.Remove(c.Context(), userId, int64(plugId))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
