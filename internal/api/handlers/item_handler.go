package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/forumgram/publisher/internal/service"
	"github.com/gofiber/fiber/v2"
)

type ItemHandler struct {
	s service.ContentService
}

func NewItemHandler(s service.ContentService) *ItemHandler {
	return &ItemHandler{s: s}
}

// EnqueueItem queues a forum post for publishing on an account. The post is
// rendered and published asynchronously; the response carries the item ID to
// poll.
func (h *ItemHandler) EnqueueItem(c *fiber.Ctx) error {
	var body struct {
		SourceRef   string    `json:"source_ref"`
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := c.BodyParser(&body); err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to parse request body",
		})
	}
	if body.SourceRef == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "source_ref is required",
		})
	}

	item, err := h.s.Enqueue(c.Context(), c.Params("id"), body.SourceRef, body.ScheduledAt)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAccountNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "account not found",
			})
		case errors.Is(err, service.ErrDuplicateItem):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(item)
}

// GetItem returns one item with its current status. Socket clients that
// never received a final frame reconcile through this endpoint.
func (h *ItemHandler) GetItem(c *fiber.Ctx) error {
	item, err := h.s.Info(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrItemNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "item not found",
			})
		}
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(item)
}

func (h *ItemHandler) ListItems(c *fiber.Ctx) error {
	accountID := c.Params("id")
	status := c.Query("status")
	limit := c.QueryInt("limit", 50)

	items, err := h.s.ListByAccount(c.Context(), accountID, status, limit)
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to list items",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"items": items,
	})
}

func (h *ItemHandler) RetryItem(c *fiber.Ctx) error {
	err := h.s.Retry(c.Context(), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrItemNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "item not found",
			})
		case errors.Is(err, service.ErrRetryExhausted), errors.Is(err, service.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "item queued for retry",
	})
}

func (h *ItemHandler) CancelItem(c *fiber.Ctx) error {
	err := h.s.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrItemNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "item not found",
			})
		case errors.Is(err, service.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "item cancelled",
	})
}

// RemoveItem deletes a terminal item. Active and failed items must be
// cancelled before they can be removed.
func (h *ItemHandler) RemoveItem(c *fiber.Ctx) error {
	err := h.s.Remove(c.Context(), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrItemNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "item not found",
			})
		case errors.Is(err, service.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "only terminal items can be removed",
			})
		}
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
