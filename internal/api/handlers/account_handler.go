package handlers

import (
	"errors"
	"log/slog"

	"github.com/forumgram/publisher/internal/service"
	"github.com/forumgram/publisher/internal/transfer"
	"github.com/gofiber/fiber/v2"
)

type AccountHandler struct {
	s  service.AccountService
	tk service.TokenService
}

func NewAccountHandler(s service.AccountService, tk service.TokenService) *AccountHandler {
	return &AccountHandler{s: s, tk: tk}
}

func (h *AccountHandler) RegisterAccount(c *fiber.Ctx) error {
	var reg transfer.AccountRegistration
	if err := c.BodyParser(&reg); err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to parse request body",
		})
	}
	if reg.ExternalUserID == "" || reg.AccessToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "external_user_id and access_token are required",
		})
	}

	account, err := h.s.Register(c.Context(), &reg)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateAccount) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(account)
}

func (h *AccountHandler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.s.List(c.Context())
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to list accounts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"accounts": accounts,
	})
}

func (h *AccountHandler) GetAccount(c *fiber.Ctx) error {
	account, err := h.s.Info(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "account not found",
			})
		}
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(account)
}

func (h *AccountHandler) GetHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	rows, err := h.s.History(c.Context(), c.Params("id"), limit)
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to list history",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"history": rows,
	})
}

// RefreshToken forces a token refresh outside the nightly sweep.
func (h *AccountHandler) RefreshToken(c *fiber.Ctx) error {
	err := h.tk.Refresh(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "account not found",
			})
		}
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "token refreshed",
	})
}

// DeactivateAccount is a soft delete; the row is kept for item history.
func (h *AccountHandler) DeactivateAccount(c *fiber.Ctx) error {
	if err := h.s.Deactivate(c.Context(), c.Params("id")); err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "account deactivated",
	})
}
