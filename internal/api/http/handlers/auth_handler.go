package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/reshala/support-desk/internal/api/dto"
	"github.com/reshala/support-desk/internal/auth"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/service"
)

// AuthHandler issues API sessions to managers and the service account.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// WebApp handles POST /api/auth/webapp. Init data is read from the body or the header.
func (h *AuthHandler) WebApp(c *fiber.Ctx) error {
	var req dto.WebAppLoginRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid payload")
		}
	}
	initData := strings.TrimSpace(req.InitData)
	if initData == "" {
		initData = c.Get(auth.InitDataHeader)
	}
	if initData == "" {
		return fiber.NewError(http.StatusBadRequest, "init_data required")
	}

	session, err := h.auth.LoginWebApp(c.UserContext(), initData)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "auth": authResponse(session)})
}

// Service handles POST /api/auth/service.
func (h *AuthHandler) Service(c *fiber.Ctx) error {
	var req dto.ServiceLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Username == "" || req.Password == "" {
		return fiber.NewError(http.StatusBadRequest, "username and password required")
	}

	session, err := h.auth.LoginService(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "auth": authResponse(session)})
}

func authResponse(s *service.Session) dto.AuthResponse {
	resp := dto.AuthResponse{Token: s.Token, ExpiresAt: s.ExpiresAt, Subject: string(s.Subject)}
	if s.Subject == domain.SubjectTypeManager {
		resp.Manager = &dto.ManagerProfile{
			TelegramID: s.Manager.TelegramID,
			Username:   s.Manager.Username,
			FirstName:  s.Manager.FirstName,
		}
	}
	return resp
}
