package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/reshala/support-desk/internal/domain"
	apperrors "github.com/reshala/support-desk/pkg/errorutil"
)

const principalKey = "auth_principal"

// InitDataHeader carries raw Mini App init data on API calls.
const InitDataHeader = "X-Telegram-Init-Data"

// Principal represents the authenticated caller.
type Principal struct {
	SubjectType domain.SubjectType
	Manager     domain.Manager
}

// Actor returns the display name written into events and history.
func (p *Principal) Actor() string {
	if p.SubjectType == domain.SubjectTypeService && p.Manager.Username != "" {
		return p.Manager.Username
	}
	return p.Manager.DisplayName()
}

// AuthMiddleware accepts a bearer JWT or raw init data and enforces the manager allow-list.
type AuthMiddleware struct {
	tokens   *TokenManager
	verifier *Verifier
	// devManager is used for every request when auth is skipped.
	devManager *domain.Manager
}

// NewAuthMiddleware constructs middleware. A non-nil devManager disables authentication.
func NewAuthMiddleware(tokens *TokenManager, verifier *Verifier, devManager *domain.Manager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, verifier: verifier, devManager: devManager}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	if m.devManager != nil {
		c.Locals(principalKey, &Principal{SubjectType: domain.SubjectTypeManager, Manager: *m.devManager})
		return c.Next()
	}

	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return apperrors.NewUnauthorized("invalid authorization header")
		}
		claims, err := m.tokens.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			return apperrors.NewUnauthorized("invalid token")
		}
		switch claims.Subject {
		case domain.SubjectTypeManager:
			if !m.verifier.Allowed(claims.TelegramID) {
				return apperrors.NewForbidden("manager access revoked")
			}
		case domain.SubjectTypeService:
		default:
			return apperrors.NewUnauthorized("unknown subject")
		}
		c.Locals(principalKey, &Principal{SubjectType: claims.Subject, Manager: claims.Manager()})
		return c.Next()
	}

	raw := c.Get(InitDataHeader)
	if raw == "" {
		return apperrors.NewUnauthorized("missing credentials")
	}
	manager, err := m.verifier.Manager(raw)
	if err != nil {
		if errors.Is(err, ErrNotManager) {
			return apperrors.NewForbidden("not an allowed manager")
		}
		return apperrors.NewUnauthorized(err.Error())
	}
	c.Locals(principalKey, &Principal{SubjectType: domain.SubjectTypeManager, Manager: manager})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
