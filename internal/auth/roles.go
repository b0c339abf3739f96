package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/reshala/support-desk/internal/domain"
)

// RequireSubject ensures the caller is one of the allowed subject types.
func RequireSubject(allowed ...domain.SubjectType) fiber.Handler {
	allowedSet := make(map[domain.SubjectType]struct{}, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.SubjectType]; !exists {
			return fiber.NewError(http.StatusForbidden, "insufficient role")
		}
		return c.Next()
	}
}

// RequireManager admits managers and the service account.
func RequireManager() fiber.Handler {
	return RequireSubject(domain.SubjectTypeManager, domain.SubjectTypeService)
}
