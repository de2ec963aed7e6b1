// middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog/log"

	"tournament-orchestrator/services"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"

	// RoleService marks internal callers (timeout sweeps in other replicas, admin tools).
	RoleService = "service"

	principalKey = "principal"
)

// UserContextMiddleware turns the identity headers set by the Gateway into a
// services.Principal stored on the request.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// The principal outlives the request, so detach it from fasthttp's buffers.
		userID := utils.CopyString(strings.TrimSpace(c.Get(HeaderUserID)))
		var roles []string
		for _, r := range strings.Split(c.Get(HeaderUserRoles), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		p := services.Principal{ID: userID}
		for _, r := range roles {
			if r == RoleService {
				p.Service = true
				if p.ID == "" {
					p.ID = services.ServicePrincipal.ID
				}
			}
		}
		if p.ID == "" {
			log.Warn().Str("path", c.Path()).Msg("❌ [USER_CTX] X-User-ID required but missing")
			return fiber.NewError(fiber.StatusUnauthorized, "missing X-User-ID, request must come through gateway with auth context")
		}

		c.Locals(principalKey, p)
		log.Debug().Str("user_id", p.ID).Strs("roles", roles).Str("path", c.Path()).Msg("👤 [USER_CTX] caller identified")
		return c.Next()
	}
}

// PrincipalFrom returns the caller stored by UserContextMiddleware.
func PrincipalFrom(c *fiber.Ctx) services.Principal {
	p, _ := c.Locals(principalKey).(services.Principal)
	return p
}
