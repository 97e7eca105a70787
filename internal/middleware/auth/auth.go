package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/pkg/logger"
)

// ScopeKey is the fiber locals key the resolved tenant scope is stored
// under. Websocket handlers read it directly off the upgraded
// connection's locals.
const ScopeKey = "tenant_scope"

type Config struct {
	// Tokens maps a bearer token to "org_id/workspace_id".
	Tokens map[string]string

	// DevToken, when set, authenticates as the dev tenant. Meant for
	// local setups without a token map.
	DevToken     string
	DevOrg       string
	DevWorkspace string
}

// Middleware resolves the bearer token to a tenant scope and stores it
// in the request locals. Every entity read or written downstream is
// scoped to it.
func Middleware(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing bearer token",
			})
		}

		scope, ok := resolve(cfg, token)
		if !ok {
			logger.Warn("Rejected unknown token", zap.String("ip", c.IP()), zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(ScopeKey, scope)
		return c.Next()
	}
}

// Scope returns the tenant scope the middleware attached to the request.
func Scope(c *fiber.Ctx) models.TenantScope {
	scope, _ := c.Locals(ScopeKey).(models.TenantScope)
	return scope
}

func resolve(cfg Config, token string) (models.TenantScope, bool) {
	if tenant, ok := cfg.Tokens[token]; ok {
		parts := strings.SplitN(tenant, "/", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return models.TenantScope{OrgID: parts[0], WorkspaceID: parts[1]}, true
		}
		return models.TenantScope{}, false
	}

	if cfg.DevToken != "" && token == cfg.DevToken {
		return models.TenantScope{OrgID: cfg.DevOrg, WorkspaceID: cfg.DevWorkspace}, true
	}

	return models.TenantScope{}, false
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
