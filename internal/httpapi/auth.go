package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // "api-key", "jwt", "none"
	APIKey    string // from env API_KEY
	JWTSecret string // from env JWT_SECRET, HS256
}

// NewAuthMiddleware returns a Fiber middleware that validates the
// Authorization header. Probe endpoints stay open in every mode.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" {
			return c.Next()
		}
		if isProbePath(c.Path()) {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		switch cfg.Mode {
		case "api-key":
			if cfg.APIKey != "" && token == cfg.APIKey {
				return c.Next()
			}
			logger.Warn().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unauthorized request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_api_key", "Unauthorized",
				"Invalid API key")

		case "jwt":
			claims := &jwt.RegisteredClaims{}
			_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil {
				logger.Warn().
					Err(err).
					Str("path", c.Path()).
					Str("method", c.Method()).
					Msg("unauthorized request: invalid token")
				return problemResponse(c, fiber.StatusUnauthorized,
					"invalid_token", "Unauthorized",
					"Invalid or expired token")
			}
			c.Locals("subject", claims.Subject)
			return c.Next()
		}

		return problemResponse(c, fiber.StatusUnauthorized,
			"invalid_auth_mode", "Unauthorized",
			"Unsupported auth mode")
	}
}

// isProbePath reports whether the path is an unauthenticated probe.
func isProbePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
