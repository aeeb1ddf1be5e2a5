package httpapi

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/giantsdigitaldev/cristos/internal/config"
)

// UserHeader names the caller in none and api-key modes.
const UserHeader = "X-User-ID"

const localUserID = "user_id"

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // "none", "api-key", "jwt"
	APIKey    string
	JWTSecret string
}

// NewAuthMiddleware resolves the calling user. In none mode the user comes
// from X-User-ID; api-key mode also requires the shared bearer key; jwt mode
// takes the user from the token's sub claim.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	mode := strings.ToLower(cfg.Mode)
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if isProbe(path) {
			return c.Next()
		}

		var userID string
		switch mode {
		case config.AuthJWT:
			token, ok := bearer(c)
			if !ok {
				return missingAuth(c)
			}
			sub, err := verifyJWT(token, cfg.JWTSecret)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("unauthorized request: invalid token")
				return problemResponse(c, fiber.StatusUnauthorized,
					"invalid_token", "Unauthorized",
					"Bearer token is invalid or expired")
			}
			userID = sub
		case config.AuthAPIKey:
			token, ok := bearer(c)
			if !ok {
				return missingAuth(c)
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) != 1 {
				logger.Warn().Str("path", path).Str("method", c.Method()).Msg("unauthorized request: invalid API key")
				return problemResponse(c, fiber.StatusUnauthorized,
					"invalid_api_key", "Unauthorized",
					"Invalid API key")
			}
			userID = strings.TrimSpace(c.Get(UserHeader))
		default:
			userID = strings.TrimSpace(c.Get(UserHeader))
		}

		if userID == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_user", "Unauthorized",
				"The calling user could not be determined; send "+UserHeader)
		}
		c.Locals(localUserID, userID)
		return c.Next()
	}
}

func bearer(c *fiber.Ctx) (string, bool) {
	h := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	t := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return t, t != ""
}

func missingAuth(c *fiber.Ctx) error {
	if c.Get(fiber.HeaderAuthorization) == "" {
		return problemResponse(c, fiber.StatusUnauthorized,
			"missing_auth", "Unauthorized",
			"Authorization header is required")
	}
	return problemResponse(c, fiber.StatusUnauthorized,
		"invalid_auth_scheme", "Unauthorized",
		"Authorization header must use Bearer scheme")
}

// verifyJWT checks an HS256 token and returns its subject.
func verifyJWT(token, secret string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", jwt.ErrTokenInvalidSubject
	}
	return claims.Subject, nil
}

// userID returns the caller resolved by the auth middleware.
func userID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}
