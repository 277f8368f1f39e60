// Package auth guards the HTTP surface: JWT bearer tokens for user
// endpoints, shared basic-auth credentials for the runner callbacks.
package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"pipeline-cloud/backend/internal/config"
)

// AccessTokenHeader carries the user's JWT on API requests.
const AccessTokenHeader = "X-Access-Token"

// Auth verifies user tokens and worker credentials.
type Auth struct {
	secret     []byte
	workerUser string
	workerPass string
	logger     *slog.Logger
}

// New creates an Auth from the application configuration. An empty secret
// disables user-token checks (dev mode); worker credentials are always
// enforced on the callback endpoints when configured.
func New(cfg *config.Config, logger *slog.Logger) *Auth {
	return &Auth{
		secret:     []byte(cfg.Auth.Secret),
		workerUser: cfg.Auth.Worker.Username,
		workerPass: cfg.Auth.Worker.Password,
		logger:     logger,
	}
}

// IssueToken mints a signed token for the given subject.
func (a *Auth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("auth secret is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// VerifyToken parses and validates a token, returning its subject.
func (a *Auth) VerifyToken(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.Subject, nil
}

// RequireUser is echo middleware enforcing a valid user token from the
// access-token header or an Authorization bearer. With no secret
// configured it passes everything through.
func (a *Auth) RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(a.secret) == 0 {
				return next(c)
			}

			raw := c.Request().Header.Get(AccessTokenHeader)
			if raw == "" {
				if bearer := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(bearer, "Bearer ") {
					raw = strings.TrimPrefix(bearer, "Bearer ")
				}
			}
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, errorBody("authentication required"))
			}

			subject, err := a.VerifyToken(raw)
			if err != nil {
				a.logger.Debug("rejected user token", "error", err)
				return c.JSON(http.StatusUnauthorized, errorBody("invalid or expired token"))
			}
			c.Set("user", subject)
			return next(c)
		}
	}
}

// RequireWorker is echo middleware enforcing the worker's basic-auth
// credentials on runner callback endpoints.
func (a *Auth) RequireWorker() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if a.workerUser == "" && a.workerPass == "" {
				return next(c)
			}

			user, pass, ok := c.Request().BasicAuth()
			if !ok || !constantTimeEqual(user, a.workerUser) || !constantTimeEqual(pass, a.workerPass) {
				a.logger.Warn("rejected worker callback", "remote", c.RealIP())
				return c.JSON(http.StatusUnauthorized, errorBody("worker credentials required"))
			}
			return next(c)
		}
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func errorBody(message string) map[string]any {
	return map[string]any{"errors": map[string]string{"general": message}}
}
