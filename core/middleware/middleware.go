package middleware

import (
	"net/http"
	"strings"

	"github.com/troy-samuels/tutor-space-sub004/core/controller"
	"github.com/troy-samuels/tutor-space-sub004/core/errors"
	"github.com/troy-samuels/tutor-space-sub004/core/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Middleware guards the internal API. Callers are other platform services,
// authenticated with an HS256 service token.
type Middleware struct {
	secret []byte
}

func NewMiddleware(serviceTokenSecret string) *Middleware {
	return &Middleware{secret: []byte(serviceTokenSecret)}
}

// ServiceAuthMiddleware validates the Bearer service token and stashes the
// calling service's name on the echo context.
func (m *Middleware) ServiceAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return c.JSON(http.StatusUnauthorized,
					controller.NewErrorResponse(errors.ErrMissingAuthorizationHeader, "missing authorization header"))
			}

			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return c.JSON(http.StatusUnauthorized,
					controller.NewErrorResponse(errors.ErrInvalidTokenFormat, "authorization header must be a bearer token"))
			}

			token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return m.secret, nil
			})
			if err != nil || !token.Valid {
				logger.Warn("service token rejected", "error", err)
				return c.JSON(http.StatusUnauthorized,
					controller.NewErrorResponse(errors.ErrUnauthorized, "invalid service token"))
			}

			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				if svc, ok := claims["svc"].(string); ok {
					c.Set("service", svc)
				}
			}
			return next(c)
		}
	}
}
