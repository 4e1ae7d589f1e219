package middleware // middleware provides shared request processing for the admin surface

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// AdminRole is the role claim admin tokens must carry.
const AdminRole = "ADMIN"

// AdminAuth returns an Echo middleware that accepts only HS256 bearer
// tokens signed with secret whose "role" claim is AdminRole.  The token
// subject is stored in the context under "admin".
func AdminAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims := jwt.MapClaims{}
			tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			// Only administrators may read account documents.
			if role, _ := claims["role"].(string); role != AdminRole {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			sub, _ := claims.GetSubject()
			c.Set("admin", sub)
			return next(c)
		}
	}
}
