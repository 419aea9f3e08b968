package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ScopeInternal marks tokens issued to trusted backend callers (the job
// service, schedulers) that may use the /internal routes.
const ScopeInternal = "internal"

const (
	ctxUserID = "user_id"
	ctxScope  = "scope"
)

// Claims are the JWT claims the API accepts. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// GenerateToken signs a token for userID valid for ttl.
func GenerateToken(secret []byte, userID, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "jobchat",
		},
		Scope: scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// jwtAuth verifies the bearer token, taken from the Authorization header or,
// for websocket upgrades, the token query parameter.
func jwtAuth(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.QueryParam("token")
			if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
				var found bool
				raw, found = strings.CutPrefix(header, "Bearer ")
				if !found {
					return c.JSON(http.StatusUnauthorized, errorBody("malformed bearer token"))
				}
			}
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, errorBody("missing bearer token"))
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid || claims.Subject == "" {
				return c.JSON(http.StatusUnauthorized, errorBody("invalid token"))
			}

			c.Set(ctxUserID, claims.Subject)
			c.Set(ctxScope, claims.Scope)
			return next(c)
		}
	}
}

// requireScope rejects callers whose token lacks scope.
func requireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s, _ := c.Get(ctxScope).(string); s != scope {
				return c.JSON(http.StatusForbidden, errorBody("insufficient scope"))
			}
			return next(c)
		}
	}
}

// userID returns the authenticated caller.
func userID(c echo.Context) string {
	id, _ := c.Get(ctxUserID).(string)
	return id
}
