package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const jobScope = "jobs"

// JobClaims are carried by tokens minted with IssueJobToken.
type JobClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// RequireJobSecret accepts a bearer token equal to secret or an HS256 JWT signed with it.
// An empty secret rejects every request.
func RequireJobSecret(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "job secret not configured")
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}
			tokenParts := strings.SplitN(authHeader, " ", 2)
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" || tokenParts[1] == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}
			tokenString := tokenParts[1]

			if subtle.ConstantTimeCompare([]byte(tokenString), []byte(secret)) == 1 {
				return next(c)
			}
			if err := validateJobToken(tokenString, secret); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}
			return next(c)
		}
	}
}

// IssueJobToken mints a short-lived token for schedulers that should not hold the raw secret.
func IssueJobToken(secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("job secret not configured")
	}
	now := time.Now()
	claims := JobClaims{
		Scope: jobScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "scheduler",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func validateJobToken(tokenString, secret string) error {
	token, err := jwt.ParseWithClaims(tokenString, &JobClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	claims, ok := token.Claims.(*JobClaims)
	if !ok || !token.Valid {
		return fmt.Errorf("invalid token claims")
	}
	if claims.Scope != jobScope {
		return fmt.Errorf("token scope %q not allowed", claims.Scope)
	}
	return nil
}
