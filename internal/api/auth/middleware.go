package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/foilportal/pkg/models"
)

// ContextKey represents keys for context values
type ContextKey string

// UserContextKey is where RequireAuth stores the resolved user.
const UserContextKey ContextKey = "user"

// RequireAuth validates the Bearer token and stores the resolved user in
// the request context.
func RequireAuth(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := userFromHeader(c, tokenService)
			if err != nil {
				return err
			}
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}
			c.Set(string(UserContextKey), user)
			return next(c)
		}
	}
}

// OptionalAuth resolves a user when a Bearer token is present but lets
// anonymous requests through. Used on the public submission endpoint.
func OptionalAuth(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := userFromHeader(c, tokenService)
			if err != nil {
				return err
			}
			if user != nil {
				c.Set(string(UserContextKey), user)
			}
			return next(c)
		}
	}
}

func userFromHeader(c echo.Context, tokenService *TokenService) (*models.User, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return nil, nil
	}

	tokenParts := strings.Split(authHeader, " ")
	if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
	}

	user, err := tokenService.ValidateAccessToken(tokenParts[1])
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	}
	return user, nil
}

// GetUser extracts the authenticated user from echo context, nil when the
// request is anonymous.
func GetUser(c echo.Context) *models.User {
	userInterface := c.Get(string(UserContextKey))
	if userInterface == nil {
		return nil
	}
	return userInterface.(*models.User)
}

// GetActor converts the context user to an event actor. Anonymous
// requests yield nil, which event rows record as a system/anonymous
// action.
func GetActor(c echo.Context) *models.Actor {
	user := GetUser(c)
	if user == nil {
		return nil
	}
	return &models.Actor{GUID: user.GUID, AuthType: user.AuthType}
}
