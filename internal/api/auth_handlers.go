package api

import (
	"database/sql"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foilportal/internal/api/auth"
	"github.com/foilportal/pkg/models"
)

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login authenticates a portal account and issues an access token.
// External identity providers land users with the same token shape; this
// path serves the local public-user accounts.
func (s *Server) login(c echo.Context) error {
	var body loginBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return domainError(c, s.log, models.ValidationErrors{
			"credentials": "Email and password are required.",
		})
	}

	user := &models.User{}
	var passwordHash sql.NullString
	err := s.db.QueryRowContext(c.Request().Context(), `
		SELECT guid, auth_user_type, email, first_name, last_name, password_hash
		FROM users WHERE email = $1 AND auth_user_type = $2
	`, body.Email, models.AuthPublicUserID).Scan(
		&user.GUID, &user.AuthType, &user.Email, &user.FirstName, &user.LastName, &passwordHash,
	)
	if err != nil || !passwordHash.Valid {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}

	if err := auth.CheckPassword(passwordHash.String, body.Password); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}

	token, err := s.tokens.IssueToken(user)
	if err != nil {
		return domainError(c, s.log, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"access_token": token})
}
