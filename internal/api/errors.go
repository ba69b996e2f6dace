package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/foilportal/internal/requests"
	"github.com/foilportal/internal/responses"
	"github.com/foilportal/internal/users"
	"github.com/foilportal/pkg/models"
)

// domainError maps a domain error to the HTTP response the UI expects:
// validation failures as a field→message map, permission denials as 403,
// unknown ids as 404, no-op edits as 200 with a "no changes" marker, and
// everything else as an opaque 500 whose reference is logged with the full
// cause.
func domainError(c echo.Context, log zerolog.Logger, err error) error {
	var verrs models.ValidationErrors
	if errors.As(err, &verrs) {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"errors": verrs})
	}

	switch {
	case errors.Is(err, users.ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	case errors.Is(err, requests.ErrNotFound),
		errors.Is(err, responses.ErrNotFound),
		errors.Is(err, users.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	case errors.Is(err, users.ErrNoChanges),
		errors.Is(err, responses.ErrNoChanges):
		return c.JSON(http.StatusOK, map[string]string{"message": "No changes detected."})
	case errors.Is(err, responses.ErrNotEditable),
		errors.Is(err, responses.ErrNotDeletable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	ref := uuid.NewString()
	log.Error().Err(err).Str("error_ref", ref).
		Str("path", c.Request().URL.Path).Msg("internal error")
	return echo.NewHTTPError(http.StatusInternalServerError,
		map[string]string{"error_ref": ref})
}
