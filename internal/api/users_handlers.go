package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/foilportal/internal/api/auth"
	"github.com/foilportal/internal/users"
	"github.com/foilportal/pkg/models"
)

type updateUserBody struct {
	Email             *string                `json:"email,omitempty"`
	NotificationEmail *string                `json:"notification_email,omitempty"`
	PhoneNumber       *string                `json:"phone_number,omitempty"`
	FaxNumber         *string                `json:"fax_number,omitempty"`
	Title             *string                `json:"title,omitempty"`
	Organization      *string                `json:"organization,omitempty"`
	MailingAddress    *models.MailingAddress `json:"mailing_address,omitempty"`
	IsSuper           *bool                  `json:"is_super,omitempty"`
	IsAgencyActive    *bool                  `json:"is_agency_active,omitempty"`
	IsAgencyAdmin     *bool                  `json:"is_agency_admin,omitempty"`
}

// updateUser patches the user named by the composite "guid:auth_type" id.
// The permission matrix decides; a denial is total.
func (s *Server) updateUser(c echo.Context) error {
	var body updateUserBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	patch := users.Patch{
		Email:             body.Email,
		NotificationEmail: body.NotificationEmail,
		PhoneNumber:       body.PhoneNumber,
		FaxNumber:         body.FaxNumber,
		Title:             body.Title,
		Organization:      body.Organization,
		MailingAddress:    body.MailingAddress,
		IsSuper:           body.IsSuper,
		IsAgencyActive:    body.IsAgencyActive,
		IsAgencyAdmin:     body.IsAgencyAdmin,
	}

	err := s.users.Update(c.Request().Context(), c.Param("id"), patch, auth.GetUser(c))
	if err != nil {
		return domainError(c, s.log, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "User updated."})
}
