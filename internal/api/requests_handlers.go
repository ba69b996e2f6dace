package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/foilportal/internal/api/auth"
	"github.com/foilportal/internal/notify"
	"github.com/foilportal/internal/requests"
	"github.com/foilportal/internal/responses"
	"github.com/foilportal/pkg/models"
)

type createRequestBody struct {
	AgencyEIN   string `json:"agency_ein"`
	Title       string `json:"title"`
	Description string `json:"description"`

	// Anonymous submissions carry requester contact details instead of an
	// authenticated identity.
	RequesterEmail     string `json:"requester_email,omitempty"`
	RequesterFirstName string `json:"requester_first_name,omitempty"`
	RequesterLastName  string `json:"requester_last_name,omitempty"`

	// Agency staff entering a submission received outside the portal.
	OfflineSubmissionType string     `json:"offline_submission_type,omitempty"`
	DateReceived          *time.Time `json:"date_received,omitempty"`
}

func (s *Server) createRequest(c echo.Context) error {
	var body createRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	p := requests.CreateParams{
		AgencyEIN:      body.AgencyEIN,
		Title:          body.Title,
		Description:    body.Description,
		RequesterEmail: body.RequesterEmail,
		RequesterName:  [2]string{body.RequesterFirstName, body.RequesterLastName},
	}
	if user := auth.GetUser(c); user != nil {
		p.RequesterGUID = user.GUID
		p.RequesterAuthType = user.AuthType
		// Only agency staff may backdate non-portal submissions.
		if user.IsAgency() {
			p.OfflineSubmissionType = body.OfflineSubmissionType
			p.DateReceived = body.DateReceived
		}
	}

	req, err := s.requests.Create(c.Request().Context(), p)
	if err != nil {
		return domainError(c, s.log, err)
	}

	s.notifyBestEffort(c, notify.Notification{
		Type:    notify.TypeRequestCreated,
		To:      []string{body.RequesterEmail},
		Subject: "Your records request " + req.ID + " has been received",
		Body:    "Request " + req.ID + " was received and is due " + req.DueDate.Format("January 2, 2006") + ".",
	})

	return c.JSON(http.StatusCreated, req)
}

func (s *Server) getRequest(c echo.Context) error {
	req, err := s.requests.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(c, s.log, err)
	}

	// Privacy flags hide the title and description from anyone outside the
	// owning agency.
	user := auth.GetUser(c)
	agencyView := user != nil && (user.IsSuper || (user.IsAgency() && user.AgencyEIN != nil && *user.AgencyEIN == req.AgencyEIN))
	if !agencyView {
		if req.TitlePrivate {
			req.Title = ""
		}
		if req.DescriptionPrivate {
			req.Description = ""
		}
	}
	return c.JSON(http.StatusOK, req)
}

type closeRequestBody struct {
	Reasons           []models.ClosureReason `json:"reasons"`
	AgencyDescription string                 `json:"agency_description"`
}

func (s *Server) closeRequest(c echo.Context) error {
	var body closeRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	ctx := c.Request().Context()
	requestID := c.Param("id")
	actor := auth.GetActor(c)

	if err := s.requirePermission(c, requestID, models.PermCloseRequest); err != nil {
		return domainError(c, s.log, err)
	}

	err := s.requests.Close(ctx, requestID, requests.CloseParams{
		Reasons:           body.Reasons,
		AgencyDescription: body.AgencyDescription,
	}, actor)
	if err != nil {
		return domainError(c, s.log, err)
	}

	recipients, rerr := s.responses.ResolveEmailRecipients(ctx, requestID, models.PrivacyReleasedAndPublic)
	if rerr != nil {
		s.log.Warn().Err(rerr).Str("request_id", requestID).Msg("closure recipient resolution failed")
	} else {
		s.notifyBestEffort(c, notify.Notification{
			Type:    notify.ClosureNotificationType(body.Reasons),
			To:      recipients.To,
			BCC:     recipients.BCC,
			Subject: "Request " + requestID + " has been closed",
			Body:    body.AgencyDescription,
		})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": string(models.StatusClosed)})
}

func (s *Server) reopenRequest(c echo.Context) error {
	ctx := c.Request().Context()
	requestID := c.Param("id")

	if err := s.requirePermission(c, requestID, models.PermReopenRequest); err != nil {
		return domainError(c, s.log, err)
	}

	if err := s.requests.Reopen(ctx, requestID, auth.GetActor(c)); err != nil {
		return domainError(c, s.log, err)
	}

	recipients, rerr := s.responses.ResolveEmailRecipients(ctx, requestID, models.PrivacyReleasedAndPublic)
	if rerr == nil {
		s.notifyBestEffort(c, notify.Notification{
			Type:    notify.TypeRequestReopened,
			To:      recipients.To,
			BCC:     recipients.BCC,
			Subject: "Request " + requestID + " has been reopened",
			Body:    "Request " + requestID + " was reopened and is active again.",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": string(models.StatusOpen)})
}

type extendRequestBody struct {
	Days    int                    `json:"days"`
	DueDate *time.Time             `json:"due_date,omitempty"`
	Reason  string                 `json:"reason"`
	Privacy models.ResponsePrivacy `json:"privacy"`
}

// extendRequest rewrites the due date and records the extension as a
// response on the request, so the extension shows up in the request's
// correspondence history.
func (s *Server) extendRequest(c echo.Context) error {
	var body extendRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if body.Reason == "" {
		return domainError(c, s.log, models.ValidationErrors{
			"reason": "A reason for the extension is required.",
		})
	}

	ctx := c.Request().Context()
	requestID := c.Param("id")
	actor := auth.GetActor(c)

	if err := s.requirePermission(c, requestID, models.PermAddExtension); err != nil {
		return domainError(c, s.log, err)
	}

	oldDue, newDue, err := s.requests.PlanExtension(ctx, requestID, body.Days, body.DueDate)
	if err != nil {
		return domainError(c, s.log, err)
	}

	privacy := body.Privacy
	if privacy == "" {
		privacy = models.PrivacyReleasedAndPublic
	}
	resp, err := s.responses.AddExtension(ctx, requestID, responses.ExtensionPayload{
		Days:       body.Days,
		OldDueDate: oldDue,
		NewDueDate: newDue,
		Reason:     body.Reason,
	}, privacy, actor)
	if err != nil {
		return domainError(c, s.log, err)
	}

	recipients, rerr := s.responses.ResolveEmailRecipients(ctx, requestID, privacy)
	if rerr == nil {
		s.notifyBestEffort(c, notify.Notification{
			Type:    notify.TypeRequestExtended,
			To:      recipients.To,
			BCC:     recipients.BCC,
			Subject: "Request " + requestID + " due date extended",
			Body:    "The due date is now " + newDue.Format("January 2, 2006") + ". Reason: " + body.Reason,
		})
	}

	return c.JSON(http.StatusCreated, resp)
}

type agencyDescriptionBody struct {
	AgencyDescription string `json:"agency_description"`
}

func (s *Server) editAgencyDescription(c echo.Context) error {
	var body agencyDescriptionBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := s.requirePermission(c, c.Param("id"), models.PermEditRequestDetails); err != nil {
		return domainError(c, s.log, err)
	}
	err := s.requests.EditAgencyDescription(
		c.Request().Context(), c.Param("id"), body.AgencyDescription, auth.GetActor(c))
	if err != nil {
		return domainError(c, s.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type requestPrivacyBody struct {
	Field   string `json:"field"`
	Private bool   `json:"private"`
}

func (s *Server) setRequestPrivacy(c echo.Context) error {
	var body requestPrivacyBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := s.requirePermission(c, c.Param("id"), models.PermEditRequestDetails); err != nil {
		return domainError(c, s.log, err)
	}
	err := s.requests.SetRequestPrivacy(
		c.Request().Context(), c.Param("id"), body.Field, body.Private, auth.GetActor(c))
	if err != nil {
		return domainError(c, s.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listEvents(c echo.Context) error {
	ctx := c.Request().Context()
	if eventType := c.QueryParam("type"); eventType != "" {
		evs, err := s.events.ListByType(ctx, c.Param("id"), models.EventType(eventType), 0)
		if err != nil {
			return domainError(c, s.log, err)
		}
		return c.JSON(http.StatusOK, evs)
	}
	evs, err := s.events.ListForRequest(ctx, c.Param("id"), nil)
	if err != nil {
		return domainError(c, s.log, err)
	}
	return c.JSON(http.StatusOK, evs)
}

// notifyBestEffort dispatches a notification without letting delivery
// problems surface to the client; the domain action already committed.
func (s *Server) notifyBestEffort(c echo.Context, n notify.Notification) {
	if err := s.dispatcher.Dispatch(c.Request().Context(), n); err != nil {
		s.log.Warn().Err(err).Str("type", string(n.Type)).Msg("notification dispatch failed")
	}
}
