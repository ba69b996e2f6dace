package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/foilportal/internal/api/auth"
	"github.com/foilportal/internal/notify"
	"github.com/foilportal/internal/responses"
	"github.com/foilportal/internal/storage"
	"github.com/foilportal/pkg/models"
)

// addFileResponse accepts a multipart upload, stores the bytes, and
// registers the file response. Storage validation errors come back as
// field-level messages.
func (s *Server) addFileResponse(c echo.Context) error {
	requestID := c.Param("id")
	privacy := responsePrivacy(c.FormValue("privacy"))
	title := c.FormValue("title")

	if err := s.requirePermission(c, requestID, models.PermAddFile); err != nil {
		return domainError(c, s.log, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return domainError(c, s.log, models.ValidationErrors{"file": "A file is required."})
	}
	src, err := fileHeader.Open()
	if err != nil {
		return domainError(c, s.log, err)
	}
	defer src.Close()

	stored, err := s.files.Save(requestID, fileHeader.Filename, src)
	if err != nil {
		if verrs := storageValidation(err); verrs != nil {
			return domainError(c, s.log, verrs)
		}
		return domainError(c, s.log, err)
	}

	if title == "" {
		title = stored.Name
	}
	resp, err := s.responses.AddFile(c.Request().Context(), requestID, responses.FilePayload{
		Name:     stored.ID + "_" + stored.Name,
		Title:    title,
		MimeType: stored.MimeType,
		Size:     stored.Size,
	}, privacy, auth.GetActor(c))
	if err != nil {
		s.files.Remove(requestID, stored.ID, stored.Name)
		return domainError(c, s.log, err)
	}

	s.notifyResponseAdded(c, requestID, privacy, "A file was added to request "+requestID)
	return c.JSON(http.StatusCreated, resp)
}

func storageValidation(err error) models.ValidationErrors {
	switch {
	case errorsIsAny(err, storage.ErrTooLarge, storage.ErrTooSmall,
		storage.ErrDisallowedExtension, storage.ErrVirusFound):
		return models.ValidationErrors{"file": err.Error()}
	}
	return nil
}

type noteBody struct {
	Content string                 `json:"content"`
	Privacy models.ResponsePrivacy `json:"privacy"`
}

func (s *Server) addNoteResponse(c echo.Context) error {
	var body noteBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if body.Content == "" {
		return domainError(c, s.log, models.ValidationErrors{"content": "Note content is required."})
	}

	requestID := c.Param("id")
	if err := s.requirePermission(c, requestID, models.PermAddNote); err != nil {
		return domainError(c, s.log, err)
	}
	privacy := responsePrivacy(string(body.Privacy))
	resp, err := s.responses.AddNote(c.Request().Context(), requestID,
		responses.NotePayload{Content: body.Content}, privacy, auth.GetActor(c))
	if err != nil {
		return domainError(c, s.log, err)
	}

	s.notifyResponseAdded(c, requestID, privacy, "A note was added to request "+requestID)
	return c.JSON(http.StatusCreated, resp)
}

type linkBody struct {
	Title   string                 `json:"title"`
	URL     string                 `json:"url"`
	Privacy models.ResponsePrivacy `json:"privacy"`
}

func (s *Server) addLinkResponse(c echo.Context) error {
	var body linkBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	errs := models.ValidationErrors{}
	if body.Title == "" {
		errs["title"] = "A link title is required."
	}
	if body.URL == "" {
		errs["url"] = "A URL is required."
	}
	if errs.Any() {
		return domainError(c, s.log, errs)
	}

	requestID := c.Param("id")
	if err := s.requirePermission(c, requestID, models.PermAddLink); err != nil {
		return domainError(c, s.log, err)
	}
	privacy := responsePrivacy(string(body.Privacy))
	resp, err := s.responses.AddLink(c.Request().Context(), requestID,
		responses.LinkPayload{Title: body.Title, URL: body.URL}, privacy, auth.GetActor(c))
	if err != nil {
		return domainError(c, s.log, err)
	}

	s.notifyResponseAdded(c, requestID, privacy, "A link was added to request "+requestID)
	return c.JSON(http.StatusCreated, resp)
}

type instructionBody struct {
	Content string                 `json:"content"`
	Privacy models.ResponsePrivacy `json:"privacy"`
}

func (s *Server) addInstructionResponse(c echo.Context) error {
	var body instructionBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if body.Content == "" {
		return domainError(c, s.log, models.ValidationErrors{"content": "Instruction content is required."})
	}

	requestID := c.Param("id")
	if err := s.requirePermission(c, requestID, models.PermAddInstruction); err != nil {
		return domainError(c, s.log, err)
	}
	privacy := responsePrivacy(string(body.Privacy))
	resp, err := s.responses.AddInstruction(c.Request().Context(), requestID,
		responses.InstructionPayload{Content: body.Content}, privacy, auth.GetActor(c))
	if err != nil {
		return domainError(c, s.log, err)
	}

	s.notifyResponseAdded(c, requestID, privacy, "Offline retrieval instructions were added to request "+requestID)
	return c.JSON(http.StatusCreated, resp)
}

type emailBody struct {
	Subject string                 `json:"subject"`
	Body    string                 `json:"body"`
	To      []string               `json:"to"`
	CC      []string               `json:"cc,omitempty"`
	BCC     []string               `json:"bcc,omitempty"`
	Privacy models.ResponsePrivacy `json:"privacy"`
}

// addEmailResponse records correspondence that happened outside the portal,
// so the request's history stays complete. Nothing is dispatched; the email
// already went out.
func (s *Server) addEmailResponse(c echo.Context) error {
	var body emailBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	errs := models.ValidationErrors{}
	if body.Subject == "" {
		errs["subject"] = "An email subject is required."
	}
	if len(body.To) == 0 && len(body.CC) == 0 && len(body.BCC) == 0 {
		errs["to"] = "At least one recipient is required."
	}
	if errs.Any() {
		return domainError(c, s.log, errs)
	}

	if err := s.requirePermission(c, c.Param("id"), models.PermAddEmail); err != nil {
		return domainError(c, s.log, err)
	}

	resp, err := s.responses.AddEmail(c.Request().Context(), c.Param("id"), responses.EmailPayload{
		Subject: body.Subject,
		Body:    body.Body,
		To:      body.To,
		CC:      body.CC,
		BCC:     body.BCC,
	}, responsePrivacy(string(body.Privacy)), auth.GetActor(c))
	if err != nil {
		return domainError(c, s.log, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

type determinationBody struct {
	Kind    string                 `json:"kind"`
	Reason  string                 `json:"reason"`
	Privacy models.ResponsePrivacy `json:"privacy"`
}

func (s *Server) addDeterminationResponse(c echo.Context) error {
	var body determinationBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	errs := models.ValidationErrors{}
	if body.Kind == "" {
		errs["kind"] = "A determination kind is required."
	}
	if body.Reason == "" {
		errs["reason"] = "A determination reason is required."
	}
	if errs.Any() {
		return domainError(c, s.log, errs)
	}

	requestID := c.Param("id")
	if err := s.requirePermission(c, requestID, models.PermAddDetermination); err != nil {
		return domainError(c, s.log, err)
	}
	privacy := responsePrivacy(string(body.Privacy))
	resp, err := s.responses.AddDetermination(c.Request().Context(), requestID,
		responses.DeterminationPayload{Kind: body.Kind, Reason: body.Reason}, privacy, auth.GetActor(c))
	if err != nil {
		return domainError(c, s.log, err)
	}

	s.notifyResponseAdded(c, requestID, privacy, "A determination was issued on request "+requestID)
	return c.JSON(http.StatusCreated, resp)
}

// listResponses returns the request's responses the caller is allowed to
// see. The owning agency sees everything, the requester sees released
// responses, and everyone else sees only public responses whose release
// date has passed.
func (s *Server) listResponses(c echo.Context) error {
	ctx := c.Request().Context()
	requestID := c.Param("id")

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domainError(c, s.log, err)
	}

	viewer := responses.ViewerPublic
	if user := auth.GetUser(c); user != nil {
		if user.IsSuper || (user.IsAgency() && user.AgencyEIN != nil && *user.AgencyEIN == req.AgencyEIN) {
			viewer = responses.ViewerAgency
		} else {
			assignment, aerr := s.users.RequestAssignment(ctx, requestID, user)
			if aerr != nil {
				return domainError(c, s.log, aerr)
			}
			if assignment != nil && assignment.RequestUser != models.RequestUserAgency {
				viewer = responses.ViewerRequester
			}
		}
	}

	all, err := s.responses.ListForRequest(ctx, requestID)
	if err != nil {
		return domainError(c, s.log, err)
	}

	now := time.Now().UTC()
	visible := make([]*models.Response, 0, len(all))
	for _, resp := range all {
		if responses.Visible(resp, viewer, now) {
			visible = append(visible, resp)
		}
	}
	return c.JSON(http.StatusOK, visible)
}

type editResponseBody struct {
	Fields  map[string]*string      `json:"fields"`
	Privacy *models.ResponsePrivacy `json:"privacy,omitempty"`
}

func (s *Server) editResponse(c echo.Context) error {
	responseID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid response id")
	}

	var body editResponseBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	resp, err := s.responses.GetByID(c.Request().Context(), responseID)
	if err != nil {
		return domainError(c, s.log, err)
	}
	if perm, ok := editPerms[resp.Type]; ok {
		if err := s.requirePermission(c, resp.RequestID, perm); err != nil {
			return domainError(c, s.log, err)
		}
	}

	diff, err := s.responses.Edit(c.Request().Context(), responseID, responses.ChangeSet{
		Fields:  body.Fields,
		Privacy: body.Privacy,
	}, auth.GetActor(c))
	if err != nil {
		return domainError(c, s.log, err)
	}
	return c.JSON(http.StatusOK, diff)
}

func (s *Server) deleteResponse(c echo.Context) error {
	responseID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid response id")
	}

	resp, err := s.responses.GetByID(c.Request().Context(), responseID)
	if err != nil {
		return domainError(c, s.log, err)
	}
	if perm, ok := deletePerms[resp.Type]; ok {
		if err := s.requirePermission(c, resp.RequestID, perm); err != nil {
			return domainError(c, s.log, err)
		}
	}

	if err := s.responses.Delete(c.Request().Context(), responseID, auth.GetActor(c)); err != nil {
		return domainError(c, s.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// notifyResponseAdded resolves recipients by privacy and sends the
// response notice, recording it as an email response on the request.
// Failures are logged only; the response itself already committed.
func (s *Server) notifyResponseAdded(c echo.Context, requestID string, privacy models.ResponsePrivacy, body string) {
	ctx := c.Request().Context()
	recipients, err := s.responses.ResolveEmailRecipients(ctx, requestID, privacy)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", requestID).Msg("recipient resolution failed")
		return
	}

	n := notify.Notification{
		Type:    notify.TypeResponseAdded,
		To:      recipients.To,
		BCC:     recipients.BCC,
		Subject: "Update on records request " + requestID,
		Body:    body,
	}
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.log.Warn().Err(err).Str("request_id", requestID).Msg("notification dispatch failed")
		return
	}

	_, err = s.responses.AddEmail(ctx, requestID, responses.EmailPayload{
		Subject: n.Subject,
		Body:    n.Body,
		To:      n.To,
		BCC:     n.BCC,
	}, models.PrivacyPrivate, auth.GetActor(c))
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", requestID).Msg("email record failed")
	}
}

func responsePrivacy(raw string) models.ResponsePrivacy {
	switch models.ResponsePrivacy(raw) {
	case models.PrivacyPrivate, models.PrivacyReleasedAndPrivate, models.PrivacyReleasedAndPublic:
		return models.ResponsePrivacy(raw)
	default:
		return models.PrivacyPrivate
	}
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
