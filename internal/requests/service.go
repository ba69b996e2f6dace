// Package requests owns the FOIL request lifecycle: creation with
// agency-coded identifiers, the status state machine, the closing gate,
// reopening, and due-date extensions. Every transition commits its audit
// event and its row update in one transaction.
package requests

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/foilportal/internal/calendar"
	"github.com/foilportal/internal/events"
	"github.com/foilportal/pkg/models"
)

// maxIDAttempts bounds the collision-retry loop for identifier generation.
const maxIDAttempts = 10

// ErrNotFound is returned when a request id matches nothing.
var ErrNotFound = fmt.Errorf("request not found")

// Config carries the tunables the request workflow needs.
type Config struct {
	// DueDays is the statutory business-day response window for a new request.
	DueDays int
	// AgencyDescriptionDueDays delays public visibility of the closing
	// rationale after a request is closed.
	AgencyDescriptionDueDays int
}

// Service handles request lifecycle operations
type Service struct {
	db     *sql.DB
	events *events.Repo
	cal    *calendar.Calendar
	cfg    Config
	log    zerolog.Logger
}

// NewService creates a new request service
func NewService(db *sql.DB, eventsRepo *events.Repo, cal *calendar.Calendar, cfg Config, log zerolog.Logger) *Service {
	return &Service{db: db, events: eventsRepo, cal: cal, cfg: cfg, log: log}
}

// CreateParams is the input for a new request, from the public portal form
// or from an agency entering a non-portal submission.
type CreateParams struct {
	AgencyEIN   string
	Title       string
	Description string

	// Requester identity. Either an authenticated public user, or contact
	// details for an anonymous requester placeholder.
	RequesterGUID     string
	RequesterAuthType models.AuthType
	RequesterEmail    string
	RequesterName     [2]string // first, last

	// Non-portal-agency path.
	OfflineSubmissionType string
	DateReceived          *time.Time
}

// Validate checks required fields, returning the field→message map the UI
// renders.
func (p CreateParams) Validate() models.ValidationErrors {
	errs := models.ValidationErrors{}
	if p.AgencyEIN == "" {
		errs["agency_ein"] = "An agency is required."
	}
	if p.Title == "" {
		errs["title"] = "A request title is required."
	}
	if p.Description == "" {
		errs["description"] = "A description of the records sought is required."
	}
	return errs
}

// Create submits a new request: generates the FOIL identifier, opens the
// request with its statutory due date, links exactly one requester (an
// anonymous placeholder user when no authenticated identity is given), and
// appends the creation event, all in one transaction.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Request, error) {
	if errs := p.Validate(); errs.Any() {
		return nil, errs
	}

	now := time.Now().UTC()
	received := now
	if p.DateReceived != nil {
		received = p.DateReceived.UTC()
	}
	dueDate := calendar.EndOfDay(s.cal.AddBusinessDays(received, s.cfg.DueDays))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := s.generateID(ctx, tx, p.AgencyEIN, now)
	if err != nil {
		return nil, err
	}

	req := &models.Request{
		ID:          id,
		AgencyEIN:   p.AgencyEIN,
		Title:       p.Title,
		Description: p.Description,
		Status:      models.StatusOpen,
		DueDate:     dueDate,
		CreatedAt:   now,
	}
	if p.OfflineSubmissionType != "" {
		req.OfflineSubmission = &p.OfflineSubmissionType
		req.DateReceived = &received
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO requests (id, agency_ein, title, description, status, due_date,
		                      offline_submission_type, date_received, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, req.ID, req.AgencyEIN, req.Title, req.Description, req.Status, req.DueDate,
		req.OfflineSubmission, req.DateReceived, req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert request: %w", err)
	}

	requesterGUID := p.RequesterGUID
	requesterAuth := p.RequesterAuthType
	requesterType := models.RequestUserRequester
	if requesterGUID == "" {
		// Anonymous submission: a placeholder user record linked 1:1 to
		// the request stands in for the requester.
		requesterGUID = uuid.NewString()
		requesterAuth = models.AuthAnonymousUser
		requesterType = models.RequestUserAnonymousRequester
		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (guid, auth_user_type, email, first_name, last_name,
			                   is_anonymous_requester, anonymous_request_id, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, TRUE, $6, $7, $7)
		`, requesterGUID, requesterAuth, p.RequesterEmail,
			p.RequesterName[0], p.RequesterName[1], req.ID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create anonymous requester: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_requests (user_guid, auth_user_type, request_id, request_user_type, permissions)
		VALUES ($1, $2, $3, $4, $5)
	`, requesterGUID, requesterAuth, req.ID, requesterType, models.PermNone)
	if err != nil {
		return nil, fmt.Errorf("failed to link requester: %w", err)
	}

	err = s.events.Insert(ctx, tx, &models.Event{
		RequestID: req.ID,
		UserGUID:  &requesterGUID,
		AuthType:  &requesterAuth,
		Type:      models.EventRequestCreated,
		Timestamp: now,
		NewValue: map[string]any{
			"status":   string(req.Status),
			"due_date": req.DueDate.Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info().Str("request_id", req.ID).Str("agency", req.AgencyEIN).Msg("request created")
	return req, nil
}

// generateID produces the next FOIL-<year>-<agency>-<seq> identifier from
// the database-backed counter, retrying on the off chance the composed key
// already exists.
func (s *Service) generateID(ctx context.Context, tx *sql.Tx, agencyEIN string, now time.Time) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT nextval('request_id_seq')`).Scan(&seq); err != nil {
			return "", fmt.Errorf("failed to advance request sequence: %w", err)
		}

		id := fmt.Sprintf("FOIL-%d-%s-%05d", now.Year(), agencyEIN, seq)

		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM requests WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("failed to check request id: %w", err)
		}
		if !exists {
			return id, nil
		}
		s.log.Warn().Str("request_id", id).Msg("request id collision, retrying")
	}
	return "", fmt.Errorf("failed to generate request id after %d attempts", maxIDAttempts)
}

// GetByID fetches one request.
func (s *Service) GetByID(ctx context.Context, id string) (*models.Request, error) {
	req := &models.Request{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agency_ein, title, description, status, sub_status, due_date,
		       was_acknowledged, agency_description, agency_description_due_date,
		       title_private, description_private, offline_submission_type,
		       date_received, created_at, closed_at
		FROM requests WHERE id = $1
	`, id).Scan(
		&req.ID, &req.AgencyEIN, &req.Title, &req.Description, &req.Status,
		&req.SubStatus, &req.DueDate, &req.WasAcknowledged, &req.AgencyDescription,
		&req.AgencyDescDueDate, &req.TitlePrivate, &req.DescriptionPrivate,
		&req.OfflineSubmission, &req.DateReceived, &req.CreatedAt, &req.ClosedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// Transition moves a request to a new lifecycle state, recording exactly one
// status-change event in the same transaction as the row update. The row is
// locked for the duration so a concurrent sweep and a manual change cannot
// interleave between read and write. Returns false without writing anything
// when the request is already in the target state.
func (s *Service) Transition(ctx context.Context, requestID string, to models.RequestStatus, actor *models.Actor) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	changed, err := s.transitionTx(ctx, tx, requestID, to, actor, models.EventRequestStatusChanged, nil)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// transitionTx is the single transition primitive every status writer goes
// through: lock the row, compare, append the event, then update the row.
// extra is merged into the event's new-value snapshot.
func (s *Service) transitionTx(ctx context.Context, tx *sql.Tx, requestID string, to models.RequestStatus, actor *models.Actor, eventType models.EventType, extra map[string]any) (bool, error) {
	var current models.RequestStatus
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM requests WHERE id = $1 FOR UPDATE`, requestID).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to lock request: %w", err)
	}

	if current == to {
		return false, nil
	}
	if !CanTransition(current, to) {
		return false, fmt.Errorf("cannot transition request %s from %s to %s", requestID, current, to)
	}

	newValue := map[string]any{"status": string(to)}
	for k, v := range extra {
		newValue[k] = v
	}

	guid, authType := actor.EventActor()
	err = s.events.Insert(ctx, tx, &models.Event{
		RequestID:     requestID,
		UserGUID:      guid,
		AuthType:      authType,
		Type:          eventType,
		PreviousValue: map[string]any{"status": string(current)},
		NewValue:      newValue,
	})
	if err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE requests SET status = $1 WHERE id = $2`, to, requestID)
	if err != nil {
		return false, fmt.Errorf("failed to update request status: %w", err)
	}
	return true, nil
}

// CloseParams carries the closing action's input.
type CloseParams struct {
	Reasons           []models.ClosureReason
	AgencyDescription string
}

// Close closes a request. The gate: when the agency description is empty,
// closing is refused if the request carries offline instructions or any
// response with restricted privacy. Refusal comes back as field-level
// validation errors, with no partial close. On success the agency-description release
// date is set a fixed number of business days out.
func (s *Service) Close(ctx context.Context, requestID string, p CloseParams, actor *models.Actor) error {
	req, err := s.GetByID(ctx, requestID)
	if err != nil {
		return err
	}

	description := p.AgencyDescription
	if description == "" && req.AgencyDescription != nil {
		description = *req.AgencyDescription
	}

	if description == "" {
		var hasInstruction, hasRestricted bool
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM responses WHERE request_id = $1 AND type = $2 AND NOT deleted),
			       EXISTS(SELECT 1 FROM responses WHERE request_id = $1 AND privacy IN ($3, $4) AND NOT deleted)
		`, requestID, models.ResponseInstruction,
			models.PrivacyPrivate, models.PrivacyReleasedAndPrivate,
		).Scan(&hasInstruction, &hasRestricted)
		if err != nil {
			return fmt.Errorf("failed to check closing gate: %w", err)
		}
		if errs := CloseGate(description, hasInstruction, hasRestricted); errs != nil {
			return errs
		}
	}

	now := time.Now().UTC()
	descDue := calendar.EndOfDay(s.cal.AddBusinessDays(now, s.cfg.AgencyDescriptionDueDays))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	changed, err := s.transitionTx(ctx, tx, requestID, models.StatusClosed, actor, models.EventRequestClosed,
		map[string]any{"reasons": reasonStrings(p.Reasons)})
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("request %s is already closed", requestID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE requests
		SET closed_at = $1,
		    agency_description = NULLIF($2, ''),
		    agency_description_due_date = $3,
		    sub_status = ''
		WHERE id = $4
	`, now, description, descDue, requestID)
	if err != nil {
		return fmt.Errorf("failed to finalize close: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info().Str("request_id", requestID).
		Strs("reasons", reasonStrings(p.Reasons)).Msg("request closed")
	return nil
}

// CloseGate decides whether a close must be refused for lack of an agency
// description, given what the request's responses contain. A non-empty
// description always passes; with none, offline instructions and restricted
// privacy each produce their own field-level refusal. Nil means proceed.
func CloseGate(description string, hasInstruction, hasRestricted bool) models.ValidationErrors {
	if description != "" {
		return nil
	}
	errs := models.ValidationErrors{}
	if hasInstruction {
		errs["missing_agency_description"] = "You must provide an agency description before closing this request since it has offline instructions."
	}
	if hasRestricted {
		errs["missing_agency_description_record_privacy"] = "You must provide an agency description before closing this request since one or more responses is marked 'Private' or 'Released and Private'."
	}
	if !errs.Any() {
		return nil
	}
	return errs
}

func reasonStrings(reasons []models.ClosureReason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}

// Reopen moves a closed request back to Open, re-arming the due-date
// comparisons and clearing the closure bookkeeping.
func (s *Service) Reopen(ctx context.Context, requestID string, actor *models.Actor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var current models.RequestStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM requests WHERE id = $1 FOR UPDATE`, requestID).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock request: %w", err)
	}
	if current != models.StatusClosed {
		return fmt.Errorf("cannot reopen request %s: status is %s, not %s", requestID, current, models.StatusClosed)
	}

	guid, authType := actor.EventActor()
	err = s.events.Insert(ctx, tx, &models.Event{
		RequestID:     requestID,
		UserGUID:      guid,
		AuthType:      authType,
		Type:          models.EventRequestReopened,
		PreviousValue: map[string]any{"status": string(current)},
		NewValue:      map[string]any{"status": string(models.StatusOpen)},
	})
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE requests
		SET status = $1, closed_at = NULL, agency_description_due_date = NULL
		WHERE id = $2
	`, models.StatusOpen, requestID)
	if err != nil {
		return fmt.Errorf("failed to reopen request: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info().Str("request_id", requestID).Msg("request reopened")
	return nil
}

// PlanExtension computes the old and new due dates for an extension
// without writing anything. The response registry commits the due-date
// rewrite together with the extension response and its event, so the new
// date can never land unaudited.
func (s *Service) PlanExtension(ctx context.Context, requestID string, days int, explicit *time.Time) (oldDue, newDue time.Time, err error) {
	req, err := s.GetByID(ctx, requestID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if req.Status == models.StatusClosed {
		return time.Time{}, time.Time{}, fmt.Errorf("cannot extend closed request %s", requestID)
	}

	newDue, err = extensionDueDate(s.cal, req.DueDate, days, explicit)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return req.DueDate, newDue, nil
}

// extensionDueDate resolves an extension target: an explicit date wins,
// otherwise a positive business-day offset is applied to the current due
// date. Both land at end of day.
func extensionDueDate(cal *calendar.Calendar, oldDue time.Time, days int, explicit *time.Time) (time.Time, error) {
	if explicit != nil {
		return calendar.EndOfDay(explicit.UTC()), nil
	}
	if days <= 0 {
		return time.Time{}, models.ValidationErrors{
			"days": "An extension must add at least one business day or supply an explicit date.",
		}
	}
	return calendar.EndOfDay(cal.AddBusinessDays(oldDue, days)), nil
}

// SetSubStatus records a free-text progress marker on the request.
func (s *Service) SetSubStatus(ctx context.Context, requestID, subStatus string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET sub_status = $1 WHERE id = $2`, subStatus, requestID)
	if err != nil {
		return fmt.Errorf("failed to set sub-status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EditAgencyDescription updates the agency's closing rationale and audits
// the change.
func (s *Service) EditAgencyDescription(ctx context.Context, requestID, text string, actor *models.Actor) error {
	req, err := s.GetByID(ctx, requestID)
	if err != nil {
		return err
	}

	var old string
	if req.AgencyDescription != nil {
		old = *req.AgencyDescription
	}
	if old == text {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	guid, authType := actor.EventActor()
	err = s.events.Insert(ctx, tx, &models.Event{
		RequestID:     requestID,
		UserGUID:      guid,
		AuthType:      authType,
		Type:          models.EventAgencyDescEdited,
		PreviousValue: map[string]any{"agency_description": old},
		NewValue:      map[string]any{"agency_description": text},
	})
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE requests SET agency_description = NULLIF($1, '') WHERE id = $2`, text, requestID)
	if err != nil {
		return fmt.Errorf("failed to update agency description: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetRequestPrivacy flips the title or description privacy flag. Both may
// not be private unless an agency description exists for the public view.
func (s *Service) SetRequestPrivacy(ctx context.Context, requestID, field string, private bool, actor *models.Actor) error {
	req, err := s.GetByID(ctx, requestID)
	if err != nil {
		return err
	}

	titlePrivate, descPrivate := req.TitlePrivate, req.DescriptionPrivate
	switch field {
	case "title":
		titlePrivate = private
	case "description":
		descPrivate = private
	default:
		return models.ValidationErrors{"field": "Privacy can only be set on the title or the description."}
	}

	noDescription := req.AgencyDescription == nil || *req.AgencyDescription == ""
	if titlePrivate && descPrivate && noDescription {
		return models.ValidationErrors{
			"agency_description": "An agency description must be provided if both the title and the description are private.",
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	guid, authType := actor.EventActor()
	err = s.events.Insert(ctx, tx, &models.Event{
		RequestID: requestID,
		UserGUID:  guid,
		AuthType:  authType,
		Type:      models.EventRequestPrivacyEdited,
		PreviousValue: map[string]any{
			"title_private":       req.TitlePrivate,
			"description_private": req.DescriptionPrivate,
		},
		NewValue: map[string]any{
			"title_private":       titlePrivate,
			"description_private": descPrivate,
		},
	})
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE requests SET title_private = $1, description_private = $2 WHERE id = $3
	`, titlePrivate, descPrivate, requestID)
	if err != nil {
		return fmt.Errorf("failed to update request privacy: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSweepCandidates fetches an agency's non-closed overdue and due-soon
// requests, each ordered by ascending due date, for the nightly sweep.
func (s *Service) ListSweepCandidates(ctx context.Context, agencyEIN string, now, dueSoonCutoff time.Time) (overdue, dueSoon []*models.Request, err error) {
	overdue, err = s.listByDueWindow(ctx, agencyEIN,
		`due_date < $2`, []interface{}{now})
	if err != nil {
		return nil, nil, err
	}
	dueSoon, err = s.listByDueWindow(ctx, agencyEIN,
		`due_date > $2 AND due_date <= $3`, []interface{}{now, dueSoonCutoff})
	if err != nil {
		return nil, nil, err
	}
	return overdue, dueSoon, nil
}

func (s *Service) listByDueWindow(ctx context.Context, agencyEIN, window string, windowArgs []interface{}) ([]*models.Request, error) {
	query := fmt.Sprintf(`
		SELECT id, agency_ein, title, description, status, sub_status, due_date,
		       was_acknowledged, agency_description, agency_description_due_date,
		       title_private, description_private, offline_submission_type,
		       date_received, created_at, closed_at
		FROM requests
		WHERE agency_ein = $1 AND status != '%s' AND %s
		ORDER BY due_date ASC
	`, models.StatusClosed, window)

	args := append([]interface{}{agencyEIN}, windowArgs...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep candidates: %w", err)
	}
	defer rows.Close()

	reqs := make([]*models.Request, 0)
	for rows.Next() {
		req := &models.Request{}
		err := rows.Scan(
			&req.ID, &req.AgencyEIN, &req.Title, &req.Description, &req.Status,
			&req.SubStatus, &req.DueDate, &req.WasAcknowledged, &req.AgencyDescription,
			&req.AgencyDescDueDate, &req.TitlePrivate, &req.DescriptionPrivate,
			&req.OfflineSubmission, &req.DateReceived, &req.CreatedAt, &req.ClosedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}
	return reqs, nil
}
