// Package responses is the polymorphic response registry: files, notes,
// emails, links, instructions, extensions, and determinations attached to a
// request. Every add produces one response row, one variant metadata row,
// and one *_added audit event in a single transaction; every edit goes
// through one shared diff/apply/audit routine driven by the per-variant
// editable-field table in editor.go.
package responses

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/foilportal/internal/calendar"
	"github.com/foilportal/internal/events"
	"github.com/foilportal/pkg/models"
)

// ErrNotFound is returned when a response id matches nothing.
var ErrNotFound = errors.New("response not found")

// ErrNotDeletable is returned for variants that cannot be deleted; only
// files and notes support (soft) deletion.
var ErrNotDeletable = errors.New("response type cannot be deleted")

// Config carries the registry tunables.
type Config struct {
	// ReleaseDays delays public visibility of a released-and-public
	// response by this many business days.
	ReleaseDays int
	// DefaultAgencyEmail receives agency-bound mail when a request has no
	// agency users assigned.
	DefaultAgencyEmail string
}

// Registry creates and edits responses.
type Registry struct {
	db     *sql.DB
	events *events.Repo
	cal    *calendar.Calendar
	cfg    Config
	log    zerolog.Logger
}

// NewRegistry creates a new response registry
func NewRegistry(db *sql.DB, eventsRepo *events.Repo, cal *calendar.Calendar, cfg Config, log zerolog.Logger) *Registry {
	return &Registry{db: db, events: eventsRepo, cal: cal, cfg: cfg, log: log}
}

// FilePayload is the metadata for a stored upload.
type FilePayload struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// NotePayload is a free-text note.
type NotePayload struct {
	Content string `json:"content"`
}

// LinkPayload points at an externally hosted record.
type LinkPayload struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// InstructionPayload describes how to obtain records offline.
type InstructionPayload struct {
	Content string `json:"content"`
}

// EmailPayload records an outbound notification email.
type EmailPayload struct {
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	BCC     []string `json:"bcc,omitempty"`
}

// ExtensionPayload records a due-date extension.
type ExtensionPayload struct {
	Days       int       `json:"days,omitempty"`
	OldDueDate time.Time `json:"old_due_date"`
	NewDueDate time.Time `json:"new_due_date"`
	Reason     string    `json:"reason"`
}

// DeterminationPayload records a formal determination (acknowledgment,
// denial, granting, etc).
type DeterminationPayload struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// AddFile attaches a stored file to a request.
func (r *Registry) AddFile(ctx context.Context, requestID string, p FilePayload, privacy models.ResponsePrivacy, actor *models.Actor) (*models.Response, error) {
	return r.add(ctx, requestID, models.ResponseFile, privacy, actor,
		func(ctx context.Context, tx *sql.Tx) (int64, error) {
			var id int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO response_files (name, title, mime_type, size)
				VALUES ($1, $2, $3, $4) RETURNING id
			`, p.Name, p.Title, p.MimeType, p.Size).Scan(&id)
			return id, err
		},
		map[string]any{"name": p.Name, "title": p.Title, "mime_type": p.MimeType, "size": p.Size},
	)
}

// AddNote attaches a note to a request.
func (r *Registry) AddNote(ctx context.Context, requestID string, p NotePayload, privacy models.ResponsePrivacy, actor *models.Actor) (*models.Response, error) {
	return r.add(ctx, requestID, models.ResponseNote, privacy, actor,
		func(ctx context.Context, tx *sql.Tx) (int64, error) {
			var id int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO response_notes (content) VALUES ($1) RETURNING id
			`, p.Content).Scan(&id)
			return id, err
		},
		map[string]any{"content": p.Content},
	)
}

// AddLink attaches a link to a request.
func (r *Registry) AddLink(ctx context.Context, requestID string, p LinkPayload, privacy models.ResponsePrivacy, actor *models.Actor) (*models.Response, error) {
	return r.add(ctx, requestID, models.ResponseLink, privacy, actor,
		func(ctx context.Context, tx *sql.Tx) (int64, error) {
			var id int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO response_links (title, url) VALUES ($1, $2) RETURNING id
			`, p.Title, p.URL).Scan(&id)
			return id, err
		},
		map[string]any{"title": p.Title, "url": p.URL},
	)
}

// AddInstruction attaches offline-retrieval instructions to a request.
func (r *Registry) AddInstruction(ctx context.Context, requestID string, p InstructionPayload, privacy models.ResponsePrivacy, actor *models.Actor) (*models.Response, error) {
	return r.add(ctx, requestID, models.ResponseInstruction, privacy, actor,
		func(ctx context.Context, tx *sql.Tx) (int64, error) {
			var id int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO response_instructions (content) VALUES ($1) RETURNING id
			`, p.Content).Scan(&id)
			return id, err
		},
		map[string]any{"content": p.Content},
	)
}

// AddEmail records a sent notification email as a response.
func (r *Registry) AddEmail(ctx context.Context, requestID string, p EmailPayload, privacy models.ResponsePrivacy, actor *models.Actor) (*models.Response, error) {
	return r.add(ctx, requestID, models.ResponseEmail, privacy, actor,
		func(ctx context.Context, tx *sql.Tx) (int64, error) {
			var id int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO response_emails (subject, body, recipients_to, recipients_cc, recipients_bcc)
				VALUES ($1, $2, $3, $4, $5) RETURNING id
			`, p.Subject, p.Body,
				strings.Join(p.To, ","), strings.Join(p.CC, ","), strings.Join(p.BCC, ",")).Scan(&id)
			return id, err
		},
		map[string]any{"subject": p.Subject, "to": strings.Join(p.To, ",")},
	)
}

// AddExtension records a due-date extension as a response and rewrites the
// request's due date in the same transaction, so a crash cannot leave a
// changed due date without its audit trail. The requests service plans the
// dates; this commits them.
func (r *Registry) AddExtension(ctx context.Context, requestID string, p ExtensionPayload, privacy models.ResponsePrivacy, actor *models.Actor) (*models.Response, error) {
	return r.add(ctx, requestID, models.ResponseExtension, privacy, actor,
		func(ctx context.Context, tx *sql.Tx) (int64, error) {
			var id int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO response_extensions (days, old_due_date, new_due_date, reason)
				VALUES ($1, $2, $3, $4) RETURNING id
			`, p.Days, p.OldDueDate, p.NewDueDate, p.Reason).Scan(&id)
			if err != nil {
				return 0, err
			}

			res, err := tx.ExecContext(ctx, `
				UPDATE requests SET due_date = $1 WHERE id = $2 AND status != $3
			`, p.NewDueDate, requestID, models.StatusClosed)
			if err != nil {
				return 0, fmt.Errorf("failed to extend due date: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return 0, fmt.Errorf("cannot extend request %s: closed or missing", requestID)
			}
			return id, nil
		},
		map[string]any{
			"old_due_date": p.OldDueDate.Format(time.RFC3339),
			"new_due_date": p.NewDueDate.Format(time.RFC3339),
			"reason":       p.Reason,
		},
	)
}

// AddDetermination records a formal determination on a request.
func (r *Registry) AddDetermination(ctx context.Context, requestID string, p DeterminationPayload, privacy models.ResponsePrivacy, actor *models.Actor) (*models.Response, error) {
	return r.add(ctx, requestID, models.ResponseDetermination, privacy, actor,
		func(ctx context.Context, tx *sql.Tx) (int64, error) {
			var id int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO response_determinations (kind, reason) VALUES ($1, $2) RETURNING id
			`, p.Kind, p.Reason).Scan(&id)
			return id, err
		},
		map[string]any{"kind": p.Kind, "reason": p.Reason},
	)
}

// add is the shared creation path: metadata row, response row, *_added
// event, acknowledgment bookkeeping on the owning request, one transaction.
// The core provides no deduplication; each call creates a new response.
func (r *Registry) add(ctx context.Context, requestID string, rtype models.ResponseType, privacy models.ResponsePrivacy, actor *models.Actor, insertMetadata func(context.Context, *sql.Tx) (int64, error), eventValue map[string]any) (*models.Response, error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	metadataID, err := insertMetadata(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s metadata: %w", rtype, err)
	}

	resp := &models.Response{
		RequestID:    requestID,
		Type:         rtype,
		Privacy:      privacy,
		MetadataID:   metadataID,
		DateModified: now,
		CreatedAt:    now,
	}
	if privacy == models.PrivacyReleasedAndPublic {
		release := calendar.EndOfDay(r.cal.AddBusinessDays(now, r.cfg.ReleaseDays))
		resp.ReleaseDate = &release
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO responses (request_id, type, privacy, metadata_id, release_date, date_modified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`, resp.RequestID, resp.Type, resp.Privacy, resp.MetadataID, resp.ReleaseDate, now).Scan(&resp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert response: %w", err)
	}

	guid, authType := actor.EventActor()
	eventValue["privacy"] = string(privacy)
	err = r.events.Insert(ctx, tx, &models.Event{
		RequestID:  requestID,
		ResponseID: &resp.ID,
		UserGUID:   guid,
		AuthType:   authType,
		Type:       models.AddedEventType(rtype),
		Timestamp:  now,
		NewValue:   eventValue,
	})
	if err != nil {
		return nil, err
	}

	// Any response marks the request acknowledged and records the
	// progress marker.
	_, err = tx.ExecContext(ctx, `
		UPDATE requests SET was_acknowledged = TRUE, sub_status = $1 WHERE id = $2
	`, models.SubStatusResponseAdded, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge request: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Info().Str("request_id", requestID).Str("type", string(rtype)).
		Int64("response_id", resp.ID).Msg("response added")
	return resp, nil
}

// GetByID fetches one response.
func (r *Registry) GetByID(ctx context.Context, id int64) (*models.Response, error) {
	resp := &models.Response{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, request_id, type, privacy, metadata_id, release_date, deleted, date_modified, created_at
		FROM responses WHERE id = $1
	`, id).Scan(
		&resp.ID, &resp.RequestID, &resp.Type, &resp.Privacy, &resp.MetadataID,
		&resp.ReleaseDate, &resp.Deleted, &resp.DateModified, &resp.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	return resp, nil
}

// ListForRequest fetches a request's live responses, newest first. Privacy
// filtering happens in the caller against Visible; soft-deleted responses
// never surface.
func (r *Registry) ListForRequest(ctx context.Context, requestID string) ([]*models.Response, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, type, privacy, metadata_id, release_date, deleted, date_modified, created_at
		FROM responses
		WHERE request_id = $1 AND NOT deleted
		ORDER BY created_at DESC, id DESC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Response, 0)
	for rows.Next() {
		resp := &models.Response{}
		err := rows.Scan(
			&resp.ID, &resp.RequestID, &resp.Type, &resp.Privacy, &resp.MetadataID,
			&resp.ReleaseDate, &resp.Deleted, &resp.DateModified, &resp.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		out = append(out, resp)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating responses: %w", err)
	}
	return out, nil
}

// metadataTables maps each editable variant to its metadata table.
var metadataTables = map[models.ResponseType]string{
	models.ResponseFile:        "response_files",
	models.ResponseNote:        "response_notes",
	models.ResponseLink:        "response_links",
	models.ResponseInstruction: "response_instructions",
}

// loadMetadata reads the editable fields of a response as a field→value map.
func (r *Registry) loadMetadata(ctx context.Context, resp *models.Response) (map[string]string, error) {
	fields := EditableFields(resp.Type)
	if fields == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotEditable, resp.Type)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1",
		strings.Join(fields, ", "), metadataTables[resp.Type])

	values := make([]string, len(fields))
	dest := make([]interface{}, len(fields))
	for i := range values {
		dest[i] = &values[i]
	}

	if err := r.db.QueryRowContext(ctx, query, resp.MetadataID).Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to load %s metadata: %w", resp.Type, err)
	}

	current := make(map[string]string, len(fields))
	for i, f := range fields {
		current[f] = values[i]
	}
	return current, nil
}

// Edit applies a change set to an editable response: compute the diff, drop
// it if empty, otherwise persist the new values, stamp date_modified, and
// append one *_edited event carrying the old/new maps, all in one
// transaction. An empty diff returns ErrNoChanges and writes nothing.
func (r *Registry) Edit(ctx context.Context, responseID int64, changes ChangeSet, actor *models.Actor) (Diff, error) {
	resp, err := r.GetByID(ctx, responseID)
	if err != nil {
		return Diff{}, err
	}
	if resp.Deleted {
		return Diff{}, ErrNotFound
	}

	current, err := r.loadMetadata(ctx, resp)
	if err != nil {
		return Diff{}, err
	}

	diff, err := ComputeDiff(resp.Type, current, resp.Privacy, changes)
	if err != nil {
		return Diff{}, err
	}
	if diff.Empty() {
		return diff, ErrNoChanges
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Diff{}, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	guid, authType := actor.EventActor()
	err = r.events.Insert(ctx, tx, &models.Event{
		RequestID:     resp.RequestID,
		ResponseID:    &resp.ID,
		UserGUID:      guid,
		AuthType:      authType,
		Type:          models.EditedEventType(resp.Type),
		Timestamp:     now,
		PreviousValue: diff.Old,
		NewValue:      diff.New,
	})
	if err != nil {
		return Diff{}, err
	}

	// Apply metadata field changes.
	setParts := []string{}
	args := []interface{}{}
	argIndex := 0
	for _, field := range EditableFields(resp.Type) {
		if newVal, ok := diff.New[field]; ok {
			argIndex++
			setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argIndex))
			args = append(args, newVal)
		}
	}
	if len(setParts) > 0 {
		argIndex++
		query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
			metadataTables[resp.Type], strings.Join(setParts, ", "), argIndex)
		args = append(args, resp.MetadataID)
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return Diff{}, fmt.Errorf("failed to update %s metadata: %w", resp.Type, err)
		}
	}

	// Stamp the response row; apply the privacy change and its release
	// date when present.
	if diff.PrivacyChanged {
		newPrivacy := *changes.Privacy
		var release *time.Time
		if newPrivacy == models.PrivacyReleasedAndPublic {
			rd := calendar.EndOfDay(r.cal.AddBusinessDays(now, r.cfg.ReleaseDays))
			release = &rd
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE responses SET privacy = $1, release_date = $2, date_modified = $3 WHERE id = $4
		`, newPrivacy, release, now, resp.ID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE responses SET date_modified = $1 WHERE id = $2`, now, resp.ID)
	}
	if err != nil {
		return Diff{}, fmt.Errorf("failed to stamp response: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return Diff{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return diff, nil
}

// Delete soft-deletes a file or note response, leaving a tombstone event
// with a snapshot of the metadata. Other variants cannot be deleted; the
// audit trail itself is never touched.
func (r *Registry) Delete(ctx context.Context, responseID int64, actor *models.Actor) error {
	resp, err := r.GetByID(ctx, responseID)
	if err != nil {
		return err
	}
	if resp.Deleted {
		return ErrNotFound
	}
	if resp.Type != models.ResponseFile && resp.Type != models.ResponseNote {
		return fmt.Errorf("%w: %s", ErrNotDeletable, resp.Type)
	}

	snapshot, err := r.loadMetadata(ctx, resp)
	if err != nil {
		return err
	}
	prev := map[string]any{"type": string(resp.Type), "privacy": string(resp.Privacy)}
	for k, v := range snapshot {
		prev[k] = v
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	guid, authType := actor.EventActor()
	err = r.events.Insert(ctx, tx, &models.Event{
		RequestID:     resp.RequestID,
		ResponseID:    &resp.ID,
		UserGUID:      guid,
		AuthType:      authType,
		Type:          models.EventResponseDeleted,
		Timestamp:     now,
		PreviousValue: prev,
		NewValue:      map[string]any{"deleted": true},
	})
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE responses SET deleted = TRUE, date_modified = $1 WHERE id = $2`, now, resp.ID)
	if err != nil {
		return fmt.Errorf("failed to delete response: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Info().Int64("response_id", resp.ID).Str("request_id", resp.RequestID).
		Msg("response soft-deleted")
	return nil
}

// EmailRecipients is the resolved To/Bcc set for a response notification.
type EmailRecipients struct {
	To  []string
	BCC []string
}

// ResolveEmailRecipients selects recipients by privacy: release privacy
// emails the requester with agency staff blind-copied; private privacy
// emails agency staff only. An empty agency set falls back to the
// configured default mailbox rather than failing.
func (r *Registry) ResolveEmailRecipients(ctx context.Context, requestID string, privacy models.ResponsePrivacy) (EmailRecipients, error) {
	agencyEmails, err := r.queryEmails(ctx, `
		SELECT DISTINCT COALESCE(NULLIF(u.notification_email, ''), u.email)
		FROM user_requests ur
		JOIN users u ON u.guid = ur.user_guid AND u.auth_user_type = ur.auth_user_type
		WHERE ur.request_id = $1 AND ur.request_user_type = $2 AND u.email IS NOT NULL
	`, requestID, models.RequestUserAgency)
	if err != nil {
		return EmailRecipients{}, err
	}
	if len(agencyEmails) == 0 && r.cfg.DefaultAgencyEmail != "" {
		agencyEmails = []string{r.cfg.DefaultAgencyEmail}
	}

	if privacy.Restricted() {
		return EmailRecipients{To: agencyEmails}, nil
	}

	requesterEmails, err := r.queryEmails(ctx, `
		SELECT COALESCE(NULLIF(u.notification_email, ''), u.email)
		FROM user_requests ur
		JOIN users u ON u.guid = ur.user_guid AND u.auth_user_type = ur.auth_user_type
		WHERE ur.request_id = $1 AND ur.request_user_type IN ($2, $3) AND u.email IS NOT NULL
		LIMIT 1
	`, requestID, models.RequestUserRequester, models.RequestUserAnonymousRequester)
	if err != nil {
		return EmailRecipients{}, err
	}

	return EmailRecipients{To: requesterEmails, BCC: agencyEmails}, nil
}

func (r *Registry) queryEmails(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rows.Close()

	emails := make([]string, 0)
	for rows.Next() {
		var email sql.NullString
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		if email.Valid && email.String != "" {
			emails = append(emails, email.String)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recipients: %w", err)
	}
	return emails, nil
}
