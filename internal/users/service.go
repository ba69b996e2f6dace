package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/foilportal/internal/events"
	"github.com/foilportal/pkg/models"
)

// ErrNotFound is returned when a composite user id matches no user.
var ErrNotFound = errors.New("user not found")

// ErrPermissionDenied is returned when the permission matrix rejects an
// update. Distinct from validation failures so callers can map it to an
// access-denied outcome.
var ErrPermissionDenied = errors.New("permission denied")

// ErrNoChanges is returned when a patch leaves every field at its current
// value. Nothing is written and no events are recorded.
var ErrNoChanges = errors.New("no changes detected")

// Service applies user profile updates.
type Service struct {
	db     *sql.DB
	events *events.Repo
	log    zerolog.Logger
}

// NewService creates a new user service
func NewService(db *sql.DB, eventsRepo *events.Repo, log zerolog.Logger) *Service {
	return &Service{db: db, events: eventsRepo, log: log}
}

// GetByCompositeID resolves a "guid:auth_type" key to a user. Malformed
// keys and zero matches both surface as not found.
func (s *Service) GetByCompositeID(ctx context.Context, compositeID string) (*models.User, error) {
	guid, authType, err := models.ParseUserID(compositeID)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.getUser(ctx, guid, authType)
}

func (s *Service) getUser(ctx context.Context, guid string, authType models.AuthType) (*models.User, error) {
	u := &models.User{}
	var address []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT guid, auth_user_type, agency_ein, email, notification_email, phone_number,
		       fax_number, title, organization, first_name, last_name, mailing_address,
		       is_super, is_agency_active, is_agency_admin, is_anonymous_requester,
		       anonymous_request_id, created_at, updated_at
		FROM users WHERE guid = $1 AND auth_user_type = $2
	`, guid, authType).Scan(
		&u.GUID, &u.AuthType, &u.AgencyEIN, &u.Email, &u.NotificationEmail, &u.PhoneNumber,
		&u.FaxNumber, &u.Title, &u.Organization, &u.FirstName, &u.LastName, &address,
		&u.IsSuper, &u.IsAgencyActive, &u.IsAgencyAdmin, &u.IsAnonymousRequester,
		&u.AnonymousRequestID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(address) > 0 {
		u.MailingAddress = &models.MailingAddress{}
		if err := json.Unmarshal(address, u.MailingAddress); err != nil {
			return nil, fmt.Errorf("failed to decode mailing address: %w", err)
		}
	}
	return u, nil
}

// RequestAssignment fetches the user's assignment row on one request. A
// user with no assignment gets nil rather than an error, since absence is
// a normal answer the permission gate turns into a denial.
func (s *Service) RequestAssignment(ctx context.Context, requestID string, user *models.User) (*models.UserRequest, error) {
	ur := &models.UserRequest{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_guid, auth_user_type, request_id, request_user_type, permissions
		FROM user_requests
		WHERE request_id = $1 AND user_guid = $2 AND auth_user_type = $3
	`, requestID, user.GUID, user.AuthType).Scan(
		&ur.UserGUID, &ur.AuthType, &ur.RequestID, &ur.RequestUser, &ur.Permissions,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get request assignment: %w", err)
	}
	return ur, nil
}

// resolveRelationship computes the actor/target relationship facts the
// permission matrix needs.
func (s *Service) resolveRelationship(ctx context.Context, actor, target *models.User) (Relationship, error) {
	rel := Relationship{}
	if actor.AgencyEIN != nil && target.AgencyEIN != nil {
		rel.SameAgency = *actor.AgencyEIN == *target.AgencyEIN
	}

	var query string
	var args []interface{}
	if target.IsAnonymousRequester && target.AnonymousRequestID != nil {
		query = `
			SELECT EXISTS (
				SELECT 1 FROM user_requests
				WHERE request_id = $1 AND user_guid = $2 AND auth_user_type = $3
				      AND request_user_type = $4
			)`
		args = []interface{}{*target.AnonymousRequestID, actor.GUID, actor.AuthType, models.RequestUserAgency}
	} else {
		query = `
			SELECT EXISTS (
				SELECT 1 FROM user_requests a
				JOIN user_requests t ON t.request_id = a.request_id
				WHERE a.user_guid = $1 AND a.auth_user_type = $2
				      AND a.request_user_type = $3
				      AND t.user_guid = $4 AND t.auth_user_type = $5
			)`
		args = []interface{}{actor.GUID, actor.AuthType, models.RequestUserAgency, target.GUID, target.AuthType}
	}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&rel.ActorAssignedToTargetRequest)
	if err != nil {
		return rel, fmt.Errorf("failed to resolve user relationship: %w", err)
	}
	return rel, nil
}

// Update applies a patch to the user named by compositeID on behalf of
// actor. The permission check runs before any mutation; identical values
// short-circuit to ErrNoChanges with zero events written. Role flag
// changes trigger the request-permission sync inside the same transaction.
func (s *Service) Update(ctx context.Context, compositeID string, patch Patch, actor *models.User) error {
	// A patch naming no fields is a no-op, not a permission question.
	if len(patch.Fields()) == 0 {
		return ErrNoChanges
	}

	target, err := s.GetByCompositeID(ctx, compositeID)
	if err != nil {
		return err
	}

	rel, err := s.resolveRelationship(ctx, actor, target)
	if err != nil {
		return err
	}
	if !CanUpdate(actor, target, patch.Fields(), rel) {
		return ErrPermissionDenied
	}
	if errs := ValidateContactInfo(target, patch); errs.Any() {
		return errs
	}

	profileOld, profileNew := diffProfile(target, patch)
	statusOld, statusNew := diffStatus(target, patch)
	if len(profileNew) == 0 && len(statusNew) == 0 {
		return ErrNoChanges
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err = s.applyPatch(ctx, tx, target, patch, now); err != nil {
		return err
	}

	actorGUID := actor.GUID
	actorAuth := actor.AuthType
	if len(profileNew) > 0 {
		eventType := models.EventUserInfoEdited
		if target.IsAnonymousRequester || target.IsPublic() {
			eventType = models.EventRequesterInfoEdited
		}
		err = s.insertUserEvent(ctx, tx, target, &models.Event{
			UserGUID:      &actorGUID,
			AuthType:      &actorAuth,
			Type:          eventType,
			Timestamp:     now,
			PreviousValue: profileOld,
			NewValue:      profileNew,
		})
		if err != nil {
			return err
		}
	}
	if len(statusNew) > 0 {
		err = s.insertUserEvent(ctx, tx, target, &models.Event{
			UserGUID:      &actorGUID,
			AuthType:      &actorAuth,
			Type:          models.EventUserStatusChanged,
			Timestamp:     now,
			PreviousValue: statusOld,
			NewValue:      statusNew,
		})
		if err != nil {
			return err
		}

		if err = s.syncRequestPermissions(ctx, tx, target, patch, actor, now); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info().Str("target", target.CompositeID()).Str("actor", actor.CompositeID()).
		Int("profile_fields", len(profileNew)).Int("status_fields", len(statusNew)).
		Msg("user updated")
	return nil
}

// insertUserEvent records a user-level event against each request the
// target participates in. Users on no requests yet leave no trail, since
// events are always request-scoped.
func (s *Service) insertUserEvent(ctx context.Context, tx *sql.Tx, target *models.User, ev *models.Event) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT request_id FROM user_requests WHERE user_guid = $1 AND auth_user_type = $2`,
		target.GUID, target.AuthType)
	if err != nil {
		return fmt.Errorf("failed to list user requests: %w", err)
	}
	defer rows.Close()

	requestIDs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan request id: %w", err)
		}
		requestIDs = append(requestIDs, id)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating user requests: %w", err)
	}
	rows.Close()

	for _, requestID := range requestIDs {
		e := *ev
		e.RequestID = requestID
		if err := s.events.Insert(ctx, tx, &e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyPatch(ctx context.Context, tx *sql.Tx, target *models.User, patch Patch, now time.Time) error {
	setParts := []string{"updated_at = $1"}
	args := []interface{}{now}
	add := func(column string, value interface{}) {
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.NotificationEmail != nil {
		add("notification_email", *patch.NotificationEmail)
	}
	if patch.PhoneNumber != nil {
		add("phone_number", *patch.PhoneNumber)
	}
	if patch.FaxNumber != nil {
		add("fax_number", *patch.FaxNumber)
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Organization != nil {
		add("organization", *patch.Organization)
	}
	if patch.MailingAddress != nil {
		encoded, err := json.Marshal(patch.MailingAddress)
		if err != nil {
			return fmt.Errorf("failed to encode mailing address: %w", err)
		}
		add("mailing_address", encoded)
	}
	if patch.IsSuper != nil {
		add("is_super", *patch.IsSuper)
	}
	if patch.IsAgencyActive != nil {
		add("is_agency_active", *patch.IsAgencyActive)
	}
	if patch.IsAgencyAdmin != nil {
		add("is_agency_admin", *patch.IsAgencyAdmin)
	}

	args = append(args, target.GUID, target.AuthType)
	query := fmt.Sprintf("UPDATE users SET %s WHERE guid = $%d AND auth_user_type = $%d",
		joinParts(setParts), len(args)-1, len(args))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func joinParts(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// diffProfile computes old/new maps for the profile fields a patch
// actually changes. Identical values drop out.
func diffProfile(target *models.User, patch Patch) (old, new map[string]any) {
	old = map[string]any{}
	new = map[string]any{}

	compare := func(field string, current *string, proposed *string) {
		if proposed == nil {
			return
		}
		cur := deref(current)
		if cur == *proposed {
			return
		}
		old[field] = cur
		new[field] = *proposed
	}

	compare(FieldEmail, target.Email, patch.Email)
	compare(FieldNotificationEmail, target.NotificationEmail, patch.NotificationEmail)
	compare(FieldPhoneNumber, target.PhoneNumber, patch.PhoneNumber)
	compare(FieldFaxNumber, target.FaxNumber, patch.FaxNumber)
	compare(FieldTitle, target.Title, patch.Title)
	compare(FieldOrganization, target.Organization, patch.Organization)

	if patch.MailingAddress != nil {
		cur := models.MailingAddress{}
		if target.MailingAddress != nil {
			cur = *target.MailingAddress
		}
		if cur != *patch.MailingAddress {
			old[FieldMailingAddress] = cur
			new[FieldMailingAddress] = *patch.MailingAddress
		}
	}
	return old, new
}

// diffStatus computes old/new maps for the role flags a patch changes.
func diffStatus(target *models.User, patch Patch) (old, new map[string]any) {
	old = map[string]any{}
	new = map[string]any{}

	compare := func(field string, current bool, proposed *bool) {
		if proposed == nil || current == *proposed {
			return
		}
		old[field] = current
		new[field] = *proposed
	}

	compare(FieldIsSuper, target.IsSuper, patch.IsSuper)
	compare(FieldIsAgencyActive, target.IsAgencyActive, patch.IsAgencyActive)
	compare(FieldIsAgencyAdmin, target.IsAgencyAdmin, patch.IsAgencyAdmin)
	return old, new
}

// syncRequestPermissions propagates role flag changes to the target's
// per-request permission rows. Granting admin assigns the admin permission
// set on every request under the agency; revoking admin strips permissions
// to none; deactivating removes the assignments outright.
func (s *Service) syncRequestPermissions(ctx context.Context, tx *sql.Tx, target *models.User, patch Patch, actor *models.User, now time.Time) error {
	actorGUID := actor.GUID
	actorAuth := actor.AuthType

	// Deactivation wins over role changes: the user loses every request.
	if patch.IsAgencyActive != nil && !*patch.IsAgencyActive {
		rows, err := tx.QueryContext(ctx, `
			DELETE FROM user_requests
			WHERE user_guid = $1 AND auth_user_type = $2
			RETURNING request_id
		`, target.GUID, target.AuthType)
		if err != nil {
			return fmt.Errorf("failed to remove request assignments: %w", err)
		}
		removed, err := collectIDs(rows)
		if err != nil {
			return err
		}
		for _, requestID := range removed {
			err = s.events.Insert(ctx, tx, &models.Event{
				RequestID: requestID,
				UserGUID:  &actorGUID,
				AuthType:  &actorAuth,
				Type:      models.EventUserRemoved,
				Timestamp: now,
				PreviousValue: map[string]any{
					"user_guid": target.GUID, "auth_user_type": string(target.AuthType),
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	if patch.IsAgencyAdmin == nil {
		return nil
	}

	if !*patch.IsAgencyAdmin {
		rows, err := tx.QueryContext(ctx, `
			UPDATE user_requests SET permissions = $1
			WHERE user_guid = $2 AND auth_user_type = $3
			RETURNING request_id
		`, models.PermNone, target.GUID, target.AuthType)
		if err != nil {
			return fmt.Errorf("failed to strip request permissions: %w", err)
		}
		stripped, err := collectIDs(rows)
		if err != nil {
			return err
		}
		for _, requestID := range stripped {
			err = s.events.Insert(ctx, tx, &models.Event{
				RequestID: requestID,
				UserGUID:  &actorGUID,
				AuthType:  &actorAuth,
				Type:      models.EventUserPermChanged,
				Timestamp: now,
				NewValue: map[string]any{
					"user_guid": target.GUID, "permissions": int64(models.PermNone),
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	// Granting admin: every request under the agency gets an assignment
	// with the admin permission set, created or overwritten.
	if target.AgencyEIN == nil {
		return nil
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT r.id, EXISTS (
			SELECT 1 FROM user_requests ur
			WHERE ur.request_id = r.id AND ur.user_guid = $1 AND ur.auth_user_type = $2
		)
		FROM requests r WHERE r.agency_ein = $3
	`, target.GUID, target.AuthType, *target.AgencyEIN)
	if err != nil {
		return fmt.Errorf("failed to list agency requests: %w", err)
	}
	defer rows.Close()

	type assignment struct {
		requestID string
		existing  bool
	}
	assignments := []assignment{}
	for rows.Next() {
		var a assignment
		if err := rows.Scan(&a.requestID, &a.existing); err != nil {
			return fmt.Errorf("failed to scan agency request: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating agency requests: %w", err)
	}
	rows.Close()

	for _, a := range assignments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_requests (user_guid, auth_user_type, request_id, request_user_type, permissions)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_guid, auth_user_type, request_id)
			DO UPDATE SET permissions = EXCLUDED.permissions
		`, target.GUID, target.AuthType, a.requestID, models.RequestUserAgency, models.AgencyAdminPermissions)
		if err != nil {
			return fmt.Errorf("failed to assign request permissions: %w", err)
		}

		eventType := models.EventUserAdded
		if a.existing {
			eventType = models.EventUserPermChanged
		}
		err = s.events.Insert(ctx, tx, &models.Event{
			RequestID: a.requestID,
			UserGUID:  &actorGUID,
			AuthType:  &actorAuth,
			Type:      eventType,
			Timestamp: now,
			NewValue: map[string]any{
				"user_guid":   target.GUID,
				"permissions": int64(models.AgencyAdminPermissions),
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan request id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request ids: %w", err)
	}
	return ids, nil
}
