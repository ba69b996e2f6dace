package models

import (
	"fmt"
	"strings"
	"time"
)

// RequestStatus is the due-date-driven lifecycle state of a FOIL request.
type RequestStatus string

const (
	StatusOpen    RequestStatus = "Open"
	StatusDueSoon RequestStatus = "Due Soon"
	StatusOverdue RequestStatus = "Overdue"
	StatusClosed  RequestStatus = "Closed"
)

// Sub-status progress markers layered on top of the lifecycle state.
// These are free text in the database; the common ones are named here.
const (
	SubStatusResponseAdded = "A response has been added"
	SubStatusPending       = "Pending"
	SubStatusRerouted      = "Rerouted"
)

// ResponsePrivacy controls who may see a response.
type ResponsePrivacy string

const (
	PrivacyPrivate            ResponsePrivacy = "private"
	PrivacyReleasedAndPrivate ResponsePrivacy = "release_and_private"
	PrivacyReleasedAndPublic  ResponsePrivacy = "release_and_public"
)

// Restricted reports whether the privacy level hides the response from the
// general public (agency/admin roles and the requester only).
func (p ResponsePrivacy) Restricted() bool {
	return p == PrivacyPrivate || p == PrivacyReleasedAndPrivate
}

// ResponseType tags the variant of a response's metadata payload.
type ResponseType string

const (
	ResponseFile          ResponseType = "file"
	ResponseNote          ResponseType = "note"
	ResponseEmail         ResponseType = "email"
	ResponseLink          ResponseType = "link"
	ResponseInstruction   ResponseType = "instruction"
	ResponseExtension     ResponseType = "extension"
	ResponseDetermination ResponseType = "determination"
)

// EventType identifies one kind of audit event.
type EventType string

const (
	EventRequestCreated        EventType = "request_created"
	EventRequestStatusChanged  EventType = "request_status_changed"
	EventRequestClosed         EventType = "request_closed"
	EventRequestReopened       EventType = "request_reopened"
	EventFileAdded             EventType = "file_added"
	EventFileEdited            EventType = "file_edited"
	EventNoteAdded             EventType = "note_added"
	EventNoteEdited            EventType = "note_edited"
	EventLinkAdded             EventType = "link_added"
	EventLinkEdited            EventType = "link_edited"
	EventInstructionAdded      EventType = "instruction_added"
	EventInstructionEdited     EventType = "instruction_edited"
	EventExtensionAdded        EventType = "extension_added"
	EventDeterminationAdded    EventType = "determination_added"
	EventResponseDeleted       EventType = "response_deleted"
	EventEmailSent             EventType = "email_notification_sent"
	EventUserAdded             EventType = "user_added"
	EventUserRemoved           EventType = "user_removed"
	EventUserPermChanged       EventType = "user_permissions_changed"
	EventUserStatusChanged     EventType = "user_status_changed"
	EventUserInfoEdited        EventType = "user_info_edited"
	EventRequesterInfoEdited   EventType = "requester_info_edited"
	EventAgencyDescEdited      EventType = "agency_description_edited"
	EventRequestPrivacyEdited  EventType = "request_privacy_edited"
	EventResponsePrivacyEdited EventType = "response_privacy_edited"
)

// AddedEventType maps a response variant to its *_added event type.
func AddedEventType(t ResponseType) EventType {
	switch t {
	case ResponseFile:
		return EventFileAdded
	case ResponseNote:
		return EventNoteAdded
	case ResponseEmail:
		return EventEmailSent
	case ResponseLink:
		return EventLinkAdded
	case ResponseInstruction:
		return EventInstructionAdded
	case ResponseExtension:
		return EventExtensionAdded
	case ResponseDetermination:
		return EventDeterminationAdded
	}
	return ""
}

// EditedEventType maps an editable response variant to its *_edited event type.
func EditedEventType(t ResponseType) EventType {
	switch t {
	case ResponseFile:
		return EventFileEdited
	case ResponseNote:
		return EventNoteEdited
	case ResponseLink:
		return EventLinkEdited
	case ResponseInstruction:
		return EventInstructionEdited
	}
	return ""
}

// AuthType is the authentication provider half of a user's composite key.
type AuthType string

const (
	AuthAgencyUser    AuthType = "agency_user"
	AuthPublicUserID  AuthType = "public_user_nyc_id"
	AuthAnonymousUser AuthType = "anonymous_user"
)

// UserIDDelimiter separates guid and auth type in a composite user id
// (e.g. "a2f9…:agency_user").
const UserIDDelimiter = ":"

// ParseUserID splits a composite user id into guid and auth type. A malformed
// id is an error, never coerced to a default user.
func ParseUserID(id string) (guid string, authType AuthType, err error) {
	parts := strings.SplitN(id, UserIDDelimiter, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed user id %q", id)
	}
	return parts[0], AuthType(parts[1]), nil
}

// RequestUserType is a user's role on one particular request.
type RequestUserType string

const (
	RequestUserRequester          RequestUserType = "requester"
	RequestUserAgency             RequestUserType = "agency"
	RequestUserAnonymousRequester RequestUserType = "anonymous_requester"
)

// Permission is a bitmask of per-request capabilities held via a UserRequest.
type Permission uint64

// PermNone strips a user of every per-request capability.
const PermNone Permission = 0

const (
	PermAddFile Permission = 1 << iota
	PermEditFile
	PermDeleteFile
	PermAddNote
	PermEditNote
	PermDeleteNote
	PermAddLink
	PermEditLink
	PermAddInstruction
	PermEditInstruction
	PermAddExtension
	PermAddDetermination
	PermCloseRequest
	PermReopenRequest
	PermEditRequesterInfo
	PermAddEmail
	PermEditRequestDetails
)

// AgencyAdminPermissions is the permission set granted to agency
// administrators on every request under their agency.
const AgencyAdminPermissions = PermAddFile | PermEditFile | PermDeleteFile |
	PermAddNote | PermEditNote | PermDeleteNote | PermAddLink | PermEditLink |
	PermAddInstruction | PermEditInstruction | PermAddExtension |
	PermAddDetermination | PermCloseRequest | PermReopenRequest |
	PermEditRequesterInfo | PermAddEmail | PermEditRequestDetails

// AgencyUserPermissions is the default set for a non-admin agency assignee.
const AgencyUserPermissions = PermAddFile | PermEditFile | PermAddNote |
	PermEditNote | PermAddLink | PermEditLink | PermAddInstruction |
	PermEditInstruction | PermAddEmail

// Has reports whether every bit of perm is present.
func (p Permission) Has(perm Permission) bool { return p&perm == perm }

// ClosureReason is a canned reason code selected when closing a request.
// The original system matched rendered sentences; reason codes are matched
// to notification types through a lookup table in the notify package.
type ClosureReason string

const (
	ClosureFulfilledInWhole ClosureReason = "fulfilled_in_whole"
	ClosureFulfilledInPart  ClosureReason = "fulfilled_in_part"
	ClosureByEmail          ClosureReason = "fulfilled_by_email"
	ClosureByFax            ClosureReason = "fulfilled_by_fax"
	ClosureByMail           ClosureReason = "fulfilled_by_mail"
	ClosureByPickup         ClosureReason = "fulfilled_by_pickup"
	ClosureRefer311         ClosureReason = "refer_311"
	ClosureReferOpenData    ClosureReason = "refer_opendata"
	ClosureReferOtherAgency ClosureReason = "refer_other_agency"
	ClosureReferWebLink     ClosureReason = "refer_web_link"
	ClosureDenied           ClosureReason = "denied"
)

// Request is one FOIL records request, owned by the agency it targets.
type Request struct {
	ID                 string        `json:"id" db:"id"`
	AgencyEIN          string        `json:"agency_ein" db:"agency_ein"`
	Title              string        `json:"title" db:"title"`
	Description        string        `json:"description" db:"description"`
	Status             RequestStatus `json:"status" db:"status"`
	SubStatus          string        `json:"sub_status,omitempty" db:"sub_status"`
	DueDate            time.Time     `json:"due_date" db:"due_date"`
	WasAcknowledged    bool          `json:"was_acknowledged" db:"was_acknowledged"`
	AgencyDescription  *string       `json:"agency_description,omitempty" db:"agency_description"`
	AgencyDescDueDate  *time.Time    `json:"agency_description_due_date,omitempty" db:"agency_description_due_date"`
	TitlePrivate       bool          `json:"title_private" db:"title_private"`
	DescriptionPrivate bool          `json:"description_private" db:"description_private"`
	OfflineSubmission  *string       `json:"offline_submission_type,omitempty" db:"offline_submission_type"`
	DateReceived       *time.Time    `json:"date_received,omitempty" db:"date_received"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	ClosedAt           *time.Time    `json:"closed_at,omitempty" db:"closed_at"`
}

// Response is one unit of communication or action attached to a request.
// Type-specific metadata lives in the per-variant tables keyed by MetadataID.
type Response struct {
	ID           int64           `json:"id" db:"id"`
	RequestID    string          `json:"request_id" db:"request_id"`
	Type         ResponseType    `json:"type" db:"type"`
	Privacy      ResponsePrivacy `json:"privacy" db:"privacy"`
	MetadataID   int64           `json:"metadata_id" db:"metadata_id"`
	ReleaseDate  *time.Time      `json:"release_date,omitempty" db:"release_date"`
	Deleted      bool            `json:"deleted" db:"deleted"`
	DateModified time.Time       `json:"date_modified" db:"date_modified"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Event is one immutable audit row. Actor fields are nil for system actions
// such as the nightly status sweep.
type Event struct {
	ID            int64          `json:"id" db:"id"`
	RequestID     string         `json:"request_id" db:"request_id"`
	ResponseID    *int64         `json:"response_id,omitempty" db:"response_id"`
	UserGUID      *string        `json:"user_guid,omitempty" db:"user_guid"`
	AuthType      *AuthType      `json:"auth_user_type,omitempty" db:"auth_user_type"`
	Type          EventType      `json:"type" db:"type"`
	Timestamp     time.Time      `json:"timestamp" db:"timestamp"`
	PreviousValue map[string]any `json:"previous_value,omitempty" db:"previous_value"`
	NewValue      map[string]any `json:"new_value,omitempty" db:"new_value"`
}

// MailingAddress is the structured mailing address on a user profile.
type MailingAddress struct {
	AddressOne string `json:"address_one,omitempty"`
	AddressTwo string `json:"address_two,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Zip        string `json:"zip,omitempty"`
}

// Complete reports whether the address is usable as a contact channel.
func (a MailingAddress) Complete() bool {
	return a.AddressOne != "" && a.City != "" && a.State != "" && a.Zip != ""
}

// User is an identity keyed by (guid, auth type).
type User struct {
	GUID                 string          `json:"guid" db:"guid"`
	AuthType             AuthType        `json:"auth_user_type" db:"auth_user_type"`
	AgencyEIN            *string         `json:"agency_ein,omitempty" db:"agency_ein"`
	Email                *string         `json:"email,omitempty" db:"email"`
	NotificationEmail    *string         `json:"notification_email,omitempty" db:"notification_email"`
	PhoneNumber          *string         `json:"phone_number,omitempty" db:"phone_number"`
	FaxNumber            *string         `json:"fax_number,omitempty" db:"fax_number"`
	Title                *string         `json:"title,omitempty" db:"title"`
	Organization         *string         `json:"organization,omitempty" db:"organization"`
	FirstName            string          `json:"first_name" db:"first_name"`
	LastName             string          `json:"last_name" db:"last_name"`
	MailingAddress       *MailingAddress `json:"mailing_address,omitempty" db:"mailing_address"`
	IsSuper              bool            `json:"is_super" db:"is_super"`
	IsAgencyActive       bool            `json:"is_agency_active" db:"is_agency_active"`
	IsAgencyAdmin        bool            `json:"is_agency_admin" db:"is_agency_admin"`
	IsAnonymousRequester bool            `json:"is_anonymous_requester" db:"is_anonymous_requester"`
	// AnonymousRequestID links an anonymous-requester placeholder 1:1 to
	// its request.
	AnonymousRequestID *string   `json:"anonymous_request_id,omitempty" db:"anonymous_request_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// CompositeID returns the "guid:auth_type" form used in URLs and tokens.
func (u *User) CompositeID() string {
	return u.GUID + UserIDDelimiter + string(u.AuthType)
}

// IsAgency reports whether the user authenticates as agency staff.
func (u *User) IsAgency() bool { return u.AuthType == AuthAgencyUser }

// IsPublic reports whether the user is an authenticated member of the public.
func (u *User) IsPublic() bool { return u.AuthType == AuthPublicUserID }

// IsAnonymous reports whether the user has no authenticated identity at all.
// Distinct from IsAnonymousRequester, which is a stored placeholder record.
func (u *User) IsAnonymous() bool {
	return u.AuthType == AuthAnonymousUser && !u.IsAnonymousRequester
}

// IsActiveAgencyUser reports an active, non-admin, non-super agency user.
func (u *User) IsActiveAgencyUser() bool {
	return u.IsAgency() && u.IsAgencyActive && !u.IsAgencyAdmin && !u.IsSuper
}

// IsActiveAgencyAdmin reports an active, non-super agency administrator.
func (u *User) IsActiveAgencyAdmin() bool {
	return u.IsAgency() && u.IsAgencyActive && u.IsAgencyAdmin && !u.IsSuper
}

// ContactEmail returns the address notifications should go to, preferring
// the notification email over the login email.
func (u *User) ContactEmail() string {
	if u.NotificationEmail != nil && *u.NotificationEmail != "" {
		return *u.NotificationEmail
	}
	if u.Email != nil {
		return *u.Email
	}
	return ""
}

// UserRequest joins a user to a request with a permission set and a role.
type UserRequest struct {
	UserGUID    string          `json:"user_guid" db:"user_guid"`
	AuthType    AuthType        `json:"auth_user_type" db:"auth_user_type"`
	RequestID   string          `json:"request_id" db:"request_id"`
	RequestUser RequestUserType `json:"request_user_type" db:"request_user_type"`
	Permissions Permission      `json:"permissions" db:"permissions"`
}

// Agency is one government agency participating in the portal.
type Agency struct {
	EIN              string `json:"ein" db:"ein"`
	Name             string `json:"name" db:"name"`
	IsActive         bool   `json:"is_active" db:"is_active"`
	DueSoonThreshold int    `json:"due_soon_threshold" db:"due_soon_threshold"`
}

// Actor identifies who performed a workflow action. A nil *Actor means a
// system action such as the nightly status sweep.
type Actor struct {
	GUID     string   `json:"guid"`
	AuthType AuthType `json:"auth_user_type"`
}

// EventActor returns the nullable guid/auth-type pair for an event row.
func (a *Actor) EventActor() (*string, *AuthType) {
	if a == nil {
		return nil, nil
	}
	guid := a.GUID
	at := a.AuthType
	return &guid, &at
}

// ValidationErrors is a field→message map returned for malformed or
// incomplete input. It is the structured outcome the UI renders per field;
// it is never raised past the action boundary.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for field, msg := range v {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Any reports whether at least one field failed validation.
func (v ValidationErrors) Any() bool { return len(v) > 0 }
