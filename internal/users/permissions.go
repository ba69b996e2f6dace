// Package users implements user profile updates: a pure decision matrix
// over actor, target, and attempted field changes, plus the service that
// applies approved patches and keeps request-level permissions in sync with
// agency role flags.
package users

import (
	"github.com/foilportal/pkg/models"
)

// Field groups named by update requests. Self-service profile fields are
// distinct from the administrative status flags.
const (
	FieldEmail             = "email"
	FieldNotificationEmail = "notification_email"
	FieldPhoneNumber       = "phone_number"
	FieldFaxNumber         = "fax_number"
	FieldTitle             = "title"
	FieldOrganization      = "organization"
	FieldMailingAddress    = "mailing_address"
	FieldIsSuper           = "is_super"
	FieldIsAgencyActive    = "is_agency_active"
	FieldIsAgencyAdmin     = "is_agency_admin"
)

// profileFields are the self-service contact and identity fields.
var profileFields = map[string]bool{
	FieldEmail:             true,
	FieldNotificationEmail: true,
	FieldPhoneNumber:       true,
	FieldFaxNumber:         true,
	FieldTitle:             true,
	FieldOrganization:      true,
	FieldMailingAddress:    true,
}

// statusFields are the administrative role flags. Only super users and,
// within their own agency, agency administrators may touch these.
var statusFields = map[string]bool{
	FieldIsSuper:        true,
	FieldIsAgencyActive: true,
	FieldIsAgencyAdmin:  true,
}

// Relationship describes how the acting user stands relative to the target
// at decision time. Callers resolve it from the database before asking for
// a decision; the decision itself reads nothing.
type Relationship struct {
	// SameAgency is true when actor and target belong to the same agency.
	SameAgency bool
	// ActorAssignedToTargetRequest is true when the target user is
	// associated with at least one request the actor is assigned to as
	// agency staff. For anonymous-requester targets this means the actor
	// works the request the placeholder belongs to.
	ActorAssignedToTargetRequest bool
}

// CanUpdate decides whether actor may apply the named field changes to
// target. It is a pure function and every denial is total: a patch mixing
// one allowed and one forbidden field is rejected as a whole.
//
// Rules, evaluated in order: anonymous actors are always denied; nobody
// changes their own super flag, and non-super users cannot change any of
// their own status flags; super users may edit anyone; public users never
// edit another user; agency non-admins may edit only the anonymous
// requester of a request they are assigned to, profile fields only;
// agency admins manage same-agency users, but for a target they do not
// share a request with only the agency status flags, and never the
// super flag.
func CanUpdate(actor, target *models.User, fields []string, rel Relationship) bool {
	if actor == nil || target == nil || len(fields) == 0 {
		return false
	}
	if actor.IsAnonymous() {
		return false
	}

	touchesStatus := false
	touchesProfile := false
	touchesSuper := false
	for _, f := range fields {
		switch {
		case f == FieldIsSuper:
			touchesSuper = true
			touchesStatus = true
		case statusFields[f]:
			touchesStatus = true
		case profileFields[f]:
			touchesProfile = true
		default:
			return false
		}
	}

	self := actor.GUID == target.GUID && actor.AuthType == target.AuthType
	if self {
		if touchesSuper {
			return false
		}
		if !actor.IsSuper && touchesStatus {
			return false
		}
		return true
	}

	if actor.IsSuper {
		return true
	}
	if actor.IsPublic() {
		return false
	}
	if !actor.IsAgency() || !actor.IsAgencyActive {
		return false
	}

	// Agency staff editing an anonymous requester on one of their own
	// requests: profile fields only. Non-admin agency users have no other
	// cross-user powers.
	if target.IsAnonymousRequester {
		return rel.ActorAssignedToTargetRequest && !touchesStatus
	}
	if !actor.IsActiveAgencyAdmin() {
		return false
	}

	if !target.IsAgency() || !rel.SameAgency || touchesSuper {
		return false
	}
	// Admins manage agency status flags across their whole agency, but
	// profile fields only for users on requests they share.
	if touchesProfile && !rel.ActorAssignedToTargetRequest {
		return false
	}
	return true
}

// CanActOnRequest decides whether a user may perform a per-request action
// that needs the given capability. Super users bypass the matrix; everyone
// else needs an assignment on the request whose permission set carries the
// bit. A nil assignment means the user is not on the request at all.
func CanActOnRequest(user *models.User, assignment *models.UserRequest, perm models.Permission) bool {
	if user == nil || user.IsAnonymous() {
		return false
	}
	if user.IsSuper {
		return true
	}
	if assignment == nil {
		return false
	}
	return assignment.Permissions.Has(perm)
}

// Patch is one requested profile update. Nil pointers mean "leave alone";
// pointers to zero values clear the field.
type Patch struct {
	Email             *string
	NotificationEmail *string
	PhoneNumber       *string
	FaxNumber         *string
	Title             *string
	Organization      *string
	MailingAddress    *models.MailingAddress
	IsSuper           *bool
	IsAgencyActive    *bool
	IsAgencyAdmin     *bool
}

// Fields lists the names of every field the patch touches.
func (p Patch) Fields() []string {
	fields := []string{}
	if p.Email != nil {
		fields = append(fields, FieldEmail)
	}
	if p.NotificationEmail != nil {
		fields = append(fields, FieldNotificationEmail)
	}
	if p.PhoneNumber != nil {
		fields = append(fields, FieldPhoneNumber)
	}
	if p.FaxNumber != nil {
		fields = append(fields, FieldFaxNumber)
	}
	if p.Title != nil {
		fields = append(fields, FieldTitle)
	}
	if p.Organization != nil {
		fields = append(fields, FieldOrganization)
	}
	if p.MailingAddress != nil {
		fields = append(fields, FieldMailingAddress)
	}
	if p.IsSuper != nil {
		fields = append(fields, FieldIsSuper)
	}
	if p.IsAgencyActive != nil {
		fields = append(fields, FieldIsAgencyActive)
	}
	if p.IsAgencyAdmin != nil {
		fields = append(fields, FieldIsAgencyAdmin)
	}
	return fields
}

// TouchesStatus reports whether the patch changes any role flag.
func (p Patch) TouchesStatus() bool {
	return p.IsSuper != nil || p.IsAgencyActive != nil || p.IsAgencyAdmin != nil
}

// ValidateContactInfo rejects a patch that would leave the target with no
// contact channel at all. The resulting state is computed by overlaying
// the patch on the current profile.
func ValidateContactInfo(target *models.User, p Patch) models.ValidationErrors {
	email := deref(target.Email)
	if p.Email != nil {
		email = *p.Email
	}
	phone := deref(target.PhoneNumber)
	if p.PhoneNumber != nil {
		phone = *p.PhoneNumber
	}
	fax := deref(target.FaxNumber)
	if p.FaxNumber != nil {
		fax = *p.FaxNumber
	}
	address := target.MailingAddress
	if p.MailingAddress != nil {
		address = p.MailingAddress
	}

	if email != "" || phone != "" || fax != "" {
		return nil
	}
	if address != nil && address.Complete() {
		return nil
	}
	return models.ValidationErrors{
		"contact_info": "at least one contact method is required (email, phone, fax, or complete mailing address)",
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
