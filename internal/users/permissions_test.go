package users

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foilportal/pkg/models"
)

func strp(s string) *string { return &s }

func agencyUser(guid, ein string) *models.User {
	return &models.User{
		GUID:           guid,
		AuthType:       models.AuthAgencyUser,
		AgencyEIN:      &ein,
		IsAgencyActive: true,
		FirstName:      "Agency",
		LastName:       "User",
	}
}

func agencyAdmin(guid, ein string) *models.User {
	u := agencyUser(guid, ein)
	u.IsAgencyAdmin = true
	return u
}

func superUser(guid string) *models.User {
	u := agencyAdmin(guid, "860")
	u.IsSuper = true
	return u
}

func publicUser(guid string) *models.User {
	return &models.User{
		GUID:      guid,
		AuthType:  models.AuthPublicUserID,
		FirstName: "Public",
		LastName:  "User",
	}
}

func anonRequester(guid string) *models.User {
	return &models.User{
		GUID:                 guid,
		AuthType:             models.AuthAnonymousUser,
		IsAnonymousRequester: true,
		FirstName:            "Anon",
		LastName:             "Requester",
	}
}

func anonVisitor(guid string) *models.User {
	return &models.User{GUID: guid, AuthType: models.AuthAnonymousUser}
}

func TestCanUpdateMatrix(t *testing.T) {
	profile := []string{FieldTitle}
	contact := []string{FieldEmail, FieldPhoneNumber}
	status := []string{FieldIsAgencyActive}
	superFlag := []string{FieldIsSuper}
	mixed := []string{FieldIsAgencyActive, FieldTitle}

	assigned := Relationship{SameAgency: true, ActorAssignedToTargetRequest: true}
	sameAgency := Relationship{SameAgency: true}
	unrelated := Relationship{}

	tests := []struct {
		name   string
		actor  *models.User
		target *models.User
		fields []string
		rel    Relationship
		want   bool
	}{
		// Anonymous actors are always denied, even against themselves.
		{"anonymous actor self", anonVisitor("v1"), anonVisitor("v1"), profile, unrelated, false},
		{"anonymous actor other", anonVisitor("v1"), publicUser("p1"), profile, unrelated, false},

		// Self-edits.
		{"public self profile", publicUser("p1"), publicUser("p1"), profile, unrelated, true},
		{"public self contact", publicUser("p1"), publicUser("p1"), contact, unrelated, true},
		{"public self status", publicUser("p1"), publicUser("p1"), status, unrelated, false},
		{"agency user self profile", agencyUser("a1", "860"), agencyUser("a1", "860"), profile, sameAgency, true},
		{"agency admin self status", agencyAdmin("a1", "860"), agencyAdmin("a1", "860"), status, sameAgency, false},
		{"super self profile", superUser("s1"), superUser("s1"), profile, unrelated, true},
		{"super self agency flag", superUser("s1"), superUser("s1"), status, unrelated, true},
		{"super self super flag", superUser("s1"), superUser("s1"), superFlag, unrelated, false},

		// Super users edit anyone.
		{"super edits public", superUser("s1"), publicUser("p1"), profile, unrelated, true},
		{"super edits agency status", superUser("s1"), agencyUser("a1", "101"), status, unrelated, true},
		{"super grants super", superUser("s1"), agencyAdmin("a1", "101"), superFlag, unrelated, true},

		// Public users never edit another user.
		{"public edits public", publicUser("p1"), publicUser("p2"), profile, unrelated, false},
		{"public edits anon requester", publicUser("p1"), anonRequester("x1"), profile, assigned, false},

		// Agency non-admin: anonymous requester on an assigned request only.
		{"agency user edits assigned anon requester", agencyUser("a1", "860"), anonRequester("x1"), contact, assigned, true},
		{"agency user edits unassigned anon requester", agencyUser("a1", "860"), anonRequester("x1"), contact, unrelated, false},
		{"agency user sets status on anon requester", agencyUser("a1", "860"), anonRequester("x1"), status, assigned, false},
		{"agency user edits colleague", agencyUser("a1", "860"), agencyUser("a2", "860"), profile, sameAgency, false},
		{"inactive agency user", func() *models.User { u := agencyUser("a1", "860"); u.IsAgencyActive = false; return u }(), anonRequester("x1"), contact, assigned, false},

		// Agency admin: same-agency users, status flags freely, profile
		// fields only with a shared request, never the super flag.
		{"admin deactivates same-agency user", agencyAdmin("a1", "860"), agencyUser("a2", "860"), status, sameAgency, true},
		{"admin promotes same-agency user", agencyAdmin("a1", "860"), agencyUser("a2", "860"), []string{FieldIsAgencyAdmin}, sameAgency, true},
		{"admin edits other-agency user", agencyAdmin("a1", "860"), agencyUser("a2", "101"), status, unrelated, false},
		{"admin grants super", agencyAdmin("a1", "860"), agencyUser("a2", "860"), superFlag, sameAgency, false},
		{"admin edits profile of assigned user", agencyAdmin("a1", "860"), agencyUser("a2", "860"), profile, assigned, true},
		{"admin edits profile of unassigned user", agencyAdmin("a1", "860"), agencyUser("a2", "860"), profile, sameAgency, false},
		{"admin mixes status and profile for unassigned user", agencyAdmin("a1", "860"), agencyUser("a2", "860"), mixed, sameAgency, false},
		{"admin mixes status and profile for assigned user", agencyAdmin("a1", "860"), agencyUser("a2", "860"), mixed, assigned, true},
		{"admin edits assigned anon requester", agencyAdmin("a1", "860"), anonRequester("x1"), contact, assigned, true},
		{"admin edits public user", agencyAdmin("a1", "860"), publicUser("p1"), profile, unrelated, false},

		// Degenerate inputs.
		{"empty field set", agencyAdmin("a1", "860"), agencyUser("a2", "860"), nil, sameAgency, false},
		{"unknown field", superUser("s1"), publicUser("p1"), []string{"password"}, unrelated, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CanUpdate(tc.actor, tc.target, tc.fields, tc.rel)
			assert.Equal(t, tc.want, got)
		})
	}
}

// Denials are total: adding one forbidden field to an otherwise allowed
// patch rejects the whole patch.
func TestCanUpdateDenialIsTotal(t *testing.T) {
	admin := agencyAdmin("a1", "860")
	target := agencyUser("a2", "860")
	rel := Relationship{SameAgency: true}

	require.True(t, CanUpdate(admin, target, []string{FieldIsAgencyActive}, rel))
	assert.False(t, CanUpdate(admin, target, []string{FieldIsAgencyActive, FieldTitle}, rel))
	assert.False(t, CanUpdate(admin, target, []string{FieldIsAgencyActive, FieldIsSuper}, rel))
}

func TestValidateContactInfo(t *testing.T) {
	base := func() *models.User {
		return &models.User{
			GUID:        "u1",
			AuthType:    models.AuthPublicUserID,
			Email:       strp("u1@example.com"),
			PhoneNumber: strp("555-0100"),
		}
	}

	t.Run("keeping one channel passes", func(t *testing.T) {
		errs := ValidateContactInfo(base(), Patch{PhoneNumber: strp("")})
		assert.False(t, errs.Any())
	})

	t.Run("clearing every channel fails", func(t *testing.T) {
		errs := ValidateContactInfo(base(), Patch{Email: strp(""), PhoneNumber: strp("")})
		require.True(t, errs.Any())
		assert.Contains(t, errs, "contact_info")
	})

	t.Run("complete mailing address is a channel", func(t *testing.T) {
		errs := ValidateContactInfo(base(), Patch{
			Email:       strp(""),
			PhoneNumber: strp(""),
			MailingAddress: &models.MailingAddress{
				AddressOne: "1 Centre St", City: "New York", State: "NY", Zip: "10007",
			},
		})
		assert.False(t, errs.Any())
	})

	t.Run("incomplete mailing address is not", func(t *testing.T) {
		errs := ValidateContactInfo(base(), Patch{
			Email:          strp(""),
			PhoneNumber:    strp(""),
			MailingAddress: &models.MailingAddress{City: "New York"},
		})
		assert.True(t, errs.Any())
	})
}

func TestPatchFields(t *testing.T) {
	p := Patch{Title: strp("Records Officer"), IsAgencyActive: func() *bool { b := false; return &b }()}
	assert.ElementsMatch(t, []string{FieldTitle, FieldIsAgencyActive}, p.Fields())
	assert.True(t, p.TouchesStatus())
	assert.False(t, Patch{Email: strp("a@b.c")}.TouchesStatus())
}

func assignmentRow(perms models.Permission, role models.RequestUserType) *models.UserRequest {
	return &models.UserRequest{
		RequestID:   "FOIL-2026-860-00001",
		RequestUser: role,
		Permissions: perms,
	}
}

func TestCanActOnRequest(t *testing.T) {
	adminRow := assignmentRow(models.AgencyAdminPermissions, models.RequestUserAgency)
	staffRow := assignmentRow(models.AgencyUserPermissions, models.RequestUserAgency)
	requesterRow := assignmentRow(models.PermNone, models.RequestUserRequester)

	tests := []struct {
		name       string
		user       *models.User
		assignment *models.UserRequest
		perm       models.Permission
		want       bool
	}{
		{"nil user denied", nil, adminRow, models.PermAddNote, false},
		{"anonymous denied even with assignment", anonVisitor("anon"), adminRow, models.PermAddNote, false},
		{"super bypasses assignment", superUser("su"), nil, models.PermCloseRequest, true},
		{"public user with no assignment denied", publicUser("pub"), nil, models.PermCloseRequest, false},
		{"requester cannot close own request", publicUser("pub"), requesterRow, models.PermCloseRequest, false},
		{"requester cannot add agency responses", publicUser("pub"), requesterRow, models.PermAddFile, false},
		{"agency staff may add notes", agencyUser("a1", "860"), staffRow, models.PermAddNote, true},
		{"agency staff may record emails", agencyUser("a1", "860"), staffRow, models.PermAddEmail, true},
		{"agency staff cannot close", agencyUser("a1", "860"), staffRow, models.PermCloseRequest, false},
		{"agency staff cannot delete files", agencyUser("a1", "860"), staffRow, models.PermDeleteFile, false},
		{"agency staff cannot extend", agencyUser("a1", "860"), staffRow, models.PermAddExtension, false},
		{"unassigned agency user denied", agencyUser("a2", "860"), nil, models.PermAddNote, false},
		{"admin may close", agencyAdmin("ad", "860"), adminRow, models.PermCloseRequest, true},
		{"admin may reopen", agencyAdmin("ad", "860"), adminRow, models.PermReopenRequest, true},
		{"admin may extend", agencyAdmin("ad", "860"), adminRow, models.PermAddExtension, true},
		{"admin may edit request details", agencyAdmin("ad", "860"), adminRow, models.PermEditRequestDetails, true},
		{"stripped admin denied", agencyAdmin("ad", "860"), assignmentRow(models.PermNone, models.RequestUserAgency), models.PermCloseRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanActOnRequest(tt.user, tt.assignment, tt.perm))
		})
	}
}
