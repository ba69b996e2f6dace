package users

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/foilportal/pkg/models"
)

func TestUpdateEmptyPatchIsNoChanges(t *testing.T) {
	// No DB is needed: a patch naming no fields must short-circuit before
	// any lookup, and must not surface as a permission denial.
	s := NewService(nil, nil, zerolog.Nop())
	err := s.Update(context.Background(), "pub-1:public_user_nycid", Patch{}, publicUser("actor"))
	assert.ErrorIs(t, err, ErrNoChanges)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
}

func TestDiffProfileDropsIdenticalValues(t *testing.T) {
	target := &models.User{
		GUID:     "u1",
		AuthType: models.AuthPublicUserID,
		Email:    strp("old@example.com"),
		Title:    strp("Analyst"),
	}

	old, new := diffProfile(target, Patch{
		Email: strp("new@example.com"),
		Title: strp("Analyst"), // unchanged
	})

	wantOld := map[string]any{FieldEmail: "old@example.com"}
	wantNew := map[string]any{FieldEmail: "new@example.com"}
	if diff := cmp.Diff(wantOld, old); diff != "" {
		t.Errorf("old mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantNew, new); diff != "" {
		t.Errorf("new mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffProfileAllIdenticalIsEmpty(t *testing.T) {
	target := &models.User{
		GUID:        "u1",
		AuthType:    models.AuthPublicUserID,
		PhoneNumber: strp("555-0100"),
	}
	old, new := diffProfile(target, Patch{PhoneNumber: strp("555-0100")})
	assert.Empty(t, old)
	assert.Empty(t, new)
}

func TestDiffStatus(t *testing.T) {
	target := &models.User{
		GUID:           "a1",
		AuthType:       models.AuthAgencyUser,
		IsAgencyActive: true,
		IsAgencyAdmin:  false,
	}

	grant := true
	old, new := diffStatus(target, Patch{
		IsAgencyAdmin:  &grant,
		IsAgencyActive: &grant, // already true
	})

	assert.Equal(t, map[string]any{FieldIsAgencyAdmin: false}, old)
	assert.Equal(t, map[string]any{FieldIsAgencyAdmin: true}, new)
}
