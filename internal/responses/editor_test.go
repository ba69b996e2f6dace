package responses

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foilportal/pkg/models"
)

func strptr(s string) *string { return &s }

func privptr(p models.ResponsePrivacy) *models.ResponsePrivacy { return &p }

func TestComputeDiffIdenticalValueIsNoChange(t *testing.T) {
	// Editing a file title from "Report" to "Report" must produce no diff
	// and therefore no event.
	diff, err := ComputeDiff(models.ResponseFile,
		map[string]string{"title": "Report"},
		models.PrivacyPrivate,
		ChangeSet{Fields: map[string]*string{"title": strptr("Report")}},
	)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
}

func TestComputeDiffCollectsChangedFields(t *testing.T) {
	diff, err := ComputeDiff(models.ResponseLink,
		map[string]string{"title": "Records", "url": "https://old.example.gov"},
		models.PrivacyPrivate,
		ChangeSet{Fields: map[string]*string{
			"title": strptr("Records"), // unchanged, dropped silently
			"url":   strptr("https://new.example.gov"),
		}},
	)
	require.NoError(t, err)
	assert.False(t, diff.Empty())

	wantOld := map[string]any{"url": "https://old.example.gov"}
	wantNew := map[string]any{"url": "https://new.example.gov"}
	if d := cmp.Diff(wantOld, diff.Old); d != "" {
		t.Errorf("old values mismatch (-want +got):\n%s", d)
	}
	if d := cmp.Diff(wantNew, diff.New); d != "" {
		t.Errorf("new values mismatch (-want +got):\n%s", d)
	}
}

func TestComputeDiffAbsentFieldsAreIgnored(t *testing.T) {
	diff, err := ComputeDiff(models.ResponseNote,
		map[string]string{"content": "original"},
		models.PrivacyPrivate,
		ChangeSet{Fields: map[string]*string{}},
	)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
}

func TestComputeDiffPrivacyAlwaysIncluded(t *testing.T) {
	diff, err := ComputeDiff(models.ResponseFile,
		map[string]string{"title": "Report"},
		models.PrivacyPrivate,
		ChangeSet{Privacy: privptr(models.PrivacyReleasedAndPublic)},
	)
	require.NoError(t, err)
	assert.False(t, diff.Empty())
	assert.True(t, diff.PrivacyChanged)
	assert.Equal(t, string(models.PrivacyPrivate), diff.Old["privacy"])
	assert.Equal(t, string(models.PrivacyReleasedAndPublic), diff.New["privacy"])
}

func TestComputeDiffSamePrivacyIsNoChange(t *testing.T) {
	diff, err := ComputeDiff(models.ResponseFile,
		map[string]string{"title": "Report"},
		models.PrivacyPrivate,
		ChangeSet{Privacy: privptr(models.PrivacyPrivate)},
	)
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	assert.False(t, diff.PrivacyChanged)
}

func TestComputeDiffImmutableVariants(t *testing.T) {
	for _, rt := range []models.ResponseType{
		models.ResponseEmail,
		models.ResponseExtension,
		models.ResponseDetermination,
	} {
		_, err := ComputeDiff(rt, nil, models.PrivacyPrivate, ChangeSet{})
		assert.True(t, errors.Is(err, ErrNotEditable), "variant %s", rt)
	}
}

func TestEditableFieldsTable(t *testing.T) {
	assert.Equal(t, []string{"title"}, EditableFields(models.ResponseFile))
	assert.Equal(t, []string{"content"}, EditableFields(models.ResponseNote))
	assert.Equal(t, []string{"title", "url"}, EditableFields(models.ResponseLink))
	assert.Equal(t, []string{"content"}, EditableFields(models.ResponseInstruction))
	assert.Nil(t, EditableFields(models.ResponseEmail))
}
