package requests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foilportal/internal/calendar"
)

func TestCloseGate(t *testing.T) {
	tests := []struct {
		name           string
		description    string
		hasInstruction bool
		hasRestricted  bool
		wantKeys       []string
	}{
		{
			name:           "offline instructions require a description",
			hasInstruction: true,
			wantKeys:       []string{"missing_agency_description"},
		},
		{
			name:          "restricted responses require a description",
			hasRestricted: true,
			wantKeys:      []string{"missing_agency_description_record_privacy"},
		},
		{
			name:           "both refusals surface together",
			hasInstruction: true,
			hasRestricted:  true,
			wantKeys: []string{
				"missing_agency_description",
				"missing_agency_description_record_privacy",
			},
		},
		{
			name:           "a description clears every refusal",
			description:    "Records located and released in part.",
			hasInstruction: true,
			hasRestricted:  true,
		},
		{
			name: "nothing sensitive needs no description",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := CloseGate(tt.description, tt.hasInstruction, tt.hasRestricted)
			if len(tt.wantKeys) == 0 {
				assert.Nil(t, errs)
				return
			}
			require.NotNil(t, errs)
			assert.Len(t, errs, len(tt.wantKeys))
			for _, key := range tt.wantKeys {
				assert.Contains(t, errs, key)
			}
		})
	}
}

func TestExtensionDueDate(t *testing.T) {
	cal := calendar.New(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), 2)
	oldDue := time.Date(2026, time.March, 13, 23, 59, 59, 0, time.UTC) // Friday

	t.Run("business day offset skips the weekend", func(t *testing.T) {
		got, err := extensionDueDate(cal, oldDue, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, time.March, 17, 0, 0, 0, 0, time.UTC), got.Truncate(24*time.Hour))
		assert.Equal(t, 23, got.Hour())
	})

	t.Run("explicit date wins over the offset", func(t *testing.T) {
		target := time.Date(2026, time.April, 1, 9, 30, 0, 0, time.UTC)
		got, err := extensionDueDate(cal, oldDue, 5, &target)
		require.NoError(t, err)
		assert.Equal(t, 2026, got.Year())
		assert.Equal(t, time.April, got.Month())
		assert.Equal(t, 1, got.Day())
		assert.Equal(t, 23, got.Hour())
	})

	t.Run("no offset and no date is a validation error", func(t *testing.T) {
		_, err := extensionDueDate(cal, oldDue, 0, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "days")
	})
}
