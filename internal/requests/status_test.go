package requests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/foilportal/pkg/models"
)

func TestComputeBucket(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	cutoff := now.AddDate(0, 0, 7) // due-soon window upper bound

	tests := []struct {
		name        string
		status      models.RequestStatus
		dueDate     time.Time
		wantStatus  models.RequestStatus
		wantChanged bool
	}{
		{
			name:        "open and past due becomes overdue",
			status:      models.StatusOpen,
			dueDate:     now.AddDate(0, 0, -1),
			wantStatus:  models.StatusOverdue,
			wantChanged: true,
		},
		{
			name:        "already overdue stays put",
			status:      models.StatusOverdue,
			dueDate:     now.AddDate(0, 0, -1),
			wantStatus:  models.StatusOverdue,
			wantChanged: false,
		},
		{
			name:        "open inside the window becomes due soon",
			status:      models.StatusOpen,
			dueDate:     now.AddDate(0, 0, 3),
			wantStatus:  models.StatusDueSoon,
			wantChanged: true,
		},
		{
			name:        "due exactly at the cutoff is due soon",
			status:      models.StatusOpen,
			dueDate:     cutoff,
			wantStatus:  models.StatusDueSoon,
			wantChanged: true,
		},
		{
			name:        "already due soon stays put",
			status:      models.StatusDueSoon,
			dueDate:     now.AddDate(0, 0, 3),
			wantStatus:  models.StatusDueSoon,
			wantChanged: false,
		},
		{
			name:        "due beyond the window is untouched",
			status:      models.StatusOpen,
			dueDate:     cutoff.AddDate(0, 0, 1),
			wantStatus:  models.StatusOpen,
			wantChanged: false,
		},
		{
			name:        "closed is sticky against overdue",
			status:      models.StatusClosed,
			dueDate:     now.AddDate(0, 0, -10),
			wantStatus:  models.StatusClosed,
			wantChanged: false,
		},
		{
			name:        "closed is sticky against due soon",
			status:      models.StatusClosed,
			dueDate:     now.AddDate(0, 0, 2),
			wantStatus:  models.StatusClosed,
			wantChanged: false,
		},
		{
			name:        "reopened request past due becomes overdue again",
			status:      models.StatusOpen,
			dueDate:     now.AddDate(0, 0, -5),
			wantStatus:  models.StatusOverdue,
			wantChanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := ComputeBucket(tt.status, tt.dueDate, now, cutoff)
			assert.Equal(t, tt.wantStatus, got)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}

func TestComputeBucketIdempotent(t *testing.T) {
	// Running the computation twice against the result of the first run
	// must report no further change; the sweep keys off the bucket, not a
	// "has this run today" flag.
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	cutoff := now.AddDate(0, 0, 7)
	due := now.AddDate(0, 0, 2)

	first, changed := ComputeBucket(models.StatusOpen, due, now, cutoff)
	assert.True(t, changed)

	second, changed := ComputeBucket(first, due, now, cutoff)
	assert.False(t, changed)
	assert.Equal(t, first, second)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.RequestStatus
		want     bool
	}{
		{models.StatusOpen, models.StatusClosed, true},
		{models.StatusDueSoon, models.StatusClosed, true},
		{models.StatusOverdue, models.StatusClosed, true},
		{models.StatusClosed, models.StatusOpen, true}, // reopen
		{models.StatusClosed, models.StatusOverdue, false},
		{models.StatusClosed, models.StatusDueSoon, false},
		{models.StatusClosed, models.StatusClosed, false},
		{models.StatusOpen, models.StatusOpen, false},
		{models.StatusOpen, models.StatusDueSoon, true},
		{models.StatusDueSoon, models.StatusOverdue, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to),
			"from %s to %s", tt.from, tt.to)
	}
}
