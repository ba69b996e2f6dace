package responses

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/foilportal/pkg/models"
)

func TestVisible(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	released := now.AddDate(0, 0, -1)
	embargoed := now.AddDate(0, 0, 5)

	resp := func(privacy models.ResponsePrivacy, release *time.Time) *models.Response {
		return &models.Response{Privacy: privacy, ReleaseDate: release}
	}

	tests := []struct {
		name   string
		resp   *models.Response
		viewer Viewer
		want   bool
	}{
		{"agency sees private", resp(models.PrivacyPrivate, nil), ViewerAgency, true},
		{"agency sees embargoed public", resp(models.PrivacyReleasedAndPublic, &embargoed), ViewerAgency, true},
		{"requester sees released and private", resp(models.PrivacyReleasedAndPrivate, nil), ViewerRequester, true},
		{"requester sees released and public", resp(models.PrivacyReleasedAndPublic, &released), ViewerRequester, true},
		{"requester never sees private", resp(models.PrivacyPrivate, nil), ViewerRequester, false},
		{"public sees released public past release date", resp(models.PrivacyReleasedAndPublic, &released), ViewerPublic, true},
		{"public blocked before release date", resp(models.PrivacyReleasedAndPublic, &embargoed), ViewerPublic, false},
		{"public never sees released and private", resp(models.PrivacyReleasedAndPrivate, nil), ViewerPublic, false},
		{"public never sees private", resp(models.PrivacyPrivate, nil), ViewerPublic, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Visible(tt.resp, tt.viewer, now))
		})
	}

	t.Run("deleted responses are invisible to everyone", func(t *testing.T) {
		r := resp(models.PrivacyReleasedAndPublic, &released)
		r.Deleted = true
		assert.False(t, Visible(r, ViewerAgency, now))
		assert.False(t, Visible(r, ViewerRequester, now))
		assert.False(t, Visible(r, ViewerPublic, now))
	})
}
