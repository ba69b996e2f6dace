package responses

import (
	"time"

	"github.com/foilportal/pkg/models"
)

// Viewer classifies who is looking at a request's responses.
type Viewer int

const (
	// ViewerPublic is anyone outside the request: anonymous visitors and
	// authenticated users with no stake in it.
	ViewerPublic Viewer = iota
	// ViewerRequester is the request's own requester.
	ViewerRequester
	// ViewerAgency is staff of the owning agency, or a super user.
	ViewerAgency
)

// Visible applies the privacy rule to one response. Agency viewers see
// everything. The requester sees every released response; private ones
// stay internal to the agency. The public sees only release_and_public
// responses whose release date has passed.
func Visible(resp *models.Response, viewer Viewer, now time.Time) bool {
	if resp.Deleted {
		return false
	}
	switch viewer {
	case ViewerAgency:
		return true
	case ViewerRequester:
		return resp.Privacy != models.PrivacyPrivate
	default:
		if resp.Privacy != models.PrivacyReleasedAndPublic {
			return false
		}
		return resp.ReleaseDate == nil || !now.Before(*resp.ReleaseDate)
	}
}
