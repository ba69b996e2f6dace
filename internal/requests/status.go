package requests

import (
	"time"

	"github.com/foilportal/pkg/models"
)

// ComputeBucket decides which due-date bucket a request belongs in at the
// given instant. It returns the target status and whether the stored status
// must change to reach it. Closed is sticky: the sweep never moves a closed
// request, only an explicit reopen does.
func ComputeBucket(status models.RequestStatus, dueDate, now, dueSoonCutoff time.Time) (models.RequestStatus, bool) {
	if status == models.StatusClosed {
		return status, false
	}
	if now.After(dueDate) {
		return models.StatusOverdue, status != models.StatusOverdue
	}
	if dueDate.After(now) && !dueDate.After(dueSoonCutoff) {
		return models.StatusDueSoon, status != models.StatusDueSoon
	}
	return status, false
}

// CanTransition reports whether an explicit transition between lifecycle
// states is allowed. Closed is terminal except for reopen; everything else
// may move to any non-identical state.
func CanTransition(from, to models.RequestStatus) bool {
	if from == to {
		return false
	}
	if from == models.StatusClosed {
		// reopen is the only exit from Closed
		return to == models.StatusOpen
	}
	return true
}
