package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/foilportal/pkg/models"
)

func TestValidateRequiresRecipients(t *testing.T) {
	n := Notification{Type: TypeResponseAdded, Subject: "s", Body: "b"}
	assert.ErrorIs(t, n.Validate(), ErrNoRecipients)

	n.BCC = []string{"records@agency.example"}
	assert.NoError(t, n.Validate())
}

func TestClosureNotificationType(t *testing.T) {
	tests := []struct {
		name    string
		reasons []models.ClosureReason
		want    NotificationType
	}{
		{"fulfilled", []models.ClosureReason{models.ClosureFulfilledInWhole}, TypeRequestClosed},
		{"referred", []models.ClosureReason{models.ClosureRefer311, models.ClosureReferOpenData}, TypeRequestClosed},
		{"denied", []models.ClosureReason{models.ClosureDenied}, TypeRequestDenied},
		{"denial dominates", []models.ClosureReason{models.ClosureFulfilledInPart, models.ClosureDenied}, TypeRequestDenied},
		{"unknown falls back", []models.ClosureReason{models.ClosureReason("something_else")}, TypeRequestClosed},
		{"empty", nil, TypeRequestClosed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClosureNotificationType(tc.reasons))
		})
	}
}

func TestLogDispatcherStillValidates(t *testing.T) {
	d := NewLogDispatcher(zerolog.Nop())
	err := d.Dispatch(context.Background(), Notification{Type: TypeHeartbeat})
	assert.ErrorIs(t, err, ErrNoRecipients)

	err = d.Dispatch(context.Background(), Notification{
		Type: TypeHeartbeat, To: []string{"ops@example.com"}, Subject: "ok",
	})
	assert.NoError(t, err)
}
