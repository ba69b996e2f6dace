package sweep

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/foilportal/pkg/models"
)

func req(id string, due time.Time, acked bool) *models.Request {
	return &models.Request{ID: id, DueDate: due, WasAcknowledged: acked}
}

func TestPartition(t *testing.T) {
	base := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	overdue := []*models.Request{
		req("FOIL-2026-860-00001", base.AddDate(0, 0, -3), false),
		req("FOIL-2026-860-00002", base.AddDate(0, 0, -1), true),
	}
	dueSoon := []*models.Request{
		req("FOIL-2026-860-00003", base.AddDate(0, 0, 2), true),
		req("FOIL-2026-860-00004", base.AddDate(0, 0, 3), false),
		req("FOIL-2026-860-00005", base.AddDate(0, 0, 4), false),
	}

	p := Partition(overdue, dueSoon)
	assert.Equal(t, 5, p.Total())
	assert.Len(t, p.OverdueUnacked, 1)
	assert.Len(t, p.OverdueAcked, 1)
	assert.Len(t, p.DueSoonAcked, 1)

	// Ordering within a partition follows the input ordering.
	ids := []string{p.DueSoonUnacked[0].ID, p.DueSoonUnacked[1].ID}
	if diff := cmp.Diff([]string{"FOIL-2026-860-00004", "FOIL-2026-860-00005"}, ids); diff != "" {
		t.Errorf("due-soon unacked order mismatch (-want +got):\n%s", diff)
	}
}

func TestPartitionEmpty(t *testing.T) {
	p := Partition(nil, nil)
	assert.Equal(t, 0, p.Total())
	assert.Empty(t, allChanged(p))
}

func TestDedupeEmails(t *testing.T) {
	got := DedupeEmails([]string{
		"records@agency.example",
		"",
		"admin@agency.example",
		"records@agency.example",
	})
	assert.Equal(t, []string{"records@agency.example", "admin@agency.example"}, got)
}

func TestBuildDigestBody(t *testing.T) {
	agency := models.Agency{EIN: "860", Name: "Department of Records"}
	due := time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)
	p := Partitioned{
		DueSoonUnacked: []*models.Request{req("FOIL-2026-860-00001", due, false)},
	}

	body := buildDigestBody(agency, p)
	assert.Contains(t, body, "Department of Records")
	assert.Contains(t, body, "FOIL-2026-860-00001 due 2026-09-04")
	assert.NotContains(t, body, "Overdue")
}
