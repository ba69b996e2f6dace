// Package sweep is the nightly batch status job: per agency, recompute
// Due-Soon/Overdue buckets, transition the requests whose stored status
// lags the computed one, and send each agency's administrators a single
// digest email.
package sweep

import "github.com/foilportal/pkg/models"

// Partitioned splits one agency's bucket candidates by acknowledgment.
// Unacknowledged requests lead the digest; an agency that has never
// responded to a request is the case the reminder exists for.
type Partitioned struct {
	OverdueUnacked, OverdueAcked []*models.Request
	DueSoonUnacked, DueSoonAcked []*models.Request
}

// Partition splits the sweep candidates by was_acknowledged, preserving
// the due-date ordering within each slice.
func Partition(overdue, dueSoon []*models.Request) Partitioned {
	p := Partitioned{}
	for _, r := range overdue {
		if r.WasAcknowledged {
			p.OverdueAcked = append(p.OverdueAcked, r)
		} else {
			p.OverdueUnacked = append(p.OverdueUnacked, r)
		}
	}
	for _, r := range dueSoon {
		if r.WasAcknowledged {
			p.DueSoonAcked = append(p.DueSoonAcked, r)
		} else {
			p.DueSoonUnacked = append(p.DueSoonUnacked, r)
		}
	}
	return p
}

// Total counts every candidate across the four partitions.
func (p Partitioned) Total() int {
	return len(p.OverdueUnacked) + len(p.OverdueAcked) + len(p.DueSoonUnacked) + len(p.DueSoonAcked)
}

// DedupeEmails returns the addresses with duplicates and empties removed,
// keeping first-seen order.
func DedupeEmails(addresses []string) []string {
	seen := make(map[string]bool, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
