package sweep

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/foilportal/internal/calendar"
	"github.com/foilportal/internal/events"
	"github.com/foilportal/internal/notify"
	"github.com/foilportal/internal/requests"
	"github.com/foilportal/pkg/models"
)

// Config carries the sweep tunables.
type Config struct {
	// DueSoonDays is the default due-soon threshold in business days, used
	// when an agency has none of its own.
	DueSoonDays int
	// OperatorEmail receives failure alerts and heartbeats.
	OperatorEmail string
}

// Sweeper recomputes request status buckets across all active agencies.
type Sweeper struct {
	db         *sql.DB
	requests   *requests.Service
	events     *events.Repo
	cal        *calendar.Calendar
	dispatcher notify.Dispatcher
	cfg        Config
	log        zerolog.Logger
}

// NewSweeper creates a new sweeper
func NewSweeper(db *sql.DB, requestsSvc *requests.Service, eventsRepo *events.Repo, cal *calendar.Calendar, dispatcher notify.Dispatcher, cfg Config, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		db: db, requests: requestsSvc, events: eventsRepo, cal: cal,
		dispatcher: dispatcher, cfg: cfg, log: log,
	}
}

// Result summarizes one full sweep.
type Result struct {
	Agencies    int
	Transitions int
	Failures    int
}

// Run sweeps every active agency. One agency's failure never stops the
// others; each is caught at its own boundary, and the operator gets one
// alert with the stack trace. Running twice on unchanged data is a no-op
// the second time: the stored status already matches the computed bucket,
// so no transition fires and no digest is sent.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Result, error) {
	agencies, err := s.listActiveAgencies(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{Agencies: len(agencies)}
	for _, agency := range agencies {
		transitions, agencyErr := s.sweepAgency(ctx, agency, now)
		res.Transitions += transitions
		if agencyErr != nil {
			res.Failures++
			s.log.Error().Err(agencyErr).Str("agency_ein", agency.EIN).Msg("agency sweep failed")
			s.alertOperator(ctx, agency.EIN, agencyErr)
		}
	}

	s.log.Info().Int("agencies", res.Agencies).Int("transitions", res.Transitions).
		Int("failures", res.Failures).Msg("status sweep complete")
	return res, nil
}

// sweepAgency processes one agency behind a recover boundary, so a panic
// in one agency's data cannot take down the whole sweep.
func (s *Sweeper) sweepAgency(ctx context.Context, agency models.Agency, now time.Time) (transitions int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during agency sweep: %v\n%s", r, debug.Stack())
		}
	}()

	threshold := agency.DueSoonThreshold
	if threshold <= 0 {
		threshold = s.cfg.DueSoonDays
	}
	cutoff := calendar.EndOfDay(s.cal.AddBusinessDays(now, threshold))

	overdue, dueSoon, err := s.requests.ListSweepCandidates(ctx, agency.EIN, now, cutoff)
	if err != nil {
		return 0, err
	}

	part := Partition(overdue, dueSoon)
	changed := Partitioned{}

	// Each candidate's target bucket comes from the same pure function the
	// tests exercise; a request already at its bucket is skipped here and
	// double-checked under the transition's row lock.
	apply := func(rs []*models.Request, out *[]*models.Request) error {
		for _, r := range rs {
			target, needs := requests.ComputeBucket(r.Status, r.DueDate, now, cutoff)
			if !needs {
				continue
			}
			did, terr := s.requests.Transition(ctx, r.ID, target, nil)
			if terr != nil {
				return fmt.Errorf("failed to transition %s: %w", r.ID, terr)
			}
			if did {
				transitions++
				*out = append(*out, r)
			}
		}
		return nil
	}

	if err := apply(part.OverdueUnacked, &changed.OverdueUnacked); err != nil {
		return transitions, err
	}
	if err := apply(part.OverdueAcked, &changed.OverdueAcked); err != nil {
		return transitions, err
	}
	if err := apply(part.DueSoonUnacked, &changed.DueSoonUnacked); err != nil {
		return transitions, err
	}
	if err := apply(part.DueSoonAcked, &changed.DueSoonAcked); err != nil {
		return transitions, err
	}

	if changed.Total() == 0 {
		return transitions, nil
	}
	return transitions, s.sendDigest(ctx, agency, changed, now)
}

// sendDigest emails the agency's administrators one aggregate summary of
// the requests that moved buckets, and logs the email as an event on each
// affected request. Dispatch failure is logged but does not fail the
// sweep; the transitions already committed.
func (s *Sweeper) sendDigest(ctx context.Context, agency models.Agency, changed Partitioned, now time.Time) error {
	recipients, err := s.adminEmails(ctx, agency.EIN)
	if err != nil {
		return err
	}

	digestType := notify.TypeDueSoonDigest
	if len(changed.OverdueUnacked)+len(changed.OverdueAcked) > 0 {
		digestType = notify.TypeOverdueDigest
	}

	n := notify.Notification{
		Type:    digestType,
		To:      recipients,
		Subject: fmt.Sprintf("%s: %d request(s) need attention", agency.Name, changed.Total()),
		Body:    buildDigestBody(agency, changed),
	}
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.log.Warn().Err(err).Str("agency_ein", agency.EIN).Msg("digest dispatch failed")
		return nil
	}

	for _, r := range allChanged(changed) {
		ev := &models.Event{
			RequestID: r.ID,
			Type:      models.EventEmailSent,
			Timestamp: now,
			NewValue: map[string]any{
				"notification_type": string(digestType),
				"recipients":        strings.Join(recipients, ","),
			},
		}
		if err := s.events.Insert(ctx, nil, ev); err != nil {
			return err
		}
	}
	return nil
}

func allChanged(p Partitioned) []*models.Request {
	all := make([]*models.Request, 0, p.Total())
	all = append(all, p.OverdueUnacked...)
	all = append(all, p.OverdueAcked...)
	all = append(all, p.DueSoonUnacked...)
	all = append(all, p.DueSoonAcked...)
	return all
}

func buildDigestBody(agency models.Agency, changed Partitioned) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily status summary for %s\n\n", agency.Name)

	section := func(title string, rs []*models.Request) {
		if len(rs) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s (%d):\n", title, len(rs))
		for _, r := range rs {
			fmt.Fprintf(&b, "  %s due %s\n", r.ID, r.DueDate.Format("2006-01-02"))
		}
		b.WriteString("\n")
	}

	section("Overdue, no response yet", changed.OverdueUnacked)
	section("Overdue", changed.OverdueAcked)
	section("Due soon, no response yet", changed.DueSoonUnacked)
	section("Due soon", changed.DueSoonAcked)
	return b.String()
}

// adminEmails returns the deduplicated notification addresses of an
// agency's active administrators.
func (s *Sweeper) adminEmails(ctx context.Context, ein string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(notification_email, ''), COALESCE(email, ''))
		FROM users
		WHERE agency_ein = $1 AND auth_user_type = $2
		      AND is_agency_admin = TRUE AND is_agency_active = TRUE
		ORDER BY last_name, first_name
	`, ein, models.AuthAgencyUser)
	if err != nil {
		return nil, fmt.Errorf("failed to query agency admins: %w", err)
	}
	defer rows.Close()

	addresses := []string{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan admin email: %w", err)
		}
		addresses = append(addresses, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agency admins: %w", err)
	}
	return DedupeEmails(addresses), nil
}

func (s *Sweeper) listActiveAgencies(ctx context.Context) ([]models.Agency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ein, name, is_active, due_soon_threshold
		FROM agencies WHERE is_active = TRUE ORDER BY ein
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agencies: %w", err)
	}
	defer rows.Close()

	agencies := []models.Agency{}
	for rows.Next() {
		var a models.Agency
		if err := rows.Scan(&a.EIN, &a.Name, &a.IsActive, &a.DueSoonThreshold); err != nil {
			return nil, fmt.Errorf("failed to scan agency: %w", err)
		}
		agencies = append(agencies, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agencies: %w", err)
	}
	return agencies, nil
}

// alertOperator sends the failure alert for one agency. Best effort; the
// error is already logged.
func (s *Sweeper) alertOperator(ctx context.Context, ein string, cause error) {
	if s.cfg.OperatorEmail == "" {
		return
	}
	n := notify.Notification{
		Type:    notify.TypeOperatorAlert,
		To:      []string{s.cfg.OperatorEmail},
		Subject: fmt.Sprintf("Status sweep failed for agency %s", ein),
		Body:    cause.Error(),
	}
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.log.Error().Err(err).Msg("operator alert dispatch failed")
	}
}

// Heartbeat emails the operator mailbox to confirm the scheduler is alive.
func (s *Sweeper) Heartbeat(ctx context.Context, now time.Time) error {
	if s.cfg.OperatorEmail == "" {
		return nil
	}
	return s.dispatcher.Dispatch(ctx, notify.Notification{
		Type:    notify.TypeHeartbeat,
		To:      []string{s.cfg.OperatorEmail},
		Subject: "foilportal scheduler heartbeat",
		Body:    fmt.Sprintf("Scheduler alive at %s", now.Format(time.RFC3339)),
	})
}
