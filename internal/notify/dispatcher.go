// Package notify maps workflow events to outbound email. Delivery failure
// is the dispatcher's problem, never the domain action's: callers log
// dispatch errors and move on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/foilportal/pkg/models"
)

// ErrNoRecipients is returned when a notification names nobody at all.
// Callers log it and continue; the triggering action still completes.
var ErrNoRecipients = errors.New("notification must include To, CC, or BCC")

// NotificationType names the template family for a message.
type NotificationType string

const (
	TypeRequestCreated  NotificationType = "request_created"
	TypeResponseAdded   NotificationType = "response_added"
	TypeResponseEdited  NotificationType = "response_edited"
	TypeRequestClosed   NotificationType = "request_closed"
	TypeRequestDenied   NotificationType = "request_denied"
	TypeRequestReopened NotificationType = "request_reopened"
	TypeRequestExtended NotificationType = "request_extended"
	TypeDueSoonDigest   NotificationType = "due_soon_digest"
	TypeOverdueDigest   NotificationType = "overdue_digest"
	TypeUserUpdated     NotificationType = "user_updated"
	TypeOperatorAlert   NotificationType = "operator_alert"
	TypeHeartbeat       NotificationType = "heartbeat"
)

// closureNotifications maps each canned closure reason to its notification
// type. Denials get their own template; everything else is a standard
// closure notice.
var closureNotifications = map[models.ClosureReason]NotificationType{
	models.ClosureFulfilledInWhole: TypeRequestClosed,
	models.ClosureFulfilledInPart:  TypeRequestClosed,
	models.ClosureByEmail:          TypeRequestClosed,
	models.ClosureByFax:            TypeRequestClosed,
	models.ClosureByMail:           TypeRequestClosed,
	models.ClosureByPickup:         TypeRequestClosed,
	models.ClosureRefer311:         TypeRequestClosed,
	models.ClosureReferOpenData:    TypeRequestClosed,
	models.ClosureReferOtherAgency: TypeRequestClosed,
	models.ClosureReferWebLink:     TypeRequestClosed,
	models.ClosureDenied:           TypeRequestDenied,
}

// ClosureNotificationType resolves the notification type for a set of
// closure reasons. Any denial in the set makes the whole notice a denial.
// A reason code outside the lookup table gets the standard closure notice,
// not a denial: with canned codes an unmatched reason means a new
// non-denial code was added without a table entry, so the neutral notice
// is the safer default.
func ClosureNotificationType(reasons []models.ClosureReason) NotificationType {
	for _, reason := range reasons {
		if closureNotifications[reason] == TypeRequestDenied {
			return TypeRequestDenied
		}
	}
	return TypeRequestClosed
}

// Notification is one outbound message.
type Notification struct {
	Type    NotificationType
	To      []string
	CC      []string
	BCC     []string
	Subject string
	Body    string
}

// Validate rejects a notification with no recipients.
func (n Notification) Validate() error {
	if len(n.To) == 0 && len(n.CC) == 0 && len(n.BCC) == 0 {
		return ErrNoRecipients
	}
	return nil
}

func (n Notification) allRecipients() []string {
	all := make([]string, 0, len(n.To)+len(n.CC)+len(n.BCC))
	all = append(all, n.To...)
	all = append(all, n.CC...)
	all = append(all, n.BCC...)
	return all
}

// Dispatcher delivers notifications. Delivery is fire-and-forget from the
// domain's point of view.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// SMTPConfig configures the SMTP dispatcher.
type SMTPConfig struct {
	Host string
	Port int
	From string
}

// SMTPDispatcher sends notifications over plain SMTP.
type SMTPDispatcher struct {
	cfg SMTPConfig
	log zerolog.Logger
}

// NewSMTPDispatcher creates a new SMTP dispatcher
func NewSMTPDispatcher(cfg SMTPConfig, log zerolog.Logger) *SMTPDispatcher {
	return &SMTPDispatcher{cfg: cfg, log: log}
}

// Dispatch validates and sends one message. BCC recipients appear in the
// envelope but never in the headers.
func (d *SMTPDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := d.buildMessage(n)
	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)
	if err := smtp.SendMail(addr, nil, d.cfg.From, n.allRecipients(), msg); err != nil {
		return fmt.Errorf("failed to send %s notification: %w", n.Type, err)
	}

	d.log.Info().Str("type", string(n.Type)).Int("recipients", len(n.allRecipients())).
		Msg("notification sent")
	return nil
}

func (d *SMTPDispatcher) buildMessage(n Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", d.cfg.From)
	if len(n.To) > 0 {
		fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.To, ", "))
	}
	if len(n.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(n.CC, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(n.Body)
	return []byte(b.String())
}

// LogDispatcher records notifications without delivering them. Used in
// development and as the default when no SMTP host is configured.
type LogDispatcher struct {
	log zerolog.Logger
}

// NewLogDispatcher creates a new log-only dispatcher
func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	d.log.Info().Str("type", string(n.Type)).Strs("to", n.To).
		Str("subject", n.Subject).Msg("notification suppressed (log only)")
	return nil
}
