package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/creativeprojects/postoffice/email"
	"github.com/creativeprojects/postoffice/lib"
	"github.com/google/uuid"
)

// DefaultBounceReason is used when Bounce is given neither a reason nor a message
const DefaultBounceReason = "Email message is invalid."

const bounceBody = `Your email, sent on %s to %s has bounced for the following reason:

	%s

If you feel you are receiving this message in error please contact your system
administrator.
`

const quarantineNoticeBody = `An error has occurred while processing your email, sent on %s to %s.

System administrators have been informed and will take corrective action
shortly. Your message has been stored in a quarantine and will be retried once
the error is addressed. We apologize for the inconvenience.
`

// Bounce sends a notice to the sender of msg. Either reason or bounceMessage
// can be given, but not both: a message is composed from the reason, or
// DefaultBounceReason when both are empty.
func (q *Queue) Bounce(msg *email.Message, send Sender, from, reason string, bounceMessage *email.Message) error {
	return Bounce(msg, send, from, reason, bounceMessage, q.now())
}

// Bounce is the queue independent version of Queue.Bounce
func Bounce(msg *email.Message, send Sender, from, reason string, bounceMessage *email.Message, now time.Time) error {
	if reason != "" && bounceMessage != nil {
		return fmt.Errorf("%w: specify either a bounce reason or a bounce message", lib.ErrInvalidArgument)
	}
	if send == nil {
		return fmt.Errorf("%w: no sender to bounce the message", lib.ErrInvalidArgument)
	}
	if bounceMessage == nil {
		if reason == "" {
			reason = DefaultBounceReason
		}
		to := msg.To()
		bounceMessage = newNotice(
			from,
			msg.From(),
			fmt.Sprintf("Your message to %s has bounced.", to),
			fmt.Sprintf(bounceBody, sentOn(msg, now), to, reason),
			now,
		)
	}
	err := send.Send(from, []string{msg.From()}, bounceMessage)
	if err != nil {
		return fmt.Errorf("cannot send bounce message: %w", err)
	}
	return nil
}

func quarantineNotice(msg *email.Message, from string, now time.Time) *email.Message {
	to := msg.To()
	return newNotice(
		from,
		msg.From(),
		fmt.Sprintf("An error has occurred while processing your email to %s", to),
		fmt.Sprintf(quarantineNoticeBody, sentOn(msg, now), to),
		now,
	)
}

func newNotice(from, to, subject, body string, now time.Time) *email.Message {
	notice := email.NewText(body)
	notice.SetText(email.HeaderSubject, subject)
	notice.Set(email.HeaderFrom, from)
	notice.Set(email.HeaderTo, to)
	notice.Set(email.HeaderDate, now.Format(email.DateLayout))
	notice.Set(email.HeaderMessageID, newMessageID(from))
	notice.Set(HeaderLoop, LoopBounced)
	return notice
}

// sentOn is the raw Date header, or now in the ctime format
func sentOn(msg *email.Message, now time.Time) string {
	if date := msg.Get(email.HeaderDate); date != "" {
		return date
	}
	return now.Format(time.ANSIC)
}

func newMessageID(from string) string {
	domain := "postoffice"
	if at := strings.LastIndex(from, "@"); at >= 0 {
		domain = strings.Trim(from[at+1:], "<> ")
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
