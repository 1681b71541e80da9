package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/creativeprojects/postoffice/email"
	"github.com/creativeprojects/postoffice/filter"
	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/metrics"
	"github.com/creativeprojects/postoffice/queue"
	"github.com/creativeprojects/postoffice/source"
	"github.com/creativeprojects/postoffice/store"
)

// Tags written in the queue.HeaderRejected header of accepted messages
const (
	RejectedOversize     = "Maximum Message Size Exceeded"
	RejectedAutoResponse = "Auto-response"
	RejectedThrottled    = "Throttled"
)

// BodyDiscarded replaces the body of an oversize message
const BodyDiscarded = "Message body discarded."

// ImportMessages routes every message waiting in the inbox, in key order, then
// archives it. It returns the number of messages processed. Any store error
// aborts the run: the message being processed stays in the inbox.
func (r *Router) ImportMessages(inbox source.Inbox, log lib.LevelLogger) (int, error) {
	if log == nil {
		log = &lib.NoLog{}
	}
	start := r.now()
	items, err := inbox.Messages()
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, item := range items {
		err = r.importItem(item, log)
		if err != nil {
			return processed, fmt.Errorf("cannot import message %q: %w", item.Key(), err)
		}
		err = inbox.Archive(item)
		if err != nil {
			return processed, fmt.Errorf("cannot archive message %q: %w", item.Key(), err)
		}
		processed++
	}
	if processed == 1 {
		log.Infof("Processed one message.")
	} else {
		log.Infof("Processed %d messages.", processed)
	}
	r.debug.Printf("%d parsed messages in cache", r.db.CacheSize())
	r.metrics.RunCompleted(start, r.now())
	return processed, nil
}

func (r *Router) importItem(item source.Item, log lib.LevelLogger) error {
	msg, err := r.readMessage(item)
	if err != nil {
		var openErr *openError
		if errors.As(err, &openErr) {
			return err
		}
		log.Warnf("Message discarded, cannot parse message %s: %s", item.Key(), err)
		r.metrics.Message(metrics.OutcomeMalformed)
		return nil
	}
	r.debug.Printf("Processing message %s (%d bytes)", item.Key(), item.Size())

	if reason, ok := malformed(msg); ok {
		log.Infof("Message discarded, %s: %s", reason, describe(msg))
		r.metrics.Message(metrics.OutcomeMalformed)
		return nil
	}

	now := r.now()
	msg.Set(queue.HeaderDate, strconv.FormatInt(msg.DateOrNow(now).Unix(), 10))

	if reason, ok := filter.Any(r.config.RejectFilters(), msg); ok {
		log.Infof("Message discarded, %s: %s", reason, describe(msg))
		r.metrics.Message(metrics.OutcomeRejected)
		return nil
	}

	for _, configured := range r.config.Queues {
		chain := configured.Chain()
		if len(chain) == 0 {
			continue
		}
		if _, ok := chain.Match(msg); !ok {
			continue
		}
		return r.db.WithTransaction(func(tx *store.Tx) error {
			return r.admit(tx, configured.Name, msg, log)
		})
	}
	log.Infof("Message discarded, no matching queues: %s", describe(msg))
	r.metrics.Message(metrics.OutcomeNotMatched)
	return nil
}

// admit runs inside the transaction of the message
func (r *Router) admit(tx *store.Tx, name string, msg *email.Message, log lib.LevelLogger) error {
	folder, err := r.openFolder(tx)
	if err != nil {
		return err
	}
	q, err := folder.Get(name)
	if err != nil {
		return err
	}
	duplicate, err := q.IsDuplicate(msg)
	if err != nil {
		return err
	}
	if duplicate {
		log.Infof("Message discarded, duplicate Message-Id in queue %s: %s", name, describe(msg))
		r.metrics.Message(metrics.OutcomeDuplicate)
		return nil
	}

	if !msg.Has(queue.HeaderRejected) {
		reason, err := r.rejectionTag(q, msg)
		if err != nil {
			return err
		}
		if reason != "" {
			msg.Set(queue.HeaderRejected, reason)
		}
	}

	if err = q.Add(msg); err != nil {
		return err
	}
	if err = q.RememberMessageID(msg); err != nil {
		return err
	}
	if err = q.CollectFrequencyData(msg, r.config.Postoffice.OOOLoopHeaders); err != nil {
		return err
	}

	if reason := msg.Get(queue.HeaderRejected); reason != "" {
		log.Infof("Message added to queue, %s (%s): %s", name, reason, describe(msg))
		r.metrics.Message(metrics.OutcomeTagged)
	} else {
		log.Infof("Message added to queue, %s: %s", name, describe(msg))
		r.metrics.Message(metrics.OutcomeQueued)
	}
	r.metrics.Queued(name)
	return nil
}

// rejectionTag returns why an accepted message should be tagged, if at all.
// The frequency is evaluated even for an auto-response, so a reply loop still
// throttles its sender.
func (r *Router) rejectionTag(q *queue.Queue, msg *email.Message) (string, error) {
	reason := ""
	if isAutoResponse(msg) {
		reason = RejectedAutoResponse
	}
	throttled, err := r.evaluateFrequency(q, msg)
	if err != nil {
		return "", err
	}
	if throttled && reason == "" {
		reason = RejectedThrottled
	}
	return reason, nil
}

// evaluateFrequency returns true when the sender is throttled, or goes over the
// loop frequency with this message. Rates are measured on the Date of the
// messages; the throttle itself runs on the clock of the post office.
func (r *Router) evaluateFrequency(q *queue.Queue, msg *email.Message) (bool, error) {
	now := r.now()
	sender := msg.From()
	date := msg.DateOrNow(now)
	discriminator := queue.NewDiscriminator(msg, r.config.Postoffice.OOOLoopHeaders)

	throttled, err := q.IsThrottled(sender, now, discriminator)
	if err != nil || throttled {
		return throttled, err
	}

	threshold := r.config.Postoffice.OOOLoopFrequency
	if threshold <= 0 {
		return false, nil
	}
	instant, err := q.InstantaneousFrequency(sender, date, discriminator)
	if err != nil {
		return false, err
	}
	// the average runs over the time needed to receive 4 messages at the threshold rate
	window := time.Duration(4 / threshold * float64(time.Minute))
	average, err := q.AverageFrequency(sender, date, window, discriminator)
	if err != nil {
		return false, err
	}
	if instant <= threshold && average <= threshold {
		return false, nil
	}
	r.debug.Printf("sender %q over the limit of %g/min: instantaneous %g/min, average %g/min", sender, threshold, instant, average)
	err = q.Throttle(sender, now.Add(r.config.Postoffice.OOOThrottlePeriod), discriminator)
	if err != nil {
		return false, err
	}
	return true, nil
}

type openError struct {
	err error
}

func (e *openError) Error() string {
	return e.err.Error()
}

func (e *openError) Unwrap() error {
	return e.err
}

// readMessage parses the message. Only the header of an oversize message is kept.
func (r *Router) readMessage(item source.Item) (*email.Message, error) {
	reader, err := item.Open()
	if err != nil {
		return nil, &openError{err: err}
	}
	defer reader.Close()

	maxSize := r.config.MaxMessageSize()
	if maxSize <= 0 || item.Size() <= maxSize {
		msg, err := email.Read(reader)
		if err != nil {
			return nil, err
		}
		removeRoutingHeaders(msg)
		return msg, nil
	}
	msg, err := email.ReadHeader(reader)
	if err != nil {
		return nil, err
	}
	removeRoutingHeaders(msg)
	msg.Del("Content-Transfer-Encoding")
	msg.Set("Content-Type", "text/plain; charset=us-ascii")
	msg.SetBody([]byte(BodyDiscarded + "\r\n"))
	msg.Set(queue.HeaderRejected, RejectedOversize)
	r.debug.Printf("Message %s is %d bytes, over the limit of %d bytes", item.Key(), item.Size(), maxSize)
	return msg, nil
}

// removeRoutingHeaders drops the annotations that only the post office can write.
// The loop marker stays: it is how our own notices are recognized.
func removeRoutingHeaders(msg *email.Message) {
	msg.Del(queue.HeaderDate)
	msg.Del(queue.HeaderRejected)
	msg.Del(queue.HeaderQuarantineID)
}

// malformed tells whether the message must be discarded before routing
func malformed(msg *email.Message) (string, bool) {
	switch {
	case msg.From() == "":
		return "missing From header", true
	case msg.From() == msg.To():
		return "From and To are the same", true
	case msg.MessageID() == "":
		return "missing Message-Id header", true
	case msg.Get(queue.HeaderLoop) == queue.LoopBounced:
		return "bounce sent by the post office", true
	}
	return "", false
}

// isAutoResponse looks for the signs of an automated reply: "Precedence: bulk|junk|list"
// like Mailman does, or the RFC 3834 Auto-Submitted header
func isAutoResponse(msg *email.Message) bool {
	precedence := strings.ToLower(strings.TrimSpace(msg.Get("Precedence")))
	switch precedence {
	case "bulk", "junk", "list":
		return true
	}
	autoSubmitted := strings.ToLower(strings.TrimSpace(msg.Get("Auto-Submitted")))
	return strings.HasPrefix(autoSubmitted, "auto")
}

// describe identifies a message in the log
func describe(msg *email.Message) string {
	info := []string{"Message"}
	for _, key := range []string{email.HeaderFrom, email.HeaderTo, email.HeaderSubject, email.HeaderMessageID} {
		if msg.Has(key) {
			info = append(info, key+": "+msg.Get(key))
		}
	}
	return strings.Join(info, " ")
}
