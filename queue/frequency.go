package queue

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/creativeprojects/postoffice/email"
	"github.com/creativeprojects/postoffice/store"
)

// Discriminator scopes the frequency of a sender to the messages carrying the
// same values for a set of headers. An empty Discriminator matches everything.
type Discriminator map[string]string

// NewDiscriminator takes a snapshot of the named headers of msg
func NewDiscriminator(msg *email.Message, headerNames []string) Discriminator {
	discriminator := make(Discriminator, len(headerNames))
	for _, name := range headerNames {
		discriminator[name] = msg.Get(name)
	}
	return discriminator
}

// Key is the sorted list of name=value pairs, empty for an empty Discriminator
func (d Discriminator) Key() string {
	if len(d) == 0 {
		return ""
	}
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = name + "=" + strconv.Quote(d[name])
	}
	return strings.Join(pairs, ",")
}

// Matches returns true when the headers snapshot holds every value of the Discriminator
func (d Discriminator) Matches(headers map[string]string) bool {
	for name, value := range d {
		if headers[name] != value {
			return false
		}
	}
	return true
}

type Sample struct {
	Date    time.Time
	Headers map[string]string
}

// FrequencyRecord is the submission history of a sender, in the order the messages
// were received, with the throttle expiry per discriminator key
type FrequencyRecord struct {
	Samples   []Sample
	Throttles map[string]time.Time
}

// CollectFrequencyData records a submission of the sender of msg, dated from its
// Date header (or now when missing or invalid), with a snapshot of headerNames
func (q *Queue) CollectFrequencyData(msg *email.Message, headerNames []string) error {
	sender := msg.From()
	if sender == "" {
		return nil
	}
	record, err := q.frequencyRecord(sender)
	if err != nil {
		return err
	}
	record.Samples = append(record.Samples, Sample{
		Date:    msg.DateOrNow(q.now()),
		Headers: NewDiscriminator(msg, headerNames),
	})
	return q.saveFrequencyRecord(sender, record)
}

// InstantaneousFrequency returns the rate in messages per minute derived from
// the time elapsed since the last matching submission at or before now.
// It is 0 without any submission and +Inf for a submission at exactly now.
func (q *Queue) InstantaneousFrequency(sender string, now time.Time, discriminator Discriminator) (float64, error) {
	record, err := q.frequencyRecord(sender)
	if err != nil {
		return 0, err
	}
	// samples are dated from their message, so they may be out of order
	var last time.Time
	found := false
	for _, sample := range record.Samples {
		if sample.Date.After(now) || !discriminator.Matches(sample.Headers) {
			continue
		}
		if !found || sample.Date.After(last) {
			last = sample.Date
			found = true
		}
	}
	if !found {
		return 0, nil
	}
	elapsed := now.Sub(last).Seconds()
	if elapsed == 0 {
		return math.Inf(1), nil
	}
	return 60 / elapsed, nil
}

// AverageFrequency returns the rate in messages per minute over the interval
// ending at now. Submissions at or before now-interval are deleted from the record.
func (q *Queue) AverageFrequency(sender string, now time.Time, interval time.Duration, discriminator Discriminator) (float64, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("invalid interval %s", interval)
	}
	record, err := q.frequencyRecord(sender)
	if err != nil {
		return 0, err
	}
	start := now.Add(-interval)
	kept := make([]Sample, 0, len(record.Samples))
	total := 0
	for _, sample := range record.Samples {
		if !sample.Date.After(start) {
			continue
		}
		kept = append(kept, sample)
		if sample.Date.Before(now) && discriminator.Matches(sample.Headers) {
			total++
		}
	}
	if len(kept) != len(record.Samples) {
		record.Samples = kept
		err = q.saveFrequencyRecord(sender, record)
		if err != nil {
			return 0, err
		}
	}
	return 60 * float64(total) / interval.Seconds(), nil
}

// Throttle suspends the sender, for the messages matching the discriminator, until the given time
func (q *Queue) Throttle(sender string, until time.Time, discriminator Discriminator) error {
	record, err := q.frequencyRecord(sender)
	if err != nil {
		return err
	}
	record.Throttles[discriminator.Key()] = until
	return q.saveFrequencyRecord(sender, record)
}

// IsThrottled returns true while a throttle is active at now. An expired throttle is deleted.
func (q *Queue) IsThrottled(sender string, now time.Time, discriminator Discriminator) (bool, error) {
	record, err := q.frequencyRecord(sender)
	if err != nil {
		return false, err
	}
	key := discriminator.Key()
	until, found := record.Throttles[key]
	if !found {
		return false, nil
	}
	if now.Before(until) {
		return true, nil
	}
	delete(record.Throttles, key)
	return false, q.saveFrequencyRecord(sender, record)
}

func (q *Queue) frequencyRecord(sender string) (*FrequencyRecord, error) {
	record := &FrequencyRecord{}
	if sender != "" {
		if data := q.frequency.Get([]byte(sender)); data != nil {
			var err error
			record, err = store.DeserializeObject[FrequencyRecord](data)
			if err != nil {
				return nil, fmt.Errorf("invalid frequency record for %q: %w", sender, err)
			}
		}
	}
	if record.Throttles == nil {
		record.Throttles = make(map[string]time.Time)
	}
	return record, nil
}

func (q *Queue) saveFrequencyRecord(sender string, record *FrequencyRecord) error {
	if sender == "" {
		return nil
	}
	data, err := store.SerializeObject(record)
	if err != nil {
		return err
	}
	err = q.frequency.Put([]byte(sender), data)
	if err != nil {
		return fmt.Errorf("cannot save frequency record for %q: %w", sender, err)
	}
	return nil
}
