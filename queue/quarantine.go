package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/creativeprojects/postoffice/email"
	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/store"
)

// ErrorContext describes the failure which sent a message to the quarantine
type ErrorContext struct {
	Type   string
	Error  string
	Detail string
	Date   time.Time
}

// NewErrorContext captures err. Detail is free text, typically a stack trace or the step that failed.
func NewErrorContext(err error, detail string) ErrorContext {
	if err == nil {
		return ErrorContext{Detail: detail}
	}
	return ErrorContext{
		Type:   fmt.Sprintf("%T", err),
		Error:  err.Error(),
		Detail: detail,
	}
}

// QuarantinedMessage is an entry of the quarantine
type QuarantinedMessage struct {
	ID      uint64
	Message *email.Message
	Error   ErrorContext
}

type quarantineEntry struct {
	Message []byte
	Error   ErrorContext
}

// Quarantine stores msg with the context of the error which prevented its processing.
// The quarantine id is stamped on msg. When send is not nil a notice from noticeFrom
// is sent to the sender of the message.
func (q *Queue) Quarantine(msg *email.Message, errCtx ErrorContext, send Sender, noticeFrom string) (uint64, error) {
	if send != nil && noticeFrom == "" {
		return 0, fmt.Errorf("%w: a notice sender needs a from address", lib.ErrInvalidArgument)
	}
	id, err := nextID(q.quarantine)
	if err != nil {
		return 0, err
	}
	msg.Set(HeaderQuarantineID, strconv.FormatUint(id, 10))

	if errCtx.Date.IsZero() {
		errCtx.Date = q.now()
	}
	compressed, err := compressMessage(msg)
	if err != nil {
		return 0, err
	}
	data, err := store.SerializeObject(&quarantineEntry{
		Message: compressed,
		Error:   errCtx,
	})
	if err != nil {
		return 0, err
	}
	err = q.put(q.quarantine, quarantineBucket, id, data)
	if err != nil {
		return 0, fmt.Errorf("cannot quarantine message in queue %q: %w", q.name, err)
	}

	if send != nil {
		notice := quarantineNotice(msg, noticeFrom, q.now())
		err = send.Send(noticeFrom, []string{msg.From()}, notice)
		if err != nil {
			return 0, fmt.Errorf("cannot send quarantine notice: %w", err)
		}
	}
	return id, nil
}

// QuarantinedMessages returns all the entries of the quarantine, oldest first
func (q *Queue) QuarantinedMessages() ([]QuarantinedMessage, error) {
	messages := make([]QuarantinedMessage, 0)
	cursor := q.quarantine.Cursor()
	for key, data := cursor.First(); key != nil; key, data = cursor.Next() {
		entry, err := q.loadQuarantined(key, data)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *entry)
	}
	return messages, nil
}

// GetQuarantined returns a single entry of the quarantine
func (q *Queue) GetQuarantined(id uint64) (*QuarantinedMessage, error) {
	key := store.EncodeID(id)
	data := q.quarantine.Get(key)
	if data == nil {
		return nil, fmt.Errorf("%w: no entry %d in queue %q", lib.ErrNotQuarantined, id, q.name)
	}
	return q.loadQuarantined(key, data)
}

func (q *Queue) CountQuarantined() int {
	return count(q.quarantine)
}

// RemoveFromQuarantine deletes the quarantine entry of msg and clears its quarantine id.
// It returns lib.ErrNotQuarantined when msg has no id or the id is not in the quarantine.
func (q *Queue) RemoveFromQuarantine(msg *email.Message) error {
	value := msg.Get(HeaderQuarantineID)
	if value == "" {
		return fmt.Errorf("%w: message has no quarantine id", lib.ErrNotQuarantined)
	}
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid quarantine id %q", lib.ErrNotQuarantined, value)
	}
	key := store.EncodeID(id)
	data := q.quarantine.Get(key)
	if data == nil {
		return fmt.Errorf("%w: no entry %d in queue %q", lib.ErrNotQuarantined, id, q.name)
	}
	q.tx.ForgetMessage(q.cacheKey(quarantineBucket, id, data))
	err = q.quarantine.Delete(key)
	if err != nil {
		return fmt.Errorf("cannot remove entry %d from the quarantine of %q: %w", id, q.name, err)
	}
	msg.Del(HeaderQuarantineID)
	return nil
}

// RequeueQuarantinedMessages moves every entry of the quarantine back to the
// end of the queue, oldest first. It returns the number of messages moved.
func (q *Queue) RequeueQuarantinedMessages() (int, error) {
	entries, err := q.QuarantinedMessages()
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		err = q.RemoveFromQuarantine(entry.Message)
		if err != nil {
			return 0, err
		}
		err = q.Add(entry.Message)
		if err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

func (q *Queue) loadQuarantined(key, data []byte) (*QuarantinedMessage, error) {
	id, err := store.DecodeID(key)
	if err != nil {
		return nil, err
	}
	entry, err := store.DeserializeObject[quarantineEntry](data)
	if err != nil {
		return nil, fmt.Errorf("cannot load quarantine entry %d of queue %q: %w", id, q.name, err)
	}
	cacheKey := q.cacheKey(quarantineBucket, id, data)
	msg, found := q.tx.CachedMessage(cacheKey)
	if !found {
		msg, err = decompressMessage(entry.Message)
		if err != nil {
			return nil, fmt.Errorf("cannot load quarantine entry %d of queue %q: %w", id, q.name, err)
		}
		q.tx.CacheMessage(cacheKey, msg)
	}
	return &QuarantinedMessage{
		ID:      id,
		Message: msg.Clone(),
		Error:   entry.Error,
	}, nil
}
