package router

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/metrics"
	"github.com/creativeprojects/postoffice/queue"
	"github.com/creativeprojects/postoffice/source"
	"github.com/creativeprojects/postoffice/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportEndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("maildir is not supported on Windows")
	}
	router := newTestRouter(t, newTestConfig(t, twoQueues))

	inbox, err := source.NewMaildir(filepath.Join(t.TempDir(), "Maildir"))
	require.NoError(t, err)
	inbox.SetClock(func() time.Time { return testDate })
	deliveries := []struct {
		key string
		to  string
	}{
		{"1.one", "dummy@exampleA.com"},
		{"2.two", "dummy@foo.exampleA.com"},
		{"3.three", "dummy@exampleB.com"},
		{"4.four", "dummy@foo.exampleb.com"},
	}
	for _, delivery := range deliveries {
		name := strings.Split(delivery.key, ".")[1]
		raw := rawMessage(delivery.to, "Message "+name, "<"+name+"@example.com>")
		require.NoError(t, os.WriteFile(filepath.Join(inbox.Root(), "new", delivery.key), raw, 0600))
	}

	log := &lib.RecordingLogger{}
	processed, err := router.ImportMessages(inbox, log)
	require.NoError(t, err)
	assert.Equal(t, 4, processed)
	assert.Empty(t, log.Warnings)
	require.Len(t, log.Infos, 5)
	assert.Equal(t, "Message discarded, no matching queues: Message From: Woody Woodpecker <woody@example.com> "+
		"To: dummy@foo.exampleA.com Subject: Message two Message-Id: <two@example.com>", log.Infos[1])
	assert.Equal(t, "Processed 4 messages.", log.Infos[4])

	queueA := popAll(t, router, "A")
	require.Len(t, queueA, 1)
	assert.Equal(t, "<one@example.com>", queueA[0].MessageID())
	assert.Equal(t, "1273632120", queueA[0].Get(queue.HeaderDate))
	assert.False(t, queueA[0].Has(queue.HeaderRejected))

	queueB := popAll(t, router, "B")
	require.Len(t, queueB, 2)
	assert.Equal(t, "<three@example.com>", queueB[0].MessageID())
	assert.Equal(t, "<four@example.com>", queueB[1].MessageID())

	// everything was archived, even the discarded message
	items, err := inbox.Messages()
	require.NoError(t, err)
	assert.Empty(t, items)
	archived, err := os.ReadDir(filepath.Join(inbox.Root(), ".2010.05.12", "cur"))
	require.NoError(t, err)
	assert.Len(t, archived, 4)
}

func TestImportNothing(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, twoQueues))
	log := &lib.RecordingLogger{}
	processed, err := router.ImportMessages(&memoryInbox{}, log)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, []string{"Processed 0 messages."}, log.Infos)
}

func TestImportOneMessage(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, twoQueues))
	inbox := &memoryInbox{}
	inbox.add("1", rawMessage("dummy@exampleA.com", "one", "<one@example.com>"))

	log := &lib.RecordingLogger{}
	_, err := router.ImportMessages(inbox, log)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Message added to queue, A: Message From: Woody Woodpecker <woody@example.com> To: dummy@exampleA.com Subject: one Message-Id: <one@example.com>",
		"Processed one message.",
	}, log.Infos)
	assert.Equal(t, []string{"1"}, inbox.archived)
}

func TestImportBulkIsTagged(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, twoQueues))
	inbox := &memoryInbox{}
	inbox.add("1", rawMessage("dummy@exampleA.com", "bulk", "<bulk@example.com>", "Precedence: bulk"))
	inbox.add("2", rawMessage("dummy@exampleA.com", "auto", "<auto@example.com>", "Auto-Submitted: auto-replied"))
	inbox.add("3", rawMessage("dummy@exampleA.com", "human", "<human@example.com>", "Auto-Submitted: no"))

	log := &lib.RecordingLogger{}
	_, err := router.ImportMessages(inbox, log)
	require.NoError(t, err)
	assert.Len(t, log.Infos, 4)

	messages := popAll(t, router, "A")
	require.Len(t, messages, 3)
	assert.Equal(t, RejectedAutoResponse, messages[0].Get(queue.HeaderRejected))
	assert.Equal(t, RejectedAutoResponse, messages[1].Get(queue.HeaderRejected))
	assert.False(t, messages[2].Has(queue.HeaderRejected))
}

func TestImportOversize(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, "  max_message_size: 1k\n"+twoQueues))
	raw := rawMessage("dummy@exampleA.com", "big", "<big@example.com>", "Content-Type: text/plain")
	raw = append(raw, bytes.Repeat([]byte("0123456789\r\n"), 200)...)
	inbox := &memoryInbox{}
	inbox.add("1", raw)
	inbox.add("2", rawMessage("dummy@exampleA.com", "small", "<small@example.com>"))

	log := &lib.RecordingLogger{}
	_, err := router.ImportMessages(inbox, log)
	require.NoError(t, err)
	assert.Len(t, log.Infos, 3)

	messages := popAll(t, router, "A")
	require.Len(t, messages, 2)
	assert.Equal(t, RejectedOversize, messages[0].Get(queue.HeaderRejected))
	assert.Equal(t, "big", messages[0].Subject())
	assert.Equal(t, BodyDiscarded+"\r\n", string(messages[0].Body()))
	assert.False(t, messages[1].Has(queue.HeaderRejected))
	assert.Equal(t, "Hello!\r\n", string(messages[1].Body()))
}

func TestImportDuplicate(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, twoQueues))
	inbox := &memoryInbox{}
	inbox.add("1", rawMessage("dummy@exampleA.com", "first", "<same@example.com>"))
	inbox.add("2", rawMessage("dummy@exampleA.com", "second", "<same@example.com>"))
	// duplicates are per queue
	inbox.add("3", rawMessage("dummy@exampleB.com", "third", "<same@example.com>"))

	log := &lib.RecordingLogger{}
	_, err := router.ImportMessages(inbox, log)
	require.NoError(t, err)
	require.Len(t, log.Infos, 4)
	assert.True(t, strings.HasPrefix(log.Infos[1], "Message discarded, duplicate Message-Id in queue A:"))

	assert.Equal(t, 1, queueLen(t, router, "A"))
	assert.Equal(t, 1, queueLen(t, router, "B"))
	assert.Len(t, inbox.archived, 3)
}

func TestImportDiscardsMalformed(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, twoQueues))
	inbox := &memoryInbox{}
	inbox.add("1", []byte("To: dummy@exampleA.com\r\nMessage-Id: <1@example.com>\r\n\r\nNo sender\r\n"))
	inbox.add("2", []byte("From: dummy@exampleA.com\r\nTo: dummy@exampleA.com\r\nMessage-Id: <2@example.com>\r\n\r\nMyself\r\n"))
	inbox.add("3", rawMessage("dummy@exampleA.com", "no id", ""))
	inbox.add("4", rawMessage("dummy@exampleA.com", "bounce", "<4@example.com>", "X-Postoffice: Bounced"))
	inbox.add("5", []byte("this is not\r\nan email\r\n"))

	log := &lib.RecordingLogger{}
	processed, err := router.ImportMessages(inbox, log)
	require.NoError(t, err)
	assert.Equal(t, 5, processed)
	require.Len(t, log.Infos, 5)
	assert.True(t, strings.HasPrefix(log.Infos[0], "Message discarded, missing From header: Message To: dummy@exampleA.com"))
	assert.True(t, strings.HasPrefix(log.Infos[1], "Message discarded, From and To are the same:"))
	assert.True(t, strings.HasPrefix(log.Infos[2], "Message discarded, missing Message-Id header:"))
	assert.True(t, strings.HasPrefix(log.Infos[3], "Message discarded, bounce sent by the post office:"))
	assert.Equal(t, "Processed 5 messages.", log.Infos[4])
	require.Len(t, log.Warnings, 1)
	assert.True(t, strings.HasPrefix(log.Warnings[0], "Message discarded, cannot parse message 5:"))

	assert.Equal(t, 0, queueLen(t, router, "A"))
	assert.Len(t, inbox.archived, 5)
}

func TestImportRejectFilter(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, "  reject_filters: [\"header_regexp: From:.+woody\"]\n"+twoQueues))
	inbox := &memoryInbox{}
	inbox.add("1", rawMessage("dummy@exampleA.com", "rejected", "<1@example.com>"))

	log := &lib.RecordingLogger{}
	_, err := router.ImportMessages(inbox, log)
	require.NoError(t, err)
	require.Len(t, log.Infos, 2)
	assert.Equal(t, `Message discarded, header_regexp: headers match "From:.+woody": `+
		"Message From: Woody Woodpecker <woody@example.com> To: dummy@exampleA.com Subject: rejected Message-Id: <1@example.com>", log.Infos[0])
	assert.Equal(t, 0, queueLen(t, router, "A"))
}

func TestImportFirstMatchWins(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, `
queues:
  - name: empty
  - name: first
    filters: ["to_hostname: example.com", "header_regexp: Subject: urgent"]
  - name: second
    filters: ["to_hostname: example.com"]
  - name: third
    filters: ["to_hostname: example.com"]
`))
	inbox := &memoryInbox{}
	inbox.add("1", rawMessage("dummy@example.com", "urgent", "<1@example.com>"))
	inbox.add("2", rawMessage("dummy@example.com", "later", "<2@example.com>"))

	_, err := router.ImportMessages(inbox, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, queueLen(t, router, "empty"))
	assert.Equal(t, 1, queueLen(t, router, "first"))
	assert.Equal(t, 1, queueLen(t, router, "second"))
	assert.Equal(t, 0, queueLen(t, router, "third"))
}

func TestImportStripsRoutingHeaders(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, twoQueues))
	inbox := &memoryInbox{}
	inbox.add("1", rawMessage("dummy@exampleA.com", "forged", "<1@example.com>",
		"X-Postoffice-Rejected: nothing",
		"X-Postoffice-Quarantine-Id: 12",
		"X-Postoffice-Date: 0",
	))
	_, err := router.ImportMessages(inbox, nil)
	require.NoError(t, err)

	messages := popAll(t, router, "A")
	require.Len(t, messages, 1)
	assert.False(t, messages[0].Has(queue.HeaderRejected))
	assert.False(t, messages[0].Has(queue.HeaderQuarantineID))
	assert.Equal(t, "1273632120", messages[0].Get(queue.HeaderDate))
}

func TestImportThrottle(t *testing.T) {
	clock := &testClock{now: testDate}
	router := newTestRouter(t, newTestConfig(t, "  ooo_loop_frequency: 1\n"+twoQueues), WithClock(clock.Now))
	dates := []string{
		"Wed, 12 May 2010 02:42:00 +0000",
		"Wed, 12 May 2010 02:42:10 +0000",
		"Wed, 12 May 2010 02:42:20 +0000",
		"Wed, 12 May 2010 02:52:20 +0000",
	}
	inbox := &memoryInbox{}
	for i, date := range dates[:3] {
		inbox.add(string(rune('a'+i)), ooMessage(i, date))
	}
	log := &lib.RecordingLogger{}
	_, err := router.ImportMessages(inbox, log)
	require.NoError(t, err)
	assert.Len(t, log.Infos, 4)

	// next run, once the throttle has expired
	clock.now = testDate.Add(10*time.Minute + 20*time.Second)
	inbox.add("d", ooMessage(3, dates[3]))
	_, err = router.ImportMessages(inbox, log)
	require.NoError(t, err)

	messages := popAll(t, router, "A")
	require.Len(t, messages, 4)
	assert.False(t, messages[0].Has(queue.HeaderRejected))
	// 6 messages per minute
	assert.Equal(t, RejectedThrottled, messages[1].Get(queue.HeaderRejected))
	// the sender is throttled for 5 minutes
	assert.Equal(t, RejectedThrottled, messages[2].Get(queue.HeaderRejected))
	// throttle expired and the previous messages are out of the window
	assert.False(t, messages[3].Has(queue.HeaderRejected))
}

func TestImportThrottleIgnoresMessageDate(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, "  ooo_loop_frequency: 1\n"+twoQueues))
	inbox := &memoryInbox{}
	inbox.add("a", ooMessage(0, "Wed, 12 May 2010 02:42:00 +0000"))
	inbox.add("b", ooMessage(1, "Wed, 12 May 2010 02:42:10 +0000"))
	// dated a day later: the throttle set with the clock of the post office still applies
	inbox.add("c", ooMessage(2, "Thu, 13 May 2010 02:42:00 +0000"))
	_, err := router.ImportMessages(inbox, nil)
	require.NoError(t, err)

	messages := popAll(t, router, "A")
	require.Len(t, messages, 3)
	assert.Equal(t, RejectedThrottled, messages[1].Get(queue.HeaderRejected))
	assert.Equal(t, RejectedThrottled, messages[2].Get(queue.HeaderRejected))
}

func TestImportAutoResponseArmsThrottle(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, "  ooo_loop_frequency: 1\n"+twoQueues))
	inbox := &memoryInbox{}
	inbox.add("a", ooMessage(0, "Wed, 12 May 2010 02:42:00 +0000", "Precedence: bulk"))
	inbox.add("b", ooMessage(1, "Wed, 12 May 2010 02:42:10 +0000", "Precedence: bulk"))
	// slow enough to pass the frequency checks on its own
	inbox.add("c", ooMessage(2, "Wed, 12 May 2010 02:46:00 +0000"))
	_, err := router.ImportMessages(inbox, nil)
	require.NoError(t, err)

	messages := popAll(t, router, "A")
	require.Len(t, messages, 3)
	assert.Equal(t, RejectedAutoResponse, messages[0].Get(queue.HeaderRejected))
	assert.Equal(t, RejectedAutoResponse, messages[1].Get(queue.HeaderRejected))
	assert.Equal(t, RejectedThrottled, messages[2].Get(queue.HeaderRejected))
}

func TestImportKeepsCacheBounded(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, twoQueues))
	inbox := &memoryInbox{}
	total := store.DefaultCacheSize + 20
	for i := 0; i < total; i++ {
		key := fmt.Sprintf("%04d", i)
		inbox.add(key, rawMessage("dummy@exampleA.com", "Message "+key, "<"+key+"@example.com>"))
	}
	processed, err := router.ImportMessages(inbox, nil)
	require.NoError(t, err)
	assert.Equal(t, total, processed)
	// nothing was loaded back from the store
	assert.Equal(t, 0, router.db.CacheSize())

	assert.Len(t, popAll(t, router, "A"), total)
	assert.LessOrEqual(t, router.db.CacheSize(), store.DefaultCacheSize)
}

// ooMessage is the out of office reply number i
func ooMessage(i int, date string, extra ...string) []byte {
	id := string(rune('a' + i))
	raw := rawMessage("dummy@exampleA.com", "ooo", "<"+id+"@example.com>", extra...)
	return bytes.Replace(raw, []byte("Wed, 12 May 2010 02:42:00 +0000"), []byte(date), 1)
}

func TestImportThrottleDisabled(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, twoQueues))
	inbox := &memoryInbox{}
	inbox.add("1", rawMessage("dummy@exampleA.com", "ooo", "<1@example.com>"))
	inbox.add("2", rawMessage("dummy@exampleA.com", "ooo", "<2@example.com>"))
	_, err := router.ImportMessages(inbox, nil)
	require.NoError(t, err)

	messages := popAll(t, router, "A")
	require.Len(t, messages, 2)
	assert.False(t, messages[1].Has(queue.HeaderRejected))
}

func TestImportThrottleByDiscriminator(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, "  ooo_loop_frequency: 1\n  ooo_loop_headers: [X-List]\n"+twoQueues))
	inbox := &memoryInbox{}
	inbox.add("1", rawMessage("dummy@exampleA.com", "ooo", "<1@example.com>", "X-List: one"))
	inbox.add("2", rawMessage("dummy@exampleA.com", "ooo", "<2@example.com>", "X-List: two"))
	inbox.add("3", rawMessage("dummy@exampleA.com", "ooo", "<3@example.com>", "X-List: one"))
	_, err := router.ImportMessages(inbox, nil)
	require.NoError(t, err)

	messages := popAll(t, router, "A")
	require.Len(t, messages, 3)
	assert.False(t, messages[0].Has(queue.HeaderRejected))
	assert.False(t, messages[1].Has(queue.HeaderRejected))
	assert.Equal(t, RejectedThrottled, messages[2].Get(queue.HeaderRejected))
}

func TestImportMetrics(t *testing.T) {
	m := metrics.New()
	router := newTestRouter(t, newTestConfig(t, twoQueues), WithMetrics(m))
	inbox := &memoryInbox{}
	inbox.add("1", rawMessage("dummy@exampleA.com", "one", "<1@example.com>"))
	inbox.add("2", rawMessage("dummy@exampleA.com", "one", "<1@example.com>"))
	inbox.add("3", rawMessage("dummy@nowhere.com", "none", "<3@example.com>"))
	_, err := router.ImportMessages(inbox, nil)
	require.NoError(t, err)
	require.NoError(t, router.UpdateMetrics())

	filename := filepath.Join(t.TempDir(), "postoffice.prom")
	require.NoError(t, m.WriteFile(filename))
	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(content), `postoffice_messages_total{outcome="queued"} 1`)
	assert.Contains(t, string(content), `postoffice_messages_total{outcome="duplicate"} 1`)
	assert.Contains(t, string(content), `postoffice_messages_total{outcome="not_matched"} 1`)
	assert.Contains(t, string(content), `postoffice_queue_messages{queue="A"} 1`)
	assert.Contains(t, string(content), `postoffice_queue_messages{queue="B"} 0`)
}

type failingInbox struct {
	memoryInbox
}

func (b *failingInbox) Archive(item source.Item) error {
	return lib.ErrInvalidArgument
}

func TestImportStopsOnArchiveError(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, twoQueues))
	inbox := &failingInbox{}
	inbox.add("1", rawMessage("dummy@exampleA.com", "one", "<1@example.com>"))
	inbox.add("2", rawMessage("dummy@exampleA.com", "two", "<2@example.com>"))
	log := &lib.RecordingLogger{}
	processed, err := router.ImportMessages(inbox, log)
	assert.ErrorIs(t, err, lib.ErrInvalidArgument)
	assert.Equal(t, 0, processed)
	assert.Len(t, log.Infos, 1)
}
