package router

import (
	"testing"

	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoQueues = `
queues:
  - name: A
    filters: ["to_hostname: exampleA.com"]
  - name: B
    filters: ["to_hostname: .exampleB.com"]
`

func TestReconcileCreatesQueues(t *testing.T) {
	router := New(newTestConfig(t, twoQueues), newTestStore(t))
	log := &lib.RecordingLogger{}
	require.NoError(t, router.ReconcileQueues(log))
	assert.Equal(t, []string{
		"Created new postoffice queue: A",
		"Created new postoffice queue: B",
	}, log.Infos)
	assert.Empty(t, log.Warnings)

	// idempotent
	log = &lib.RecordingLogger{}
	require.NoError(t, router.ReconcileQueues(log))
	assert.Empty(t, log.Infos)
	assert.Empty(t, log.Warnings)

	statuses, err := router.Status()
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, QueueStatus{Name: "A", Configured: true}, statuses[0])
}

func TestReconcileRemovesEmptyQueue(t *testing.T) {
	db := newTestStore(t)
	router := New(newTestConfig(t, twoQueues), db)
	require.NoError(t, router.ReconcileQueues(nil))

	router = New(newTestConfig(t, "queues:\n  - name: A\n"), db)
	log := &lib.RecordingLogger{}
	require.NoError(t, router.ReconcileQueues(log))
	assert.Equal(t, []string{"Removed old postoffice queue: B"}, log.Infos)

	statuses, err := router.Status()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "A", statuses[0].Name)
}

func TestReconcileKeepsQueueWithMessages(t *testing.T) {
	db := newTestStore(t)
	router := New(newTestConfig(t, twoQueues), db)
	require.NoError(t, router.ReconcileQueues(nil))

	msg := parse(t, rawMessage("dummy@exampleB.com", "kept", "<kept@example.com>"))
	require.NoError(t, router.WithQueue("B", func(q *queue.Queue) error {
		return q.Add(msg)
	}))

	router = New(newTestConfig(t, "queues:\n  - name: A\n"), db)
	for i := 0; i < 2; i++ {
		log := &lib.RecordingLogger{}
		require.NoError(t, router.ReconcileQueues(log))
		assert.Empty(t, log.Infos)
		assert.Equal(t, []string{"Queue removed from configuration still has messages: B"}, log.Warnings)
	}

	statuses, err := router.Status()
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, QueueStatus{Name: "B", Configured: false, Messages: 1}, statuses[1])
}

func TestReconcileKeepsQueueWithQuarantine(t *testing.T) {
	db := newTestStore(t)
	router := New(newTestConfig(t, twoQueues), db)
	require.NoError(t, router.ReconcileQueues(nil))

	msg := parse(t, rawMessage("dummy@exampleB.com", "kept", "<kept@example.com>"))
	require.NoError(t, router.WithQueue("B", func(q *queue.Queue) error {
		_, err := q.Quarantine(msg, queue.ErrorContext{Error: "oops"}, nil, "")
		return err
	}))

	router = New(newTestConfig(t, "queues:\n  - name: A\n"), db)
	log := &lib.RecordingLogger{}
	require.NoError(t, router.ReconcileQueues(log))
	assert.Len(t, log.Warnings, 1)
}

func TestStatusBeforeReconcile(t *testing.T) {
	router := New(newTestConfig(t, twoQueues), newTestStore(t))
	statuses, err := router.Status()
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestWithUnknownQueue(t *testing.T) {
	router := newTestRouter(t, newTestConfig(t, twoQueues))
	err := router.WithQueue("C", func(q *queue.Queue) error {
		return nil
	})
	assert.ErrorIs(t, err, lib.ErrQueueNotFound)
}
