// Package router imports the messages waiting in an inbox into the configured queues.
package router

import (
	"errors"
	"time"

	"github.com/creativeprojects/postoffice/cfg"
	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/metrics"
	"github.com/creativeprojects/postoffice/queue"
	"github.com/creativeprojects/postoffice/store"
)

type Option func(r *Router)

// WithClock replaces time.Now during a run
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithDebugLogger receives the low level details of a run
func WithDebugLogger(logger lib.Logger) Option {
	return func(r *Router) {
		r.debug = logger
	}
}

// Router holds everything a run needs: there is no global state.
type Router struct {
	config  *cfg.Config
	db      *store.BoltStore
	metrics *metrics.Metrics
	debug   lib.Logger
	now     func() time.Time
}

func New(config *cfg.Config, db *store.BoltStore, options ...Option) *Router {
	router := &Router{
		config: config,
		db:     db,
		debug:  &lib.NoLog{},
		now:    time.Now,
	}
	for _, option := range options {
		option(router)
	}
	return router
}

// WithQueue runs fn on the named queue inside a single transaction.
// The queue cannot be used after fn returns.
func (r *Router) WithQueue(name string, fn func(q *queue.Queue) error) error {
	return r.db.WithTransaction(func(tx *store.Tx) error {
		folder, err := r.openFolder(tx)
		if err != nil {
			return err
		}
		q, err := folder.Get(name)
		if err != nil {
			return err
		}
		return fn(q)
	})
}

// ViewQueue runs fn on the named queue inside a read-only transaction
func (r *Router) ViewQueue(name string, fn func(q *queue.Queue) error) error {
	return r.db.View(func(tx *store.Tx) error {
		folder, err := r.openFolder(tx)
		if err != nil {
			return err
		}
		q, err := folder.Get(name)
		if err != nil {
			return err
		}
		return fn(q)
	})
}

// QueueStatus is a snapshot of a queue
type QueueStatus struct {
	Name        string
	Configured  bool
	Messages    int
	Quarantined int
}

// Status lists every queue in the store, configured or not
func (r *Router) Status() ([]QueueStatus, error) {
	statuses := make([]QueueStatus, 0)
	err := r.db.View(func(tx *store.Tx) error {
		folder, err := r.openFolder(tx)
		if errors.Is(err, lib.ErrFolderNotFound) {
			// nothing imported yet
			return nil
		}
		if err != nil {
			return err
		}
		for _, name := range folder.Names() {
			q, err := folder.Get(name)
			if err != nil {
				return err
			}
			statuses = append(statuses, QueueStatus{
				Name:        name,
				Configured:  r.config.Queue(name) != nil,
				Messages:    q.Len(),
				Quarantined: q.CountQuarantined(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// UpdateMetrics sets the queue gauges from the current state of the store
func (r *Router) UpdateMetrics() error {
	if r.metrics == nil {
		return nil
	}
	statuses, err := r.Status()
	if err != nil {
		return err
	}
	for _, status := range statuses {
		r.metrics.QueueSize(status.Name, status.Messages, status.Quarantined)
	}
	return nil
}

func (r *Router) openFolder(tx *store.Tx) (*queue.Folder, error) {
	return queue.OpenFolder(tx, r.config.Postoffice.Path, queue.WithClock(r.now))
}
