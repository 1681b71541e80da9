package router

import (
	"github.com/creativeprojects/postoffice/lib"
	"github.com/creativeprojects/postoffice/store"
)

// ReconcileQueues creates the configured queues missing from the store and
// removes the empty ones no longer configured. A queue removed from the
// configuration that still holds messages is kept, with a warning.
func (r *Router) ReconcileQueues(log lib.LevelLogger) error {
	if log == nil {
		log = &lib.NoLog{}
	}
	return r.db.WithTransaction(func(tx *store.Tx) error {
		folder, err := r.openFolder(tx)
		if err != nil {
			return err
		}
		for _, name := range r.config.QueueNames() {
			if folder.Has(name) {
				continue
			}
			if _, err = folder.Create(name); err != nil {
				return err
			}
			log.Infof("Created new postoffice queue: %s", name)
		}
		for _, name := range folder.Names() {
			if r.config.Queue(name) != nil {
				continue
			}
			q, err := folder.Get(name)
			if err != nil {
				return err
			}
			if q.Len() > 0 || q.CountQuarantined() > 0 {
				log.Warnf("Queue removed from configuration still has messages: %s", name)
				continue
			}
			if err = folder.Delete(name); err != nil {
				return err
			}
			log.Infof("Removed old postoffice queue: %s", name)
		}
		return nil
	})
}
