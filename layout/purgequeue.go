package layout

import (
	"sync"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/writeaheadlog"
)

const updateNamePendingPurge = "pendingPurge"

// purgeQueue durably records tombstone paths between Entomb and Purge so
// that a crash mid-recursive-delete resumes instead of leaking a .trash
// entry forever.
type purgeQueue struct {
	mu      sync.Mutex
	wal     *writeaheadlog.WAL
	pending map[string]*writeaheadlog.Transaction
}

func openPurgeQueue(path string) (*purgeQueue, error) {
	txns, wal, err := writeaheadlog.New(path)
	if err != nil {
		return nil, errors.AddContext(err, "could not load purge queue wal")
	}
	pq := &purgeQueue{
		wal:     wal,
		pending: make(map[string]*writeaheadlog.Transaction),
	}
	for _, txn := range txns {
		for _, u := range txn.Updates {
			if u.Name != updateNamePendingPurge {
				continue
			}
			pq.pending[string(u.Instructions)] = txn
		}
	}
	return pq, nil
}

// replay re-attempts every tombstone left outstanding by a previous,
// interrupted run, using purge to perform the actual removal.
func (pq *purgeQueue) replay(purge func(string) error) error {
	pq.mu.Lock()
	recovered := make(map[string]*writeaheadlog.Transaction, len(pq.pending))
	for path, txn := range pq.pending {
		recovered[path] = txn
	}
	pq.mu.Unlock()

	for path, txn := range recovered {
		if err := purge(path); err != nil {
			return errors.AddContext(err, "could not replay pending purge for "+path)
		}
		if err := txn.SignalUpdatesApplied(); err != nil {
			return errors.AddContext(err, "could not clear replayed purge record")
		}
		pq.mu.Lock()
		delete(pq.pending, path)
		pq.mu.Unlock()
	}
	return nil
}

// enqueue durably records that path is a tombstone awaiting purge.
func (pq *purgeQueue) enqueue(path string) error {
	update := writeaheadlog.Update{
		Name:         updateNamePendingPurge,
		Instructions: []byte(path),
	}
	txn, err := pq.wal.NewTransaction([]writeaheadlog.Update{update})
	if err != nil {
		return errors.AddContext(err, "could not create purge queue transaction")
	}
	if err := <-txn.SignalSetupComplete(); err != nil {
		return errors.AddContext(err, "could not commit purge queue transaction")
	}
	pq.mu.Lock()
	pq.pending[path] = txn
	pq.mu.Unlock()
	return nil
}

// release marks path's purge as complete, pruning it from the WAL.
func (pq *purgeQueue) release(path string) {
	pq.mu.Lock()
	txn, ok := pq.pending[path]
	delete(pq.pending, path)
	pq.mu.Unlock()
	if !ok {
		return
	}
	if err := txn.SignalUpdatesApplied(); err != nil {
		// Nothing actionable: the directory is already gone, we've merely
		// failed to prune its WAL record, which only costs a wasted replay
		// on the next restart.
		return
	}
}

// forget drops every pending record without replaying it, used when the
// caller is about to unconditionally wipe the directories the records
// point into (PurgeStagingAndTrash).
func (pq *purgeQueue) forget() {
	pq.mu.Lock()
	pending := pq.pending
	pq.pending = make(map[string]*writeaheadlog.Transaction)
	pq.mu.Unlock()
	for _, txn := range pending {
		_ = txn.SignalUpdatesApplied()
	}
}

func (pq *purgeQueue) close() error {
	return pq.wal.Close()
}
