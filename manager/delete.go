package manager

import (
	datamanager "github.com/skecskes/data-manager"
	"github.com/skecskes/data-manager/catalogue"
)

// DeleteChunk requests removal of chunk from local storage. Per spec
// §4.5's supersession table: an in-flight download is cancelled instead of
// completing; an unpinned Ready chunk is entombed and purged immediately;
// a pinned Ready chunk is marked PendingDelete and entombed only once its
// last pin is released via DataChunkRef.Release. Unknown or already
// PendingDelete ids are a silent no-op — delete_chunk is idempotent.
func (m *Manager) DeleteChunk(id datamanager.ChunkId) {
	decision := m.cat.BeginDelete(id)
	switch decision.Action {
	case catalogue.NoOp, catalogue.Deferred:
		if decision.Action == catalogue.Deferred {
			m.log.Println("chunk", id, "marked pending-delete, awaiting release of outstanding pins")
		}
		return
	case catalogue.CancelTask:
		m.exec.Cancel(id)
	case catalogue.EntombNow:
		m.entombAndPurge(id, decision.CanonicalPath)
	}
}

// entombAndPurge renames canonicalPath into the tombstone directory and runs
// its recursive removal on a separate goroutine tracked by the Manager's own
// threadgroup (not the executor); Layout.Purge retries the removal once if
// it hits a filesystem error.
func (m *Manager) entombAndPurge(id datamanager.ChunkId, canonicalPath string) {
	tombstonePath, err := m.layout.Entomb(canonicalPath, id)
	if err != nil {
		m.log.Println("ERROR: could not entomb chunk", id, err)
		return
	}
	if err := m.tg.Add(); err != nil {
		// Manager is shutting down; the tombstone is still durably recorded
		// in the purge queue and will be swept on the next restart.
		return
	}
	go func() {
		defer m.tg.Done()
		if err := m.layout.Purge(tombstonePath); err != nil {
			m.log.Println("WARN: purge of", tombstonePath, "failed, will retry on next restart's sweep:", err)
		}
	}()
}
