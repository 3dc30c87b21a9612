package manager

import (
	"sync"
	"sync/atomic"

	datamanager "github.com/skecskes/data-manager"
)

// DataChunkRef is a handle on a Ready chunk returned by FindChunk. It keeps
// the chunk pinned — ineligible for entombment even if DeleteChunk is
// called concurrently — until every clone of the handle has been released.
// A DataChunkRef must not be used after Release.
type DataChunkRef struct {
	m    *Manager
	id   datamanager.ChunkId
	path string

	shared *refCount
}

// refCount is the single underlying Catalogue pin a Find() call creates,
// shared by DataChunkRef and every clone made from it via Clone.
type refCount struct {
	mu   sync.Mutex
	n    int32
	done bool
}

// FindChunk resolves which Ready chunk, if any, covers block within
// dataset, and returns a pinned reference to it. The chunk cannot be
// entombed while the returned DataChunkRef (or any of its clones) remains
// unreleased, per spec §4.4's overlap and pin semantics.
func (m *Manager) FindChunk(datasetID datamanager.DatasetId, block uint64) (*DataChunkRef, bool) {
	id, path, ok := m.cat.Find(datasetID, block)
	if !ok {
		return nil, false
	}
	return &DataChunkRef{
		m:      m,
		id:     id,
		path:   path,
		shared: &refCount{n: 1},
	}, true
}

// ID returns the chunk id this reference pins.
func (r *DataChunkRef) ID() datamanager.ChunkId { return r.id }

// Path returns the canonical directory the chunk's files live under. The
// returned path remains valid for as long as this reference (or any of its
// clones) is unreleased.
func (r *DataChunkRef) Path() string { return r.path }

// Clone returns a second independent handle on the same pin. Both the
// original and the clone must be released before the underlying Catalogue
// pin drops; Release is only propagated to the Catalogue once every clone
// has called it.
func (r *DataChunkRef) Clone() *DataChunkRef {
	atomic.AddInt32(&r.shared.n, 1)
	return &DataChunkRef{m: r.m, id: r.id, path: r.path, shared: r.shared}
}

// Release drops this handle's share of the underlying pin. Once the last
// outstanding clone releases, the Catalogue's pin count is decremented; if
// the chunk was meanwhile marked PendingDelete, that final release is what
// triggers entombment.
func (r *DataChunkRef) Release() {
	r.shared.mu.Lock()
	if r.shared.done {
		r.shared.mu.Unlock()
		return
	}
	remaining := atomic.AddInt32(&r.shared.n, -1)
	if remaining > 0 {
		r.shared.mu.Unlock()
		return
	}
	r.shared.done = true
	r.shared.mu.Unlock()

	canonicalPath, shouldPurge := r.m.cat.Unpin(r.id)
	if shouldPurge {
		r.m.entombAndPurge(r.id, canonicalPath)
	}
}
