// Package catalogue is the in-memory index of chunks a Manager currently
// knows about: by id, and by (dataset, block range) for point lookups. All
// operations run in memory under a single readers-writer lock. Point
// lookups take one binary search plus a scan over overlapping intervals;
// inserting into or removing from a dataset's range index is linear in that
// dataset's chunk count, and List and Stats visit every record. No I/O is
// ever performed while the lock is held —
// callers that need to do I/O act on the Decision/path values these
// methods return. See spec §4.4.
package catalogue

import (
	"sync"

	datamanager "github.com/skecskes/data-manager"
)

// State is the lifecycle state of a ChunkRecord.
type State int

const (
	// Downloading means a task is fetching the chunk's files into staging.
	Downloading State = iota
	// Ready means the chunk's canonical directory exists with all files.
	Ready
	// PendingDelete means a Ready chunk was asked to be deleted while
	// pinned; it stays in by_id (but not by_dataset) until the last pin
	// drops.
	PendingDelete
)

func (s State) String() string {
	switch s {
	case Downloading:
		return "downloading"
	case Ready:
		return "ready"
	case PendingDelete:
		return "pending-delete"
	default:
		return "unknown"
	}
}

// ChunkRecord is everything the Catalogue tracks about one ChunkId.
type ChunkRecord struct {
	State         State
	DatasetID     datamanager.DatasetId
	Lo, Hi        uint64
	CanonicalPath string
	Files         []string
	PinCount      int
	readySeq      uint64
}

// datasetEntry is one row of a dataset's block-range index. maxHi is the
// running maximum of hi over entries[0..i] once the entry is in place at
// index i of its slice (sorted by lo) — it lets findContaining decide in
// O(1) whether any entry at or before a given index could possibly contain
// a block, without walking them one by one. See index.go.
type datasetEntry struct {
	lo, hi uint64
	id     datamanager.ChunkId
	maxHi  uint64
}

// Catalogue is the Manager's exclusively-owned in-memory index.
type Catalogue struct {
	mu         sync.RWMutex
	byID       map[datamanager.ChunkId]*ChunkRecord
	byDataset  map[datamanager.DatasetId][]datasetEntry
	readyClock uint64
}

// New returns an empty Catalogue.
func New() *Catalogue {
	return &Catalogue{
		byID:      make(map[datamanager.ChunkId]*ChunkRecord),
		byDataset: make(map[datamanager.DatasetId][]datasetEntry),
	}
}

// ErrAlreadyPresent is returned by InsertDownloading when id is already
// known in any state.
type ErrAlreadyPresent struct{}

func (ErrAlreadyPresent) Error() string { return "chunk id is already present in the catalogue" }

// InsertDownloading records a new in-flight download. It fails if id is
// already known in any state — download_chunk treats that as an idempotent
// no-op rather than surfacing the error to its own caller.
func (c *Catalogue) InsertDownloading(id datamanager.ChunkId, datasetID datamanager.DatasetId, lo, hi uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byID[id]; exists {
		return ErrAlreadyPresent{}
	}
	c.byID[id] = &ChunkRecord{
		State:     Downloading,
		DatasetID: datasetID,
		Lo:        lo,
		Hi:        hi,
	}
	return nil
}

// RemoveDownloading deletes a Downloading record, used when a download
// fails, is cancelled, or is superseded by a delete. It is a no-op if id is
// not present or is no longer Downloading (defensive against races between
// a completing task and a concurrent caller).
func (c *Catalogue) RemoveDownloading(id datamanager.ChunkId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byID[id]
	if !ok || rec.State != Downloading {
		return
	}
	delete(c.byID, id)
}

// LoadReady directly installs a Ready record for a chunk recovered from a
// prior run by Scan, bypassing the Downloading stage — used only during
// Manager construction, before any other caller can observe the
// catalogue.
func (c *Catalogue) LoadReady(id datamanager.ChunkId, datasetID datamanager.DatasetId, lo, hi uint64, canonicalPath string, files []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readyClock++
	c.byID[id] = &ChunkRecord{
		State:         Ready,
		DatasetID:     datasetID,
		Lo:            lo,
		Hi:            hi,
		CanonicalPath: canonicalPath,
		Files:         files,
		readySeq:      c.readyClock,
	}
	c.insertDatasetEntry(datasetID, datasetEntry{lo: lo, hi: hi, id: id})
}

// MarkReady transitions a Downloading record to Ready and inserts it into
// the dataset's block-range index. Overlap policy: when the new interval
// overlaps an existing Ready interval for the same dataset, find resolves
// it (later MarkReady call wins, ties broken by lexicographically greater
// ChunkId) — both chunks remain in the catalogue and in list(), only the
// point-lookup winner changes.
func (c *Catalogue) MarkReady(id datamanager.ChunkId, canonicalPath string, files []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byID[id]
	if !ok || rec.State != Downloading {
		return
	}
	c.readyClock++
	rec.State = Ready
	rec.CanonicalPath = canonicalPath
	rec.Files = files
	rec.readySeq = c.readyClock
	c.insertDatasetEntry(rec.DatasetID, datasetEntry{lo: rec.Lo, hi: rec.Hi, id: id})
}

// Decision is the outcome of BeginDelete: what the Manager must do outside
// the catalogue lock in response to a delete_chunk call.
type Decision struct {
	Action        DeleteAction
	CanonicalPath string
}

// DeleteAction enumerates what a caller must do after BeginDelete.
type DeleteAction int

const (
	// NoOp means the id is unknown or already PendingDelete: nothing to do.
	NoOp DeleteAction = iota
	// CancelTask means a download is in flight; the caller must cancel its
	// task. The record is removed by the task's own completion path, not
	// by BeginDelete.
	CancelTask
	// EntombNow means the chunk was Ready and unpinned; it has already
	// been removed from the catalogue and the caller must entomb
	// CanonicalPath and submit a purge task.
	EntombNow
	// Deferred means the chunk was Ready but pinned; it has been marked
	// PendingDelete and removed from the dataset index, and will be
	// entombed when the last pin drops.
	Deferred
)

// BeginDelete consults id's state and applies the in-memory half of
// delete_chunk's supersession table (spec §4.5), returning what I/O (if
// any) the caller must still perform.
func (c *Catalogue) BeginDelete(id datamanager.ChunkId) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byID[id]
	if !ok || rec.State == PendingDelete {
		return Decision{Action: NoOp}
	}
	if rec.State == Downloading {
		return Decision{Action: CancelTask}
	}
	// rec.State == Ready
	c.removeDatasetEntry(rec.DatasetID, id)
	if rec.PinCount == 0 {
		delete(c.byID, id)
		return Decision{Action: EntombNow, CanonicalPath: rec.CanonicalPath}
	}
	rec.State = PendingDelete
	return Decision{Action: Deferred}
}

// Pin returns true and increments the pin count iff id is currently Ready.
func (c *Catalogue) Pin(id datamanager.ChunkId) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byID[id]
	if !ok || rec.State != Ready {
		return "", false
	}
	rec.PinCount++
	return rec.CanonicalPath, true
}

// Unpin decrements id's pin count. If it reaches zero while PendingDelete,
// the record is removed and its canonical path is returned for the caller
// to entomb and purge.
func (c *Catalogue) Unpin(id datamanager.ChunkId) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.byID[id]
	if !ok {
		return "", false
	}
	if rec.PinCount == 0 {
		return "", false
	}
	rec.PinCount--
	if rec.PinCount == 0 && rec.State == PendingDelete {
		delete(c.byID, id)
		return rec.CanonicalPath, true
	}
	return "", false
}

// List returns a snapshot of every Ready chunk id.
func (c *Catalogue) List() []datamanager.ChunkId {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]datamanager.ChunkId, 0, len(c.byID))
	for id, rec := range c.byID {
		if rec.State == Ready {
			ids = append(ids, id)
		}
	}
	return ids
}

// Find looks up the unique Ready chunk covering block in dataset, pinning
// it before returning so the caller can build a reference without a
// find-then-delete race: the pin happens inside the same lock acquisition
// that performs the lookup.
func (c *Catalogue) Find(datasetID datamanager.DatasetId, block uint64) (datamanager.ChunkId, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.byDataset[datasetID]
	winner, ok := c.findContaining(entries, block)
	if !ok {
		return datamanager.ChunkId{}, "", false
	}
	id := winner.id
	rec, ok := c.byID[id]
	if !ok || rec.State != Ready {
		return datamanager.ChunkId{}, "", false
	}
	rec.PinCount++
	return id, rec.CanonicalPath, true
}
