package catalogue

import (
	"sort"

	"gitlab.com/NebulousLabs/encoding"

	datamanager "github.com/skecskes/data-manager"
)

// Stats summarizes record counts per state, surfaced on the debug HTTP API.
type Stats struct {
	Downloading   int
	Ready         int
	PendingDelete int
}

// Stats returns a snapshot of per-state record counts.
func (c *Catalogue) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var s Stats
	for _, rec := range c.byID {
		switch rec.State {
		case Downloading:
			s.Downloading++
		case Ready:
			s.Ready++
		case PendingDelete:
			s.PendingDelete++
		}
	}
	return s
}

// snapshotEntry is the deterministic, encoding-friendly projection of a
// ChunkRecord used by Snapshot.
type snapshotEntry struct {
	ID            datamanager.ChunkId
	DatasetID     datamanager.DatasetId
	State         uint8
	Lo, Hi        uint64
	CanonicalPath string
}

// Snapshot returns a deterministic binary encoding of every record in the
// catalogue, sorted by ChunkId, for diagnostics and for comparing two
// catalogues structurally, e.g. across a restart.
// Pin counts are intentionally excluded: they are run-scoped, not part of
// what "the same durable state" means across a restart.
func (c *Catalogue) Snapshot() []byte {
	c.mu.RLock()
	entries := make([]snapshotEntry, 0, len(c.byID))
	for id, rec := range c.byID {
		entries = append(entries, snapshotEntry{
			ID:            id,
			DatasetID:     rec.DatasetID,
			State:         uint8(rec.State),
			Lo:            rec.Lo,
			Hi:            rec.Hi,
			CanonicalPath: rec.CanonicalPath,
		})
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].ID[:]) < string(entries[j].ID[:])
	})
	args := make([]interface{}, len(entries))
	for i := range entries {
		args[i] = entries[i]
	}
	return encoding.MarshalAll(args...)
}
