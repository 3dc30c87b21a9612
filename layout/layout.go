// Package layout implements the on-disk conventions for a worker's chunk
// root: the staging/canonical/tombstone path scheme and the atomic
// transitions between them. See spec §4.1.
package layout

import (
	"os"
	"path/filepath"
	"strconv"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/fastrand"

	datamanager "github.com/skecskes/data-manager"
	"github.com/skecskes/data-manager/internal/persist"
)

const (
	stagingDirName = ".staging"
	trashDirName   = ".trash"
	purgeWalName   = ".trash-wal"
)

// Layout owns the chunk root directory and the durable purge queue that
// tracks tombstones awaiting recursive removal.
type Layout struct {
	root string
	log  *persist.Logger
	pq   *purgeQueue
}

// New opens (creating if absent) the chunk root at root, replays any
// purge-queue entries left over from a previous crash, and returns a ready
// Layout. Staging and trash directories are created but left for
// PurgeStagingAndTrash to empty — New itself performs no unconditional purge so that it composes
// cleanly with tests that want to inspect leftover state before Scan runs.
func New(root string, log *persist.Logger) (*Layout, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, errors.AddContext(err, "could not create chunk root")
	}
	if err := os.MkdirAll(filepath.Join(root, stagingDirName), 0700); err != nil {
		return nil, errors.AddContext(err, "could not create staging dir")
	}
	if err := os.MkdirAll(filepath.Join(root, trashDirName), 0700); err != nil {
		return nil, errors.AddContext(err, "could not create trash dir")
	}
	pq, err := openPurgeQueue(filepath.Join(root, purgeWalName))
	if err != nil {
		return nil, errors.AddContext(err, "could not open purge queue")
	}
	l := &Layout{root: root, log: log, pq: pq}
	if err := l.pq.replay(l.purgePath); err != nil {
		return nil, errors.AddContext(err, "could not replay purge queue")
	}
	return l, nil
}

// Close releases the purge queue's WAL.
func (l *Layout) Close() error {
	return l.pq.close()
}

// StagingPath returns the transient directory a download accumulates in.
func (l *Layout) StagingPath(id datamanager.ChunkId) string {
	return filepath.Join(l.root, stagingDirName, id.String())
}

// CanonicalPath returns the path a chunk is Ready at.
func (l *Layout) CanonicalPath(datasetID datamanager.DatasetId, lo, hi uint64, id datamanager.ChunkId) string {
	dirName := strconv.FormatUint(lo, 10) + "-" + strconv.FormatUint(hi, 10) + "-" + id.String()
	return filepath.Join(l.root, datasetID.String(), dirName)
}

// trashPath returns a fresh, collision-free tombstone path for id.
func (l *Layout) trashPath(id datamanager.ChunkId) string {
	nonce := strconv.FormatUint(fastrand.Uint64n(1<<62), 10)
	return filepath.Join(l.root, trashDirName, id.String()+"-"+nonce)
}

// PrepareStaging creates (or wipes and recreates) the staging directory for
// id. Staging is never authoritative, so a pre-existing directory — left
// over from a superseded or crashed download — is simply discarded.
func (l *Layout) PrepareStaging(id datamanager.ChunkId) (string, error) {
	path := l.StagingPath(id)
	if err := os.RemoveAll(path); err != nil {
		return "", errors.AddContext(err, "could not clear stale staging directory")
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return "", errors.AddContext(err, "could not create staging directory")
	}
	return path, nil
}

// Commit atomically renames the staging directory for chunk into its
// canonical path. Parent directories are created first; the rename itself
// is the single filesystem operation that makes the chunk Ready. If the
// process dies before the rename, the canonical path never exists and
// recovery treats the chunk as absent.
func (l *Layout) Commit(chunk datamanager.DataChunk) (string, error) {
	stagingPath := l.StagingPath(chunk.ID)
	canonicalPath := l.CanonicalPath(chunk.DatasetID, chunk.Lo, chunk.Hi, chunk.ID)
	if err := os.MkdirAll(filepath.Dir(canonicalPath), 0700); err != nil {
		return "", errors.AddContext(err, "could not create dataset directory")
	}
	if err := os.Rename(stagingPath, canonicalPath); err != nil {
		return "", errors.AddContext(err, "could not commit chunk to canonical path")
	}
	return canonicalPath, nil
}

// AbandonStaging discards the staging directory for id after a download
// fails or is cancelled. Staging is never authoritative, so this is a plain
// best-effort removal rather than a durable transition.
func (l *Layout) AbandonStaging(id datamanager.ChunkId) error {
	if err := os.RemoveAll(l.StagingPath(id)); err != nil {
		return errors.AddContext(err, "could not abandon staging directory")
	}
	return nil
}

// Entomb atomically renames a chunk's canonical directory out of the way of
// new queries and durably records the tombstone in the purge queue so that
// a crash before Purge runs does not leak the directory. After Entomb
// returns, the chunk is invisible to Scan and to new queries.
func (l *Layout) Entomb(canonicalPath string, id datamanager.ChunkId) (string, error) {
	tombstonePath := l.trashPath(id)
	if err := os.Rename(canonicalPath, tombstonePath); err != nil {
		return "", errors.AddContext(err, "could not entomb chunk")
	}
	if err := l.pq.enqueue(tombstonePath); err != nil {
		// The rename already succeeded; losing the durable record only
		// costs us resume-after-crash, not correctness within this run, so
		// we log and continue rather than trying to undo the rename.
		l.log.Println("WARN: could not durably record pending purge for", tombstonePath, err)
	}
	return tombstonePath, nil
}

// Purge recursively removes a tombstoned directory. It is best-effort and
// is retried once on a transient error before being abandoned (per the
// FilesystemError policy in spec §7). On failure the tombstone's
// purge-queue record is kept, so the next New replays the removal.
func (l *Layout) Purge(tombstonePath string) error {
	err := l.purgePath(tombstonePath)
	if err != nil {
		err = l.purgePath(tombstonePath)
	}
	if err != nil {
		return errors.AddContext(err, "could not purge tombstoned directory")
	}
	l.pq.release(tombstonePath)
	return nil
}

func (l *Layout) purgePath(path string) error {
	return os.RemoveAll(path)
}

// PurgeStagingAndTrash unconditionally removes every entry under .staging
// and .trash: both represent interrupted work from before the current
// process started and carry no state worth preserving.
func (l *Layout) PurgeStagingAndTrash() error {
	for _, dir := range []string{stagingDirName, trashDirName} {
		entries, err := os.ReadDir(filepath.Join(l.root, dir))
		if err != nil {
			return errors.AddContext(err, "could not list "+dir)
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(l.root, dir, entry.Name())); err != nil {
				return errors.AddContext(err, "could not remove leftover "+dir+" entry")
			}
		}
	}
	l.pq.forget()
	return nil
}

// Root returns the chunk root directory.
func (l *Layout) Root() string { return l.root }
