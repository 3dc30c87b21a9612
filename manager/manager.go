// Package manager is the public façade a worker process embeds: it wires
// together the filesystem layout, blob source, catalogue and task executor
// into the convergence engine described in spec §4.5, and is the only
// package other components should import directly.
package manager

import (
	"os"
	"path/filepath"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/threadgroup"

	datamanager "github.com/skecskes/data-manager"
	"github.com/skecskes/data-manager/blobsource"
	"github.com/skecskes/data-manager/catalogue"
	"github.com/skecskes/data-manager/executor"
	"github.com/skecskes/data-manager/internal/persist"
	"github.com/skecskes/data-manager/layout"
)

// Manager is the per-worker convergence engine: it accepts download_chunk
// and delete_chunk commands, reconciles them asynchronously against the
// filesystem, and answers find_chunk point lookups against whatever is
// currently Ready.
type Manager struct {
	layout *layout.Layout
	source blobsource.Source
	cat    *catalogue.Catalogue
	exec   *executor.Executor
	log    *persist.Logger
	ownLog bool

	tg threadgroup.ThreadGroup
}

// New opens the chunk root at dataDir, recovers durable state by scanning
// the filesystem, and returns a running Manager. Recovery is purely
// directory-name driven (layout.Scan), per spec §6: no sidecar metadata is
// consulted or required for a chunk to come back Ready.
func New(dataDir string, opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, errors.AddContext(err, "could not create data directory")
	}

	ownLog := false
	log := o.logger
	if log == nil {
		var err error
		log, err = persist.NewLogger(filepath.Join(dataDir, "chunkmanager.log"))
		if err != nil {
			return nil, errors.AddContext(err, "could not open manager log")
		}
		ownLog = true
	}

	lay, err := layout.New(dataDir, log)
	if err != nil {
		closeIfOwned(log, ownLog)
		return nil, errors.AddContext(err, "could not open chunk layout")
	}

	if err := lay.PurgeStagingAndTrash(); err != nil {
		lay.Close()
		closeIfOwned(log, ownLog)
		return nil, errors.AddContext(err, "could not clear stale staging and trash")
	}

	cat := catalogue.New()
	descriptors, err := lay.Scan()
	if err != nil {
		lay.Close()
		closeIfOwned(log, ownLog)
		return nil, errors.AddContext(err, "could not scan chunk root")
	}
	for _, d := range descriptors {
		cat.LoadReady(d.ID, d.DatasetID, d.Lo, d.Hi, d.Path, d.Files)
	}
	log.Println("STARTUP: recovered", len(descriptors), "ready chunks from", dataDir)

	source := o.source
	if source == nil {
		if o.rateLimit > 0 {
			blobsource.SetBandwidthLimit(o.rateLimit, o.packetSize)
		}
		source = blobsource.NewHTTPBlobSource(o.dialTimeout)
	}

	exec := executor.New(o.concurrency, log)

	m := &Manager{
		layout: lay,
		source: source,
		cat:    cat,
		exec:   exec,
		log:    log,
		ownLog: ownLog,
	}
	return m, nil
}

func closeIfOwned(log *persist.Logger, owned bool) {
	if owned && log != nil {
		log.Close()
	}
}

// ListChunks returns the ids of every chunk currently Ready.
func (m *Manager) ListChunks() []datamanager.ChunkId {
	return m.cat.List()
}

// Stats returns a point-in-time summary of catalogue and executor state,
// used by the operator CLI's debug surface.
func (m *Manager) Stats() (catalogue.Stats, executor.Stats) {
	return m.cat.Stats(), m.exec.Stats()
}

// Snapshot returns a deterministic encoding of the catalogue's durable
// state, for diagnostics.
func (m *Manager) Snapshot() []byte {
	return m.cat.Snapshot()
}

// Close cancels every in-flight task, waits for their callbacks to finish,
// and releases the layout's durable purge queue. After Close returns, no
// method on Manager may be called.
func (m *Manager) Close() error {
	if err := m.tg.Stop(); err != nil {
		m.log.Println("WARN: manager shutdown did not complete cleanly", err)
	}
	execErr := m.exec.Close()
	layoutErr := m.layout.Close()
	var logErr error
	if m.ownLog {
		logErr = m.log.Close()
	}
	return errors.Compose(execErr, layoutErr, logErr)
}
