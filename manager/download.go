package manager

import (
	"context"
	"sort"

	"gitlab.com/NebulousLabs/errors"

	datamanager "github.com/skecskes/data-manager"
	"github.com/skecskes/data-manager/blobsource"
	"github.com/skecskes/data-manager/executor"
)

// DownloadChunk begins materializing chunk locally. It validates the
// command synchronously and returns immediately after scheduling the
// background fetch; completion (success, failure or cancellation) is only
// observable later via ListChunks/FindChunk. A chunk id already known in
// any state makes this call an idempotent no-op, per spec §4.5's command
// semantics — the caller cannot distinguish "already downloading" from
// "already ready" without a separate find_chunk call, which is intentional.
func (m *Manager) DownloadChunk(chunk datamanager.DataChunk) error {
	if err := chunk.Validate(); err != nil {
		return errors.AddContext(err, "invalid download_chunk command")
	}
	if err := m.tg.Add(); err != nil {
		return errors.AddContext(err, "manager is shutting down")
	}
	defer m.tg.Done()

	if err := m.cat.InsertDownloading(chunk.ID, chunk.DatasetID, chunk.Lo, chunk.Hi); err != nil {
		// Already present in some state: treat as a no-op success.
		return nil
	}

	work := m.downloadWork(chunk)
	callback := m.downloadCallback(chunk)
	if err := m.exec.Submit(chunk.ID, work, callback); err != nil {
		m.cat.RemoveDownloading(chunk.ID)
		return errors.AddContext(err, "could not schedule download")
	}
	return nil
}

// downloadWork returns the Work closure that fetches every one of chunk's
// files into staging and commits it to its canonical path.
func (m *Manager) downloadWork(chunk datamanager.DataChunk) executor.Work {
	return func(ctx context.Context) (executor.Result, error) {
		stagingPath, err := m.layout.PrepareStaging(chunk.ID)
		if err != nil {
			return executor.Failed, errors.AddContext(err, "could not prepare staging")
		}

		names := sortedFilenames(chunk.Files)
		for _, name := range names {
			select {
			case <-ctx.Done():
				return executor.Cancelled, nil
			default:
			}
			result, reason := m.source.Fetch(ctx, name, chunk.Files[name], stagingPath)
			switch result {
			case blobsource.Ok:
				continue
			case blobsource.Cancelled:
				return executor.Cancelled, nil
			default:
				return executor.Failed, errors.New("fetch of " + name + " failed: " + reason)
			}
		}

		// Every file is fetched at this point, but a delete may have been
		// requested while the last Fetch was in flight: Commit and MarkReady
		// are the point of no return (BeginDelete's CancelTask branch has no
		// further chance to observe this task), so ctx must be checked one
		// last time immediately before crossing it.
		select {
		case <-ctx.Done():
			return executor.Cancelled, nil
		default:
		}

		canonicalPath, err := m.layout.Commit(chunk)
		if err != nil {
			return executor.Failed, errors.AddContext(err, "could not commit chunk")
		}
		m.cat.MarkReady(chunk.ID, canonicalPath, names)
		return executor.Completed, nil
	}
}

// downloadCallback cleans up staging and the Downloading record whenever
// the task did not end in MarkReady having already been called.
func (m *Manager) downloadCallback(chunk datamanager.DataChunk) executor.Callback {
	return func(result executor.Result, err error) {
		if result == executor.Completed && err == nil {
			return
		}
		if abandonErr := m.layout.AbandonStaging(chunk.ID); abandonErr != nil {
			m.log.Println("WARN: could not abandon staging for", chunk.ID, abandonErr)
		}
		m.cat.RemoveDownloading(chunk.ID)
		if result == executor.Failed {
			m.log.Println("ERROR: download of chunk", chunk.ID, "failed:", err)
		}
	}
}

func sortedFilenames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
