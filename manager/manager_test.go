package manager

import (
	"os"
	"testing"
	"time"

	"gitlab.com/NebulousLabs/fastrand"

	datamanager "github.com/skecskes/data-manager"
	"github.com/skecskes/data-manager/blobsource"
)

func testChunkID() datamanager.ChunkId {
	var id datamanager.ChunkId
	copy(id[:], fastrand.Bytes(32))
	return id
}

func testDatasetID() datamanager.DatasetId {
	var id datamanager.DatasetId
	copy(id[:], fastrand.Bytes(32))
	return id
}

func testChunk(dataset datamanager.DatasetId, lo, hi uint64) (datamanager.DataChunk, *blobsource.FakeSource) {
	src := blobsource.NewFakeSource()
	chunk := datamanager.DataChunk{
		ID: testChunkID(), DatasetID: dataset, Lo: lo, Hi: hi,
		Files: map[string]string{"a.bin": "fake://a", "b.bin": "fake://b"},
	}
	src.Contents["fake://a"] = []byte("alpha")
	src.Contents["fake://b"] = []byte("beta")
	return chunk, src
}

func waitForReady(t *testing.T, m *Manager, id datamanager.ChunkId) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ready := range m.ListChunks() {
			if ready == id {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("chunk %v did not become ready in time", id)
}

func TestDownloadChunkBecomesFindable(t *testing.T) {
	chunk, src := testChunk(testDatasetID(), 0, 100)
	m, err := New(t.TempDir(), WithBlobSource(src), WithConcurrency(2))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.DownloadChunk(chunk); err != nil {
		t.Fatal(err)
	}
	waitForReady(t, m, chunk.ID)

	ref, ok := m.FindChunk(chunk.DatasetID, 50)
	if !ok {
		t.Fatal("expected to find the downloaded chunk")
	}
	defer ref.Release()
	if ref.ID() != chunk.ID {
		t.Fatalf("found wrong chunk: %v", ref.ID())
	}
}

func TestDownloadChunkRejectsInvalidCommand(t *testing.T) {
	m, err := New(t.TempDir(), WithBlobSource(blobsource.NewFakeSource()))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	bad := datamanager.DataChunk{ID: testChunkID(), DatasetID: testDatasetID(), Lo: 10, Hi: 5}
	if err := m.DownloadChunk(bad); err == nil {
		t.Fatal("expected a validation error for lo >= hi")
	}
}

func TestDownloadChunkIsIdempotent(t *testing.T) {
	chunk, src := testChunk(testDatasetID(), 0, 100)
	m, err := New(t.TempDir(), WithBlobSource(src))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.DownloadChunk(chunk); err != nil {
		t.Fatal(err)
	}
	if err := m.DownloadChunk(chunk); err != nil {
		t.Fatal("a repeat download_chunk call must be a no-op, not an error:", err)
	}
	waitForReady(t, m, chunk.ID)
}

func TestDeleteChunkRemovesUnpinnedReadyChunk(t *testing.T) {
	chunk, src := testChunk(testDatasetID(), 0, 100)
	m, err := New(t.TempDir(), WithBlobSource(src))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.DownloadChunk(chunk); err != nil {
		t.Fatal(err)
	}
	waitForReady(t, m, chunk.ID)

	m.DeleteChunk(chunk.ID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.FindChunk(chunk.DatasetID, 50); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("deleted chunk should no longer be findable")
}

// TestDeleteDuringInFlightDownloadNeverLeavesChunkReady is scenario S4: a
// download_chunk is immediately followed by a delete_chunk for the same id
// while the Blob Source is still blocked mid-fetch. Once both commands have
// quiesced, the chunk must be absent from ListChunks and its staging
// directory must be gone — no window may let the task commit and mark the
// chunk Ready after a delete was already requested against it.
func TestDeleteDuringInFlightDownloadNeverLeavesChunkReady(t *testing.T) {
	dataset := testDatasetID()
	chunk, src := testChunk(dataset, 0, 100)
	src.Block["fake://a"] = true

	m, err := New(t.TempDir(), WithBlobSource(src))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.DownloadChunk(chunk); err != nil {
		t.Fatal(err)
	}
	m.DeleteChunk(chunk.ID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		present := false
		for _, id := range m.ListChunks() {
			if id == chunk.ID {
				present = true
			}
		}
		if !present {
			if _, err := os.Stat(m.layout.StagingPath(chunk.ID)); os.IsNotExist(err) {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("chunk superseded by an in-flight delete must never become ready, and its staging directory must be cleared")
}

// TestDeleteChunkDefersUntilPinReleased exercises the pinned-deletion path:
// a chunk held by an outstanding DataChunkRef survives DeleteChunk until
// Release is called.
func TestDeleteChunkDefersUntilPinReleased(t *testing.T) {
	chunk, src := testChunk(testDatasetID(), 0, 100)
	m, err := New(t.TempDir(), WithBlobSource(src))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.DownloadChunk(chunk); err != nil {
		t.Fatal(err)
	}
	waitForReady(t, m, chunk.ID)

	ref, ok := m.FindChunk(chunk.DatasetID, 50)
	if !ok {
		t.Fatal("expected to find chunk")
	}

	m.DeleteChunk(chunk.ID)
	// Still pinned: must not be resolvable by a fresh find, but the path
	// held by ref must remain valid until Release.
	if _, ok := m.FindChunk(chunk.DatasetID, 50); ok {
		t.Fatal("a pending-delete chunk must not resolve new finds")
	}
	path := ref.Path()
	if _, err := os.Stat(path); err != nil {
		t.Fatal("a pinned chunk's directory must survive DeleteChunk until Release:", err)
	}

	ref.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("the chunk's directory should be entombed once its last pin is released")
	}
}

// TestRestartRecoversReadyChunksWithoutRedownload verifies that reopening
// a Manager over the same data directory recovers Ready chunks purely from
// the filesystem, without re-invoking the Blob Source.
func TestRestartRecoversReadyChunksWithoutRedownload(t *testing.T) {
	dir := t.TempDir()
	chunk, src := testChunk(testDatasetID(), 0, 100)

	m1, err := New(dir, WithBlobSource(src))
	if err != nil {
		t.Fatal(err)
	}
	if err := m1.DownloadChunk(chunk); err != nil {
		t.Fatal(err)
	}
	waitForReady(t, m1, chunk.ID)
	m1.Close()

	freshSrc := blobsource.NewFakeSource()
	m2, err := New(dir, WithBlobSource(freshSrc))
	if err != nil {
		t.Fatal("reopening the manager over a populated data dir failed:", err)
	}
	defer m2.Close()

	ref, ok := m2.FindChunk(chunk.DatasetID, 50)
	if !ok {
		t.Fatal("expected the recovered chunk to be findable after restart")
	}
	ref.Release()
	if len(freshSrc.Calls) != 0 {
		t.Fatal("recovery must not re-invoke the blob source")
	}
}
