package layout

import (
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/NebulousLabs/fastrand"

	datamanager "github.com/skecskes/data-manager"
	"github.com/skecskes/data-manager/internal/persist"
)

func testID() datamanager.ChunkId {
	var id datamanager.ChunkId
	copy(id[:], fastrand.Bytes(32))
	return id
}

func testLayout(t *testing.T) *Layout {
	t.Helper()
	dir := t.TempDir()
	log, err := persist.NewLogger(filepath.Join(dir, "log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	l, err := New(dir, log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		l.Close()
		log.Close()
	})
	return l
}

// TestCommitMakesChunkReadyAndScannable verifies the atomic staging ->
// canonical rename and that Scan recovers exactly what Commit wrote.
func TestCommitMakesChunkReadyAndScannable(t *testing.T) {
	l := testLayout(t)

	var datasetID datamanager.DatasetId
	copy(datasetID[:], fastrand.Bytes(32))
	chunk := datamanager.DataChunk{
		ID: testID(), DatasetID: datasetID, Lo: 0, Hi: 100,
		Files: map[string]string{"a.bin": "http://x"},
	}

	stagingPath, err := l.PrepareStaging(chunk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stagingPath, "a.bin"), []byte("data"), 0600); err != nil {
		t.Fatal(err)
	}

	canonicalPath, err := l.Commit(chunk)
	if err != nil {
		t.Fatal("commit failed:", err)
	}
	if _, err := os.Stat(canonicalPath); err != nil {
		t.Fatal("canonical directory missing after commit:", err)
	}
	if _, err := os.Stat(stagingPath); !os.IsNotExist(err) {
		t.Fatal("staging directory should no longer exist after commit")
	}

	descriptors, err := l.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(descriptors) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(descriptors))
	}
	d := descriptors[0]
	if d.ID != chunk.ID || d.DatasetID != datasetID || d.Lo != 0 || d.Hi != 100 {
		t.Fatalf("descriptor mismatch: %+v", d)
	}
	if len(d.Files) != 1 || d.Files[0] != "a.bin" {
		t.Fatalf("descriptor files mismatch: %+v", d.Files)
	}
}

// TestScanIgnoresIncompleteAndMalformedDirectories exercises the crash
// recovery invariant: a canonical directory only counts once the rename
// that creates it has completed, and malformed names never surface.
func TestScanIgnoresIncompleteAndMalformedDirectories(t *testing.T) {
	l := testLayout(t)

	var datasetID datamanager.DatasetId
	copy(datasetID[:], fastrand.Bytes(32))
	datasetDir := filepath.Join(l.Root(), datasetID.String())
	if err := os.MkdirAll(datasetDir, 0700); err != nil {
		t.Fatal(err)
	}

	// Malformed name: not matching lo-hi-id.
	if err := os.MkdirAll(filepath.Join(datasetDir, "not-a-chunk-dir"), 0700); err != nil {
		t.Fatal(err)
	}
	// Well-formed name but empty directory: treated as if the rename never
	// finished writing contents (Scan requires non-empty).
	emptyName := "0-10-" + testID().String()
	if err := os.MkdirAll(filepath.Join(datasetDir, emptyName), 0700); err != nil {
		t.Fatal(err)
	}

	descriptors, err := l.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(descriptors) != 0 {
		t.Fatalf("expected no descriptors from malformed/empty directories, got %d", len(descriptors))
	}
}

// TestEntombThenPurgeRemovesDirectory confirms the tombstone rename and
// eventual recursive removal.
func TestEntombThenPurgeRemovesDirectory(t *testing.T) {
	l := testLayout(t)

	id := testID()
	stagingPath, err := l.PrepareStaging(id)
	if err != nil {
		t.Fatal(err)
	}
	var datasetID datamanager.DatasetId
	copy(datasetID[:], fastrand.Bytes(32))
	chunk := datamanager.DataChunk{ID: id, DatasetID: datasetID, Lo: 0, Hi: 5, Files: map[string]string{"f": "u"}}
	if err := os.WriteFile(filepath.Join(stagingPath, "f"), nil, 0600); err != nil {
		t.Fatal(err)
	}
	canonicalPath, err := l.Commit(chunk)
	if err != nil {
		t.Fatal(err)
	}

	tombstonePath, err := l.Entomb(canonicalPath, id)
	if err != nil {
		t.Fatal("entomb failed:", err)
	}
	if _, err := os.Stat(canonicalPath); !os.IsNotExist(err) {
		t.Fatal("canonical path should be gone after entomb")
	}
	descriptors, _ := l.Scan()
	if len(descriptors) != 0 {
		t.Fatal("entombed chunk must not be visible to Scan")
	}

	if err := l.Purge(tombstonePath); err != nil {
		t.Fatal("purge failed:", err)
	}
	if _, err := os.Stat(tombstonePath); !os.IsNotExist(err) {
		t.Fatal("tombstone directory should be removed after purge")
	}
}

// TestPurgeQueueResumesAfterCrash simulates a crash between Entomb and
// Purge by reopening the Layout over the same root without calling Purge,
// and checks that the pending tombstone is swept by the purge queue replay.
func TestPurgeQueueResumesAfterCrash(t *testing.T) {
	dir := t.TempDir()
	log, err := persist.NewLogger(filepath.Join(dir, "log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	l1, err := New(dir, log)
	if err != nil {
		t.Fatal(err)
	}
	id := testID()
	stagingPath, err := l1.PrepareStaging(id)
	if err != nil {
		t.Fatal(err)
	}
	var datasetID datamanager.DatasetId
	copy(datasetID[:], fastrand.Bytes(32))
	chunk := datamanager.DataChunk{ID: id, DatasetID: datasetID, Lo: 0, Hi: 5, Files: map[string]string{"f": "u"}}
	os.WriteFile(filepath.Join(stagingPath, "f"), nil, 0600)
	canonicalPath, err := l1.Commit(chunk)
	if err != nil {
		t.Fatal(err)
	}
	tombstonePath, err := l1.Entomb(canonicalPath, id)
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a crash: close without purging.
	l1.Close()

	l2, err := New(dir, log)
	if err != nil {
		t.Fatal("reopen after simulated crash failed:", err)
	}
	defer l2.Close()
	if _, err := os.Stat(tombstonePath); !os.IsNotExist(err) {
		t.Fatal("purge queue replay should have removed the orphaned tombstone")
	}
}
