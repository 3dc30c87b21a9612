package blobsource

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// FakeSource is an in-memory Source for tests: it serves fixed byte
// contents keyed by url, optionally blocking until ctx is done or a
// failure is injected, mirroring the dependency-injection fakes the test
// suites in this codebase's lineage use in place of real network I/O.
type FakeSource struct {
	mu       sync.Mutex
	Contents map[string][]byte
	// FailURLs causes Fetch to report Failed for the named urls.
	FailURLs map[string]bool
	// Block, when set, causes Fetch to wait for ctx to finish before
	// returning Cancelled, used to test in-flight cancellation.
	Block map[string]bool

	Calls []string
}

// NewFakeSource returns an empty FakeSource ready to be configured by the
// caller.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		Contents: make(map[string][]byte),
		FailURLs: make(map[string]bool),
		Block:    make(map[string]bool),
	}
}

// Fetch implements Source.
func (f *FakeSource) Fetch(ctx context.Context, filename, url, destDir string) (Result, string) {
	f.mu.Lock()
	f.Calls = append(f.Calls, url)
	block := f.Block[url]
	fail := f.FailURLs[url]
	data := f.Contents[url]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return Cancelled, ""
	}
	if fail {
		return Failed, "injected failure for " + url
	}
	select {
	case <-ctx.Done():
		return Cancelled, ""
	default:
	}
	if err := os.WriteFile(filepath.Join(destDir, filename), data, 0600); err != nil {
		return Failed, err.Error()
	}
	return Ok, ""
}
